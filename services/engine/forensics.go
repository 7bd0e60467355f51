package engine

import "time"

// One-trade replay with the synthetic intrabar paths the trade lived through

type TradeReplay struct {
	TradeID   int          `json:"trade_id"`
	Level     LevelTag     `json:"level"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Paths     [][4]float64 `json:"intrabar_paths"`
	Outcome   ExitStatus   `json:"outcome"`
}

type ForensicsEngine struct {
	replays map[int]*TradeReplay
	order   []int
}

func NewForensicsEngine() *ForensicsEngine {
	return &ForensicsEngine{
		replays: make(map[int]*TradeReplay),
	}
}

func (fe *ForensicsEngine) StartReplay(tradeID int, level LevelTag, startTime time.Time) *TradeReplay {
	if fe == nil {
		return nil
	}
	replay := &TradeReplay{
		TradeID:   tradeID,
		Level:     level,
		StartTime: startTime,
	}
	fe.replays[tradeID] = replay
	fe.order = append(fe.order, tradeID)
	return replay
}

func (fe *ForensicsEngine) RecordPath(tradeID int, path [4]float64) {
	if fe == nil {
		return
	}
	if replay, exists := fe.replays[tradeID]; exists {
		replay.Paths = append(replay.Paths, path)
	}
}

func (fe *ForensicsEngine) CompleteReplay(tradeID int, endTime time.Time, outcome ExitStatus) *TradeReplay {
	if fe == nil {
		return nil
	}
	if replay, exists := fe.replays[tradeID]; exists {
		replay.EndTime = endTime
		replay.Outcome = outcome
		return replay
	}
	return nil
}

func (fe *ForensicsEngine) GetReplay(tradeID int) (*TradeReplay, bool) {
	replay, exists := fe.replays[tradeID]
	return replay, exists
}

// Replays returns all replays in trade order
func (fe *ForensicsEngine) Replays() []*TradeReplay {
	out := make([]*TradeReplay, 0, len(fe.order))
	for _, id := range fe.order {
		out = append(out, fe.replays[id])
	}
	return out
}

func (fe *ForensicsEngine) reset() {
	if fe == nil {
		return
	}
	fe.replays = make(map[int]*TradeReplay)
	fe.order = nil
}
