package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExitStatus is the outcome of a closed trade
type ExitStatus int

const (
	StatusWin ExitStatus = iota + 1
	StatusLoss
	StatusForcedClose
)

func (s ExitStatus) String() string {
	switch s {
	case StatusWin:
		return "Win"
	case StatusLoss:
		return "Loss"
	case StatusForcedClose:
		return "ForcedClose"
	default:
		return "Unknown"
	}
}

func (s ExitStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ExitStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Win":
		*s = StatusWin
	case "Loss":
		*s = StatusLoss
	case "ForcedClose":
		*s = StatusForcedClose
	default:
		return fmt.Errorf("unknown exit status %q", string(b))
	}
	return nil
}

// Position is the single open position of a run
type Position struct {
	ID           int
	Direction    Direction
	Entry        float64
	Stop         float64
	Target       float64
	LevelTag     LevelTag
	LevelPrice   float64
	EntryTime    time.Time
	MaxFavorable float64

	level *Level
}

func openPosition(id int, dir Direction, entry, stopDist, targetDist float64, lvl *Level, at time.Time) *Position {
	p := &Position{
		ID:         id,
		Direction:  dir,
		Entry:      entry,
		LevelTag:   lvl.Tag,
		LevelPrice: lvl.Price,
		EntryTime:  at,
		level:      lvl,
	}
	if dir == DirectionLong {
		p.Stop, p.Target = entry-stopDist, entry+targetDist
	} else {
		p.Stop, p.Target = entry+stopDist, entry-targetDist
	}
	return p
}

// updateExcursion records the best unrealized move seen over the range [lo, hi]
func (p *Position) updateExcursion(lo, hi float64) {
	if p.Direction == DirectionLong {
		p.MaxFavorable = max(p.MaxFavorable, hi-p.Entry)
		return
	}
	p.MaxFavorable = max(p.MaxFavorable, p.Entry-lo)
}

// PointsAt returns the directional price difference of exiting at price
func (p *Position) PointsAt(price float64) float64 {
	if p.Direction == DirectionLong {
		return price - p.Entry
	}
	return p.Entry - price
}

// CostBreakdown itemizes the currency figures of a trade
type CostBreakdown struct {
	Gross          decimal.Decimal `json:"gross"`
	Commission     decimal.Decimal `json:"commission"`
	Slippage       decimal.Decimal `json:"slippage"`
	SlippagePoints float64         `json:"slippage_points"`
}

// Trade represents a completed trade
type Trade struct {
	ID           int             `json:"id"`
	Date         string          `json:"date"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	Direction    Direction       `json:"direction"`
	LevelTag     LevelTag        `json:"level"`
	LevelPrice   float64         `json:"level_price"`
	EntryPrice   float64         `json:"entry_price"`
	ExitPrice    float64         `json:"exit_price"`
	PnLPoints    float64         `json:"pnl_points"`
	PnL          decimal.Decimal `json:"pnl"`
	MaxFavorable float64         `json:"mfe"`
	Status       ExitStatus      `json:"status"`
	Costs        CostBreakdown   `json:"costs"`
}
