package engine

// Intrabar path simulator: walks each RTH bar's synthetic path against the day's levels

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	rescanEpsilon = 0.01
	roundStep     = 100.0

	// Every pass fills or exits strictly ahead of the cursor, so a segment settles long before this.
	maxSegmentPasses = 1 << 12
)

// dayState is the per-day mutable level book
type dayState struct {
	date         string
	levels       []*Level
	vwap         *Level
	lockedRounds map[float64]bool
	sessHigh     float64
	sessLow      float64
	orHigh       float64
	orLow        float64
	hasOR        bool
}

type candidate struct {
	trigger float64
	dir     Direction
	level   *Level
}

// Simulator owns the single open position and the trade list of a run
type Simulator struct {
	cfg       *Config
	acct      Accountant
	pos       *Position
	trades    []Trade
	nextID    int
	events    *EventLog
	forensics *ForensicsEngine
	logger    *zap.Logger
}

func NewSimulator(cfg *Config, events *EventLog, forensics *ForensicsEngine, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:       cfg,
		acct:      NewAccountant(*cfg),
		trades:    make([]Trade, 0),
		events:    events,
		forensics: forensics,
		logger:    logger,
	}
}

// Trades returns the closed trades in construction order
func (s *Simulator) Trades() []Trade { return s.trades }

// Position returns the open position, if any
func (s *Simulator) Position() *Position { return s.pos }

// RunDay simulates the RTH bars of one day against levels.
// A position still open after the last bar is flattened at that bar's close.
func (s *Simulator) RunDay(date string, rth []Bar, levels []*Level) {
	d := &dayState{
		date:         date,
		levels:       levels,
		lockedRounds: make(map[float64]bool),
		sessHigh:     math.Inf(-1),
		sessLow:      math.Inf(1),
	}
	if s.cfg.OpeningRangeFilter {
		d.orHigh, d.orLow, d.hasOR = openingRange(rth)
	}

	for _, bar := range rth {
		if s.pos != nil && MinuteOfDay(bar.Time) >= forcedExitMinute {
			s.settle(bar.Time, bar.Open, StatusForcedClose)
		}

		path := BuildSyntheticPath(bar)
		if s.pos != nil {
			s.forensics.RecordPath(s.pos.ID, path)
		}
		for i := 0; i < len(path)-1; i++ {
			s.walkSegment(d, bar, path[i], path[i+1])
		}
	}

	if s.pos != nil && len(rth) > 0 {
		last := rth[len(rth)-1]
		s.settle(last.Time, last.Close, StatusForcedClose)
	}
}

// walkSegment runs the rescan loop over one path segment with a moving price cursor
func (s *Simulator) walkSegment(d *dayState, bar Bar, from, to float64) {
	if s.cfg.DynamicDayTracking {
		s.trackExtremes(d, from)
	}
	if s.cfg.DistanceReset {
		s.unlockDistant(d, from, bar.Time)
	}

	cursor := from
	for pass := 0; pass < maxSegmentPasses; pass++ {
		if s.pos != nil {
			exit, ok := s.checkExit(d, bar, cursor, to)
			if !ok {
				return
			}
			if math.Abs(exit-to) > rescanEpsilon {
				cursor = exit
				continue
			}
			// exit at the segment end: entries are still checked from the unchanged cursor
		}

		if MinuteOfDay(bar.Time) >= entryCutoffMinute {
			return
		}
		fill, ok := s.checkEntry(d, bar, cursor, to)
		if !ok {
			return
		}
		cursor = fill
	}
	s.logger.Warn("Segment rescan bound reached",
		zap.String("date", d.date),
		zap.Time("bar", bar.Time),
		zap.Float64("from", from),
		zap.Float64("to", to),
	)
}

func (s *Simulator) trackExtremes(d *dayState, price float64) {
	if price > d.sessHigh {
		d.sessHigh = price
		if s.cfg.DynamicDayHighLow {
			d.upsert(TagDayHigh, price, DirectionShort)
		}
	}
	if price < d.sessLow {
		d.sessLow = price
		if s.cfg.DynamicDayHighLow {
			d.upsert(TagDayLow, price, DirectionLong)
		}
	}
}

func (d *dayState) upsert(tag LevelTag, price float64, fade Direction) {
	for _, l := range d.levels {
		if l.Tag == tag {
			l.Price = price
			l.Active = true
			return
		}
	}
	d.levels = append(d.levels, newLevel(tag, price, fade))
}

func (s *Simulator) unlockDistant(d *dayState, price float64, at time.Time) {
	threshold := s.cfg.DistanceResetThresholdPts
	for _, l := range d.levels {
		if l.Locked && math.Abs(price-l.Price) >= threshold {
			l.Locked = false
			s.events.Append(Event{Time: at, Type: EventLevelUnlocked, Level: l.Tag, Price: l.Price})
		}
	}
	for p := range d.lockedRounds {
		if math.Abs(price-p) >= threshold {
			delete(d.lockedRounds, p)
			s.events.Append(Event{Time: at, Type: EventLevelUnlocked, Level: TagRound, Price: p})
		}
	}
}

// checkExit evaluates the open position over cursor -> to and returns the exit price on a fill
func (s *Simulator) checkExit(d *dayState, bar Bar, from, to float64) (float64, bool) {
	pos := s.pos
	lo, hi := segmentRange(from, to)
	pos.updateExcursion(lo, hi)

	var touch FirstTouchResult
	var price float64
	if pos.Direction == DirectionLong {
		touch, price = ResolveFirstTouchLong(from, to, pos.Target, pos.Stop)
	} else {
		touch, price = ResolveFirstTouchShort(from, to, pos.Target, pos.Stop)
	}
	if touch == TouchNone {
		return 0, false
	}

	status := StatusWin
	if touch == TouchSL {
		status = StatusLoss
	}
	s.settle(bar.Time, price, status)
	if status == StatusLoss {
		s.retireLevel(d, pos, bar.Time)
	}
	return price, true
}

// retireLevel locks a reusable level or burns a one-shot level after a stop-out
func (s *Simulator) retireLevel(d *dayState, pos *Position, at time.Time) {
	lvl := pos.level
	if s.cfg.DistanceReset && lvl.Tag.Reusable() {
		if lvl.Tag == TagRound {
			d.lockedRounds[lvl.Price] = true
		} else {
			lvl.Locked = true
		}
		s.events.Append(Event{Time: at, Type: EventLevelLocked, Level: lvl.Tag, Price: lvl.Price})
	}
	if lvl.Tag.OneShot() && lvl.Active {
		lvl.Active = false
		s.events.Append(Event{Time: at, Type: EventLevelBurned, Level: lvl.Tag, Price: lvl.Price})
	}
}

// checkEntry looks for the nearest trigger crossed by cursor -> to and opens a position on it
func (s *Simulator) checkEntry(d *dayState, bar Bar, from, to float64) (float64, bool) {
	active := s.activeLevels(d, bar, from, to)
	cands := s.candidates(active, from, to)
	if len(cands) == 0 {
		return 0, false
	}
	rising := from < to
	sort.SliceStable(cands, func(i, j int) bool {
		if rising {
			return cands[i].trigger < cands[j].trigger
		}
		return cands[i].trigger > cands[j].trigger
	})
	s.logCandidates(bar.Time, cands)

	hit := cands[0]
	if hit.level.Locked {
		s.events.Append(Event{Time: bar.Time, Type: EventSkippedLocked, Level: hit.level.Tag, Price: hit.trigger})
		return 0, false
	}
	if s.cfg.OpeningRangeFilter && d.hasOR && MinuteOfDay(bar.Time) >= openingRangeEndMinute {
		if (hit.dir == DirectionShort && hit.trigger > d.orHigh) || (hit.dir == DirectionLong && hit.trigger < d.orLow) {
			s.events.Append(Event{Time: bar.Time, Type: EventFilteredOpeningRange, Level: hit.level.Tag, Price: hit.trigger,
				Message: fmt.Sprintf("%s outside opening range %.2f-%.2f", hit.dir, d.orLow, d.orHigh)})
			return 0, false
		}
	}

	stopDist, targetDist := s.cfg.DefaultStopPts, s.cfg.DefaultTargetPts
	if s.cfg.DynamicTarget {
		if dist, ok := nearestAhead(active, hit); ok {
			targetDist = dist
		}
	}
	if o := hit.level.Overrides; o != nil {
		stopDist, targetDist = o.StopDistance, o.TargetDistance
	}

	s.nextID++
	s.pos = openPosition(s.nextID, hit.dir, hit.trigger, stopDist, targetDist, hit.level, bar.Time)
	s.forensics.StartReplay(s.pos.ID, hit.level.Tag, bar.Time)
	s.forensics.RecordPath(s.pos.ID, BuildSyntheticPath(bar))
	s.events.Append(Event{Time: bar.Time, Type: EventEntry, Level: hit.level.Tag, Price: hit.trigger,
		Message: fmt.Sprintf("%s sl=%.2f tp=%.2f", hit.dir, s.pos.Stop, s.pos.Target)})

	if hit.level.Tag == TagSinglePrint {
		hit.level.Active = false
		s.events.Append(Event{Time: bar.Time, Type: EventLevelBurned, Level: hit.level.Tag, Price: hit.level.Price})
	}
	return hit.trigger, true
}

// activeLevels returns the tradable levels for a segment, including VWAP and ephemeral round numbers
func (s *Simulator) activeLevels(d *dayState, bar Bar, from, to float64) []*Level {
	if s.cfg.VWAP && bar.HasVWAP && bar.VWAP != 0 {
		if d.vwap == nil {
			d.vwap = newLevel(TagVWAP, bar.VWAP, DirectionBoth)
			d.levels = append(d.levels, d.vwap)
		}
		d.vwap.Price = bar.VWAP
		d.vwap.Active = true
	}

	active := make([]*Level, 0, len(d.levels)+2)
	for _, l := range d.levels {
		if l.Active {
			active = append(active, l)
		}
	}

	if s.cfg.RoundNumbers {
		lo, hi := segmentRange(from, to)
		for r := math.Ceil(lo/roundStep) * roundStep; r <= hi; r += roundStep {
			lvl := newLevel(TagRound, r, DirectionBoth)
			lvl.Locked = d.lockedRounds[r]
			active = append(active, lvl)
		}
	}
	return active
}

func (s *Simulator) candidates(active []*Level, from, to float64) []candidate {
	var out []candidate
	for _, l := range active {
		off := l.entryOffset(s.cfg.DefaultEntryOffsetPts)
		shortLine, longLine := l.Price-off, l.Price+off
		switch l.Fade {
		case DirectionBoth:
			for _, line := range [2]float64{shortLine, longLine} {
				if crossesUp(from, to, line) {
					out = append(out, candidate{trigger: line, dir: DirectionShort, level: l})
				}
				if crossesDown(from, to, line) {
					out = append(out, candidate{trigger: line, dir: DirectionLong, level: l})
				}
			}
		case DirectionShort:
			if crossesUp(from, to, shortLine) {
				out = append(out, candidate{trigger: shortLine, dir: DirectionShort, level: l})
			}
		case DirectionLong:
			if crossesDown(from, to, longLine) {
				out = append(out, candidate{trigger: longLine, dir: DirectionLong, level: l})
			}
		}
	}
	return out
}

// nearestAhead returns the distance from the fill to the closest level of another tag in the trade direction.
// Levels sharing the hit's tag (other rounds, other gaps) never serve as its target.
func nearestAhead(active []*Level, hit candidate) (float64, bool) {
	best := math.Inf(1)
	for _, l := range active {
		if l.Tag == hit.level.Tag {
			continue
		}
		dist := math.Inf(1)
		if hit.dir == DirectionLong && l.Price > hit.trigger {
			dist = l.Price - hit.trigger
		} else if hit.dir == DirectionShort && l.Price < hit.trigger {
			dist = hit.trigger - l.Price
		}
		if dist > 0 && dist < best {
			best = dist
		}
	}
	return best, !math.IsInf(best, 1)
}

func (s *Simulator) settle(at time.Time, price float64, status ExitStatus) {
	trade := s.acct.Settle(s.pos, price, status, at)
	s.trades = append(s.trades, trade)
	s.forensics.CompleteReplay(trade.ID, at, status)

	typ := EventExit
	if status == StatusForcedClose {
		typ = EventForcedExit
	}
	s.events.Append(Event{Time: at, Type: typ, Level: trade.LevelTag, Price: price,
		Message: fmt.Sprintf("%s %s pnl=%.2f pts", trade.Direction, status, trade.PnLPoints)})
	s.logger.Debug("Closed trade",
		zap.Int("trade_id", trade.ID),
		zap.String("level", string(trade.LevelTag)),
		zap.String("direction", trade.Direction.String()),
		zap.Float64("entry", trade.EntryPrice),
		zap.Float64("exit", trade.ExitPrice),
		zap.String("status", status.String()),
		zap.String("pnl", trade.PnL.StringFixed(2)),
	)
	s.pos = nil
}

func (s *Simulator) logCandidates(at time.Time, cands []candidate) {
	if s.events == nil {
		return
	}
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%s @ %.2f (Lvl: %s)", c.dir, c.trigger, c.level.Tag)
	}
	s.events.Append(Event{Time: at, Type: EventCandidates, Message: "Potentials: " + strings.Join(parts, ", ")})
}

func (s *Simulator) reset() {
	s.pos = nil
	s.trades = make([]Trade, 0)
	s.nextID = 0
}
