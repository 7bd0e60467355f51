package engine

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
)

// Engine runs one level-fade backtest at a time. It owns the carried session state,
// both repositories, the level generator and the simulator; nothing is shared between engines.
type Engine struct {
	cfg    Config
	loc    *time.Location
	logger *zap.Logger

	events    *EventLog
	forensics *ForensicsEngine

	state        SessionState
	gaps         *GapRepository
	singlePrints *SinglePrintRepository
	generator    *LevelGenerator
	sim          *Simulator
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEventLog attaches a decision log that receives every level, entry, exit and lock event
func WithEventLog(log *EventLog) Option {
	return func(e *Engine) { e.events = log }
}

// WithForensics records a replay for every trade
func WithForensics(fe *ForensicsEngine) Option {
	return func(e *Engine) { e.forensics = fe }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, cfg.Timezone, err)
	}

	e := &Engine{
		cfg:          cfg,
		loc:          loc,
		logger:       zap.NewNop(),
		gaps:         &GapRepository{},
		singlePrints: &SinglePrintRepository{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.generator = &LevelGenerator{
		cfg:          &e.cfg,
		gaps:         e.gaps,
		singlePrints: e.singlePrints,
		events:       e.events,
		logger:       e.logger,
	}
	e.sim = NewSimulator(&e.cfg, e.events, e.forensics, e.logger)
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Gaps returns the gaps still open after the last run
func (e *Engine) Gaps() []Gap { return e.gaps.Gaps() }

// Run backtests an ascending, de-duplicated bar feed and returns the trades in construction order.
// Each call starts from a clean state. Cancellation is honoured between days.
func (e *Engine) Run(ctx context.Context, bars []Bar) ([]Trade, error) {
	e.reset()
	if len(bars) == 0 {
		return e.sim.Trades(), nil
	}

	feed := localize(bars, e.loc)
	days := SplitSessions(feed)
	e.logger.Info("Starting backtest",
		zap.Int("bars", len(feed)),
		zap.Int("days", len(days)),
		zap.String("config_hash", e.cfg.Hash()),
	)

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return e.sim.Trades(), fmt.Errorf("backtest cancelled at %s: %w", day.Date, err)
		}
		if len(day.RTH) == 0 {
			e.logger.Debug("Skipping day without regular session", zap.String("date", day.Date))
			continue
		}

		// The first session only seeds the carried state; nothing trades before a prior day exists.
		if e.state.HasPrevious {
			night := NightBars(feed, e.state.PrevCloseTime, day.RTH[0].Time)
			levels := e.generator.Generate(day.Date, night, e.state, day.RTH[0].Time)
			e.sim.RunDay(day.Date, day.RTH, levels)
		}
		e.closeSession(day)
	}

	trades := e.sim.Trades()
	e.logger.Info("Backtest complete",
		zap.Int("trades", len(trades)),
		zap.Int("open_gaps", len(e.gaps.Gaps())),
	)
	return trades, nil
}

// closeSession carries the day's regular session into the next day
func (e *Engine) closeSession(day SessionDay) {
	high, low := sessionRange(day.RTH)
	last := day.RTH[len(day.RTH)-1]
	e.state = SessionState{
		HasPrevious:   true,
		PrevHigh:      high,
		PrevLow:       low,
		PrevClose:     last.Close,
		PrevCloseTime: last.Time,
	}

	if e.cfg.Gaps {
		for _, gap := range e.gaps.DropFilled(high, low) {
			e.events.Append(Event{Time: last.Time, Type: EventGapFilled, Level: TagGap, Price: gap.Origin,
				Message: fmt.Sprintf("target %.2f touched by regular session", gap.Target)})
		}
	}
	if e.cfg.SinglePrints {
		e.singlePrints.Replace(DetectSinglePrints(day.RTH))
	}
}

func (e *Engine) reset() {
	e.state = SessionState{}
	e.gaps.reset()
	e.singlePrints.reset()
	e.sim.reset()
	e.forensics.reset()
	if e.events != nil {
		e.events.Events = nil
	}
}
