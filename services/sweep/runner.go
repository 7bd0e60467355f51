package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fade-backtest/services/engine"
	"fade-backtest/services/report"
)

// Result is the outcome of one combination
type Result struct {
	Combo
	ConfigHash string              `json:"config_hash"`
	Summary    report.TradeSummary `json:"summary"`
	Trades     []engine.Trade      `json:"-"`
	Duration   time.Duration       `json:"duration_ns"`
}

// Observer is told about every finished run
type Observer interface {
	ObserveRun(kind string, d time.Duration, trades []engine.Trade, err error)
}

type Runner struct {
	planner  *Planner
	logger   *zap.Logger
	observer Observer
}

func NewRunner(planner *Planner, logger *zap.Logger, observer Observer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{planner: planner, logger: logger, observer: observer}
}

// Run executes every combination over bars and returns results ranked by net PnL.
// Ties keep plan order.
func (r *Runner) Run(ctx context.Context, base engine.Config, grid Grid, bars []engine.Bar) ([]Result, error) {
	combos, err := r.planner.Plan(base, grid)
	if err != nil {
		return nil, err
	}
	for _, c := range combos {
		if err := c.Config.Validate(); err != nil {
			return nil, fmt.Errorf("combo %d: %w", c.Index, err)
		}
	}

	numWorkers := runtime.NumCPU()
	if r.planner.MaxWorkers > 0 {
		numWorkers = r.planner.MaxWorkers
	}
	numWorkers = min(numWorkers, len(combos))

	r.logger.Info("Starting sweep",
		zap.Int("combos", len(combos)),
		zap.Int("workers", numWorkers),
		zap.Int("bars", len(bars)),
	)

	comboChan := make(chan Combo, len(combos))
	resultChan := make(chan Result, len(combos))
	errorChan := make(chan error, len(combos))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go r.worker(ctx, i, bars, comboChan, resultChan, errorChan, &wg)
	}

	for _, c := range combos {
		comboChan <- c
	}
	close(comboChan)

	wg.Wait()
	close(resultChan)
	close(errorChan)

	var errs []error
	for err := range errorChan {
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep cancelled: %w", err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("sweep failed: %w", errors.Join(errs...))
	}

	results := make([]Result, 0, len(combos))
	for res := range resultChan {
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if c := results[i].Summary.NetPnL.Cmp(results[j].Summary.NetPnL); c != 0 {
			return c > 0
		}
		return results[i].Index < results[j].Index
	})

	r.logger.Info("Sweep completed", zap.Int("results", len(results)))
	return results, nil
}

func (r *Runner) worker(
	ctx context.Context,
	workerID int,
	bars []engine.Bar,
	comboChan <-chan Combo,
	resultChan chan<- Result,
	errorChan chan<- error,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for combo := range comboChan {
		if ctx.Err() != nil {
			return
		}
		r.logger.Debug("Worker processing combo",
			zap.Int("worker_id", workerID),
			zap.String("run_id", combo.RunID),
			zap.Float64("stop", combo.StopPts),
			zap.Float64("target", combo.TargetPts),
			zap.Float64("offset", combo.OffsetPts),
		)

		start := time.Now()
		res, err := r.runCombo(ctx, combo, bars)
		if r.observer != nil {
			r.observer.ObserveRun("sweep", time.Since(start), res.Trades, err)
		}
		if err != nil {
			errorChan <- fmt.Errorf("combo %d (%s): %w", combo.Index, combo.RunID, err)
			continue
		}
		res.Duration = time.Since(start)
		resultChan <- res
	}
}

func (r *Runner) runCombo(ctx context.Context, combo Combo, bars []engine.Bar) (Result, error) {
	eng, err := engine.New(combo.Config)
	if err != nil {
		return Result{}, err
	}
	trades, err := eng.Run(ctx, bars)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Combo:      combo,
		ConfigHash: combo.Config.Hash(),
		Summary:    report.GenerateSummary(trades),
		Trades:     trades,
	}, nil
}
