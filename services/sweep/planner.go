// Package sweep runs independent engine instances over a grid of stop, target and offset values
package sweep

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fade-backtest/services/engine"
)

var (
	ErrEmptyGrid     = errors.New("empty sweep grid")
	ErrTooManyCombos = errors.New("sweep grid too large")
)

// Grid lists the values to combine; an empty axis keeps the base config value
type Grid struct {
	StopPts   []float64 `json:"stop_pts" yaml:"stop_pts" validate:"dive,gt=0"`
	TargetPts []float64 `json:"target_pts" yaml:"target_pts" validate:"dive,gt=0"`
	OffsetPts []float64 `json:"offset_pts" yaml:"offset_pts" validate:"dive,gte=0"`
}

// Combo is one planned run
type Combo struct {
	Index     int           `json:"index"`
	RunID     string        `json:"run_id"`
	StopPts   float64       `json:"stop_pts"`
	TargetPts float64       `json:"target_pts"`
	OffsetPts float64       `json:"offset_pts"`
	Config    engine.Config `json:"-"`
}

type Planner struct {
	MaxCombos  int
	MaxWorkers int
}

func NewPlanner(maxCombos, maxWorkers int) *Planner {
	return &Planner{
		MaxCombos:  maxCombos,
		MaxWorkers: maxWorkers,
	}
}

// Plan expands the grid in stop, target, offset order
func (p *Planner) Plan(base engine.Config, grid Grid) ([]Combo, error) {
	stops := axis(grid.StopPts, base.DefaultStopPts)
	targets := axis(grid.TargetPts, base.DefaultTargetPts)
	offsets := axis(grid.OffsetPts, base.DefaultEntryOffsetPts)

	n := len(stops) * len(targets) * len(offsets)
	if n == 0 {
		return nil, ErrEmptyGrid
	}
	if p.MaxCombos > 0 && n > p.MaxCombos {
		return nil, fmt.Errorf("%w: %d combinations, limit is %d", ErrTooManyCombos, n, p.MaxCombos)
	}

	combos := make([]Combo, 0, n)
	for _, stop := range stops {
		for _, target := range targets {
			for _, offset := range offsets {
				cfg := base
				cfg.DefaultStopPts = stop
				cfg.DefaultTargetPts = target
				cfg.DefaultEntryOffsetPts = offset
				combos = append(combos, Combo{
					Index:     len(combos),
					RunID:     uuid.NewString(),
					StopPts:   stop,
					TargetPts: target,
					OffsetPts: offset,
					Config:    cfg,
				})
			}
		}
	}
	return combos, nil
}

func axis(values []float64, fallback float64) []float64 {
	if len(values) == 0 {
		return []float64{fallback}
	}
	return values
}
