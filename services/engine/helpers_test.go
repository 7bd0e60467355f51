package engine

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func mkBar(t *testing.T, ts string, o, h, l, c float64) Bar {
	t.Helper()
	return Bar{Time: mustTime(t, ts), Open: o, High: h, Low: l, Close: c}
}

// bareConfig has every level source switched off
func bareConfig() Config {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.PriorDayLevels = false
	cfg.NightHighLow = false
	cfg.NightValueArea = false
	cfg.NightPOC = false
	cfg.DynamicDayTracking = false
	return cfg
}

func newTestGenerator(cfg *Config, events *EventLog) *LevelGenerator {
	return &LevelGenerator{
		cfg:          cfg,
		gaps:         &GapRepository{},
		singlePrints: &SinglePrintRepository{},
		events:       events,
		logger:       zap.NewNop(),
	}
}

func newTestSimulator(cfg *Config, events *EventLog) *Simulator {
	return NewSimulator(cfg, events, nil, zap.NewNop())
}

func roundTick(p float64) float64 { return math.Round(p*ticksPerPoint) / ticksPerPoint }

// syntheticFeed returns around-the-clock one-minute bars for days calendar days
func syntheticFeed(seed int64, days int) []Bar {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	price := 15000.0
	var bars []Bar
	for m := 0; m < days*24*60; m++ {
		open := price
		close := roundTick(open + float64(rng.Intn(17)-8)*tickSize)
		high := roundTick(max(open, close) + float64(rng.Intn(5))*tickSize)
		low := roundTick(min(open, close) - float64(rng.Intn(5))*tickSize)
		bars = append(bars, Bar{
			Time:    start.Add(time.Duration(m) * time.Minute),
			Open:    open,
			High:    high,
			Low:     low,
			Close:   close,
			VWAP:    roundTick((high + low + close) / 3),
			HasVWAP: true,
		})
		price = close
	}
	return bars
}
