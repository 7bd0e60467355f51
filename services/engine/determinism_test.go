package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func allFeatures() Config {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.VWAP = true
	cfg.RoundNumbers = true
	cfg.Gaps = true
	cfg.SinglePrints = true
	cfg.DynamicDayHighLow = true
	cfg.OpeningRangeFilter = true
	cfg.DynamicTarget = true
	cfg.DistanceReset = true
	cfg.SlippageTicks = 1
	cfg.CommissionPerRoundTrip = 4.5
	return cfg
}

func TestRunIsDeterministic(t *testing.T) {
	feed := syntheticFeed(42, 5)
	cfg := allFeatures()

	var encoded [2][]byte
	for i := range encoded {
		eng, err := New(cfg)
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		trades, err := eng.Run(context.Background(), feed)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(trades) == 0 {
			t.Fatal("expected the synthetic feed to produce trades")
		}
		encoded[i], err = json.Marshal(trades)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	if !bytes.Equal(encoded[0], encoded[1]) {
		t.Fatal("two runs over identical input produced different trade lists")
	}
}

func TestRunReusesEngineWithCleanState(t *testing.T) {
	feed := syntheticFeed(7, 4)
	eng, err := New(allFeatures())
	if err != nil {
		t.Fatal(err)
	}
	first, err := eng.Run(context.Background(), feed)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first)
	second, err := eng.Run(context.Background(), feed)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatal("second run on the same engine differs from the first")
	}
}

func TestAtMostOneOpenPosition(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 4} {
		events := &EventLog{}
		eng, err := New(allFeatures(), WithEventLog(events))
		if err != nil {
			t.Fatal(err)
		}
		trades, err := eng.Run(context.Background(), syntheticFeed(seed, 3))
		if err != nil {
			t.Fatal(err)
		}

		open := 0
		for _, e := range events.Events {
			switch e.Type {
			case EventEntry:
				open++
			case EventExit, EventForcedExit:
				open--
			}
			if open < 0 || open > 1 {
				t.Fatalf("seed %d: %d open positions after %s at %s", seed, open, e.Type, e.Time)
			}
		}
		if open != 0 {
			t.Fatalf("seed %d: position left open at end of run", seed)
		}

		for i := 1; i < len(trades); i++ {
			if trades[i].EntryTime.Before(trades[i-1].ExitTime) {
				t.Fatalf("seed %d: trade %d entered before trade %d exited", seed, trades[i].ID, trades[i-1].ID)
			}
		}
	}
}

func TestRunEmptyAndSingleDay(t *testing.T) {
	eng, err := New(allFeatures())
	if err != nil {
		t.Fatal(err)
	}

	trades, err := eng.Run(context.Background(), nil)
	if err != nil || trades == nil || len(trades) != 0 {
		t.Fatalf("empty input: trades=%v err=%v", trades, err)
	}

	// live levels (VWAP, rounds, day high/low) must not trade without a prior session
	for _, seed := range []int64{9, 11, 42} {
		trades, err = eng.Run(context.Background(), syntheticFeed(seed, 1))
		if err != nil {
			t.Fatal(err)
		}
		if len(trades) != 0 {
			t.Fatalf("seed %d: single day produced %d trades, first on %s", seed, len(trades), trades[0].LevelTag)
		}
	}

	two, err := eng.Run(context.Background(), syntheticFeed(9, 2))
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range two {
		if tr.Date == "2024-03-04" {
			t.Fatalf("trade %d on the first session", tr.ID)
		}
	}
}

func TestRunCancelledBetweenDays(t *testing.T) {
	eng, err := New(allFeatures())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx, syntheticFeed(3, 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
