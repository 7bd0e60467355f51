package arrowpipeline

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/shopspring/decimal"

	"fade-backtest/services/engine"
)

func TestBarsRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := []engine.Bar{
		{Time: start, Open: 100, High: 101, Low: 99, Close: 100.5, VWAP: 100.2, HasVWAP: true},
		{Time: start.Add(time.Minute), Open: 100.5, High: 102, Low: 100, Close: 101.75},
		{Time: start.Add(2 * time.Minute), Open: 101.75, High: 103, Low: 101, Close: 102},
	}

	// two records in one stream
	p := NewPipeline(Config{BatchSize: 2}, nil)
	data, err := p.ConvertBars(bars)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.ConvertFromArrow(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(bars) {
		t.Fatalf("got %d bars, want %d", len(got), len(bars))
	}
	for i := range bars {
		if !got[i].Time.Equal(bars[i].Time) || got[i].Close != bars[i].Close || got[i].HasVWAP != bars[i].HasVWAP || got[i].VWAP != bars[i].VWAP {
			t.Errorf("bar %d = %+v, want %+v", i, got[i], bars[i])
		}
	}
}

func TestConvertBarsEmpty(t *testing.T) {
	if _, err := NewPipeline(Config{}, nil).ConvertBars(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteTrades(t *testing.T) {
	entry := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	trades := []engine.Trade{
		{ID: 1, Date: "2024-03-04", EntryTime: entry, ExitTime: entry.Add(5 * time.Minute), Direction: engine.DirectionLong,
			LevelTag: engine.TagNightLow, EntryPrice: 99, ExitPrice: 104, PnLPoints: 5, PnL: decimal.NewFromInt(96), Status: engine.StatusWin},
		{ID: 2, Date: "2024-03-04", EntryTime: entry.Add(time.Hour), ExitTime: entry.Add(2 * time.Hour), Direction: engine.DirectionShort,
			LevelTag: engine.TagPriorHigh, EntryPrice: 101, ExitPrice: 104.5, PnLPoints: -3.5, PnL: decimal.NewFromInt(-74), Status: engine.StatusLoss},
	}

	var buf bytes.Buffer
	if err := NewPipeline(Config{}, nil).WriteTrades(&buf, trades); err != nil {
		t.Fatal(err)
	}

	reader, err := ipc.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Release()
	if !reader.Next() {
		t.Fatal("no record")
	}
	rec := reader.Record()
	if rec.NumRows() != 2 {
		t.Fatalf("rows = %d", rec.NumRows())
	}
	levels := rec.Column(5).(*array.String)
	pnl := rec.Column(10).(*array.Float64)
	if levels.Value(0) != "LN" || levels.Value(1) != "P-HD" || pnl.Value(1) != -74 {
		t.Fatalf("record = %v", rec)
	}
}
