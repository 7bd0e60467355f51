package ingest

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"

	"fade-backtest/services/engine"
)

const sample = `Exported by platform
Symbol: NQ
Date,Time,Open,High,Low,Last,Volume Weighted Average Price
2024-01-03,09:31:00,101,102,100,101.5,101.2
2024/01/03,09:30,100,101,99.5,100.75,100.4
03-01-2024,09:32:30.500,101.5,103,101,102.25,
2024-01-03,09:30,100,101.5,99.75,101,100.5
2024-01-03,09:33,abc,103,101,102
2024-01-03,09:34,105,103,101,102,0
2024-01-03,09:35,102
`

func TestLoadDetectsHeaderAndNormalises(t *testing.T) {
	loader := NewLoader(time.UTC, nil)
	bars, stats, err := loader.Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stats.Rows != 7 || stats.Rejected != 3 || stats.Duplicates != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}

	first := bars[0]
	if !first.Time.Equal(time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("first bar at %s", first.Time)
	}
	if first.High != 101.5 || first.Close != 101 || first.VWAP != 100.5 || !first.HasVWAP {
		t.Errorf("duplicate timestamp did not keep the last row: %+v", first)
	}
	third := bars[2]
	if !third.Time.Equal(time.Date(2024, 1, 3, 9, 32, 30, 500*int(time.Millisecond), time.UTC)) {
		t.Errorf("day-first date parsed as %s", third.Time)
	}
	if third.HasVWAP {
		t.Errorf("empty vwap cell should not set HasVWAP")
	}
}

func TestParseRowsReportsFailures(t *testing.T) {
	rows, err := NewLoader(time.UTC, nil).ParseRows(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	var invalid, short int
	for _, r := range rows {
		switch {
		case errors.Is(r.Err, ErrInvalidBar):
			invalid++
		case errors.Is(r.Err, ErrShortRow):
			short++
		}
	}
	if invalid != 1 || short != 2 {
		t.Fatalf("invalid=%d short=%d, rows=%+v", invalid, short, rows)
	}
	if rows[0].Line != 4 {
		t.Fatalf("first data row reported at line %d", rows[0].Line)
	}
}

func TestParseRowsRejectsNonFinitePrices(t *testing.T) {
	csv := `Date,Time,Open,High,Low,Close,VWAP
2024-01-03,09:30,NaN,101,99,100,100
2024-01-03,09:31,100,+Inf,99,100,100
2024-01-03,09:32,100,101,-Inf,100,100
2024-01-03,09:33,100,101,99,100,NaN
2024-01-03,09:34,100,101,99,100,Inf
`
	rows, err := NewLoader(time.UTC, nil).ParseRows(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	for _, r := range rows[:3] {
		if !errors.Is(r.Err, ErrNonFinite) {
			t.Errorf("line %d: err = %v, want ErrNonFinite", r.Line, r.Err)
		}
	}
	for _, r := range rows[3:] {
		if r.Err != nil || r.Bar.HasVWAP {
			t.Errorf("line %d: non-finite vwap should read as absent, got %+v", r.Line, r)
		}
	}
}

func TestValidateBar(t *testing.T) {
	at := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name string
		bar  engine.Bar
		want error
	}{
		{"ok", engine.Bar{Time: at, Open: 100, High: 101, Low: 99, Close: 100.5}, nil},
		{"open above high", engine.Bar{Time: at, Open: 102, High: 101, Low: 99, Close: 100}, ErrInvalidBar},
		{"low above high", engine.Bar{Time: at, Open: 100, High: 99, Low: 101, Close: 100}, ErrInvalidBar},
		{"nan close", engine.Bar{Time: at, Open: 100, High: 101, Low: 99, Close: math.NaN()}, ErrNonFinite},
		{"inf vwap", engine.Bar{Time: at, Open: 100, High: 101, Low: 99, Close: 100, VWAP: math.Inf(1), HasVWAP: true}, ErrNonFinite},
		{"huge range", engine.Bar{Time: at, Open: 1, High: 1e12, Low: 0, Close: 1}, ErrBarRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBar(tc.bar)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadUTF16WithBOM(t *testing.T) {
	text := "Date,Time,Open,High,Low,Close\r\n2024-01-03,09:30,100,101,99,100.5\r\n"
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(text)
	if err != nil {
		t.Fatal(err)
	}
	bars, _, err := NewLoader(time.UTC, nil).Load(strings.NewReader(encoded))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 100.5 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestLoadEpochMillis(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	csv := "timestamp_ms,open,high,low,close,volume\n1704292200000,100,101,99,100,12\n"
	bars, _, err := NewLoader(loc, nil).Load(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Time.Hour() != 9 || bars[0].Time.Minute() != 30 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestMissingColumns(t *testing.T) {
	_, _, err := NewLoader(time.UTC, nil).Load(strings.NewReader("Date,Time,Open,High,Low\n2024-01-03,09:30,1,2,0\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	_, _, err = NewLoader(time.UTC, nil).Load(strings.NewReader("a,b,c\n1,2,3\n"))
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		date, clock string
		want        time.Time
		wantErr     bool
	}{
		{"2024-02-29", "16:59", time.Date(2024, 2, 29, 16, 59, 0, 0, time.UTC), false},
		{"29/02/2024", "7:05:09", time.Date(2024, 2, 29, 7, 5, 9, 0, time.UTC), false},
		{"2024-13-01", "10:00", time.Time{}, true},
		{"2024-01-01", "25:00", time.Time{}, true},
		{"20240101", "10:00", time.Time{}, true},
		{"2024-02-31", "10:00", time.Time{}, true},
		{"2023-02-29", "10:00", time.Time{}, true},
		{"31/04/2024", "10:00", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDateTime(tt.date, tt.clock, time.UTC)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s %s: err = %v", tt.date, tt.clock, err)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("%s %s = %s, want %s", tt.date, tt.clock, got, tt.want)
		}
	}
}
