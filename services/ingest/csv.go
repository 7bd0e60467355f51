package ingest

// CSV bar ingestion: header detection, column mapping and per-row parse results

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"fade-backtest/services/engine"
)

const (
	// headerSearchLines bounds how far into a file the header row may sit
	headerSearchLines = 50
	// MaxBarRangePts caps high-low of a single bar; the tick walk of a bar is proportional to it
	MaxBarRangePts = 5000.0
)

var (
	ErrNoHeader      = errors.New("no header row with date and time columns")
	ErrMissingColumn = errors.New("missing required column")
	ErrShortRow      = errors.New("row has fewer fields than the header")
	ErrInvalidBar    = errors.New("bar violates low <= open,close <= high")
	ErrNonFinite     = errors.New("price is not a finite number")
	ErrBarRange      = fmt.Errorf("bar range exceeds %.0f points", MaxBarRangePts)
)

// RowResult is the outcome of parsing one data row
type RowResult struct {
	Line int
	Bar  engine.Bar
	Err  error
}

func (r RowResult) OK() bool { return r.Err == nil }

// Stats summarises a load
type Stats struct {
	Rows       int `json:"rows"`
	Parsed     int `json:"parsed"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

type columns struct {
	date, clock, timestamp int
	open, high, low, close int
	vwap                   int
	width                  int
}

var aliases = map[string][]string{
	"date":      {"date"},
	"time":      {"time"},
	"timestamp": {"timestamp", "timestamp_ms", "open_time_ms"},
	"open":      {"open"},
	"high":      {"high"},
	"low":       {"low"},
	"close":     {"close", "last"},
	"vwap":      {"vwap", "volume weighted average price"},
}

// Loader turns bar CSV exports into an ascending, de-duplicated engine feed
type Loader struct {
	loc    *time.Location
	logger *zap.Logger
}

// NewLoader interprets wall-clock date/time columns in loc
func NewLoader(loc *time.Location, logger *zap.Logger) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{loc: loc, logger: logger}
}

// LoadFile reads and normalises the bars in path
func (l *Loader) LoadFile(path string) ([]engine.Bar, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return l.Load(f)
}

// Load parses r, drops failed rows and returns the sorted feed
func (l *Loader) Load(r io.Reader) ([]engine.Bar, Stats, error) {
	rows, err := l.ParseRows(r)
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Rows: len(rows)}
	bars := make([]engine.Bar, 0, len(rows))
	for _, row := range rows {
		if !row.OK() {
			stats.Rejected++
			l.logger.Debug("Dropped row", zap.Int("line", row.Line), zap.Error(row.Err))
			continue
		}
		bars = append(bars, row.Bar)
	}
	stats.Parsed = len(bars)

	bars, stats.Duplicates = Normalize(bars)
	l.logger.Info("Parsed bars from CSV",
		zap.Int("rows", stats.Rows),
		zap.Int("bars", len(bars)),
		zap.Int("rejected", stats.Rejected),
		zap.Int("duplicates", stats.Duplicates),
	)
	return bars, stats, nil
}

// ParseRows returns one result per data row after the header
func (l *Loader) ParseRows(r io.Reader) ([]RowResult, error) {
	cr := csv.NewReader(bufio.NewReader(decode(r)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	headerIdx, cols, err := findHeader(records)
	if err != nil {
		return nil, err
	}

	results := make([]RowResult, 0, len(records)-headerIdx-1)
	for i := headerIdx + 1; i < len(records); i++ {
		rec := records[i]
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		bar, err := l.parseRow(rec, cols)
		results = append(results, RowResult{Line: i + 1, Bar: bar, Err: err})
	}
	return results, nil
}

// decode switches to UTF-16 when the input starts with a UTF-16 byte order mark and strips a UTF-8 one
func decode(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func findHeader(records [][]string) (int, columns, error) {
	limit := min(len(records), headerSearchLines)
	for i := 0; i < limit; i++ {
		joined := strings.ToLower(strings.Join(records[i], ","))
		hasDateTime := strings.Contains(joined, "date") && strings.Contains(joined, "time")
		if !hasDateTime && !strings.Contains(joined, "timestamp") {
			continue
		}
		cols, err := mapColumns(records[i])
		if err != nil {
			return 0, columns{}, err
		}
		return i, cols, nil
	}
	return 0, columns{}, ErrNoHeader
}

func mapColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.Trim(h, "\"")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	col := func(key string) int {
		for _, n := range aliases[key] {
			if i, ok := index[n]; ok {
				return i
			}
		}
		return -1
	}

	c := columns{
		date:      col("date"),
		clock:     col("time"),
		timestamp: col("timestamp"),
		open:      col("open"),
		high:      col("high"),
		low:       col("low"),
		close:     col("close"),
		vwap:      col("vwap"),
		width:     len(header),
	}
	if c.timestamp < 0 && (c.date < 0 || c.clock < 0) {
		return c, fmt.Errorf("%w: date/time", ErrMissingColumn)
	}
	required := []struct {
		name string
		idx  int
	}{{"open", c.open}, {"high", c.high}, {"low", c.low}, {"close", c.close}}
	for _, r := range required {
		if r.idx < 0 {
			return c, fmt.Errorf("%w: %s", ErrMissingColumn, r.name)
		}
	}
	return c, nil
}

func (l *Loader) parseRow(rec []string, c columns) (engine.Bar, error) {
	if len(rec) < c.width {
		return engine.Bar{}, ErrShortRow
	}
	field := func(i int) string { return strings.TrimSpace(strings.Trim(rec[i], "\"")) }

	var ts time.Time
	var err error
	if c.date >= 0 && c.clock >= 0 {
		ts, err = ParseDateTime(field(c.date), field(c.clock), l.loc)
	} else {
		ts, err = parseEpochMillis(field(c.timestamp), l.loc)
	}
	if err != nil {
		return engine.Bar{}, err
	}

	var ohlc [4]float64
	for i, idx := range [4]int{c.open, c.high, c.low, c.close} {
		v, err := strconv.ParseFloat(field(idx), 64)
		if err != nil {
			return engine.Bar{}, fmt.Errorf("parse price %q: %w", field(idx), err)
		}
		ohlc[i] = v
	}
	bar := engine.Bar{Time: ts, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3]}
	if c.vwap >= 0 {
		if v, err := strconv.ParseFloat(field(c.vwap), 64); err == nil && v != 0 && isFinite(v) {
			bar.VWAP, bar.HasVWAP = v, true
		}
	}
	return bar, ValidateBar(bar)
}

// ValidateBar checks that all prices are finite, that open and close lie within [low, high]
// and that the bar's range stays under MaxBarRangePts.
func ValidateBar(b engine.Bar) error {
	for _, v := range [4]float64{b.Open, b.High, b.Low, b.Close} {
		if !isFinite(v) {
			return fmt.Errorf("%w: %v", ErrNonFinite, v)
		}
	}
	if b.HasVWAP && !isFinite(b.VWAP) {
		return fmt.Errorf("%w: vwap %v", ErrNonFinite, b.VWAP)
	}
	if b.Low > b.High || b.Open < b.Low || b.Open > b.High || b.Close < b.Low || b.Close > b.High {
		return ErrInvalidBar
	}
	if b.High-b.Low > MaxBarRangePts {
		return ErrBarRange
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Normalize sorts bars by time and collapses equal timestamps, keeping the last one seen
func Normalize(bars []engine.Bar) ([]engine.Bar, int) {
	if len(bars) < 2 {
		return bars, 0
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	uniq := make([]engine.Bar, 0, len(bars))
	dups := 0
	for _, b := range bars {
		if n := len(uniq); n > 0 && uniq[n-1].Time.Equal(b.Time) {
			uniq[n-1] = b
			dups++
			continue
		}
		uniq = append(uniq, b)
	}
	return uniq, dups
}
