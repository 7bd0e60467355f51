package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"fade-backtest/services/engine"
)

const timeLayout = "2006-01-02 15:04:05"

// SortKey names a sortable trade column
type SortKey string

const (
	SortDate      SortKey = "date"
	SortEntryTime SortKey = "entry_time"
	SortLevel     SortKey = "level"
	SortDirection SortKey = "direction"
	SortEntry     SortKey = "entry"
	SortExit      SortKey = "exit"
	SortPoints    SortKey = "pnl"
	SortPnL       SortKey = "pnl_usd"
	SortMFE       SortKey = "mfe"
	SortStatus    SortKey = "status"
)

// SortTrades returns a sorted copy; unknown keys sort by date. Ties keep construction order.
func SortTrades(trades []engine.Trade, key SortKey, desc bool) []engine.Trade {
	out := append([]engine.Trade(nil), trades...)
	compare := func(a, b engine.Trade) int {
		switch key {
		case SortEntryTime:
			return a.EntryTime.Compare(b.EntryTime)
		case SortLevel:
			return strings.Compare(string(a.LevelTag), string(b.LevelTag))
		case SortDirection:
			return strings.Compare(a.Direction.String(), b.Direction.String())
		case SortEntry:
			return cmpFloat(a.EntryPrice, b.EntryPrice)
		case SortExit:
			return cmpFloat(a.ExitPrice, b.ExitPrice)
		case SortPoints:
			return cmpFloat(a.PnLPoints, b.PnLPoints)
		case SortPnL:
			return a.PnL.Cmp(b.PnL)
		case SortMFE:
			return cmpFloat(a.MaxFavorable, b.MaxFavorable)
		case SortStatus:
			return strings.Compare(a.Status.String(), b.Status.String())
		default:
			return strings.Compare(a.Date, b.Date)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i], out[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var csvHeader = []string{
	"id", "date", "entry_time", "exit_time", "direction", "level", "level_price",
	"entry_price", "exit_price", "pnl_points", "pnl", "gross", "commission", "slippage",
	"mfe", "status",
}

// WriteCSV writes one row per trade followed by a summary block
func WriteCSV(w io.Writer, trades []engine.Trade) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range trades {
		record := []string{
			strconv.Itoa(t.ID),
			t.Date,
			t.EntryTime.Format(timeLayout),
			t.ExitTime.Format(timeLayout),
			t.Direction.String(),
			string(t.LevelTag),
			formatPts(t.LevelPrice),
			formatPts(t.EntryPrice),
			formatPts(t.ExitPrice),
			formatPts(t.PnLPoints),
			t.PnL.StringFixed(2),
			t.Costs.Gross.StringFixed(2),
			t.Costs.Commission.StringFixed(2),
			t.Costs.Slippage.StringFixed(2),
			formatPts(t.MaxFavorable),
			t.Status.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	s := GenerateSummary(trades)
	summary := [][]string{
		{""},
		{"# Summary"},
		{"total_trades", strconv.Itoa(s.TotalTrades)},
		{"wins", strconv.Itoa(s.Wins)},
		{"losses", strconv.Itoa(s.Losses)},
		{"win_rate", s.WinRate.StringFixed(1)},
		{"net_pnl", s.NetPnL.StringFixed(2)},
		{"net_points", formatPts(s.NetPoints)},
		{"profit_factor", s.ProfitFactor.StringFixed(2)},
		{"reward_ratio", s.RewardRatio.StringFixed(2)},
		{"worst_day", s.WorstDay, s.WorstDayPnL.StringFixed(2)},
		{"max_drawdown", s.MaxDrawdown.StringFixed(2)},
	}
	if err := writer.WriteAll(summary); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// ExportCSV writes trades to filename
func ExportCSV(filename string, trades []engine.Trade) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	return WriteCSV(file, trades)
}

// WriteEvents writes the decision log as date,time,event,level,price,message rows
func WriteEvents(w io.Writer, events []engine.Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"date", "time", "event", "level", "price", "message"}); err != nil {
		return err
	}
	for _, e := range events {
		price := ""
		if e.Price != 0 {
			price = formatPts(e.Price)
		}
		if err := writer.Write([]string{
			e.Time.Format(time.DateOnly),
			e.Time.Format(time.TimeOnly),
			e.Type.String(),
			string(e.Level),
			price,
			e.Message,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatPts(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
