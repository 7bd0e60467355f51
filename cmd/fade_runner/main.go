// Fade Runner - runs the level-fade backtest over a CSV of one-minute bars
// and writes the trade list, summary and optional decision log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fade-backtest/services/arrowpipeline"
	"fade-backtest/services/clickhouse"
	"fade-backtest/services/engine"
	"fade-backtest/services/ingest"
	"fade-backtest/services/report"
)

type options struct {
	CSV        string
	ConfigPath string
	Output     string
	ArrowOut   string
	EventsOut  string
	ReplaysOut string
	Sort       string
	Ascending  bool
	LastDays   int
	LogLevel   string

	Symbol          string
	RunID           string
	ClickHouseURL   string
	ClickHouseTable string
	ClickHouseUser  string
	ClickHousePass  string
}

// parseArgs reads the runner flags. Engine flags override the -config file, which overrides the defaults.
func parseArgs(args []string) (options, engine.Config, error) {
	fs := flag.NewFlagSet("fade_runner", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.CSV, "csv", "", "Path to CSV file with one-minute bars")
	fs.StringVar(&o.ConfigPath, "config", "", "Engine config YAML")
	fs.StringVar(&o.Output, "output", "trades.csv", "Output CSV file for trades")
	fs.StringVar(&o.ArrowOut, "arrow", "", "Also write trades as an Arrow IPC stream")
	fs.StringVar(&o.EventsOut, "events", "", "Write the decision log CSV")
	fs.StringVar(&o.ReplaysOut, "replays", "", "Write per-trade intrabar replays as JSON")
	fs.StringVar(&o.Sort, "sort", string(report.SortDate), "Sort column for the trades CSV")
	fs.BoolVar(&o.Ascending, "asc", false, "Sort ascending (default descending)")
	fs.IntVar(&o.LastDays, "last-days", 0, "If >0, run only the last N days (plus one day of history for prior-day levels)")
	fs.StringVar(&o.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&o.Symbol, "symbol", "NQ", "Symbol recorded with uploaded trades")
	fs.StringVar(&o.RunID, "run-id", "", "Run id for uploaded trades (default random)")
	fs.StringVar(&o.ClickHouseURL, "clickhouse-url", "", "Upload trades over ClickHouse HTTP (e.g. http://localhost:8123)")
	fs.StringVar(&o.ClickHouseTable, "clickhouse-table", "backtest.fade_trades", "Target table for uploads")
	fs.StringVar(&o.ClickHouseUser, "clickhouse-user", "default", "ClickHouse user")
	fs.StringVar(&o.ClickHousePass, "clickhouse-password", os.Getenv("CLICKHOUSE_PASSWORD"), "ClickHouse password")

	var overrides []func(*engine.Config)
	number := func(name, usage string, set func(*engine.Config, float64)) {
		fs.Func(name, usage, func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			overrides = append(overrides, func(c *engine.Config) { set(c, v) })
			return nil
		})
	}
	toggle := func(name, usage string, set func(*engine.Config, bool)) {
		fs.BoolFunc(name, usage, func(s string) error {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			overrides = append(overrides, func(c *engine.Config) { set(c, v) })
			return nil
		})
	}

	number("stop", "Default stop distance in points", func(c *engine.Config, v float64) { c.DefaultStopPts = v })
	number("target", "Default target distance in points", func(c *engine.Config, v float64) { c.DefaultTargetPts = v })
	number("offset", "Default entry offset in points", func(c *engine.Config, v float64) { c.DefaultEntryOffsetPts = v })
	number("reset-threshold", "Distance that unlocks a locked level", func(c *engine.Config, v float64) { c.DistanceResetThresholdPts = v })
	number("slippage-ticks", "Ticks of slippage on losing exits", func(c *engine.Config, v float64) { c.SlippageTicks = v })
	number("commission", "Commission per round trip", func(c *engine.Config, v float64) { c.CommissionPerRoundTrip = v })
	number("point-value", "Currency per index point", func(c *engine.Config, v float64) { c.PointValue = v })
	fs.Func("tz", "Exchange timezone", func(s string) error {
		overrides = append(overrides, func(c *engine.Config) { c.Timezone = s })
		return nil
	})
	toggle("prior-day-levels", "Prior day high/low", func(c *engine.Config, v bool) { c.PriorDayLevels = v })
	toggle("night-high-low", "Overnight high/low", func(c *engine.Config, v bool) { c.NightHighLow = v })
	toggle("night-value-area", "Overnight value area", func(c *engine.Config, v bool) { c.NightValueArea = v })
	toggle("night-poc", "Overnight POC", func(c *engine.Config, v bool) { c.NightPOC = v })
	toggle("vwap", "Session VWAP level", func(c *engine.Config, v bool) { c.VWAP = v })
	toggle("round-numbers", "Round 100-point levels", func(c *engine.Config, v bool) { c.RoundNumbers = v })
	toggle("gaps", "Unfilled gap levels", func(c *engine.Config, v bool) { c.Gaps = v })
	toggle("single-prints", "Single print levels", func(c *engine.Config, v bool) { c.SinglePrints = v })
	toggle("dynamic-day-high-low", "Running day high/low levels", func(c *engine.Config, v bool) { c.DynamicDayHighLow = v })
	toggle("or-filter", "Opening range filter", func(c *engine.Config, v bool) { c.OpeningRangeFilter = v })
	toggle("dynamic-target", "Target the next level ahead", func(c *engine.Config, v bool) { c.DynamicTarget = v })
	toggle("distance-reset", "Lock reusable levels after a loss", func(c *engine.Config, v bool) { c.DistanceReset = v })
	toggle("dynamic-day-tracking", "Track session extremes", func(c *engine.Config, v bool) { c.DynamicDayTracking = v })

	if err := fs.Parse(args); err != nil {
		return o, engine.Config{}, err
	}
	if o.CSV == "" {
		return o, engine.Config{}, errors.New("-csv flag is required")
	}

	cfg := engine.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := engine.LoadConfigFile(o.ConfigPath)
		if err != nil {
			return o, engine.Config{}, err
		}
		cfg = loaded
	}
	for _, apply := range overrides {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return o, engine.Config{}, err
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	return o, cfg, nil
}

// lastDays keeps the bars within n+1 days of the final bar
func lastDays(bars []engine.Bar, n int) []engine.Bar {
	if n <= 0 || len(bars) == 0 {
		return bars
	}
	cutoff := bars[len(bars)-1].Time.AddDate(0, 0, -(n + 1))
	for i, b := range bars {
		if !b.Time.Before(cutoff) {
			return bars[i:]
		}
	}
	return bars
}

func run(ctx context.Context, o options, cfg engine.Config, logger *zap.Logger) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	logger.Info("Loading data", zap.String("csv", o.CSV))
	bars, stats, err := ingest.NewLoader(loc, logger).LoadFile(o.CSV)
	if err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}
	logger.Info("Loaded bars",
		zap.Int("bars", len(bars)),
		zap.Int("rejected", stats.Rejected),
		zap.Int("duplicates", stats.Duplicates),
	)
	bars = lastDays(bars, o.LastDays)

	var events *engine.EventLog
	if o.EventsOut != "" {
		events = &engine.EventLog{}
	}
	var forensics *engine.ForensicsEngine
	if o.ReplaysOut != "" {
		forensics = engine.NewForensicsEngine()
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithEventLog(events), engine.WithForensics(forensics))
	if err != nil {
		return err
	}
	logger.Info("Running backtest", zap.String("config_hash", cfg.Hash()), zap.String("run_id", o.RunID))
	trades, err := eng.Run(ctx, bars)
	if err != nil {
		return fmt.Errorf("backtest execution failed: %w", err)
	}

	if o.Output != "" {
		sorted := report.SortTrades(trades, report.SortKey(o.Sort), !o.Ascending)
		if err := report.ExportCSV(o.Output, sorted); err != nil {
			return fmt.Errorf("failed to export CSV: %w", err)
		}
		fmt.Printf("Trades exported to %s\n", o.Output)
	}
	if o.ArrowOut != "" {
		if err := writeFile(o.ArrowOut, func(f *os.File) error {
			return arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger).WriteTrades(f, trades)
		}); err != nil {
			return fmt.Errorf("failed to export Arrow: %w", err)
		}
		fmt.Printf("Arrow stream exported to %s\n", o.ArrowOut)
	}
	if events != nil {
		if err := writeFile(o.EventsOut, func(f *os.File) error { return report.WriteEvents(f, events.Events) }); err != nil {
			return fmt.Errorf("failed to export events: %w", err)
		}
		fmt.Printf("Decision log exported to %s\n", o.EventsOut)
	}
	if forensics != nil {
		if err := writeFile(o.ReplaysOut, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(forensics.Replays())
		}); err != nil {
			return fmt.Errorf("failed to export replays: %w", err)
		}
		fmt.Printf("Replays exported to %s\n", o.ReplaysOut)
	}

	if o.ClickHouseURL != "" {
		bc := clickhouse.NewBatchClient(o.ClickHouseURL, o.ClickHouseTable, 1000).WithAuth(o.ClickHouseUser, o.ClickHousePass)
		if err := bc.AddTrades(ctx, o.RunID, o.Symbol, trades); err != nil {
			return fmt.Errorf("failed to upload trades: %w", err)
		}
		logger.Info("Uploaded trades", zap.String("table", o.ClickHouseTable), zap.Int("trades", len(trades)))
	}

	printSummary(trades)
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(trades []engine.Trade) {
	s := report.GenerateSummary(trades)
	fmt.Printf("\nBacktest completed. Generated %d trades\n", s.TotalTrades)
	fmt.Printf("Wins/Losses:   %d / %d (%s%%)\n", s.Wins, s.Losses, s.WinRate.StringFixed(1))
	fmt.Printf("Net PnL:       $%s (%.2f pts)\n", s.NetPnL.StringFixed(2), s.NetPoints)
	fmt.Printf("Profit factor: %s\n", s.ProfitFactor.StringFixed(2))
	fmt.Printf("Reward ratio:  %s\n", s.RewardRatio.StringFixed(2))
	fmt.Printf("Worst day:     %s ($%s)\n", s.WorstDay, s.WorstDayPnL.StringFixed(2))
	fmt.Printf("Max drawdown:  $%s\n", s.MaxDrawdown.StringFixed(2))

	levels := report.StatsByLevel(trades)
	if len(levels) > 0 {
		fmt.Println("\nLevel  | Trades | Win%   | PnL")
		fmt.Println("-------|--------|--------|----------")
		for _, l := range levels {
			fmt.Printf("%-6s | %6d | %6s | %s\n", l.Level, l.Count, l.WinRate.StringFixed(1), l.PnL.StringFixed(2))
		}
	}

	if len(trades) > 0 {
		fmt.Println("\nSample trades:")
		fmt.Println("Date       | Side  | Level | Entry     | Exit      | PnL      | Status")
		fmt.Println("-----------|-------|-------|-----------|-----------|----------|-----------")
		limit := min(5, len(trades))
		for _, t := range trades[:limit] {
			fmt.Printf("%-10s | %-5s | %-5s | %-9.2f | %-9.2f | %-8s | %s\n",
				t.Date, t.Direction, t.LevelTag, t.EntryPrice, t.ExitPrice, t.PnL.StringFixed(2), t.Status)
		}
		if len(trades) > limit {
			fmt.Printf("... and %d more trades\n", len(trades)-limit)
		}
	}
}

func main() {
	o, cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	level, err := zap.ParseAtomicLevel(o.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	zcfg := zap.NewProductionConfig()
	if level.Level() == zap.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, cfg, logger); err != nil {
		logger.Error("Run failed", zap.Error(err))
		if strings.Contains(err.Error(), "cancelled") {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
