// Data Generator - creates 24h one-minute index futures bars with a session VWAP
// for exercising the fade runner and the service.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fade-backtest/services/clickhouse"
	"fade-backtest/services/engine"
)

const tick = 0.25

type genOptions struct {
	Days  int
	Seed  int64
	Start time.Time
	Price float64
	Vol   float64
}

func roundTick(p float64) float64 { return math.Round(p/tick) * tick }

// generate walks a tick-rounded price through Days calendar days of one-minute bars.
// RTH bars carry a running equal-weight VWAP of the typical price, reset at 09:30.
func generate(o genOptions) []engine.Bar {
	rng := rand.New(rand.NewSource(o.Seed))
	price := roundTick(o.Price)
	bars := make([]engine.Bar, 0, o.Days*24*60)

	var vwapSum float64
	var vwapN int
	for i := 0; i < o.Days*24*60; i++ {
		ts := o.Start.Add(time.Duration(i) * time.Minute)
		minute := ts.Hour()*60 + ts.Minute()

		// wider ranges in the first RTH hour, quiet overnight
		vol := o.Vol
		switch {
		case minute >= 570 && minute < 630:
			vol *= 2
		case minute < 570 || minute >= 1020:
			vol *= 0.5
		}
		drift := 0.0
		if (ts.YearDay()/3)%2 == 0 {
			drift = 0.05
		}

		open := price
		closeP := roundTick(open + rng.NormFloat64()*vol + drift)
		high := roundTick(math.Max(open, closeP) + rng.Float64()*vol)
		low := roundTick(math.Min(open, closeP) - rng.Float64()*vol)

		b := engine.Bar{Time: ts, Open: open, High: high, Low: low, Close: closeP}
		if minute == 570 {
			vwapSum, vwapN = 0, 0
		}
		if engine.IsRTH(ts) {
			vwapSum += (high + low + closeP) / 3
			vwapN++
			b.VWAP, b.HasVWAP = vwapSum/float64(vwapN), true
		}
		bars = append(bars, b)
		price = closeP
	}
	return bars
}

func writeCSV(path string, bars []engine.Bar) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Date", "Time", "Open", "High", "Low", "Close", "VWAP"}); err != nil {
		return err
	}
	for _, b := range bars {
		vwap := ""
		if b.HasVWAP {
			vwap = decimal.NewFromFloat(b.VWAP).StringFixed(2)
		}
		record := []string{
			b.Time.Format("2006-01-02"),
			b.Time.Format("15:04"),
			decimal.NewFromFloat(b.Open).String(),
			decimal.NewFromFloat(b.High).String(),
			decimal.NewFromFloat(b.Low).String(),
			decimal.NewFromFloat(b.Close).String(),
			vwap,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func main() {
	out := flag.String("out", "nq_1m.csv", "output CSV path (empty to skip)")
	days := flag.Int("days", 20, "calendar days to generate")
	seed := flag.Int64("seed", 42, "random seed")
	start := flag.String("start", "2024-03-04", "first day (YYYY-MM-DD)")
	tz := flag.String("tz", "America/New_York", "exchange timezone")
	price := flag.Float64("price", 18000, "starting price")
	vol := flag.Float64("vol", 2.5, "per-minute volatility in points")
	dsn := flag.String("clickhouse-dsn", "", "also store bars in ClickHouse (clickhouse://...)")
	symbol := flag.String("symbol", "NQ", "symbol used for ClickHouse rows")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		logger.Fatal("Invalid timezone", zap.Error(err))
	}
	first, err := time.ParseInLocation("2006-01-02", *start, loc)
	if err != nil {
		logger.Fatal("Invalid start date", zap.Error(err))
	}

	bars := generate(genOptions{Days: *days, Seed: *seed, Start: first, Price: *price, Vol: *vol})
	logger.Info("Generated bars", zap.Int("bars", len(bars)), zap.Time("first", bars[0].Time), zap.Time("last", bars[len(bars)-1].Time))

	if *out != "" {
		if err := writeCSV(*out, bars); err != nil {
			logger.Fatal("Failed to write CSV", zap.Error(err))
		}
		logger.Info("Wrote CSV", zap.String("path", *out))
	}

	if *dsn != "" {
		ctx := context.Background()
		opts, err := clickhouse.OptionsFromDSN(*dsn)
		if err != nil {
			logger.Fatal("Invalid DSN", zap.Error(err))
		}
		client, err := clickhouse.Open(ctx, opts, logger)
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		defer client.Close()
		if err := client.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to create schema", zap.Error(err))
		}
		if err := client.SaveBars(ctx, *symbol, bars); err != nil {
			logger.Fatal("Failed to store bars", zap.Error(err))
		}
		logger.Info("Stored bars in ClickHouse", zap.String("symbol", *symbol))
	}
}
