package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fade-backtest/services/engine"
)

// BatchClient handles ClickHouse HTTP batch inserts with compression
type BatchClient struct {
	baseURL    string
	table      string
	username   string
	password   string
	httpClient *http.Client
	buffer     []TradeRow
	batchSize  int
}

// TradeRow is the JSONEachRow shape of a stored trade
type TradeRow struct {
	RunID      string  `json:"run_id"`
	Symbol     string  `json:"symbol"`
	TradeID    int     `json:"trade_id"`
	Date       string  `json:"date"`
	EntryTime  string  `json:"entry_time"`
	ExitTime   string  `json:"exit_time"`
	Direction  string  `json:"direction"`
	Level      string  `json:"level"`
	LevelPrice float64 `json:"level_price"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnLPoints  float64 `json:"pnl_points"`
	PnL        string  `json:"pnl"`
	Commission string  `json:"commission"`
	Slippage   string  `json:"slippage"`
	MFE        float64 `json:"mfe"`
	Status     string  `json:"status"`
	InsertedAt string  `json:"inserted_at"`
}

const rowTimeLayout = "2006-01-02 15:04:05.000"

func NewTradeRow(runID, symbol string, t engine.Trade, insertedAt time.Time) TradeRow {
	return TradeRow{
		RunID:      runID,
		Symbol:     symbol,
		TradeID:    t.ID,
		Date:       t.Date,
		EntryTime:  t.EntryTime.UTC().Format(rowTimeLayout),
		ExitTime:   t.ExitTime.UTC().Format(rowTimeLayout),
		Direction:  t.Direction.String(),
		Level:      string(t.LevelTag),
		LevelPrice: t.LevelPrice,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PnLPoints:  t.PnLPoints,
		PnL:        t.PnL.StringFixed(2),
		Commission: t.Costs.Commission.StringFixed(2),
		Slippage:   t.Costs.Slippage.StringFixed(2),
		MFE:        t.MaxFavorable,
		Status:     t.Status.String(),
		InsertedAt: insertedAt.UTC().Format(rowTimeLayout),
	}
}

// NewBatchClient posts to baseURL (e.g. http://localhost:8123) into table (db.table)
func NewBatchClient(baseURL, table string, batchSize int) *BatchClient {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &BatchClient{
		baseURL:   baseURL,
		table:     table,
		username:  "default",
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer: make([]TradeRow, 0, batchSize),
	}
}

func (c *BatchClient) WithAuth(username, password string) *BatchClient {
	c.username, c.password = username, password
	return c
}

func (c *BatchClient) AddTrade(ctx context.Context, row TradeRow) error {
	c.buffer = append(c.buffer, row)
	if len(c.buffer) >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

// AddTrades buffers a whole run and flushes
func (c *BatchClient) AddTrades(ctx context.Context, runID, symbol string, trades []engine.Trade) error {
	now := time.Now()
	for _, t := range trades {
		if err := c.AddTrade(ctx, NewTradeRow(runID, symbol, t, now)); err != nil {
			return err
		}
	}
	return c.Flush(ctx)
}

func (c *BatchClient) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	// JSONEachRow: one JSON object per line
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gzWriter)
	for _, row := range c.buffer {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("gzip error: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", c.table)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	endpoint := fmt.Sprintf("%s/?query=%s&%s", c.baseURL, url.QueryEscape(query), settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, string(body))
	}

	c.buffer = c.buffer[:0]
	return nil
}

// Pending returns the number of buffered rows
func (c *BatchClient) Pending() int { return len(c.buffer) }

func (c *BatchClient) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
