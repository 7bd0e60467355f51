package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pb "fade-backtest/proto"
	"fade-backtest/services/config"
	"fade-backtest/services/engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func walkFeed(seed int64, days int) []engine.Bar {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	price := 18000.0
	var bars []engine.Bar
	for m := 0; m < days*24*60; m++ {
		open := price
		closeP := math.Round((open+rng.NormFloat64()*3)*4) / 4
		high := math.Max(open, closeP) + math.Round(rng.Float64()*8)/4
		low := math.Min(open, closeP) - math.Round(rng.Float64()*8)/4
		bars = append(bars, engine.Bar{Time: start.Add(time.Duration(m) * time.Minute), Open: open, High: high, Low: low, Close: closeP})
		price = closeP
	}
	return bars
}

func newTestServer(t *testing.T) (*BacktestService, *gin.Engine) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Monitoring.Namespace = "fade"
	svc := newBacktestService(cfg, engine.DefaultConfig(), nil, zap.NewNop())
	return svc, newRouter(svc)
}

func do(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postJSON(r http.Handler, path string, v any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	return do(r, http.MethodPost, path, bytes.NewReader(b), "application/json")
}

func directRun(t *testing.T, bars []engine.Bar) []engine.Trade {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Timezone = "UTC"
	eng, err := engine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	trades, err := eng.Run(context.Background(), bars)
	if err != nil {
		t.Fatal(err)
	}
	return trades
}

func TestBacktestLifecycle(t *testing.T) {
	_, r := newTestServer(t)
	bars := walkFeed(5, 3)
	want := directRun(t, bars)

	rec := postJSON(r, "/api/v1/backtest", map[string]any{
		"bars":   bars,
		"config": map[string]any{"timezone": "UTC"},
		"events": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp pb.BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" || resp.Status != "completed" || len(resp.Trades) != len(want) {
		t.Fatalf("job %q status %q trades %d, want %d", resp.JobID, resp.Status, len(resp.Trades), len(want))
	}
	if resp.Manifest == nil || resp.Manifest.Bars != len(bars) || resp.Manifest.Config.Timezone != "UTC" {
		t.Fatalf("manifest = %+v", resp.Manifest)
	}
	if resp.Summary == nil || resp.Summary.TotalTrades != len(want) {
		t.Fatalf("summary = %+v", resp.Summary)
	}

	get := do(r, http.MethodGet, "/api/v1/backtest/"+resp.JobID+"?trades=false", nil, "")
	if get.Code != http.StatusOK || strings.Contains(get.Body.String(), `"trades"`) {
		t.Fatalf("get: %d %s", get.Code, get.Body)
	}

	csvRec := do(r, http.MethodGet, "/api/v1/backtest/"+resp.JobID+"/trades.csv?sort=pnl_usd&order=asc", nil, "")
	if csvRec.Code != http.StatusOK || !strings.HasPrefix(csvRec.Body.String(), "id,date,entry_time") {
		t.Fatalf("csv: %d %.80s", csvRec.Code, csvRec.Body)
	}

	arrowRec := do(r, http.MethodGet, "/api/v1/backtest/"+resp.JobID+"/trades.arrow", nil, "")
	reader, err := ipc.NewReader(arrowRec.Body)
	if err != nil {
		t.Fatalf("arrow: %v", err)
	}
	defer reader.Release()
	var rows int64
	for reader.Next() {
		rows += reader.Record().NumRows()
	}
	if rows != int64(len(want)) {
		t.Fatalf("arrow rows = %d, want %d", rows, len(want))
	}

	events := do(r, http.MethodGet, "/api/v1/backtest/"+resp.JobID+"/events.csv", nil, "")
	if !strings.HasPrefix(events.Body.String(), "date,time,event,level,price,message") {
		t.Fatalf("events: %.80s", events.Body)
	}
}

func TestBacktestErrors(t *testing.T) {
	_, r := newTestServer(t)
	bars := walkFeed(1, 1)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"invalid config", map[string]any{"bars": bars, "config": map[string]any{"default_stop_pts": -1}}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"bad timezone", map[string]any{"bars": bars, "config": map[string]any{"timezone": "Mars/Olympus"}}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"no data", map[string]any{}, http.StatusBadRequest, "INVALID_PARAMS"},
		{"bar range too wide", map[string]any{"bars": []map[string]any{
			{"time": "2024-03-04T15:00:00Z", "open": 1, "high": 1e12, "low": 0, "close": 1},
		}}, http.StatusBadRequest, "INVALID_PARAMS"},
		{"inverted bar", map[string]any{"bars": []map[string]any{
			{"time": "2024-03-04T15:00:00Z", "open": 100, "high": 99, "low": 101, "close": 100},
		}}, http.StatusBadRequest, "INVALID_PARAMS"},
		{"source without clickhouse", map[string]any{"source": map[string]any{
			"symbol": "NQ", "from": "2024-03-01T00:00:00Z", "to": "2024-03-02T00:00:00Z",
		}}, http.StatusNotFound, "DATA_NOT_FOUND"},
		{"persist without clickhouse", map[string]any{"bars": bars, "persist": true}, http.StatusInternalServerError, "STORAGE_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(r, "/api/v1/backtest", tt.body)
			var resp pb.BacktestResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if rec.Code != tt.status || resp.Error == nil || resp.Error.Code != tt.code {
				t.Fatalf("status %d body %s", rec.Code, rec.Body)
			}
		})
	}

	rec := do(r, http.MethodGet, "/api/v1/backtest/nope", nil, "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "JOB_NOT_FOUND") {
		t.Fatalf("unknown job: %d %s", rec.Code, rec.Body)
	}
}

func TestBacktestCSVUpload(t *testing.T) {
	_, r := newTestServer(t)
	bars := walkFeed(9, 2)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("config", "timezone: UTC\n")
	fw, _ := mw.CreateFormFile("file", "nq.csv")
	fmt.Fprintln(fw, "Date,Time,Open,High,Low,Last")
	for _, b := range bars {
		fmt.Fprintf(fw, "%s,%s,%g,%g,%g,%g\n", b.Time.Format("2006-01-02"), b.Time.Format("15:04"), b.Open, b.High, b.Low, b.Close)
	}
	mw.Close()

	rec := do(r, http.MethodPost, "/api/v1/backtest", &body, mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp pb.BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if want := directRun(t, bars); len(resp.Trades) != len(want) || resp.Manifest.Bars != len(bars) {
		t.Fatalf("upload run: %d trades over %d bars, want %d trades", len(resp.Trades), resp.Manifest.Bars, len(want))
	}
}

func TestSweepEndpoint(t *testing.T) {
	_, r := newTestServer(t)
	rec := postJSON(r, "/api/v1/sweep", map[string]any{
		"bars":   walkFeed(2, 3),
		"config": map[string]any{"timezone": "UTC"},
		"grid":   map[string]any{"stop_pts": []float64{5, 10}, "target_pts": []float64{10, 20}},
		"top":    3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp pb.SweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Combos != 4 || len(resp.Results) != 3 {
		t.Fatalf("combos %d results %d", resp.Combos, len(resp.Results))
	}

	bad := postJSON(r, "/api/v1/sweep", map[string]any{
		"bars": walkFeed(2, 1),
		"grid": map[string]any{"stop_pts": []float64{-5}},
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("negative stop: %d %s", bad.Code, bad.Body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	svc, r := newTestServer(t)
	postJSON(r, "/api/v1/backtest", map[string]any{"bars": walkFeed(4, 2), "config": map[string]any{"timezone": "UTC"}})

	rec := do(r, http.MethodGet, "/api/v1/health", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}
	metrics := do(r, http.MethodGet, "/metrics", nil, "")
	if !strings.Contains(metrics.Body.String(), `fade_runs_total{kind="backtest",outcome="ok"} 1`) {
		t.Fatalf("metrics missing run counter:\n%s", metrics.Body)
	}
	if svc.jobs.Len() != 1 {
		t.Fatalf("jobs = %d", svc.jobs.Len())
	}
}

func TestJobStoreEvictsOldest(t *testing.T) {
	s := NewJobStore(2)
	for _, id := range []string{"a", "b", "c"} {
		s.Put(&Job{ID: id})
	}
	if _, ok := s.Get("a"); ok || s.Len() != 2 {
		t.Fatalf("len = %d, oldest kept = %v", s.Len(), ok)
	}
}
