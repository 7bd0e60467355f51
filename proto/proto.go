// Package proto holds the request and response shapes of the backtest API
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"fade-backtest/services/engine"
	"fade-backtest/services/report"
	"fade-backtest/services/sweep"
)

// APIError is the error body of every failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var (
	ErrInvalidParams   = APIError{Code: "INVALID_PARAMS", Message: "Invalid parameters provided"}
	ErrInvalidConfig   = APIError{Code: "INVALID_CONFIG", Message: "Engine configuration rejected"}
	ErrInvalidData     = APIError{Code: "INVALID_DATA", Message: "Bar data could not be parsed"}
	ErrDataNotFound    = APIError{Code: "DATA_NOT_FOUND", Message: "Required data not available"}
	ErrJobNotFound     = APIError{Code: "JOB_NOT_FOUND", Message: "Unknown job id"}
	ErrExecutionFailed = APIError{Code: "EXECUTION_FAILED", Message: "Backtest execution failed"}
	ErrStorageFailed   = APIError{Code: "STORAGE_FAILED", Message: "Result could not be stored"}
	ErrTimeout         = APIError{Code: "TIMEOUT", Message: "Operation timed out"}
)

func (e APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// WithDetails returns a copy carrying err's text
func (e APIError) WithDetails(err error) *APIError {
	e.Details = err.Error()
	return &e
}

// DataSource selects stored bars instead of inline ones
type DataSource struct {
	Symbol string    `json:"symbol" validate:"required"`
	From   time.Time `json:"from" validate:"required"`
	To     time.Time `json:"to" validate:"required,gtfield=From"`
}

// BacktestRequest runs one configuration. Config keys overlay the engine defaults.
type BacktestRequest struct {
	Bars    []engine.Bar    `json:"bars" validate:"required_without=Source"`
	Source  *DataSource     `json:"source,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
	Persist bool            `json:"persist"`
	Events  bool            `json:"events"`
}

type BacktestResponse struct {
	JobID      string               `json:"job_id"`
	Status     string               `json:"status"`
	DurationMs int64                `json:"duration_ms"`
	Manifest   *engine.RunManifest  `json:"manifest,omitempty"`
	Summary    *report.TradeSummary `json:"summary,omitempty"`
	Levels     []report.LevelStats  `json:"levels,omitempty"`
	Trades     []engine.Trade       `json:"trades,omitempty"`
	Events     []engine.Event       `json:"events,omitempty"`
	Error      *APIError            `json:"error,omitempty"`
}

type SweepRequest struct {
	Bars   []engine.Bar    `json:"bars" validate:"required_without=Source"`
	Source *DataSource     `json:"source,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
	Grid   sweep.Grid      `json:"grid"`
	Top    int             `json:"top" default:"10" validate:"gte=0"`
}

type SweepResponse struct {
	JobID      string         `json:"job_id"`
	Status     string         `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Combos     int            `json:"combos"`
	Results    []sweep.Result `json:"results,omitempty"`
	Error      *APIError      `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
	Version    string `json:"version"`
	ClickHouse string `json:"clickhouse,omitempty"`
}
