package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	pb "fade-backtest/proto"
	"fade-backtest/services/engine"
	"fade-backtest/services/ingest"
	"fade-backtest/services/report"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HTTP handlers for REST API
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.GET("/backtest/:job_id/trades.csv", s.handleTradesCSV)
		api.GET("/backtest/:job_id/trades.arrow", s.handleTradesArrow)
		api.GET("/backtest/:job_id/events.csv", s.handleEventsCSV)
		api.POST("/sweep", s.handleSweepRequest)
		api.GET("/health", s.handleHealthCheck)
	}
	r.GET("/metrics", gin.WrapH(s.monitoring.Handler()))
}

func statusFor(e *pb.APIError) int {
	switch e.Code {
	case pb.ErrInvalidParams.Code, pb.ErrInvalidConfig.Code, pb.ErrInvalidData.Code:
		return http.StatusBadRequest
	case pb.ErrDataNotFound.Code, pb.ErrJobNotFound.Code:
		return http.StatusNotFound
	case pb.ErrTimeout.Code:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, e *pb.APIError) {
	c.AbortWithStatusJSON(statusFor(e), pb.BacktestResponse{Status: "failed", Error: e})
}

// bindJSON decodes, fills defaults and validates a request body
func bindJSON(c *gin.Context, req any) *pb.APIError {
	if err := c.ShouldBindJSON(req); err != nil {
		return pb.ErrInvalidParams.WithDetails(err)
	}
	if err := defaults.Set(req); err != nil {
		return pb.ErrInvalidParams.WithDetails(err)
	}
	if err := validate.StructCtx(c.Request.Context(), req); err != nil {
		return pb.ErrInvalidParams.WithDetails(err)
	}
	return nil
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req pb.BacktestRequest
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		if apiErr := s.bindMultipart(c, &req); apiErr != nil {
			abortWithError(c, apiErr)
			return
		}
	} else if apiErr := bindJSON(c, &req); apiErr != nil {
		abortWithError(c, apiErr)
		return
	}

	job, apiErr := s.ExecuteBacktest(c.Request.Context(), &req)
	if apiErr != nil {
		s.logger.Error("Backtest request failed", zap.String("code", apiErr.Code), zap.String("details", apiErr.Details))
		abortWithError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, jobResponse(job, true))
}

// bindMultipart reads a CSV upload ("file") plus an optional YAML or JSON "config" field
func (s *BacktestService) bindMultipart(c *gin.Context, req *pb.BacktestRequest) *pb.APIError {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.Server.MaxUploadBytes)

	req.Config = []byte(c.PostForm("config"))
	req.Persist = c.PostForm("persist") == "true"
	req.Events = c.PostForm("events") == "true"

	cfg, apiErr := s.engineConfig(req.Config)
	if apiErr != nil {
		return apiErr
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return pb.ErrInvalidConfig.WithDetails(err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return pb.ErrInvalidParams.WithDetails(fmt.Errorf("file: %w", err))
	}
	f, err := header.Open()
	if err != nil {
		return pb.ErrInvalidData.WithDetails(err)
	}
	defer f.Close()

	bars, stats, err := ingest.NewLoader(loc, s.logger).Load(f)
	if err != nil {
		return pb.ErrInvalidData.WithDetails(err)
	}
	if len(bars) == 0 {
		return pb.ErrInvalidData.WithDetails(fmt.Errorf("%s: no valid rows (%d rejected)", header.Filename, stats.Rejected))
	}
	s.monitoring.BarsLoaded("csv", len(bars))
	req.Bars = bars
	return nil
}

func (s *BacktestService) lookupJob(c *gin.Context) (*Job, bool) {
	job, ok := s.jobs.Get(c.Param("job_id"))
	if !ok {
		abortWithError(c, pb.ErrJobNotFound.WithDetails(fmt.Errorf("job %s", c.Param("job_id"))))
	}
	return job, ok
}

func jobResponse(job *Job, withTrades bool) pb.BacktestResponse {
	resp := pb.BacktestResponse{
		JobID:      job.ID,
		Status:     job.Status,
		DurationMs: job.Duration.Milliseconds(),
		Manifest:   &job.Manifest,
		Summary:    &job.Summary,
		Levels:     job.Levels,
		Events:     job.Events,
	}
	if withTrades {
		resp.Trades = job.Trades
	}
	return resp
}

// sortedTrades honours ?sort=<column>&order=asc|desc; the default is date descending
func sortedTrades(c *gin.Context, job *Job) []engine.Trade {
	key := report.SortKey(c.DefaultQuery("sort", string(report.SortDate)))
	desc := !strings.EqualFold(c.Query("order"), "asc")
	return report.SortTrades(job.Trades, key, desc)
}

func (s *BacktestService) handleGetBacktestResult(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	resp := jobResponse(job, c.Query("trades") != "false")
	if resp.Trades != nil {
		resp.Trades = sortedTrades(c, job)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleTradesCSV(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=trades_%s.csv", job.ID))
	s.stream(c, func(w io.Writer) error { return report.WriteCSV(w, sortedTrades(c, job)) })
}

func (s *BacktestService) handleTradesArrow(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "application/vnd.apache.arrow.stream")
	s.stream(c, func(w io.Writer) error { return s.arrowPipeline.WriteTrades(w, job.Trades) })
}

func (s *BacktestService) handleEventsCSV(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv")
	s.stream(c, func(w io.Writer) error { return report.WriteEvents(w, job.Events) })
}

func (s *BacktestService) stream(c *gin.Context, write func(io.Writer) error) {
	c.Status(http.StatusOK)
	if err := write(c.Writer); err != nil {
		s.logger.Error("Failed to stream export", zap.String("path", c.FullPath()), zap.Error(err))
	}
}

func (s *BacktestService) handleSweepRequest(c *gin.Context) {
	var req pb.SweepRequest
	if apiErr := bindJSON(c, &req); apiErr != nil {
		abortWithError(c, apiErr)
		return
	}
	resp, apiErr := s.ExecuteSweep(c.Request.Context(), &req)
	if apiErr != nil {
		c.AbortWithStatusJSON(statusFor(apiErr), pb.SweepResponse{Status: "failed", Error: apiErr})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	resp := pb.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Unix(),
		Version:   serviceVersion,
	}
	if s.clickhouse != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		resp.ClickHouse = "ok"
		if err := s.clickhouse.Ping(ctx); err != nil {
			resp.Status, resp.ClickHouse = "degraded", err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
