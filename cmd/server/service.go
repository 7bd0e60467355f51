package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pb "fade-backtest/proto"
	"fade-backtest/services/arrowpipeline"
	"fade-backtest/services/clickhouse"
	"fade-backtest/services/config"
	"fade-backtest/services/engine"
	"fade-backtest/services/ingest"
	"fade-backtest/services/monitoring"
	"fade-backtest/services/report"
	"fade-backtest/services/sweep"
)

const serviceVersion = "1.0.0"

// BacktestService runs level-fade backtests on request
type BacktestService struct {
	config        *config.Config
	defaults      engine.Config
	jobs          *JobStore
	clickhouse    *clickhouse.Client
	arrowPipeline *arrowpipeline.Pipeline
	monitoring    *monitoring.Metrics
	runner        *sweep.Runner
	logger        *zap.Logger
}

// NewBacktestService wires the service from configuration, connecting to ClickHouse when enabled
func NewBacktestService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*BacktestService, error) {
	defaults := engine.DefaultConfig()
	if cfg.Engine.ConfigPath != "" {
		loaded, err := engine.LoadConfigFile(cfg.Engine.ConfigPath)
		if err != nil {
			return nil, err
		}
		defaults = loaded
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("engine defaults: %w", err)
	}

	var chClient *clickhouse.Client
	if cfg.ClickHouse.Enabled {
		opts := clickhouse.Options{
			Addr:        cfg.ClickHouse.Addr,
			Database:    cfg.ClickHouse.Database,
			Username:    cfg.ClickHouse.Username,
			Password:    cfg.ClickHouse.Password,
			DialTimeout: cfg.ClickHouse.DialTimeout,
		}
		if cfg.ClickHouse.DSN != "" {
			parsed, err := clickhouse.OptionsFromDSN(cfg.ClickHouse.DSN)
			if err != nil {
				return nil, err
			}
			opts = parsed
		}
		opts.BarsTable = cfg.ClickHouse.BarsTable
		opts.TradesTable = cfg.ClickHouse.TradesTable

		client, err := clickhouse.Open(ctx, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		chClient = client
	}

	return newBacktestService(cfg, defaults, chClient, logger), nil
}

func newBacktestService(cfg *config.Config, defaults engine.Config, ch *clickhouse.Client, logger *zap.Logger) *BacktestService {
	metrics := monitoring.NewMetrics(cfg.Monitoring)
	planner := sweep.NewPlanner(cfg.Engine.MaxSweepCombos, cfg.Engine.MaxWorkers)
	return &BacktestService{
		config:        cfg,
		defaults:      defaults,
		jobs:          NewJobStore(cfg.Engine.MaxJobs),
		clickhouse:    ch,
		arrowPipeline: arrowpipeline.NewPipeline(cfg.Arrow, logger),
		monitoring:    metrics,
		runner:        sweep.NewRunner(planner, logger, metrics),
		logger:        logger,
	}
}

func (s *BacktestService) Close() error {
	if s.clickhouse != nil {
		return s.clickhouse.Close()
	}
	return nil
}

// engineConfig overlays a request's YAML or JSON onto the service defaults
func (s *BacktestService) engineConfig(raw []byte) (engine.Config, *pb.APIError) {
	cfg := s.defaults
	if len(raw) > 0 {
		var err error
		if cfg, err = s.defaults.Overlay(raw); err != nil {
			return engine.Config{}, pb.ErrInvalidConfig.WithDetails(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, pb.ErrInvalidConfig.WithDetails(err)
	}
	return cfg, nil
}

func (s *BacktestService) loadBars(ctx context.Context, inline []engine.Bar, src *pb.DataSource) ([]engine.Bar, *pb.APIError) {
	if src == nil {
		for i, b := range inline {
			if err := ingest.ValidateBar(b); err != nil {
				return nil, pb.ErrInvalidParams.WithDetails(fmt.Errorf("bars[%d]: %w", i, err))
			}
		}
		bars, dups := ingest.Normalize(inline)
		if dups > 0 {
			s.logger.Warn("Dropped duplicate bars", zap.Int("duplicates", dups))
		}
		s.monitoring.BarsLoaded("request", len(bars))
		return bars, nil
	}

	if s.clickhouse == nil {
		return nil, pb.ErrDataNotFound.WithDetails(errors.New("clickhouse source is not configured"))
	}
	bars, err := s.clickhouse.LoadBars(ctx, src.Symbol, src.From, src.To)
	if err != nil {
		return nil, pb.ErrDataNotFound.WithDetails(err)
	}
	if len(bars) == 0 {
		return nil, pb.ErrDataNotFound.WithDetails(fmt.Errorf("no bars for %s in [%s, %s)", src.Symbol, src.From, src.To))
	}
	s.monitoring.BarsLoaded("clickhouse", len(bars))
	return bars, nil
}

// ExecuteBacktest runs one configuration and stores the job
func (s *BacktestService) ExecuteBacktest(ctx context.Context, req *pb.BacktestRequest) (*Job, *pb.APIError) {
	startTime := time.Now()
	jobID := uuid.New().String()
	s.monitoring.JobStarted()
	defer s.monitoring.JobFinished()

	cfg, apiErr := s.engineConfig(req.Config)
	if apiErr != nil {
		return nil, apiErr
	}
	bars, apiErr := s.loadBars(ctx, req.Bars, req.Source)
	if apiErr != nil {
		return nil, apiErr
	}

	s.logger.Info("Starting backtest execution",
		zap.String("job_id", jobID),
		zap.Int("bars", len(bars)),
		zap.String("config_hash", cfg.Hash()),
	)

	var events *engine.EventLog
	if req.Events {
		events = &engine.EventLog{}
	}
	eng, err := engine.New(cfg,
		engine.WithLogger(s.logger.With(zap.String("job_id", jobID))),
		engine.WithEventLog(events),
	)
	if err != nil {
		return nil, pb.ErrInvalidConfig.WithDetails(err)
	}

	trades, err := eng.Run(ctx, bars)
	s.monitoring.ObserveRun("backtest", time.Since(startTime), trades, err)
	if err != nil {
		s.logger.Error("Backtest execution failed", zap.String("job_id", jobID), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, pb.ErrTimeout.WithDetails(err)
		}
		return nil, pb.ErrExecutionFailed.WithDetails(err)
	}

	symbol := s.config.ClickHouse.Symbol
	if req.Source != nil {
		symbol = req.Source.Symbol
	}
	if req.Persist {
		if s.clickhouse == nil {
			return nil, pb.ErrStorageFailed.WithDetails(errors.New("clickhouse is not configured"))
		}
		if err := s.clickhouse.SaveTrades(ctx, jobID, symbol, trades); err != nil {
			return nil, pb.ErrStorageFailed.WithDetails(err)
		}
	}

	job := &Job{
		ID:        jobID,
		Status:    "completed",
		Symbol:    symbol,
		CreatedAt: startTime,
		Duration:  time.Since(startTime),
		Manifest:  engine.NewRunManifest(jobID, cfg, bars, len(trades)),
		Summary:   report.GenerateSummary(trades),
		Levels:    report.StatsByLevel(trades),
		Trades:    trades,
	}
	if events != nil {
		job.Events = events.Events
	}
	s.jobs.Put(job)

	s.logger.Info("Backtest completed",
		zap.String("job_id", jobID),
		zap.Duration("execution_time", job.Duration),
		zap.Int("trades", len(trades)),
		zap.String("net_pnl", job.Summary.NetPnL.StringFixed(2)),
	)
	return job, nil
}

// ExecuteSweep runs the grid and returns the ranked results
func (s *BacktestService) ExecuteSweep(ctx context.Context, req *pb.SweepRequest) (*pb.SweepResponse, *pb.APIError) {
	startTime := time.Now()
	jobID := uuid.New().String()
	s.monitoring.JobStarted()
	defer s.monitoring.JobFinished()

	cfg, apiErr := s.engineConfig(req.Config)
	if apiErr != nil {
		return nil, apiErr
	}
	bars, apiErr := s.loadBars(ctx, req.Bars, req.Source)
	if apiErr != nil {
		return nil, apiErr
	}

	results, err := s.runner.Run(ctx, cfg, req.Grid, bars)
	switch {
	case errors.Is(err, engine.ErrInvalidConfig), errors.Is(err, sweep.ErrEmptyGrid), errors.Is(err, sweep.ErrTooManyCombos):
		return nil, pb.ErrInvalidParams.WithDetails(err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, pb.ErrTimeout.WithDetails(err)
	case err != nil:
		return nil, pb.ErrExecutionFailed.WithDetails(err)
	}

	combos := len(results)
	if req.Top > 0 && len(results) > req.Top {
		results = results[:req.Top]
	}
	s.logger.Info("Sweep completed",
		zap.String("job_id", jobID),
		zap.Int("combos", combos),
		zap.Duration("execution_time", time.Since(startTime)),
	)
	return &pb.SweepResponse{
		JobID:      jobID,
		Status:     "completed",
		DurationMs: time.Since(startTime).Milliseconds(),
		Combos:     combos,
		Results:    results,
	}, nil
}
