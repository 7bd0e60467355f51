// Package monitoring exposes Prometheus metrics for backtest runs
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fade-backtest/services/engine"
)

type Config struct {
	Namespace string `yaml:"namespace" default:"fade"`
}

// Metrics records run and trade counters on its own registry
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	trades      *prometheus.CounterVec
	pnlPoints   *prometheus.HistogramVec
	barsLoaded  *prometheus.CounterVec
	activeJobs  prometheus.Gauge
}

func NewMetrics(cfg Config) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "fade"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "runs_total",
				Help:      "Backtest runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a single engine run",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		trades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "trades_total",
				Help:      "Simulated trades by level and exit status",
			},
			[]string{"level", "status"},
		),
		pnlPoints: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "trade_pnl_points",
				Help:      "Per-trade result in index points",
				Buckets:   []float64{-20, -10, -5, -2, 0, 2, 5, 10, 20, 40},
			},
			[]string{"direction"},
		),
		barsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "bars_loaded_total",
				Help:      "Bars accepted from each source",
			},
			[]string{"source"},
		),
		activeJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_jobs",
				Help:      "Backtest jobs currently executing",
			},
		),
	}
}

// ObserveRun records one finished run; trades are ignored when err is set
func (m *Metrics) ObserveRun(kind string, d time.Duration, trades []engine.Trade, err error) {
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		m.runs.WithLabelValues(kind, "error").Inc()
		return
	}
	m.runs.WithLabelValues(kind, "ok").Inc()
	for _, t := range trades {
		m.trades.WithLabelValues(string(t.LevelTag), t.Status.String()).Inc()
		m.pnlPoints.WithLabelValues(t.Direction.String()).Observe(t.PnLPoints)
	}
}

func (m *Metrics) BarsLoaded(source string, n int) {
	m.barsLoaded.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) JobStarted()  { m.activeJobs.Inc() }
func (m *Metrics) JobFinished() { m.activeJobs.Dec() }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
