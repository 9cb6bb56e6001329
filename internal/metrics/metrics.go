// Package metrics exposes run metrics in the Prometheus text format.
//
// A Collector is a progress.Reporter; after the run the registry is written
// to a file picked up by the node exporter textfile collector.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/progress"
)

const namespace = "treesync"

// Collector gathers the metrics of one run into a private registry
type Collector struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  prometheus.Counter
	warningsTotal     *prometheus.CounterVec
	planOperations    prometheus.Gauge
	runDuration       prometheus.Gauge
	runFailures       prometheus.Gauge
	runCancelled      prometheus.Gauge
	lastRunTimestamp  prometheus.Gauge

	mu      sync.Mutex
	started map[string]time.Time
}

var _ progress.Reporter = (*Collector)(nil)

// New creates a collector with its own registry
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Plan operations by kind and result",
			},
			[]string{"kind", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing one operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		bytesTransferred: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "File content bytes written to the target",
			},
		),
		warningsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Entries that could not be read, by side",
			},
			[]string{"side"},
		),
		planOperations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plan_operations",
				Help:      "Operations in the plan of the last run",
			},
		),
		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_duration_seconds",
				Help:      "Wall time of the last run",
			},
		),
		runFailures: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_failures",
				Help:      "Failed operations in the last run",
			},
		),
		runCancelled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_cancelled",
				Help:      "1 if the last run was cancelled",
			},
		),
		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),

		started: make(map[string]time.Time),
	}
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// PlanReady records the plan size
func (c *Collector) PlanReady(count int) {
	c.planOperations.Set(float64(count))
}

// OperationStart notes when an operation began
func (c *Collector) OperationStart(op domain.Operation) {
	c.mu.Lock()
	c.started[op.String()] = time.Now()
	c.mu.Unlock()
}

// OperationDone counts the result and observes the duration of executed operations
func (c *Collector) OperationDone(op domain.Operation, result domain.Result) {
	c.operationsTotal.WithLabelValues(string(op.Kind), result.Status.String()).Inc()
	if result.Bytes > 0 {
		c.bytesTransferred.Add(float64(result.Bytes))
	}

	c.mu.Lock()
	start, ok := c.started[op.String()]
	delete(c.started, op.String())
	c.mu.Unlock()

	if ok {
		c.operationDuration.WithLabelValues(string(op.Kind)).Observe(time.Since(start).Seconds())
	}
}

// Warning counts an unreadable entry
func (c *Collector) Warning(w domain.Warning) {
	c.warningsTotal.WithLabelValues(w.Side).Inc()
}

// RunDone records the run summary
func (c *Collector) RunDone(outcome *domain.Outcome) {
	if outcome == nil {
		return
	}
	c.runDuration.Set(outcome.Elapsed.Seconds())
	c.runFailures.Set(float64(outcome.Totals.Failed))
	if outcome.Cancelled {
		c.runCancelled.Set(1)
	} else {
		c.runCancelled.Set(0)
	}
	c.lastRunTimestamp.Set(float64(outcome.StartedAt.Add(outcome.Elapsed).Unix()))
}

// WriteFile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (c *Collector) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
