// Package prompush implements a metrics.Backend that keeps Prometheus
// collectors in a private registry and pushes them to a Pushgateway on Flush.
//
// A batch job does not live long enough to be scraped, so the gateway holds
// the last pushed values for Prometheus to pick up.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"imdbetl/internal/metrics"
)

// Backend implements metrics.Backend on top of client_golang collectors.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
	nullCells *prometheus.CounterVec
	batches   prometheus.Counter
}

// NewBackend registers the pipeline collectors and prepares a pusher for
// gatewayURL under job jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: pushgateway url is empty")
	}
	if jobName == "" {
		jobName = "imdb-etl"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records by kind (read, loaded, rejected).",
		}, []string{"kind"}),
		nullCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.NullCellsTotal,
			Help: "Numeric cells that failed coercion and were written as null.",
		}, []string{"column"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Write batches sent to the warehouse.",
		}),
	}
	b.reg.MustRegister(b.steps, b.durations, b.records, b.nullCells, b.batches)
	b.pusher = push.New(gatewayURL, jobName).Gatherer(b.reg)
	return b, nil
}

// Grouping adds a grouping label (e.g. run_id) to every push.
func (b *Backend) Grouping(name, value string) *Backend {
	b.pusher = b.pusher.Grouping(name, value)
	return b
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if labels["kind"] == "" {
			return
		}
		b.records.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.NullCellsTotal:
		col := labels["column"]
		if col == "" {
			col = "unknown"
		}
		b.nullCells.WithLabelValues(col).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush replaces the job's metric group on the gateway (HTTP PUT).
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
