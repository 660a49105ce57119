// Package prompush is a metrics.Backend that records into a private
// Prometheus registry and pushes it to a Pushgateway on Flush. It suits
// batch runs that end before any scraper would see them.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"eda/internal/metrics"
)

type Backend struct {
	reg *prometheus.Registry

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec

	// push sends the registry; replaced in tests.
	push func() error
}

// NewBackend registers the pipeline metrics and targets the gateway at url
// under job.
func NewBackend(job, url string) (*Backend, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "eda"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps finished, by step and status.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Wall time of pipeline steps.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows loaded, written or dropped.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	pusher := push.New(url, job).Gatherer(b.reg)
	b.push = pusher.Push
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(l["step"], status(l)).Add(delta)
	case metrics.RecordsTotal:
		if l["kind"] == "" {
			return
		}
		b.records.WithLabelValues(l["kind"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, v float64, l metrics.Labels) {
	if v < 0 || name != metrics.StepDuration {
		return
	}
	b.durations.WithLabelValues(l["step"], status(l)).Observe(v)
}

// Flush pushes the whole registry, replacing the previous push for the job.
func (b *Backend) Flush() error {
	if err := b.push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func status(l metrics.Labels) string {
	if s := l["status"]; s != "" {
		return s
	}
	return "unknown"
}

var _ metrics.Backend = (*Backend)(nil)
var _ metrics.Flusher = (*Backend)(nil)
