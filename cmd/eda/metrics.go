package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"eda/internal/config"
	"eda/internal/metrics"
	"eda/internal/metrics/datadog"
	"eda/internal/metrics/prompush"
)

type metricsBackend interface {
	Close() error
}

type flushBackend interface {
	Flush() error
}

// Seams for tests.
var (
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (flushBackend, error) {
		return prompush.NewBackend(job, url)
	}
	logPrintf = func(format string, v ...any) {
		slog.Default().Info(fmt.Sprintf(format, v...))
	}
)

const defaultPushgatewayURL = "http://localhost:9091"

// initMetrics installs the backend named by rt.MetricsBackend. The returned
// cleanup is never nil; it flushes or closes the backend and is safe to call
// once.
func initMetrics(ctx context.Context, jobName string, rt config.Runtime) (func(), error) {
	noop := func() {}
	if jobName == "" {
		jobName = "eda"
	}

	switch name := strings.ToLower(strings.TrimSpace(rt.MetricsBackend)); name {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		// Buffers and submits every FlushEvery; Close submits the rest.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prometheus":
		url := pushgatewayURL(rt.PushgatewayURL)
		b, err := newPushBackend(jobName, url)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", name)
	}
}

// pushgatewayURL resolves the Pushgateway URL: configured value, then
// PUSHGATEWAY_URL, then the local default.
func pushgatewayURL(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		return v
	}
	return defaultPushgatewayURL
}
