package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"eda/internal/config"
	"eda/internal/datasource"
	"eda/internal/loader"
	"eda/internal/logging"
	"eda/internal/metrics/datadog"
	"eda/internal/pipeline"
	"eda/internal/table"
)

// fakeRunner records calls and returns a configurable error.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
}

func (r *fakeRunner) Run(_ context.Context, p config.Pipeline) (pipeline.Result, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = p
	r.mu.Unlock()
	return pipeline.Result{RunID: "run-1"}, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

type fakePushBackend struct {
	flushed atomic.Int64
}

func (b *fakePushBackend) Flush() error {
	b.flushed.Add(1)
	return nil
}

func discardLogger(io.Writer, logging.Options) (*slog.Logger, func(), error) {
	return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
}

// strictDeps fails the test on any side effect.
func strictDeps(t *testing.T) appDeps {
	return appDeps{
		readFile: func(string) ([]byte, error) {
			t.Fatalf("readFile must not be called")
			return nil, nil
		},
		unmarshal: func([]byte, string, any) error {
			t.Fatalf("unmarshal must not be called")
			return nil
		},
		initMetrics: func(context.Context, string, config.Runtime) (func(), error) {
			t.Fatalf("initMetrics must not be called")
			return func() {}, nil
		},
		newLogger: func(io.Writer, logging.Options) (*slog.Logger, func(), error) {
			t.Fatalf("newLogger must not be called")
			return nil, nil, nil
		},
		newRunner: func(*slog.Logger) runner {
			t.Fatalf("newRunner must not be called")
			return &fakeRunner{}
		},
		load: func(context.Context, config.Source, loader.Options) (*table.Table, loader.Stats, error) {
			t.Fatalf("load must not be called")
			return nil, loader.Stats{}, nil
		},
		peek: func(context.Context, string, int, datasource.Options) ([]byte, error) {
			t.Fatalf("peek must not be called")
			return nil, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: []string{"run"}, wantStderrSub: "usage: eda run --config"},
		{name: "empty_config_value", args: []string{"validate", "--config", "   "}, wantStderrSub: "usage: eda validate --config"},
		{name: "unknown_flag", args: []string{"run", "--nope"}, wantStderrSub: "unknown flag: --nope"},
		{name: "unknown_command", args: []string{"explode"}, wantStderrSub: `unknown command "explode"`},
		{name: "probe_without_uri", args: []string{"probe"}, wantStderrSub: "accepts 1 arg(s)"},
		{name: "run_with_args", args: []string{"run", "extra", "-c", "cfg.json"}, wantStderrSub: "unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, strictDeps(t))

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_ReadParseMetricsRun_FullFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "read_config_error", readErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "read config:"},
		{name: "parse_config_error", unmarshalErr: errors.New("bad json"), wantCode: 1, wantStderrSub: "parse config:"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("steps[0] groupby:by_region: unknown column"),
			wantCode:         1,
			wantStderrSub:    "run: steps[0]",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{name: "success", wantCode: 0, wantStdout: "ok\n", wantRunnerCalls: 1, wantCleanupCalls: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}
			var cleanupCalls atomic.Int64

			deps := strictDeps(t)
			deps.readFile = func(path string) ([]byte, error) {
				if path != "cfg.json" {
					t.Fatalf("readFile path=%q, want cfg.json", path)
				}
				if tc.readErr != nil {
					return nil, tc.readErr
				}
				return []byte(`{"job":"job1"}`), nil
			}
			deps.unmarshal = func(_ []byte, _ string, v any) error {
				if tc.unmarshalErr != nil {
					return tc.unmarshalErr
				}
				p, ok := v.(*config.Pipeline)
				if !ok {
					t.Fatalf("unmarshal target type=%T, want *config.Pipeline", v)
				}
				p.Job = "job1"
				return nil
			}
			deps.newLogger = discardLogger
			deps.initMetrics = func(_ context.Context, jobName string, rt config.Runtime) (func(), error) {
				if jobName != "job1" {
					t.Fatalf("jobName=%q, want job1", jobName)
				}
				if rt.MetricsBackend != "none" {
					t.Fatalf("backend=%q, want flag value", rt.MetricsBackend)
				}
				if tc.initMetricsErr != nil {
					return func() {}, tc.initMetricsErr
				}
				return func() { cleanupCalls.Add(1) }, nil
			}
			deps.newRunner = func(*slog.Logger) runner { return fr }

			code := runMain(context.Background(),
				[]string{"run", "-c", "cfg.json", "--metrics-backend", "none", "--workers", "3"},
				&stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
			if tc.wantRunnerCalls == 1 {
				fr.mu.Lock()
				rt := fr.lastCfg.Runtime
				fr.mu.Unlock()
				if rt.Workers != 3 || rt.LogLevel != "info" {
					t.Fatalf("runtime=%+v, want flags over defaults", rt)
				}
			}
		})
	}
}

func TestRunMain_Validate(t *testing.T) {
	t.Parallel()

	deps := strictDeps(t)
	deps.readFile = func(path string) ([]byte, error) {
		switch path {
		case "good.json":
			return []byte(`{"job": "j", "sources": [{"name": "a", "uri": "a.csv"}],
				"steps": [{"kind": "head", "input": "a", "output": "b"}]}`), nil
		default:
			return []byte(`{"job": "j", "sources": [{"name": "a", "uri": "a.csv"}],
				"steps": [{"kind": "explode", "input": "a", "output": "b"}]}`), nil
		}
	}
	deps.unmarshal = config.Decode

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"validate", "-c", "good.json"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("good: code=%d stderr=%q", code, stderr.String())
	}
	if stdout.String() != "ok\n" {
		t.Fatalf("stdout=%q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := runMain(context.Background(), []string{"validate", "-c", "bad.json"}, &stdout, &stderr, deps); code != 1 {
		t.Fatalf("bad: code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `unknown step kind "explode"`) || !strings.Contains(stderr.String(), "configuration is invalid: bad.json") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

// TestRunMain_ValidateShippedPipeline keeps the example pipeline in
// configs/ in step with the config schema and the step registry.
func TestRunMain_ValidateShippedPipeline(t *testing.T) {
	t.Parallel()

	const path = "../../configs/pipelines/happiness.json"
	deps := strictDeps(t)
	deps.readFile = os.ReadFile
	deps.unmarshal = config.Decode

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"validate", "-c", path}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if stdout.String() != "ok\n" {
		t.Fatalf("stdout=%q", stdout.String())
	}
	if strings.Contains(stderr.String(), "error:") {
		t.Fatalf("stderr=%q", stderr.String())
	}

	p, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var multi bool
	for _, st := range p.Steps {
		if st.Kind == "pivot" && len(st.Options.Strings("aggfunc")) > 1 {
			multi = true
		}
	}
	if !multi {
		t.Fatalf("no pivot with several aggfuncs in %s", path)
	}
}

const sampleCSV = "Country,Region,Score\n" +
	"A,West,1.5\n" +
	"B,West,2.5\n" +
	"C,East,3.0\n" +
	"D,East,4.0\n"

func TestRunMain_ProbeDraftsDatabaseOutputs(t *testing.T) {
	t.Parallel()

	deps := strictDeps(t)
	deps.peek = func(_ context.Context, uri string, n int, _ datasource.Options) ([]byte, error) {
		if uri != "data/happy.csv" || n != 4096 {
			t.Fatalf("peek uri=%q n=%d", uri, n)
		}
		return []byte(sampleCSV), nil
	}

	var stdout, stderr bytes.Buffer
	args := []string{"probe", "data/happy.csv", "--bytes", "4096", "--backend", "sqlite", "--dsn", "file:test.db"}
	if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}

	var p config.Pipeline
	if err := json.Unmarshal(stdout.Bytes(), &p); err != nil {
		t.Fatalf("stdout is not a pipeline: %v\n%s", err, stdout.String())
	}
	if p.Sources[0].Name != "happy" || p.Sources[0].Types["Score"] == "" {
		t.Fatalf("source=%+v", p.Sources[0])
	}
	if len(p.Outputs) != 2 {
		t.Fatalf("outputs=%+v, want csv and sqlite", p.Outputs)
	}
	db := p.Outputs[1]
	if db.Kind != "sqlite" || db.DSN != "file:test.db" || db.Table != p.Outputs[0].Input {
		t.Fatalf("db output=%+v", db)
	}
}

func TestRunMain_ProbeReport(t *testing.T) {
	t.Parallel()

	deps := strictDeps(t)
	deps.peek = func(context.Context, string, int, datasource.Options) ([]byte, error) {
		return []byte("a,b\n"), nil
	}

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"probe", "x.csv", "--report"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "uniqueness: no rows sampled\n" {
		t.Fatalf("stdout=%q", got)
	}
}

func TestRunMain_InfoLoadsAndRenders(t *testing.T) {
	t.Parallel()

	deps := strictDeps(t)
	deps.load = func(_ context.Context, src config.Source, _ loader.Options) (*table.Table, loader.Stats, error) {
		if src.Name != "scores" || src.Format != "xlsx" {
			t.Fatalf("src=%+v", src)
		}
		return table.MustNew(table.Col("Region", "West", nil)), loader.Stats{Rows: 2}, nil
	}

	var stdout, stderr bytes.Buffer
	args := []string{"info", "data/scores.xlsx", "--format", "xlsx"}
	if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Region") {
		t.Fatalf("stdout=%q, want column listing", stdout.String())
	}

	deps.load = func(context.Context, config.Source, loader.Options) (*table.Table, loader.Stats, error) {
		return nil, loader.Stats{}, errors.New("no such file")
	}
	stderr.Reset()
	if code := runMain(context.Background(), args, io.Discard, &stderr, deps); code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "load: no such file") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "NOOP"} {
		cleanup, err := initMetrics(context.Background(), "job", config.Runtime{MetricsBackend: name})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}
	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "", config.Runtime{MetricsBackend: "datadog"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.JobName != "eda" {
		t.Fatalf("JobName=%q, want default eda", gotOpts.JobName)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1 each", newCalls.Load(), setCalls.Load())
	}
	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "job", config.Runtime{MetricsBackend: "dd"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()
	if !strings.Contains(logged.String(), "metrics: datadog close error: flush failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_Pushgateway_UsesConfiguredURL(t *testing.T) {
	b := &fakePushBackend{}
	var gotJob, gotURL string

	oldNew, oldSet := newPushBackend, setMetricsBackend
	defer func() { newPushBackend, setMetricsBackend = oldNew, oldSet }()

	newPushBackend = func(job, url string) (flushBackend, error) {
		gotJob, gotURL = job, url
		return b, nil
	}
	setMetricsBackend = func(any) {}

	cleanup, err := initMetrics(context.Background(), "happiness", config.Runtime{
		MetricsBackend: "pushgateway",
		PushgatewayURL: "http://pgw:9091",
	})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()
	if gotJob != "happiness" || gotURL != "http://pgw:9091" {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	if b.flushed.Load() != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed.Load())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	t.Parallel()

	cleanup, err := initMetrics(context.Background(), "job", config.Runtime{MetricsBackend: "nope"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog") {
		t.Fatalf("err=%q", err.Error())
	}
}

func BenchmarkRunMain_Success_NoIO(b *testing.B) {
	ctx := context.Background()
	fr := &fakeRunner{}
	raw := []byte(`{"job":"job1"}`)

	deps := appDeps{
		readFile:    func(string) ([]byte, error) { return raw, nil },
		unmarshal:   func([]byte, string, any) error { return nil },
		initMetrics: func(context.Context, string, config.Runtime) (func(), error) { return func() {}, nil },
		newLogger:   discardLogger,
		newRunner:   func(*slog.Logger) runner { return fr },
	}
	args := []string{"run", "-c", "cfg.json", "--metrics-backend", "none"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stdout, stderr bytes.Buffer
		if code := runMain(ctx, args, &stdout, &stderr, deps); code != 0 {
			b.Fatalf("code=%d, stderr=%q", code, stderr.String())
		}
	}
}

func BenchmarkInitMetrics_None(b *testing.B) {
	ctx := context.Background()
	rt := config.Runtime{MetricsBackend: "none"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cleanup, err := initMetrics(ctx, "job", rt)
		if err != nil {
			b.Fatalf("err=%v", err)
		}
		cleanup()
	}
}
