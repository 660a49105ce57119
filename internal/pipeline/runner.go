// Package pipeline executes a config.Pipeline: it loads the sources
// concurrently, runs the steps in order over a named table environment,
// renders plots and exports tables.
//
// Every step reads tables by name and writes one, so later steps (and plots
// and outputs) see everything produced before them. Each load and step is
// timed into internal/metrics and logged with the run id.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"eda/internal/config"
	"eda/internal/loader"
	"eda/internal/logging"
	"eda/internal/metrics"
	"eda/internal/plot"
	"eda/internal/storage"
	"eda/internal/table"
)

type Runner struct {
	Logger *slog.Logger

	Load func(ctx context.Context, src config.Source, opt loader.Options) (*table.Table, loader.Stats, error)

	// storage-agnostic factory seam
	NewSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)

	RenderPlots func(path string, charts []config.Plot, tables map[string]*table.Table) error

	NewRunID func() string
	now      func() time.Time
}

func NewDefaultRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Logger:      logger,
		Load:        loader.Load,
		NewSink:     storage.New,
		RenderPlots: plot.Render,
		NewRunID:    uuid.NewString,
	}
}

// Result is what a finished run produced.
type Result struct {
	RunID string
	// Tables holds every source and step output by name.
	Tables map[string]*table.Table
	// Exported counts the rows written per output, in output order.
	Exported []int64
}

// Run validates p and executes it. It stops at the first failing source,
// step or output.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (Result, error) {
	res := Result{RunID: r.NewRunID()}
	log := r.Logger.With("job", p.Job, "run_id", res.RunID)

	issues := append(config.ValidatePipeline(p), ValidateSteps(p.Steps)...)
	for _, is := range issues {
		if is.Severity == config.SeverityWarning {
			log.Warn("config", "path", is.Path, "msg", is.Message)
		}
	}
	if config.HasErrors(issues) {
		return res, invalidConfig(issues)
	}
	rt := p.Runtime.WithDefaults()

	tables, err := r.loadSources(ctx, log, p.Sources, rt)
	if err != nil {
		return res, err
	}
	res.Tables = tables

	for i, st := range p.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := r.runStep(ctx, log, st, tables)
		if err != nil {
			return res, errors.Wrapf(err, "steps[%d] %s", i, st.Label())
		}
		tables[st.Output] = out
	}

	if len(p.Plots.Charts) > 0 {
		start := r.clock()
		err := r.RenderPlots(p.Plots.Path, p.Plots.Charts, tables)
		metrics.RecordStep("plots", status(err), r.clock().Sub(start))
		if err != nil {
			return res, errors.Wrap(err, "plots")
		}
		log.Info("plots written", "path", p.Plots.Path, "charts", len(p.Plots.Charts))
	}

	res.Exported, err = r.export(ctx, log, p.Outputs, tables)
	return res, err
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func invalidConfig(issues []config.Issue) error {
	var msgs []string
	for _, is := range issues {
		if is.Severity == config.SeverityError {
			msgs = append(msgs, is.String())
		}
	}
	return fmt.Errorf("invalid pipeline: %s", strings.Join(msgs, "; "))
}

// loadSources loads every source, at most rt.Workers at a time.
func (r *Runner) loadSources(ctx context.Context, log *slog.Logger, sources []config.Source, rt config.Runtime) (map[string]*table.Table, error) {
	loaded := make([]*table.Table, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rt.Workers)
	for i, src := range sources {
		g.Go(func() error {
			start := r.clock()
			t, stats, err := r.Load(gctx, src, loader.Options{
				Workers:       rt.Workers,
				ChannelBuffer: rt.ChannelBuffer,
				Logger:        logging.Printf{L: log},
			})
			metrics.RecordStep("load:"+src.Name, status(err), r.clock().Sub(start))
			if err != nil {
				return errors.Wrapf(err, "load %s", src.Name)
			}
			metrics.RecordRows("loaded", stats.Rows)
			metrics.RecordRows("skipped", stats.Skipped)
			log.Info("source loaded",
				"source", src.Name,
				"format", stats.Format,
				"rows", t.Len(),
				"columns", t.NumColumns(),
				"skipped", stats.Skipped,
			)
			loaded[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*table.Table, len(sources))
	for i, src := range sources {
		out[src.Name] = loaded[i]
	}
	return out, nil
}

func (r *Runner) runStep(ctx context.Context, log *slog.Logger, st config.Step, tables map[string]*table.Table) (*table.Table, error) {
	def, ok := registry[st.Kind]
	if !ok {
		return nil, errors.Errorf("unknown step kind %q", st.Kind)
	}
	names := st.InputNames()
	in := make([]*table.Table, len(names))
	for i, n := range names {
		t, ok := tables[n]
		if !ok {
			return nil, errors.Errorf("table %q is not defined", n)
		}
		in[i] = t
	}

	start := r.clock()
	out, err := def.run(ctx, st.Options, in)
	d := r.clock().Sub(start)
	metrics.RecordStep(st.Label(), status(err), d)
	if err != nil {
		return nil, err
	}
	metrics.RecordRows("step", out.Len())
	log.Debug("step done",
		"step", st.Label(),
		"output", st.Output,
		"rows", out.Len(),
		"columns", out.NumColumns(),
		"duration", d,
	)
	return out, nil
}

func (r *Runner) export(ctx context.Context, log *slog.Logger, outputs []config.Output, tables map[string]*table.Table) ([]int64, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	ex := newExporter(r.NewSink)
	defer func() {
		if err := ex.Close(); err != nil {
			log.Warn("close sinks", "err", err)
		}
	}()

	counts := make([]int64, len(outputs))
	for i, out := range outputs {
		start := r.clock()
		n, err := ex.Export(ctx, out, tables[out.Input])
		metrics.RecordStep("export:"+out.Kind, status(err), r.clock().Sub(start))
		if err != nil {
			return counts, errors.Wrapf(err, "outputs[%d] %s", i, out.Input)
		}
		metrics.RecordRows("exported", int(n))
		log.Info("table exported", "table", out.Input, "kind", out.Kind, "rows", n)
		counts[i] = n
	}
	return counts, nil
}
