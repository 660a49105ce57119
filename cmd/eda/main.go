// Command eda runs exploratory data analysis pipelines.
//
//	eda run -c configs/pipelines/happiness.json
//	eda validate -c configs/pipelines/happiness.json
//	eda info data/World_Happiness_2015.csv
//	eda probe data/World_Happiness_2015.csv --backend sqlite
//
// Exit codes: 0 on success, 1 when the command fails, 2 on usage errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"eda/internal/config"
	"eda/internal/datasource"
	"eda/internal/loader"
	"eda/internal/logging"
	"eda/internal/pipeline"
	"eda/internal/table"

	// register all backends with the storage factory.
	// outputs pick one by kind, so every one ships in the binary.
	_ "eda/internal/storage/csvfile"
	_ "eda/internal/storage/mssql"
	_ "eda/internal/storage/postgres"
	_ "eda/internal/storage/sqlite"
)

type runner interface {
	Run(ctx context.Context, p config.Pipeline) (pipeline.Result, error)
}

// appDeps are the side effects runMain performs, replaced in tests.
type appDeps struct {
	readFile    func(string) ([]byte, error)
	unmarshal   func(data []byte, format string, v any) error
	initMetrics func(ctx context.Context, jobName string, rt config.Runtime) (func(), error)
	newLogger   func(w io.Writer, opt logging.Options) (*slog.Logger, func(), error)
	newRunner   func(logger *slog.Logger) runner

	load func(ctx context.Context, src config.Source, opt loader.Options) (*table.Table, loader.Stats, error)
	peek func(ctx context.Context, uri string, n int, opt datasource.Options) ([]byte, error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		unmarshal:   config.Decode,
		initMetrics: initMetrics,
		newLogger:   logging.New,
		newRunner:   func(l *slog.Logger) runner { return pipeline.NewDefaultRunner(l) },
		load:        loader.Load,
		peek:        datasource.Peek,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

// fail prefixes err with the stage that failed.
func fail(stage string, err error) error {
	return &exitError{code: 1, err: fmt.Errorf("%s: %w", stage, err)}
}

// runMain executes the CLI and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra's own errors: unknown commands, flags and argument counts.
	return 2
}

func newRootCmd(deps appDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "eda",
		Short:         "Exploratory data analysis pipelines over tabular files",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})
	root.AddCommand(newRunCmd(deps), newValidateCmd(deps), newInfoCmd(deps), newProbeCmd(deps))
	return root
}

// readPipeline loads and decodes the pipeline file at path.
func readPipeline(deps appDeps, path string) (config.Pipeline, error) {
	var p config.Pipeline
	raw, err := deps.readFile(path)
	if err != nil {
		return p, fail("read config", err)
	}
	if err := deps.unmarshal(raw, config.Format(path), &p); err != nil {
		return p, fail("parse config", err)
	}
	return p, nil
}

func configFlag(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		return "", usageErrorf("usage: eda %s --config path/to/pipeline.json", cmd.Name())
	}
	return path, nil
}

func newRunCmd(deps appDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFlag(cmd)
			if err != nil {
				return err
			}
			p, err := readPipeline(deps, path)
			if err != nil {
				return err
			}

			rt, err := config.ApplyEnv(p.Runtime)
			if err != nil {
				return fail("runtime", err)
			}
			rt = runtimeFlags(cmd, rt).WithDefaults()
			p.Runtime = rt

			logger, closeLog, err := deps.newLogger(cmd.ErrOrStderr(), logging.Options{
				Level:  rt.LogLevel,
				Format: rt.LogFormat,
				SeqURL: rt.SeqURL,
			})
			if err != nil {
				return fail("init logging", err)
			}
			defer closeLog()

			cleanup, err := deps.initMetrics(cmd.Context(), p.Job, rt)
			if err != nil {
				return fail("init metrics", err)
			}
			defer cleanup()

			res, err := deps.newRunner(logger).Run(cmd.Context(), p)
			if err != nil {
				return fail("run", err)
			}
			logger.Info("pipeline finished", "job", p.Job, "run_id", res.RunID, "tables", len(res.Tables))
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "pipeline config path (JSON or YAML)")
	cmd.Flags().String("metrics-backend", "", "metrics backend: none|datadog|pushgateway (overrides config and EDA_METRICS_BACKEND)")
	cmd.Flags().String("pushgateway-url", "", "Pushgateway base URL")
	cmd.Flags().String("log-level", "", "debug|info|warn|error")
	cmd.Flags().String("log-format", "", "text|json")
	cmd.Flags().Int("workers", 0, "sources loaded concurrently")
	return cmd
}

// runtimeFlags overlays the flags that were set on rt. Flags win over the
// environment, which wins over the file.
func runtimeFlags(cmd *cobra.Command, rt config.Runtime) config.Runtime {
	f := cmd.Flags()
	if f.Changed("metrics-backend") {
		rt.MetricsBackend, _ = f.GetString("metrics-backend")
	}
	if f.Changed("pushgateway-url") {
		rt.PushgatewayURL, _ = f.GetString("pushgateway-url")
	}
	if f.Changed("log-level") {
		rt.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		rt.LogFormat, _ = f.GetString("log-format")
	}
	if f.Changed("workers") {
		rt.Workers, _ = f.GetInt("workers")
	}
	return rt
}

func newValidateCmd(deps appDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFlag(cmd)
			if err != nil {
				return err
			}
			p, err := readPipeline(deps, path)
			if err != nil {
				return err
			}
			issues := append(config.ValidatePipeline(p), pipeline.ValidateSteps(p.Steps)...)
			for _, is := range issues {
				fmt.Fprintln(cmd.ErrOrStderr(), is.String())
			}
			if config.HasErrors(issues) {
				return &exitError{code: 1, err: fmt.Errorf("configuration is invalid: %s", path)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "pipeline config path (JSON or YAML)")
	return cmd
}
