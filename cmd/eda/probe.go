package main

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"eda/internal/config"
	"eda/internal/datasource"
	"eda/internal/loader"
	"eda/internal/normalize"
	"eda/internal/probe"
)

// sourceFromArgs builds a one-off source for a URI given on the command line.
func sourceFromArgs(cmd *cobra.Command, uri string) config.Source {
	format, _ := cmd.Flags().GetString("format")
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		base := datasource.BaseName(uri)
		name = normalize.FieldName(strings.TrimSuffix(base, path.Ext(base)))
	}
	src := config.Source{Name: name, URI: uri, Format: format}
	if comma, _ := cmd.Flags().GetString("comma"); comma != "" {
		src.Options = config.Options{"comma": comma}
	}
	return src
}

func newInfoCmd(deps appDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info uri",
		Short: "Load a source and print its columns, kinds and null counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := sourceFromArgs(cmd, args[0])
			t, _, err := deps.load(cmd.Context(), src, loader.Options{Workers: 2})
			if err != nil {
				return fail("load", err)
			}
			if err := probe.RenderInfo(cmd.OutOrStdout(), t); err != nil {
				return fail("info", err)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "", "csv|tsv|json|jsonl|html|xlsx (default: by extension)")
	cmd.Flags().String("name", "", "table name")
	cmd.Flags().String("comma", "", "field delimiter for csv")
	return cmd
}

// newProbeCmd drafts a pipeline for a source. Delimited sources are probed
// from a bounded sample; other formats are loaded in full.
func newProbeCmd(deps appDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe uri",
		Short: "Infer column kinds and draft a pipeline config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			src := sourceFromArgs(cmd, args[0])
			job, _ := f.GetString("job")
			report, _ := f.GetBool("report")
			opt := probe.Options{URI: src.URI, Name: src.Name, Job: job, Report: report}

			var res probe.Result
			switch loader.Format(src) {
			case "csv", "tsv":
				n, _ := f.GetInt("bytes")
				insecure, _ := f.GetBool("allow-insecure")
				sample, err := deps.peek(cmd.Context(), src.URI, n, datasource.Options{Timeout: 60 * time.Second, Insecure: insecure})
				if err != nil {
					return fail("probe", err)
				}
				opt.Delimiter = src.Options.Rune("comma", ',')
				if loader.Format(src) == "tsv" {
					opt.Delimiter = '\t'
				}
				if res, err = probe.CSV(sample, opt); err != nil {
					return fail("probe", err)
				}
			default:
				t, _, err := deps.load(cmd.Context(), src, loader.Options{Workers: 2})
				if err != nil {
					return fail("load", err)
				}
				res = probe.Table(t, opt)
			}

			if report {
				rep := strings.TrimSpace(res.Report)
				if rep == "" {
					rep = "uniqueness: no rows sampled"
				}
				fmt.Fprintln(cmd.OutOrStdout(), rep)
				return nil
			}

			p := res.Pipeline
			if src.Format != "" {
				p.Sources[0].Format = src.Format
			}
			backend, _ := f.GetString("backend")
			if backend != "" {
				flagDSN, _ := f.GetString("dsn")
				dsn, err := resolveDSN(backend, strings.TrimSpace(flagDSN))
				if err != nil {
					return fail("dsn override", err)
				}
				p = withDatabaseOutputs(p, normalizeBackend(backend), dsn)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty, _ := f.GetBool("pretty"); pretty {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(p); err != nil {
				return fail("encode config", err)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "", "csv|tsv|json|jsonl|html|xlsx (default: by extension)")
	cmd.Flags().String("name", "", "source table name (default: file name)")
	cmd.Flags().String("job", "", "job name (default: table name)")
	cmd.Flags().String("comma", "", "field delimiter for csv")
	cmd.Flags().Int("bytes", probe.DefaultSampleBytes, "bytes sampled from the start of delimited sources")
	cmd.Flags().Bool("report", false, "print a uniqueness report instead of the config")
	cmd.Flags().Bool("pretty", true, "indent the JSON output")
	cmd.Flags().Bool("allow-insecure", false, "skip TLS verification for https sources")
	cmd.Flags().String("backend", "", "also export each result to postgres|mssql|sqlite")
	cmd.Flags().String("dsn", "", "database DSN for --backend (default: DSN env vars, then ${EDA_DSN})")
	return cmd
}

// withDatabaseOutputs adds a database export next to every drafted csv
// output, into a table named after the exported table.
func withDatabaseOutputs(p config.Pipeline, backend, dsn string) config.Pipeline {
	outs := make([]config.Output, 0, 2*len(p.Outputs))
	for _, o := range p.Outputs {
		outs = append(outs, o)
		if o.Kind != "csv" {
			continue
		}
		outs = append(outs, config.Output{
			Input:        o.Input,
			Kind:         backend,
			DSN:          dsn,
			Table:        o.Input,
			IncludeIndex: o.IncludeIndex,
		})
	}
	p.Outputs = outs
	return p
}
