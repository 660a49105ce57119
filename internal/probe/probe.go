// Package probe samples a data source, infers column kinds and drafts a
// pipeline config for it.
//
// The probe is responsible for:
//   - Inferring column kinds from a bounded CSV sample or a loaded table
//   - Reporting per-column uniqueness
//   - Suggesting grouping keys and generating a config.Pipeline skeleton
//   - Summarizing a loaded table for `eda info`
//
// All inference is best-effort and never fails the probe run. The package
// performs no I/O; callers fetch samples through internal/datasource.
package probe

import (
	"path"
	"strings"

	"eda/internal/config"
	"eda/internal/normalize"
	"eda/internal/table"
)

// DefaultSampleBytes bounds the CSV sample the CLI fetches.
const DefaultSampleBytes = 1 << 20

type Options struct {
	// URI of the source; recorded in the generated config.
	URI string
	// Name of the source table. Defaults to the normalized URI base name.
	Name string
	// Job name for the generated config. Defaults to Name.
	Job string
	// Delimiter for CSV samples. Zero means ','.
	Delimiter rune
	// MaxRows caps the sampled rows considered. Zero means no cap.
	MaxRows int
	// Report adds a uniqueness report to the result.
	Report bool
}

// Column is the inference for one column.
type Column struct {
	Header string
	// Type is the inference label: integer, float, boolean, date,
	// timestamp or text.
	Type   string
	Kind   table.Kind
	Layout string
}

type Result struct {
	Columns  []Column
	Pipeline config.Pipeline
	// GroupKeys are the suggested categorical columns.
	GroupKeys []string
	Report    string
}

// CSV probes a byte sample from the start of a delimited file. A trailing
// partial record is ignored.
func CSV(sample []byte, opt Options) (Result, error) {
	delim := opt.Delimiter
	if delim == 0 {
		delim = ','
	}
	headers, rows, err := readCSVSample(cutToLastNewline(sample), delim)
	if err != nil {
		return Result{}, err
	}
	if opt.MaxRows > 0 && len(rows) > opt.MaxRows {
		rows = rows[:opt.MaxRows]
	}

	types := inferTypes(headers, rows)
	layouts := detectColumnLayouts(rows, types)
	res := Result{Columns: make([]Column, len(headers))}
	kinds := make(map[string]table.Kind, len(headers))
	for i, h := range headers {
		res.Columns[i] = Column{Header: h, Type: types[i], Kind: kindFromInference(types[i]), Layout: layouts[i]}
		kinds[h] = res.Columns[i].Kind
	}

	stats := computeUniquenessFromCSVSample(rows, headers)
	res.GroupKeys = suggestGroupKeys(stats, kinds)
	if opt.Report {
		res.Report = formatUniquenessReport(stats)
	}
	res.Pipeline = skeleton(opt, res.Columns, res.GroupKeys)
	if delim != ',' {
		res.Pipeline.Sources[0].Options = config.Options{"comma": string(delim)}
	}
	return res, nil
}

// Table probes a loaded table. Kinds come from the columns themselves.
func Table(t *table.Table, opt Options) Result {
	res := Result{Columns: make([]Column, 0, t.NumColumns())}
	kinds := make(map[string]table.Kind, t.NumColumns())
	for _, c := range t.Columns() {
		res.Columns = append(res.Columns, Column{Header: c.Name(), Type: inferenceLabel(c.Kind()), Kind: c.Kind()})
		kinds[c.Name()] = c.Kind()
	}
	stats := computeUniquenessFromTable(t)
	res.GroupKeys = suggestGroupKeys(stats, kinds)
	if opt.Report {
		res.Report = formatUniquenessReport(stats)
	}
	res.Pipeline = skeleton(opt, res.Columns, res.GroupKeys)
	return res
}

func inferenceLabel(k table.Kind) string {
	switch k {
	case table.Int:
		return "integer"
	case table.Float:
		return "float"
	case table.Bool:
		return "boolean"
	}
	return "text"
}

// skeleton drafts a pipeline that loads the source with pinned kinds,
// averages the numeric columns per suggested key and exports the result.
func skeleton(opt Options, cols []Column, keys []string) config.Pipeline {
	name := opt.Name
	if name == "" {
		base := path.Base(opt.URI)
		base = strings.TrimSuffix(base, path.Ext(base))
		name = normalize.FieldName(strings.TrimSuffix(base, path.Ext(base)))
	}
	if name == "" {
		name = "source"
	}
	job := opt.Job
	if job == "" {
		job = name
	}

	src := config.Source{Name: name, URI: opt.URI, Types: map[string]string{}}
	var numeric []string
	for _, c := range cols {
		src.Types[c.Header] = typeNameFromInference(c.Type)
		if c.Kind.Numeric() && !contains(keys, c.Header) {
			numeric = append(numeric, c.Header)
		}
	}

	p := config.Pipeline{Job: job, Sources: []config.Source{src}}
	p.Steps = append(p.Steps, config.Step{
		Kind:   "count_nulls",
		Input:  name,
		Output: name + "_nulls",
	})
	if len(keys) > 0 && len(numeric) > 0 {
		out := name + "_by_" + normalize.FieldName(keys[0])
		p.Steps = append(p.Steps, config.Step{
			Kind:   "groupby",
			Input:  name,
			Output: out,
			Options: config.Options{
				"keys":    []any{keys[0]},
				"columns": toAny(numeric),
				"funcs":   []any{"mean"},
			},
		})
		p.Outputs = append(p.Outputs, config.Output{Input: out, Kind: "csv", Path: "out/" + out + ".csv", IncludeIndex: true})
	}
	return p
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
