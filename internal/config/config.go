// Package config defines the declarative pipeline file read by cmd/eda and
// executed by internal/pipeline.
//
// A pipeline loads named sources into tables, runs an ordered list of steps
// over them (each step reads named tables and writes one), renders plots and
// exports tables:
//
//	{
//	  "job": "happiness",
//	  "sources": [{"name": "h2015", "uri": "data/World_Happiness_2015.csv"}],
//	  "steps": [
//	    {"kind": "groupby", "input": "h2015", "output": "by_region",
//	     "options": {"keys": ["Region"], "columns": ["Happiness Score"], "funcs": ["mean"]}}
//	  ],
//	  "outputs": [{"input": "by_region", "kind": "csv", "path": "out/by_region.csv"}]
//	}
//
// Files may be JSON or YAML, told apart by extension.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Pipeline struct {
	Job     string   `json:"job" yaml:"job" validate:"required"`
	Sources []Source `json:"sources" yaml:"sources" validate:"required,min=1,dive"`
	Steps   []Step   `json:"steps" yaml:"steps" validate:"dive"`
	Plots   Plots    `json:"plots" yaml:"plots"`
	Outputs []Output `json:"outputs" yaml:"outputs" validate:"dive"`
	Runtime Runtime  `json:"runtime" yaml:"runtime"`
}

// Source is one input table.
type Source struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	// URI is a path, file://, http(s):// or s3://bucket/key.
	URI string `json:"uri" yaml:"uri" validate:"required"`
	// Format overrides detection by extension: csv, json, jsonl, html, xlsx.
	Format      string `json:"format" yaml:"format" validate:"omitempty,oneof=csv tsv json jsonl html xlsx"`
	Compression string `json:"compression" yaml:"compression" validate:"omitempty,oneof=none gzip zstd lz4"`

	// Options are handed to the parser (comma, encoding, sheet, selector...).
	Options Options `json:"options" yaml:"options"`

	// Types pins column kinds; other columns are inferred.
	Types    map[string]string `json:"types" yaml:"types"`
	NAValues []string          `json:"na_values" yaml:"na_values"`
	IndexCol []string          `json:"index_col" yaml:"index_col"`

	// RowHash names a column that receives a hash of every loaded column.
	RowHash string `json:"row_hash" yaml:"row_hash"`

	// Lenient nulls unparsable typed cells instead of failing the load.
	Lenient bool `json:"lenient" yaml:"lenient"`
}

// Step is one table transformation. Input names a single table; Inputs is
// used by steps that combine several (concat, merge).
type Step struct {
	Kind    string   `json:"kind" yaml:"kind" validate:"required"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Input   string   `json:"input,omitempty" yaml:"input,omitempty"`
	Inputs  []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output  string   `json:"output" yaml:"output" validate:"required"`
	Options Options  `json:"options" yaml:"options"`
}

// Label identifies the step in logs and metrics.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind + ":" + s.Output
}

// InputNames lists the tables a step reads, Input first.
func (s Step) InputNames() []string {
	if s.Input == "" {
		return append([]string(nil), s.Inputs...)
	}
	return append([]string{s.Input}, s.Inputs...)
}

type Plots struct {
	// Path of the XLSX workbook the charts are written to.
	Path   string `json:"path" yaml:"path" validate:"required_with=Charts"`
	Charts []Plot `json:"charts" yaml:"charts" validate:"dive"`
}

// Plot describes one chart over a finished table.
type Plot struct {
	Kind  string `json:"kind" yaml:"kind" validate:"required,oneof=bar barh pie heatmap"`
	Input string `json:"input" yaml:"input" validate:"required"`
	Sheet string `json:"sheet" yaml:"sheet"`
	Title string `json:"title" yaml:"title"`
	// X is the category column; empty uses the row index.
	X string `json:"x" yaml:"x"`
	// Y lists the value columns; empty uses every numeric column.
	Y      []string  `json:"y" yaml:"y"`
	XLim   []float64 `json:"xlim" yaml:"xlim" validate:"omitempty,len=2"`
	YLim   []float64 `json:"ylim" yaml:"ylim" validate:"omitempty,len=2"`
	Legend *bool     `json:"legend" yaml:"legend"`
}

// Output exports one table.
type Output struct {
	Input string `json:"input" yaml:"input" validate:"required"`
	Kind  string `json:"kind" yaml:"kind" validate:"required,oneof=csv sqlite postgres mssql"`
	Path  string `json:"path" yaml:"path"`
	// DSN may reference environment variables as ${VAR}.
	DSN          string `json:"dsn" yaml:"dsn"`
	Table        string `json:"table" yaml:"table"`
	Mode         string `json:"mode" yaml:"mode" validate:"omitempty,oneof=replace append"`
	IncludeIndex bool   `json:"include_index" yaml:"include_index"`
	BatchSize    int    `json:"batch_size" yaml:"batch_size" validate:"gte=0"`
}

// Load reads a pipeline file, decoding it as Format(path) says.
func Load(path string) (Pipeline, error) {
	var p Pipeline
	data, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "read config")
	}
	if err := Decode(data, Format(path), &p); err != nil {
		return p, errors.Wrapf(err, "parse config %s", path)
	}
	return p, nil
}

// Format names the document format of a config path by its extension:
// "json" for .json, "yaml" for .yaml and .yml, and "" for anything else.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// Unmarshal decodes a document of unknown format: one whose first
// non-space byte is '{' is JSON, anything else YAML.
func Unmarshal(data []byte, v any) error {
	return Decode(data, "", v)
}

// Decode decodes data as format ("json", "yaml", or "" to sniff it). JSON
// numbers decoded into untyped values stay json.Number so integer literals
// are not widened to float64.
func Decode(data []byte, format string, v any) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n\uFEFF")
	if format == "" {
		format = "yaml"
		if len(trimmed) > 0 && trimmed[0] == '{' {
			format = "json"
		}
	}
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return err
		}
	case "yaml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown config format %q", format)
	}
	if p, ok := v.(*Pipeline); ok {
		p.normalize()
	}
	return nil
}

func (p *Pipeline) normalize() {
	for i := range p.Sources {
		normalizeYAML(p.Sources[i].Options)
	}
	for i := range p.Steps {
		normalizeYAML(p.Steps[i].Options)
	}
}
