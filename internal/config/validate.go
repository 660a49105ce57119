package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of ValidatePipeline. Path points into the document,
// e.g. "steps[3].input".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePipeline checks field constraints and the table data flow: every
// table a step, plot or output reads must be produced by a source or an
// earlier step. Step kinds are checked by the runner, which owns them.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if err := validate.Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				add(SeverityError, fieldPath(fe.Namespace()), "%s", describe(fe))
			}
		} else {
			add(SeverityError, "", "%v", err)
		}
	}

	known := map[string]string{}
	for i, s := range p.Sources {
		path := fmt.Sprintf("sources[%d].name", i)
		if s.Name == "" {
			continue
		}
		if prev, dup := known[s.Name]; dup {
			add(SeverityError, path, "duplicate table name %q (first defined at %s)", s.Name, prev)
			continue
		}
		known[s.Name] = path
	}

	for i, st := range p.Steps {
		inputs := st.InputNames()
		if len(inputs) == 0 {
			add(SeverityError, fmt.Sprintf("steps[%d]", i), "step %q reads no table", st.Kind)
		}
		for j, in := range inputs {
			if _, ok := known[in]; !ok {
				add(SeverityError, fmt.Sprintf("steps[%d].inputs[%d]", i, j), "table %q is not defined before this step", in)
			}
		}
		if st.Output == "" {
			continue
		}
		if prev, ok := known[st.Output]; ok && strings.HasPrefix(prev, "sources") {
			add(SeverityWarning, fmt.Sprintf("steps[%d].output", i), "overwrites source table %q", st.Output)
		}
		known[st.Output] = fmt.Sprintf("steps[%d].output", i)
	}

	for i, pl := range p.Plots.Charts {
		if _, ok := known[pl.Input]; pl.Input != "" && !ok {
			add(SeverityError, fmt.Sprintf("plots.charts[%d].input", i), "table %q is not defined", pl.Input)
		}
	}

	for i, out := range p.Outputs {
		path := fmt.Sprintf("outputs[%d]", i)
		if _, ok := known[out.Input]; out.Input != "" && !ok {
			add(SeverityError, path+".input", "table %q is not defined", out.Input)
		}
		switch out.Kind {
		case "csv":
			if out.Path == "" {
				add(SeverityError, path+".path", "csv output needs a path")
			}
		case "sqlite":
			if out.DSN == "" && out.Path == "" {
				add(SeverityError, path+".path", "sqlite output needs a path or dsn")
			}
		case "postgres", "mssql":
			if out.DSN == "" {
				add(SeverityError, path+".dsn", "%s output needs a dsn", out.Kind)
			}
			if out.Table == "" {
				add(SeverityWarning, path+".table", "no table name; %q is used", out.Input)
			}
		}
	}

	return issues
}

// fieldPath drops the root type from a validator namespace:
// "Pipeline.steps[2].kind" becomes "steps[2].kind".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return fmt.Sprintf("is required when %s is set", strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("must be one of: %s (got %q)", strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "len":
		return fmt.Sprintf("must have exactly %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
