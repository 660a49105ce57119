package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"eda/internal/combine"
	"eda/internal/config"
	"eda/internal/groupby"
	"eda/internal/missing"
	"eda/internal/normalize"
	"eda/internal/reshape"
	"eda/internal/table"
)

// stepFunc runs one step over its resolved input tables.
type stepFunc func(ctx context.Context, opt config.Options, in []*table.Table) (*table.Table, error)

type stepDef struct {
	run stepFunc
	// inputs is the exact number of input tables, or 0 for one or more.
	inputs int
}

var registry = map[string]stepDef{
	"select":          {selectStep, 1},
	"head":            {headStep, 1},
	"slice":           {sliceStep, 1},
	"filter":          {filterStep, 1},
	"assign":          {assignStep, 1},
	"rename":          {renameStep, 1},
	"clean_labels":    {cleanLabelsStep, 1},
	"str":             {strStep, 1},
	"contains_filter": {containsFilterStep, 1},
	"extract_all":     {extractAllStep, 1},
	"set_index":       {setIndexStep, 1},
	"reset_index":     {resetIndexStep, 1},
	"sort":            {sortStep, 1},
	"concat":          {concatStep, 0},
	"merge":           {mergeStep, 2},
	"groupby":         {groupbyStep, 1},
	"value_counts":    {valueCountsStep, 1},
	"pivot":           {pivotStep, 1},
	"melt":            {meltStep, 1},
	"count_nulls":     {countNullsStep, 1},
	"fillna":          {fillNAStep, 1},
	"dropna":          {dropNAStep, 1},
	"drop_columns":    {dropColumnsStep, 1},
	"drop_threshold":  {dropThresholdStep, 1},
	"drop_duplicates": {dropDuplicatesStep, 1},
	"duplicated":      {duplicatedStep, 1},
}

// Kinds lists the step kinds the runner executes, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValidateSteps reports unknown step kinds and wrong input counts.
func ValidateSteps(steps []config.Step) []config.Issue {
	var issues []config.Issue
	for i, st := range steps {
		def, ok := registry[st.Kind]
		if !ok {
			if st.Kind != "" {
				issues = append(issues, config.Issue{
					Severity: config.SeverityError,
					Path:     fmt.Sprintf("steps[%d].kind", i),
					Message:  fmt.Sprintf("unknown step kind %q", st.Kind),
				})
			}
			continue
		}
		n := len(st.InputNames())
		if def.inputs > 0 && n != def.inputs {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     fmt.Sprintf("steps[%d]", i),
				Message:  fmt.Sprintf("%s reads %d table(s), got %d", st.Kind, def.inputs, n),
			})
		}
	}
	return issues
}

// literal converts a decoded option value to a cell value. JSON numbers
// become int64 when integral and float64 otherwise.
func literal(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = literal(e)
		}
		return out
	}
	return table.Normalize(v)
}

func required(opt config.Options, key string) (string, error) {
	s := opt.String(key, "")
	if s == "" {
		return "", errors.Errorf("option %q is required", key)
	}
	return s, nil
}

func selectStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	cols := opt.Strings("columns")
	if len(cols) == 0 {
		return nil, errors.New(`option "columns" is required`)
	}
	return in[0].Select(cols...)
}

func headStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	return in[0].Head(opt.Int("n", 5)), nil
}

// sliceStep keeps rows [start, stop); negative positions count from the end.
func sliceStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	start, stop := opt.Int("start", 0), opt.Int("stop", t.Len())
	if start < 0 {
		start += t.Len()
	}
	if stop < 0 {
		stop += t.Len()
	}
	return t.Slice(start, stop), nil
}

// filterStep keeps rows matching one condition, or every (combine=and) or
// any (combine=or) entry of "conditions".
func filterStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	conds := opt.List("conditions")
	if len(conds) == 0 {
		conds = []config.Options{opt}
	}
	or := opt.String("combine", "and") == "or"

	var mask []bool
	for i, c := range conds {
		m, err := conditionMask(t, c)
		if err != nil {
			return nil, errors.Wrapf(err, "condition %d", i)
		}
		switch {
		case mask == nil:
			mask = m
		case or:
			mask = table.Or(mask, m)
		default:
			mask = table.And(mask, m)
		}
	}
	return t.Filter(mask)
}

// conditionMask evaluates one condition on a column or index level:
// {"column", "op", "value"}, {"column", "in": [...]}, {"column", "is_null"}
// or {"column", "match": regex}. "not" negates it.
func conditionMask(t *table.Table, c config.Options) ([]bool, error) {
	label, err := required(c, "column")
	if err != nil {
		return nil, err
	}
	col, err := t.Key(label)
	if err != nil {
		return nil, err
	}

	var m []bool
	switch {
	case c.Has("in"):
		vals, ok := literal(c.Any("in")).([]any)
		if !ok {
			return nil, errors.Errorf(`option "in" must be a list`)
		}
		m = table.InMask(col, vals...)
	case c.Has("is_null"):
		m = table.NullMask(col)
		if !c.Bool("is_null", true) {
			m = table.Not(m)
		}
	case c.Has("match"):
		re, err := regexp.Compile(c.String("match", ""))
		if err != nil {
			return nil, err
		}
		if m, err = table.MatchMask(col, re, false); err != nil {
			return nil, err
		}
	default:
		if m, err = table.Mask(col, table.CmpOp(c.String("op", "==")), literal(c.Any("value"))); err != nil {
			return nil, err
		}
	}
	if c.Bool("not", false) {
		m = table.Not(m)
	}
	return m, nil
}

// assignStep adds or replaces the column named by "column" with a value
// derived as selected by "op".
func assignStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	name, err := required(opt, "column")
	if err != nil {
		return nil, err
	}
	c, err := assignColumn(t, name, opt)
	if err != nil {
		return nil, errors.Wrapf(err, "assign %s", name)
	}
	return t.WithColumn(c.Rename(name))
}

func assignColumn(t *table.Table, name string, opt config.Options) (*table.Column, error) {
	from := func() (*table.Column, error) {
		label, err := required(opt, "from")
		if err != nil {
			return nil, err
		}
		return t.Key(label)
	}

	switch op := opt.String("op", "constant"); op {
	case "constant":
		return table.Repeat(name, literal(opt.Any("value")), t.Len()), nil
	case "copy":
		return from()
	case "arith":
		left, err := t.Key(opt.String("left", ""))
		if err != nil {
			return nil, err
		}
		aop, err := table.ParseOp(opt.String("operator", "+"))
		if err != nil {
			return nil, err
		}
		if opt.Has("right") {
			right, err := t.Key(opt.String("right", ""))
			if err != nil {
				return nil, err
			}
			return table.Arith(name, left, aop, right)
		}
		return table.ArithScalar(name, left, aop, literal(opt.Any("scalar")))
	case "row_sum":
		cols, err := t.Lookup(opt.Strings("from")...)
		if err != nil {
			return nil, err
		}
		return table.RowSum(name, cols...)
	case "cat":
		cols, err := t.Lookup(opt.Strings("from")...)
		if err != nil {
			return nil, err
		}
		return normalize.Cat(name, opt.String("sep", ""), cols...)
	}

	src, err := from()
	if err != nil {
		return nil, err
	}
	switch op := opt.String("op", ""); op {
	case "label":
		return normalize.Label(src, opt.Float("threshold", 0), literal(opt.Any("high")), literal(opt.Any("low")))
	case "last_word":
		return normalize.LastWord(src)
	case "round":
		return table.Round(src, opt.Int("places", 0))
	case "map":
		raw := opt.Map("mapping")
		mapping := make(map[any]any, len(raw))
		for k, v := range raw {
			mapping[mappingKey(k, src.Kind())] = literal(v)
		}
		return normalize.MapValues(src, mapping, opt.Bool("keep_unmapped", false)), nil
	default:
		return nil, errors.Errorf("unknown assign op %q", op)
	}
}

// mappingKey parses an option map key for a numeric or bool column; option
// keys always arrive as strings.
func mappingKey(k string, kind table.Kind) any {
	switch {
	case kind.Numeric():
		if f, err := strconv.ParseFloat(k, 64); err == nil {
			return f
		}
	case kind == table.Bool:
		if b, ok := table.ParseBool(k); ok {
			return b
		}
	}
	return k
}

func renameStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	mapping := opt.StringMap("mapping")
	if len(mapping) == 0 {
		return nil, errors.New(`option "mapping" is required`)
	}
	return normalize.Rename(in[0], mapping, normalize.RenameOptions{
		Coalesce:      opt.Bool("coalesce", false),
		IgnoreMissing: opt.Bool("ignore_missing", false),
	})
}

// cleanLabelsStep applies "rules" in order. A rule is a name (trim,
// collapse_space, upper, lower, title, fold, snake) or a replacement
// {"replace": old, "with": new, "regex": bool}.
func cleanLabelsStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	raw, ok := opt.Any("rules").([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New(`option "rules" must be a non-empty list`)
	}
	rules := make([]normalize.Rule, 0, len(raw))
	for i, r := range raw {
		rule, err := parseRule(r)
		if err != nil {
			return nil, errors.Wrapf(err, "rules[%d]", i)
		}
		rules = append(rules, rule)
	}
	return normalize.CleanLabels(in[0], rules...)
}

func parseRule(r any) (normalize.Rule, error) {
	if m, ok := r.(map[string]any); ok {
		o := config.Options(m)
		old, repl := o.String("replace", ""), o.String("with", "")
		if old == "" {
			return nil, errors.New(`replacement needs "replace"`)
		}
		if o.Bool("regex", false) {
			return normalize.ReplaceRegex(old, repl)
		}
		return normalize.ReplaceLiteral(old, repl), nil
	}
	switch name := fmt.Sprint(r); name {
	case "trim", "strip":
		return normalize.TrimSpace(), nil
	case "collapse_space":
		return normalize.CollapseSpace(), nil
	case "upper":
		return normalize.Upper(), nil
	case "lower":
		return normalize.Lower(), nil
	case "title":
		return normalize.Title(), nil
	case "fold":
		return normalize.Fold(), nil
	case "snake":
		return normalize.Snake(), nil
	default:
		return nil, errors.Errorf("unknown rule %q", name)
	}
}

// strStep applies a string operation to "column" and stores the result in
// "output" (default: the column itself). extract adds one column per
// capture group when the pattern has more than one.
func strStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	label, err := required(opt, "column")
	if err != nil {
		return nil, err
	}
	c, err := t.Column(label)
	if err != nil {
		return nil, err
	}
	out := opt.String("output", label)

	var res *table.Column
	switch op := opt.String("op", ""); op {
	case "strip":
		res, err = normalize.Strip(c, opt.String("chars", ""))
	case "upper":
		res, err = normalize.UpperCells(c)
	case "lower":
		res, err = normalize.LowerCells(c)
	case "replace":
		res, err = normalize.Replace(c, opt.String("old", ""), opt.String("new", ""), opt.Bool("regex", false))
	case "len":
		res, err = normalize.Len(c)
	case "slice":
		res, err = normalize.Slice(c, opt.Int("start", 0), opt.Int("stop", 0))
	case "split_get":
		res, err = normalize.SplitGet(c, opt.String("sep", ""), opt.Int("index", 0))
	case "last_word":
		res, err = normalize.LastWord(c)
	case "extract":
		return extractInto(t, label, out, opt)
	default:
		return nil, errors.Errorf("unknown str op %q", op)
	}
	if err != nil {
		return nil, err
	}
	return t.WithColumn(res.Rename(out))
}

func extractInto(t *table.Table, label, out string, opt config.Options) (*table.Table, error) {
	pattern, err := required(opt, "pattern")
	if err != nil {
		return nil, err
	}
	groups, err := normalize.Extract(t, label, pattern)
	if err != nil {
		return nil, err
	}
	if groups.NumColumns() == 1 {
		return t.WithColumn(groups.ColumnAt(0).Rename(out))
	}
	return t.WithColumns(groups.Columns()...)
}

// containsFilterStep keeps rows whose "column" contains "pattern" (a regular
// expression unless regex is false). "negate" keeps the others.
func containsFilterStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	label, err := required(opt, "column")
	if err != nil {
		return nil, err
	}
	c, err := t.Column(label)
	if err != nil {
		return nil, err
	}
	m, err := normalize.Contains(c, opt.String("pattern", ""), opt.Bool("regex", true), opt.Bool("na", false))
	if err != nil {
		return nil, err
	}
	if opt.Bool("negate", false) {
		m = table.Not(m)
	}
	return t.Filter(m)
}

func extractAllStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	label, err := required(opt, "column")
	if err != nil {
		return nil, err
	}
	pattern, err := required(opt, "pattern")
	if err != nil {
		return nil, err
	}
	return normalize.ExtractAll(in[0], label, pattern)
}

func setIndexStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	keys := opt.Strings("keys")
	if len(keys) == 0 {
		return nil, errors.New(`option "keys" is required`)
	}
	return in[0].SetIndex(keys...)
}

func resetIndexStep(_ context.Context, _ config.Options, in []*table.Table) (*table.Table, error) {
	return in[0].ResetIndex(), nil
}

// sortStep orders rows by "by". "descending" is one flag for every key or a
// list aligned with "by".
func sortStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	by := opt.Strings("by")
	if len(by) == 0 {
		return nil, errors.New(`option "by" is required`)
	}
	desc := make([]bool, len(by))
	if flags, ok := opt.Any("descending").([]any); ok {
		for i := range desc {
			if i < len(flags) {
				desc[i], _ = flags[i].(bool)
			}
		}
	} else {
		d := opt.Bool("descending", false)
		for i := range desc {
			desc[i] = d
		}
	}
	keys := make([]table.SortKey, len(by))
	for i, l := range by {
		keys[i] = table.SortKey{Label: l, Descending: desc[i]}
	}
	return in[0].Sort(keys...)
}

func concatStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	return combine.Concat(in, combine.ConcatOptions{
		Axis:        opt.Int("axis", 0),
		IgnoreIndex: opt.Bool("ignore_index", false),
		Suffixes:    opt.Strings("suffixes"),
	})
}

func mergeStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	how, err := combine.ParseHow(opt.String("how", "inner"))
	if err != nil {
		return nil, err
	}
	mo := combine.MergeOptions{
		How:        how,
		On:         opt.Strings("on"),
		LeftOn:     opt.Strings("left_on"),
		RightOn:    opt.Strings("right_on"),
		LeftIndex:  opt.Bool("left_index", false),
		RightIndex: opt.Bool("right_index", false),
	}
	if s := opt.Strings("suffixes"); len(s) == 2 {
		mo.Suffixes = [2]string{s[0], s[1]}
	}
	return combine.Merge(in[0], in[1], mo)
}

func lookupFuncs(names []string) ([]groupby.Func, error) {
	fns := make([]groupby.Func, 0, len(names))
	for _, n := range names {
		f, err := groupby.Lookup(n)
		if err != nil {
			return nil, err
		}
		fns = append(fns, f)
	}
	return fns, nil
}

// groupbyStep groups by "keys" and aggregates. "size" counts rows per
// group; "aggs" lists per-column functions ([{"column", "funcs"}]);
// otherwise every "columns" entry gets every "funcs" entry (default mean).
func groupbyStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	g, err := groupby.By(in[0], opt.Strings("keys")...)
	if err != nil {
		return nil, err
	}
	if opt.Bool("sort", false) {
		g = g.Sorted()
	}

	var out *table.Table
	switch aggs := opt.List("aggs"); {
	case opt.Bool("size", false):
		out, err = g.Sizes()
	case len(aggs) > 0:
		specs := make([]groupby.Spec, 0, len(aggs))
		for _, a := range aggs {
			fns, err := lookupFuncs(a.Strings("funcs"))
			if err != nil {
				return nil, err
			}
			specs = append(specs, groupby.Spec{Column: a.String("column", ""), Funcs: fns})
		}
		out, err = groupby.AggregateSpecs(g, specs...)
	default:
		names := opt.Strings("funcs")
		if len(names) == 0 {
			names = []string{"mean"}
		}
		fns, ferr := lookupFuncs(names)
		if ferr != nil {
			return nil, ferr
		}
		out, err = groupby.Aggregate(g, opt.Strings("columns"), fns...)
	}
	if err != nil {
		return nil, err
	}
	if opt.Bool("reset_index", false) {
		out = out.ResetIndex()
	}
	return out, nil
}

func valueCountsStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	label, err := required(opt, "column")
	if err != nil {
		return nil, err
	}
	c, err := in[0].Key(label)
	if err != nil {
		return nil, err
	}
	return groupby.ValueCounts(c, groupby.CountOptions{
		Normalize: opt.Bool("normalize", false),
		KeepNA:    !opt.Bool("dropna", true),
		Ascending: opt.Bool("ascending", false),
	})
}

func pivotStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	spec := reshape.PivotSpec{
		Index:       opt.Strings("index"),
		Values:      opt.Strings("values"),
		Columns:     opt.Strings("columns"),
		Margins:     opt.Bool("margins", false),
		MarginsName: opt.String("margins_name", reshape.DefaultMarginsName),
	}
	for _, name := range opt.Strings("aggfunc") {
		f, err := groupby.Lookup(name)
		if err != nil {
			return nil, err
		}
		spec.Aggs = append(spec.Aggs, f)
	}
	return reshape.Pivot(in[0], spec)
}

func meltStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	return reshape.Melt(in[0], reshape.MeltSpec{
		IDs:       opt.Strings("id_vars"),
		Values:    opt.Strings("value_vars"),
		VarName:   opt.String("var_name", ""),
		ValueName: opt.String("value_name", ""),
	})
}

// countNullsStep reports the null count of every column, one row each.
func countNullsStep(_ context.Context, _ config.Options, in []*table.Table) (*table.Table, error) {
	counts := missing.CountNulls(in[0])
	labels := make([]any, len(counts))
	nulls := make([]any, len(counts))
	for i, nc := range counts {
		labels[i] = nc.Column
		nulls[i] = int64(nc.Nulls)
	}
	return table.New(table.NewColumn("column", labels), table.NewColumn("nulls", nulls))
}

// fillNAStep fills nulls in "columns" with "value", or with the column mean
// or median per "method". Without columns it fills every column, or every
// numeric column for mean and median.
func fillNAStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	t := in[0]
	method := opt.String("method", "value")

	var fill missing.Fill
	switch method {
	case "value":
		if !opt.Has("value") {
			return nil, errors.New(`option "value" is required`)
		}
		fill = missing.Value(literal(opt.Any("value")))
	case "mean":
		fill = missing.Mean()
	case "median":
		fill = missing.Median()
	default:
		return nil, errors.Errorf("unknown fill method %q", method)
	}

	labels := opt.Strings("columns")
	if len(labels) == 0 {
		for _, c := range t.Columns() {
			if method == "value" || c.Kind().Numeric() {
				labels = append(labels, c.Name())
			}
		}
	}
	var err error
	for _, l := range labels {
		if t, err = missing.FillNA(t, l, fill); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func dropNAStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	how := missing.How(opt.String("how", string(missing.Any)))
	if how != missing.Any && how != missing.All {
		return nil, errors.Errorf("unknown how %q", how)
	}
	return missing.DropNA(in[0], missing.DropNAOptions{
		How:    how,
		Subset: opt.Strings("subset"),
		Thresh: opt.Int("thresh", 0),
	})
}

func dropColumnsStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	return missing.DropColumns(in[0], opt.Strings("columns")...)
}

// dropThresholdStep drops columns with fewer than "thresh" non-null cells.
func dropThresholdStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	if !opt.Has("thresh") {
		return nil, errors.New(`option "thresh" is required`)
	}
	return missing.DropColumnsBelowThreshold(in[0], opt.Int("thresh", 0))
}

func keepOption(opt config.Options) (missing.Keep, error) {
	switch k := missing.Keep(opt.String("keep", string(missing.KeepFirst))); k {
	case missing.KeepFirst, missing.KeepLast, missing.KeepNone:
		return k, nil
	default:
		return "", errors.Errorf("unknown keep %q", k)
	}
}

func dropDuplicatesStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	keep, err := keepOption(opt)
	if err != nil {
		return nil, err
	}
	if keep == missing.KeepFirst {
		return missing.DropDuplicates(in[0], opt.Strings("keys")...)
	}
	dups, err := missing.DuplicatedKeep(in[0], keep, opt.Strings("keys")...)
	if err != nil {
		return nil, err
	}
	return in[0].Filter(table.Not(dups))
}

// duplicatedStep returns the duplicated rows, or with "column" set, the
// whole table plus a bool column marking them.
func duplicatedStep(_ context.Context, opt config.Options, in []*table.Table) (*table.Table, error) {
	keep, err := keepOption(opt)
	if err != nil {
		return nil, err
	}
	dups, err := missing.DuplicatedKeep(in[0], keep, opt.Strings("keys")...)
	if err != nil {
		return nil, err
	}
	name := opt.String("column", "")
	if name == "" {
		return in[0].Filter(dups)
	}
	vals := make([]any, len(dups))
	for i, d := range dups {
		vals[i] = d
	}
	return in[0].WithColumn(table.NewColumn(name, vals))
}
