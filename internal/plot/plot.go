// Package plot renders charts of finished tables into an XLSX workbook.
// Each chart gets its own sheet holding the plotted data next to the chart.
//
// bar and barh chart one series per value column against the category
// column (or the row index). pie charts a single value column. heatmap
// writes the null mask of the whole table as a colour-scaled 0/1 grid.
package plot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"eda/internal/config"
	"eda/internal/missing"
	"eda/internal/table"
)

const maxSheetName = 31

// Render writes every chart to a new workbook at path. tables resolves each
// chart's input.
func Render(path string, charts []config.Plot, tables map[string]*table.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	used := map[string]bool{}
	for i, p := range charts {
		t, ok := tables[p.Input]
		if !ok {
			return fmt.Errorf("plot %d: unknown table %q", i, p.Input)
		}
		sheet := sheetName(p, i, used)
		if sheet != defaultSheet {
			if _, err := f.NewSheet(sheet); err != nil {
				return errors.Wrapf(err, "plot %s", sheet)
			}
		}

		var err error
		switch p.Kind {
		case "bar", "barh", "pie":
			err = chart(f, sheet, p, t)
		case "heatmap":
			err = heatmap(f, sheet, t)
		default:
			err = fmt.Errorf("unknown kind %q", p.Kind)
		}
		if err != nil {
			return fmt.Errorf("plot %s: %w", sheet, err)
		}
	}
	if len(charts) > 0 && !used[defaultSheet] {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "plot: create directory")
	}
	return errors.Wrapf(f.SaveAs(path), "plot: save %s", path)
}

// sheetName picks a unique, valid sheet name for chart i.
func sheetName(p config.Plot, i int, used map[string]bool) string {
	name := p.Sheet
	if name == "" {
		name = fmt.Sprintf("%s_%s_%d", p.Kind, p.Input, i+1)
	}
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if len([]rune(name)) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	base := name
	for n := 2; used[name]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		r := []rune(base)
		name = string(r[:min(len(r), maxSheetName-len(suffix))]) + suffix
	}
	used[name] = true
	return name
}

// series resolves the category labels and value columns of p.
func series(p config.Plot, t *table.Table) ([]string, []*table.Column, error) {
	cats := make([]string, t.Len())
	if p.X != "" {
		c, err := t.Column(p.X)
		if err != nil {
			return nil, nil, err
		}
		for i := range cats {
			cats[i] = table.Format(c.Value(i))
		}
	} else {
		for i := range cats {
			label := t.RowLabel(i)
			parts := make([]string, len(label))
			for j, v := range label {
				parts[j] = table.Format(v)
			}
			cats[i] = strings.Join(parts, ", ")
		}
	}

	var vals []*table.Column
	if len(p.Y) > 0 {
		cols, err := t.Lookup(p.Y...)
		if err != nil {
			return nil, nil, err
		}
		vals = cols
	} else {
		for _, c := range t.Columns() {
			if c.Kind().Numeric() && c.Name() != p.X {
				vals = append(vals, c)
			}
		}
	}
	if len(vals) == 0 {
		return nil, nil, fmt.Errorf("no numeric columns to plot")
	}
	for _, c := range vals {
		if !c.Kind().Numeric() && c.NullCount() != c.Len() {
			return nil, nil, fmt.Errorf("column %q is %s, not numeric", c.Name(), c.Kind())
		}
	}
	if p.Kind == "pie" && len(vals) != 1 {
		return nil, nil, fmt.Errorf("pie takes one value column, got %d", len(vals))
	}
	return cats, vals, nil
}

func chart(f *excelize.File, sheet string, p config.Plot, t *table.Table) error {
	cats, vals, err := series(p, t)
	if err != nil {
		return err
	}

	header := make([]any, 1+len(vals))
	header[0] = p.X
	for j, c := range vals {
		header[j+1] = c.Name()
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, cat := range cats {
		row := make([]any, 1+len(vals))
		row[0] = cat
		for j, c := range vals {
			if v, ok := table.ToFloat(c.Value(i)); ok {
				row[j+1] = v
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	last := len(cats) + 1
	ref := quoteSheet(sheet)
	ss := make([]excelize.ChartSeries, len(vals))
	for j := range vals {
		col, _ := excelize.ColumnNumberToName(j + 2)
		ss[j] = excelize.ChartSeries{
			Name:       fmt.Sprintf("%s!$%s$1", ref, col),
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", ref, last),
			Values:     fmt.Sprintf("%s!$%s$2:$%s$%d", ref, col, col, last),
		}
	}

	c := &excelize.Chart{
		Type:   chartType(p.Kind),
		Series: ss,
		Legend: excelize.ChartLegend{Position: "right"},
	}
	if p.Title != "" {
		c.Title = []excelize.RichTextRun{{Text: p.Title}}
	}
	if p.Legend != nil && !*p.Legend {
		c.Legend.Position = "none"
	}
	// The value axis is vertical for bar and horizontal for barh.
	lim := p.YLim
	if p.Kind == "barh" {
		lim = p.XLim
	}
	if len(lim) == 2 {
		c.YAxis.Minimum = &lim[0]
		c.YAxis.Maximum = &lim[1]
	}

	anchor, _ := excelize.CoordinatesToCellName(len(vals)+3, 2)
	return f.AddChart(sheet, anchor, c)
}

func chartType(kind string) excelize.ChartType {
	switch kind {
	case "barh":
		return excelize.Bar
	case "pie":
		return excelize.Pie
	}
	return excelize.Col
}

// heatmap writes 1 for a null cell and 0 otherwise, one row per table row,
// and colours the grid from white (present) to black (missing).
func heatmap(f *excelize.File, sheet string, t *table.Table) error {
	cols := t.Columns()
	if len(cols) == 0 || t.Len() == 0 {
		return fmt.Errorf("empty table")
	}
	mask := missing.NullMask(t)

	header := make([]any, 1+len(cols))
	header[0] = strings.Join(t.IndexNames(), ", ")
	for j, c := range cols {
		header[j+1] = c.Name()
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := 0; i < t.Len(); i++ {
		row := make([]any, 1+len(cols))
		label := t.RowLabel(i)
		parts := make([]string, len(label))
		for k, v := range label {
			parts[k] = table.Format(v)
		}
		row[0] = strings.Join(parts, ", ")
		for j := range mask {
			if mask[j].Contains(uint32(i)) {
				row[j+1] = 1
			} else {
				row[j+1] = 0
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	from, _ := excelize.CoordinatesToCellName(2, 2)
	to, _ := excelize.CoordinatesToCellName(len(cols)+1, t.Len()+1)
	return f.SetConditionalFormat(sheet, from+":"+to, []excelize.ConditionalFormatOptions{{
		Type:     "2_color_scale",
		Criteria: "=",
		MinType:  "num",
		MinValue: "0",
		MaxType:  "num",
		MaxValue: "1",
		MinColor: "#FFFFFF",
		MaxColor: "#000000",
	}})
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
