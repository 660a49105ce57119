// Package html reads tabular data out of HTML documents with goquery.
//
// Two modes are supported. Table mode (the default) reads the rows of one
// <table>:
//
//	selector          CSS selector of candidate tables, default "table"
//	table_index       which match to read, default 0
//	has_header        first row holds the labels, default true
//
// Record mode is selected by record_selector: every matching element
// becomes one record and fields extracts one column each, relative to it:
//
//	record_selector   CSS selector of record containers
//	fields            [{"name", "selector", "extract": "text"|"attr", "attr", "match"}]
//
// Both modes honor header_map and normalize_headers like the CSV parser.
package html

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"eda/internal/config"
	"eda/internal/normalize"
)

// Field is one record-mode extraction rule.
type Field struct {
	Name     string
	Selector string
	Extract  string // "text" or "attr"
	Attr     string
	Match    *regexp.Regexp
}

// Read parses r and returns column labels and string records. Records may
// be shorter than the label list; missing cells are empty.
func Read(r io.Reader, opt config.Options) ([]string, [][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	if sel := opt.String("record_selector", ""); sel != "" {
		fields, err := parseFields(opt.List("fields"))
		if err != nil {
			return nil, nil, err
		}
		hdr := make([]string, len(fields))
		for i, f := range fields {
			hdr[i] = f.Name
		}
		return labels(hdr, opt), extractRecords(doc.Selection, sel, fields), nil
	}
	return readTable(doc, opt)
}

func labels(hdr []string, opt config.Options) []string {
	return normalize.HeaderLabels(hdr, opt.StringMap("header_map"), opt.Bool("normalize_headers", false))
}

func readTable(doc *goquery.Document, opt config.Options) ([]string, [][]string, error) {
	selector := opt.String("selector", "table")
	idx := opt.Int("table_index", 0)
	tables := doc.Find(selector)
	if idx < 0 || idx >= tables.Length() {
		return nil, nil, fmt.Errorf("html: table %d of %q not found (%d matches)", idx, selector, tables.Length())
	}

	tbl := tables.Eq(idx)
	var rows [][]string
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Rows of nested tables belong to them.
		if tr.Closest("table").Get(0) != tbl.Get(0) {
			return
		}
		var cells []string
		tr.ChildrenFiltered("th,td").Each(func(_ int, c *goquery.Selection) {
			v := cellText(c)
			span, _ := strconv.Atoi(c.AttrOr("colspan", "1"))
			if span < 1 {
				span = 1
			}
			for i := 0; i < span; i++ {
				cells = append(cells, v)
			}
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("html: table %d of %q has no rows", idx, selector)
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	var hdr []string
	if opt.Bool("has_header", true) {
		hdr, rows = rows[0], rows[1:]
		for len(hdr) < width {
			hdr = append(hdr, strconv.Itoa(len(hdr)))
		}
	} else {
		hdr = make([]string, width)
		for i := range hdr {
			hdr[i] = strconv.Itoa(i)
		}
	}
	return labels(hdr, opt), rows, nil
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func parseFields(raw []config.Options) ([]Field, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("html: record_selector needs fields")
	}
	out := make([]Field, 0, len(raw))
	for i, o := range raw {
		f := Field{
			Name:     o.String("name", ""),
			Selector: o.String("selector", ""),
			Extract:  o.String("extract", "text"),
			Attr:     o.String("attr", ""),
		}
		if f.Name == "" {
			return nil, fmt.Errorf("html: fields[%d] has no name", i)
		}
		if f.Extract != "text" && f.Extract != "attr" {
			return nil, fmt.Errorf("html: fields[%d]: unknown extract %q", i, f.Extract)
		}
		if f.Extract == "attr" && f.Attr == "" {
			return nil, fmt.Errorf("html: fields[%d]: extract attr needs attr", i)
		}
		if m := strings.TrimSpace(o.String("match", "")); m != "" {
			re, err := regexp.Compile(m)
			if err != nil {
				return nil, fmt.Errorf("html: fields[%d]: invalid match: %w", i, err)
			}
			f.Match = re
		}
		out = append(out, f)
	}
	return out, nil
}

// extractRecords returns one record per container matched by selector, in
// document order. Containers where every field is empty are skipped.
func extractRecords(root *goquery.Selection, selector string, fields []Field) [][]string {
	var out [][]string
	root.Find(selector).Each(func(_ int, rec *goquery.Selection) {
		row := make([]string, len(fields))
		found := false
		for i, f := range fields {
			sel := rec
			if f.Selector != "" {
				sel = rec.Find(f.Selector).First()
			}
			if sel.Length() == 0 {
				continue
			}
			var v string
			switch f.Extract {
			case "attr":
				v = strings.TrimSpace(sel.AttrOr(f.Attr, ""))
			default:
				v = cellText(sel)
			}
			v = applyMatch(v, f.Match)
			if v != "" {
				row[i] = v
				found = true
			}
		}
		if found {
			out = append(out, row)
		}
	})
	return out
}

// applyMatch keeps group 1 of re, or the whole match when re has no groups.
// No match yields "".
func applyMatch(v string, re *regexp.Regexp) string {
	if v == "" || re == nil {
		return v
	}
	sm := re.FindStringSubmatch(v)
	switch {
	case len(sm) == 0:
		return ""
	case len(sm) > 1:
		return sm[1]
	}
	return sm[0]
}
