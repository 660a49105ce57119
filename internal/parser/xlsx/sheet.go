// Package xlsx reads one worksheet of an Excel workbook as string records.
//
// Parser options:
//
//	sheet             worksheet name, default the first sheet with data
//	skip_rows         rows to skip before the header, default 0
//	has_header        first row holds the labels, default true
//	header_map, normalize_headers as for CSV
package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"eda/internal/config"
	"eda/internal/normalize"
)

// Read returns the column labels and records of the selected sheet. Cells
// are read unformatted, so numbers keep their full precision.
func Read(r io.Reader, opt config.Options) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("xlsx: open: %w", err)
	}
	defer f.Close()

	sheet := opt.String("sheet", "")
	var rows [][]string
	if sheet != "" {
		if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
			return nil, nil, fmt.Errorf("xlsx: sheet %q not found (have %s)", sheet, strings.Join(f.GetSheetList(), ", "))
		}
		if rows, err = f.GetRows(sheet, excelize.Options{RawCellValue: true}); err != nil {
			return nil, nil, fmt.Errorf("xlsx: read %q: %w", sheet, err)
		}
	} else {
		for _, name := range f.GetSheetList() {
			got, err := f.GetRows(name, excelize.Options{RawCellValue: true})
			if err == nil && len(got) > 0 {
				sheet, rows = name, got
				break
			}
		}
	}

	if n := opt.Int("skip_rows", 0); n > 0 {
		rows = rows[min(n, len(rows)):]
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("xlsx: sheet %q is empty", sheet)
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	var hdr []string
	if opt.Bool("has_header", true) {
		hdr = make([]string, width)
		for i := range hdr {
			if i < len(rows[0]) && strings.TrimSpace(rows[0][i]) != "" {
				hdr[i] = strings.TrimSpace(rows[0][i])
			} else {
				hdr[i] = "Unnamed: " + strconv.Itoa(i)
			}
		}
		rows = rows[1:]
	} else {
		hdr = make([]string, width)
		for i := range hdr {
			hdr[i] = strconv.Itoa(i)
		}
	}
	return normalize.HeaderLabels(hdr, opt.StringMap("header_map"), opt.Bool("normalize_headers", false)), rows, nil
}
