package tabular

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame is an immutable-ish tabular snapshot: a header row plus string cells.
//
// Frames are what the sheet connector produces and what the analyzer and
// renderer consume. Cells are kept as strings; numeric interpretation happens
// through column stats so a half-numeric column never corrupts the raw data.
type Frame struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// Stats is the quick profile shown to users and fed into analysis prompts.
type Stats struct {
	Rows           int `json:"rows"`
	Columns        int `json:"columns"`
	NumericColumns int `json:"numeric_columns"`
	MissingValues  int `json:"missing_values"`
}

// New builds a Frame from raw sheet values (first row is the header).
//
// Cleanup mirrors what users expect from spreadsheet imports:
//   - empty header cells become "column_N"
//   - fully empty rows and fully empty columns are dropped
func New(values [][]string, fetchedAt time.Time) Frame {
	if len(values) == 0 {
		return Frame{FetchedAt: fetchedAt}
	}

	header := make([]string, len(values[0]))
	for i, h := range values[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		header[i] = h
	}

	rows := make([][]string, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := make([]string, len(header))
		empty := true
		for i := range header {
			if i < len(raw) {
				row[i] = strings.TrimSpace(raw[i])
			}
			if row[i] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}

	// Drop columns with no header data and no cell data.
	keep := make([]bool, len(header))
	for i := range header {
		if !strings.HasPrefix(header[i], "column_") {
			keep[i] = true
			continue
		}
		for _, row := range rows {
			if row[i] != "" {
				keep[i] = true
				break
			}
		}
	}

	outCols := make([]string, 0, len(header))
	colIdx := make([]int, 0, len(header))
	for i, k := range keep {
		if k {
			outCols = append(outCols, header[i])
			colIdx = append(colIdx, i)
		}
	}
	outRows := make([][]string, len(rows))
	for r, row := range rows {
		out := make([]string, len(colIdx))
		for j, i := range colIdx {
			out[j] = row[i]
		}
		outRows[r] = out
	}

	return Frame{Columns: outCols, Rows: outRows, FetchedAt: fetchedAt}
}

func (f Frame) Empty() bool { return len(f.Rows) == 0 }

// Head returns up to n data rows. Used for raw-data samples in reports.
func (f Frame) Head(n int) [][]string {
	if n <= 0 || n >= len(f.Rows) {
		return f.Rows
	}
	return f.Rows[:n]
}

// Stats profiles the frame. A column counts as numeric when more than half of
// its non-empty cells parse as numbers (thousands separators stripped), the
// same heuristic spreadsheet users rely on for imported data.
func (f Frame) Stats() Stats {
	st := Stats{Rows: len(f.Rows), Columns: len(f.Columns)}
	for c := range f.Columns {
		nonEmpty := 0
		numeric := 0
		for _, row := range f.Rows {
			v := row[c]
			if v == "" {
				st.MissingValues++
				continue
			}
			nonEmpty++
			if _, ok := parseNumber(v); ok {
				numeric++
			}
		}
		if nonEmpty > 0 && numeric*2 > nonEmpty {
			st.NumericColumns++
		}
	}
	return st
}

// NumericSummary returns min/max/mean for a column, if it is mostly numeric.
type NumericSummary struct {
	Column string  `json:"column"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Count  int     `json:"count"`
}

// Summaries profiles every mostly-numeric column.
func (f Frame) Summaries() []NumericSummary {
	var out []NumericSummary
	for c, name := range f.Columns {
		var (
			sum      float64
			min, max float64
			count    int
			nonEmpty int
		)
		for _, row := range f.Rows {
			v := row[c]
			if v == "" {
				continue
			}
			nonEmpty++
			n, ok := parseNumber(v)
			if !ok {
				continue
			}
			if count == 0 || n < min {
				min = n
			}
			if count == 0 || n > max {
				max = n
			}
			sum += n
			count++
		}
		if nonEmpty == 0 || count*2 <= nonEmpty {
			continue
		}
		out = append(out, NumericSummary{
			Column: name,
			Min:    min,
			Max:    max,
			Mean:   sum / float64(count),
			Count:  count,
		})
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
