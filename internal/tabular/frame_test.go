package tabular

import (
	"testing"
	"time"
)

func TestNewCleansHeadersAndRows(t *testing.T) {
	t.Parallel()
	f := New([][]string{
		{"Region", "", "Revenue"},
		{"north", "x", "1,200"},
		{"", "", ""},
		{"south", "y", "800"},
	}, time.Now())

	if got := len(f.Rows); got != 2 {
		t.Fatalf("rows = %d, want 2 (empty row dropped)", got)
	}
	if f.Columns[1] != "column_1" {
		t.Fatalf("empty header not renamed: %q", f.Columns[1])
	}
}

func TestNewDropsEmptyColumns(t *testing.T) {
	t.Parallel()
	f := New([][]string{
		{"A", ""},
		{"1", ""},
		{"2", ""},
	}, time.Now())

	if len(f.Columns) != 1 || f.Columns[0] != "A" {
		t.Fatalf("empty column not dropped: %v", f.Columns)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := New([][]string{
		{"Region", "Revenue", "Note"},
		{"north", "1,200", "ok"},
		{"south", "800", ""},
		{"east", "950", "late"},
	}, time.Now())

	st := f.Stats()
	if st.Rows != 3 || st.Columns != 3 {
		t.Fatalf("unexpected shape: %+v", st)
	}
	if st.NumericColumns != 1 {
		t.Fatalf("NumericColumns = %d, want 1", st.NumericColumns)
	}
	if st.MissingValues != 1 {
		t.Fatalf("MissingValues = %d, want 1", st.MissingValues)
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()
	f := New([][]string{
		{"Revenue", "Region"},
		{"100", "a"},
		{"200", "b"},
		{"300", "c"},
	}, time.Now())

	sums := f.Summaries()
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	s := sums[0]
	if s.Column != "Revenue" || s.Min != 100 || s.Max != 300 || s.Mean != 200 || s.Count != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestHead(t *testing.T) {
	t.Parallel()
	f := New([][]string{{"A"}, {"1"}, {"2"}, {"3"}}, time.Now())
	if got := len(f.Head(2)); got != 2 {
		t.Fatalf("Head(2) = %d rows", got)
	}
	if got := len(f.Head(0)); got != 3 {
		t.Fatalf("Head(0) = %d rows, want all", got)
	}
}
