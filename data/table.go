package data

import (
	"fmt"

	"github.com/pkg/errors"
)

// PixelMax is the largest raw intensity; features are divided by it.
const PixelMax = 255.0

// Shape is a (rows, cols) pair, printed as "(rows, cols)".
type Shape struct {
	Rows, Cols int
}

func (s Shape) String() string { return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols) }

// Table is a parsed CSV file with a header row. Cells are stored row-major as
// float64; a cell that is not a number is stored as NaN and remembered per
// column so that only its use as a feature is an error.
type Table struct {
	Header []string

	rows, cols int
	cells      []float64
	bad        map[int]CellError // first non-numeric cell per column
}

// CellError describes a cell that could not be read as a number.
type CellError struct {
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("non-numeric value %q in column %q at row %d", e.Value, e.Column, e.Row)
}

func (t *Table) Rows() int    { return t.rows }
func (t *Table) Cols() int    { return t.cols }
func (t *Table) Shape() Shape { return Shape{Rows: t.rows, Cols: t.cols} }

func (t *Table) At(row, col int) float64 { return t.cells[row*t.cols+col] }

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Numeric reports whether every cell of column col parsed as a number.
func (t *Table) Numeric(col int) bool {
	_, bad := t.bad[col]
	return !bad
}

// Select copies the given columns into a new row-major slice, dividing every
// value by divisor. Selecting a column with a non-numeric cell fails.
func (t *Table) Select(cols []int, divisor float64) ([]float64, error) {
	for _, c := range cols {
		if c < 0 || c >= t.cols {
			return nil, errors.Errorf("column %d out of range [0, %d)", c, t.cols)
		}
		if cellErr, bad := t.bad[c]; bad {
			return nil, errors.WithStack(&cellErr)
		}
	}

	out := make([]float64, 0, t.rows*len(cols))
	for r := 0; r < t.rows; r++ {
		row := t.cells[r*t.cols : (r+1)*t.cols]
		for _, c := range cols {
			out = append(out, row[c]/divisor)
		}
	}
	return out, nil
}

// columnRange returns [from, to).
func columnRange(from, to int) []int {
	cols := make([]int, 0, max(to-from, 0))
	for c := from; c < to; c++ {
		cols = append(cols, c)
	}
	return cols
}

func (t *Table) markBad(row, col int, value string) {
	if t.bad == nil {
		t.bad = make(map[int]CellError)
	}
	if _, seen := t.bad[col]; !seen {
		t.bad[col] = CellError{Row: row + 1, Column: t.Header[col], Value: value}
	}
}
