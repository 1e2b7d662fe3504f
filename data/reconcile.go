package data

import (
	"fmt"

	"github.com/pkg/errors"
)

// LabelColumn is the name of the class column in training data.
const LabelColumn = "label"

// ErrNoLabel is returned when the training table has no label column.
var ErrNoLabel = errors.New(`training data has no "` + LabelColumn + `" column`)

// FeatureMismatchError reports a test table whose feature count still differs
// from the training feature count after reconciliation.
type FeatureMismatchError struct {
	Got, Want int
}

func (e *FeatureMismatchError) Error() string {
	return fmt.Sprintf("Test data has %d features, but training data has %d features", e.Got, e.Want)
}

// LabelError reports a label that is not a class id in [0, classes).
type LabelError struct {
	Row     int
	Value   float64
	Classes int
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("label %v at row %d is not a class in [0, %d)", e.Value, e.Row, e.Classes)
}

// Reconciled is the test table aligned against the training feature count.
type Reconciled struct {
	Expected    int  // training feature count
	TestColumns int  // column count of the raw test table
	Dropped     bool // the leading column was dropped as an index
	Shape       Shape
	X           []float64 // scaled test features, row-major
}

// Reconcile aligns the test table with the training features. When the test
// table has strictly more columns than expected, its first column is assumed
// to be an index and dropped; nothing else is repaired. The remaining columns
// are scaled into [0, 1]. Call Verify for the final column count check.
func Reconcile(train, test *Table) (*Reconciled, error) {
	r := &Reconciled{
		Expected:    ExpectedFeatures(train),
		TestColumns: test.Cols(),
	}

	from := 0
	if test.Cols() > r.Expected {
		from = 1
		r.Dropped = true
	}

	x, err := test.Select(columnRange(from, test.Cols()), PixelMax)
	if err != nil {
		return nil, errors.Wrap(err, "test data")
	}
	r.X = x
	r.Shape = Shape{Rows: test.Rows(), Cols: test.Cols() - from}
	return r, nil
}

// ExpectedFeatures is the training column count without the label column.
func ExpectedFeatures(train *Table) int {
	return train.Cols() - 1
}

// Verify fails with a *FeatureMismatchError unless the processed test column
// count equals the training feature count.
func (r *Reconciled) Verify() error {
	if r.Shape.Cols != r.Expected {
		return &FeatureMismatchError{Got: r.Shape.Cols, Want: r.Expected}
	}
	return nil
}

// TrainingSet extracts scaled features and class labels from the training
// table. Features are every column except LabelColumn, in file order.
func TrainingSet(train *Table, classes int) (Dataset, error) {
	labelCol := train.ColumnIndex(LabelColumn)
	if labelCol < 0 {
		return Dataset{}, ErrNoLabel
	}

	featureCols := make([]int, 0, train.Cols()-1)
	for c := 0; c < train.Cols(); c++ {
		if c != labelCol {
			featureCols = append(featureCols, c)
		}
	}
	x, err := train.Select(featureCols, PixelMax)
	if err != nil {
		return Dataset{}, errors.Wrap(err, "training data")
	}
	y, err := train.Select([]int{labelCol}, 1)
	if err != nil {
		return Dataset{}, errors.Wrap(err, "training data")
	}
	for i, v := range y {
		if v != float64(int(v)) || v < 0 || int(v) >= classes {
			return Dataset{}, &LabelError{Row: i + 1, Value: v, Classes: classes}
		}
	}

	return Dataset{X: x, Y: y, Cols: len(featureCols)}, nil
}
