package data

import (
	"bytes"
	"compress/gzip"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const sampleCSV = "label,pixel0,pixel1\n3,0,255\n7,51,102\n"

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, content, 0o644))
	return path
}

func gzipBytes(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	assert.NilError(t, err)
	assert.NilError(t, zw.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	assert.NilError(t, err)
	_, err = xw.Write([]byte(s))
	assert.NilError(t, err)
	assert.NilError(t, xw.Close())
	return buf.Bytes()
}

func TestLoadCSV(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content []byte
	}{
		{"train.csv", []byte(sampleCSV)},
		{"train.csv.gz", gzipBytes(t, sampleCSV)},
		{"train.csv.xz", xzBytes(t, sampleCSV)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := LoadCSV(writeFile(t, tc.name, tc.content))
			assert.NilError(t, err)
			assert.Equal(t, tbl.Shape(), Shape{Rows: 2, Cols: 3})
			assert.Equal(t, tbl.Shape().String(), "(2, 3)")
			assert.DeepEqual(t, tbl.Header, []string{"label", "pixel0", "pixel1"})
			assert.Equal(t, tbl.At(1, 2), 102.0)
		})
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.csv")
	_, err := LoadCSV(path)
	assert.Assert(t, errors.Is(err, fs.ErrNotExist))
	assert.ErrorContains(t, err, "nope.csv")
}

func TestLoadCSVMalformed(t *testing.T) {
	_, err := LoadCSV(writeFile(t, "ragged.csv", []byte("a,b\n1,2\n3\n")))
	assert.ErrorContains(t, err, "ragged.csv")
	assert.ErrorContains(t, err, "wrong number of fields")
	assert.Assert(t, !errors.Is(err, fs.ErrNotExist))

	_, err = LoadCSV(writeFile(t, "empty.csv", nil))
	assert.ErrorContains(t, err, "no columns to parse")

	_, err = LoadCSV(writeFile(t, "broken.csv.gz", []byte("not gzip")))
	assert.ErrorContains(t, err, "gzip")
}

func TestReadCSVHeaderOnly(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("pixel0,pixel1\n"))
	assert.NilError(t, err)
	assert.Equal(t, tbl.Shape(), Shape{Rows: 0, Cols: 2})
}

func TestNonNumericCellsFailOnlyWhenSelected(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("id,p0\nimg-1,10\nimg-2,20\n"))
	assert.NilError(t, err)
	assert.Check(t, !tbl.Numeric(0))
	assert.Check(t, tbl.Numeric(1))

	x, err := tbl.Select([]int{1}, 10)
	assert.NilError(t, err)
	assert.DeepEqual(t, x, []float64{1, 2})

	_, err = tbl.Select([]int{0, 1}, 1)
	var cellErr *CellError
	assert.Assert(t, errors.As(err, &cellErr))
	assert.Check(t, is.Equal(cellErr.Column, "id"))
	assert.Check(t, is.Equal(cellErr.Row, 1))
	assert.Check(t, is.Equal(cellErr.Value, "img-1"))
}
