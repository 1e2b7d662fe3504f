package data

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// LoadCSV reads a CSV file with a header row. Files ending in .gz or .xz are
// decompressed on the fly. A missing file yields an error matching
// fs.ErrNotExist.
func LoadCSV(path string) (*Table, error) {
	rc, err := openMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	t, err := ReadCSV(rc)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}

// ReadCSV parses CSV content with a header row into a Table.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("no columns to parse from file")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	t := &Table{
		Header: make([]string, len(header)),
		cols:   len(header),
	}
	for i, h := range header {
		t.Header[i] = strings.TrimSpace(h)
	}
	t.Header[0] = strings.TrimPrefix(t.Header[0], "\ufeff")

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}

		for col, field := range record {
			v, perr := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if perr != nil {
				t.markBad(t.rows, col, field)
				v = math.NaN()
			}
			t.cells = append(t.cells, v)
		}
		t.rows++
	}
	return t, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	br := bufio.NewReader(f)

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "%s: gzip", path)
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "%s: xz", path)
		}
		return &multiCloser{Reader: xr, closers: []io.Closer{f}}, nil
	default:
		return &multiCloser{Reader: br, closers: []io.Closer{f}}, nil
	}
}
