package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/b0tShaman/neuro-mlp/history"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// writeCSV writes rows of pixel data. withLabel prepends a label column and
// withIndex an id column.
func writeCSV(t *testing.T, name string, rows, pixels int, withLabel, withIndex bool) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(uint64(rows), uint64(pixels)))

	var sb strings.Builder
	var header []string
	if withIndex {
		header = append(header, "ImageId")
	}
	if withLabel {
		header = append(header, "label")
	}
	for i := range pixels {
		header = append(header, fmt.Sprintf("pixel%d", i))
	}
	sb.WriteString(strings.Join(header, ","))
	sb.WriteByte('\n')

	cells := make([]string, 0, len(header))
	for r := range rows {
		cells = cells[:0]
		if withIndex {
			cells = append(cells, fmt.Sprint(r+1))
		}
		label := r % numClasses
		if withLabel {
			cells = append(cells, fmt.Sprint(label))
		}
		for p := range pixels {
			// a bright band per class keeps the data learnable
			v := rng.IntN(64)
			if p%numClasses == label {
				v += 160
			}
			cells = append(cells, fmt.Sprint(v))
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteByte('\n')
	}

	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

var epochLine = regexp.MustCompile(`^Epoch (\d+): (\d{1,3}\.\d{2})%$`)

func TestEndToEnd(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 1000, 784, true, false)
	testPath := writeCSV(t, "test.csv", 200, 784, false, false)

	code, stdout, stderr := execute(t, trainPath, testPath)
	assert.Equal(t, code, exitOK, stdout)
	assert.Equal(t, stderr, "")

	got := lines(stdout)
	assert.DeepEqual(t, got[:5], []string{
		"Loaded training data: (1000, 785)",
		"Loaded test data: (200, 784)",
		"Expected number of features: 784",
		"Test data shape after processing: (200, 784)",
		"Training MLP with 784 inputs, 16 hidden neurons for 10 epochs...",
	})

	epochs := got[5:]
	assert.Assert(t, is.Len(epochs, 10))
	for i, l := range epochs {
		m := epochLine.FindStringSubmatch(l)
		assert.Assert(t, m != nil, "unexpected line %q", l)
		assert.Equal(t, m[1], fmt.Sprint(i+1))
		var acc float64
		_, err := fmt.Sscan(m[2], &acc)
		assert.NilError(t, err)
		assert.Check(t, acc >= 0 && acc <= 100, l)
	}
}

func TestMissingFile(t *testing.T) {
	testPath := writeCSV(t, "test.csv", 5, 4, false, false)
	missing := filepath.Join(t.TempDir(), "no_such_train.csv")

	code, stdout, _ := execute(t, missing, testPath)
	assert.Equal(t, code, exitError)
	got := lines(stdout)
	assert.Assert(t, is.Len(got, 1))
	assert.Check(t, strings.HasPrefix(got[0], "Error: Could not find file - "), got[0])
	assert.Check(t, is.Contains(got[0], "no_such_train.csv"))
}

func TestMalformedCSV(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 5, 4, true, false)
	bad := filepath.Join(t.TempDir(), "bad.csv")
	assert.NilError(t, os.WriteFile(bad, []byte("a,b\n1,2,3\n"), 0o644))

	code, stdout, _ := execute(t, trainPath, bad)
	assert.Equal(t, code, exitError)
	assert.Check(t, strings.HasPrefix(stdout, "Error loading CSV files: "), stdout)
	assert.Check(t, is.Contains(stdout, "bad.csv"))
}

func TestFeatureMismatch(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 20, 784, true, false)
	testPath := writeCSV(t, "test.csv", 5, 783, false, false)

	code, stdout, _ := execute(t, trainPath, testPath)
	assert.Equal(t, code, exitError)
	assert.DeepEqual(t, lines(stdout), []string{
		"Loaded training data: (20, 785)",
		"Loaded test data: (5, 783)",
		"Expected number of features: 784",
		"Test data shape after processing: (5, 783)",
		"Error: Test data has 783 features, but training data has 784 features",
	})
}

func TestIndexColumnDropped(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 50, 8, true, false)
	testPath := writeCSV(t, "test.csv", 7, 8, false, true)

	code, stdout, _ := execute(t, trainPath, testPath, "--inputs", "8", "--epochs", "1")
	assert.Equal(t, code, exitOK, stdout)
	got := lines(stdout)
	assert.Check(t, is.Equal(got[3], "Test data has 9 columns, removing first column (assumed to be index)"))
	assert.Check(t, is.Equal(got[4], "Test data shape after processing: (7, 8)"))
	assert.Check(t, is.Equal(got[5], "Training MLP with 8 inputs, 16 hidden neurons for 1 epochs..."))
	assert.Check(t, is.Len(got, 7))
}

func TestInputsMustMatchFeatures(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 20, 8, true, false)
	testPath := writeCSV(t, "test.csv", 5, 8, false, false)

	code, stdout, _ := execute(t, trainPath, testPath)
	assert.Equal(t, code, exitError)
	assert.Check(t, is.Contains(stdout, "model expects 784 inputs, but training data has 8 features"))
	assert.Check(t, !strings.Contains(stdout, "Training MLP"))
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"only_one.csv"},
		{"a.csv", "b.csv", "c.csv"},
		{"a.csv", "b.csv", "--epochs", "ten"},
		{"a.csv", "b.csv", "--optimizer", "rmsprop"},
	} {
		code, stdout, stderr := execute(t, args...)
		assert.Check(t, is.Equal(code, exitUsage), "%v", args)
		assert.Check(t, is.Equal(stdout, ""), "%v", args)
		assert.Check(t, is.Contains(stderr, "Usage:"), "%v", args)
	}
}

func TestConfigFilePrecedence(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 30, 4, true, false)
	testPath := writeCSV(t, "test.csv", 3, 4, false, false)
	cfgPath := filepath.Join(t.TempDir(), "run.yaml")
	assert.NilError(t, os.WriteFile(cfgPath, []byte("epochs: 2\ninputs: 4\nhidden: 8\n"), 0o644))

	code, stdout, _ := execute(t, trainPath, testPath, "--config", cfgPath)
	assert.Equal(t, code, exitOK, stdout)
	assert.Check(t, is.Contains(stdout, "Training MLP with 4 inputs, 8 hidden neurons for 2 epochs..."))
	assert.Check(t, is.Contains(stdout, "Epoch 2: "))

	code, stdout, _ = execute(t, trainPath, testPath, "--config", cfgPath, "--epochs", "3")
	assert.Equal(t, code, exitOK, stdout)
	assert.Check(t, is.Contains(stdout, "for 3 epochs..."))
	assert.Check(t, is.Contains(stdout, "Epoch 3: "))

	code, stdout, _ = execute(t, trainPath, testPath, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Equal(t, code, exitError)
	assert.Check(t, strings.HasPrefix(stdout, "Error: loading config"), stdout)
}

func TestHistoryRecordsEpochs(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 40, 4, true, false)
	testPath := writeCSV(t, "test.csv", 3, 4, false, false)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	code, stdout, _ := execute(t, trainPath, testPath, "--inputs", "4", "--epochs", "3", "--history", dbPath)
	assert.Equal(t, code, exitOK, stdout)

	db, err := history.Open(dbPath)
	assert.NilError(t, err)
	defer db.Close()
	ctx := context.Background()
	run, err := db.LatestRun(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(run.Status, "done"))
	epochs, err := db.Epochs(ctx, run.ID)
	assert.NilError(t, err)
	assert.Check(t, is.Len(epochs, 3))
}

func TestDebugLogsGoToStderr(t *testing.T) {
	trainPath := writeCSV(t, "train.csv", 40, 4, true, false)
	testPath := writeCSV(t, "test.csv", 3, 4, false, false)

	code, stdout, stderr := execute(t, trainPath, testPath, "--inputs", "4", "--epochs", "1", "--log-level", "debug")
	assert.Equal(t, code, exitOK, stdout)
	assert.Check(t, is.Contains(stderr, `"message":"epoch complete"`))
	assert.Check(t, !strings.Contains(stdout, "message"))
}
