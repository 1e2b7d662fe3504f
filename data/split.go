package data

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// DefaultSeed is the split seed used when none is configured.
const DefaultSeed = 42

// Dataset is a row-major feature matrix with one label per row.
type Dataset struct {
	X    []float64
	Y    []float64
	Cols int
}

func (d Dataset) Len() int { return len(d.Y) }

// Split is a partition of row indices into train and validation sets.
type Split struct {
	Train []int
	Val   []int
}

// TrainTestSplit partitions n row indices, putting ceil(testFraction*n) of
// them in Val. The result depends only on n, testFraction and seed.
func TrainTestSplit(n int, testFraction float64, seed uint64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, errors.Errorf("validation fraction %v must be in (0, 1)", testFraction)
	}
	nVal := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nVal
	if nVal < 1 || nTrain < 1 {
		return Split{}, errors.Errorf("cannot split %d rows into non-empty train and validation sets", n)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)
	return Split{Train: perm[nVal:], Val: perm[:nVal]}, nil
}

// Apply materializes the partition of d.
func (s Split) Apply(d Dataset) (train, val Dataset) {
	return d.subset(s.Train), d.subset(s.Val)
}

func (d Dataset) subset(idx []int) Dataset {
	out := Dataset{
		X:    make([]float64, 0, len(idx)*d.Cols),
		Y:    make([]float64, 0, len(idx)),
		Cols: d.Cols,
	}
	for _, i := range idx {
		out.X = append(out.X, d.X[i*d.Cols:(i+1)*d.Cols]...)
		out.Y = append(out.Y, d.Y[i])
	}
	return out
}
