package ml

import (
	"fmt"
	"math/rand/v2"
)

// DataLoader iterates a dataset in mini-batches, optionally reshuffling the
// row order on every Reset. The last batch may be smaller than batchSize.
type DataLoader struct {
	x         *Matrix
	y         []float64
	batchSize int
	shuffle   bool
	rng       *rand.Rand

	indices []int
	pos     int

	// batch buffers, reused between Next calls
	xb *Matrix
	yb []float64
}

// NewDataLoader binds x (one sample per row) and y. A nil rng with shuffle
// enabled uses a randomly seeded generator.
func NewDataLoader(x *Matrix, y []float64, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("ml: batch size must be positive, got %d", batchSize)
	}
	if x.rows != len(y) {
		return nil, fmt.Errorf("ml: %d samples but %d labels", x.rows, len(y))
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	bs := min(batchSize, x.rows)
	dl := &DataLoader{
		x:         x,
		y:         y,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   NewIndexList(x.rows),
		xb:        NewMatrix(bs, x.cols),
		yb:        make([]float64, bs),
	}
	dl.Reset()
	return dl, nil
}

func (dl *DataLoader) Len() int { return dl.x.rows }

func (dl *DataLoader) NumBatches() int {
	return (dl.x.rows + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds to the first batch, reshuffling when enabled.
func (dl *DataLoader) Reset() {
	dl.pos = 0
	if dl.shuffle {
		ShuffleIndices(dl.indices, dl.rng)
	}
}

// Next returns the next batch. The returned matrix and labels are reused by
// the following call.
func (dl *DataLoader) Next() (*Matrix, []float64, bool) {
	if dl.pos >= len(dl.indices) {
		return nil, nil, false
	}
	end := min(dl.pos+dl.batchSize, len(dl.indices))
	batch := dl.indices[dl.pos:end]
	dl.pos = end

	xb := dl.xb.Head(len(batch))
	yb := dl.yb[:len(batch)]
	Gather(batch, dl.x.data, dl.y, dl.x.cols, xb, yb)
	return xb, yb, true
}

// ------ DATA HANDLING HELPERS ------
func NewIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func ShuffleIndices(indices []int, rng *rand.Rand) {
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}

// Gather copies specific rows from the global storage into a batch buffer.
// This gives the batch a contiguous matrix for efficient MatMul
// without reshuffling the global array.
func Gather(
	batchIndices []int,
	globalX []float64,
	globalY []float64,
	inputDim int,
	destX *Matrix,
	destY []float64,
) {
	rowSize := inputDim

	for localRowIdx, realDataIdx := range batchIndices {
		destY[localRowIdx] = globalY[realDataIdx]

		srcStart := realDataIdx * rowSize
		dstStart := localRowIdx * rowSize
		copy(destX.data[dstStart:dstStart+rowSize], globalX[srcStart:srcStart+rowSize])
	}
}
