package ml

import (
	"fmt"
	"math"
)

// CrossEntropyLoss is softmax followed by negative log-likelihood, averaged
// over the batch. It takes raw logits and integer class labels.
type CrossEntropyLoss struct {
	probs *Matrix
	grad  *Matrix

	// batch in flight
	p      *Matrix
	labels []float64
}

func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward returns the mean cross-entropy of logits against labels.
func (l *CrossEntropyLoss) Forward(logits *Matrix, labels []float64) float64 {
	if logits.rows != len(labels) {
		panic(fmt.Sprintf("Label count mismatch. Expected %d, got %d", logits.rows, len(labels)))
	}
	if l.probs == nil || l.probs.cols != logits.cols || l.probs.rows < logits.rows {
		l.probs = NewMatrix(logits.rows, logits.cols)
		l.grad = NewMatrix(logits.rows, logits.cols)
	}

	l.p = l.probs.Head(logits.rows)
	l.labels = labels
	copy(l.p.data, logits.data)
	SoftmaxRow(l.p)

	const epsilon = 1e-15
	totalLoss := 0.0
	for i, label := range labels {
		class := int(label)
		if class < 0 || class >= l.p.cols {
			panic(fmt.Sprintf("Label %v out of range [0, %d)", label, l.p.cols))
		}
		totalLoss += -math.Log(l.p.data[i*l.p.cols+class] + epsilon)
	}
	return totalLoss / float64(len(labels))
}

// Backward returns d(loss)/d(logits) for the last Forward call:
// (softmax - onehot) / batchSize.
func (l *CrossEntropyLoss) Backward() *Matrix {
	if l.p == nil {
		panic("Backward called before Forward")
	}
	g := l.grad.Head(l.p.rows)
	copy(g.data, l.p.data)
	for i, label := range l.labels {
		g.data[i*g.cols+int(label)] -= 1.0
	}
	scale := 1.0 / float64(g.rows)
	g.ApplyFunc(func(v float64) float64 { return v * scale })
	return g
}

// SoftmaxRow applies softmax to each row of the matrix.
func SoftmaxRow(m *Matrix) {
	for i := 0; i < m.rows; i++ {
		maxVal := -math.MaxFloat64
		for j := 0; j < m.cols; j++ {
			if m.data[i*m.cols+j] > maxVal {
				maxVal = m.data[i*m.cols+j]
			}
		}
		sum := 0.0
		for j := 0; j < m.cols; j++ {
			val := math.Exp(m.data[i*m.cols+j] - maxVal)
			m.data[i*m.cols+j] = val
			sum += val
		}
		for j := 0; j < m.cols; j++ {
			m.data[i*m.cols+j] /= sum
		}
	}
}
