package ml

// Argmax finds the index of the largest score. Ties resolve to the lowest
// index.
func Argmax(scores []float64) int {
	maxIdx := 0
	for i, s := range scores {
		if s > scores[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

// Predict runs a forward pass and writes the arg-max class of every row into
// out, which must have input.Rows() elements.
func (nw *NeuralNetwork) Predict(input *Matrix, out []int) {
	if len(out) != input.rows {
		panic("Predict: output length mismatch")
	}
	logits := nw.Forward(input)
	for i := range out {
		out[i] = Argmax(logits.Row(i))
	}
}
