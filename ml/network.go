package ml

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrEvalMode is returned by Backward when the network is in evaluation mode.
var ErrEvalMode = errors.New("ml: backward pass requested in evaluation mode")

// ErrNoForward is returned by Backward when no batch has been forwarded yet.
var ErrNoForward = errors.New("ml: backward pass requested before forward")

type NeuralNetwork struct {
	Layers []*Layer

	training bool
	batchCap int
	input    *Matrix // input of the batch in flight
}

// Neural Network Builder
func NewNetwork(configs ...LayerConfig) *NeuralNetwork {
	if len(configs) < 2 {
		panic("Network must have at least Input and one Output layer")
	}
	if !configs[0].IsInput {
		panic("First layer must be Input()")
	}

	nw := &NeuralNetwork{training: true}
	prevOutputSize := configs[0].Neurons

	for i := 1; i < len(configs); i++ {
		cfg := configs[i]
		if prevOutputSize <= 0 || cfg.Neurons <= 0 {
			panic(fmt.Sprintf("Layer %d has invalid shape [%d, %d]", i, prevOutputSize, cfg.Neurons))
		}

		layer := &Layer{
			Weights: NewMatrix(prevOutputSize, cfg.Neurons),
			Biases:  NewMatrix(1, cfg.Neurons),
			ActType: cfg.Activation,
			dW:      NewMatrix(prevOutputSize, cfg.Neurons),
			dB:      NewMatrix(1, cfg.Neurons),
			gW:      NewMatrix(prevOutputSize, cfg.Neurons),
		}

		if cfg.Activation == ActRelu {
			layer.Weights.Randomize()
		} else {
			layer.Weights.RandomizeXavier()
		}

		nw.Layers = append(nw.Layers, layer)
		prevOutputSize = cfg.Neurons
	}

	return nw
}

// -------- NEURAL NETWORK METHODS -------- //
func (nw *NeuralNetwork) InputSize() int  { return nw.Layers[0].Weights.rows }
func (nw *NeuralNetwork) OutputSize() int { return nw.Layers[len(nw.Layers)-1].Weights.cols }

// Train switches the network into a mode that permits parameter updates.
func (nw *NeuralNetwork) Train() { nw.training = true }

// Eval switches the network into inference mode; Backward is rejected.
func (nw *NeuralNetwork) Eval() { nw.training = false }

func (nw *NeuralNetwork) Training() bool { return nw.training }

// InitializeBuffers allocates forward/backward buffers for batches of up to
// batchSize rows. Forward calls it on demand when a larger batch arrives.
func (nw *NeuralNetwork) InitializeBuffers(batchSize int) {
	for _, layer := range nw.Layers {
		outputDim := layer.Weights.cols
		layer.Z = NewMatrix(batchSize, outputDim)
		layer.A = NewMatrix(batchSize, outputDim)
		layer.dZ = NewMatrix(batchSize, outputDim)
	}
	nw.batchCap = batchSize
}

// Parameters lists every trainable tensor with its gradient, in layer order.
func (nw *NeuralNetwork) Parameters() []Parameter {
	params := make([]Parameter, 0, 2*len(nw.Layers))
	for i, l := range nw.Layers {
		params = append(params,
			Parameter{Name: fmt.Sprintf("layer%d.weight", i), Value: l.Weights, Grad: l.dW},
			Parameter{Name: fmt.Sprintf("layer%d.bias", i), Value: l.Biases, Grad: l.dB},
		)
	}
	return params
}

// ZeroGrad clears the accumulated gradients of every layer.
func (nw *NeuralNetwork) ZeroGrad() {
	for _, l := range nw.Layers {
		l.dW.Reset()
		l.dB.Reset()
	}
}

// Forward runs the batch through every layer and returns the output
// activations (a view owned by the network, valid until the next Forward).
func (nw *NeuralNetwork) Forward(input *Matrix) *Matrix {
	if input.cols != nw.InputSize() {
		panic(fmt.Sprintf("Input size mismatch. Expected %d, got %d", nw.InputSize(), input.cols))
	}
	rows := input.rows
	if rows > nw.batchCap {
		nw.InitializeBuffers(rows)
	}

	nw.input = input
	activation := input
	for _, layer := range nw.Layers {
		layer.z = layer.Z.Head(rows)
		layer.a = layer.A.Head(rows)
		layer.dz = layer.dZ.Head(rows)

		MatMul(activation.dense, layer.Weights.dense, layer.z)
		layer.z.AddVector(layer.Biases)
		copy(layer.a.data, layer.z.data)

		switch layer.ActType {
		case ActRelu:
			layer.a.ApplyRelu()
		case ActSigmoid:
			layer.a.ApplySigmoid()
		case ActLinear:
		default:
			panic("Unknown activation type")
		}
		activation = layer.a
	}
	return activation
}

// Backward propagates dOut (the loss gradient w.r.t. the last Forward output)
// through the network and accumulates parameter gradients.
func (nw *NeuralNetwork) Backward(dOut *Matrix) error {
	if !nw.training {
		return ErrEvalMode
	}
	if nw.input == nil {
		return ErrNoForward
	}

	lastLayerIdx := len(nw.Layers) - 1
	lastLayer := nw.Layers[lastLayerIdx]
	if dOut.rows != lastLayer.dz.rows || dOut.cols != lastLayer.dz.cols {
		return fmt.Errorf("ml: gradient shape [%d, %d] does not match output [%d, %d]",
			dOut.rows, dOut.cols, lastLayer.dz.rows, lastLayer.dz.cols)
	}

	copy(lastLayer.dz.data, dOut.data)
	lastLayer.applyDerivative()

	for i := lastLayerIdx; i >= 0; i-- {
		layer := nw.Layers[i]

		prevA := nw.input
		if i > 0 {
			prevA = nw.Layers[i-1].a
		}

		// dW += A_prev^T · dZ
		MatMul(prevA.dense.T(), layer.dz.dense, layer.gW)
		floats.Add(layer.dW.data, layer.gW.data)

		// db += column sums of dZ
		dZData := layer.dz.data
		dbData := layer.dB.data
		cols := layer.dz.cols
		for r := 0; r < layer.dz.rows; r++ {
			floats.Add(dbData, dZData[r*cols:(r+1)*cols])
		}

		// --- CALC dZ_prev ---
		if i > 0 {
			prevLayer := nw.Layers[i-1]
			MatMul(layer.dz.dense, layer.Weights.dense.T(), prevLayer.dz)
			prevLayer.applyDerivative()
		}
	}
	return nil
}
