package ml

const (
	ActLinear ActivationType = iota
	ActRelu
	ActSigmoid
)

var activationMap = map[string]ActivationType{
	"linear":  ActLinear,
	"sigmoid": ActSigmoid,
	"relu":    ActRelu,
}

// -------- TYPE DEFINITIONS -------- //
type ActivationType int
type LayerOption func(*LayerConfig)

// LayerConfig holds the blueprint for a layer
type LayerConfig struct {
	Neurons    int
	IsInput    bool
	Activation ActivationType
}

// Layer is a fully connected layer: A = act(X·W + b).
type Layer struct {
	Weights *Matrix
	Biases  *Matrix
	ActType ActivationType

	// Accumulated gradients, cleared by the optimizer's ZeroGrad
	dW, dB *Matrix
	// Scratch for the per-batch weight gradient before accumulation
	gW *Matrix

	// Batch buffers sized to the network's batch capacity
	Z, A, dZ *Matrix

	// Views of the buffers for the batch currently in flight
	z, a, dz *Matrix
}

// Parameter pairs a trainable tensor with its gradient.
type Parameter struct {
	Name  string
	Value *Matrix
	Grad  *Matrix
}

// ------- LAYER CONFIG HELPERS ------- //
// Input defines the entry point dimensions
func Input(size int) LayerConfig {
	return LayerConfig{
		Neurons:    size,
		IsInput:    true,
		Activation: ActLinear,
	}
}

// Dense defines a fully connected layer.
func Dense(size int, opts ...LayerOption) LayerConfig {
	d := LayerConfig{
		Neurons:    size,
		IsInput:    false,
		Activation: ActRelu, // Default for hidden layers
	}

	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func Activation(activation string) LayerOption {
	return func(lc *LayerConfig) {
		act, exists := activationMap[activation]
		if !exists {
			panic("Unknown activation: " + activation)
		}
		lc.Activation = act
	}
}

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// applyDerivative multiplies the incoming gradient in l.dz by act'(z).
func (l *Layer) applyDerivative() {
	dz := l.dz.data
	switch l.ActType {
	case ActRelu:
		z := l.z.data
		for k := range dz {
			if z[k] <= 0 {
				dz[k] = 0
			}
		}
	case ActSigmoid:
		a := l.a.data
		for k := range dz {
			dz[k] *= a[k] * (1.0 - a[k])
		}
	case ActLinear:
	default:
		panic("Unknown activation type")
	}
}
