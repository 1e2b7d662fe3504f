package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	OptSGD      OptimizerType = "sgd"
	OptMomentum OptimizerType = "momentum"
	OptAdam     OptimizerType = "adam"
)

// Default settings generally recommended for Adam
var DefaultAdamConfig = AdamConfig{
	Beta1:        0.9,
	Beta2:        0.999,
	Epsilon:      1e-8,
	LearningRate: 0.001,
}

type OptimizerType string
type AdamConfig struct {
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	LearningRate float64
}

// Optimizer updates a fixed parameter set from its accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step()
}

type AdamOptimizer struct {
	cfg      AdamConfig
	params   []Parameter
	m, v     [][]float64 // first and second moment per parameter
	timeStep int         // 't' in the Adam paper, tracks number of updates
}

type SGDOptimizer struct {
	LearningRate float64
	params       []Parameter
}

type MomentumOptimizer struct {
	LearningRate float64
	Mu           float64 // Momentum Factor (usually 0.9)

	params   []Parameter
	velocity [][]float64
}

// NewOptimizer builds the optimizer of the given type over params.
func NewOptimizer(typ OptimizerType, params []Parameter, lr float64) (Optimizer, error) {
	switch typ {
	case OptAdam:
		cfg := DefaultAdamConfig
		cfg.LearningRate = lr
		return NewAdamOptimizer(params, cfg), nil
	case OptMomentum:
		return NewMomentumOptimizer(params, lr, 0.9), nil
	case OptSGD:
		return NewSGDOptimizer(params, lr), nil
	default:
		return nil, fmt.Errorf("ml: unknown optimizer %q", typ)
	}
}

func NewAdamOptimizer(params []Parameter, cfg AdamConfig) *AdamOptimizer {
	// Set defaults if 0
	if cfg.Beta1 == 0 {
		cfg.Beta1 = DefaultAdamConfig.Beta1
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = DefaultAdamConfig.Beta2
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultAdamConfig.Epsilon
	}

	opt := &AdamOptimizer{
		cfg:    cfg,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, len(p.Value.data))
		opt.v[i] = make([]float64, len(p.Value.data))
	}
	return opt
}

func NewMomentumOptimizer(params []Parameter, lr, mu float64) *MomentumOptimizer {
	if mu == 0 {
		mu = 0.9
	} // Default

	opt := &MomentumOptimizer{
		LearningRate: lr,
		Mu:           mu,
		params:       params,
		velocity:     make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.velocity[i] = make([]float64, len(p.Value.data))
	}
	return opt
}

func NewSGDOptimizer(params []Parameter, lr float64) *SGDOptimizer {
	return &SGDOptimizer{LearningRate: lr, params: params}
}

func zeroGrad(params []Parameter) {
	for _, p := range params {
		p.Grad.Reset()
	}
}

// ------ ADAM OPTIMIZER METHODS ------ //
func (opt *AdamOptimizer) ZeroGrad() { zeroGrad(opt.params) }

// Step applies the Adam update rule to every parameter
func (opt *AdamOptimizer) Step() {
	// 1. Increment Time Step
	opt.timeStep++
	t := float64(opt.timeStep)

	// 2. Pre-calculate Correction Factors
	correction1 := 1.0 - math.Pow(opt.cfg.Beta1, t)
	correction2 := 1.0 - math.Pow(opt.cfg.Beta2, t)

	beta1 := opt.cfg.Beta1
	beta2 := opt.cfg.Beta2
	eps := opt.cfg.Epsilon
	lr := opt.cfg.LearningRate

	for pi, p := range opt.params {
		params, grads := p.Value.data, p.Grad.data
		m, v := opt.m[pi], opt.v[pi]

		for i := range params {
			g := grads[i]

			// m_t = beta1 * m_{t-1} + (1 - beta1) * g
			m[i] = beta1*m[i] + (1.0-beta1)*g
			// v_t = beta2 * v_{t-1} + (1 - beta2) * g^2
			v[i] = beta2*v[i] + (1.0-beta2)*(g*g)

			mHat := m[i] / correction1
			vHat := v[i] / correction2

			// theta = theta - lr * mHat / (sqrt(vHat) + eps)
			params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
		}
	}
}

// ------ MOMENTUM OPTIMIZER METHODS ------ //
func (opt *MomentumOptimizer) ZeroGrad() { zeroGrad(opt.params) }

// Step applies v = mu * v - lr * grad; w = w + v
func (opt *MomentumOptimizer) Step() {
	for pi, p := range opt.params {
		params, grads, velocity := p.Value.data, p.Grad.data, opt.velocity[pi]
		for i := range params {
			velocity[i] = (opt.Mu * velocity[i]) - (opt.LearningRate * grads[i])
			params[i] += velocity[i]
		}
	}
}

// ------ SGD OPTIMIZER METHODS ------ //
func (opt *SGDOptimizer) ZeroGrad() { zeroGrad(opt.params) }

func (opt *SGDOptimizer) Step() {
	for _, p := range opt.params {
		// W = W - (lr * gradient)
		floats.AddScaled(p.Value.data, -opt.LearningRate, p.Grad.data)
	}
}
