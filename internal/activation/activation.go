// Package activation defines the activation functions supported by graphnet
// layers together with their derivatives.
//
// Derivatives are expressed as functions of the pre-activation value z, so
// that a layer only needs its cached activity to backpropagate.
package activation

import (
	"fmt"
	"math"
)

// Kind selects an activation function.
type Kind int

// Supported activation functions.
const (
	Identity Kind = iota
	Sigmoid
	Tanh
	LeCunTanh
	ReLU
	LeakyReLU
	AbsoluteReLU
	ELU
	Softplus
	Softmax
)

// Func is an elementwise scalar function.
type Func func(x float32) float32

// String returns the activation name.
func (k Kind) String() string {
	switch k {
	case Identity:
		return "identity"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	case LeCunTanh:
		return "lecuntanh"
	case ReLU:
		return "relu"
	case LeakyReLU:
		return "leakyrelu"
	case AbsoluteReLU:
		return "absrelu"
	case ELU:
		return "elu"
	case Softplus:
		return "softplus"
	case Softmax:
		return "softmax"
	default:
		return fmt.Sprintf("activation(%d)", int(k))
	}
}

// Elementwise reports whether the activation acts on single values.
// Softmax normalizes whole rows and has no elementwise derivative.
func (k Kind) Elementwise() bool {
	return k != Softmax
}

// Parse returns the Kind with the given name.
func Parse(name string) (Kind, error) {
	for k := Identity; k <= Softmax; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", name)
}

const (
	leakyReLUSlope = 0.01
	lecunScale     = 1.7159
	lecunSlope     = 0.666667
)

// Functions returns the forward function and its derivative for k.
func Functions(k Kind) (f, prime Func, err error) {
	switch k {
	case Identity:
		return identity, one, nil
	case Sigmoid:
		return sigmoid, sigmoidPrime, nil
	case Tanh:
		return tanh, tanhPrime, nil
	case LeCunTanh:
		return lecunTanh, lecunTanhPrime, nil
	case ReLU:
		return relu, reluPrime, nil
	case LeakyReLU:
		return leakyReLU, leakyReLUPrime, nil
	case AbsoluteReLU:
		return absReLU, absReLUPrime, nil
	case ELU:
		return elu, eluPrime, nil
	case Softplus:
		return softplus, sigmoid, nil
	case Softmax:
		return nil, nil, fmt.Errorf("%s has no elementwise form", k)
	default:
		return nil, nil, fmt.Errorf("unsupported activation %s", k)
	}
}

// Derivative returns only the derivative of k.
func Derivative(k Kind) (Func, error) {
	_, prime, err := Functions(k)
	return prime, err
}

func identity(x float32) float32 { return x }

func one(float32) float32 { return 1 }

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func sigmoidPrime(x float32) float32 {
	s := float64(sigmoid(x))
	return float32(s * (1 - s))
}

func tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

func tanhPrime(x float32) float32 {
	t := math.Tanh(float64(x))
	return float32(1 - t*t)
}

func lecunTanh(x float32) float32 {
	return float32(lecunScale * math.Tanh(lecunSlope*float64(x)))
}

func lecunTanhPrime(x float32) float32 {
	t := math.Tanh(lecunSlope * float64(x))
	return float32(lecunScale * lecunSlope * (1 - t*t))
}

func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func reluPrime(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

func leakyReLU(x float32) float32 {
	if x > 0 {
		return x
	}
	return leakyReLUSlope * x
}

func leakyReLUPrime(x float32) float32 {
	if x > 0 {
		return 1
	}
	return leakyReLUSlope
}

func absReLU(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func absReLUPrime(x float32) float32 {
	if x < 0 {
		return -1
	}
	return 1
}

func elu(x float32) float32 {
	if x >= 0 {
		return x
	}
	return float32(math.Exp(float64(x)) - 1)
}

func eluPrime(x float32) float32 {
	if x >= 0 {
		return 1
	}
	return float32(math.Exp(float64(x)))
}

// softplus is log(1 + e^x), written to avoid overflow for large x.
func softplus(x float32) float32 {
	v := float64(x)
	if v > 20 {
		return x
	}
	return float32(math.Log1p(math.Exp(v)))
}
