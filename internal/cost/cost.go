// Package cost implements the cost functions used by output layers.
//
// Costs are averaged over the entities of a batch; deltas are not, the
// updaters take care of the batch size.
package cost

import (
	"fmt"
	"math"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Kind selects a cost function.
type Kind int

// Supported cost functions.
const (
	Quadratic Kind = iota
	CrossEntropy
	LogLikelihood
)

// String returns the cost name.
func (k Kind) String() string {
	switch k {
	case Quadratic:
		return "quadratic"
	case CrossEntropy:
		return "crossentropy"
	case LogLikelihood:
		return "loglikelihood"
	default:
		return fmt.Sprintf("cost(%d)", int(k))
	}
}

// probability clamp keeping logarithms finite.
const minProbability = 1e-12

// Compatible reports whether the output activation can be paired with k, and
// whether the pair uses the simplified (yHat - y) output delta.
func Compatible(k Kind, act activation.Kind) (ok, simplified bool) {
	switch k {
	case Quadratic:
		return act.Elementwise(), false
	case CrossEntropy:
		return act == activation.Sigmoid, true
	case LogLikelihood:
		return act == activation.Softmax, true
	default:
		return false, false
	}
}

// Evaluate returns the batch averaged cost of yHat against y.
func Evaluate(k Kind, yHat, y *tensor.Tensor, cfg parallel.Config) (float32, error) {
	if !yHat.SameShape(y) {
		return 0, tensor.Mismatch("cost", yHat, y)
	}

	var term func(p, t float64) float64
	switch k {
	case Quadratic:
		term = func(p, t float64) float64 {
			d := p - t
			return 0.5 * d * d
		}
	case CrossEntropy:
		term = func(p, t float64) float64 {
			p = clampProbability(p)
			return -(t*math.Log(p) + (1-t)*math.Log(1-p))
		}
	case LogLikelihood:
		term = func(p, t float64) float64 {
			if t == 0 {
				return 0
			}
			return -t * math.Log(clampProbability(p))
		}
	default:
		return 0, fmt.Errorf("unsupported cost %s", k)
	}

	n := yHat.Entities()
	partial := make([]float64, n)
	parallel.For(n, func(i int) {
		var sum float64
		pr, tr := yHat.Row(i), y.Row(i)
		for j := range pr {
			sum += term(float64(pr[j]), float64(tr[j]))
		}
		partial[i] = sum
	}, cfg)

	var total float64
	for _, p := range partial {
		total += p
	}
	return float32(total / float64(n)), nil
}

// Delta computes the output delta dJ/dz into z (which is consumed and returned).
//
// For the simplified pairs (cross-entropy with sigmoid, log-likelihood with
// softmax) the delta is yHat - y and prime is ignored; otherwise the cost
// derivative (yHat - y for the quadratic cost) is multiplied by prime(z).
func Delta(k Kind, act activation.Kind, yHat, y, z *tensor.Tensor, cfg parallel.Config) (*tensor.Tensor, error) {
	if !yHat.SameShape(y) {
		return nil, tensor.Mismatch("cost delta", yHat, y)
	}
	if !yHat.SameShape(z) {
		return nil, tensor.Mismatch("cost delta", z, yHat)
	}
	ok, simplified := Compatible(k, act)
	if !ok {
		return nil, fmt.Errorf("cost %s cannot be paired with activation %s", k, act)
	}

	var prime activation.Func
	if !simplified {
		var err error
		if prime, err = activation.Derivative(act); err != nil {
			return nil, err
		}
	}

	p, t, d := yHat.Data(), y.Data(), z.Data()
	length := z.Length()
	parallel.For(z.Entities(), func(i int) {
		for j := i * length; j < (i+1)*length; j++ {
			diff := p[j] - t[j]
			if simplified {
				d[j] = diff
			} else {
				d[j] = diff * prime(d[j])
			}
		}
	}, cfg)
	return z, nil
}

// Accuracy returns the number of rows whose predicted class matches the
// expected one. Single-output rows are thresholded at 0.5.
func Accuracy(yHat, y *tensor.Tensor) (int, error) {
	if !yHat.SameShape(y) {
		return 0, tensor.Mismatch("accuracy", yHat, y)
	}
	correct := 0
	for i := 0; i < yHat.Entities(); i++ {
		pr, tr := yHat.Row(i), y.Row(i)
		if len(pr) == 1 {
			if (pr[0] >= 0.5) == (tr[0] >= 0.5) {
				correct++
			}
			continue
		}
		if argmax(pr) == argmax(tr) {
			correct++
		}
	}
	return correct, nil
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func clampProbability(p float64) float64 {
	return math.Min(math.Max(p, minProbability), 1-minProbability)
}
