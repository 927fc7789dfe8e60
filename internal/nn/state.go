package nn

import (
	"fmt"
	"sort"

	"github.com/born-ml/graphnet/internal/tensor"
)

// State dict keys.
const (
	KeyWeights         = "weights"
	KeyBiases          = "biases"
	KeyRunningMean     = "running_mean"
	KeyRunningVariance = "running_variance"
)

// params holds the trainable tensors of a weighted layer.
type params struct {
	w *tensor.Tensor
	b *tensor.Tensor
}

func (p *params) Weights() *tensor.Tensor { return p.w }
func (p *params) Biases() *tensor.Tensor  { return p.b }

// Parameters returns the number of trainable values.
func (p *params) Parameters() int { return p.w.Size() + p.b.Size() }

func (p *params) clone() params {
	return params{w: p.w.Duplicate(), b: p.b.Duplicate()}
}

func (p *params) tensors() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{KeyWeights: p.w, KeyBiases: p.b}
}

// snapshot returns owned copies of tensors.
func snapshot(tensors map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor, len(tensors))
	for k, t := range tensors {
		state[k] = t.Duplicate()
	}
	return state
}

// restore copies every entry of state into the matching target tensor.
// Nothing is written unless all keys are present with the right shapes.
func restore(layer string, state, targets map[string]*tensor.Tensor) error {
	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		src, ok := state[k]
		if !ok {
			return fmt.Errorf("%s: missing state %q", layer, k)
		}
		if !src.SameShape(targets[k]) {
			return fmt.Errorf("%s: state %q: %w", layer, k, tensor.Mismatch("load state", src, targets[k]))
		}
	}
	for _, k := range keys {
		if err := state[k].CopyTo(targets[k]); err != nil {
			return err
		}
	}
	return nil
}
