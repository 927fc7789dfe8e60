// Package optim implements the weights updaters used to train graphs.
//
// This package provides:
//   - Updater: applies one step to a weighted layer from its gradients
//   - Algorithm: builds an Updater bound to the layers of a graph
//   - SGD (with optional momentum), Adadelta, Adam and AdaMax
//
// Gradients are summed over the batch. SGD divides by the number of samples;
// the adaptive methods are scale invariant and use the raw gradients.
//
// Example usage:
//
//	updater, err := optim.AdamConfig{LearningRate: 0.001}.New(g.WeightedLayers())
//	if err != nil {
//	    return err
//	}
//	for _, batch := range batches {
//	    step, err := g.Backpropagate(batch.X, batch.Y, 0, nil, updater)
//	    ...
//	}
package optim

import (
	"fmt"
	"strings"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Updater applies one optimization step to a weighted layer.
//
// index is the position of the layer among the layers the updater was
// built for. Calls for different indices may run concurrently.
type Updater interface {
	Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error
}

// Algorithm builds an updater with fresh state for the given layers.
type Algorithm interface {
	New(layers []nn.WeightedLayer) (Updater, error)
	String() string
}

// Parse returns the algorithm registered under name with its default
// hyperparameters and the given learning rate (0 keeps the default).
func Parse(name string, learningRate float32) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return SGDConfig{LearningRate: learningRate}, nil
	case "adadelta":
		return AdadeltaConfig{}, nil
	case "adam":
		return AdamConfig{LearningRate: learningRate}, nil
	case "adamax":
		return AdaMaxConfig{LearningRate: learningRate}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (want sgd, adadelta, adam or adamax)", name)
	}
}

// arena holds every state array of an updater in one buffer. Layer i owns
// states arrays shaped like its weights and as many shaped like its biases.
type arena struct {
	data   []float32
	layers []layerState
}

type layerState struct {
	w, b [][]float32
}

func newArena(layers []nn.WeightedLayer, states int) *arena {
	size := 0
	for _, l := range layers {
		size += states * (l.Weights().Size() + l.Biases().Size())
	}
	a := &arena{
		data:   make([]float32, size),
		layers: make([]layerState, len(layers)),
	}
	off := 0
	take := func(n int) []float32 {
		s := a.data[off : off+n : off+n]
		off += n
		return s
	}
	for i, l := range layers {
		st := layerState{w: make([][]float32, states), b: make([][]float32, states)}
		for k := 0; k < states; k++ {
			st.w[k] = take(l.Weights().Size())
			st.b[k] = take(l.Biases().Size())
		}
		a.layers[i] = st
	}
	return a
}

// checkUpdate validates an Update call against the layers the updater was
// built for.
func checkUpdate(name string, shapes []shape, index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error {
	if index < 0 || index >= len(shapes) {
		return fmt.Errorf("%s: layer index %d out of range [0, %d)", name, index, len(shapes))
	}
	if samples <= 0 {
		return fmt.Errorf("%s: invalid sample count %d", name, samples)
	}
	want := shapes[index]
	if layer.Weights().Size() != want.w || layer.Biases().Size() != want.b {
		return tensor.Mismatchf(name, "layer %d has %d+%d parameters, updater was built for %d+%d",
			index, layer.Weights().Size(), layer.Biases().Size(), want.w, want.b)
	}
	if !dJdw.SameShape(layer.Weights()) {
		return tensor.Mismatch(name+" weights", dJdw, layer.Weights())
	}
	if !dJdb.SameShape(layer.Biases()) {
		return tensor.Mismatch(name+" biases", dJdb, layer.Biases())
	}
	return nil
}

type shape struct{ w, b int }

func shapesOf(layers []nn.WeightedLayer) []shape {
	s := make([]shape, len(layers))
	for i, l := range layers {
		s[i] = shape{w: l.Weights().Size(), b: l.Biases().Size()}
	}
	return s
}

func checkRange(name, field string, v, lo, hi float32) error {
	if v < lo || v >= hi {
		return fmt.Errorf("%s: %s %v out of [%v, %v)", name, field, v, lo, hi)
	}
	return nil
}
