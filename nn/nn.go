// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/graphnet/activation"
	"github.com/born-ml/graphnet/backend"
	"github.com/born-ml/graphnet/cost"
	"github.com/born-ml/graphnet/internal/nn"
)

// Layer is a graph processing step.
type Layer = nn.Layer

// WeightedLayer is a layer with trainable weights and biases.
type WeightedLayer = nn.WeightedLayer

// CostLayer is a layer that terminates a graph with a cost function.
type CostLayer = nn.CostLayer

// Factory builds a layer for a given input shape.
type Factory = nn.Factory

// Option configures a layer.
type Option = nn.Option

// Initialization selects the weight initialization scheme.
type Initialization = nn.Initialization

// Supported initializations.
const (
	GlorotUniform = nn.GlorotUniform
	HeNormal      = nn.HeNormal
	LeCunNormal   = nn.LeCunNormal
)

// ErrConfiguration is matched by errors.Is for invalid layer parameters.
var ErrConfiguration = nn.ErrConfiguration

// ConfigError reports an invalid layer parameter.
type ConfigError = nn.ConfigError

// WithBackend sets the backend executing the layer primitives.
func WithBackend(b backend.Backend) Option { return nn.WithBackend(b) }

// WithRand sets the random source used for weight initialization.
func WithRand(rng *rand.Rand) Option { return nn.WithRand(rng) }

// WithInitialization selects the weight initialization scheme.
func WithInitialization(init Initialization) Option { return nn.WithInitialization(init) }

// FullyConnected returns a factory of dense layers with out outputs.
func FullyConnected(out int, act activation.Kind, opts ...Option) Factory {
	return nn.FullyConnected(out, act, opts...)
}

// Convolutional returns a factory of convolution layers.
func Convolutional(kernel backend.KernelInfo, op backend.ConvolutionInfo, act activation.Kind, opts ...Option) Factory {
	return nn.Convolutional(kernel, op, act, opts...)
}

// Pooling returns a factory of max pooling layers.
func Pooling(pool backend.PoolingInfo, opts ...Option) Factory {
	return nn.Pooling(pool, opts...)
}

// BatchNormalization returns a factory of batch normalization layers.
func BatchNormalization(mode backend.NormalizationMode, act activation.Kind, opts ...Option) Factory {
	return nn.BatchNormalization(mode, act, opts...)
}

// Output returns a factory of dense output layers evaluated with c.
//
// Example:
//
//	nn.Output(10, activation.Sigmoid, cost.CrossEntropy)
func Output(out int, act activation.Kind, c cost.Kind, opts ...Option) Factory {
	return nn.Output(out, act, c, opts...)
}

// Softmax returns a factory of softmax output layers with the log
// likelihood cost.
func Softmax(out int, opts ...Option) Factory {
	return nn.Softmax(out, opts...)
}
