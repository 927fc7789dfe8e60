// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the parameter update algorithms used to train
// graphnet graphs.
//
// An Algorithm is a value type holding hyperparameters; New turns it into
// an Updater with state sized for the layers of one graph:
//
//	updater, err := optim.AdamConfig{LearningRate: 1e-3}.New(g.WeightedLayers())
//	step, err := g.Backpropagate(x, y, 0, nil, updater)
//
// Zero hyperparameters select the defaults of each algorithm.
package optim

import (
	"github.com/born-ml/graphnet/internal/optim"
)

// Updater applies one optimization step to a weighted layer.
type Updater = optim.Updater

// Algorithm builds an updater with fresh state for a set of layers.
type Algorithm = optim.Algorithm

// SGDConfig configures stochastic gradient descent with optional momentum
// and L2 weight decay.
type SGDConfig = optim.SGDConfig

// AdadeltaConfig configures Adadelta.
type AdadeltaConfig = optim.AdadeltaConfig

// AdamConfig configures Adam.
type AdamConfig = optim.AdamConfig

// AdaMaxConfig configures AdaMax.
type AdaMaxConfig = optim.AdaMaxConfig

// Parse returns the algorithm named name ("sgd", "adadelta", "adam" or
// "adamax") with its default hyperparameters. A non-zero learningRate
// overrides the default one.
func Parse(name string, learningRate float32) (Algorithm, error) {
	return optim.Parse(name, learningRate)
}
