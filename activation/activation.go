// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package activation names the activation functions supported by the layers.
package activation

import (
	"github.com/born-ml/graphnet/internal/activation"
)

// Kind identifies an activation function.
type Kind = activation.Kind

// Supported activation functions.
const (
	Identity     = activation.Identity
	Sigmoid      = activation.Sigmoid
	Tanh         = activation.Tanh
	LeCunTanh    = activation.LeCunTanh
	ReLU         = activation.ReLU
	LeakyReLU    = activation.LeakyReLU
	AbsoluteReLU = activation.AbsoluteReLU
	ELU          = activation.ELU
	Softplus     = activation.Softplus
	Softmax      = activation.Softmax
)

// Parse returns the activation named name, as printed by Kind.String.
func Parse(name string) (Kind, error) {
	return activation.Parse(name)
}
