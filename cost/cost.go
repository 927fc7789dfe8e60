// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cost names the cost functions of output layers.
package cost

import (
	"github.com/born-ml/graphnet/internal/cost"
)

// Kind identifies a cost function.
type Kind = cost.Kind

// Supported cost functions.
const (
	Quadratic     = cost.Quadratic
	CrossEntropy  = cost.CrossEntropy
	LogLikelihood = cost.LogLikelihood
)
