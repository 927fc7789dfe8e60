// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package lbfgs minimizes smooth functions with the limited memory BFGS
// method, optionally subject to box constraints.
//
// Example:
//
//	res, err := lbfgs.Minimize(ctx, lbfgs.Problem{
//	    Func: func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] },
//	    Grad: func(g, x []float64) { g[0], g[1] = 2*x[0], 2*x[1] },
//	}, []float64{3, -4}, lbfgs.Settings{})
package lbfgs

import (
	"context"

	"github.com/born-ml/graphnet/internal/lbfgs"
)

// Problem is the function to minimize with its gradient and optional bounds.
type Problem = lbfgs.Problem

// Settings tunes the minimizer. Zero values select the defaults.
type Settings = lbfgs.Settings

// Result is the outcome of Minimize.
type Result = lbfgs.Result

// Status is the reason the minimizer stopped.
type Status = lbfgs.Status

// Terminal statuses.
const (
	FunctionConvergence = lbfgs.FunctionConvergence
	GradientConvergence = lbfgs.GradientConvergence
	LineSearchFailed    = lbfgs.LineSearchFailed
	Cancelled           = lbfgs.Cancelled
	MaxIterations       = lbfgs.MaxIterations
)

// ErrInvalidProblem is matched by errors.Is for malformed problems.
var ErrInvalidProblem = lbfgs.ErrInvalidProblem

// Minimize searches a local minimum of problem starting from x0.
func Minimize(ctx context.Context, problem Problem, x0 []float64, settings Settings) (*Result, error) {
	return lbfgs.Minimize(ctx, problem, x0, settings)
}
