// Package lbfgs implements a box constrained limited memory BFGS minimizer.
//
// The search direction is the two-loop recursion restricted to the free
// variables (those not pinned at a bound by the gradient), followed by a
// projected backtracking line search. Correction pairs failing the
// curvature condition are dropped.
//
// Example:
//
//	res, err := lbfgs.Minimize(ctx, lbfgs.Problem{
//	    Func: func(x []float64) float64 { ... },
//	    Grad: func(grad, x []float64) { ... },
//	}, x0, lbfgs.Settings{})
package lbfgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Problem is a function to minimize over a box.
type Problem struct {
	// Func returns the objective at x.
	Func func(x []float64) float64
	// Grad stores the gradient at x into grad.
	Grad func(grad, x []float64)

	// Lower and Upper bound every variable. nil means unbounded; use
	// math.Inf for individual unbounded variables.
	Lower, Upper []float64
}

// Settings tunes the minimizer. Zero values select the defaults.
type Settings struct {
	// Corrections is the number of correction pairs kept (default 5).
	Corrections int
	// FunctionTolerance stops when the relative reduction of the objective
	// falls below FunctionTolerance * machine epsilon (default 1e5).
	FunctionTolerance float64
	// GradientTolerance stops when the infinity norm of the projected
	// gradient falls below it (default 0).
	GradientTolerance float64
	// MaxIterations caps the iterations, 0 means unlimited.
	MaxIterations int
	// MaxLineSearch caps the evaluations of one line search (default 20).
	MaxLineSearch int

	Logger *slog.Logger
}

const (
	epsilon = 2.220446049250313e-16 // float64 machine epsilon
	armijo  = 1e-4
)

func (s Settings) withDefaults() Settings {
	if s.Corrections == 0 {
		s.Corrections = 5
	}
	if s.FunctionTolerance == 0 {
		s.FunctionTolerance = 1e5
	}
	if s.MaxLineSearch == 0 {
		s.MaxLineSearch = 20
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// Status is the reason the minimizer stopped.
type Status int

// Terminal statuses.
const (
	FunctionConvergence Status = iota
	GradientConvergence
	LineSearchFailed
	Cancelled
	MaxIterations
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case FunctionConvergence:
		return "function-convergence"
	case GradientConvergence:
		return "gradient-convergence"
	case LineSearchFailed:
		return "line-search-failed"
	case Cancelled:
		return "cancelled"
	case MaxIterations:
		return "max-iterations"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Converged reports whether s is a convergence status.
func (s Status) Converged() bool {
	return s == FunctionConvergence || s == GradientConvergence
}

// Result is the outcome of Minimize. F and Gradient are evaluated at X
// after the minimizer stopped.
type Result struct {
	X           []float64
	F           float64
	Gradient    []float64
	Status      Status
	Iterations  int
	Evaluations int
}

// ErrInvalidProblem is returned (wrapped) for malformed problems.
var ErrInvalidProblem = errors.New("invalid problem")

// Minimize minimizes problem starting from x0, projected into the bounds.
//
// Cancellation of ctx is checked after every iteration and reported as the
// Cancelled status, not as an error.
func Minimize(ctx context.Context, problem Problem, x0 []float64, settings Settings) (*Result, error) {
	if err := problem.validate(len(x0)); err != nil {
		return nil, err
	}
	s := settings.withDefaults()
	if s.Corrections < 0 || s.MaxIterations < 0 || s.MaxLineSearch < 0 || s.GradientTolerance < 0 || s.FunctionTolerance < 0 {
		return nil, fmt.Errorf("%w: negative setting in %+v", ErrInvalidProblem, settings)
	}

	e := newEngine(problem, x0, s)
	status := e.run(ctx)

	// Final evaluation at the returned point.
	e.f = e.evaluate(e.x, e.g)
	s.Logger.Debug("lbfgs stopped", "status", status, "iterations", e.iterations,
		"evaluations", e.evaluations, "f", e.f)
	return &Result{
		X:           e.x,
		F:           e.f,
		Gradient:    e.g,
		Status:      status,
		Iterations:  e.iterations,
		Evaluations: e.evaluations,
	}, nil
}

func (p Problem) validate(n int) error {
	switch {
	case p.Func == nil || p.Grad == nil:
		return fmt.Errorf("%w: Func and Grad are required", ErrInvalidProblem)
	case n == 0:
		return fmt.Errorf("%w: empty starting point", ErrInvalidProblem)
	case p.Lower != nil && len(p.Lower) != n:
		return fmt.Errorf("%w: %d lower bounds for %d variables", ErrInvalidProblem, len(p.Lower), n)
	case p.Upper != nil && len(p.Upper) != n:
		return fmt.Errorf("%w: %d upper bounds for %d variables", ErrInvalidProblem, len(p.Upper), n)
	}
	for i := 0; i < n; i++ {
		if lo, hi := p.lower(i), p.upper(i); lo > hi {
			return fmt.Errorf("%w: lower bound %g above upper bound %g for variable %d", ErrInvalidProblem, lo, hi, i)
		}
	}
	return nil
}

func (p Problem) lower(i int) float64 {
	if p.Lower == nil {
		return math.Inf(-1)
	}
	return p.Lower[i]
}

func (p Problem) upper(i int) float64 {
	if p.Upper == nil {
		return math.Inf(1)
	}
	return p.Upper[i]
}

// project clamps x into the box in place.
func (p Problem) project(x []float64) {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], p.lower(i)), p.upper(i))
	}
}
