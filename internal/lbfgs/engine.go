package lbfgs

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// task is the outcome of one iteration of the engine.
type task int

const (
	taskNewX task = iota
	taskConvergedFunction
	taskConvergedGradient
	taskAbnormal
)

type engine struct {
	p Problem
	s Settings

	x, g []float64
	f    float64

	d, xn, gn, step, dy []float64
	mem                 *memory

	iterations, evaluations int
}

func newEngine(p Problem, x0 []float64, s Settings) *engine {
	n := len(x0)
	e := &engine{
		p:    p,
		s:    s,
		x:    append([]float64(nil), x0...),
		g:    make([]float64, n),
		d:    make([]float64, n),
		xn:   make([]float64, n),
		gn:   make([]float64, n),
		step: make([]float64, n),
		dy:   make([]float64, n),
		mem:  newMemory(s.Corrections, n),
	}
	p.project(e.x)
	return e
}

func (e *engine) evaluate(x, grad []float64) float64 {
	e.evaluations++
	f := e.p.Func(x)
	e.p.Grad(grad, x)
	return f
}

func (e *engine) run(ctx context.Context) Status {
	e.f = e.evaluate(e.x, e.g)
	for {
		if ctx.Err() != nil {
			return Cancelled
		}
		switch t := e.iterate(); t {
		case taskNewX:
			e.iterations++
			e.s.Logger.Debug("lbfgs iteration", "iteration", e.iterations, "f", e.f)
			if e.s.MaxIterations > 0 && e.iterations >= e.s.MaxIterations {
				return MaxIterations
			}
		case taskConvergedGradient:
			return GradientConvergence
		case taskConvergedFunction:
			e.iterations++
			return FunctionConvergence
		case taskAbnormal:
			return LineSearchFailed
		default:
			panic(fmt.Sprintf("lbfgs: unknown task %d", t))
		}
	}
}

// iterate computes a search direction, runs the line search and moves to
// the accepted point.
func (e *engine) iterate() task {
	if e.projectedGradientNorm() <= e.s.GradientTolerance {
		return taskConvergedGradient
	}

	e.direction()
	if !(floats.Dot(e.g, e.d) < 0) {
		e.mem.reset()
		e.direction()
		if !(floats.Dot(e.g, e.d) < 0) {
			return taskAbnormal
		}
	}

	t := 1.0
	if e.mem.size == 0 {
		t = math.Min(1, 1/floats.Norm(e.d, 2))
	}
	var fn float64
	accepted := false
	for k := 0; k < e.s.MaxLineSearch; k++ {
		floats.AddScaledTo(e.xn, e.x, t, e.d)
		e.p.project(e.xn)
		floats.SubTo(e.step, e.xn, e.x)
		decrease := floats.Dot(e.g, e.step)
		if !(decrease < 0) {
			break
		}
		fn = e.evaluate(e.xn, e.gn)
		if fn <= e.f+armijo*decrease {
			accepted = true
			break
		}
		t /= 2
	}
	if !accepted {
		return taskAbnormal
	}

	floats.SubTo(e.dy, e.gn, e.g)
	if sy := floats.Dot(e.step, e.dy); sy > epsilon*floats.Dot(e.dy, e.dy) {
		e.mem.push(e.step, e.dy, sy)
	}

	reduction := (e.f - fn) / math.Max(math.Max(math.Abs(e.f), math.Abs(fn)), 1)
	e.x, e.xn = e.xn, e.x
	e.g, e.gn = e.gn, e.g
	e.f = fn
	if reduction <= e.s.FunctionTolerance*epsilon {
		return taskConvergedFunction
	}
	return taskNewX
}

// active reports whether variable i is pinned at a bound by the gradient.
func (e *engine) active(i int) bool {
	return (e.x[i] <= e.p.lower(i) && e.g[i] > 0) || (e.x[i] >= e.p.upper(i) && e.g[i] < 0)
}

// projectedGradientNorm returns the infinity norm of x - P(x - g).
func (e *engine) projectedGradientNorm() float64 {
	norm := 0.0
	for i, x := range e.x {
		v := math.Min(math.Max(x-e.g[i], e.p.lower(i)), e.p.upper(i))
		norm = math.Max(norm, math.Abs(v-x))
	}
	return norm
}

// direction stores -H*g into d with the two-loop recursion, restricted to
// the free variables.
func (e *engine) direction() {
	q := e.d
	copy(q, e.g)
	for i := range q {
		if e.active(i) {
			q[i] = 0
		}
	}

	m := e.mem
	for k := m.size - 1; k >= 0; k-- {
		j := m.at(k)
		m.alpha[j] = m.rho[j] * floats.Dot(m.s[j], q)
		floats.AddScaled(q, -m.alpha[j], m.y[j])
	}
	if m.size > 0 {
		j := m.at(m.size - 1)
		floats.Scale(1/(m.rho[j]*floats.Dot(m.y[j], m.y[j])), q)
	}
	for k := 0; k < m.size; k++ {
		j := m.at(k)
		beta := m.rho[j] * floats.Dot(m.y[j], q)
		floats.AddScaled(q, m.alpha[j]-beta, m.s[j])
	}

	for i := range q {
		if e.active(i) {
			q[i] = 0
		} else {
			q[i] = -q[i]
		}
	}
}

// memory is a ring buffer of correction pairs.
type memory struct {
	s, y       [][]float64
	rho, alpha []float64
	head, size int
}

func newMemory(m, n int) *memory {
	mem := &memory{
		s:     make([][]float64, m),
		y:     make([][]float64, m),
		rho:   make([]float64, m),
		alpha: make([]float64, m),
	}
	for i := 0; i < m; i++ {
		mem.s[i] = make([]float64, n)
		mem.y[i] = make([]float64, n)
	}
	return mem
}

// at returns the slot of the k-th oldest pair.
func (m *memory) at(k int) int {
	return (m.head + k) % len(m.s)
}

func (m *memory) push(s, y []float64, sy float64) {
	if len(m.s) == 0 {
		return
	}
	var j int
	if m.size < len(m.s) {
		j = m.at(m.size)
		m.size++
	} else {
		j = m.head
		m.head = (m.head + 1) % len(m.s)
	}
	copy(m.s[j], s)
	copy(m.y[j], y)
	m.rho[j] = 1 / sy
}

func (m *memory) reset() {
	m.head, m.size = 0, 0
}
