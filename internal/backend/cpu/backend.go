// Package cpu implements the reference CPU backend.
//
// Kernels split their independent axis (rows, channels or columns) across
// goroutines with internal/parallel. Every work unit writes a disjoint part
// of the output, so results do not depend on scheduling.
package cpu

import (
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/parallel"
)

// CPUBackend implements backend.Backend on CPU.
type CPUBackend struct {
	cfg parallel.Config
}

var _ backend.Backend = (*CPUBackend)(nil)

// New creates a CPU backend configured from the environment.
func New() *CPUBackend {
	return &CPUBackend{cfg: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{cfg: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "cpu"
}

// Config returns the parallel configuration used by the kernels.
func (cpu *CPUBackend) Config() parallel.Config {
	return cpu.cfg
}
