// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/graphnet/backend"
	internalcpu "github.com/born-ml/graphnet/internal/backend/cpu"
	"github.com/born-ml/graphnet/internal/parallel"
)

// Backend is the CPU implementation of backend.Backend.
type Backend = internalcpu.CPUBackend

// Config bounds the parallelism of the primitives.
type Config = parallel.Config

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// New returns a backend using every available core.
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig returns a backend parallelized according to cfg.
func NewWithConfig(cfg Config) *Backend {
	return internalcpu.NewWithConfig(cfg)
}

// Sequential returns a Config that runs every primitive on the calling
// goroutine.
func Sequential() Config {
	return parallel.Sequential()
}
