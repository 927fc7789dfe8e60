// Package envconfig reads graphnet settings from the environment.
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

var (
	// NumThreads is the number of worker goroutines used by numeric kernels.
	// Configurable via GRAPHNET_NUM_THREADS. Default: runtime.NumCPU().
	NumThreads = Uint("GRAPHNET_NUM_THREADS", uint(runtime.NumCPU()))

	// MinChunk is the smallest number of work items handed to one worker.
	// Configurable via GRAPHNET_MIN_CHUNK.
	MinChunk = Uint("GRAPHNET_MIN_CHUNK", 16)

	// Parallel enables parallel kernels. Configurable via GRAPHNET_PARALLEL.
	Parallel = BoolWithDefault("GRAPHNET_PARALLEL")
)

// LogLevel returns the slog level.
// GRAPHNET_DEBUG=1 enables debug logs, negative integers select finer levels.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("GRAPHNET_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// Var returns an environment variable stripped of surrounding quotes and spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable.
// Unparsable values count as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Uint returns a getter for an unsigned integer variable.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else if n > 0 {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GRAPHNET_DEBUG":       {"GRAPHNET_DEBUG", LogLevel(), "Show additional debug information (e.g. GRAPHNET_DEBUG=1)"},
		"GRAPHNET_NUM_THREADS": {"GRAPHNET_NUM_THREADS", NumThreads(), "Number of worker goroutines used by kernels"},
		"GRAPHNET_MIN_CHUNK":   {"GRAPHNET_MIN_CHUNK", MinChunk(), "Minimum work items per kernel goroutine"},
		"GRAPHNET_PARALLEL":    {"GRAPHNET_PARALLEL", Parallel(true), "Enable parallel kernels"},
	}
}
