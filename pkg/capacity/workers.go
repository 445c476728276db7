// Package capacity sizes the extraction worker pool from the host's core
// count using a deterministic policy (fraction of cores, rounding, clamps).
package capacity

import (
	"math"
	"runtime"
)

// Policy defines how a core count is turned into a worker count.
type Policy struct {
	// Fraction of available cores to use. Must be > 0; values <= 0 default to 0.75.
	Fraction float64

	// Min/Max worker bounds. MaxWorkers == 0 means "no upper bound".
	// MinWorkers is raised to 1 if lower.
	MinWorkers int
	MaxWorkers int

	// RoundingMode controls how fractional workers are turned into integers.
	// "round" (default), "ceil", or "floor".
	RoundingMode string
}

// DefaultPolicy uses three quarters of the cores, at least one worker.
func DefaultPolicy() Policy {
	return Policy{Fraction: 0.75, MinWorkers: 1, RoundingMode: "round"}
}

// Workers returns the pool size for cores under p.
func Workers(cores int, p Policy) int {
	// ---- sanitize policy ----
	if cores < 1 {
		cores = 1
	}
	if p.Fraction <= 0 {
		p.Fraction = 0.75
	}
	if p.MinWorkers < 1 {
		p.MinWorkers = 1
	}
	if p.MaxWorkers > 0 && p.MaxWorkers < p.MinWorkers {
		p.MaxWorkers = p.MinWorkers
	}

	n := roundWorkers(float64(cores)*p.Fraction, p.RoundingMode)
	return clampBounds(n, p.MinWorkers, p.MaxWorkers)
}

// HostWorkers is Workers for the cores this process may use.
func HostWorkers(p Policy) int {
	return Workers(runtime.GOMAXPROCS(0), p)
}

func roundWorkers(x float64, mode string) int {
	switch mode {
	case "floor":
		return int(math.Floor(x))
	case "ceil":
		return int(math.Ceil(x))
	default: // "round" or anything else
		return int(math.Round(x))
	}
}

func clampBounds(x, lo, hi int) int {
	if hi > 0 && x > hi {
		return hi
	}
	if x < lo {
		return lo
	}
	return x
}
