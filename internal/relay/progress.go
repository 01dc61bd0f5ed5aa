package relay

import (
	"math"

	"inkrelay/internal/provider"
)

// NormalizeProgress maps any provider progress shape into [0,1]. A single
// value above 1 is read as a percentage; otherwise step/stepCount is used.
// Anything unusable is 0.
func NormalizeProgress(p provider.Progress) float64 {
	if p.Value != nil && isFinite(*p.Value) {
		v := *p.Value
		if v > 1 {
			v /= 100
		}
		return clamp01(v)
	}
	if p.Step != nil && p.StepCount != nil {
		step, total := *p.Step, *p.StepCount
		if isFinite(step) && isFinite(total) && total > 0 {
			return clamp01(step / total)
		}
	}
	return 0
}

// PercentAlias is the legacy integer percentage for a normalized fraction.
func PercentAlias(fraction float64) float64 {
	return math.Round(clamp01(fraction) * 100)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
