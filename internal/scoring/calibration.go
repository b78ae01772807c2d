package scoring

import "math"

// Calibration maps a raw model score onto [0, 1] with a monotonic
// exponential saturation curve. Scale controls how fast the curve
// approaches 1: a scale of 2 maps a raw score around 3.2 (a strong
// z-score) to 0.8.
type Calibration struct {
	Scale float64
}

// Normalize maps a raw score to [0, 1]. Monotonic in raw; negative raws
// clamp to 0.
func (c Calibration) Normalize(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	n := 1 - math.Exp(-raw/c.Scale)
	if n > 1 {
		return 1
	}
	return n
}

// RawThreshold inverts Normalize: the raw score that calibrates exactly to
// the given normalized value. Values at or above 1 have no finite inverse
// and return +Inf.
func (c Calibration) RawThreshold(normalized float64) float64 {
	if normalized >= 1 {
		return math.Inf(1)
	}
	if normalized <= 0 {
		return 0
	}
	return -c.Scale * math.Log(1-normalized)
}
