// Package scoring evaluates feature vectors against a pluggable model and
// turns raw model output into calibrated, thresholded score results.
package scoring

import (
	"fmt"
	"math"
	"strings"
)

// Model is the single capability a scoring strategy must provide: map a
// feature set to a raw, non-negative anomaly score where higher means more
// anomalous. Implementations must be pure functions of their inputs so
// scoring stays replayable and independently testable.
type Model interface {
	Evaluate(features map[string]float64) (float64, error)
}

// ZScoreModel scores a feature vector by its largest absolute z-score
// across all windowed fields. The window engine emits one "<field>_z"
// feature per numeric payload field.
type ZScoreModel struct{}

func (ZScoreModel) Evaluate(features map[string]float64) (float64, error) {
	var maxZ float64
	found := false
	for name, v := range features {
		if !strings.HasSuffix(name, "_z") {
			continue
		}
		found = true
		if z := math.Abs(v); z > maxZ {
			maxZ = z
		}
	}
	if !found {
		return 0, fmt.Errorf("no z-score features present")
	}
	return maxZ, nil
}

// Rule is one static bound for the rule-based model.
type Rule struct {
	// Feature names the feature the rule inspects.
	Feature string
	// Threshold is the absolute value above which the rule fires.
	Threshold float64
}

// RulesModel scores by the worst exceedance across a fixed rule set. A
// feature at its threshold scores 1.0 raw; further exceedance scales
// linearly, so the calibration treats rule hits comparably to z-scores.
type RulesModel struct {
	Rules []Rule
}

func (m RulesModel) Evaluate(features map[string]float64) (float64, error) {
	if len(m.Rules) == 0 {
		return 0, fmt.Errorf("no rules configured")
	}
	var worst float64
	for _, rule := range m.Rules {
		v, ok := features[rule.Feature]
		if !ok || rule.Threshold == 0 {
			continue
		}
		if ratio := math.Abs(v) / rule.Threshold; ratio > worst {
			worst = ratio
		}
	}
	if worst < 1 {
		return 0, nil
	}
	return worst, nil
}

// Ensemble combines member models by majority vote. The reported score is
// the mean member score, nudged to the decision side of the calibrated raw
// threshold so the vote, not the average, decides the outcome. Members
// that fail to evaluate are skipped; all members failing is an error.
type Ensemble struct {
	Members []Model

	// RawThreshold is the raw-score equivalent of the decision threshold,
	// derived from the engine's calibration at construction.
	RawThreshold float64
}

func (e Ensemble) Evaluate(features map[string]float64) (float64, error) {
	var (
		sum   float64
		votes int
		valid int
	)
	for _, m := range e.Members {
		raw, err := m.Evaluate(features)
		if err != nil {
			continue
		}
		valid++
		sum += raw
		if raw >= e.RawThreshold {
			votes++
		}
	}
	if valid == 0 {
		return 0, fmt.Errorf("no ensemble member could evaluate")
	}

	mean := sum / float64(valid)
	if votes*2 > valid {
		if mean < e.RawThreshold {
			return e.RawThreshold, nil
		}
		return mean, nil
	}
	if mean >= e.RawThreshold {
		return math.Nextafter(e.RawThreshold, 0), nil
	}
	return mean, nil
}
