// Package ensemble combines per-model regime estimates through
// confidence-weighted averaging and maps raw ensemble confidence to an
// empirically calibrated one.
package ensemble

import (
	"errors"
	"fmt"

	"regime-engine/internal/domain"
)

var (
	ErrInvalidConfig = errors.New("ensemble: invalid configuration")
	ErrInvalidInput  = errors.New("ensemble: invalid input")
)

// confidenceFloor is the total weighted confidence below which the combiner
// falls back to unweighted averaging.
const confidenceFloor = 1e-12

// Combiner merges estimates from registered models. Static per-model weights
// default to 1; the effective weight of a model on any given observation is
// weight * reported confidence, so a model that reports near-zero confidence
// contributes next to nothing regardless of its static weight.
type Combiner struct {
	weights map[string]float64
}

// NewCombiner builds a combiner with the given static model weights. A nil
// or empty map means uniform weighting; weights must be positive.
func NewCombiner(weights map[string]float64) (*Combiner, error) {
	copied := make(map[string]float64, len(weights))
	for name, w := range weights {
		if !(w > 0) {
			return nil, fmt.Errorf("%w: weight for model %q must be positive, got %g", ErrInvalidConfig, name, w)
		}
		copied[name] = w
	}
	return &Combiner{weights: copied}, nil
}

func (c *Combiner) weight(model string) float64 {
	if w, ok := c.weights[model]; ok {
		return w
	}
	return 1
}

// Combine produces the ensemble verdict for one observation given one
// estimate per model.
//
// combined(r) = sum_m p_m(r) w_m c_m / sum_m w_m c_m. If every model reports
// zero confidence the combiner falls back to an unweighted equal average.
// Ensemble confidence is
// combined(dominant) * agreement, so a high-probability verdict that the
// models disagree on is still reported with low confidence.
func (c *Combiner) Combine(estimates []domain.RegimeEstimate) (domain.EnsembleResult, error) {
	if len(estimates) == 0 {
		return domain.EnsembleResult{}, fmt.Errorf("%w: no model estimates", ErrInvalidInput)
	}
	for _, est := range estimates {
		if est.Confidence < 0 || est.Confidence > 1 {
			return domain.EnsembleResult{}, fmt.Errorf("%w: model %q confidence %.4f outside [0,1]", ErrInvalidInput, est.ModelName, est.Confidence)
		}
	}

	var combined [domain.NumRegimes]float64
	totalWeight := 0.0
	for _, est := range estimates {
		w := c.weight(est.ModelName) * est.Confidence
		totalWeight += w
		for r, p := range est.Probs {
			combined[r] += p * w
		}
	}

	if totalWeight < confidenceFloor {
		combined = [domain.NumRegimes]float64{}
		for _, est := range estimates {
			for r, p := range est.Probs {
				combined[r] += p / float64(len(estimates))
			}
		}
	} else {
		for r := range combined {
			combined[r] /= totalWeight
		}
	}

	dominant := 0
	for r := 1; r < domain.NumRegimes; r++ {
		if combined[r] > combined[dominant] {
			dominant = r
		}
	}

	agreement := c.agreement(estimates)
	return domain.EnsembleResult{
		Probs:          combined,
		Dominant:       domain.Regime(dominant),
		Confidence:     combined[dominant] * agreement,
		ModelAgreement: agreement,
	}, nil
}

// agreement is the majority concurrence ratio: the share of models whose
// individual arg-max matches the most common arg-max. It is 1 when all
// models agree and 1/M when they disagree pairwise.
func (c *Combiner) agreement(estimates []domain.RegimeEstimate) float64 {
	var votes [domain.NumRegimes]int
	for _, est := range estimates {
		votes[est.Dominant()]++
	}
	most := 0
	for _, v := range votes {
		if v > most {
			most = v
		}
	}
	return float64(most) / float64(len(estimates))
}
