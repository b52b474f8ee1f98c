package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Regime identifies a persistent statistical behavior pattern in a price
// series. Values are dense array indices: every regime-keyed structure in the
// engine is a fixed-length array indexed by Regime.
type Regime int

const (
	RegimeTrending Regime = iota
	RegimeMeanReverting
	RegimeHighVolatility
	RegimeTransitional
)

// NumRegimes is the size of the regime index space.
const NumRegimes = 4

// RegimeUnknown is the sentinel returned when no rule fired or no model
// produced a usable estimate. It is never a valid array index.
const RegimeUnknown Regime = -1

var regimeNames = [NumRegimes]string{
	"trending",
	"mean_reverting",
	"high_volatility",
	"transitional",
}

func (r Regime) String() string {
	if !r.Valid() {
		return "unknown"
	}
	return regimeNames[r]
}

func (r Regime) Valid() bool {
	return r >= 0 && r < NumRegimes
}

func ParseRegime(s string) (Regime, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range regimeNames {
		if n == name {
			return Regime(i), nil
		}
	}
	if name == "unknown" {
		return RegimeUnknown, nil
	}
	return RegimeUnknown, fmt.Errorf("unknown regime name: %q", s)
}

// RegimeNames returns the display names in index order.
func RegimeNames() [NumRegimes]string {
	return regimeNames
}

// FeatureVector is one observation of the three market features the engine
// consumes. Slope and momentum are normalized to [-1, 1], volatility to
// [0, 1]; the producer is responsible for the normalization.
type FeatureVector struct {
	TrendSlope float64 `json:"trend_slope"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
}

// NumFeatures is the width of a FeatureVector.
const NumFeatures = 3

func (f FeatureVector) Slice() []float64 {
	return []float64{f.TrendSlope, f.Momentum, f.Volatility}
}

// Finite reports whether every component is a usable number.
func (f FeatureVector) Finite() bool {
	for _, v := range f.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RegimeEstimate is one model's verdict for a single observation. Probs sums
// to 1; Confidence is the model's own certainty in [0, 1].
type RegimeEstimate struct {
	ModelName  string              `json:"model_name"`
	Probs      [NumRegimes]float64 `json:"regime_probs"`
	Confidence float64             `json:"confidence"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Dominant returns the arg-max regime of the estimate. Ties resolve to the
// lowest index.
func (e RegimeEstimate) Dominant() Regime {
	best := 0
	for i := 1; i < NumRegimes; i++ {
		if e.Probs[i] > e.Probs[best] {
			best = i
		}
	}
	return Regime(best)
}

// EnsembleResult is the combined verdict across models for one observation.
type EnsembleResult struct {
	Probs          [NumRegimes]float64 `json:"regime_probs"`
	Dominant       Regime              `json:"dominant_regime"`
	Confidence     float64             `json:"confidence"`
	ModelAgreement float64             `json:"model_agreement"`
}

// RegimeSnapshot is a persisted classification for one symbol at one point in
// time, later resolved against the realized regime for calibration.
type RegimeSnapshot struct {
	ID            int64               `json:"id"`
	Symbol        string              `json:"symbol"`
	Interval      string              `json:"interval"`
	ObservedAt    time.Time           `json:"observed_at"`
	Regime        Regime              `json:"regime"`
	RegimeName    string              `json:"regime_name"`
	Probs         [NumRegimes]float64 `json:"regime_probs"`
	RawConfidence float64             `json:"raw_confidence"`
	Confidence    float64             `json:"confidence"`
	Agreement     float64             `json:"agreement"`
	DetailsJSON   string              `json:"details,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
	ActualRegime  *Regime             `json:"actual_regime,omitempty"`
	IsCorrect     *bool               `json:"is_correct,omitempty"`
}
