package hmm

import (
	"fmt"
	"time"

	"regime-engine/internal/domain"

	"gonum.org/v1/gonum/floats"
)

// FilterModelName identifies online-filter estimates inside the ensemble.
const FilterModelName = "hmm_filter"

// FilterConfig tunes the posterior smoothing window. Zero values take the
// defaults (window 10, alpha 0.3).
type FilterConfig struct {
	SmoothingWindow int
	SmoothingAlpha  float64
}

// OnlineFilter is a single-pass Bayes filter over an HMM: one predict-update
// step per observation against O(N) belief state, no history dependence.
// It mutates its belief in place and is not safe for concurrent use.
type OnlineFilter struct {
	model  *HMM
	belief []float64
	window [][]float64
	cfg    FilterConfig
}

// NewOnlineFilter wraps the model with a belief initialized from its initial
// distribution.
func NewOnlineFilter(model *HMM, cfg FilterConfig) (*OnlineFilter, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if model.NumStates() != domain.NumRegimes {
		return nil, fmt.Errorf("%w: filter requires a %d-state model", ErrInvalidConfig, domain.NumRegimes)
	}
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = 10
	}
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha > 1 {
		cfg.SmoothingAlpha = 0.3
	}
	return &OnlineFilter{
		model:  model,
		belief: model.Initial(),
		cfg:    cfg,
	}, nil
}

// Model exposes the wrapped HMM for transition refreshes and batch decoding.
func (f *OnlineFilter) Model() *HMM { return f.model }

// Belief returns a copy of the raw (unsmoothed) belief vector.
func (f *OnlineFilter) Belief() []float64 {
	return append([]float64(nil), f.belief...)
}

// Reset restores the belief to the model's initial distribution and clears
// the smoothing window.
func (f *OnlineFilter) Reset() {
	f.belief = f.model.Initial()
	f.window = nil
}

// Update advances the filter by one observation: predict across the
// transition matrix, reweight by emission likelihood, renormalize, then
// smooth over the recent posterior window. The raw belief drives the next
// step; smoothing only shapes the reported output.
func (f *OnlineFilter) Update(obs []float64) (domain.RegimeEstimate, error) {
	if err := f.model.validateObservations([][]float64{obs}); err != nil {
		return domain.RegimeEstimate{}, err
	}

	n := f.model.NumStates()
	predicted := make([]float64, n)
	for s := 0; s < n; s++ {
		acc := 0.0
		for prev := 0; prev < n; prev++ {
			acc += f.belief[prev] * f.model.transition[prev][s]
		}
		predicted[s] = acc
	}

	posterior := make([]float64, n)
	for s := 0; s < n; s++ {
		posterior[s] = predicted[s] * f.model.EmissionProb(obs, s)
	}
	if floats.Sum(posterior) <= 0 {
		// Emission likelihood underflowed for every state: fall back to the
		// predicted distribution so the belief stays a proper distribution.
		copy(posterior, predicted)
	}
	normalizeRow(posterior)
	f.belief = posterior

	f.window = append(f.window, append([]float64(nil), posterior...))
	if len(f.window) > f.cfg.SmoothingWindow {
		f.window = f.window[len(f.window)-f.cfg.SmoothingWindow:]
	}
	smoothed := f.smoothedPosterior()

	est := domain.RegimeEstimate{ModelName: FilterModelName, Timestamp: time.Now().UTC()}
	copy(est.Probs[:], smoothed)
	dom := est.Dominant()
	est.Confidence = est.Probs[dom]
	return est, nil
}

// smoothedPosterior applies exponential weights alpha*(1-alpha)^age over the
// window, newest first, and renormalizes.
func (f *OnlineFilter) smoothedPosterior() []float64 {
	n := f.model.NumStates()
	out := make([]float64, n)
	weightSum := 0.0
	w := f.cfg.SmoothingAlpha
	for i := len(f.window) - 1; i >= 0; i-- {
		for s := 0; s < n; s++ {
			out[s] += w * f.window[i][s]
		}
		weightSum += w
		w *= 1 - f.cfg.SmoothingAlpha
	}
	if weightSum <= 0 {
		copy(out, f.belief)
		return out
	}
	floats.Scale(1/weightSum, out)
	return out
}
