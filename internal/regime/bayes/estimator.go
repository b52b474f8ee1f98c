// Package bayes adapts HMM transition probabilities from observed regime
// sequences through Dirichlet-Categorical conjugate updating: one Dirichlet
// posterior per from-state, closed-form mean and variance, and full-matrix
// sampling for uncertainty propagation.
package bayes

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"regime-engine/internal/domain"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
)

var (
	ErrInvalidConfig = errors.New("bayes: invalid configuration")
	ErrInvalidInput  = errors.New("bayes: invalid input")
)

// DefaultPriorStrength is the diagonal concentration mass of the default
// prior. Off-diagonal entries get 1.0, so the prior encodes a strong belief
// in regime self-persistence before any data arrives.
const DefaultPriorStrength = 10.0

// TransitionEstimator maintains one Dirichlet concentration row per
// from-state. Update is the only mutator; callers running it from multiple
// goroutines must serialize access themselves.
type TransitionEstimator struct {
	n     int
	alpha [][]float64
}

// NewTransitionEstimator seeds the posterior with a self-persistent prior:
// alpha[i][i] = priorStrength, alpha[i][j] = 1 elsewhere.
func NewTransitionEstimator(n int, priorStrength float64) (*TransitionEstimator, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 states, got %d", ErrInvalidConfig, n)
	}
	if !(priorStrength > 0) {
		return nil, fmt.Errorf("%w: prior strength must be positive, got %g", ErrInvalidConfig, priorStrength)
	}
	alpha := make([][]float64, n)
	for i := range alpha {
		alpha[i] = make([]float64, n)
		for j := range alpha[i] {
			alpha[i][j] = 1
		}
		alpha[i][i] = priorStrength
	}
	return &TransitionEstimator{n: n, alpha: alpha}, nil
}

// NewDefault builds a four-regime estimator with the default prior.
func NewDefault() (*TransitionEstimator, error) {
	return NewTransitionEstimator(domain.NumRegimes, DefaultPriorStrength)
}

func (e *TransitionEstimator) NumStates() int { return e.n }

// Update adds the empirical transition counts of the sequence to the
// posterior (posterior alpha = prior alpha + counts). Accumulation is purely
// additive: disjoint sequences compound correctly, and re-processing the same
// sequence double-counts; deduplication is the caller's responsibility.
// Sequences shorter than two steps contain no transitions and are a no-op.
func (e *TransitionEstimator) Update(sequence []domain.Regime) error {
	for i, r := range sequence {
		if int(r) < 0 || int(r) >= e.n {
			return fmt.Errorf("%w: regime %d at position %d outside [0,%d)", ErrInvalidInput, r, i, e.n)
		}
	}
	for t := 0; t+1 < len(sequence); t++ {
		e.alpha[sequence[t]][sequence[t+1]]++
	}
	return nil
}

// PosteriorMean returns the row-normalized alpha matrix. Rows are
// row-stochastic by construction since every concentration entry is positive.
func (e *TransitionEstimator) PosteriorMean() [][]float64 {
	out := make([][]float64, e.n)
	for i, row := range e.alpha {
		total := floats.Sum(row)
		out[i] = make([]float64, e.n)
		for j, a := range row {
			out[i][j] = a / total
		}
	}
	return out
}

// PosteriorUncertainty returns the per-entry standard deviation from the
// closed-form Dirichlet marginal variance
// alpha_j (alpha_0 - alpha_j) / (alpha_0^2 (alpha_0 + 1)); no sampling.
func (e *TransitionEstimator) PosteriorUncertainty() [][]float64 {
	out := make([][]float64, e.n)
	for i, row := range e.alpha {
		total := floats.Sum(row)
		out[i] = make([]float64, e.n)
		for j, a := range row {
			variance := a * (total - a) / (total * total * (total + 1))
			out[i][j] = math.Sqrt(variance)
		}
	}
	return out
}

// SampleTransitionMatrices draws count full transition matrices, each row
// sampled independently from its Dirichlet posterior. Intended for
// propagating transition uncertainty into downstream HMM runs, not for point
// estimation; use PosteriorMean for that.
func (e *TransitionEstimator) SampleTransitionMatrices(count int, seed uint64) ([][][]float64, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidInput, count)
	}
	src := rand.NewPCG(seed, seed+1)
	rows := make([]*distmv.Dirichlet, e.n)
	for i := range rows {
		rows[i] = distmv.NewDirichlet(e.alpha[i], src)
	}

	out := make([][][]float64, count)
	for k := range out {
		m := make([][]float64, e.n)
		for i := 0; i < e.n; i++ {
			m[i] = rows[i].Rand(make([]float64, e.n))
		}
		out[k] = m
	}
	return out, nil
}

// Alpha returns a copy of the concentration matrix, for persistence.
func (e *TransitionEstimator) Alpha() [][]float64 {
	out := make([][]float64, e.n)
	for i, row := range e.alpha {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Restore replaces the concentration matrix, typically from persisted state.
// Every entry must be positive.
func (e *TransitionEstimator) Restore(alpha [][]float64) error {
	if len(alpha) != e.n {
		return fmt.Errorf("%w: alpha must have %d rows", ErrInvalidInput, e.n)
	}
	for i, row := range alpha {
		if len(row) != e.n {
			return fmt.Errorf("%w: alpha row %d has length %d", ErrInvalidInput, i, len(row))
		}
		for j, a := range row {
			if !(a > 0) || math.IsInf(a, 0) {
				return fmt.Errorf("%w: non-positive concentration at [%d][%d]", ErrInvalidInput, i, j)
			}
		}
	}
	for i := range alpha {
		e.alpha[i] = append([]float64(nil), alpha[i]...)
	}
	return nil
}
