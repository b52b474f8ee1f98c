// Package hmm implements a Gaussian-emission hidden Markov model over the
// four market regimes, with scaled forward/backward recursions, log-domain
// Viterbi decoding, and a single-pass online filter.
package hmm

import (
	"errors"
	"fmt"
	"math"

	"regime-engine/internal/domain"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrInvalidConfig = errors.New("hmm: invalid configuration")
	ErrInvalidInput  = errors.New("hmm: invalid input")
)

// stochasticTol is the allowed deviation of a probability row from 1.
const stochasticTol = 1e-6

// Config holds the HMM parameters theta. Transition must be N x N
// row-stochastic, Means/Stds N x F with all stds positive, Initial a
// stochastic vector of length N.
type Config struct {
	Transition [][]float64
	Means      [][]float64
	Stds       [][]float64
	Initial    []float64
}

// DefaultConfig returns parameters for the four regimes over the three
// normalized features {trend_slope, momentum, volatility}. The diagonal-heavy
// transition matrix encodes regime persistence.
func DefaultConfig() Config {
	return Config{
		Transition: [][]float64{
			{0.85, 0.05, 0.04, 0.06},
			{0.05, 0.85, 0.04, 0.06},
			{0.05, 0.05, 0.82, 0.08},
			{0.10, 0.10, 0.10, 0.70},
		},
		// Row order follows domain.Regime: trending, mean-reverting,
		// high-volatility, transitional.
		Means: [][]float64{
			{0.60, 0.50, 0.30},
			{0.00, 0.00, 0.20},
			{0.00, 0.00, 0.80},
			{0.20, 0.10, 0.50},
		},
		Stds: [][]float64{
			{0.25, 0.30, 0.15},
			{0.15, 0.20, 0.12},
			{0.40, 0.45, 0.15},
			{0.30, 0.35, 0.20},
		},
		Initial: []float64{0.25, 0.25, 0.25, 0.25},
	}
}

// HMM is a fixed-size Gaussian-emission hidden Markov model. Batch inference
// methods are read-only against theta; SetTransition is the only mutator and
// must not race with them.
type HMM struct {
	n          int
	f          int
	transition [][]float64
	means      [][]float64
	stds       [][]float64
	initial    []float64
}

// New validates the configuration and builds the model. Malformed parameters
// are fatal here; they are never silently corrected.
func New(cfg Config) (*HMM, error) {
	n := len(cfg.Transition)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty transition matrix", ErrInvalidConfig)
	}
	if err := validateStochasticMatrix(cfg.Transition, n); err != nil {
		return nil, err
	}
	if len(cfg.Means) != n || len(cfg.Stds) != n {
		return nil, fmt.Errorf("%w: emission parameters must have %d rows", ErrInvalidConfig, n)
	}
	f := len(cfg.Means[0])
	if f == 0 {
		return nil, fmt.Errorf("%w: zero-width emission means", ErrInvalidConfig)
	}
	for i := 0; i < n; i++ {
		if len(cfg.Means[i]) != f || len(cfg.Stds[i]) != f {
			return nil, fmt.Errorf("%w: ragged emission parameters at state %d", ErrInvalidConfig, i)
		}
		for j, std := range cfg.Stds[i] {
			if !(std > 0) {
				return nil, fmt.Errorf("%w: non-positive emission std at state %d feature %d", ErrInvalidConfig, i, j)
			}
		}
	}
	if len(cfg.Initial) != n {
		return nil, fmt.Errorf("%w: initial distribution must have length %d", ErrInvalidConfig, n)
	}
	if err := validateStochasticVector(cfg.Initial); err != nil {
		return nil, err
	}

	return &HMM{
		n:          n,
		f:          f,
		transition: copyMatrix(cfg.Transition),
		means:      copyMatrix(cfg.Means),
		stds:       copyMatrix(cfg.Stds),
		initial:    append([]float64(nil), cfg.Initial...),
	}, nil
}

// NewDefault builds the four-regime model with DefaultConfig parameters.
func NewDefault() (*HMM, error) {
	return New(DefaultConfig())
}

func (h *HMM) NumStates() int   { return h.n }
func (h *HMM) NumFeatures() int { return h.f }

// Transition returns a copy of the current transition matrix.
func (h *HMM) Transition() [][]float64 {
	return copyMatrix(h.transition)
}

// Initial returns a copy of the initial state distribution.
func (h *HMM) Initial() []float64 {
	return append([]float64(nil), h.initial...)
}

// SetTransition installs a refreshed transition matrix, typically the
// posterior mean from the Bayesian estimator. The matrix is validated
// row-stochastic before it replaces the current one.
func (h *HMM) SetTransition(a [][]float64) error {
	if len(a) != h.n {
		return fmt.Errorf("%w: transition matrix must be %dx%d", ErrInvalidConfig, h.n, h.n)
	}
	if err := validateStochasticMatrix(a, h.n); err != nil {
		return err
	}
	h.transition = copyMatrix(a)
	return nil
}

// EmissionLogProb is the log density of obs under the given state's diagonal
// Gaussian.
func (h *HMM) EmissionLogProb(obs []float64, state int) float64 {
	lp := 0.0
	for j, x := range obs {
		dist := distuv.Normal{Mu: h.means[state][j], Sigma: h.stds[state][j]}
		lp += dist.LogProb(x)
	}
	return lp
}

// EmissionProb is the product of per-feature Gaussian densities, computed in
// log space and exponentiated at the end.
func (h *HMM) EmissionProb(obs []float64, state int) float64 {
	return math.Exp(h.EmissionLogProb(obs, state))
}

// Forward runs the scaled alpha recursion. Each returned row is rescaled to
// sum to 1; the rescaling is required behavior, not an optimization, since
// unnormalized products underflow within a few hundred observations.
func (h *HMM) Forward(observations [][]float64) ([][]float64, error) {
	if err := h.validateObservations(observations); err != nil {
		return nil, err
	}
	T := len(observations)
	alpha := make([][]float64, T)

	row := make([]float64, h.n)
	for s := 0; s < h.n; s++ {
		row[s] = h.initial[s] * h.EmissionProb(observations[0], s)
	}
	alpha[0] = normalizeRow(row)

	for t := 1; t < T; t++ {
		row = make([]float64, h.n)
		for s := 0; s < h.n; s++ {
			acc := 0.0
			for prev := 0; prev < h.n; prev++ {
				acc += alpha[t-1][prev] * h.transition[prev][s]
			}
			row[s] = acc * h.EmissionProb(observations[t], s)
		}
		alpha[t] = normalizeRow(row)
	}
	return alpha, nil
}

// Backward runs the scaled beta recursion from a ones vector at T-1, with the
// same per-step rescaling policy as Forward.
func (h *HMM) Backward(observations [][]float64) ([][]float64, error) {
	if err := h.validateObservations(observations); err != nil {
		return nil, err
	}
	T := len(observations)
	beta := make([][]float64, T)

	last := make([]float64, h.n)
	for s := range last {
		last[s] = 1
	}
	beta[T-1] = normalizeRow(last)

	for t := T - 2; t >= 0; t-- {
		row := make([]float64, h.n)
		for s := 0; s < h.n; s++ {
			acc := 0.0
			for next := 0; next < h.n; next++ {
				acc += h.transition[s][next] * h.EmissionProb(observations[t+1], next) * beta[t+1][next]
			}
			row[s] = acc
		}
		beta[t] = normalizeRow(row)
	}
	return beta, nil
}

// Inference is the result of batch smoothing: the per-step state posterior
// and the single most likely state path.
type Inference struct {
	Posterior   [][]float64
	ViterbiPath []domain.Regime
}

// InferRegimes combines the forward and backward passes into the smoothed
// posterior gamma[t][s] and attaches the Viterbi-decoded best path.
func (h *HMM) InferRegimes(observations [][]float64) (*Inference, error) {
	alpha, err := h.Forward(observations)
	if err != nil {
		return nil, err
	}
	beta, err := h.Backward(observations)
	if err != nil {
		return nil, err
	}
	T := len(observations)
	gamma := make([][]float64, T)
	for t := 0; t < T; t++ {
		row := make([]float64, h.n)
		for s := 0; s < h.n; s++ {
			row[s] = alpha[t][s] * beta[t][s]
		}
		gamma[t] = normalizeRow(row)
	}
	path, err := h.Viterbi(observations)
	if err != nil {
		return nil, err
	}
	return &Inference{Posterior: gamma, ViterbiPath: path}, nil
}

// Viterbi decodes the single most likely state sequence in log domain.
// When multiple predecessors yield the identical maximal score the
// lowest-indexed state wins, so decoding is deterministic.
func (h *HMM) Viterbi(observations [][]float64) ([]domain.Regime, error) {
	if err := h.validateObservations(observations); err != nil {
		return nil, err
	}
	T := len(observations)

	score := make([][]float64, T)
	back := make([][]int, T)
	for t := range score {
		score[t] = make([]float64, h.n)
		back[t] = make([]int, h.n)
	}

	for s := 0; s < h.n; s++ {
		score[0][s] = math.Log(h.initial[s]) + h.EmissionLogProb(observations[0], s)
	}

	for t := 1; t < T; t++ {
		for s := 0; s < h.n; s++ {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for prev := 0; prev < h.n; prev++ {
				cand := score[t-1][prev] + math.Log(h.transition[prev][s])
				if cand > bestScore {
					bestScore = cand
					bestPrev = prev
				}
			}
			score[t][s] = bestScore + h.EmissionLogProb(observations[t], s)
			back[t][s] = bestPrev
		}
	}

	bestLast := 0
	for s := 1; s < h.n; s++ {
		if score[T-1][s] > score[T-1][bestLast] {
			bestLast = s
		}
	}

	path := make([]domain.Regime, T)
	path[T-1] = domain.Regime(bestLast)
	cursor := bestLast
	for t := T - 1; t > 0; t-- {
		cursor = back[t][cursor]
		path[t-1] = domain.Regime(cursor)
	}
	return path, nil
}

// validateObservations fails fast before any recursion: empty sequences,
// width mismatches, and NaN/Inf values are rejected outright so no partial
// result ever escapes.
func (h *HMM) validateObservations(observations [][]float64) error {
	if len(observations) == 0 {
		return fmt.Errorf("%w: empty observation sequence", ErrInvalidInput)
	}
	for t, obs := range observations {
		if len(obs) != h.f {
			return fmt.Errorf("%w: observation %d has width %d, want %d", ErrInvalidInput, t, len(obs), h.f)
		}
		for _, v := range obs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at observation %d", ErrInvalidInput, t)
			}
		}
	}
	return nil
}

func validateStochasticMatrix(a [][]float64, n int) error {
	for i, row := range a {
		if len(row) != n {
			return fmt.Errorf("%w: transition row %d has length %d, want %d", ErrInvalidConfig, i, len(row), n)
		}
		if err := validateStochasticVector(row); err != nil {
			return fmt.Errorf("transition row %d: %w", i, err)
		}
	}
	return nil
}

func validateStochasticVector(v []float64) error {
	sum := 0.0
	for _, p := range v {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("%w: negative or NaN probability", ErrInvalidConfig)
		}
		sum += p
	}
	if math.Abs(sum-1) > stochasticTol {
		return fmt.Errorf("%w: distribution sums to %.8f", ErrInvalidConfig, sum)
	}
	return nil
}

// normalizeRow rescales in place to sum 1; a row that underflowed to all
// zeros becomes uniform rather than propagating zeros downstream.
func normalizeRow(row []float64) []float64 {
	sum := floats.Sum(row)
	if sum <= 0 {
		for i := range row {
			row[i] = 1 / float64(len(row))
		}
		return row
	}
	floats.Scale(1/sum, row)
	return row
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
