// Package fuzzy converts instantaneous market features into a regime estimate
// through triangular memberships, a weighted min/max rule table, and max
// defuzzification.
package fuzzy

import (
	"errors"
	"fmt"
	"time"

	"regime-engine/internal/domain"
)

var (
	ErrInvalidConfig = errors.New("fuzzy: invalid configuration")
	ErrInvalidInput  = errors.New("fuzzy: invalid input")
)

// activationFloor is the threshold below which the rule base is treated as
// silent and the assessor reports (unknown, 0).
const activationFloor = 1e-10

// Set is a triangular membership function. Left <= Center <= Right; when
// Left == Center (or Center == Right) the corresponding edge is a shoulder.
type Set struct {
	Name   string
	Left   float64
	Center float64
	Right  float64
}

// Membership returns the degree in [0, 1] to which x belongs to the set.
// Zero outside (Left, Right).
func (s Set) Membership(x float64) float64 {
	if x < s.Left || x > s.Right {
		return 0
	}
	if x == s.Center {
		return 1
	}
	if x < s.Center {
		if s.Center == s.Left {
			return 1
		}
		return (x - s.Left) / (s.Center - s.Left)
	}
	if s.Right == s.Center {
		return 1
	}
	return (s.Right - x) / (s.Right - s.Center)
}

func (s Set) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: unnamed set", ErrInvalidConfig)
	}
	if s.Left > s.Center || s.Center > s.Right {
		return fmt.Errorf("%w: set %q violates left <= center <= right", ErrInvalidConfig, s.Name)
	}
	return nil
}

// Rule is one immutable row of the rule table: a three-label antecedent (one
// label per feature dimension, AND-combined via min), a consequent regime,
// and a weight in (0, 1].
type Rule struct {
	Trend      string
	Momentum   string
	Volatility string
	Regime     domain.Regime
	Weight     float64
}

// Memberships holds per-dimension membership degrees by set name. Degrees
// are computed independently per set; they intentionally do not sum to 1, so
// gradient information near set boundaries is preserved.
type Memberships struct {
	Trend      map[string]float64
	Momentum   map[string]float64
	Volatility map[string]float64
}

// Assessor is an immutable fuzzy classifier over the three market features.
type Assessor struct {
	trend      []Set
	momentum   []Set
	volatility []Set
	rules      []Rule
}

// DefaultTrendSets covers normalized slope in [-1, 1].
func DefaultTrendSets() []Set {
	return []Set{
		{Name: "falling", Left: -1, Center: -1, Right: -0.2},
		{Name: "flat", Left: -0.5, Center: 0, Right: 0.5},
		{Name: "rising", Left: 0.2, Center: 1, Right: 1},
	}
}

// DefaultMomentumSets covers normalized momentum in [-1, 1].
func DefaultMomentumSets() []Set {
	return []Set{
		{Name: "negative", Left: -1, Center: -1, Right: -0.2},
		{Name: "neutral", Left: -0.5, Center: 0, Right: 0.5},
		{Name: "positive", Left: 0.2, Center: 1, Right: 1},
	}
}

// DefaultVolatilitySets covers normalized volatility in [0, 1].
func DefaultVolatilitySets() []Set {
	return []Set{
		{Name: "low", Left: 0, Center: 0, Right: 0.4},
		{Name: "medium", Left: 0.2, Center: 0.5, Right: 0.8},
		{Name: "high", Left: 0.6, Center: 1, Right: 1},
	}
}

// DefaultRules is the rule table the service runs with. Trending fires on
// aligned slope and momentum in either direction; mean-reverting on a quiet
// flat tape; high-volatility whenever the vol leg dominates; transitional on
// mixed slope/momentum evidence.
func DefaultRules() []Rule {
	return []Rule{
		{Trend: "rising", Momentum: "positive", Volatility: "low", Regime: domain.RegimeTrending, Weight: 1.0},
		{Trend: "rising", Momentum: "positive", Volatility: "medium", Regime: domain.RegimeTrending, Weight: 0.9},
		{Trend: "falling", Momentum: "negative", Volatility: "low", Regime: domain.RegimeTrending, Weight: 1.0},
		{Trend: "falling", Momentum: "negative", Volatility: "medium", Regime: domain.RegimeTrending, Weight: 0.9},

		{Trend: "flat", Momentum: "neutral", Volatility: "low", Regime: domain.RegimeMeanReverting, Weight: 1.0},
		{Trend: "flat", Momentum: "neutral", Volatility: "medium", Regime: domain.RegimeMeanReverting, Weight: 0.7},

		{Trend: "flat", Momentum: "neutral", Volatility: "high", Regime: domain.RegimeHighVolatility, Weight: 1.0},
		{Trend: "rising", Momentum: "positive", Volatility: "high", Regime: domain.RegimeHighVolatility, Weight: 0.8},
		{Trend: "falling", Momentum: "negative", Volatility: "high", Regime: domain.RegimeHighVolatility, Weight: 0.8},

		{Trend: "rising", Momentum: "neutral", Volatility: "medium", Regime: domain.RegimeTransitional, Weight: 0.6},
		{Trend: "falling", Momentum: "neutral", Volatility: "medium", Regime: domain.RegimeTransitional, Weight: 0.6},
		{Trend: "flat", Momentum: "positive", Volatility: "medium", Regime: domain.RegimeTransitional, Weight: 0.6},
		{Trend: "flat", Momentum: "negative", Volatility: "medium", Regime: domain.RegimeTransitional, Weight: 0.6},
	}
}

// NewAssessor validates the set and rule configuration. Every rule antecedent
// label must name a configured set, and weights must be in (0, 1].
func NewAssessor(trend, momentum, volatility []Set, rules []Rule) (*Assessor, error) {
	dims := []struct {
		name string
		sets []Set
	}{
		{"trend", trend},
		{"momentum", momentum},
		{"volatility", volatility},
	}
	for _, dim := range dims {
		if len(dim.sets) == 0 {
			return nil, fmt.Errorf("%w: no %s sets", ErrInvalidConfig, dim.name)
		}
		for _, s := range dim.sets {
			if err := s.validate(); err != nil {
				return nil, err
			}
		}
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: empty rule table", ErrInvalidConfig)
	}
	for i, r := range rules {
		if !r.Regime.Valid() {
			return nil, fmt.Errorf("%w: rule %d has invalid consequent", ErrInvalidConfig, i)
		}
		if r.Weight <= 0 || r.Weight > 1 {
			return nil, fmt.Errorf("%w: rule %d weight %.3f outside (0,1]", ErrInvalidConfig, i, r.Weight)
		}
		if !hasSet(trend, r.Trend) || !hasSet(momentum, r.Momentum) || !hasSet(volatility, r.Volatility) {
			return nil, fmt.Errorf("%w: rule %d references unknown set", ErrInvalidConfig, i)
		}
	}
	return &Assessor{
		trend:      append([]Set(nil), trend...),
		momentum:   append([]Set(nil), momentum...),
		volatility: append([]Set(nil), volatility...),
		rules:      append([]Rule(nil), rules...),
	}, nil
}

// NewDefaultAssessor builds an assessor with the default sets and rule table.
func NewDefaultAssessor() (*Assessor, error) {
	return NewAssessor(DefaultTrendSets(), DefaultMomentumSets(), DefaultVolatilitySets(), DefaultRules())
}

func hasSet(sets []Set, name string) bool {
	for _, s := range sets {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Assess computes membership degrees for one observation.
func (a *Assessor) Assess(fv domain.FeatureVector) (Memberships, error) {
	if !fv.Finite() {
		return Memberships{}, fmt.Errorf("%w: non-finite feature vector", ErrInvalidInput)
	}
	return Memberships{
		Trend:      memberships(a.trend, fv.TrendSlope),
		Momentum:   memberships(a.momentum, fv.Momentum),
		Volatility: memberships(a.volatility, fv.Volatility),
	}, nil
}

func memberships(sets []Set, x float64) map[string]float64 {
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		out[s.Name] = s.Membership(x)
	}
	return out
}

// Infer folds the rule table over the memberships: each rule activates at
// weight * min(antecedent memberships), and per-regime activations aggregate
// via max.
func (a *Assessor) Infer(m Memberships) [domain.NumRegimes]float64 {
	var activations [domain.NumRegimes]float64
	for _, r := range a.rules {
		act := r.Weight * min3(m.Trend[r.Trend], m.Momentum[r.Momentum], m.Volatility[r.Volatility])
		if act > activations[r.Regime] {
			activations[r.Regime] = act
		}
	}
	return activations
}

// Defuzzify picks the dominant regime and its normalized confidence. When no
// rule fired it returns (RegimeUnknown, 0): a flat, featureless tape is a
// legitimate data condition, not an error.
func (a *Assessor) Defuzzify(activations [domain.NumRegimes]float64) (domain.Regime, float64) {
	sum := 0.0
	best := 0
	for i, act := range activations {
		sum += act
		if act > activations[best] {
			best = i
		}
	}
	if sum < activationFloor {
		return domain.RegimeUnknown, 0
	}
	return domain.Regime(best), activations[best] / sum
}

// Estimate runs the full assess/infer/defuzzify chain and packages the result
// for the ensemble. In the degenerate no-rule-fired case the probabilities
// fall back to uniform with zero confidence.
func (a *Assessor) Estimate(fv domain.FeatureVector, at time.Time) (domain.RegimeEstimate, error) {
	m, err := a.Assess(fv)
	if err != nil {
		return domain.RegimeEstimate{}, err
	}
	activations := a.Infer(m)
	regime, confidence := a.Defuzzify(activations)

	est := domain.RegimeEstimate{ModelName: ModelName, Confidence: confidence, Timestamp: at}
	if regime == domain.RegimeUnknown {
		for i := range est.Probs {
			est.Probs[i] = 1.0 / domain.NumRegimes
		}
		return est, nil
	}
	sum := 0.0
	for _, act := range activations {
		sum += act
	}
	for i, act := range activations {
		est.Probs[i] = act / sum
	}
	return est, nil
}

// ModelName identifies fuzzy estimates inside the ensemble.
const ModelName = "fuzzy"

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
