package fuzzy

import (
	"errors"
	"math"
	"testing"
	"time"

	"regime-engine/internal/domain"
)

func TestMembershipTriangle(t *testing.T) {
	s := Set{Name: "medium", Left: 0.2, Center: 0.5, Right: 0.8}

	cases := []struct {
		x    float64
		want float64
	}{
		{0.1, 0},
		{0.2, 0},
		{0.35, 0.5},
		{0.5, 1},
		{0.65, 0.5},
		{0.8, 0},
		{0.9, 0},
	}
	for _, c := range cases {
		if got := s.Membership(c.x); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("membership(%.2f) = %.4f, want %.4f", c.x, got, c.want)
		}
	}
}

func TestMembershipShoulder(t *testing.T) {
	s := Set{Name: "low", Left: 0, Center: 0, Right: 0.4}
	if got := s.Membership(0); got != 1 {
		t.Fatalf("shoulder membership at center = %.4f, want 1", got)
	}
	if got := s.Membership(0.2); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("shoulder falling edge = %.4f, want 0.5", got)
	}
}

func TestNewAssessorRejectsMalformedSet(t *testing.T) {
	bad := []Set{{Name: "broken", Left: 0.5, Center: 0.2, Right: 0.8}}
	_, err := NewAssessor(bad, DefaultMomentumSets(), DefaultVolatilitySets(), DefaultRules())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewAssessorRejectsBadRuleWeight(t *testing.T) {
	rules := []Rule{{Trend: "flat", Momentum: "neutral", Volatility: "low", Regime: domain.RegimeMeanReverting, Weight: 1.5}}
	_, err := NewAssessor(DefaultTrendSets(), DefaultMomentumSets(), DefaultVolatilitySets(), rules)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAssessRejectsNonFiniteInput(t *testing.T) {
	a := mustAssessor(t)
	_, err := a.Assess(domain.FeatureVector{TrendSlope: math.NaN(), Momentum: 0, Volatility: 0.2})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStrongUptrendActivatesTrending(t *testing.T) {
	a := mustAssessor(t)

	fv := domain.FeatureVector{TrendSlope: 0.9, Momentum: 0.8, Volatility: 0.3}
	m, err := a.Assess(fv)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	activations := a.Infer(m)

	trending := activations[domain.RegimeTrending]
	if trending <= 0 {
		t.Fatalf("trending activation should be positive, got %.4f", trending)
	}
	for r, act := range activations {
		if domain.Regime(r) == domain.RegimeTrending {
			continue
		}
		if act > trending {
			t.Fatalf("regime %s activation %.4f exceeds trending %.4f", domain.Regime(r), act, trending)
		}
	}

	regime, confidence := a.Defuzzify(activations)
	if regime != domain.RegimeTrending {
		t.Fatalf("dominant regime = %s, want trending", regime)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("confidence %.4f outside (0,1]", confidence)
	}
}

func TestDowntrendAlsoCountsAsTrending(t *testing.T) {
	a := mustAssessor(t)
	m, err := a.Assess(domain.FeatureVector{TrendSlope: -0.9, Momentum: -0.8, Volatility: 0.2})
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	regime, _ := a.Defuzzify(a.Infer(m))
	if regime != domain.RegimeTrending {
		t.Fatalf("dominant regime = %s, want trending", regime)
	}
}

func TestQuietFlatTapeIsMeanReverting(t *testing.T) {
	a := mustAssessor(t)
	m, err := a.Assess(domain.FeatureVector{TrendSlope: 0.0, Momentum: 0.05, Volatility: 0.1})
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	regime, _ := a.Defuzzify(a.Infer(m))
	if regime != domain.RegimeMeanReverting {
		t.Fatalf("dominant regime = %s, want mean_reverting", regime)
	}
}

func TestNoRuleFiredReturnsUnknown(t *testing.T) {
	a := mustAssessor(t)
	var activations [domain.NumRegimes]float64
	regime, confidence := a.Defuzzify(activations)
	if regime != domain.RegimeUnknown {
		t.Fatalf("regime = %s, want unknown", regime)
	}
	if confidence != 0 {
		t.Fatalf("confidence = %.4f, want 0", confidence)
	}
}

func TestEstimateProbsSumToOne(t *testing.T) {
	a := mustAssessor(t)
	est, err := a.Estimate(domain.FeatureVector{TrendSlope: 0.6, Momentum: 0.4, Volatility: 0.5}, time.Now())
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	sum := 0.0
	for _, p := range est.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probs sum to %.9f, want 1", sum)
	}
	if est.ModelName != ModelName {
		t.Fatalf("model name = %q", est.ModelName)
	}
}

func TestEstimateDegenerateFallsBackToUniform(t *testing.T) {
	// A single narrow rule that cannot fire for the given input.
	rules := []Rule{{Trend: "rising", Momentum: "positive", Volatility: "high", Regime: domain.RegimeHighVolatility, Weight: 1}}
	a, err := NewAssessor(DefaultTrendSets(), DefaultMomentumSets(), DefaultVolatilitySets(), rules)
	if err != nil {
		t.Fatalf("new assessor: %v", err)
	}
	est, err := a.Estimate(domain.FeatureVector{TrendSlope: -0.9, Momentum: -0.9, Volatility: 0.0}, time.Now())
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.Confidence != 0 {
		t.Fatalf("degenerate confidence = %.4f, want 0", est.Confidence)
	}
	for _, p := range est.Probs {
		if math.Abs(p-0.25) > 1e-9 {
			t.Fatalf("degenerate probs not uniform: %v", est.Probs)
		}
	}
}

func mustAssessor(t *testing.T) *Assessor {
	t.Helper()
	a, err := NewDefaultAssessor()
	if err != nil {
		t.Fatalf("default assessor: %v", err)
	}
	return a
}
