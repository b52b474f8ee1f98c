package ensemble

import (
	"errors"
	"math"
	"testing"
	"time"

	"regime-engine/internal/domain"
)

func TestCombineRejectsEmptyInput(t *testing.T) {
	c := mustCombiner(t, nil)
	if _, err := c.Combine(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewCombinerRejectsNonPositiveWeight(t *testing.T) {
	if _, err := NewCombiner(map[string]float64{"fuzzy": -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfidentModelDominatesCombination(t *testing.T) {
	c := mustCombiner(t, nil)
	ests := []domain.RegimeEstimate{
		estimate("fuzzy", domain.RegimeTrending, 0.9, 0.9),
		estimate("hmm_filter", domain.RegimeMeanReverting, 0.9, 0.1),
	}
	res, err := c.Combine(ests)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if res.Dominant != domain.RegimeTrending {
		t.Fatalf("dominant = %s, want trending", res.Dominant)
	}
	if res.Probs[domain.RegimeTrending] <= 0.8 {
		t.Fatalf("combined trending prob %.4f, want > 0.8", res.Probs[domain.RegimeTrending])
	}
}

func TestCombinedProbsSumToOne(t *testing.T) {
	c := mustCombiner(t, map[string]float64{"fuzzy": 2, "hmm_filter": 1})
	ests := []domain.RegimeEstimate{
		estimate("fuzzy", domain.RegimeHighVolatility, 0.7, 0.6),
		estimate("hmm_filter", domain.RegimeHighVolatility, 0.8, 0.5),
		estimate("boost", domain.RegimeTransitional, 0.6, 0.4),
	}
	res, err := c.Combine(ests)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	sum := 0.0
	for _, p := range res.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("combined probs sum to %.12f", sum)
	}
}

func TestAgreementBounds(t *testing.T) {
	c := mustCombiner(t, nil)

	unanimous := []domain.RegimeEstimate{
		estimate("a", domain.RegimeTrending, 0.8, 0.8),
		estimate("b", domain.RegimeTrending, 0.6, 0.7),
		estimate("c", domain.RegimeTrending, 0.7, 0.9),
	}
	res, err := c.Combine(unanimous)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if res.ModelAgreement != 1 {
		t.Fatalf("unanimous agreement = %.4f, want 1", res.ModelAgreement)
	}

	split := []domain.RegimeEstimate{
		estimate("a", domain.RegimeTrending, 0.8, 0.8),
		estimate("b", domain.RegimeMeanReverting, 0.8, 0.8),
		estimate("c", domain.RegimeHighVolatility, 0.8, 0.8),
	}
	res, err = c.Combine(split)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if math.Abs(res.ModelAgreement-1.0/3.0) > 1e-9 {
		t.Fatalf("pairwise-disagreeing agreement = %.4f, want 1/3", res.ModelAgreement)
	}
}

func TestDisagreementPenalizesConfidence(t *testing.T) {
	c := mustCombiner(t, nil)
	ests := []domain.RegimeEstimate{
		estimate("a", domain.RegimeTrending, 0.9, 0.9),
		estimate("b", domain.RegimeMeanReverting, 0.9, 0.9),
	}
	res, err := c.Combine(ests)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if res.Confidence >= res.Probs[res.Dominant] {
		t.Fatalf("confidence %.4f not penalized below combined prob %.4f", res.Confidence, res.Probs[res.Dominant])
	}
}

func TestAllZeroConfidenceFallsBackToEqualWeights(t *testing.T) {
	c := mustCombiner(t, map[string]float64{"a": 5})
	ests := []domain.RegimeEstimate{
		estimate("a", domain.RegimeTrending, 0.9, 0),
		estimate("b", domain.RegimeMeanReverting, 0.9, 0),
	}
	res, err := c.Combine(ests)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	// Equal-weight average of the two prob vectors: static weights ignored.
	want := (0.9 + (0.1 / 3)) / 2
	if math.Abs(res.Probs[domain.RegimeTrending]-want) > 1e-9 {
		t.Fatalf("fallback trending prob %.6f, want %.6f", res.Probs[domain.RegimeTrending], want)
	}
	sum := 0.0
	for _, p := range res.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("fallback probs sum to %.12f", sum)
	}
}

func TestCombineRejectsOutOfRangeConfidence(t *testing.T) {
	c := mustCombiner(t, nil)
	ests := []domain.RegimeEstimate{estimate("a", domain.RegimeTrending, 0.9, 1.5)}
	if _, err := c.Combine(ests); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// estimate builds a RegimeEstimate concentrating prob mass on one regime and
// spreading the rest evenly.
func estimate(model string, r domain.Regime, prob, confidence float64) domain.RegimeEstimate {
	est := domain.RegimeEstimate{ModelName: model, Confidence: confidence, Timestamp: time.Now()}
	rest := (1 - prob) / float64(domain.NumRegimes-1)
	for i := range est.Probs {
		est.Probs[i] = rest
	}
	est.Probs[r] = prob
	return est
}

func mustCombiner(t *testing.T, weights map[string]float64) *Combiner {
	t.Helper()
	c, err := NewCombiner(weights)
	if err != nil {
		t.Fatalf("new combiner: %v", err)
	}
	return c
}
