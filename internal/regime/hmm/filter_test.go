package hmm

import (
	"errors"
	"math"
	"testing"

	"regime-engine/internal/domain"
)

func TestFilterUpdateProducesDistribution(t *testing.T) {
	f := mustFilter(t)
	est, err := f.Update([]float64{0.6, 0.5, 0.3})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	sum := 0.0
	for _, p := range est.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("smoothed probs sum to %.12f", sum)
	}
	if est.Confidence <= 0 || est.Confidence > 1 {
		t.Fatalf("confidence %.4f outside (0,1]", est.Confidence)
	}
	if est.ModelName != FilterModelName {
		t.Fatalf("model name = %q", est.ModelName)
	}
}

func TestFilterConvergesOnPersistentEvidence(t *testing.T) {
	f := mustFilter(t)
	cfg := DefaultConfig()

	var last domain.RegimeEstimate
	for i := 0; i < 30; i++ {
		est, err := f.Update(cfg.Means[domain.RegimeHighVolatility])
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		last = est
	}
	if last.Dominant() != domain.RegimeHighVolatility {
		t.Fatalf("dominant = %s after persistent high-vol evidence", last.Dominant())
	}
	if last.Probs[domain.RegimeHighVolatility] < 0.5 {
		t.Fatalf("high-vol prob %.4f, want > 0.5", last.Probs[domain.RegimeHighVolatility])
	}
}

func TestFilterBeliefIsConstantSpace(t *testing.T) {
	f := mustFilter(t)
	for i := 0; i < 50; i++ {
		if _, err := f.Update([]float64{0.1, 0.1, 0.3}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if got := len(f.Belief()); got != domain.NumRegimes {
		t.Fatalf("belief length %d, want %d", got, domain.NumRegimes)
	}
	if got := len(f.window); got > 10 {
		t.Fatalf("smoothing window grew to %d, cap is 10", got)
	}
}

func TestFilterSmoothingDampensSingleTickNoise(t *testing.T) {
	smooth := mustFilter(t)
	raw, err := NewOnlineFilter(mustHMM(t), FilterConfig{SmoothingWindow: 1, SmoothingAlpha: 1})
	if err != nil {
		t.Fatalf("raw filter: %v", err)
	}

	cfg := DefaultConfig()
	quiet := cfg.Means[domain.RegimeMeanReverting]
	spike := cfg.Means[domain.RegimeHighVolatility]

	feed := func(f *OnlineFilter, obs []float64) domain.RegimeEstimate {
		est, err := f.Update(obs)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		return est
	}

	for i := 0; i < 15; i++ {
		feed(smooth, quiet)
		feed(raw, quiet)
	}
	smoothedEst := feed(smooth, spike)
	rawEst := feed(raw, spike)

	if smoothedEst.Probs[domain.RegimeHighVolatility] >= rawEst.Probs[domain.RegimeHighVolatility] {
		t.Fatalf("smoothing did not dampen spike: smoothed %.4f >= raw %.4f",
			smoothedEst.Probs[domain.RegimeHighVolatility], rawEst.Probs[domain.RegimeHighVolatility])
	}
}

func TestFilterRejectsBadObservation(t *testing.T) {
	f := mustFilter(t)
	if _, err := f.Update([]float64{0.1, math.NaN(), 0.2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.Update([]float64{0.1, 0.2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on width mismatch, got %v", err)
	}
}

func TestFilterReset(t *testing.T) {
	f := mustFilter(t)
	for i := 0; i < 5; i++ {
		if _, err := f.Update([]float64{0.6, 0.5, 0.3}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	f.Reset()
	belief := f.Belief()
	for i, p := range belief {
		if math.Abs(p-0.25) > 1e-9 {
			t.Fatalf("belief[%d] = %.4f after reset, want 0.25", i, p)
		}
	}
}

func mustFilter(t *testing.T) *OnlineFilter {
	t.Helper()
	f, err := NewOnlineFilter(mustHMM(t), FilterConfig{})
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	return f
}
