package bayes

import (
	"errors"
	"math"
	"testing"

	"regime-engine/internal/domain"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := NewTransitionEstimator(1, 10); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for n=1, got %v", err)
	}
	if _, err := NewTransitionEstimator(4, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero prior, got %v", err)
	}
}

func TestPosteriorMeanRowsSumToOneWithoutUpdates(t *testing.T) {
	e := mustEstimator(t)
	for i, row := range e.PosteriorMean() {
		if s := sum(row); math.Abs(s-1) > 1e-12 {
			t.Fatalf("prior-only mean row %d sums to %.15f", i, s)
		}
	}
}

func TestPriorEncodesSelfPersistence(t *testing.T) {
	e := mustEstimator(t)
	mean := e.PosteriorMean()
	for i := range mean {
		for j := range mean[i] {
			if i != j && mean[i][i] <= mean[i][j] {
				t.Fatalf("prior mean diag [%d][%d]=%.4f not dominant over %.4f", i, i, mean[i][i], mean[i][j])
			}
		}
	}
}

func TestUpdateAccumulatesCounts(t *testing.T) {
	e := mustEstimator(t)

	seq := []domain.Regime{0, 0, 1, 1, 0}
	if err := e.Update(seq); err != nil {
		t.Fatalf("update: %v", err)
	}
	alpha := e.Alpha()
	// Transitions: 0->0, 0->1, 1->1, 1->0.
	if alpha[0][0] != DefaultPriorStrength+1 {
		t.Fatalf("alpha[0][0] = %.1f, want %.1f", alpha[0][0], DefaultPriorStrength+1)
	}
	if alpha[0][1] != 2 || alpha[1][0] != 2 {
		t.Fatalf("off-diagonal counts wrong: %v", alpha)
	}

	// A second disjoint update compounds.
	if err := e.Update([]domain.Regime{2, 3}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if e.Alpha()[2][3] != 2 {
		t.Fatalf("alpha[2][3] = %.1f, want 2", e.Alpha()[2][3])
	}
}

func TestUpdateRejectsOutOfRangeRegime(t *testing.T) {
	e := mustEstimator(t)
	if err := e.Update([]domain.Regime{0, domain.RegimeUnknown}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	// A rejected sequence must not have been partially applied.
	if e.Alpha()[0][0] != DefaultPriorStrength {
		t.Fatalf("alpha mutated by rejected update")
	}
}

func TestPersistentStateZeroDominatesPosterior(t *testing.T) {
	e := mustEstimator(t)
	seq := make([]domain.Regime, 100)
	if err := e.Update(seq); err != nil {
		t.Fatalf("update: %v", err)
	}
	mean := e.PosteriorMean()
	if mean[0][0] <= 0.95 {
		t.Fatalf("self-transition posterior %.4f, want > 0.95", mean[0][0])
	}
	for i, row := range mean {
		if s := sum(row); math.Abs(s-1) > 1e-12 {
			t.Fatalf("posterior mean row %d sums to %.15f", i, s)
		}
	}
}

func TestPosteriorUncertaintyShrinksWithData(t *testing.T) {
	e := mustEstimator(t)
	before := e.PosteriorUncertainty()[0][0]

	seq := make([]domain.Regime, 500)
	if err := e.Update(seq); err != nil {
		t.Fatalf("update: %v", err)
	}
	after := e.PosteriorUncertainty()[0][0]
	if after >= before {
		t.Fatalf("uncertainty did not shrink: before %.6f, after %.6f", before, after)
	}
}

func TestSampledMatricesConvergeToPosteriorMean(t *testing.T) {
	e := mustEstimator(t)
	if err := e.Update([]domain.Regime{0, 1, 2, 3, 0, 0, 1, 1, 2, 2, 3, 3, 0}); err != nil {
		t.Fatalf("update: %v", err)
	}

	const nSamples = 10000
	samples, err := e.SampleTransitionMatrices(nSamples, 42)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	mean := e.PosteriorMean()
	avg := make([][]float64, e.NumStates())
	for i := range avg {
		avg[i] = make([]float64, e.NumStates())
	}
	for _, m := range samples {
		for i := range m {
			if s := sum(m[i]); math.Abs(s-1) > 1e-9 {
				t.Fatalf("sampled row not stochastic: sum %.12f", s)
			}
			for j := range m[i] {
				avg[i][j] += m[i][j] / nSamples
			}
		}
	}
	for i := range avg {
		for j := range avg[i] {
			if diff := math.Abs(avg[i][j] - mean[i][j]); diff > 0.02 {
				t.Fatalf("monte carlo mean [%d][%d] off by %.4f (> 0.02)", i, j, diff)
			}
		}
	}
}

func TestSampleRejectsBadCount(t *testing.T) {
	e := mustEstimator(t)
	if _, err := e.SampleTransitionMatrices(0, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	e := mustEstimator(t)
	if err := e.Update([]domain.Regime{0, 1, 1, 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	saved := e.Alpha()

	fresh := mustEstimator(t)
	if err := fresh.Restore(saved); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored := fresh.Alpha()
	for i := range saved {
		for j := range saved[i] {
			if restored[i][j] != saved[i][j] {
				t.Fatalf("restore mismatch at [%d][%d]", i, j)
			}
		}
	}

	bad := saved
	bad[0][0] = 0
	if err := fresh.Restore(bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero concentration, got %v", err)
	}
}

func mustEstimator(t *testing.T) *TransitionEstimator {
	t.Helper()
	e, err := NewDefault()
	if err != nil {
		t.Fatalf("default estimator: %v", err)
	}
	return e
}

func sum(row []float64) float64 {
	s := 0.0
	for _, v := range row {
		s += v
	}
	return s
}
