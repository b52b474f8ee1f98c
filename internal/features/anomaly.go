package features

import (
	"errors"
	"fmt"

	"github.com/narumiruna/go-iforest/pkg/iforest"

	"regime-engine/internal/domain"
)

var ErrNotFitted = errors.New("features: anomaly detector not fitted")

// minFitRows keeps the forest from being fitted on a sample too small to say
// anything about normality.
const minFitRows = 64

// AnomalyDetector gates classification on observations that look nothing
// like the recent feature distribution. Anomalous ticks still classify, but
// callers use the flag to discount ensemble confidence.
type AnomalyDetector struct {
	forest    *iforest.IsolationForest
	threshold float64
}

// NewAnomalyDetector builds an unfitted detector. Scores above threshold are
// anomalous; isolation scores live in (0,1) with ~0.5 for average points.
func NewAnomalyDetector(threshold float64) (*AnomalyDetector, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("features: anomaly threshold %.4f outside (0,1)", threshold)
	}
	return &AnomalyDetector{threshold: threshold}, nil
}

// Fit trains the forest on a window of recent feature rows.
func (d *AnomalyDetector) Fit(rows []Row) error {
	if len(rows) < minFitRows {
		return fmt.Errorf("features: %d rows below fit minimum %d", len(rows), minFitRows)
	}
	samples := make([][]float64, len(rows))
	for i, r := range rows {
		samples[i] = r.Features.Slice()
	}
	forest := iforest.New()
	forest.Fit(samples)
	d.forest = forest
	return nil
}

// Score returns the isolation score for one feature vector.
func (d *AnomalyDetector) Score(fv domain.FeatureVector) (float64, error) {
	if d.forest == nil {
		return 0, ErrNotFitted
	}
	scores := d.forest.Score([][]float64{fv.Slice()})
	if len(scores) == 0 {
		return 0, ErrNotFitted
	}
	return scores[0], nil
}

// IsAnomalous reports whether the observation crosses the threshold. An
// unfitted detector treats everything as normal so classification never
// stalls on a cold start.
func (d *AnomalyDetector) IsAnomalous(fv domain.FeatureVector) bool {
	score, err := d.Score(fv)
	if err != nil {
		return false
	}
	return score > d.threshold
}

func (d *AnomalyDetector) Fitted() bool {
	return d.forest != nil
}
