// Package boost wraps a gradient-boosted multiclass classifier trained on
// decoded regime labels. It acts as the third ensemble member alongside the
// fuzzy assessor and the HMM filter.
package boost

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"

	"regime-engine/internal/domain"
)

const ModelName = "boost"

var (
	ErrInvalidInput = errors.New("boost: invalid input")
	ErrNotTrained   = errors.New("boost: model not trained")
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:       60,
		LearningRate: 0.08,
		MaxDepth:     4,
	}
}

type artifact struct {
	FeatureNames []string `json:"feature_names"`
	ModelText    string   `json:"model_text"`
}

// Model is a trained multiclass regime classifier over feature vectors.
type Model struct {
	featureNames []string
	boost        *boo.MultiClass
}

// Train fits the classifier on feature vectors paired with regime labels.
// The training set must contain at least two distinct regimes; a degenerate
// single-regime history cannot produce a usable classifier.
func Train(features []domain.FeatureVector, labels []domain.Regime, opts TrainOptions) (*Model, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return nil, fmt.Errorf("%w: %d features for %d labels", ErrInvalidInput, len(features), len(labels))
	}
	classSet := make(map[domain.Regime]struct{}, domain.NumRegimes)
	samples := make([][]float64, len(features))
	intLabels := make([]int, len(labels))
	for i, fv := range features {
		if !fv.Finite() {
			return nil, fmt.Errorf("%w: non-finite feature vector at index %d", ErrInvalidInput, i)
		}
		if !labels[i].Valid() {
			return nil, fmt.Errorf("%w: label %d at index %d", ErrInvalidInput, labels[i], i)
		}
		samples[i] = fv.Slice()
		intLabels[i] = int(labels[i])
		classSet[labels[i]] = struct{}{}
	}
	if len(classSet) < 2 {
		return nil, fmt.Errorf("%w: training set covers only %d regime", ErrInvalidInput, len(classSet))
	}
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultTrainOptions().Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultTrainOptions().LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultTrainOptions().MaxDepth
	}

	o := boo.DefaultXOptions()
	o.Rounds = opts.Rounds
	o.LearningRate = opts.LearningRate
	o.MaxDepth = opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	names := []string{"trend_slope", "momentum", "volatility"}
	data := &utils.DataBunch{
		Data:   samples,
		Labels: intLabels,
		Keys:   names,
	}
	model := boo.NewMultiClass(data, o)
	if model == nil {
		return nil, errors.New("boost: training failed")
	}
	return &Model{featureNames: names, boost: model}, nil
}

// PredictProbs returns the class probabilities for one feature vector.
// Regimes absent from the training set get probability zero.
func (m *Model) PredictProbs(fv domain.FeatureVector) ([domain.NumRegimes]float64, error) {
	var probs [domain.NumRegimes]float64
	if m == nil || m.boost == nil {
		return probs, ErrNotTrained
	}
	if !fv.Finite() {
		return probs, fmt.Errorf("%w: non-finite feature vector", ErrInvalidInput)
	}
	raw := m.boost.PredictSingle(fv.Slice())
	labels := m.boost.ClassLabels()
	for i := range labels {
		if labels[i] >= 0 && labels[i] < domain.NumRegimes {
			probs[labels[i]] = clamp01(raw[i])
		}
	}
	total := 0.0
	for _, p := range probs {
		total += p
	}
	if total <= 0 {
		for r := range probs {
			probs[r] = 1.0 / float64(domain.NumRegimes)
		}
		return probs, nil
	}
	for r := range probs {
		probs[r] /= total
	}
	return probs, nil
}

// Estimate wraps PredictProbs into a RegimeEstimate. Confidence is the
// dominant class probability.
func (m *Model) Estimate(fv domain.FeatureVector, at time.Time) (domain.RegimeEstimate, error) {
	probs, err := m.PredictProbs(fv)
	if err != nil {
		return domain.RegimeEstimate{}, err
	}
	est := domain.RegimeEstimate{
		ModelName: ModelName,
		Probs:     probs,
		Timestamp: at,
	}
	est.Confidence = probs[est.Dominant()]
	return est, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		FeatureNames: m.featureNames,
		ModelText:    buf.String(),
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrInvalidInput)
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	reader := bufio.NewReader(bytes.NewReader([]byte(a.ModelText)))
	model, err := boo.UnJSONMultiClass(reader)
	if err != nil {
		return nil, err
	}
	return &Model{featureNames: append([]string(nil), a.FeatureNames...), boost: model}, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
