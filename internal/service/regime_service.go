package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"regime-engine/internal/cache"
	"regime-engine/internal/domain"
	"regime-engine/internal/features"
	"regime-engine/internal/regime/bayes"
	"regime-engine/internal/regime/boost"
	"regime-engine/internal/regime/ensemble"
	"regime-engine/internal/regime/fuzzy"
	"regime-engine/internal/regime/hmm"

	"go.opentelemetry.io/otel/trace"
)

// Model-state keys in the regime_model_state table.
const (
	stateBayes      = "bayes"
	stateCalibrator = "calibrator"
	stateBoost      = "boost"
)

// anomalyPenalty discounts raw confidence when the observation falls outside
// the recent feature distribution.
const anomalyPenalty = 0.5

type RegimeCandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
	GetCandlesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error)
}

type RegimeStore interface {
	InsertSnapshot(ctx context.Context, s *domain.RegimeSnapshot) (*domain.RegimeSnapshot, error)
	LatestSnapshot(ctx context.Context, symbol, interval string) (*domain.RegimeSnapshot, error)
	ListSnapshots(ctx context.Context, symbol, interval string, limit int) ([]*domain.RegimeSnapshot, error)
	ListUnresolved(ctx context.Context, before time.Time, limit int) ([]*domain.RegimeSnapshot, error)
	ResolveSnapshot(ctx context.Context, id int64, actual domain.Regime, isCorrect bool) error
	SaveModelState(ctx context.Context, symbol, modelName string, state []byte) error
	LoadModelState(ctx context.Context, symbol, modelName string) ([]byte, error)
}

type RegimeConfig struct {
	Interval           string
	HistoryBars        int
	SmoothingWindow    int
	SmoothingAlpha     float64
	PriorStrength      float64
	CalibrationBins    int
	CalibrationMin     int
	CalibrationBlend   float64
	CalibrationDecay   float64
	AnomalyThreshold   float64
	BoostEnabled       bool
	MinTrainSamples    int
	ModelWeights       map[string]float64
	ResolveLag         time.Duration
	TransitionSeedBase uint64
}

func (c *RegimeConfig) applyDefaults() {
	if c.Interval == "" {
		c.Interval = domain.ClassifyInterval
	}
	if c.HistoryBars <= 0 {
		c.HistoryBars = 336
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 10
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = 0.3
	}
	if c.PriorStrength <= 0 {
		c.PriorStrength = bayes.DefaultPriorStrength
	}
	if c.AnomalyThreshold <= 0 || c.AnomalyThreshold >= 1 {
		c.AnomalyThreshold = 0.65
	}
	if c.MinTrainSamples <= 0 {
		c.MinTrainSamples = 200
	}
	if c.ResolveLag <= 0 {
		c.ResolveLag = 24 * time.Hour
	}
}

// symbolState holds the online models for one symbol. The filter, estimator,
// and calibrator are not internally thread-safe; st.mu serializes every read
// and write of them, since the classify poller, the resolve loop, the
// transition job, the HTTP refresh handler, and the bot all share one
// service.
type symbolState struct {
	mu         sync.Mutex
	filter     *hmm.OnlineFilter
	estimator  *bayes.TransitionEstimator
	calibrator *ensemble.Calibrator
	boost      *boost.Model
	anomaly    *features.AnomalyDetector
}

// FlipHandler is invoked after a classification whose dominant regime
// differs from the previous persisted one.
type FlipHandler func(current, previous *domain.RegimeSnapshot)

// RegimeService runs the full classification pipeline: candles to features,
// per-model estimates, ensemble combination, calibration, persistence.
type RegimeService struct {
	tracer   trace.Tracer
	candles  RegimeCandleSource
	store    RegimeStore
	engine   *features.Engine
	assessor *fuzzy.Assessor
	combiner *ensemble.Combiner
	cfg      RegimeConfig

	mu     sync.Mutex
	states map[string]*symbolState
	onFlip FlipHandler
}

func NewRegimeService(tracer trace.Tracer, candles RegimeCandleSource, store RegimeStore, cfg RegimeConfig) (*RegimeService, error) {
	cfg.applyDefaults()
	assessor, err := fuzzy.NewDefaultAssessor()
	if err != nil {
		return nil, err
	}
	combiner, err := ensemble.NewCombiner(cfg.ModelWeights)
	if err != nil {
		return nil, err
	}
	return &RegimeService{
		tracer:   tracer,
		candles:  candles,
		store:    store,
		engine:   features.NewEngine(nil),
		assessor: assessor,
		combiner: combiner,
		cfg:      cfg,
		states:   map[string]*symbolState{},
	}, nil
}

// SetFlipHandler registers the callback used for regime-change
// notifications. Call before the pollers start.
func (s *RegimeService) SetFlipHandler(h FlipHandler) {
	s.mu.Lock()
	s.onFlip = h
	s.mu.Unlock()
}

func (s *RegimeService) stateFor(ctx context.Context, symbol string) (*symbolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[symbol]; ok {
		return st, nil
	}

	model, err := hmm.NewDefault()
	if err != nil {
		return nil, err
	}
	filter, err := hmm.NewOnlineFilter(model, hmm.FilterConfig{
		SmoothingWindow: s.cfg.SmoothingWindow,
		SmoothingAlpha:  s.cfg.SmoothingAlpha,
	})
	if err != nil {
		return nil, err
	}
	estimator, err := bayes.NewTransitionEstimator(domain.NumRegimes, s.cfg.PriorStrength)
	if err != nil {
		return nil, err
	}
	calibrator, err := ensemble.NewCalibrator(ensemble.CalibratorConfig{
		Bins:       s.cfg.CalibrationBins,
		MinSamples: s.cfg.CalibrationMin,
		Blend:      s.cfg.CalibrationBlend,
		Decay:      s.cfg.CalibrationDecay,
	})
	if err != nil {
		return nil, err
	}
	anomaly, err := features.NewAnomalyDetector(s.cfg.AnomalyThreshold)
	if err != nil {
		return nil, err
	}

	st := &symbolState{
		filter:     filter,
		estimator:  estimator,
		calibrator: calibrator,
		anomaly:    anomaly,
	}
	s.restoreState(ctx, symbol, st)
	s.states[symbol] = st
	return st, nil
}

// restoreState loads persisted model artifacts. Missing or corrupt state is
// logged and skipped; the symbol starts from priors.
func (s *RegimeService) restoreState(ctx context.Context, symbol string, st *symbolState) {
	if s.store == nil {
		return
	}
	if blob, err := s.store.LoadModelState(ctx, symbol, stateBayes); err != nil {
		log.Printf("regime: load bayes state for %s: %v", symbol, err)
	} else if len(blob) > 0 {
		var alpha [][]float64
		if err := json.Unmarshal(blob, &alpha); err != nil {
			log.Printf("regime: decode bayes state for %s: %v", symbol, err)
		} else if err := st.estimator.Restore(alpha); err != nil {
			log.Printf("regime: restore bayes state for %s: %v", symbol, err)
		} else if err := st.filter.Model().SetTransition(st.estimator.PosteriorMean()); err != nil {
			log.Printf("regime: apply restored transitions for %s: %v", symbol, err)
		}
	}
	if blob, err := s.store.LoadModelState(ctx, symbol, stateCalibrator); err != nil {
		log.Printf("regime: load calibrator state for %s: %v", symbol, err)
	} else if len(blob) > 0 {
		if err := st.calibrator.UnmarshalBinary(blob); err != nil {
			log.Printf("regime: restore calibrator state for %s: %v", symbol, err)
		}
	}
	if !s.cfg.BoostEnabled {
		return
	}
	if blob, err := s.store.LoadModelState(ctx, symbol, stateBoost); err != nil {
		log.Printf("regime: load boost state for %s: %v", symbol, err)
	} else if len(blob) > 0 {
		model, err := boost.UnmarshalBinary(blob)
		if err != nil {
			log.Printf("regime: restore boost model for %s: %v", symbol, err)
		} else {
			st.boost = model
		}
	}
}

// ClassifySymbol runs one classification tick for a symbol and persists the
// resulting snapshot.
func (s *RegimeService) ClassifySymbol(ctx context.Context, symbol string) (*domain.RegimeSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.classify-symbol")
	defer span.End()

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	candles, err := s.candles.GetCandles(ctx, symbol, s.cfg.Interval, s.cfg.HistoryBars)
	if err != nil {
		return nil, err
	}
	row, ok := s.engine.Latest(candles)
	if !ok {
		return nil, fmt.Errorf("not enough candle history to classify %s", symbol)
	}

	st, err := s.stateFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	fuzzyEst, err := s.assessor.Estimate(row.Features, row.OpenTime)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	filterEst, err := st.filter.Update(row.Features.Slice())
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	estimates := []domain.RegimeEstimate{fuzzyEst, filterEst}
	if st.boost != nil {
		boostEst, err := st.boost.Estimate(row.Features, row.OpenTime)
		if err != nil {
			log.Printf("regime: boost estimate for %s: %v", symbol, err)
		} else {
			estimates = append(estimates, boostEst)
		}
	}

	result, err := s.combiner.Combine(estimates)
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}

	raw := result.Confidence
	anomalous := st.anomaly.IsAnomalous(row.Features)
	if anomalous {
		raw *= anomalyPenalty
	}
	calibrated := st.calibrator.Calibrate(raw)
	st.mu.Unlock()

	snapshot := &domain.RegimeSnapshot{
		Symbol:        symbol,
		Interval:      s.cfg.Interval,
		ObservedAt:    row.OpenTime,
		Regime:        result.Dominant,
		RegimeName:    result.Dominant.String(),
		Probs:         result.Probs,
		RawConfidence: raw,
		Confidence:    calibrated,
		Agreement:     result.ModelAgreement,
		DetailsJSON:   buildRegimeDetails(row.Features, estimates, anomalous),
	}

	previous, persisted, err := s.persistSnapshot(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if err := cache.SetLatestRegime(ctx, persisted); err != nil {
		log.Printf("regime: cache write for %s: %v", symbol, err)
	}

	if previous != nil && previous.Regime != persisted.Regime {
		s.mu.Lock()
		handler := s.onFlip
		s.mu.Unlock()
		if handler != nil {
			handler(persisted, previous)
		}
	}
	return persisted, nil
}

func (s *RegimeService) persistSnapshot(ctx context.Context, snapshot *domain.RegimeSnapshot) (previous, persisted *domain.RegimeSnapshot, err error) {
	if s.store == nil {
		return nil, snapshot, nil
	}
	previous, err = s.store.LatestSnapshot(ctx, snapshot.Symbol, snapshot.Interval)
	if err != nil {
		return nil, nil, err
	}
	persisted, err = s.store.InsertSnapshot(ctx, snapshot)
	if err != nil {
		return nil, nil, err
	}
	return previous, persisted, nil
}

// ClassifyAll classifies every supported symbol. Per-symbol failures are
// logged and do not stop the sweep.
func (s *RegimeService) ClassifyAll(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "regime-service.classify-all")
	defer span.End()

	for _, symbol := range domain.SupportedSymbols {
		snapshot, err := s.ClassifySymbol(ctx, symbol)
		if err != nil {
			log.Printf("regime: classify %s: %v", symbol, err)
			continue
		}
		log.Printf("regime: %s is %s (confidence %.2f, agreement %.2f)",
			symbol, snapshot.RegimeName, snapshot.Confidence, snapshot.Agreement)
	}
}

// RefreshTransitions decodes the symbol's full history with Viterbi, feeds
// the decoded path to the Dirichlet estimator, installs the posterior-mean
// transition matrix into the online filter, and retrains the boosted
// classifier on the decoded labels.
func (s *RegimeService) RefreshTransitions(ctx context.Context, symbol string) error {
	ctx, span := s.tracer.Start(ctx, "regime-service.refresh-transitions")
	defer span.End()

	candles, err := s.candles.GetCandles(ctx, symbol, s.cfg.Interval, s.cfg.HistoryBars)
	if err != nil {
		return err
	}
	rows := s.engine.BuildRows(candles)
	if len(rows) < 2 {
		return fmt.Errorf("not enough feature history to refresh transitions for %s", symbol)
	}

	st, err := s.stateFor(ctx, symbol)
	if err != nil {
		return err
	}

	observations := make([][]float64, len(rows))
	vectors := make([]domain.FeatureVector, len(rows))
	for i, r := range rows {
		observations[i] = r.Features.Slice()
		vectors[i] = r.Features
	}

	st.mu.Lock()
	path, err := st.filter.Model().Viterbi(observations)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if err := st.estimator.Update(path); err != nil {
		st.mu.Unlock()
		return err
	}
	if err := st.filter.Model().SetTransition(st.estimator.PosteriorMean()); err != nil {
		st.mu.Unlock()
		return err
	}
	alpha := st.estimator.Alpha()

	if err := st.anomaly.Fit(rows); err != nil {
		log.Printf("regime: fit anomaly detector for %s: %v", symbol, err)
	}

	var model *boost.Model
	if s.cfg.BoostEnabled && len(rows) >= s.cfg.MinTrainSamples {
		model, err = boost.Train(vectors, path, boost.DefaultTrainOptions())
		if err != nil {
			log.Printf("regime: train boost model for %s: %v", symbol, err)
			model = nil
		} else {
			st.boost = model
		}
	}
	st.mu.Unlock()

	s.saveState(ctx, symbol, stateBayes, func() ([]byte, error) { return json.Marshal(alpha) })
	if model != nil {
		s.saveState(ctx, symbol, stateBoost, model.MarshalBinary)
	}

	log.Printf("regime: refreshed transitions for %s from %d decoded bars", symbol, len(path))
	return nil
}

// RefreshAllTransitions refreshes every supported symbol.
func (s *RegimeService) RefreshAllTransitions(ctx context.Context) {
	for _, symbol := range domain.SupportedSymbols {
		if err := s.RefreshTransitions(ctx, symbol); err != nil {
			log.Printf("regime: refresh transitions %s: %v", symbol, err)
		}
	}
}

// ResolveSnapshots grades predictions old enough for their realized regime
// to be known, and feeds the outcomes to the calibrators.
func (s *RegimeService) ResolveSnapshots(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.resolve-snapshots")
	defer span.End()

	if s.store == nil {
		return 0, nil
	}
	cutoff := now.UTC().Add(-s.cfg.ResolveLag)
	pending, err := s.store.ListUnresolved(ctx, cutoff, 200)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, snapshot := range pending {
		actual, err := s.realizedRegime(ctx, snapshot)
		if err != nil {
			log.Printf("regime: realized regime for %s snapshot %d: %v", snapshot.Symbol, snapshot.ID, err)
			continue
		}
		correct := actual == snapshot.Regime
		if err := s.store.ResolveSnapshot(ctx, snapshot.ID, actual, correct); err != nil {
			log.Printf("regime: resolve snapshot %d: %v", snapshot.ID, err)
			continue
		}

		st, err := s.stateFor(ctx, snapshot.Symbol)
		if err != nil {
			log.Printf("regime: state for %s: %v", snapshot.Symbol, err)
			continue
		}
		// The calibrator bins are keyed by the raw confidence that
		// Calibrate saw at classify time, so outcomes are recorded
		// under the same value.
		st.mu.Lock()
		err = st.calibrator.Update(snapshot.RawConfidence, correct)
		var blob []byte
		if err == nil {
			blob, err = st.calibrator.MarshalBinary()
		}
		st.mu.Unlock()
		if err != nil {
			log.Printf("regime: calibrator update for %s: %v", snapshot.Symbol, err)
			continue
		}
		s.saveState(ctx, snapshot.Symbol, stateCalibrator, func() ([]byte, error) { return blob, nil })
		resolved++
	}
	if resolved > 0 {
		log.Printf("regime: resolved %d snapshots", resolved)
	}
	return resolved, nil
}

// realizedRegime decodes the window following the snapshot and takes the
// majority state as ground truth.
func (s *RegimeService) realizedRegime(ctx context.Context, snapshot *domain.RegimeSnapshot) (domain.Regime, error) {
	from := snapshot.ObservedAt.Add(-time.Duration(features.Warmup()) * time.Hour)
	to := snapshot.ObservedAt.Add(s.cfg.ResolveLag)
	candles, err := s.candles.GetCandlesInRange(ctx, snapshot.Symbol, snapshot.Interval, from, to)
	if err != nil {
		return domain.RegimeUnknown, err
	}
	rows := s.engine.BuildRows(candles)
	if len(rows) == 0 {
		return domain.RegimeUnknown, fmt.Errorf("no feature rows in resolution window")
	}

	st, err := s.stateFor(ctx, snapshot.Symbol)
	if err != nil {
		return domain.RegimeUnknown, err
	}
	observations := make([][]float64, 0, len(rows))
	for _, r := range rows {
		if r.OpenTime.Before(snapshot.ObservedAt) {
			continue
		}
		observations = append(observations, r.Features.Slice())
	}
	if len(observations) == 0 {
		return domain.RegimeUnknown, fmt.Errorf("no observations after snapshot time")
	}
	st.mu.Lock()
	path, err := st.filter.Model().Viterbi(observations)
	st.mu.Unlock()
	if err != nil {
		return domain.RegimeUnknown, err
	}

	var votes [domain.NumRegimes]int
	for _, r := range path {
		votes[r]++
	}
	best := domain.Regime(0)
	for r := domain.Regime(1); r < domain.NumRegimes; r++ {
		if votes[r] > votes[best] {
			best = r
		}
	}
	return best, nil
}

// CurrentRegime serves the latest classification, preferring cache, then
// store, then a fresh classification.
func (s *RegimeService) CurrentRegime(ctx context.Context, symbol string) (*domain.RegimeSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.current-regime")
	defer span.End()

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}

	cached, err := cache.GetLatestRegime(ctx, symbol, s.cfg.Interval)
	if err != nil {
		log.Printf("regime: cache read for %s: %v", symbol, err)
	}
	if cached != nil {
		return cached, nil
	}

	if s.store != nil {
		stored, err := s.store.LatestSnapshot(ctx, symbol, s.cfg.Interval)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return stored, nil
		}
	}
	return s.ClassifySymbol(ctx, symbol)
}

// RegimeHistory returns recent snapshots for a symbol, newest-first.
func (s *RegimeService) RegimeHistory(ctx context.Context, symbol string, limit int) ([]*domain.RegimeSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.regime-history")
	defer span.End()

	if s.store == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListSnapshots(ctx, symbol, s.cfg.Interval, limit)
}

// TransitionMatrix exposes the current posterior over regime transitions.
type TransitionMatrix struct {
	Symbol      string                    `json:"symbol"`
	States      [domain.NumRegimes]string `json:"states"`
	Mean        [][]float64               `json:"mean"`
	Uncertainty [][]float64               `json:"uncertainty"`
}

func (s *RegimeService) TransitionPosterior(ctx context.Context, symbol string) (*TransitionMatrix, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.transition-posterior")
	defer span.End()

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	st, err := s.stateFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	mean := st.estimator.PosteriorMean()
	uncertainty := st.estimator.PosteriorUncertainty()
	st.mu.Unlock()
	return &TransitionMatrix{
		Symbol:      symbol,
		States:      domain.RegimeNames(),
		Mean:        mean,
		Uncertainty: uncertainty,
	}, nil
}

// SampleTransitions draws Monte Carlo transition matrices from the current
// Dirichlet posterior, for callers that want the full uncertainty rather
// than the closed-form marginals. The seed base keeps diagnostics
// reproducible.
func (s *RegimeService) SampleTransitions(ctx context.Context, symbol string, count int) ([][][]float64, error) {
	ctx, span := s.tracer.Start(ctx, "regime-service.sample-transitions")
	defer span.End()

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	if count <= 0 || count > 1000 {
		count = 100
	}
	st, err := s.stateFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	seed := s.cfg.TransitionSeedBase
	if seed == 0 {
		seed = 1
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.estimator.SampleTransitionMatrices(count, seed)
}

func (s *RegimeService) saveState(ctx context.Context, symbol, name string, marshal func() ([]byte, error)) {
	if s.store == nil {
		return
	}
	blob, err := marshal()
	if err != nil {
		log.Printf("regime: marshal %s state for %s: %v", name, symbol, err)
		return
	}
	if err := s.store.SaveModelState(ctx, symbol, name, blob); err != nil {
		log.Printf("regime: save %s state for %s: %v", name, symbol, err)
	}
}

func buildRegimeDetails(fv domain.FeatureVector, estimates []domain.RegimeEstimate, anomalous bool) string {
	models := make(map[string]any, len(estimates))
	for _, est := range estimates {
		models[est.ModelName] = map[string]any{
			"regime":     est.Dominant().String(),
			"confidence": est.Confidence,
			"probs":      est.Probs,
		}
	}
	payload := map[string]any{
		"features":  fv,
		"models":    models,
		"anomalous": anomalous,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}
