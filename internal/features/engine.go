// Package features turns candle history into the normalized observation
// vectors the regime models consume.
package features

import (
	"math"
	"sort"
	"time"

	"regime-engine/internal/domain"
	"regime-engine/internal/ta"
)

const (
	slopePeriod    = 20
	momentumPeriod = 10
	rsiPeriod      = 14
	volPeriod      = 20

	// Scales map raw indicator magnitudes into the unit ranges the fuzzy
	// sets and HMM emissions are tuned for. Slope and momentum squash
	// through tanh into [-1,1]; volatility divides by a reference hourly
	// log-return std and clamps into [0,1].
	slopeScale    = 200.0
	momentumScale = 15.0
	volScale      = 0.025
)

type Row struct {
	Symbol   string
	Interval string
	OpenTime time.Time
	Features domain.FeatureVector
}

type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Warmup is the number of leading candles consumed before the first usable
// feature row.
func Warmup() int {
	w := slopePeriod
	if momentumPeriod+1 > w {
		w = momentumPeriod + 1
	}
	if rsiPeriod+1 > w {
		w = rsiPeriod + 1
	}
	if volPeriod+1 > w {
		w = volPeriod + 1
	}
	return w
}

// BuildRows computes one feature vector per candle past the warmup window.
// Candles are defensively sorted by open time; rows with any non-finite
// component are skipped.
func (e *Engine) BuildRows(candles []*domain.Candle) []Row {
	normalized := normalizeCandles(candles)
	if len(normalized) <= Warmup() {
		return nil
	}

	closes := make([]float64, len(normalized))
	for i := range normalized {
		closes[i] = normalized[i].Close
	}

	slope := ta.SlopeSeries(closes, slopePeriod)
	roc := ta.ROCSeries(closes, momentumPeriod)
	rsi := ta.RSISeries(closes, rsiPeriod)
	vol := ta.RollingVolSeries(closes, volPeriod)

	rows := make([]Row, 0, len(normalized))
	for i := Warmup(); i < len(normalized); i++ {
		fv := domain.FeatureVector{
			TrendSlope: math.Tanh(slope[i] * slopeScale),
			Momentum:   0.5*math.Tanh(roc[i]*momentumScale) + 0.5*(rsi[i]-50)/50,
			Volatility: clamp01(vol[i] / volScale),
		}
		if !fv.Finite() {
			continue
		}
		rows = append(rows, Row{
			Symbol:   normalized[i].Symbol,
			Interval: normalized[i].Interval,
			OpenTime: normalized[i].OpenTime.UTC(),
			Features: fv,
		})
	}
	return rows
}

// Latest returns the feature row for the most recent candle, or false when
// the history is too short to produce one.
func (e *Engine) Latest(candles []*domain.Candle) (Row, bool) {
	rows := e.BuildRows(candles)
	if len(rows) == 0 {
		return Row{}, false
	}
	last := rows[len(rows)-1]
	sorted := normalizeCandles(candles)
	if !last.OpenTime.Equal(sorted[len(sorted)-1].OpenTime.UTC()) {
		return Row{}, false
	}
	return last, true
}

func normalizeCandles(in []*domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
