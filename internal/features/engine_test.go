package features

import (
	"math"
	"testing"
	"time"

	"regime-engine/internal/domain"
)

func TestBuildRowsDeterministicAndBounded(t *testing.T) {
	engine := NewEngine(nil)
	candles := trendingCandles(80, 0.8)

	rowsA := engine.BuildRows(candles)
	rowsB := engine.BuildRows(candles)
	if len(rowsA) == 0 {
		t.Fatal("expected non-empty feature rows")
	}
	if len(rowsA) != len(rowsB) {
		t.Fatalf("expected deterministic row count, got %d vs %d", len(rowsA), len(rowsB))
	}
	if rowsA[0].Features != rowsB[0].Features {
		t.Fatalf("expected deterministic features, got %+v vs %+v", rowsA[0].Features, rowsB[0].Features)
	}

	for i, row := range rowsA {
		fv := row.Features
		if fv.TrendSlope < -1 || fv.TrendSlope > 1 {
			t.Fatalf("row %d trend slope %.4f outside [-1,1]", i, fv.TrendSlope)
		}
		if fv.Momentum < -1 || fv.Momentum > 1 {
			t.Fatalf("row %d momentum %.4f outside [-1,1]", i, fv.Momentum)
		}
		if fv.Volatility < 0 || fv.Volatility > 1 {
			t.Fatalf("row %d volatility %.4f outside [0,1]", i, fv.Volatility)
		}
	}
}

func TestBuildRowsEncodesMarketShape(t *testing.T) {
	engine := NewEngine(nil)

	up := lastFeatures(t, engine, trendingCandles(80, 0.8))
	if up.TrendSlope <= 0.2 || up.Momentum <= 0 {
		t.Fatalf("uptrend features too weak: %+v", up)
	}

	down := lastFeatures(t, engine, trendingCandles(80, -0.8))
	if down.TrendSlope >= -0.2 || down.Momentum >= 0 {
		t.Fatalf("downtrend features too weak: %+v", down)
	}

	flat := lastFeatures(t, engine, flatCandles(80))
	if math.Abs(flat.TrendSlope) > 0.1 {
		t.Fatalf("flat series trend slope %.4f, want near 0", flat.TrendSlope)
	}

	choppy := lastFeatures(t, engine, choppyCandles(80, 4))
	if choppy.Volatility <= flat.Volatility {
		t.Fatalf("choppy volatility %.4f not above flat %.4f", choppy.Volatility, flat.Volatility)
	}
}

func TestBuildRowsHandlesShortAndUnsortedInput(t *testing.T) {
	engine := NewEngine(nil)
	if rows := engine.BuildRows(trendingCandles(10, 0.5)); rows != nil {
		t.Fatalf("expected nil rows for short history, got %d", len(rows))
	}

	candles := trendingCandles(80, 0.8)
	shuffled := make([]*domain.Candle, len(candles))
	for i, c := range candles {
		shuffled[(i*37)%len(candles)] = c
	}
	sortedRows := engine.BuildRows(candles)
	shuffledRows := engine.BuildRows(shuffled)
	if len(sortedRows) != len(shuffledRows) {
		t.Fatalf("row counts diverge after shuffle: %d vs %d", len(sortedRows), len(shuffledRows))
	}
	if sortedRows[len(sortedRows)-1].Features != shuffledRows[len(shuffledRows)-1].Features {
		t.Fatal("shuffled input produced different features")
	}
}

func TestLatestMatchesNewestCandle(t *testing.T) {
	engine := NewEngine(nil)
	candles := trendingCandles(80, 0.8)
	row, ok := engine.Latest(candles)
	if !ok {
		t.Fatal("expected latest row")
	}
	if !row.OpenTime.Equal(candles[len(candles)-1].OpenTime.UTC()) {
		t.Fatalf("latest row at %s, newest candle at %s", row.OpenTime, candles[len(candles)-1].OpenTime)
	}

	if _, ok := engine.Latest(nil); ok {
		t.Fatal("expected no latest row for empty history")
	}
}

func lastFeatures(t *testing.T, engine *Engine, candles []*domain.Candle) domain.FeatureVector {
	t.Helper()
	rows := engine.BuildRows(candles)
	if len(rows) == 0 {
		t.Fatal("expected non-empty feature rows")
	}
	return rows[len(rows)-1].Features
}

func trendingCandles(n int, step float64) []*domain.Candle {
	out := make([]*domain.Candle, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 200.0
	for i := 0; i < n; i++ {
		price += step
		out = append(out, candle(start, i, price))
	}
	return out
}

func flatCandles(n int) []*domain.Candle {
	out := make([]*domain.Candle, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		// Tiny ripple keeps returns nonzero without moving the trend.
		price := 200.0 + 0.05*math.Sin(float64(i))
		out = append(out, candle(start, i, price))
	}
	return out
}

func choppyCandles(n int, swing float64) []*domain.Candle {
	out := make([]*domain.Candle, 0, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := 200.0
		if i%2 == 0 {
			price += swing
		} else {
			price -= swing
		}
		out = append(out, candle(start, i, price))
	}
	return out
}

func candle(start time.Time, i int, price float64) *domain.Candle {
	return &domain.Candle{
		Symbol:   "BTC",
		Interval: "1h",
		OpenTime: start.Add(time.Duration(i) * time.Hour),
		Open:     price - 0.2,
		High:     price + 0.4,
		Low:      price - 0.6,
		Close:    price,
		Volume:   1000 + float64(i*10),
	}
}
