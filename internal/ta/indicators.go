package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func RSISeries(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nil
	}
	series := make([]float64, len(closes))
	for i := range series {
		series[i] = math.NaN()
	}

	var gainSum float64
	var lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	series[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return series
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// SlopeSeries fits a least-squares line over each trailing window of closes
// and reports the slope normalized by the window mean, so the value reads as
// fractional price change per bar. Positions without a full window are NaN.
func SlopeSeries(closes []float64, period int) []float64 {
	series := make([]float64, len(closes))
	for i := range series {
		series[i] = math.NaN()
	}
	if period < 2 || len(closes) < period {
		return series
	}
	xs := make([]float64, period)
	for i := range xs {
		xs[i] = float64(i)
	}
	for i := period - 1; i < len(closes); i++ {
		window := closes[i-period+1 : i+1]
		_, slope := stat.LinearRegression(xs, window, nil, false)
		mean, _ := MeanStd(window)
		if mean == 0 {
			continue
		}
		series[i] = slope / mean
	}
	return series
}

// ROCSeries is the fractional rate of change over period bars.
func ROCSeries(closes []float64, period int) []float64 {
	series := make([]float64, len(closes))
	for i := range series {
		series[i] = math.NaN()
	}
	if period < 1 {
		return series
	}
	for i := period; i < len(closes); i++ {
		prev := closes[i-period]
		if prev == 0 {
			continue
		}
		series[i] = (closes[i] - prev) / prev
	}
	return series
}

// RollingVolSeries is the rolling standard deviation of one-bar log returns.
func RollingVolSeries(closes []float64, period int) []float64 {
	series := make([]float64, len(closes))
	for i := range series {
		series[i] = math.NaN()
	}
	if period < 2 || len(closes) <= period {
		return series
	}
	returns := make([]float64, len(closes))
	returns[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			returns[i] = 0
			continue
		}
		returns[i] = math.Log(closes[i] / closes[i-1])
	}
	for i := period; i < len(closes); i++ {
		window := returns[i-period+1 : i+1]
		_, std := MeanStd(window)
		series[i] = std
	}
	return series
}
