package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Indicator series are aligned with their input; positions without enough
// history hold NaN.

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing. The first
// value appears at index period.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*(p-1) + g) / p
		loss = (loss*(p-1) + l) / p
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	switch {
	case loss == 0 && gain == 0:
		return 50
	case loss == 0:
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// EMA is the span-weighted exponential moving average, α = 2/(span+1),
// seeded with the first value. NaN inputs carry the previous average.
func EMA(values []float64, span int) []float64 {
	out := nanSlice(len(values))
	if len(values) == 0 || span <= 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	prev := math.NaN()
	for i, v := range values {
		switch {
		case math.IsNaN(v):
		case math.IsNaN(prev):
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// MACD returns the fast-minus-slow EMA line and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) ([]float64, []float64) {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range line {
		line[i] = f[i] - s[i]
	}
	return line, EMA(line, signal)
}

// PctChange is closes[t]/closes[t-k]-1.
func PctChange(closes []float64, k int) []float64 {
	out := nanSlice(len(closes))
	for i := k; i < len(closes); i++ {
		if closes[i-k] != 0 {
			out[i] = closes[i]/closes[i-k] - 1
		}
	}
	return out
}

// RollingStd is the sample standard deviation over a trailing window.
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = stat.StdDev(values[i-window+1:i+1], nil)
	}
	return out
}

// RollingMean is the simple moving average over a trailing window.
func RollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 1 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}
