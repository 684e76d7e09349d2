package features

import (
	"math"
	"testing"
	"time"

	"QuantEngine/internal/domain/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(closes []float64) models.PriceSeries {
	pts := make([]models.PricePoint, len(closes))
	for i, c := range closes {
		pts[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: c, Volume: 1000 + float64(i)}
	}
	return models.NewPriceSeries("TEST", "test", pts)
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestRSIBounds(t *testing.T) {
	up := RSI(linear(30, 100, 1), 14)
	for i := 0; i < 14; i++ {
		if !math.IsNaN(up[i]) {
			t.Fatalf("index %d should be undefined", i)
		}
	}
	if up[14] != 100 || up[29] != 100 {
		t.Fatalf("monotonic rise should give RSI 100, got %v", up[29])
	}
	down := RSI(linear(30, 100, -1), 14)
	if down[29] != 0 {
		t.Fatalf("monotonic fall should give RSI 0, got %v", down[29])
	}
	flat := RSI(linear(30, 100, 0), 14)
	if flat[20] != 50 {
		t.Fatalf("flat series should give RSI 50, got %v", flat[20])
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	closes := []float64{10, 11, 10, 11, 10}
	got := RSI(closes, 2)
	// seed: gain 0.5 loss 0.5 -> 50; then gain (0.5+1)/2, loss 0.25 -> 75
	if got[2] != 50 {
		t.Fatalf("seed rsi %v", got[2])
	}
	if math.Abs(got[3]-75) > 1e-12 {
		t.Fatalf("smoothed rsi %v", got[3])
	}
}

func TestEMAAndMACD(t *testing.T) {
	ema := EMA([]float64{1, 2, 3}, 3)
	if ema[0] != 1 || ema[1] != 1.5 || ema[2] != 2.25 {
		t.Fatalf("ema %v", ema)
	}
	line, signal := MACD(linear(60, 100, 0), 12, 26, 9)
	for i := range line {
		if line[i] != 0 || signal[i] != 0 {
			t.Fatalf("flat series should have zero MACD at %d", i)
		}
	}
	line, _ = MACD(linear(60, 100, 1), 12, 26, 9)
	if line[59] <= 0 {
		t.Fatalf("rising series should have positive MACD, got %v", line[59])
	}
}

func TestPctChangeAndRolling(t *testing.T) {
	pc := PctChange([]float64{100, 110, 121}, 1)
	if !math.IsNaN(pc[0]) || math.Abs(pc[1]-0.1) > 1e-12 || math.Abs(pc[2]-0.1) > 1e-12 {
		t.Fatalf("pct change %v", pc)
	}
	sd := RollingStd([]float64{1, 2, 3, 4}, 3)
	if !math.IsNaN(sd[1]) || math.Abs(sd[2]-1) > 1e-12 || math.Abs(sd[3]-1) > 1e-12 {
		t.Fatalf("rolling std %v", sd)
	}
	mean := RollingMean([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(mean[0]) || mean[1] != 1.5 || mean[3] != 3.5 {
		t.Fatalf("rolling mean %v", mean)
	}
}

func TestRowsDropWarmup(t *testing.T) {
	s := series(linear(60, 100, 0.5))
	rows := Compute(s).Rows()
	// the 20-day change is the last indicator to become defined
	if len(rows) != 40 {
		t.Fatalf("expected 40 rows, got %d", len(rows))
	}
	if !rows[0].Date.Equal(day0.AddDate(0, 0, 20)) {
		t.Fatalf("first row %v", rows[0].Date)
	}
	last, ok := Latest(s)
	if !ok || !last.Date.Equal(day0.AddDate(0, 0, 59)) {
		t.Fatalf("latest row %v %v", last.Date, ok)
	}
}

func TestLatestInsufficientHistory(t *testing.T) {
	if _, ok := Latest(series(linear(15, 100, 1))); ok {
		t.Fatalf("expected no usable row")
	}
}

func TestLabelBoundaries(t *testing.T) {
	cases := []struct {
		ret  float64
		want models.SentimentLabel
	}{
		{0.021, models.SentimentPositive},
		{0.02, models.SentimentNeutral},
		{0.0, models.SentimentNeutral},
		{-0.02, models.SentimentNeutral},
		{-0.021, models.SentimentNegative},
	}
	for _, c := range cases {
		if got := Label(c.ret, 0.02); got != c.want {
			t.Fatalf("Label(%v)=%s want %s", c.ret, got, c.want)
		}
	}
}

func TestLabeledRowsSyntheticPaths(t *testing.T) {
	// +1%/day for 5 days is ~5.1%, so every labeled row is positive
	up := make([]float64, 80)
	up[0] = 100
	for i := 1; i < len(up); i++ {
		up[i] = up[i-1] * 1.01
	}
	rows, labels := LabeledRows(series(up), 5, 0.02)
	if len(rows) != len(labels) || len(rows) != 80-20-5 {
		t.Fatalf("rows %d labels %d", len(rows), len(labels))
	}
	for i, l := range labels {
		if l != models.SentimentPositive {
			t.Fatalf("row %d labelled %s", i, l)
		}
	}

	down := make([]float64, 80)
	down[0] = 100
	for i := 1; i < len(down); i++ {
		down[i] = down[i-1] * 0.99
	}
	_, labels = LabeledRows(series(down), 5, 0.02)
	for i, l := range labels {
		if l != models.SentimentNegative {
			t.Fatalf("row %d labelled %s", i, l)
		}
	}

	// +0.2%/day is ~1% over 5 days
	drift := make([]float64, 80)
	drift[0] = 100
	for i := 1; i < len(drift); i++ {
		drift[i] = drift[i-1] * 1.002
	}
	_, labels = LabeledRows(series(drift), 5, 0.02)
	for i, l := range labels {
		if l != models.SentimentNeutral {
			t.Fatalf("row %d labelled %s", i, l)
		}
	}
}
