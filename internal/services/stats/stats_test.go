package stats

import (
	"errors"
	"math"
	"testing"
	"time"

	"QuantEngine/internal/domain/models"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// patterned builds a price series whose daily returns are mu/252 ± vol/√252
// following the sign pattern, so sample moments are known exactly.
func patterned(symbol string, annualRet, annualVol float64, pattern []float64, n int) models.PriceSeries {
	mu := annualRet / 252
	sd := annualVol / math.Sqrt(252)
	pts := make([]models.PricePoint, n+1)
	price := 100.0
	pts[0] = models.PricePoint{Date: day0, Close: price, Volume: 1000}
	for i := 1; i <= n; i++ {
		price *= 1 + mu + sd*pattern[(i-1)%len(pattern)]
		pts[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: price, Volume: 1000}
	}
	return models.NewPriceSeries(symbol, "test", pts)
}

func TestSimpleReturns(t *testing.T) {
	got := SimpleReturns([]float64{100, 110, 99})
	if len(got) != 2 {
		t.Fatalf("len %d", len(got))
	}
	if math.Abs(got[0]-0.10) > 1e-12 || math.Abs(got[1]+0.10) > 1e-12 {
		t.Fatalf("returns %v", got)
	}
	if SimpleReturns([]float64{1}) != nil {
		t.Fatalf("expected nil for single close")
	}
}

func TestBuildReturnMatrixIntersectsDates(t *testing.T) {
	a := patterned("AAA", 0.08, 0.10, []float64{1, -1}, 40)
	b := patterned("BBB", 0.03, 0.05, []float64{1, -1}, 40)
	missing := day0.AddDate(0, 0, 10)
	pts := make([]models.PricePoint, 0, b.Len())
	for _, p := range b.Points {
		if !p.Date.Equal(missing) {
			pts = append(pts, p)
		}
	}
	b = models.NewPriceSeries("BBB", "test", pts)

	m, err := BuildReturnMatrix([]models.PriceSeries{a, b}, 30)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if m.Rows() != 39 || m.Cols() != 2 {
		t.Fatalf("shape %dx%d", m.Rows(), m.Cols())
	}
	for _, d := range m.Dates {
		if d.Equal(missing) {
			t.Fatalf("missing date present in matrix")
		}
	}
}

func TestBuildReturnMatrixInsufficientHistory(t *testing.T) {
	a := patterned("AAA", 0.08, 0.10, []float64{1, -1}, 20)
	b := patterned("BBB", 0.03, 0.05, []float64{1, -1}, 20)
	_, err := BuildReturnMatrix([]models.PriceSeries{a, b}, 30)
	if !errors.Is(err, models.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestAnnualizeKnownMoments(t *testing.T) {
	const n = 252
	a := patterned("AAA", 0.08, 0.10, []float64{1, -1, 1, -1}, n)
	b := patterned("BBB", 0.03, 0.05, []float64{1, 1, -1, -1}, n)
	m, err := BuildReturnMatrix([]models.PriceSeries{a, b}, 30)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	mo := Annualize(m, 252)

	if math.Abs(mo.Mean[0]-0.08) > 1e-9 || math.Abs(mo.Mean[1]-0.03) > 1e-9 {
		t.Fatalf("means %v", mo.Mean)
	}
	scale := math.Sqrt(float64(n) / float64(n-1))
	if math.Abs(mo.Vol[0]-0.10*scale) > 1e-9 || math.Abs(mo.Vol[1]-0.05*scale) > 1e-9 {
		t.Fatalf("vols %v", mo.Vol)
	}
	if math.Abs(mo.Cov.At(0, 1)) > 1e-12 {
		t.Fatalf("expected zero covariance, got %v", mo.Cov.At(0, 1))
	}
	if _, bad := mo.Degenerate(); bad {
		t.Fatalf("unexpected degenerate flag")
	}

	st := mo.Stats([]float64{0.5, 0.5}, 0.03)
	if math.Abs(st.Return-0.055) > 1e-9 {
		t.Fatalf("return %v", st.Return)
	}
	wantVol := math.Sqrt(0.25*0.01+0.25*0.0025) * scale
	if math.Abs(st.Volatility-wantVol) > 1e-9 {
		t.Fatalf("vol %v want %v", st.Volatility, wantVol)
	}
	if math.Abs(st.SharpeRatio-(0.055-0.03)/wantVol) > 1e-6 {
		t.Fatalf("sharpe %v", st.SharpeRatio)
	}
}

func TestDegenerateFlat(t *testing.T) {
	a := patterned("AAA", 0.08, 0.10, []float64{1, -1}, 40)
	flat := patterned("FLAT", 0, 0, []float64{0}, 40)
	m, err := BuildReturnMatrix([]models.PriceSeries{a, flat}, 30)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	j, bad := Annualize(m, 252).Degenerate()
	if !bad || j != 1 {
		t.Fatalf("expected asset 1 degenerate, got %d %v", j, bad)
	}
}

func TestSharpeZeroVolatility(t *testing.T) {
	if Sharpe(0.05, 0, 0.03) != 0 {
		t.Fatalf("expected 0")
	}
}

func TestPortfolioReturns(t *testing.T) {
	a := patterned("AAA", 0.08, 0.10, []float64{1, -1}, 40)
	b := patterned("BBB", 0.03, 0.05, []float64{1, -1}, 40)
	m, err := BuildReturnMatrix([]models.PriceSeries{a, b}, 30)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := PortfolioReturns(m, []float64{1, 0})
	col := m.Column(0)
	for i := range p {
		if math.Abs(p[i]-col[i]) > 1e-15 {
			t.Fatalf("row %d: %v != %v", i, p[i], col[i])
		}
	}
}
