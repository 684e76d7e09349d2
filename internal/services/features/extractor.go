package features

import (
	"math"
	"time"

	"QuantEngine/internal/domain/models"
)

const (
	RSIPeriod    = 14
	MACDFast     = 12
	MACDSlow     = 26
	MACDSignal   = 9
	VolWindow    = 20
	VolumeWindow = 20
)

// Indicators holds every technical indicator column for a price series.
type Indicators struct {
	Dates      []time.Time `json:"dates"`
	RSI        []float64   `json:"rsi"`
	MACD       []float64   `json:"macd"`
	MACDSignal []float64   `json:"macd_signal"`
	Change1d   []float64   `json:"price_change_1d"`
	Change5d   []float64   `json:"price_change_5d"`
	Change20d  []float64   `json:"price_change_20d"`
	Volatility []float64   `json:"volatility"`
	VolumeSMA  []float64   `json:"volume_sma"`
}

// Compute derives all indicators from a cleaned series.
func Compute(s models.PriceSeries) Indicators {
	closes := s.Closes()
	macd, signal := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	return Indicators{
		Dates:      s.Dates(),
		RSI:        RSI(closes, RSIPeriod),
		MACD:       macd,
		MACDSignal: signal,
		Change1d:   PctChange(closes, 1),
		Change5d:   PctChange(closes, 5),
		Change20d:  PctChange(closes, 20),
		Volatility: RollingStd(closes, VolWindow),
		VolumeSMA:  RollingMean(s.Volumes(), VolumeWindow),
	}
}

// row returns the classifier vector at i and whether every indicator,
// including the volume average, is defined there.
func (ind Indicators) row(i int) (models.FeatureRow, bool) {
	r := models.FeatureRow{
		Date: ind.Dates[i],
		Values: [models.NumFeatures]float64{
			ind.RSI[i], ind.MACD[i], ind.Change1d[i], ind.Change5d[i], ind.Change20d[i], ind.Volatility[i],
		},
	}
	for _, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return r, false
		}
	}
	if math.IsNaN(ind.MACDSignal[i]) || math.IsNaN(ind.VolumeSMA[i]) {
		return r, false
	}
	return r, true
}

// Rows returns one feature row per day with every indicator defined.
func (ind Indicators) Rows() []models.FeatureRow {
	out := make([]models.FeatureRow, 0, len(ind.Dates))
	for i := range ind.Dates {
		if r, ok := ind.row(i); ok {
			out = append(out, r)
		}
	}
	return out
}

// Latest returns the most recent complete feature row.
func Latest(s models.PriceSeries) (models.FeatureRow, bool) {
	ind := Compute(s)
	for i := len(ind.Dates) - 1; i >= 0; i-- {
		if r, ok := ind.row(i); ok {
			return r, true
		}
	}
	return models.FeatureRow{}, false
}

// Label classifies a forward return. Both bounds are exclusive: exactly
// ±threshold is neutral.
func Label(forwardReturn, threshold float64) models.SentimentLabel {
	switch {
	case forwardReturn > threshold:
		return models.SentimentPositive
	case forwardReturn < -threshold:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

// ForwardReturns is closes[t+h]/closes[t]-1, NaN for the last h days.
func ForwardReturns(closes []float64, horizon int) []float64 {
	out := nanSlice(len(closes))
	for i := 0; i+horizon < len(closes); i++ {
		out[i] = closes[i+horizon]/closes[i] - 1
	}
	return out
}

// LabeledRows pairs each complete feature row with the label of its
// forward return over horizon days. Days without a forward return are dropped.
func LabeledRows(s models.PriceSeries, horizon int, threshold float64) ([]models.FeatureRow, []models.SentimentLabel) {
	ind := Compute(s)
	fwd := ForwardReturns(s.Closes(), horizon)
	rows := make([]models.FeatureRow, 0, len(fwd))
	labels := make([]models.SentimentLabel, 0, len(fwd))
	for i := range ind.Dates {
		if math.IsNaN(fwd[i]) {
			continue
		}
		r, ok := ind.row(i)
		if !ok {
			continue
		}
		rows = append(rows, r)
		labels = append(labels, Label(fwd[i], threshold))
	}
	return rows, labels
}
