package models

import (
	"math"
	"sort"
	"time"
)

// PricePoint is one daily observation.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is an ascending, duplicate-free daily close history for one symbol.
// Build it with NewPriceSeries; treat it as read-only afterwards.
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Source string       `json:"source,omitempty"`
	Points []PricePoint `json:"points"`
}

// NewPriceSeries cleans pts and wraps them. pts is not modified.
func NewPriceSeries(symbol, source string, pts []PricePoint) PriceSeries {
	return PriceSeries{Symbol: symbol, Source: source, Points: CleanPoints(pts)}
}

func (s PriceSeries) Len() int { return len(s.Points) }

func (s PriceSeries) Empty() bool { return len(s.Points) == 0 }

func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Volume
	}
	return out
}

func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// Since returns the suffix of the series starting at from.
func (s PriceSeries) Since(from time.Time) PriceSeries {
	from = DayOf(from)
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Date.Before(from) })
	return PriceSeries{Symbol: s.Symbol, Source: s.Source, Points: s.Points[i:]}
}

// DayOf truncates t to midnight UTC of its calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CleanPoints normalizes dates to UTC days, drops rows with a missing or
// non-positive close, keeps the last row per day and sorts ascending.
func CleanPoints(pts []PricePoint) []PricePoint {
	if len(pts) == 0 {
		return nil
	}
	byDay := make(map[time.Time]int, len(pts))
	out := make([]PricePoint, 0, len(pts))
	for _, p := range pts {
		if p.Date.IsZero() || math.IsNaN(p.Close) || math.IsInf(p.Close, 0) || p.Close <= 0 {
			continue
		}
		if math.IsNaN(p.Volume) || math.IsInf(p.Volume, 0) || p.Volume < 0 {
			p.Volume = 0
		}
		p.Date = DayOf(p.Date)
		if i, ok := byDay[p.Date]; ok {
			out[i] = p
			continue
		}
		byDay[p.Date] = len(out)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// DailyBar is the ingestion and storage shape of one price point.
type DailyBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Source string    `json:"source,omitempty"`
}

// Bars flattens a series into storage rows.
func (s PriceSeries) Bars() []DailyBar {
	out := make([]DailyBar, len(s.Points))
	for i, p := range s.Points {
		out[i] = DailyBar{Symbol: s.Symbol, Date: p.Date, Close: p.Close, Volume: p.Volume, Source: s.Source}
	}
	return out
}
