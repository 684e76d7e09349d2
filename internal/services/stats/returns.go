package stats

import (
	"fmt"
	"math"
	"time"

	"QuantEngine/internal/domain/models"

	"gonum.org/v1/gonum/mat"
)

// ReturnMatrix holds simple daily returns, one column per symbol, on the
// dates every symbol traded. Dates[i] is the later day of return row i.
type ReturnMatrix struct {
	Symbols []string
	Dates   []time.Time
	Returns *mat.Dense
}

func (m *ReturnMatrix) Rows() int { return len(m.Dates) }

func (m *ReturnMatrix) Cols() int { return len(m.Symbols) }

// Column returns a copy of symbol j's returns.
func (m *ReturnMatrix) Column(j int) []float64 {
	return mat.Col(nil, j, m.Returns)
}

// SimpleReturns returns close[t]/close[t-1]-1 for t >= 1.
func SimpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out[i-1] = closes[i]/closes[i-1] - 1
	}
	return out
}

// BuildReturnMatrix aligns the series on their common dates and converts
// them to simple returns. Fewer than minRows aligned returns is
// ErrInsufficientHistory.
func BuildReturnMatrix(series []models.PriceSeries, minRows int) (*ReturnMatrix, error) {
	if len(series) == 0 {
		return nil, models.ErrDataUnavailable
	}

	common := make(map[time.Time]int)
	for _, s := range series {
		for _, p := range s.Points {
			common[p.Date]++
		}
	}
	var dates []time.Time
	for _, p := range series[0].Points {
		if common[p.Date] == len(series) {
			dates = append(dates, p.Date)
		}
	}

	rows := len(dates) - 1
	if rows < minRows || rows < 2 {
		return nil, fmt.Errorf("%w: %d aligned returns, need %d", models.ErrInsufficientHistory, max(rows, 0), minRows)
	}

	idx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		idx[d] = i
	}

	symbols := make([]string, len(series))
	data := mat.NewDense(rows, len(series), nil)
	for j, s := range series {
		symbols[j] = s.Symbol
		closes := make([]float64, len(dates))
		for _, p := range s.Points {
			if i, ok := idx[p.Date]; ok {
				closes[i] = p.Close
			}
		}
		for i, r := range SimpleReturns(closes) {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, fmt.Errorf("%w: non-finite return for %s", models.ErrInsufficientHistory, s.Symbol)
			}
			data.Set(i, j, r)
		}
	}

	return &ReturnMatrix{Symbols: symbols, Dates: dates[1:], Returns: data}, nil
}
