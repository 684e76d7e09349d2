package models

import (
	"fmt"
	"strings"
	"time"
)

type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// Multiplier scales the Sharpe term of the optimization objective.
func (r RiskTolerance) Multiplier() float64 {
	switch r {
	case RiskConservative:
		return 0.5
	case RiskAggressive:
		return 1.5
	default:
		return 1.0
	}
}

// ParseRiskTolerance maps an empty value to moderate.
func ParseRiskTolerance(s string) (RiskTolerance, error) {
	switch r := RiskTolerance(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RiskModerate, nil
	case RiskConservative, RiskModerate, RiskAggressive:
		return r, nil
	default:
		return "", fmt.Errorf("unknown risk tolerance %q", s)
	}
}

type OptimizationRequest struct {
	Symbols       []string
	RiskTolerance RiskTolerance
	TargetReturn  *float64
}

type PortfolioStats struct {
	Return      float64 `json:"return"`
	Volatility  float64 `json:"volatility"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

type AssetStats struct {
	Weight         float64 `json:"weight"`
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
}

type RiskMetrics struct {
	VaR95             float64 `json:"var_95"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	DownsideDeviation float64 `json:"downside_deviation"`
}

type OptimizationResult struct {
	Symbols        []string              `json:"symbols"`
	Weights        map[string]float64    `json:"weights"`
	PortfolioStats PortfolioStats        `json:"portfolio_stats"`
	AssetStats     map[string]AssetStats `json:"asset_stats"`
	RiskMetrics    RiskMetrics           `json:"risk_metrics"`
	RiskTolerance  RiskTolerance         `json:"risk_tolerance"`
	RiskLevel      string                `json:"risk_level"`
	TargetReturn   *float64              `json:"target_return,omitempty"`
	Fallback       bool                  `json:"fallback"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
	Observations   int                   `json:"observations"`
	Sources        map[string]string     `json:"sources,omitempty"`
	Dropped        []string              `json:"dropped_symbols,omitempty"`
	GeneratedAt    time.Time             `json:"generated_at"`
}

// RiskLevel buckets an annualized volatility.
func RiskLevel(vol float64) string {
	switch {
	case vol < 0.10:
		return "low"
	case vol < 0.20:
		return "medium"
	default:
		return "high"
	}
}

type FrontierResult struct {
	Symbols      []string    `json:"symbols"`
	Returns      []float64   `json:"returns"`
	Volatilities []float64   `json:"volatilities"`
	SharpeRatios []float64   `json:"sharpe_ratios"`
	Weights      [][]float64 `json:"weights"`
	Seed         int64       `json:"seed"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

func (f FrontierResult) Len() int { return len(f.Returns) }
