package optimizer

import (
	"context"
	"fmt"
	"math"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/services/stats"
	applogger "QuantEngine/pkg/logger"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// targetPenalty weighs the squared return gap when a target return is set.
const targetPenalty = 1e4

const stationaryTol = 1e-6

// Optimizer solves long-only, fully invested mean-variance problems.
type Optimizer struct {
	cfg Config
	log *applogger.Logger
}

func New(l *applogger.Logger, opts ...Option) *Optimizer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Optimizer{cfg: cfg, log: l.Component("optimizer")}
}

func (o *Optimizer) Config() Config { return o.cfg }

// Optimize finds weights for the assets in m. Without a target return it
// maximizes the risk-adjusted Sharpe objective; with one it minimizes
// volatility at that return. A solver that does not converge, or a
// covariance with a zero-variance asset, yields the equal-weight fallback
// rather than an error. Only context errors are returned.
func (o *Optimizer) Optimize(ctx context.Context, m *stats.ReturnMatrix, risk models.RiskTolerance, target *float64) (models.OptimizationResult, error) {
	mo := stats.Annualize(m, o.cfg.TradingDays)
	res := models.OptimizationResult{
		Symbols:       m.Symbols,
		RiskTolerance: risk,
		TargetReturn:  target,
		Observations:  m.Rows(),
		GeneratedAt:   time.Now().UTC(),
	}

	if j, bad := mo.Degenerate(); bad {
		return o.fallback(res, mo, fmt.Sprintf("degenerate covariance: %s has zero variance", m.Symbols[j])), nil
	}

	w, err := o.solve(ctx, mo, risk, target)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.OptimizationResult{}, ctxErr
	}
	if err != nil {
		o.log.Warn("solver fallback", applogger.Strings("symbols", m.Symbols), applogger.Error(err))
		return o.fallback(res, mo, err.Error()), nil
	}

	res.PortfolioStats = mo.Stats(w, o.cfg.RiskFreeRate)
	res.RiskMetrics = RiskMetrics(stats.PortfolioReturns(m, w), o.cfg.TradingDays)
	res.RiskLevel = models.RiskLevel(res.PortfolioStats.Volatility)
	res.Weights, res.AssetStats = assetBreakdown(m.Symbols, w, mo)
	return res, nil
}

func (o *Optimizer) fallback(res models.OptimizationResult, mo stats.Moments, reason string) models.OptimizationResult {
	n := len(res.Symbols)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	res.Fallback = true
	res.FallbackReason = reason
	res.PortfolioStats = models.PortfolioStats{}
	res.RiskMetrics = models.RiskMetrics{}
	res.RiskLevel = models.RiskLevel(0)
	res.Weights, res.AssetStats = assetBreakdown(res.Symbols, w, mo)
	return res
}

func assetBreakdown(symbols []string, w []float64, mo stats.Moments) (map[string]float64, map[string]models.AssetStats) {
	weights := make(map[string]float64, len(symbols))
	assets := make(map[string]models.AssetStats, len(symbols))
	for i, s := range symbols {
		weights[s] = w[i]
		assets[s] = models.AssetStats{
			Weight:         w[i],
			ExpectedReturn: mo.Mean[i],
			Volatility:     mo.Vol[i],
		}
	}
	return weights, assets
}

// objective is minimized over an unconstrained vector x. Weights are
// w = x²/Σx², which keeps 0 ≤ w ≤ 1 and Σw = 1 for every x.
type objective struct {
	ctx    context.Context
	mo     stats.Moments
	rf     float64
	m      float64
	volBar float64
	target *float64

	w  []float64
	gw []float64
	sw *mat.VecDense
}

func (o *Optimizer) newObjective(ctx context.Context, mo stats.Moments, risk models.RiskTolerance, target *float64) *objective {
	n := len(mo.Mean)
	return &objective{
		ctx:    ctx,
		mo:     mo,
		rf:     o.cfg.RiskFreeRate,
		m:      risk.Multiplier(),
		volBar: floats.Sum(mo.Vol) / float64(n),
		target: target,
		w:      make([]float64, n),
		gw:     make([]float64, n),
		sw:     mat.NewVecDense(n, nil),
	}
}

// Func: with a target, σ + λ·(R−target)². Otherwise −m·Sharpe + (1−m)·σ/σ̄,
// where σ̄ is the mean single-asset volatility. m < 1 pulls the optimum
// toward lower risk, m > 1 toward higher return and m = 1 is max-Sharpe.
func (ob *objective) Func(x []float64) float64 {
	if ob.ctx.Err() != nil || !toWeights(ob.w, x) {
		return math.Inf(1)
	}
	ret := ob.mo.Return(ob.w)
	vol := ob.mo.Volatility(ob.w)
	if ob.target != nil {
		gap := ret - *ob.target
		return vol + targetPenalty*gap*gap
	}
	return -ob.m*stats.Sharpe(ret, vol, ob.rf) + (1-ob.m)*vol/ob.volBar
}

// Grad maps the weight-space gradient g through w = x²/s:
// ∂f/∂x_i = (2x_i/s)·(g_i − Σ_j w_j g_j).
func (ob *objective) Grad(grad, x []float64) {
	if !toWeights(ob.w, x) {
		fd.Gradient(grad, ob.Func, x, &fd.Settings{Formula: fd.Central})
		return
	}
	mu := ob.mo.Mean
	ob.sw.MulVec(ob.mo.Cov, mat.NewVecDense(len(ob.w), ob.w))
	ret := ob.mo.Return(ob.w)
	vol := ob.mo.Volatility(ob.w)
	if vol <= 1e-15 {
		fd.Gradient(grad, ob.Func, x, &fd.Settings{Formula: fd.Central})
		return
	}

	for i := range ob.gw {
		dVol := ob.sw.AtVec(i) / vol
		if ob.target != nil {
			ob.gw[i] = dVol + 2*targetPenalty*(ret-*ob.target)*mu[i]
			continue
		}
		dSharpe := mu[i]/vol - (ret-ob.rf)*dVol/vol
		ob.gw[i] = -ob.m*dSharpe + (1-ob.m)*dVol/ob.volBar
	}

	var s float64
	for _, v := range x {
		s += v * v
	}
	avg := floats.Dot(ob.w, ob.gw)
	for i := range grad {
		grad[i] = 2 * x[i] / s * (ob.gw[i] - avg)
	}
}

// stationary reports whether x is a usable optimum even though the method
// stopped without a convergence status, e.g. a line search failing on a
// flat objective.
func (ob *objective) stationary(x []float64) bool {
	if f := ob.Func(x); math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	g := make([]float64, len(x))
	ob.Grad(g, x)
	return floats.Norm(g, math.Inf(1)) <= stationaryTol
}

func toWeights(dst, x []float64) bool {
	var sum float64
	for i, v := range x {
		dst[i] = v * v
		sum += dst[i]
	}
	if sum <= 1e-300 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return false
	}
	floats.Scale(1/sum, dst)
	return true
}

func accepted(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.MethodConverge, optimize.StepConvergence:
		return true
	}
	return false
}

// solve tries BFGS, then Nelder-Mead, both from equal weights.
func (o *Optimizer) solve(ctx context.Context, mo stats.Moments, risk models.RiskTolerance, target *float64) ([]float64, error) {
	n := len(mo.Mean)
	ob := o.newObjective(ctx, mo, risk, target)

	x0 := make([]float64, n)
	for i := range x0 {
		x0[i] = 1
	}
	if f0 := ob.Func(x0); math.IsNaN(f0) || math.IsInf(f0, 0) {
		return nil, fmt.Errorf("%w: objective not finite at equal weights", models.ErrSolverFailed)
	}

	problem := optimize.Problem{Func: ob.Func, Grad: ob.Grad}

	settings := &optimize.Settings{MajorIterations: o.cfg.MaxIterations, GradientThreshold: 1e-9}
	if deadline, ok := ctx.Deadline(); ok {
		settings.Runtime = time.Until(deadline)
	}

	attempts := []struct {
		name   string
		method optimize.Method
		s      *optimize.Settings
	}{
		{"bfgs", &optimize.BFGS{}, settings},
		{"nelder-mead", &optimize.NelderMead{}, &optimize.Settings{FuncEvaluations: 200 * o.cfg.MaxIterations, Runtime: settings.Runtime}},
	}

	var lastErr error
	for _, a := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result, err := optimize.Minimize(problem, x0, a.s, a.method)
		if result == nil || !(err == nil && accepted(result.Status) || ob.stationary(result.X)) {
			lastErr = describeFailure(a.name, result, err)
			o.log.Debug("solver attempt failed", applogger.String("method", a.name), applogger.Error(lastErr))
			continue
		}
		w := make([]float64, n)
		if !toWeights(w, result.X) || math.IsNaN(result.F) {
			lastErr = fmt.Errorf("%w: %s produced invalid weights", models.ErrSolverFailed, a.name)
			continue
		}
		o.roundWeights(w)
		if target != nil {
			if gap := math.Abs(mo.Return(w) - *target); gap > o.cfg.TargetTolerance {
				return nil, fmt.Errorf("%w: target return %.4f not attainable (closest %.4f)",
					models.ErrSolverFailed, *target, mo.Return(w))
			}
		}
		return w, nil
	}
	return nil, lastErr
}

func describeFailure(method string, result *optimize.Result, err error) error {
	switch {
	case err != nil:
		return fmt.Errorf("%w: %s: %v", models.ErrSolverFailed, method, err)
	case result == nil:
		return fmt.Errorf("%w: %s returned no result", models.ErrSolverFailed, method)
	default:
		return fmt.Errorf("%w: %s did not converge (%s)", models.ErrSolverFailed, method, result.Status)
	}
}

// roundWeights zeroes weights below MinWeight and renormalizes.
func (o *Optimizer) roundWeights(w []float64) {
	for i, v := range w {
		if v < o.cfg.MinWeight {
			w[i] = 0
		}
	}
	if s := floats.Sum(w); s > 0 {
		floats.Scale(1/s, w)
	}
}
