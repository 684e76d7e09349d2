package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	"QuantEngine/internal/services/optimizer"
	"QuantEngine/internal/services/stats"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/util"
)

type PortfolioConfig struct {
	LookbackDays    int
	MinObservations int
	// ComputeTimeout bounds a single optimization or frontier run; 0 disables it.
	ComputeTimeout time.Duration
}

// PortfolioService loads price history for a basket and runs the optimizer
// and frontier sampler on it.
type PortfolioService struct {
	cfg     PortfolioConfig
	prices  domrepo.PriceProvider
	opt     *optimizer.Optimizer
	runner  Runner
	metrics domrepo.Metrics
	events  domrepo.EventPublisher
	log     *applogger.Logger
}

type PortfolioOption func(*PortfolioService)

func WithPortfolioRunner(r Runner) PortfolioOption {
	return func(s *PortfolioService) {
		if r != nil {
			s.runner = r
		}
	}
}

func WithPortfolioMetrics(m domrepo.Metrics) PortfolioOption {
	return func(s *PortfolioService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithPortfolioEvents(p domrepo.EventPublisher) PortfolioOption {
	return func(s *PortfolioService) { s.events = p }
}

func NewPortfolioService(cfg PortfolioConfig, prices domrepo.PriceProvider, opt *optimizer.Optimizer, l *applogger.Logger, opts ...PortfolioOption) *PortfolioService {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 730
	}
	if cfg.MinObservations < 2 {
		cfg.MinObservations = 30
	}
	if l == nil {
		l = applogger.NewNop()
	}
	s := &PortfolioService{
		cfg:     cfg,
		prices:  prices,
		opt:     opt,
		runner:  inlineRunner{},
		metrics: nopMetrics{},
		log:     l.Component("portfolio"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// basket is the aligned return history of the symbols that had data.
type basket struct {
	matrix  *stats.ReturnMatrix
	sources map[string]string
	dropped []string
}

// load fetches all symbols concurrently and aligns the ones with data.
func (s *PortfolioService) load(ctx context.Context, raw []string) (*basket, error) {
	symbols := util.NormalizeSymbols(raw)
	if len(symbols) < 2 {
		return nil, fmt.Errorf("%w: need at least two valid symbols, got %d", models.ErrNotEnoughSymbols, len(symbols))
	}

	series := make([]models.PriceSeries, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			series[i] = s.prices.Fetch(ctx, sym, s.cfg.LookbackDays)
		}(i, sym)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &basket{sources: make(map[string]string, len(symbols))}
	kept := make([]models.PriceSeries, 0, len(series))
	for i, ps := range series {
		if ps.Len() < 2 {
			b.dropped = append(b.dropped, symbols[i])
			continue
		}
		ps.Symbol = symbols[i]
		kept = append(kept, ps)
		b.sources[symbols[i]] = ps.Source
	}
	if len(b.dropped) > 0 {
		s.log.Warn("symbols without price data", applogger.Strings("dropped", b.dropped))
	}
	if len(kept) < 2 {
		return nil, fmt.Errorf("%w: %s", models.ErrDataUnavailable, strings.Join(b.dropped, ", "))
	}

	m, err := stats.BuildReturnMatrix(kept, s.cfg.MinObservations)
	if err != nil {
		return nil, err
	}
	b.matrix = m
	return b, nil
}

func (s *PortfolioService) computeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ComputeTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.ComputeTimeout)
	}
	return context.WithCancel(ctx)
}

// Optimize returns optimal weights for req. Solver trouble yields an
// equal-weight result with Fallback set, not an error.
func (s *PortfolioService) Optimize(ctx context.Context, req models.OptimizationRequest) (models.OptimizationResult, error) {
	start := time.Now()
	b, err := s.load(ctx, req.Symbols)
	if err != nil {
		s.metrics.RecordError("optimize_input")
		return models.OptimizationResult{}, err
	}

	cctx, cancel := s.computeContext(ctx)
	defer cancel()

	var res models.OptimizationResult
	err = s.runner.Run(cctx, func(ctx context.Context) error {
		var err error
		res, err = s.opt.Optimize(ctx, b.matrix, req.RiskTolerance, req.TargetReturn)
		return err
	})
	if err != nil {
		s.metrics.RecordError("optimize")
		return models.OptimizationResult{}, err
	}

	res.Sources = b.sources
	res.Dropped = b.dropped
	if res.Fallback {
		s.metrics.RecordFallback(fallbackKind(res.FallbackReason))
	}
	s.metrics.RecordLatency("optimize", time.Since(start).Seconds())

	s.log.Info("portfolio optimized",
		applogger.Strings("symbols", res.Symbols),
		applogger.String("risk_tolerance", string(res.RiskTolerance)),
		applogger.Bool("fallback", res.Fallback),
		applogger.Float64("sharpe", res.PortfolioStats.SharpeRatio),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	publish(ctx, s.events, s.log, models.EventOptimizationCompleted, map[string]interface{}{
		"symbols":        res.Symbols,
		"weights":        res.Weights,
		"risk_tolerance": res.RiskTolerance,
		"fallback":       res.Fallback,
		"sharpe_ratio":   res.PortfolioStats.SharpeRatio,
	})
	return res, nil
}

func fallbackKind(reason string) string {
	if strings.HasPrefix(reason, "degenerate") {
		return "degenerate_covariance"
	}
	return "solver"
}

// Frontier samples count random long-only portfolios; count is clamped.
func (s *PortfolioService) Frontier(ctx context.Context, symbols []string, count int) (models.FrontierResult, error) {
	start := time.Now()
	b, err := s.load(ctx, symbols)
	if err != nil {
		s.metrics.RecordError("frontier_input")
		return models.FrontierResult{}, err
	}

	cctx, cancel := s.computeContext(ctx)
	defer cancel()

	var res models.FrontierResult
	err = s.runner.Run(cctx, func(ctx context.Context) error {
		var err error
		res, err = s.opt.Frontier(ctx, b.matrix, count)
		return err
	})
	if err != nil {
		s.metrics.RecordError("frontier")
		return models.FrontierResult{}, err
	}
	s.metrics.RecordLatency("frontier", time.Since(start).Seconds())
	return res, nil
}
