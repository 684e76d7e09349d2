package api

import (
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/service/metrics"
	"QuantEngine/internal/services/pricing"
	"QuantEngine/internal/usecase"
	xhttp "QuantEngine/pkg/http"
	applogger "QuantEngine/pkg/logger"

	"github.com/labstack/echo/v4"
)

type PortfolioEchoHandler struct {
	logger *applogger.Logger
	svc    *usecase.PortfolioService
}

func NewPortfolioEchoHandler(l *applogger.Logger, svc *usecase.PortfolioService) *PortfolioEchoHandler {
	metrics.Register()
	if l == nil {
		l = applogger.NewNop()
	}
	return &PortfolioEchoHandler{logger: l.Component("portfolio_api"), svc: svc}
}

func (h *PortfolioEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/ml/portfolio")
	g.POST("/optimize", h.Optimize)
	g.POST("/frontier", h.Frontier)
}

func (h *PortfolioEchoHandler) Optimize(c echo.Context) error {
	const endpoint = "optimize"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.OptimizeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	risk, err := models.ParseRiskTolerance(req.RiskTolerance)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithField("risk_tolerance"))
	}

	ctx := pricing.WithAuthorization(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	res, err := h.svc.Optimize(ctx, models.OptimizationRequest{
		Symbols:       req.Symbols,
		RiskTolerance: risk,
		TargetReturn:  req.TargetReturn,
	})
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PortfolioEchoHandler) Frontier(c echo.Context) error {
	const endpoint = "frontier"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.FrontierRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}

	ctx := pricing.WithAuthorization(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	res, err := h.svc.Frontier(ctx, req.Symbols, req.NumPortfolios)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}
