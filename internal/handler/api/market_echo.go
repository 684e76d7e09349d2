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

type MarketEchoHandler struct {
	logger *applogger.Logger
	svc    *usecase.HistoryService
}

func NewMarketEchoHandler(l *applogger.Logger, svc *usecase.HistoryService) *MarketEchoHandler {
	metrics.Register()
	if l == nil {
		l = applogger.NewNop()
	}
	return &MarketEchoHandler{logger: l.Component("market_api"), svc: svc}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/ml/market/history", h.History)
}

func (h *MarketEchoHandler) History(c echo.Context) error {
	const endpoint = "history"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	ctx := pricing.WithAuthorization(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	series, err := h.svc.History(ctx, req.Symbol, req.Days)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=300")
	return xhttp.SuccessResponse(c, series)
}
