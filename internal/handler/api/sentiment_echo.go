package api

import (
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/service/metrics"
	"QuantEngine/internal/service/ratelimit"
	"QuantEngine/internal/services/pricing"
	"QuantEngine/internal/usecase"
	xhttp "QuantEngine/pkg/http"
	applogger "QuantEngine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Training is expensive; each client may start a few runs, refilled slowly.
const (
	trainBurst  = 3
	trainRefill = 1.0 / 60
)

type SentimentEchoHandler struct {
	logger *applogger.Logger
	svc    *usecase.SentimentService
	rl     *ratelimit.Limiter
}

func NewSentimentEchoHandler(l *applogger.Logger, svc *usecase.SentimentService, rl *ratelimit.Limiter) *SentimentEchoHandler {
	metrics.Register()
	if l == nil {
		l = applogger.NewNop()
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &SentimentEchoHandler{logger: l.Component("sentiment_api"), svc: svc, rl: rl}
}

func (h *SentimentEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/ml/market/sentiment")
	g.GET("/metrics", h.Metrics)
	g.POST("/train", h.Train)
	g.POST("/train/async", h.TrainAsync)
	g.GET("/jobs/:id", h.Job)
	g.GET("/:symbol", h.Predict)
}

func (h *SentimentEchoHandler) Predict(c echo.Context) error {
	const endpoint = "sentiment"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.SentimentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	ctx := pricing.WithAuthorization(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	pred, err := h.svc.Predict(ctx, req.Symbol)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, pred)
}

func (h *SentimentEchoHandler) allowTraining(c echo.Context) bool {
	return h.rl.Allow("train:"+c.RealIP(), trainBurst, trainRefill)
}

func (h *SentimentEchoHandler) Train(c echo.Context) error {
	const endpoint = "sentiment_train"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	if !h.allowTraining(c) {
		metrics.EndpointErrors.WithLabelValues(endpoint, "rate_limited").Inc()
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many training requests"))
	}
	ctx := pricing.WithAuthorization(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
	m, err := h.svc.Train(ctx, req.Symbols)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *SentimentEchoHandler) TrainAsync(c echo.Context) error {
	const endpoint = "sentiment_train_async"
	defer metrics.Observe(endpoint, time.Now())

	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	if !h.allowTraining(c) {
		metrics.EndpointErrors.WithLabelValues(endpoint, "rate_limited").Inc()
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many training requests"))
	}
	id, err := h.svc.EnqueueTraining(c.Request().Context(), req.Symbols)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.AcceptedResponse(c, map[string]string{"job_id": id})
}

func (h *SentimentEchoHandler) Job(c echo.Context) error {
	const endpoint = "sentiment_job"
	req := &models.JobStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	st, err := h.svc.JobStatus(c.Request().Context(), req.ID)
	if err != nil {
		return fail(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SentimentEchoHandler) Metrics(c echo.Context) error {
	m, ok := h.svc.Metrics()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("sentiment model not trained"))
	}
	return xhttp.SuccessResponse(c, m)
}
