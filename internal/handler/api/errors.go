package api

import (
	"context"
	"errors"

	"QuantEngine/internal/domain/models"
	mid "QuantEngine/internal/middleware"
	"QuantEngine/internal/service/metrics"
	xhttp "QuantEngine/pkg/http"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/queue"

	"github.com/labstack/echo/v4"
)

// toAppError maps domain errors onto HTTP errors.
func toAppError(err error) (*xhttp.AppError, string) {
	switch {
	case errors.Is(err, models.ErrNotEnoughSymbols),
		errors.Is(err, models.ErrDataUnavailable),
		errors.Is(err, models.ErrInsufficientHistory),
		errors.Is(err, models.ErrInsufficientTrainingData),
		errors.Is(err, models.ErrSolverFailed):
		return xhttp.BadRequestError(err.Error()).WithError(err), "input"
	case errors.Is(err, models.ErrTrainingInProgress):
		return xhttp.ConflictError(err.Error()), "conflict"
	case errors.Is(err, queue.ErrJobNotFound):
		return xhttp.NotFoundError("job not found"), "not_found"
	case errors.Is(err, models.ErrQueueUnavailable), errors.Is(err, mid.ErrPoolClosed):
		return xhttp.ServiceUnavailableError(err.Error()).WithError(err), "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.ServiceUnavailableError("request cancelled").WithError(err), "cancelled"
	default:
		return xhttp.InternalError("internal error").WithError(err), "internal"
	}
}

// fail logs err, counts it for endpoint and writes the error envelope.
func fail(c echo.Context, l *applogger.Logger, endpoint string, err error) error {
	appErr, kind := toAppError(err)
	metrics.EndpointErrors.WithLabelValues(endpoint, kind).Inc()
	if kind == "internal" {
		l.Error(endpoint+" failed", applogger.Error(err))
	} else {
		l.Warn(endpoint+" rejected", applogger.String("kind", kind), applogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func invalid(c echo.Context, endpoint string, errs []xhttp.ValidationError) error {
	metrics.EndpointErrors.WithLabelValues(endpoint, "validation").Inc()
	return xhttp.BadRequestResponse(c, errs)
}
