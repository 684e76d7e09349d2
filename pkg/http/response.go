package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the standard envelope with the given status code.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

// BadRequestResponse writes validation errors.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	msg := http.StatusText(http.StatusBadRequest)
	if len(errs) > 0 && errs[0].Message != "" {
		msg = errs[0].Message
	}
	return c.JSON(http.StatusBadRequest, APIResponse{
		Status:  http.StatusBadRequest,
		Message: msg,
		Data:    errs,
	})
}

func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes an AppError found in err's chain, or a generic 500.
// The envelope message carries the error message so clients see the cause.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.JSON(appErr.Status, APIResponse{
			Status:  appErr.Status,
			Message: appErr.Message,
			Data:    []*AppError{appErr},
		})
	}
	return InternalServerErrorResponse(c)
}
