package http

import "github.com/labstack/echo/v4"

// Handler registers one group of engine routes on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
