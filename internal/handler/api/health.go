package api

import (
	"context"
	"net/http"
	"time"

	xhttp "QuantEngine/pkg/http"

	"github.com/labstack/echo/v4"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	service string
	version string
	checks  map[string]Check
	trained func() bool
	hub     http.Handler
	timeout time.Duration
}

// NewHealthHandler serves / and /health. A nil Check marks a dependency
// that is configured off. hub, when set, is mounted at /ws/events.
func NewHealthHandler(service, version string, checks map[string]Check, trained func() bool, hub http.Handler) *HealthHandler {
	return &HealthHandler{
		service: service,
		version: version,
		checks:  checks,
		trained: trained,
		hub:     hub,
		timeout: 2 * time.Second,
	}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	if h.hub != nil {
		e.GET("/ws/events", echo.WrapHandler(h.hub))
	}
}

func (h *HealthHandler) Root(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{
		"name":    h.service,
		"version": h.version,
		"status":  "running",
	})
}

type healthStatus struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Dependencies map[string]bool   `json:"dependencies"`
	Errors       map[string]string `json:"errors,omitempty"`
	ModelTrained bool              `json:"model_trained"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Health pings every enabled dependency. Any failure degrades the status
// and answers 503.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	st := healthStatus{
		Status:       "healthy",
		Service:      h.service,
		Dependencies: make(map[string]bool, len(h.checks)),
		Timestamp:    time.Now().UTC(),
	}
	if h.trained != nil {
		st.ModelTrained = h.trained()
	}
	for name, check := range h.checks {
		if check == nil {
			st.Dependencies[name] = false
			continue
		}
		if err := check(ctx); err != nil {
			st.Dependencies[name] = false
			st.Status = "degraded"
			if st.Errors == nil {
				st.Errors = map[string]string{}
			}
			st.Errors[name] = err.Error()
			continue
		}
		st.Dependencies[name] = true
	}

	code := http.StatusOK
	if st.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, code, st)
}
