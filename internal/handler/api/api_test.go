package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuantEngine/internal/domain/models"
	"QuantEngine/internal/services/optimizer"
	"QuantEngine/internal/services/sentiment"
	"QuantEngine/internal/usecase"
	xhttp "QuantEngine/pkg/http"

	"github.com/labstack/echo/v4"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

type fakePrices map[string]models.PriceSeries

func (f fakePrices) Fetch(_ context.Context, symbol string, _ int) models.PriceSeries {
	return f[symbol]
}

func series(symbol string, n int, drift, swing float64) models.PriceSeries {
	pts := make([]models.PricePoint, n)
	price := 100.0
	for i := range pts {
		price *= 1 + drift + swing*math.Sin(float64(i))
		pts[i] = models.PricePoint{Date: day0.AddDate(0, 0, i), Close: price}
	}
	return models.NewPriceSeries(symbol, "test", pts)
}

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	prices := fakePrices{
		"AAA": series("AAA", 200, 0.0004, 0.01),
		"BBB": series("BBB", 200, 0.0002, 0.004),
	}
	portfolio := usecase.NewPortfolioService(usecase.PortfolioConfig{}, prices, optimizer.New(nil), nil)
	clf := sentiment.NewClassifier(sentiment.DefaultConfig(), prices, nil)
	sent := usecase.NewSentimentService(usecase.SentimentConfig{}, clf, nil)

	e := echo.New()
	for _, h := range []xhttp.Handler{
		NewPortfolioEchoHandler(nil, portfolio),
		NewSentimentEchoHandler(nil, sent, nil),
		NewMarketEchoHandler(nil, usecase.NewHistoryService(prices)),
		NewHealthHandler("quant-engine", "test", map[string]Check{
			"redis":      nil,
			"clickhouse": func(context.Context) error { return errors.New("connection refused") },
		}, clf.Trained, nil),
	} {
		h.RegisterRoutes(e)
	}
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (int, xhttp.APIResponse, json.RawMessage) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env struct {
		xhttp.APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, env.APIResponse, env.Data
}

func TestOptimizeEndpoint(t *testing.T) {
	e := newEcho(t)
	code, _, data := do(t, e, http.MethodPost, "/api/ml/portfolio/optimize", `{"symbols":["aaa","bbb"]}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, data)
	}
	var res models.OptimizationResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.RiskTolerance != models.RiskModerate || len(res.Weights) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	var sum float64
	for _, w := range res.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("weights sum to %v", sum)
	}
}

func TestOptimizeEndpointErrors(t *testing.T) {
	e := newEcho(t)
	cases := []struct {
		name, body, want string
	}{
		{"missing symbols", `{}`, "symbols required"},
		{"one symbol", `{"symbols":["AAA"]}`, "need at least two valid symbols"},
		{"no data", `{"symbols":["AAA","NOPE"]}`, "price data unavailable for symbols"},
		{"bad risk", `{"symbols":["AAA","BBB"],"risk_tolerance":"yolo"}`, "risk_tolerance must be one of"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp, _ := do(t, e, http.MethodPost, "/api/ml/portfolio/optimize", tc.body)
			if code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
			if !strings.Contains(resp.Message, tc.want) {
				t.Fatalf("message %q does not mention %q", resp.Message, tc.want)
			}
		})
	}
}

func TestFrontierEndpoint(t *testing.T) {
	e := newEcho(t)
	code, _, data := do(t, e, http.MethodPost, "/api/ml/portfolio/frontier", `{"symbols":["AAA","BBB"],"num_portfolios":10000}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var res models.FrontierResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Len() != 500 || len(res.SharpeRatios) != 500 {
		t.Fatalf("expected 500 portfolios, got %d", res.Len())
	}
}

func TestSentimentEndpointUntrained(t *testing.T) {
	e := newEcho(t)
	code, _, data := do(t, e, http.MethodGet, "/api/ml/market/sentiment/aaa", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var pred models.SentimentPrediction
	if err := json.Unmarshal(data, &pred); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pred.Symbol != "AAA" || pred.CombinedSentiment != models.SentimentNeutral || pred.Confidence != 0 {
		t.Fatalf("unexpected prediction %+v", pred)
	}

	code, _, _ = do(t, e, http.MethodGet, "/api/ml/market/sentiment/metrics", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for metrics before training, got %d", code)
	}
}

func TestTrainEndpointErrors(t *testing.T) {
	e := newEcho(t)
	code, resp, _ := do(t, e, http.MethodPost, "/api/ml/market/sentiment/train", `{"symbols":["AAA","BBB"]}`)
	if code != http.StatusBadRequest || !strings.Contains(resp.Message, "at least 3 symbols") {
		t.Fatalf("expected 400 for two symbols, got %d %q", code, resp.Message)
	}
	code, _, _ = do(t, e, http.MethodPost, "/api/ml/market/sentiment/train/async", `{"symbols":["AAA","BBB","CCC"]}`)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a queue, got %d", code)
	}
	code, _, _ = do(t, e, http.MethodGet, "/api/ml/market/sentiment/jobs/not-a-uuid", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed job id, got %d", code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newEcho(t)
	code, _, data := do(t, e, http.MethodGet, "/api/ml/market/history?symbol=aaa&days=90", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var s models.PriceSeries
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Symbol != "AAA" || s.Source != "test" || s.Len() != 200 {
		t.Fatalf("unexpected series %s/%s len %d", s.Symbol, s.Source, s.Len())
	}

	code, _, _ = do(t, e, http.MethodGet, "/api/ml/market/history?symbol=aaa&days=5", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for days below minimum, got %d", code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	e := newEcho(t)
	code, _, data := do(t, e, http.MethodGet, "/health", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with a failing dependency, got %d", code)
	}
	var st healthStatus
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "degraded" || st.Dependencies["clickhouse"] || st.Dependencies["redis"] || st.ModelTrained {
		t.Fatalf("unexpected health %+v", st)
	}

	code, _, data = do(t, e, http.MethodGet, "/", "")
	if code != http.StatusOK || !strings.Contains(string(data), "quant-engine") {
		t.Fatalf("unexpected root response %d %s", code, data)
	}
}

func TestToAppErrorCancellation(t *testing.T) {
	appErr, kind := toAppError(context.DeadlineExceeded)
	if appErr.Status != http.StatusServiceUnavailable || kind != "cancelled" {
		t.Fatalf("unexpected mapping %d %s", appErr.Status, kind)
	}
	appErr, _ = toAppError(models.ErrTrainingInProgress)
	if appErr.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", appErr.Status)
	}
	appErr, kind = toAppError(errors.New("boom"))
	if appErr.Status != http.StatusInternalServerError || kind != "internal" {
		t.Fatalf("expected 500, got %d", appErr.Status)
	}
}
