package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"QuantEngine/internal/domain/models"
	apphttp "QuantEngine/pkg/http"
	"QuantEngine/pkg/util"
)

// BackendSource reads history from the internal backend API.
type BackendSource struct {
	baseURL string
	token   string
	client  *apphttp.Client
}

func NewBackendSource(baseURL, token string, client *apphttp.Client) *BackendSource {
	if client == nil {
		client = apphttp.NewClient()
	}
	return &BackendSource{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (b *BackendSource) Name() string { return SourceBackend }

func (b *BackendSource) Fetch(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	req := &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    b.baseURL + "/enhanced-features/market/history",
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"start":  {from.Format("2006-01-02")},
			"end":    {to.Format("2006-01-02")},
		},
	}
	if auth := authorizationFrom(ctx, b.token); auth != "" {
		req.Headers = map[string]string{"Authorization": auth}
	}

	var raw []byte
	if err := b.client.SendAndParse(ctx, req, &raw); err != nil {
		return models.PriceSeries{}, err
	}
	pts, err := parseBackendRows(raw)
	if err != nil {
		return models.PriceSeries{}, err
	}
	if len(pts) == 0 {
		return models.PriceSeries{}, ErrNoData
	}
	return models.PriceSeries{Symbol: symbol, Source: SourceBackend, Points: pts}, nil
}

type authKey struct{}

// WithAuthorization carries the caller's Authorization header to the
// backend source for the lifetime of ctx.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, header)
}

func authorizationFrom(ctx context.Context, fallback string) string {
	if v, ok := ctx.Value(authKey{}).(string); ok && v != "" {
		return v
	}
	return fallback
}

type backendRow map[string]json.RawMessage

// parseBackendRows accepts {"data":[...]} or a bare array. Rows use
// date|Date, close|Close and volume|Volume; rows without a date or close
// are skipped.
func parseBackendRows(raw []byte) ([]models.PricePoint, error) {
	raw = bytes.TrimSpace(raw)
	var rows []backendRow
	switch {
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode backend rows: %w", err)
		}
	default:
		var env struct {
			Data []backendRow `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode backend envelope: %w", err)
		}
		rows = env.Data
	}

	pts := make([]models.PricePoint, 0, len(rows))
	for _, r := range rows {
		date, ok := r.str("date", "Date")
		if !ok {
			continue
		}
		t, ok := util.ParseTime(date)
		if !ok {
			continue
		}
		cl, ok := r.num("close", "Close")
		if !ok {
			continue
		}
		vol, _ := r.num("volume", "Volume")
		pts = append(pts, models.PricePoint{Date: t, Close: cl, Volume: vol})
	}
	return pts, nil
}

func (r backendRow) str(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s, true
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

func (r backendRow) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
