package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"QuantEngine/internal/domain/models"
	domrepo "QuantEngine/internal/domain/repository"
	pkgkafka "QuantEngine/pkg/kafka"
	"QuantEngine/pkg/util"
)

// BarsIngestHandler consumes daily bars from Kafka and stores them.
type BarsIngestHandler struct {
	topic   string
	store   domrepo.PriceStore
	metrics domrepo.Metrics
}

func NewBarsIngestHandler(topic string, store domrepo.PriceStore, metrics domrepo.Metrics) *BarsIngestHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &BarsIngestHandler{topic: topic, store: store, metrics: metrics}
}

func (h *BarsIngestHandler) Topic() string { return h.topic }

// incoming: one {symbol, date, close, volume, source} object or an array of them
type barMessage struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Source string  `json:"source"`
}

func (h *BarsIngestHandler) Handle(ctx context.Context, b []byte) error {
	msgs, err := decodeBars(b)
	if err != nil {
		h.metrics.RecordError("bars_unmarshal")
		return err
	}

	bars := make([]models.DailyBar, 0, len(msgs))
	for _, m := range msgs {
		d, ok := util.ParseTime(m.Date)
		sym := strings.ToUpper(strings.TrimSpace(m.Symbol))
		if !ok || sym == "" || m.Close <= 0 {
			h.metrics.RecordError("bars_invalid")
			continue
		}
		src := m.Source
		if src == "" {
			src = "kafka"
		}
		bars = append(bars, models.DailyBar{Symbol: sym, Date: models.DayOf(d), Close: m.Close, Volume: m.Volume, Source: src})
	}
	if len(bars) == 0 {
		return nil
	}

	start := time.Now()
	err = h.store.SaveBars(ctx, bars)
	h.metrics.RecordLatency("bars_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("bars_store")
		return fmt.Errorf("store bars: %w", err)
	}
	return nil
}

func decodeBars(b []byte) ([]barMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var out []barMessage
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		return out, nil
	}
	var one barMessage
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, fmt.Errorf("decode bar: %w", err)
	}
	return []barMessage{one}, nil
}

var _ pkgkafka.MessageHandler = (*BarsIngestHandler)(nil)
