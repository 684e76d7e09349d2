package di

import (
	"testing"

	"QuantEngine/internal/repository"
	"QuantEngine/internal/service/events"
	"QuantEngine/internal/service/ratelimit"
	"QuantEngine/pkg/config"
	applogger "QuantEngine/pkg/logger"
	"QuantEngine/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDisabledInfrastructureIsNil(t *testing.T) {
	cfg := config.Default()
	l := applogger.NewNop()

	store, err := ProvidePriceStore(cfg, nil, l)
	if err != nil || store != nil {
		t.Fatalf("store = %v, %v", store, err)
	}
	if q := ProvideQueue(cfg, nil, l); q != nil {
		t.Fatalf("queue without redis")
	}
	consumer, err := ProvideKafkaConsumer(cfg, nil, nil, l)
	if err != nil || consumer != nil {
		t.Fatalf("consumer = %v, %v", consumer, err)
	}
	producer, cleanup, err := ProvideKafkaProducer(cfg)
	if err != nil || producer != nil {
		t.Fatalf("producer = %v, %v", producer, err)
	}
	cleanup()
}

func TestPriceChainSkipsDisabledSources(t *testing.T) {
	cfg := config.Default()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	chain, err := ProvidePriceChain(cfg, nil, m, ratelimit.New(), applogger.NewNop())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	got := chain.Sources()
	if len(got) != 2 || got[0] != "backend" || got[1] != "yahoo" {
		t.Fatalf("sources = %v", got)
	}

	cfg.Pricing.AlphaVantage.APIKey = "demo"
	chain, err = ProvidePriceChain(cfg, nil, m, ratelimit.New(), applogger.NewNop())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if got := chain.Sources(); len(got) != 3 || got[2] != "alphavantage" {
		t.Fatalf("sources = %v", got)
	}
}

func TestEventPublisherWithoutKafka(t *testing.T) {
	cfg := config.Default()
	hub := events.NewHub(applogger.NewNop())
	defer hub.Close()

	pub, ok := ProvideEventPublisher(cfg, hub, nil).(repository.FanoutPublisher)
	if !ok || len(pub) != 1 {
		t.Fatalf("publisher = %#v", pub)
	}
}
