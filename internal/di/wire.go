//go:build wireinject
// +build wireinject

package di

import (
	"QuantEngine/pkg/config"
	"QuantEngine/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application
// with a cleanup that releases infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideRedisClient,
		ProvideCache,

		// Repositories
		ProvidePriceStore,
		ProvideEventsHub,
		ProvideEventPublisher,
		ProvideQueue,

		// Engine services
		ProvideRateLimiter,
		ProvidePriceChain,
		ProvideComputePool,
		ProvideOptimizer,
		ProvideClassifier,

		// Use cases
		ProvidePortfolioService,
		ProvideSentimentService,
		ProvideHistoryService,
		ProvideKafkaConsumer,

		// Transport
		ProvideHandlers,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
