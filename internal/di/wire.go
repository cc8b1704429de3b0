//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinRisk/pkg/config"
	"FinRisk/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application with a
// cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideLogCollector,
		ProvideSnapshotCache,

		// Repositories
		ProvideHistoryStore,
		ProvidePriceStore,
		ProvidePositionStore,
		ProvideMarketData,
		ProvideScenarioStore,
		ProvideAlertPublisher,

		// Risk core
		ProvideVaRCalculator,
		ProvideStressEngine,
		ProvideMetricsAggregator,
		ProvideRiskGate,
		ProvideMonitoringEngine,
		ProvideJobRegistry,
		ProvideRiskService,

		// Intake
		ProvideKafkaConsumer,
		ProvidePositionsHandler,
		ProvideQuoteCollector,

		// HTTP and application
		ProvideRiskHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
