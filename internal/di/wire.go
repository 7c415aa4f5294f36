//go:build wireinject
// +build wireinject

package di

import (
	"FixedTime/pkg/config"
	"FixedTime/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,
		ProvideKafkaProducer,
		ProvideLogger,

		// Infrastructure
		ProvideStore,
		ProvideCache,
		ProvideLocker,
		ProvideJobQueue,
		ProvideJobPublisher,
		ProvideClickHouseClient,
		ProvideJournal,
		ProvideKafkaConsumer,
		ProvideConnectorManager,
		ProvideConnectorSource,

		// Decision and risk
		ProvideRiskEngine,
		ProvideRiskGate,
		ProvideRiskFactory,
		ProvideEnsemble,
		ProvideStrategyRegistry,

		// Events
		ProvideHub,
		ProvideEventPipeline,
		ProvideEventSink,

		// Use cases
		ProvideExecutor,
		ProvideReconciler,
		ProvideWorkerFactory,
		ProvideScheduler,
		ProvideBacktester,
		ProvideOpsService,
		ProvideControlHandler,

		// Transport
		ProvideOpsHandler,
		ProvideHTTPServer,

		// Application
		wire.Struct(new(server.Components), "*"),
		server.New,
	)
	return nil, nil, nil
}
