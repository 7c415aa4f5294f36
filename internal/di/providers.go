package di

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"FixedTime/internal/domain/repository"
	"FixedTime/internal/handler/api"
	mid "FixedTime/internal/middleware"
	internalrepo "FixedTime/internal/repository"
	"FixedTime/internal/service/connector"
	"FixedTime/internal/service/ratelimit"
	"FixedTime/internal/service/stream"
	"FixedTime/internal/services/ensemble"
	"FixedTime/internal/services/risk"
	"FixedTime/internal/services/strategy"
	"FixedTime/internal/usecase"
	"FixedTime/pkg/cache"
	pkgch "FixedTime/pkg/clickhouse"
	"FixedTime/pkg/config"
	xhttp "FixedTime/pkg/http"
	pkgkafka "FixedTime/pkg/kafka"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/metrics"
	"FixedTime/pkg/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// payoutCacheTTL keeps payout lookups from hitting the venue on every tick.
const payoutCacheTTL = time.Second

// ProvideKafkaProducer creates the shared Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	pkgkafka.SetMetricsRegisterer(reg)
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With Kafka enabled, error logs
// are aggregated and shipped to the alerts topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: 30 * time.Second,
			Topic:        cfg.Kafka.AlertsTopic,
			Publisher:    internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertsTopic),
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideStore opens the configured persistence backend.
func ProvideStore(cfg *config.Config, log *logger.Logger) (repository.Store, func(), error) {
	var (
		store repository.Store
		err   error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg := cfg.Storage.Postgres
		store, err = internalrepo.NewPostgresStore(internalrepo.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		}.DSN())
	default:
		store, err = internalrepo.NewSQLiteStore(cfg.Storage.SQLitePath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	log.Info("store ready", logger.String("driver", cfg.Storage.Driver))
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn("store close error", logger.Error(err))
		}
	}, nil
}

// ProvideCache returns Redis when enabled, otherwise the in-process cache. It
// backs the execution lock and the payout cache.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		c := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemoryMaxSize))
		return c, func() { _ = c.Close() }, nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 0, 0),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

func ProvideLocker(c cache.Service) repository.Locker {
	return c
}

// ProvideJobQueue keeps reconcile jobs in Redis when it is enabled so they
// survive a restart.
func ProvideJobQueue(cfg *config.Config, c cache.Service, log *logger.Logger) queue.Queue {
	qcfg := queue.Config{
		Workers:    cfg.Redis.Workers,
		RetryLimit: cfg.Redis.RetryLimit,
		RetryDelay: cfg.Redis.RetryDelay,
	}
	if rc, ok := c.(*cache.RedisCache); ok {
		return queue.NewRedisQueue(log, qcfg, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":jobs"))
	}
	return queue.NewMemoryQueue(log, qcfg)
}

func ProvideJobPublisher(q queue.Queue) repository.JobQueue {
	return q
}

// ProvideConnectorManager opens one session per account. Paper mode always
// uses the simulated venue.
func ProvideConnectorManager(cfg *config.Config, c cache.Service, log *logger.Logger) *connector.Manager {
	limiter := ratelimit.New(cfg.Connector.RateLimitPerAccount)
	useMock := cfg.Features.PaperMode || cfg.Connector.Type == "mock"

	factory := func(account string) (repository.Connector, error) {
		acct, ok := cfg.Account(account)
		if !ok {
			return nil, fmt.Errorf("unknown account %q", account)
		}
		if acct.Disabled {
			return nil, fmt.Errorf("account %q is disabled", account)
		}
		var inner repository.Connector
		if useMock {
			inner = connector.NewMock(connector.WithSeed(cfg.Connector.Seed + accountSeed(account)))
		} else {
			inner = connector.NewHTTPConnector(connector.HTTPConfig{
				BaseURL:  cfg.Connector.BaseURL,
				Account:  acct.ID,
				Username: acct.Username,
				Password: acct.Password,
				Timeout:  cfg.Connector.Timeout,
			}, limiter)
		}
		return connector.NewCached(inner, c, account, payoutCacheTTL), nil
	}
	return connector.NewManager(factory, log.With(logger.String("component", "connector")), cfg.Connector.HeartbeatInterval)
}

func accountSeed(account string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(account))
	return int64(h.Sum32())
}

func ProvideConnectorSource(m *connector.Manager) usecase.ConnectorSource {
	return m
}

func ProvideRiskEngine(cfg *config.Config) *risk.Engine {
	return newRiskEngine(cfg, []risk.GuardrailsOption{risk.WithKillSwitch(cfg.Guardrails.KillSwitch)})
}

// ProvideRiskFactory builds backtest engines with the live limits on a
// simulated clock. The kill switch is a live-only control.
func ProvideRiskFactory(cfg *config.Config) usecase.RiskFactory {
	return func(now func() time.Time) *risk.Engine {
		return newRiskEngine(cfg, []risk.GuardrailsOption{risk.WithGuardrailsClock(now)}, risk.WithClock(now))
	}
}

func newRiskEngine(cfg *config.Config, guardOpts []risk.GuardrailsOption, opts ...risk.Option) *risk.Engine {
	gopts := append([]risk.GuardrailsOption{
		risk.WithBreakerThreshold(cfg.Guardrails.CBConsecutiveLosses),
		risk.WithBreakerCooldown(cfg.Guardrails.CBCooldown),
	}, guardOpts...)
	return risk.NewEngine(risk.Limits{
		MaxDailyLoss:         cfg.Limits.MaxDailyLoss,
		MaxConsecutiveLosses: cfg.Limits.MaxConsecutiveLosses,
		CooldownBase:         cfg.Limits.CooldownBase,
		CooldownCap:          cfg.Limits.CooldownCap,
	}, risk.Sizing{
		Mode:        cfg.Amount.Mode,
		FixedAmount: cfg.Amount.FixedAmount,
		Fraction:    cfg.Amount.Fraction,
		KellyScale:  cfg.Amount.KellyScale,
		AMin:        cfg.Amount.AMin,
		ACap:        cfg.Amount.ACap,
	}, risk.NewGuardrails(gopts...), opts...)
}

func ProvideRiskGate(e *risk.Engine) usecase.RiskGate {
	return e
}

func ProvideEnsemble(cfg *config.Config) *ensemble.Ensemble {
	return ensemble.New(
		ensemble.WithSCap(cfg.Ensemble.SCap),
		ensemble.WithCalibration(cfg.Ensemble.A, cfg.Ensemble.B),
	)
}

func ProvideStrategyRegistry() *strategy.Registry {
	return strategy.NewDefaultRegistry()
}

func ProvideHub(log *logger.Logger) *stream.Hub {
	return stream.NewHub(log.With(logger.String("component", "ws")))
}

// ProvideClickHouseClient connects and creates the journal table, or returns
// nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithDialTimeout(cfg.ClickHouse.DialTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.JournalSchema(journalTable(cfg))); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func journalTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + ".decision_events"
}

func ProvideJournal(cfg *config.Config, client *pkgch.Client) *internalrepo.ClickHouseJournal {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseJournal(client, journalTable(cfg), cfg.ClickHouse.BatchSize)
}

// ProvideEventPipeline fans decision events out to the websocket hub and to
// Kafka and ClickHouse when they are enabled.
func ProvideEventPipeline(
	cfg *config.Config,
	hub *stream.Hub,
	producer *pkgkafka.Producer,
	journal *internalrepo.ClickHouseJournal,
	m repository.Metrics,
	log *logger.Logger,
) *mid.EventPipeline {
	opts := []mid.PipelineOption{
		mid.WithBufferSize(1024),
		mid.WithSinkTimeout(2 * time.Second),
		mid.WithSink("ws", hub),
	}
	if producer != nil {
		opts = append(opts, mid.WithSink("kafka", internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)))
	}
	if journal != nil {
		opts = append(opts, mid.WithSink("clickhouse", journal))
	}
	return mid.NewEventPipeline(log.With(logger.String("component", "events")), m, opts...)
}

func ProvideEventSink(p *mid.EventPipeline) usecase.EventSink {
	return p
}

func ProvideExecutor(
	cfg *config.Config,
	gate usecase.RiskGate,
	source usecase.ConnectorSource,
	store repository.Store,
	locker repository.Locker,
	jobs repository.JobQueue,
	events usecase.EventSink,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Executor {
	x := cfg.Executor
	return usecase.NewExecutor(usecase.ExecutorConfig{
		MaxSendAttempts:     x.MaxSendAttempts,
		SendBaseDelay:       x.SendBaseDelay,
		SendMaxDelay:        x.SendMaxDelay,
		JitterPercent:       x.JitterPercent,
		ConfirmInterval:     x.ConfirmInterval,
		ConfirmSlowInterval: x.ConfirmSlowInterval,
		ConfirmSlowAfter:    x.ConfirmSlowAfter,
		ConfirmTimeout:      x.ConfirmTimeout,
		PushCountsAsWin:     x.PushCountsAsWin,
		LockTTL:             x.LockTTL,
	}, gate, source, store, locker, m, log.With(logger.String("component", "executor")),
		usecase.WithReconcileQueue(jobs),
		usecase.WithEventSink(events),
	)
}

func ProvideReconciler(
	cfg *config.Config,
	store repository.Store,
	source usecase.ConnectorSource,
	gate usecase.RiskGate,
	events usecase.EventSink,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Reconciler {
	return usecase.NewReconciler(store, source, gate, m, log.With(logger.String("component", "reconciler")),
		cfg.Executor.PushCountsAsWin, events)
}

// ProvideWorkerFactory builds workers from per-product settings. Products
// without a strategy list run every registered provider.
func ProvideWorkerFactory(
	cfg *config.Config,
	source usecase.ConnectorSource,
	registry *strategy.Registry,
	ens *ensemble.Ensemble,
	exec *usecase.Executor,
	events usecase.EventSink,
	m repository.Metrics,
	log *logger.Logger,
) usecase.WorkerFactory {
	return func(key usecase.WorkerKey) (*usecase.Worker, error) {
		acct, ok := cfg.Account(key.Account)
		if !ok {
			return nil, fmt.Errorf("unknown account %q", key.Account)
		}
		providers, err := registry.BuildAll(cfg.StrategiesFor(key.Product))
		if err != nil {
			return nil, err
		}
		tf := cfg.TimeframeFor(key.Product, key.Timeframe)
		wcfg := usecase.WorkerConfig{
			Lookback:        cfg.Engine.Lookback,
			TickInterval:    cfg.Engine.TickInterval,
			Grace:           cfg.Engine.Grace,
			Jitter:          cfg.Engine.Jitter,
			MinCandles:      cfg.Engine.MinCandles,
			WinThreshold:    tf.WinThreshold,
			PermitMin:       tf.PermitMin,
			PermitMax:       tf.PermitMax,
			Balance:         acct.Balance,
			AutoThreshold:   cfg.Catalog.AutoThreshold,
			ThresholdMargin: cfg.Catalog.Margin,
		}
		return usecase.NewWorker(key, wcfg, source, providers, ens, exec, m, log,
			usecase.WithWorkerEvents(events)), nil
	}
}

// ConfiguredWorkers expands every enabled account against every configured
// product and timeframe.
func ConfiguredWorkers(cfg *config.Config) []usecase.WorkerKey {
	var keys []usecase.WorkerKey
	for _, a := range cfg.Accounts {
		if a.Disabled {
			continue
		}
		for _, p := range cfg.Products {
			for _, tf := range p.Timeframes {
				keys = append(keys, usecase.WorkerKey{Account: a.ID, Product: p.Product, Timeframe: tf.TF})
			}
		}
	}
	return keys
}

func ProvideScheduler(cfg *config.Config, factory usecase.WorkerFactory, m repository.Metrics, log *logger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(factory, ConfiguredWorkers(cfg), m, log.With(logger.String("component", "scheduler")))
}

// ProvideBacktester replays the configured worker pipeline over venue or
// supplied candles.
func ProvideBacktester(
	cfg *config.Config,
	factory usecase.WorkerFactory,
	source usecase.ConnectorSource,
	newRisk usecase.RiskFactory,
	log *logger.Logger,
) *usecase.Backtester {
	return usecase.NewBacktester(factory, source, newRisk, cfg.Executor.PushCountsAsWin,
		cfg.Engine.MaxBacktestBars, log.With(logger.String("component", "backtest")))
}

func ProvideOpsService(
	cfg *config.Config,
	s *usecase.Scheduler,
	engine *risk.Engine,
	ens *ensemble.Ensemble,
	registry *strategy.Registry,
	backtester *usecase.Backtester,
	log *logger.Logger,
) *usecase.OpsService {
	return usecase.NewOpsService(s, engine, ens, registry, log.With(logger.String("component", "ops")),
		usecase.WithMinCalibrationSamples(cfg.Ensemble.MinCalibrationSamples),
		usecase.WithBacktester(backtester))
}

// ProvideKafkaConsumer creates the ops command consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log.With(logger.String("component", "kafka")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(1),
		pkgkafka.WithConsumerRetry(3, 200*time.Millisecond, 2*time.Second),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.CommandsTopic+".dlq"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideControlHandler(cfg *config.Config, ops *usecase.OpsService, log *logger.Logger) *usecase.ControlHandler {
	return usecase.NewControlHandler(cfg.Kafka.CommandsTopic, ops, log.With(logger.String("component", "control")))
}

func ProvideOpsHandler(
	cfg *config.Config,
	ops *usecase.OpsService,
	store repository.Store,
	reconciler *usecase.Reconciler,
	hub *stream.Hub,
	log *logger.Logger,
) *api.OpsEchoHandler {
	return api.NewOpsEchoHandler(log, ops, store, reconciler, hub, ratelimit.New(cfg.Server.OpsRateLimit))
}

func ProvideHTTPServer(cfg *config.Config, h *api.OpsEchoHandler, reg *prometheus.Registry, log *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(log, []xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithPrometheus(reg, reg),
	)
}
