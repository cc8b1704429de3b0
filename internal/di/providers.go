package di

import (
	"context"
	"fmt"
	"time"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/domain/repository"
	"FinRisk/internal/handler/api"
	internalrepo "FinRisk/internal/repository"
	"FinRisk/internal/service/cache"
	"FinRisk/internal/service/finnhub"
	"FinRisk/internal/services/stress"
	"FinRisk/internal/services/valueatrisk"
	"FinRisk/internal/usecase"
	pkgch "FinRisk/pkg/clickhouse"
	"FinRisk/pkg/config"
	xhttp "FinRisk/pkg/http"
	pkgkafka "FinRisk/pkg/kafka"
	applogger "FinRisk/pkg/logger"
	"FinRisk/pkg/metrics"
	"FinRisk/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse and creates the risk tables.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.RiskSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))

	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

func ProvideHistoryStore(ch *pkgch.Client, l *applogger.Logger) repository.HistoryStore {
	return internalrepo.NewCHHistoryStore(ch, l)
}

func ProvidePriceStore() *internalrepo.MemoryPriceStore {
	return internalrepo.NewMemoryPriceStore()
}

func ProvidePositionStore() *internalrepo.MemoryPositionStore {
	return internalrepo.NewMemoryPositionStore()
}

func ProvideMarketData(cfg *config.Config, history repository.HistoryStore, prices *internalrepo.MemoryPriceStore, l *applogger.Logger) *internalrepo.MarketData {
	return internalrepo.NewMarketData(history, prices,
		internalrepo.WithADVWindow(cfg.Risk.ADVWindow),
		internalrepo.WithBenchmark(cfg.Risk.Benchmark),
		internalrepo.WithMarketLogger(l),
	)
}

func ProvideVaRCalculator(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *valueatrisk.Calculator {
	return valueatrisk.NewCalculator(
		valueatrisk.WithLogger(l),
		valueatrisk.WithMetrics(m),
		valueatrisk.WithDefaults(valueatrisk.Defaults{
			Lookback:        cfg.Risk.Lookback,
			MinObservations: cfg.Risk.MinObservations,
		}),
	)
}

// ProvideScenarioStore keeps scenarios in Postgres when enabled, otherwise in
// memory. Configured scenarios are saved on every start.
func ProvideScenarioStore(cfg *config.Config, l *applogger.Logger) (repository.ScenarioStore, func(), error) {
	var (
		store   repository.ScenarioStore
		cleanup = func() {}
	)
	if cfg.Postgres.Enabled {
		db, err := internalrepo.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		gs, err := internalrepo.NewGormScenarioStore(db)
		if err != nil {
			return nil, nil, err
		}
		store = gs
		cleanup = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	} else {
		ms, err := stress.NewMemoryStore()
		if err != nil {
			return nil, nil, err
		}
		store = ms
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sc := range cfg.Scenarios {
		if sc.Source == "" {
			sc.Source = models.ScenarioManual
		}
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = time.Now().UTC()
		}
		if err := store.Save(ctx, sc); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("seed scenario %s: %w", sc.ID, err)
		}
	}
	l.Info("scenario store ready", applogger.Bool("postgres", cfg.Postgres.Enabled), applogger.Int("seeded", len(cfg.Scenarios)))
	return store, cleanup, nil
}

func ProvideStressEngine(market *internalrepo.MarketData, store repository.ScenarioStore, l *applogger.Logger) *stress.Engine {
	return stress.NewEngine(market, stress.WithStore(store), stress.WithLogger(l))
}

// ProvideSnapshotCache returns the Redis cache for metric snapshots, or nil
// when Redis is disabled.
func ProvideSnapshotCache(cfg *config.Config) (*cache.RedisCache, func()) {
	if !cfg.Redis.Enabled {
		return nil, func() {}
	}
	rc := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	return rc, func() { _ = rc.Close() }
}

func ProvideMetricsAggregator(
	cfg *config.Config,
	calc *valueatrisk.Calculator,
	positions *internalrepo.MemoryPositionStore,
	market *internalrepo.MarketData,
	snapshots *cache.RedisCache,
	m repository.Metrics,
	l *applogger.Logger,
	digest *applogger.Collector,
) *usecase.MetricsAggregator {
	opts := []usecase.AggregatorOption{
		usecase.WithAggregatorLogger(l.WithCollector(digest)),
		usecase.WithAggregatorMetrics(m),
	}
	if snapshots != nil {
		opts = append(opts, usecase.WithSnapshotStore(internalrepo.NewCacheSnapshotStore(snapshots, cfg.Redis.SnapshotTTL)))
	}
	return usecase.NewMetricsAggregator(usecase.AggregatorConfig{
		Method:             cfg.Risk.VaRMethod(),
		HorizonDays:        cfg.Risk.HorizonDays,
		Lookback:           cfg.Risk.Lookback,
		TTL:                cfg.Risk.MetricsTTL,
		Timeout:            cfg.Risk.ComputeTimeout,
		LiquidityThreshold: cfg.Risk.LiquidityThreshold,
		Benchmark:          cfg.Risk.Benchmark,
	}, calc, positions, market, opts...)
}

func ProvideRiskGate(cfg *config.Config, agg *usecase.MetricsAggregator, m repository.Metrics, l *applogger.Logger) *usecase.RiskGate {
	return usecase.NewRiskGate(usecase.GateConfig(cfg.Gate), agg,
		usecase.WithGateLogger(l),
		usecase.WithGateMetrics(m),
	)
}

// ProvideKafkaProducer creates a Kafka producer for alerts. Writes stay
// synchronous so publish failures reach the monitoring engine.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(false),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideLogCollector digests repeated warnings onto the logs topic. It is
// nil when no topic is configured.
func ProvideLogCollector(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) (*applogger.Collector, func()) {
	if cfg.Kafka.LogsTopic == "" {
		return nil, func() {}
	}
	c := applogger.NewCollector(producer, cfg.Kafka.LogsTopic,
		applogger.WithFlushInterval(cfg.Log.DigestInterval),
		applogger.WithMaxEntries(cfg.Log.DigestMaxEntries),
		applogger.WithCollectorErrorLog(l),
	)
	return c, c.Close
}

func ProvideAlertPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.AlertPublisher {
	return internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertsTopic)
}

// ProvideMonitoringEngine builds the engine and loads the configured rules.
func ProvideMonitoringEngine(
	cfg *config.Config,
	agg *usecase.MetricsAggregator,
	positions *internalrepo.MemoryPositionStore,
	pub repository.AlertPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	digest *applogger.Collector,
) (*usecase.MonitoringEngine, error) {
	engine := usecase.NewMonitoringEngine(agg, positions, pub,
		usecase.WithMonitoringLogger(l.WithCollector(digest)),
		usecase.WithMonitoringMetrics(m),
		usecase.WithMonitoringWorkers(cfg.Monitoring.Workers),
		usecase.WithTickInterval(cfg.Monitoring.TickInterval),
	)
	for _, spec := range cfg.Monitoring.Rules {
		if err := engine.AddRule(spec.Rule()); err != nil {
			return nil, fmt.Errorf("monitoring rules: %w", err)
		}
	}
	return engine, nil
}

func ProvideJobRegistry(cfg *config.Config) *usecase.JobRegistry {
	return usecase.NewJobRegistry(cfg.Risk.JobRetention)
}

func ProvideRiskService(
	cfg *config.Config,
	agg *usecase.MetricsAggregator,
	calc *valueatrisk.Calculator,
	engine *stress.Engine,
	store repository.ScenarioStore,
	jobs *usecase.JobRegistry,
	ch *pkgch.Client,
	l *applogger.Logger,
) *usecase.RiskService {
	methods := cfg.Risk.Methods()
	opts := []usecase.RiskServiceOption{
		usecase.WithRiskServiceLogger(l),
		usecase.WithJobTimeout(cfg.Risk.JobTimeout),
	}
	if cfg.ClickHouse.PersistResults {
		opts = append(opts, usecase.WithResultSink(internalrepo.NewCHResultSink(ch)))
	}
	return usecase.NewRiskService(agg, calc, engine, store, jobs, usecase.MethodParams{
		Historical: methods.Historical,
		Parametric: methods.Parametric,
		MonteCarlo: methods.MonteCarlo,
	}, opts...)
}

// ProvideKafkaConsumer creates the position update consumer. Updates for one
// account share a key and stay in order.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.SlowMessageHook(l, 250*time.Millisecond))
	return consumer, nil
}

func ProvidePositionsHandler(cfg *config.Config, positions *internalrepo.MemoryPositionStore, m repository.Metrics) *usecase.KafkaPositionsHandler {
	return usecase.NewKafkaPositionsHandler(cfg.Kafka.PositionsTopic, positions, m)
}

// ProvideQuoteCollector returns the live price feed, or nil when Finnhub is
// disabled and prices come from the last close.
func ProvideQuoteCollector(cfg *config.Config, prices *internalrepo.MemoryPriceStore, m repository.Metrics, l *applogger.Logger) *usecase.QuoteCollector {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:         cfg.Finnhub.APIKey,
		WebsocketURL:   cfg.Finnhub.WebSocketURL,
		Symbols:        cfg.Finnhub.Symbols,
		ReconnectDelay: cfg.Finnhub.ReconnectDelay,
		PingInterval:   cfg.Finnhub.PingInterval,
	}, l)
	return usecase.NewQuoteCollector(stream, prices, m, l, cfg.Finnhub.MaxPerSecond)
}

func ProvideRiskHandler(
	cfg *config.Config,
	l *applogger.Logger,
	agg *usecase.MetricsAggregator,
	risk *usecase.RiskService,
	gate *usecase.RiskGate,
	monitor *usecase.MonitoringEngine,
	ch *pkgch.Client,
) *api.RiskEchoHandler {
	return api.NewRiskEchoHandler(l, agg, risk, gate, monitor,
		api.WithHealthCheck("clickhouse", ch.Health),
		api.WithClientRateLimit(cfg.Server.RatePerSecond, cfg.Server.RateBurst),
	)
}

func ProvideHTTPServer(cfg *config.Config, h *api.RiskEchoHandler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithCORS(cfg.Server.AllowOrigins...),
		xhttp.WithMetricsPath(""),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	positionsHandler *usecase.KafkaPositionsHandler,
	collector *usecase.QuoteCollector,
	monitor *usecase.MonitoringEngine,
	agg *usecase.MetricsAggregator,
	positions *internalrepo.MemoryPositionStore,
) *server.App {
	return server.New(cfg, l, httpServer,
		server.WithConsumer(consumer, positionsHandler),
		server.WithQuoteCollector(collector),
		server.WithMonitoring(monitor),
		server.WithRefresher(agg, positions, cfg.Risk.RefreshInterval),
	)
}
