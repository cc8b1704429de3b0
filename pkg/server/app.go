package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/usecase"
	"FinRisk/pkg/config"
	xhttp "FinRisk/pkg/http"
	pkgkafka "FinRisk/pkg/kafka"
	applogger "FinRisk/pkg/logger"
)

// Refresher recomputes one account's risk metrics.
type Refresher interface {
	RefreshAccount(ctx context.Context, accountID string) (models.RiskMetrics, error)
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server

	consumer *pkgkafka.Consumer
	handlers []pkgkafka.MessageHandler

	collector *usecase.QuoteCollector
	monitor   *usecase.MonitoringEngine

	refresher    Refresher
	accounts     usecase.AccountLister
	refreshEvery time.Duration
	workers      int

	wg sync.WaitGroup
}

type Option func(*App)

// WithConsumer starts the consumer with the given handlers. A nil consumer is ignored.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = append(a.handlers, handlers...)
	}
}

// WithQuoteCollector feeds live prices. A nil collector is ignored.
func WithQuoteCollector(c *usecase.QuoteCollector) Option {
	return func(a *App) { a.collector = c }
}

func WithMonitoring(m *usecase.MonitoringEngine) Option {
	return func(a *App) { a.monitor = m }
}

// WithRefresher recomputes metrics for every account each interval so the
// gate's cache stays warm.
func WithRefresher(r Refresher, accounts usecase.AccountLister, every time.Duration) Option {
	return func(a *App) {
		a.refresher = r
		a.accounts = accounts
		a.refreshEvery = every
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, l: l, httpServer: httpServer, workers: 4}
	if cfg != nil && cfg.Monitoring.Workers > 0 {
		a.workers = cfg.Monitoring.Workers
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Start(runCtx); err != nil {
			// Prices fall back to the last close until the feed recovers.
			a.l.Error("quote collector start", applogger.Error(err))
		} else {
			a.l.Info("quote collector started", applogger.Strings("symbols", a.cfg.Finnhub.Symbols))
		}
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer start", applogger.Error(err))
			return err
		}
	}

	if a.monitor != nil {
		a.goRun(func() { a.monitor.Run(runCtx) })
		a.l.Info("monitoring started", applogger.Int("rules", len(a.monitor.Rules())))
	}
	if a.refresher != nil && a.accounts != nil && a.refreshEvery > 0 {
		a.goRun(func() { a.refreshLoop(runCtx) })
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.l.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) refreshLoop(ctx context.Context) {
	t := time.NewTicker(a.refreshEvery)
	defer t.Stop()
	for {
		a.RefreshAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RefreshAll refreshes metrics for every known account. Accounts whose
// snapshot is still within its TTL are not recomputed. Failures are logged
// per account and do not stop the sweep.
func (a *App) RefreshAll(ctx context.Context) int {
	ids, err := a.accounts.Accounts(ctx)
	if err != nil {
		a.l.Warn("list accounts for refresh", applogger.Error(err))
		return 0
	}
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := a.refresher.RefreshAccount(gctx, id); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				a.l.Warn("metrics refresh failed",
					applogger.String("account", id),
					applogger.String("kind", models.ErrorKind(err)),
					applogger.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(ids) - failed
}

// shutdown stops intake first, then background work, then the HTTP server.
func (a *App) shutdown() error {
	timeout := 10 * time.Second
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.l.Warn("quote collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.l.Warn("background workers did not stop in time")
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
	return nil
}
