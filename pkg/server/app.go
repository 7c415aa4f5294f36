package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/middleware"
	persist "FixedTime/internal/repository"
	"FixedTime/internal/service/connector"
	"FixedTime/internal/service/stream"
	"FixedTime/internal/services/risk"
	"FixedTime/internal/usecase"
	"FixedTime/pkg/config"
	xhttp "FixedTime/pkg/http"
	pkgkafka "FixedTime/pkg/kafka"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/queue"
)

// hydrateWindow bounds how far back the loss streak is rebuilt at startup.
const hydrateWindow = 100

// Components are the long-lived parts the App starts and stops. Journal, Jobs,
// Consumer and Hub are nil when their backend is disabled.
type Components struct {
	Config     *config.Config
	Logger     *logger.Logger
	Metrics    repository.Metrics
	Store      repository.Store
	Risk       *risk.Engine
	Connectors *connector.Manager
	Reconciler *usecase.Reconciler
	Scheduler  *usecase.Scheduler
	Pipeline   *middleware.EventPipeline
	Journal    *persist.ClickHouseJournal
	Jobs       queue.Queue
	Consumer   *pkgkafka.Consumer
	Control    *usecase.ControlHandler
	Server     *xhttp.Server
	Hub        *stream.Hub
}

// App encapsulates the entire application lifecycle.
type App struct {
	Components

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(c Components) *App {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return &App{Components: c}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start restores risk state, settles orders left open by a previous run and
// then brings up workers, consumers and the HTTP server.
func (a *App) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	if err := a.hydrate(ctx); err != nil {
		cancel()
		return err
	}

	a.Pipeline.Start(ctx)
	if a.Journal != nil {
		a.spawn(func() { a.Journal.Run(ctx, a.Config.ClickHouse.FlushEvery) })
	}
	a.spawn(func() { a.Connectors.Run(ctx) })

	if a.Jobs != nil {
		a.Jobs.RegisterJob(usecase.NewReconcileJob(a.Reconciler))
		if err := a.Jobs.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start job queue: %w", err)
		}
	}

	sum, err := a.Reconciler.ReconcileOpenOrders(ctx)
	if err != nil {
		a.Logger.Error("startup reconcile failed", logger.Error(err))
	} else {
		a.Logger.Info("startup reconcile done",
			logger.Int("checked", sum.Checked),
			logger.Int("settled", sum.Settled),
			logger.Int("open", sum.Open))
	}

	a.Scheduler.Bind(ctx)
	a.spawn(func() { a.Scheduler.Run(ctx) })
	if a.Config.Features.TradeEnabled {
		if err := a.Scheduler.StartConfigured(); err != nil {
			a.Logger.Warn("some configured workers did not start", logger.Error(err))
		}
	} else {
		a.Logger.Warn("trading disabled, workers wait for an operator start")
	}

	if a.Consumer != nil && a.Control != nil {
		a.Consumer.RegisterHandler(a.Control)
		if err := a.Consumer.Start(ctx); err != nil {
			a.Logger.Error("kafka consumer error", logger.Error(err))
		} else {
			a.Logger.Info("ops command consumer started", logger.String("topic", a.Control.Topic()))
		}
	}

	if err := a.Server.Start(); err != nil {
		a.Logger.Error("http server start error", logger.Error(err))
		return err
	}
	a.Logger.Info("engine started",
		logger.Bool("paper_mode", a.Config.Features.PaperMode),
		logger.Bool("trade_enabled", a.Config.Features.TradeEnabled),
		logger.Int("accounts", len(a.Config.Accounts)))
	return nil
}

// Shutdown stops intake first and drains the event pipeline before the root
// context is cancelled.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down...")

	if err := a.Server.Stop(ctx); err != nil {
		a.Logger.Error("http shutdown error", logger.Error(err))
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			a.Logger.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	a.Scheduler.StopAll()
	if a.Jobs != nil {
		if err := a.Jobs.Stop(ctx); err != nil {
			a.Logger.Warn("job queue stop error", logger.Error(err))
		}
	}
	if err := a.Pipeline.Close(ctx); err != nil {
		a.Logger.Warn("event pipeline drain incomplete", logger.Error(err))
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Warn("clickhouse journal flush error", logger.Error(err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.Hub != nil {
		_ = a.Hub.Close()
	}
	if err := a.Connectors.Close(); err != nil {
		a.Logger.Warn("connector close error", logger.Error(err))
	}
	a.Logger.Info("shutdown complete")
	return nil
}

// hydrate seeds the risk engine with today's realized PnL and the current loss
// streak of every enabled account.
func (a *App) hydrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, acct := range a.Config.Accounts {
		if acct.Disabled {
			continue
		}
		pnl, err := a.Store.DailyPnL(ctx, acct.ID)
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", acct.ID, err)
		}
		recent, err := a.Store.RecentResults(ctx, acct.ID, "", 0, hydrateWindow)
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", acct.ID, err)
		}
		streak := models.LossStreak(recent, a.Config.Executor.PushCountsAsWin)
		a.Risk.Hydrate(acct.ID, pnl, streak)
		if a.Metrics != nil {
			a.Metrics.SetDailyPnL(acct.ID, pnl)
		}
		a.Logger.Info("risk state restored",
			logger.String("account", acct.ID),
			logger.Float64("daily_pnl", pnl),
			logger.Int("loss_streak", streak))
	}
	return nil
}

func (a *App) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}
