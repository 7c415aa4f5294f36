package api

import (
	"errors"
	"net/http"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/service/ratelimit"
	"FixedTime/internal/usecase"
	xhttp "FixedTime/pkg/http"
	xlogger "FixedTime/pkg/logger"

	"github.com/labstack/echo/v4"
)

// OpsEchoHandler serves the operator API.
type OpsEchoHandler struct {
	logger     *xlogger.Logger
	ops        *usecase.OpsService
	store      repository.Store
	reconciler *usecase.Reconciler
	feed       http.Handler
	rl         *ratelimit.Limiter
}

// NewOpsEchoHandler wires the handler. feed serves /ws/decisions and may be nil; rl
// throttles mutating calls per client IP and may be nil.
func NewOpsEchoHandler(
	logger *xlogger.Logger,
	ops *usecase.OpsService,
	store repository.Store,
	reconciler *usecase.Reconciler,
	feed http.Handler,
	rl *ratelimit.Limiter,
) *OpsEchoHandler {
	return &OpsEchoHandler{logger: logger, ops: ops, store: store, reconciler: reconciler, feed: feed, rl: rl}
}

func (h *OpsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/workers", h.ListWorkers)
	g.GET("/status", h.Status)
	g.GET("/strategies", h.Strategies)
	g.GET("/stats", h.Stats)
	g.GET("/orders/open", h.OpenOrders)

	w := g.Group("", h.throttle)
	w.POST("/workers/start", h.StartWorker)
	w.POST("/workers/stop", h.StopWorker)
	w.POST("/killswitch", h.KillSwitch)
	w.POST("/risk/reset-daily", h.ResetDaily)
	w.POST("/reconcile", h.Reconcile)
	w.POST("/calibrate", h.Calibrate)
	w.POST("/backtest", h.Backtest)

	if h.feed != nil {
		e.GET("/ws/decisions", echo.WrapHandler(h.feed))
	}
}

func (h *OpsEchoHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("ops request rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("route", c.Path()))
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

func (h *OpsEchoHandler) ListWorkers(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.ops.Workers())
}

func (h *OpsEchoHandler) StartWorker(c echo.Context) error {
	req := &models.WorkerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := workerKey(req)
	if err := h.ops.StartWorker(key); err != nil {
		h.logger.Error("start worker failed", xlogger.String("worker", key.String()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, asAppError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]any{"worker": key, "running": true})
}

func (h *OpsEchoHandler) StopWorker(c echo.Context) error {
	req := &models.WorkerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := workerKey(req)
	if err := h.ops.StopWorker(key); err != nil {
		return xhttp.AppErrorResponse(c, asAppError(err))
	}
	return xhttp.SuccessResponse(c, map[string]any{"worker": key, "running": false})
}

func (h *OpsEchoHandler) KillSwitch(c echo.Context) error {
	req := &models.KillSwitchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.ops.SetKillSwitch(*req.Enabled, req.Reason)
	return xhttp.SuccessResponse(c, map[string]bool{"kill_switch": *req.Enabled})
}

func (h *OpsEchoHandler) Status(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.ops.Status())
}

func (h *OpsEchoHandler) Strategies(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.ops.Strategies())
}

func (h *OpsEchoHandler) ResetDaily(c echo.Context) error {
	req := &models.ResetDailyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.ops.ResetDaily(req.Account)
	return xhttp.SuccessResponse(c, map[string]string{"account": req.Account})
}

func (h *OpsEchoHandler) Stats(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	winRate, err := h.store.RollingWinRate(ctx, req.Account, req.Product, req.Timeframe, req.LastN)
	if err != nil {
		h.logger.Error("stats win rate failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("stats unavailable").WithError(err))
	}
	losses, err := h.store.ConsecutiveLosses(ctx, req.Account, req.Product, req.Timeframe, req.LastN)
	if err != nil {
		h.logger.Error("stats losses failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("stats unavailable").WithError(err))
	}
	pnl, err := h.store.DailyPnL(ctx, req.Account)
	if err != nil {
		h.logger.Error("stats daily pnl failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("stats unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"account":            req.Account,
		"product":            req.Product,
		"timeframe":          req.Timeframe,
		"last_n":             req.LastN,
		"win_rate":           winRate,
		"consecutive_losses": losses,
		"daily_pnl":          pnl,
	})
}

func (h *OpsEchoHandler) OpenOrders(c echo.Context) error {
	orders, err := h.store.GetOpenOrders(c.Request().Context())
	if err != nil {
		h.logger.Error("open orders failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("orders unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, orders)
}

func (h *OpsEchoHandler) Reconcile(c echo.Context) error {
	if h.reconciler == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("reconciler disabled"))
	}
	sum, err := h.reconciler.ReconcileOpenOrders(c.Request().Context())
	if err != nil {
		h.logger.Error("reconcile failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("reconcile failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, sum)
}

func (h *OpsEchoHandler) Calibrate(c echo.Context) error {
	req := &models.CalibrateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.ops.Calibrate(req.Scores, req.Outcomes)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("calibration rejected").WithError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *OpsEchoHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rep, err := h.ops.Backtest(c.Request().Context(), *req)
	if err != nil {
		h.logger.Warn("backtest failed",
			xlogger.String("account", req.Account),
			xlogger.String("product", req.Product),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, backtestError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

func workerKey(req *models.WorkerRequest) usecase.WorkerKey {
	return usecase.WorkerKey{Account: req.Account, Product: req.Product, Timeframe: req.Timeframe}
}

func backtestError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrBacktestDisabled):
		return xhttp.NotFoundErrorf("backtesting disabled").WithError(err)
	case errors.Is(err, usecase.ErrInvalidBacktest), errors.Is(err, repository.ErrInvalidTimeframe):
		return xhttp.BadRequestErrorf("backtest rejected").WithError(err)
	default:
		return xhttp.InternalErrorf("backtest failed").WithError(err)
	}
}

func asAppError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrWorkerNotFound):
		return xhttp.NotFoundErrorf("worker not running").WithError(err)
	case errors.Is(err, repository.ErrInvalidTimeframe):
		return xhttp.BadRequestErrorf("unsupported timeframe").WithError(err)
	default:
		return xhttp.InternalErrorf("worker operation failed").WithError(err)
	}
}
