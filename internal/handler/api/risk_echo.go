package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/service/metrics"
	"FinRisk/internal/service/ratelimit"
	"FinRisk/internal/services/stress"
	"FinRisk/internal/usecase"
	xhttp "FinRisk/pkg/http"
	xlogger "FinRisk/pkg/logger"
	"FinRisk/pkg/util"
)

// RiskEchoHandler exposes the risk engine over HTTP.
type RiskEchoHandler struct {
	logger  *xlogger.Logger
	agg     *usecase.MetricsAggregator
	risk    *usecase.RiskService
	gate    *usecase.RiskGate
	monitor *usecase.MonitoringEngine
	rl      *ratelimit.Limiter

	// requests per second per client; zero disables the limit
	rate  float64
	burst float64

	checks map[string]func(context.Context) error
}

type HandlerOption func(*RiskEchoHandler)

// WithClientRateLimit bounds requests per client IP.
func WithClientRateLimit(perSecond float64, burst int) HandlerOption {
	return func(h *RiskEchoHandler) {
		h.rate = perSecond
		h.burst = float64(max(burst, 1))
	}
}

// WithHealthCheck adds a dependency probed by GET /healthz.
func WithHealthCheck(name string, check func(context.Context) error) HandlerOption {
	return func(h *RiskEchoHandler) { h.checks[name] = check }
}

func NewRiskEchoHandler(logger *xlogger.Logger, agg *usecase.MetricsAggregator, risk *usecase.RiskService, gate *usecase.RiskGate, monitor *usecase.MonitoringEngine, opts ...HandlerOption) *RiskEchoHandler {
	metrics.Register()
	h := &RiskEchoHandler{logger: logger, agg: agg, risk: risk, gate: gate, monitor: monitor, rl: ratelimit.New(), checks: map[string]func(context.Context) error{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *RiskEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1", metrics.Instrument, h.limit)

	g.GET("/accounts/:account/metrics", h.Metrics)
	g.GET("/accounts/:account/var", h.VaR)
	g.PUT("/accounts/:account/halt", h.HaltAccount)
	g.POST("/orders/check", h.CheckOrder)
	g.PUT("/kill-switch", h.KillSwitch)

	g.GET("/scenarios", h.ListScenarios)
	g.POST("/scenarios", h.CreateScenario)
	g.POST("/scenarios/historical", h.CreateHistoricalScenario)
	g.GET("/scenarios/:id", h.GetScenario)
	g.DELETE("/scenarios/:id", h.DeleteScenario)

	g.POST("/stress", h.RunStress)
	g.GET("/stress/:scenario/:account", h.GetStressResult)
	g.POST("/backtests", h.RunBacktest)
	g.GET("/backtests/:scenario/:account", h.GetBacktestResult)

	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.DELETE("/jobs/:id", h.CancelJob)

	g.GET("/rules", h.ListRules)
	g.POST("/rules", h.AddRule)
	g.PUT("/rules/:id", h.ReplaceRule)
	g.DELETE("/rules/:id", h.RemoveRule)
}

func (h *RiskEchoHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rate > 0 && !h.rl.Allow(c.RealIP(), h.burst, h.rate) {
			h.logger.Warn("risk api rate limited", xlogger.String("remote", c.RealIP()))
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

// Health reports 503 when any registered dependency fails its probe.
func (h *RiskEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	status := make(map[string]string, len(h.checks))
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return xhttp.DataResponse(c, code, status)
}

func (h *RiskEchoHandler) Metrics(c echo.Context) error {
	req := &models.AccountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	var (
		m   models.RiskMetrics
		err error
	)
	if req.Refresh {
		m, err = h.agg.RefreshAccount(ctx, req.AccountID)
	} else {
		m, err = h.agg.Current(ctx, req.AccountID)
	}
	if err != nil {
		h.logger.Warn("metrics request failed", xlogger.String("account", req.AccountID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *RiskEchoHandler) VaR(c echo.Context) error {
	req := &models.VaRRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tag := models.VaRMethodTag(req.Method)
	if req.Async {
		job := h.risk.SubmitVaR(req.AccountID, tag, req.Confidence, req.HorizonDays)
		return xhttp.AcceptedResponse(c, job.Snapshot())
	}
	res, err := h.risk.ComputeVaR(c.Request().Context(), req.AccountID, tag, req.Confidence, req.HorizonDays)
	if err != nil {
		h.logger.Warn("var request failed", xlogger.String("account", req.AccountID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// CheckOrder runs the pre-trade gate against the account's current context.
// A denied order is a successful request; the verdict says why.
func (h *RiskEchoHandler) CheckOrder(c echo.Context) error {
	order := &models.Order{}
	if verr := xhttp.ReadAndValidateRequest(c, order); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rc, err := h.agg.Context(c.Request().Context(), order.AccountID)
	if err != nil {
		// The gate fails closed on an empty context.
		h.logger.Warn("order check without context", xlogger.String("account", order.AccountID), xlogger.Error(err))
		rc = models.RiskContext{AccountID: order.AccountID}
	}
	return xhttp.SuccessResponse(c, h.gate.CheckOrder(*order, rc))
}

type switchRequest struct {
	AccountID string `param:"account"`
	Enabled   *bool  `json:"enabled" validate:"required"`
}

func (h *RiskEchoHandler) KillSwitch(c echo.Context) error {
	req := &switchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.gate.SetKillSwitch(*req.Enabled)
	h.logger.Warn("kill switch changed", xlogger.Bool("enabled", *req.Enabled))
	return xhttp.SuccessResponse(c, map[string]bool{"enabled": *req.Enabled})
}

func (h *RiskEchoHandler) HaltAccount(c echo.Context) error {
	req := &switchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.gate.HaltAccount(req.AccountID, *req.Enabled)
	h.logger.Warn("account halt changed", xlogger.String("account", req.AccountID), xlogger.Bool("halted", *req.Enabled))
	return xhttp.SuccessResponse(c, map[string]interface{}{"account_id": req.AccountID, "halted": *req.Enabled})
}

func (h *RiskEchoHandler) ListScenarios(c echo.Context) error {
	list, err := h.risk.Scenarios().List(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *RiskEchoHandler) CreateScenario(c echo.Context) error {
	sc := &models.StressScenario{}
	if verr := xhttp.ReadAndValidateRequest(c, sc); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sc.Source = models.ScenarioManual
	sc.Window = nil
	sc.CreatedAt = time.Now().UTC()
	if err := h.risk.Scenarios().Save(c.Request().Context(), *sc); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, sc)
}

func (h *RiskEchoHandler) CreateHistoricalScenario(c echo.Context) error {
	req := &models.HistoricalScenarioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, err := util.ParseDate(req.Start)
	if err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestErrorf("start: %v", err)})
	}
	end, err := util.ParseDate(req.End)
	if err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestErrorf("end: %v", err)})
	}
	sc, err := h.risk.CreateHistoricalScenario(c.Request().Context(), stress.HistoricalScenarioSpec{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Symbols:     req.Symbols,
		Start:       start,
		End:         end,
	})
	if err != nil {
		h.logger.Warn("historical scenario failed", xlogger.String("scenario", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, sc)
}

func (h *RiskEchoHandler) GetScenario(c echo.Context) error {
	sc, err := h.risk.Scenarios().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, sc)
}

func (h *RiskEchoHandler) DeleteScenario(c echo.Context) error {
	if err := h.risk.Scenarios().Delete(c.Request().Context(), c.Param("id")); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *RiskEchoHandler) RunStress(c echo.Context) error {
	req := &models.StressRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.risk.RunStress(c.Request().Context(), req.AccountID, req.ScenarioID)
	if err != nil {
		h.logger.Warn("stress run failed", xlogger.String("scenario", req.ScenarioID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) GetStressResult(c echo.Context) error {
	key := models.ResultKey{ScenarioID: c.Param("scenario"), AccountID: c.Param("account")}
	res, ok := h.risk.StressResult(key)
	if !ok {
		return xhttp.NotFoundResponse(c, []*xhttp.AppError{xhttp.NotFoundErrorf("no stress result for %s/%s", key.ScenarioID, key.AccountID)})
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) RunBacktest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Async {
		job := h.risk.SubmitBacktest(req.AccountID, req.ScenarioID, req.InitialValue)
		return xhttp.AcceptedResponse(c, job.Snapshot())
	}
	res, err := h.risk.RunBacktest(c.Request().Context(), req.AccountID, req.ScenarioID, req.InitialValue)
	if err != nil {
		h.logger.Warn("backtest failed", xlogger.String("scenario", req.ScenarioID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) GetBacktestResult(c echo.Context) error {
	key := models.ResultKey{ScenarioID: c.Param("scenario"), AccountID: c.Param("account")}
	res, ok := h.risk.BacktestResult(key)
	if !ok {
		return xhttp.NotFoundResponse(c, []*xhttp.AppError{xhttp.NotFoundErrorf("no backtest result for %s/%s", key.ScenarioID, key.AccountID)})
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) ListJobs(c echo.Context) error {
	jobs := h.risk.Jobs().List()
	return xhttp.ListResponse(c, jobs, int64(len(jobs)))
}

func (h *RiskEchoHandler) GetJob(c echo.Context) error {
	snap, ok := h.risk.Jobs().Get(c.Param("id"))
	if !ok {
		return xhttp.NotFoundResponse(c, []*xhttp.AppError{xhttp.NotFoundErrorf("job %s not found", c.Param("id"))})
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *RiskEchoHandler) CancelJob(c echo.Context) error {
	if !h.risk.Jobs().Cancel(c.Param("id")) {
		return xhttp.NotFoundResponse(c, []*xhttp.AppError{xhttp.NotFoundErrorf("job %s not found", c.Param("id"))})
	}
	return xhttp.NoContentResponse(c)
}

func (h *RiskEchoHandler) ListRules(c echo.Context) error {
	rules := h.monitor.Rules()
	specs := make([]models.RuleSpec, len(rules))
	for i, r := range rules {
		specs[i] = r.Spec()
	}
	return xhttp.ListResponse(c, specs, int64(len(specs)))
}

func (h *RiskEchoHandler) AddRule(c echo.Context) error {
	spec := &models.RuleSpec{}
	if err := c.Bind(spec); err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError(err.Error())})
	}
	if err := h.monitor.AddRule(spec.Rule()); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, spec)
}

func (h *RiskEchoHandler) ReplaceRule(c echo.Context) error {
	spec := &models.RuleSpec{}
	if err := c.Bind(spec); err != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{xhttp.BadRequestError(err.Error())})
	}
	spec.ID = c.Param("id")
	if err := h.monitor.ReplaceRule(spec.Rule()); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, spec)
}

func (h *RiskEchoHandler) RemoveRule(c echo.Context) error {
	if err := h.monitor.RemoveRule(c.Param("id")); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.NoContentResponse(c)
}
