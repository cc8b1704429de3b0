package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	"FinRisk/internal/domain/service"
	"FinRisk/internal/service/ratelimit"
	applogger "FinRisk/pkg/logger"
	"FinRisk/pkg/metrics"
)

// GateConfig holds the pre-trade limits. A zero limit disables its check.
type GateConfig struct {
	MaxOrderNotional      float64
	MaxPositionQty        map[string]float64
	DefaultMaxPositionQty float64
	// MaxConcentration bounds the largest symbol's share of gross exposure,
	// measured as the aggregator reports concentration_risk.
	MaxConcentration float64
	// ConcentrationMinGross exempts books whose post-trade gross exposure is
	// below it, so a new account can open its first positions.
	ConcentrationMinGross float64
	MaxLeverage           float64
	// MaxVaRPct bounds VaR99 over equity, scaled to post-trade gross exposure.
	MaxVaRPct            float64
	MarginRate           float64
	MaxPriceDeviationBps int64
	OrdersPerSecond      float64
	OrderBurst           int
	RequireMetrics       bool
	LatencyBudget        time.Duration
}

// RiskGate is the synchronous pre-trade check. It never returns an error:
// missing inputs and internal faults deny the order.
type RiskGate struct {
	cfg     GateConfig
	cached  service.CachedMetrics
	limiter *ratelimit.Limiter
	metrics domrepo.Metrics
	l       *applogger.Logger

	mu     sync.RWMutex
	killed bool
	halted map[string]bool
}

type GateOption func(*RiskGate)

func WithGateLogger(l *applogger.Logger) GateOption { return func(g *RiskGate) { g.l = l } }

func WithGateMetrics(m domrepo.Metrics) GateOption { return func(g *RiskGate) { g.metrics = m } }

func WithGateLimiter(l *ratelimit.Limiter) GateOption { return func(g *RiskGate) { g.limiter = l } }

func NewRiskGate(cfg GateConfig, cached service.CachedMetrics, opts ...GateOption) *RiskGate {
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = 5 * time.Millisecond
	}
	g := &RiskGate{
		cfg:     cfg,
		cached:  cached,
		limiter: ratelimit.New(),
		metrics: metrics.Nop{},
		l:       applogger.Nop(),
		halted:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetKillSwitch halts or resumes all order flow.
func (g *RiskGate) SetKillSwitch(on bool) {
	g.mu.Lock()
	g.killed = on
	g.mu.Unlock()
}

// HaltAccount blocks orders of one account until resumed.
func (g *RiskGate) HaltAccount(accountID string, halted bool) {
	g.mu.Lock()
	if halted {
		g.halted[accountID] = true
	} else {
		delete(g.halted, accountID)
	}
	g.mu.Unlock()
}

func (g *RiskGate) isHalted(accountID string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.killed {
		return true, "global kill switch engaged"
	}
	if g.halted[accountID] {
		return true, "account " + accountID + " halted"
	}
	return false, ""
}

// CheckOrder evaluates order against rc and the cached metrics, reporting
// every violated limit.
func (g *RiskGate) CheckOrder(order models.Order, rc models.RiskContext) (v models.Verdict) {
	start := time.Now()
	v = models.Verdict{OrderID: order.ID, Allow: true}
	defer func() {
		if r := recover(); r != nil {
			v = models.Verdict{OrderID: order.ID}
			v.Deny(models.ViolationInternal, fmt.Sprintf("risk check failed: %v", r))
			g.l.Error("risk gate panic", applogger.String("order", order.ID), applogger.Any("panic", r))
		}
		g.finish(&v, order, start)
	}()

	if halted, why := g.isHalted(order.AccountID); halted {
		v.Deny(models.ViolationKillSwitch, why)
	}
	if msg := validateOrder(order, rc); msg != "" {
		v.Deny(models.ViolationInvalidOrder, msg)
		return v
	}

	mktPx, ok := quote(rc, order.Symbol)
	if !ok {
		v.Deny(models.ViolationMissingPrice, "no market price for "+order.Symbol)
		return v
	}
	market := decimal.NewFromFloat(mktPx)
	execPx := market
	if order.Type == models.OrderLimit {
		execPx = order.Price
	}

	if g.cfg.OrdersPerSecond > 0 {
		burst := float64(max(g.cfg.OrderBurst, 1))
		if !g.limiter.Allow(order.AccountID, burst, g.cfg.OrdersPerSecond) {
			v.Deny(models.ViolationRateLimit, fmt.Sprintf("order rate above %.2f/s", g.cfg.OrdersPerSecond))
		}
	}

	if bps := g.cfg.MaxPriceDeviationBps; bps > 0 && order.Type == models.OrderLimit {
		dev := order.Price.Sub(market).Abs().Div(market).Mul(decimal.NewFromInt(10000))
		if dev.GreaterThan(decimal.NewFromInt(bps)) {
			v.Deny(models.ViolationPriceBand, fmt.Sprintf("limit price %s deviates %s bps from market %s (max %d)", order.Price, dev.StringFixed(1), market, bps))
		}
	}

	notional := order.Quantity.Mul(execPx)
	if lim := g.cfg.MaxOrderNotional; lim > 0 && notional.GreaterThan(decimal.NewFromFloat(lim)) {
		v.Deny(models.ViolationOrderNotional, fmt.Sprintf("order notional %s exceeds max_order_notional %.2f", notional.StringFixed(2), lim))
	}

	book := rc.Holdings()
	curQty := decimal.Zero
	for _, h := range book {
		if h.Symbol == order.Symbol {
			curQty = decimal.NewFromFloat(h.Quantity)
		}
	}
	newQty := curQty.Add(order.SignedQuantity())
	if lim := g.positionLimit(order.Symbol); lim > 0 && newQty.Abs().GreaterThan(decimal.NewFromFloat(lim)) {
		v.Deny(models.ViolationPositionLimit, fmt.Sprintf("position %s %s would exceed max_position %.4f", order.Symbol, newQty, lim))
	}

	w := whatIf(book, order.Symbol, curQty, newQty, market)
	equity := decimal.NewFromFloat(rc.Account.Equity)
	increasing := newQty.Abs().GreaterThan(curQty.Abs())

	concBreached := false
	if lim := g.cfg.MaxConcentration; lim > 0 {
		if conc, top, breached := g.concentrationBreached(w, increasing); breached {
			concBreached = true
			v.Deny(models.ViolationConcentration, fmt.Sprintf("max_concentration: %s would be %.2f%% of gross exposure (limit %.2f%%)",
				top, conc*100, lim*100))
		}
	}

	grossUp := w.gross.GreaterThan(w.grossBefore)
	if !equity.IsPositive() {
		if grossUp {
			v.Deny(models.ViolationLeverage, "account equity is not positive")
		}
	} else if lim := g.cfg.MaxLeverage; lim > 0 && grossUp {
		lev := w.gross.Div(equity)
		if lev.GreaterThan(decimal.NewFromFloat(lim)) {
			v.Deny(models.ViolationLeverage, fmt.Sprintf("max_leverage: post-trade leverage %s exceeds %.2f", lev.StringFixed(2), lim))
		}
	}

	if rate := g.cfg.MarginRate; rate > 0 && grossUp {
		need := w.gross.Sub(w.grossBefore).Mul(decimal.NewFromFloat(rate))
		avail := decimal.NewFromFloat(rc.Account.AvailableMargin)
		if need.GreaterThan(avail) {
			v.Deny(models.ViolationMargin, fmt.Sprintf("margin required %s exceeds available %s", need.StringFixed(2), avail.StringFixed(2)))
		}
	}

	g.checkCachedMetrics(&v, order.AccountID, w, equity, grossUp)

	if concBreached && len(v.Violations) == 1 {
		if q, ok := g.suggestQuantity(order, book, curQty, market); ok {
			v.SuggestedQuantity = &q
			v.Actions = append(v.Actions, "modify: reduce quantity to "+q.String())
		}
	}
	return v
}

func (g *RiskGate) checkCachedMetrics(v *models.Verdict, accountID string, w exposure, equity decimal.Decimal, grossUp bool) {
	m, ok := g.cached.Cached(accountID)
	if !ok {
		if g.cfg.RequireMetrics {
			v.Deny(models.ViolationMissingMetrics, "no fresh risk metrics for account "+accountID)
		}
		return
	}
	asOf := m.ComputedAt
	v.MetricsAsOf = &asOf

	if g.cfg.MaxVaRPct <= 0 || !grossUp || !equity.IsPositive() {
		return
	}
	var99, err := m.Value(models.MetricVaR99)
	if err != nil {
		if g.cfg.RequireMetrics {
			v.Deny(models.ViolationMissingMetrics, "var_99 unavailable for account "+accountID)
		}
		return
	}
	projected := decimal.NewFromFloat(var99)
	if w.grossBefore.IsPositive() {
		projected = projected.Mul(w.gross).Div(w.grossBefore)
	}
	pct := projected.Div(equity)
	if pct.GreaterThan(decimal.NewFromFloat(g.cfg.MaxVaRPct)) {
		v.Deny(models.ViolationVaRLimit, fmt.Sprintf("max_var: projected VaR99 %s is %s%% of equity (limit %.2f%%)",
			projected.StringFixed(2), pct.Mul(decimal.NewFromInt(100)).StringFixed(2), g.cfg.MaxVaRPct*100))
	}
}

// concentrationBreached reports whether the post-trade book is above the
// limit and more concentrated than before. Holding concentration flat is a
// breach only for an order that grows its own position.
func (g *RiskGate) concentrationBreached(w exposure, increasing bool) (float64, string, bool) {
	if w.gross.LessThan(decimal.NewFromFloat(g.cfg.ConcentrationMinGross)) {
		return 0, "", false
	}
	after, top := models.Concentration(w.after)
	before, _ := models.Concentration(w.before)
	if after <= g.cfg.MaxConcentration+concEpsilon {
		return after, top, false
	}
	worse := after > before+concEpsilon || (after >= before-concEpsilon && increasing)
	return after, top, worse
}

const concEpsilon = 1e-9

// suggestQuantity finds the largest order size that keeps the order's symbol
// within the limit, v <= L*others/(1-L), and re-checks the reduced order
// against the full rule. Nothing is suggested when another symbol dominates.
func (g *RiskGate) suggestQuantity(order models.Order, book []models.Holding, curQty, price decimal.Decimal) (decimal.Decimal, bool) {
	lim := decimal.NewFromFloat(g.cfg.MaxConcentration)
	if !lim.LessThan(decimal.NewFromInt(1)) || !price.IsPositive() {
		return decimal.Zero, false
	}
	others := whatIf(book, order.Symbol, curQty, decimal.Zero, price).gross
	maxQty := lim.Mul(others).Div(decimal.NewFromInt(1).Sub(lim)).Div(price)

	var room decimal.Decimal
	if order.Side == models.SideBuy {
		room = maxQty.Sub(curQty)
	} else {
		room = maxQty.Add(curQty)
	}
	places := int32(0)
	if exp := order.Quantity.Exponent(); exp < 0 {
		places = -exp
	}
	room = room.RoundDown(places)
	if !room.IsPositive() || !room.LessThan(order.Quantity) {
		return decimal.Zero, false
	}

	reduced := order
	reduced.Quantity = room
	newQty := curQty.Add(reduced.SignedQuantity())
	w := whatIf(book, order.Symbol, curQty, newQty, price)
	if _, _, breached := g.concentrationBreached(w, newQty.Abs().GreaterThan(curQty.Abs())); breached {
		return decimal.Zero, false
	}
	return room, true
}

func (g *RiskGate) positionLimit(symbol string) float64 {
	if lim, ok := g.cfg.MaxPositionQty[symbol]; ok {
		return lim
	}
	return g.cfg.DefaultMaxPositionQty
}

func (g *RiskGate) finish(v *models.Verdict, order models.Order, start time.Time) {
	v.Latency = time.Since(start)
	if len(v.Violations) > 0 {
		v.Allow = false
	}
	if v.Actions == nil {
		v.Actions = []string{}
	}
	for _, viol := range v.Violations {
		g.metrics.RecordViolation(viol.Code)
	}
	g.metrics.RecordGateDecision(v.Allow, v.Latency.Seconds())
	if v.Latency > g.cfg.LatencyBudget {
		g.l.Warn("risk gate over latency budget",
			applogger.String("order", order.ID),
			applogger.Duration("latency_ms", v.Latency),
			applogger.Duration("budget_ms", g.cfg.LatencyBudget),
		)
	}
}

func validateOrder(o models.Order, rc models.RiskContext) string {
	switch {
	case o.AccountID == "":
		return "order has no account"
	case rc.AccountID != "" && rc.AccountID != o.AccountID:
		return fmt.Sprintf("order account %s does not match context %s", o.AccountID, rc.AccountID)
	case o.Symbol == "":
		return "order has no symbol"
	case o.Side != models.SideBuy && o.Side != models.SideSell:
		return fmt.Sprintf("unknown side %q", o.Side)
	case !o.Quantity.IsPositive():
		return "quantity must be positive"
	case o.Type == models.OrderLimit && !o.Price.IsPositive():
		return "limit order needs a positive price"
	case o.Type != models.OrderLimit && o.Type != models.OrderMarket && o.Type != "":
		return fmt.Sprintf("unknown order type %q", o.Type)
	}
	return ""
}

// quote prices symbol from the snapshot, then from the mark of any lot.
func quote(rc models.RiskContext, symbol string) (float64, bool) {
	for _, p := range rc.Positions {
		if p.Symbol != symbol {
			continue
		}
		if px, ok := rc.Market.Price(p); ok {
			return px, true
		}
	}
	return rc.Market.Price(models.Position{Symbol: symbol})
}

// exposure is the book valued at market before and after the order.
type exposure struct {
	gross       decimal.Decimal
	grossBefore decimal.Decimal
	before      map[string]float64
	after       map[string]float64
}

// whatIf revalues book with the order's symbol moved from curQty to newQty
// at price. Other symbols keep their holding price.
func whatIf(book []models.Holding, symbol string, curQty, newQty, price decimal.Decimal) exposure {
	w := exposure{
		before: make(map[string]float64, len(book)+1),
		after:  make(map[string]float64, len(book)+1),
	}
	for _, h := range book {
		if h.Symbol == symbol {
			continue
		}
		mv := decimal.NewFromFloat(h.Quantity).Mul(decimal.NewFromFloat(h.Price))
		w.gross = w.gross.Add(mv.Abs())
		f := mv.InexactFloat64()
		w.before[h.Symbol], w.after[h.Symbol] = f, f
	}
	w.grossBefore = w.gross
	if !curQty.IsZero() {
		mv := curQty.Mul(price)
		w.grossBefore = w.grossBefore.Add(mv.Abs())
		w.before[symbol] = mv.InexactFloat64()
	}
	if !newQty.IsZero() {
		mv := newQty.Mul(price)
		w.gross = w.gross.Add(mv.Abs())
		w.after[symbol] = mv.InexactFloat64()
	}
	return w
}
