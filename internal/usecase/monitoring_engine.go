package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	"FinRisk/internal/domain/service"
	applogger "FinRisk/pkg/logger"
	"FinRisk/pkg/metrics"
)

var ruleValidator = validator.New()

// ValidateRule fills defaults and checks the rule, including that the
// threshold fits the metric's value kind.
func ValidateRule(r *models.MonitoringRule) error {
	if err := defaults.Set(r); err != nil {
		return fmt.Errorf("rule %s defaults: %v: %w", r.ID, err, models.ErrInvalidRule)
	}
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("rule %s: %v: %w", r.ID, err, models.ErrInvalidRule)
	}
	return r.CheckThreshold()
}

// AccountLister lists the accounts to monitor.
type AccountLister interface {
	Accounts(ctx context.Context) ([]string, error)
}

type stateKey struct {
	account string
	rule    string
}

type ruleState struct {
	state     models.RuleState
	lastEval  time.Time
	lastAlert time.Time
}

// MonitoringEngine evaluates threshold rules against account metrics and
// emits de-duplicated alerts.
type MonitoringEngine struct {
	source    service.MetricsSource
	accounts  AccountLister
	publisher domrepo.AlertPublisher
	metrics   domrepo.Metrics
	l         *applogger.Logger
	workers   int
	interval  time.Duration

	rulesMu sync.RWMutex
	rules   map[string]models.MonitoringRule

	statesMu sync.Mutex
	states   map[stateKey]*ruleState
}

type MonitoringOption func(*MonitoringEngine)

func WithMonitoringLogger(l *applogger.Logger) MonitoringOption {
	return func(e *MonitoringEngine) { e.l = l }
}

func WithMonitoringMetrics(m domrepo.Metrics) MonitoringOption {
	return func(e *MonitoringEngine) { e.metrics = m }
}

func WithMonitoringWorkers(n int) MonitoringOption {
	return func(e *MonitoringEngine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTickInterval sets how often Run ticks; rule cadences are checked on each tick.
func WithTickInterval(d time.Duration) MonitoringOption {
	return func(e *MonitoringEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func NewMonitoringEngine(source service.MetricsSource, accounts AccountLister, publisher domrepo.AlertPublisher, opts ...MonitoringOption) *MonitoringEngine {
	e := &MonitoringEngine{
		source:    source,
		accounts:  accounts,
		publisher: publisher,
		metrics:   metrics.Nop{},
		l:         applogger.Nop(),
		workers:   4,
		interval:  10 * time.Second,
		rules:     make(map[string]models.MonitoringRule),
		states:    make(map[stateKey]*ruleState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule registers a new rule; an existing id is rejected.
func (e *MonitoringEngine) AddRule(r models.MonitoringRule) error {
	if err := ValidateRule(&r); err != nil {
		return err
	}
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	if _, ok := e.rules[r.ID]; ok {
		return fmt.Errorf("rule %s already exists: %w", r.ID, models.ErrInvalidRule)
	}
	e.rules[r.ID] = r
	return nil
}

// ReplaceRule swaps a rule's definition and resets its per-account state.
func (e *MonitoringEngine) ReplaceRule(r models.MonitoringRule) error {
	if err := ValidateRule(&r); err != nil {
		return err
	}
	e.rulesMu.Lock()
	if _, ok := e.rules[r.ID]; !ok {
		e.rulesMu.Unlock()
		return fmt.Errorf("rule %s: %w", r.ID, models.ErrRuleNotFound)
	}
	e.rules[r.ID] = r
	e.rulesMu.Unlock()
	e.dropStates(r.ID)
	return nil
}

func (e *MonitoringEngine) RemoveRule(id string) error {
	e.rulesMu.Lock()
	if _, ok := e.rules[id]; !ok {
		e.rulesMu.Unlock()
		return fmt.Errorf("rule %s: %w", id, models.ErrRuleNotFound)
	}
	delete(e.rules, id)
	e.rulesMu.Unlock()
	e.dropStates(id)
	return nil
}

// Rules returns all rules ordered by id.
func (e *MonitoringEngine) Rules() []models.MonitoringRule {
	e.rulesMu.RLock()
	out := make([]models.MonitoringRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	e.rulesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State reports the state of a rule for an account.
func (e *MonitoringEngine) State(accountID, ruleID string) models.RuleState {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	if st, ok := e.states[stateKey{accountID, ruleID}]; ok {
		return st.state
	}
	return models.RuleIdle
}

func (e *MonitoringEngine) dropStates(ruleID string) {
	e.statesMu.Lock()
	for k := range e.states {
		if k.rule == ruleID {
			delete(e.states, k)
		}
	}
	e.statesMu.Unlock()
}

// Run ticks until ctx is done.
func (e *MonitoringEngine) Run(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := e.Tick(ctx, now); err != nil {
				e.l.Warn("monitoring tick", applogger.Error(err))
			}
		}
	}
}

// Tick evaluates every enabled rule that is due for every account. Alerts are
// published after evaluation finishes, ordered by account then rule id.
func (e *MonitoringEngine) Tick(ctx context.Context, now time.Time) ([]models.RiskAlert, error) {
	var rules []models.MonitoringRule
	for _, r := range e.Rules() {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		return nil, nil
	}
	accounts, err := e.accounts.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	perAccount := make([][]models.RiskAlert, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, acct := range accounts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return models.AsTimeout(err, "monitoring tick")
			}
			perAccount[i] = e.evaluateAccount(gctx, acct, rules, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var alerts []models.RiskAlert
	for _, as := range perAccount {
		alerts = append(alerts, as...)
	}
	for _, a := range alerts {
		e.metrics.RecordAlert(string(a.Severity))
		if e.publisher == nil {
			continue
		}
		if err := e.publisher.PublishAlert(ctx, a); err != nil {
			e.metrics.RecordError("alert_publish")
			e.l.Error("publish alert",
				applogger.String("alert", a.ID),
				applogger.String("rule", a.RuleID),
				applogger.Error(err),
			)
		}
	}
	return alerts, nil
}

func (e *MonitoringEngine) evaluateAccount(ctx context.Context, accountID string, rules []models.MonitoringRule, now time.Time) []models.RiskAlert {
	var due []models.MonitoringRule
	for _, r := range rules {
		if e.due(accountID, r, now) {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return nil
	}
	m, err := e.source.Current(ctx, accountID)
	if err != nil {
		e.metrics.RecordError(models.ErrorKind(err))
		e.l.Warn("metrics unavailable for monitoring",
			applogger.String("account", accountID),
			applogger.Error(err),
		)
		return nil
	}
	var out []models.RiskAlert
	for _, r := range due {
		if a, ok := e.evaluate(accountID, r, m, now); ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *MonitoringEngine) due(accountID string, r models.MonitoringRule, now time.Time) bool {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st, ok := e.states[stateKey{accountID, r.ID}]
	return !ok || st.lastEval.IsZero() || now.Sub(st.lastEval) >= r.Cadence
}

// evaluate runs one rule for one account. A panic is logged and leaves the
// rule's state untouched.
func (e *MonitoringEngine) evaluate(accountID string, r models.MonitoringRule, m models.RiskMetrics, now time.Time) (alert models.RiskAlert, fired bool) {
	key := stateKey{accountID, r.ID}
	e.statesMu.Lock()
	st, ok := e.states[key]
	if !ok {
		st = &ruleState{state: models.RuleIdle}
		e.states[key] = st
	}
	prev := st.state
	st.state = models.RuleEvaluating
	st.lastEval = now
	e.statesMu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			e.metrics.RecordError("rule_panic")
			e.l.Error("monitoring rule panicked",
				applogger.String("account", accountID),
				applogger.String("rule", r.ID),
				applogger.Any("panic", rec),
			)
			e.setState(key, prev)
			alert, fired = models.RiskAlert{}, false
		}
	}()

	value, err := m.Value(r.Metric)
	if err != nil {
		e.l.Warn("rule skipped",
			applogger.String("account", accountID),
			applogger.String("rule", r.ID),
			applogger.Error(err),
		)
		e.setState(key, prev)
		return models.RiskAlert{}, false
	}

	if !r.Comparison.Holds(value, r.Threshold) {
		e.setState(key, models.RuleIdle)
		return models.RiskAlert{}, false
	}

	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st.state = models.RuleTriggered
	if !st.lastAlert.IsZero() && now.Sub(st.lastAlert) < r.Cooldown {
		return models.RiskAlert{}, false
	}
	st.lastAlert = now
	return models.RiskAlert{
		ID:        uuid.NewString(),
		AccountID: accountID,
		RuleID:    r.ID,
		Severity:  r.Severity,
		Metric:    r.Metric,
		Message:   fmt.Sprintf("%s %.4f %s %.4f", r.Metric, value, r.Comparison, r.Threshold),
		Value:     value,
		Threshold: r.Threshold,
		Details: map[string]interface{}{
			"previous_state": string(prev),
			"metrics_as_of":  m.ComputedAt,
		},
		CreatedAt: now,
	}, true
}

func (e *MonitoringEngine) setState(key stateKey, s models.RuleState) {
	e.statesMu.Lock()
	if st, ok := e.states[key]; ok {
		st.state = s
	}
	e.statesMu.Unlock()
}
