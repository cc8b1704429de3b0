package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
)

var t0 = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func concentrationRule(cooldown time.Duration) models.MonitoringRule {
	return models.MonitoringRule{
		ID:         "conc",
		Metric:     models.MetricConcentrationRisk,
		Threshold:  0.5,
		Comparison: models.GreaterThan,
		Severity:   models.SeverityCritical,
		Cadence:    time.Minute,
		Cooldown:   cooldown,
		Enabled:    true,
	}
}

func newTestEngine(t *testing.T, rules ...models.MonitoringRule) (*MonitoringEngine, *fakeSource, *fakePublisher) {
	t.Helper()
	src := &fakeSource{metrics: map[string]models.RiskMetrics{}, errs: map[string]error{}}
	pub := &fakePublisher{}
	e := NewMonitoringEngine(src, src, pub)
	for _, r := range rules {
		require.NoError(t, e.AddRule(r))
	}
	return e, src, pub
}

func TestMonitoringEngine_CooldownSuppressesRepeats(t *testing.T) {
	e, src, pub := newTestEngine(t, concentrationRule(5*time.Minute))
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})

	alerts, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "acct-1", alerts[0].AccountID)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.InDelta(t, 0.6, alerts[0].Value, 1e-12)
	assert.NotEmpty(t, alerts[0].ID)
	assert.Equal(t, models.RuleTriggered, e.State("acct-1", "conc"))

	alerts, err = e.Tick(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, models.RuleTriggered, e.State("acct-1", "conc"))

	alerts, err = e.Tick(context.Background(), t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	assert.Len(t, pub.alerts, 2)
}

func TestMonitoringEngine_ZeroCooldownAlertsEveryEvaluation(t *testing.T) {
	e, src, _ := newTestEngine(t, concentrationRule(0))
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})

	for i := 0; i < 3; i++ {
		alerts, err := e.Tick(context.Background(), t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Len(t, alerts, 1)
	}
}

func TestMonitoringEngine_ClearingReturnsToIdle(t *testing.T) {
	e, src, _ := newTestEngine(t, concentrationRule(time.Hour))
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})
	_, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, models.RuleTriggered, e.State("acct-1", "conc"))

	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.3})
	alerts, err := e.Tick(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, models.RuleIdle, e.State("acct-1", "conc"))

	// the cooldown is still running from the first alert
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.7})
	alerts, err = e.Tick(context.Background(), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, models.RuleTriggered, e.State("acct-1", "conc"))
}

func TestMonitoringEngine_CadenceNotDue(t *testing.T) {
	e, src, _ := newTestEngine(t, concentrationRule(0))
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})

	_, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	alerts, err := e.Tick(context.Background(), t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, src.calls, "metrics are not fetched when no rule is due")
}

func TestMonitoringEngine_MissingMetricSkipsOnlyThatRule(t *testing.T) {
	varRule := models.MonitoringRule{
		ID: "var", Metric: models.MetricVaR99, Threshold: 1000, Comparison: models.GreaterThan,
		Cadence: time.Minute, Enabled: true,
	}
	e, src, _ := newTestEngine(t, concentrationRule(0), varRule)
	m := models.RiskMetrics{ConcentrationRisk: 0.6}
	m.MarkUnavailable(models.MetricVaR99, "insufficient_data")
	src.set("acct-1", m)

	alerts, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "conc", alerts[0].RuleID)
	assert.Equal(t, models.RuleIdle, e.State("acct-1", "var"))
}

func TestMonitoringEngine_SourceErrorIsolatedToAccount(t *testing.T) {
	e, src, _ := newTestEngine(t, concentrationRule(0))
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})
	src.errs["acct-2"] = models.ErrTimeout

	alerts, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "acct-1", alerts[0].AccountID)
}

func TestMonitoringEngine_PublishFailureDoesNotFailTick(t *testing.T) {
	e, src, pub := newTestEngine(t, concentrationRule(0))
	pub.err = errors.New("broker down")
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.6})

	alerts, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestMonitoringEngine_DisabledRuleIgnored(t *testing.T) {
	r := concentrationRule(0)
	r.Enabled = false
	e, src, _ := newTestEngine(t, r)
	src.set("acct-1", models.RiskMetrics{ConcentrationRisk: 0.9})

	alerts, err := e.Tick(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Zero(t, src.calls)
}

func TestMonitoringEngine_RuleManagement(t *testing.T) {
	e, _, _ := newTestEngine(t, concentrationRule(0))

	err := e.AddRule(concentrationRule(0))
	assert.ErrorIs(t, err, models.ErrInvalidRule)

	err = e.ReplaceRule(models.MonitoringRule{ID: "nope", Metric: models.MetricBeta, Comparison: models.GreaterThan})
	assert.ErrorIs(t, err, models.ErrRuleNotFound)
	assert.ErrorIs(t, e.RemoveRule("nope"), models.ErrRuleNotFound)

	updated := concentrationRule(0)
	updated.Threshold = 0.4
	require.NoError(t, e.ReplaceRule(updated))
	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.InDelta(t, 0.4, rules[0].Threshold, 1e-12)

	require.NoError(t, e.RemoveRule("conc"))
	assert.Empty(t, e.Rules())
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.MonitoringRule
		wantErr bool
	}{
		{name: "valid", rule: concentrationRule(0)},
		{name: "ratio above one", rule: func() models.MonitoringRule { r := concentrationRule(0); r.Threshold = 1.5; return r }(), wantErr: true},
		{name: "unknown metric", rule: models.MonitoringRule{ID: "x", Metric: "sortino", Comparison: models.GreaterThan}, wantErr: true},
		{name: "bad comparison", rule: models.MonitoringRule{ID: "x", Metric: models.MetricBeta, Comparison: "=="}, wantErr: true},
		{name: "positive drawdown", rule: models.MonitoringRule{ID: "x", Metric: models.MetricMaxDrawdown, Threshold: 0.1, Comparison: models.LessThan}, wantErr: true},
		{name: "fractional count", rule: models.MonitoringRule{ID: "x", Metric: models.MetricPositionCount, Threshold: 2.5, Comparison: models.GreaterThan}, wantErr: true},
		{name: "negative cooldown", rule: func() models.MonitoringRule { r := concentrationRule(-time.Second); return r }(), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			err := ValidateRule(&r)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidRule)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateRule_FillsDefaults(t *testing.T) {
	r := models.MonitoringRule{ID: "lev", Metric: models.MetricLeverage, Threshold: 3, Comparison: models.GreaterOrEqual}
	require.NoError(t, ValidateRule(&r))
	assert.Equal(t, models.SeverityWarning, r.Severity)
	assert.Equal(t, time.Minute, r.Cadence)
}
