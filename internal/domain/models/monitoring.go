package models

import (
	"fmt"
	"time"
)

type Comparison string

const (
	GreaterThan    Comparison = ">"
	GreaterOrEqual Comparison = ">="
	LessThan       Comparison = "<"
	LessOrEqual    Comparison = "<="
)

// Holds applies the comparison as value <op> threshold.
func (c Comparison) Holds(value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case GreaterOrEqual:
		return value >= threshold
	case LessThan:
		return value < threshold
	case LessOrEqual:
		return value <= threshold
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// MonitoringRule fires when Metric <Comparison> Threshold.
type MonitoringRule struct {
	ID         string        `json:"id" yaml:"id" validate:"required,max=64"`
	Metric     string        `json:"metric" yaml:"metric" validate:"required"`
	Threshold  float64       `json:"threshold" yaml:"threshold"`
	Comparison Comparison    `json:"comparison" yaml:"comparison" validate:"required,oneof=> >= < <="`
	Severity   Severity      `json:"severity" yaml:"severity" default:"warning" validate:"oneof=info warning critical"`
	Cadence    time.Duration `json:"cadence" yaml:"cadence" default:"1m" validate:"gt=0"`
	Cooldown   time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	Enabled    bool          `json:"enabled" yaml:"enabled"`
}

// RuleSpec is a rule as written in config or a request. A missing Enabled
// means enabled.
type RuleSpec struct {
	ID         string     `json:"id" yaml:"id"`
	Metric     string     `json:"metric" yaml:"metric"`
	Threshold  float64    `json:"threshold" yaml:"threshold"`
	Comparison Comparison `json:"comparison" yaml:"comparison"`
	Severity   Severity   `json:"severity" yaml:"severity"`
	Cadence    Duration   `json:"cadence" yaml:"cadence"`
	Cooldown   Duration   `json:"cooldown" yaml:"cooldown"`
	Enabled    *bool      `json:"enabled" yaml:"enabled"`
}

func (s RuleSpec) Rule() MonitoringRule {
	r := MonitoringRule{
		ID:         s.ID,
		Metric:     s.Metric,
		Threshold:  s.Threshold,
		Comparison: s.Comparison,
		Severity:   s.Severity,
		Cadence:    time.Duration(s.Cadence),
		Cooldown:   time.Duration(s.Cooldown),
		Enabled:    true,
	}
	if s.Enabled != nil {
		r.Enabled = *s.Enabled
	}
	return r
}

// CheckThreshold verifies the threshold fits the metric's value kind.
func (r MonitoringRule) CheckThreshold() error {
	kind, ok := KindOf(r.Metric)
	if !ok {
		return fmt.Errorf("rule %s: unknown metric %q: %w", r.ID, r.Metric, ErrInvalidRule)
	}
	if !kind.Accepts(r.Threshold) {
		return fmt.Errorf("rule %s: threshold %v out of range for %s: %w", r.ID, r.Threshold, r.Metric, ErrInvalidRule)
	}
	return nil
}

// RuleState is the evaluation state of one rule for one account.
type RuleState string

const (
	RuleIdle       RuleState = "idle"
	RuleEvaluating RuleState = "evaluating"
	RuleTriggered  RuleState = "triggered"
)

type RiskAlert struct {
	ID        string                 `json:"id"`
	AccountID string                 `json:"account_id"`
	RuleID    string                 `json:"rule_id"`
	Severity  Severity               `json:"severity"`
	Metric    string                 `json:"metric"`
	Message   string                 `json:"message"`
	Value     float64                `json:"value"`
	Threshold float64                `json:"threshold"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Spec is the inverse of RuleSpec.Rule.
func (r MonitoringRule) Spec() RuleSpec {
	enabled := r.Enabled
	return RuleSpec{
		ID:         r.ID,
		Metric:     r.Metric,
		Threshold:  r.Threshold,
		Comparison: r.Comparison,
		Severity:   r.Severity,
		Cadence:    Duration(r.Cadence),
		Cooldown:   Duration(r.Cooldown),
		Enabled:    &enabled,
	}
}

// Duration reads and writes Go duration strings such as "90s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", b, ErrInvalidInput)
	}
	*d = Duration(v)
	return nil
}
