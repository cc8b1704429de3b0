package models

// Requests for risk HTTP endpoints.

type AccountRequest struct {
	AccountID string `param:"account" query:"account" json:"account_id" validate:"required"`
	Refresh   bool   `query:"refresh" json:"refresh"`
}

type VaRRequest struct {
	AccountID   string  `param:"account" json:"account_id" validate:"required"`
	Method      string  `query:"method" json:"method" default:"historical" validate:"oneof=historical parametric monte_carlo"`
	Confidence  float64 `query:"confidence" json:"confidence" default:"0.95" validate:"gt=0,lt=1"`
	HorizonDays int     `query:"horizon" json:"horizon_days" default:"1" validate:"gte=1,lte=250"`
	Async       bool    `query:"async" json:"async"`
}

type StressRequest struct {
	AccountID  string `json:"account_id" validate:"required"`
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type BacktestRequest struct {
	AccountID    string  `json:"account_id" validate:"required"`
	ScenarioID   string  `json:"scenario_id" validate:"required"`
	InitialValue float64 `json:"initial_value" validate:"gt=0"`
	Async        bool    `json:"async"`
}

type HistoricalScenarioRequest struct {
	ID          string   `json:"id" validate:"required,max=64"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Symbols     []string `json:"symbols" validate:"required,min=1,dive,required"`
	Start       string   `json:"start" validate:"required"`
	End         string   `json:"end" validate:"required"`
}

type JobRequest struct {
	JobID string `param:"id" validate:"required"`
}
