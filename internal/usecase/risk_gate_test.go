package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/service/ratelimit"
)

// msftBook holds 50 MSFT at 300 against 100,000 of equity.
func msftBook() models.RiskContext {
	return models.RiskContext{
		AccountID: "acct-1",
		Positions: []models.Position{{Symbol: "MSFT", Quantity: 50, AvgEntryPrice: 280}},
		Account:   models.AccountSnapshot{AccountID: "acct-1", Equity: 100000, AvailableMargin: 50000},
		Market:    models.MarketSnapshot{Prices: map[string]float64{"MSFT": 300, "AAPL": 150}},
	}
}

// pairBook adds 100 AAPL at 150 to msftBook, so each symbol is half of gross.
func pairBook() models.RiskContext {
	rc := msftBook()
	rc.Positions = append(rc.Positions, models.Position{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 140})
	return rc
}

// sampleBook is long 15,000 each of AAPL and MSFT and short 56,000 of GOOGL.
func sampleBook() models.RiskContext {
	return models.RiskContext{
		AccountID: "acct-1",
		Positions: []models.Position{
			{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 150},
			{Symbol: "MSFT", Quantity: 50, AvgEntryPrice: 300},
			{Symbol: "GOOGL", Quantity: -20, AvgEntryPrice: 2800},
		},
		Account: models.AccountSnapshot{AccountID: "acct-1", Equity: 100000, AvailableMargin: 100000},
		Market:  models.MarketSnapshot{Prices: map[string]float64{"AAPL": 150, "MSFT": 300, "GOOGL": 2800}},
	}
}

func buy(symbol string, qty int64) models.Order {
	return models.Order{ID: "ord-1", AccountID: "acct-1", Symbol: symbol, Side: models.SideBuy, Type: models.OrderMarket, Quantity: decimal.NewFromInt(qty)}
}

func sell(symbol string, qty int64) models.Order {
	o := buy(symbol, qty)
	o.Side = models.SideSell
	return o
}

// filled books the order as a new lot at market.
func filled(rc models.RiskContext, o models.Order) models.RiskContext {
	out := rc
	out.Positions = append(append([]models.Position(nil), rc.Positions...), models.Position{
		Symbol:        o.Symbol,
		Quantity:      o.SignedQuantity().InexactFloat64(),
		AvgEntryPrice: rc.Market.Prices[o.Symbol],
	})
	return out
}

func aggregatedConcentration(t *testing.T, rc models.RiskContext) float64 {
	t.Helper()
	m, err := NewMetricsAggregator(AggregatorConfig{}, &fakeCalc{}, nil, nil).Refresh(context.Background(), rc)
	require.NoError(t, err)
	return m.ConcentrationRisk
}

func codes(v models.Verdict) []string {
	out := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		out = append(out, viol.Code)
	}
	return out
}

func TestRiskGate_AllowsWithinLimits(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxOrderNotional: 50000, MaxConcentration: 0.5, MaxLeverage: 2, MarginRate: 0.5}, fakeCached{})

	v := g.CheckOrder(buy("AAPL", 100), msftBook())
	assert.True(t, v.Allow)
	assert.Empty(t, v.Violations)
	assert.NotNil(t, v.Actions)
	assert.Equal(t, "ord-1", v.OrderID)
	assert.Nil(t, v.SuggestedQuantity)
}

func TestRiskGate_ConcentrationDenialSuggestsQuantity(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxConcentration: 0.6}, fakeCached{})

	// 400 AAPL is 60,000 of 75,000 gross
	v := g.CheckOrder(buy("AAPL", 300), pairBook())
	require.False(t, v.Allow)
	assert.Equal(t, []string{models.ViolationConcentration}, codes(v))
	assert.Contains(t, v.Violations[0].Message, "AAPL would be 80.00%")
	require.NotNil(t, v.SuggestedQuantity)
	assert.True(t, decimal.NewFromInt(50).Equal(*v.SuggestedQuantity), "got %s", v.SuggestedQuantity)
	assert.Contains(t, v.Actions, "modify: reduce quantity to 50")

	again := g.CheckOrder(buy("AAPL", 50), pairBook())
	assert.True(t, again.Allow, "violations: %v", again.Violations)
	assert.InDelta(t, 0.6, aggregatedConcentration(t, filled(pairBook(), buy("AAPL", 50))), 1e-12)
}

func TestRiskGate_NoSuggestionWhenAlreadyOverLimit(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxConcentration: 0.6}, fakeCached{})

	v := g.CheckOrder(sell("GOOGL", 1), sampleBook())
	require.Equal(t, []string{models.ViolationConcentration}, codes(v))
	assert.Nil(t, v.SuggestedQuantity)
}

func TestRiskGate_ConcentrationMatchesAggregator(t *testing.T) {
	const limit = 0.6
	g := NewRiskGate(GateConfig{MaxConcentration: limit}, fakeCached{})
	pre := aggregatedConcentration(t, sampleBook())
	require.InDelta(t, 56000.0/86000.0, pre, 1e-12)

	cases := []struct {
		name  string
		order models.Order
		post  float64
		allow bool
	}{
		{"selling GOOGL grows the short", sell("GOOGL", 1), 58800.0 / 88800.0, false},
		{"buying GOOGL covers part of the short", buy("GOOGL", 1), 53200.0 / 83200.0, true},
		{"buying AAPL dilutes GOOGL", buy("AAPL", 10), 56000.0 / 87500.0, true},
		{"selling AAPL lifts the GOOGL share", sell("AAPL", 50), 56000.0 / 78500.0, false},
		{"buying MSFT well under the limit", buy("MSFT", 1), 56000.0 / 86300.0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			post := aggregatedConcentration(t, filled(sampleBook(), tc.order))
			require.InDelta(t, tc.post, post, 1e-12)

			v := g.CheckOrder(tc.order, sampleBook())
			assert.Equal(t, tc.allow, v.Allow, "violations: %v", v.Violations)
			assert.Equal(t, post > limit && post > pre, !v.Allow, "gate disagrees with concentration_risk %.4f", post)
			if !v.Allow {
				assert.Contains(t, v.Violations[0].Message, "GOOGL would be")
			}
		})
	}
}

func TestRiskGate_ConcentrationOnEmptyBook(t *testing.T) {
	rc := msftBook()
	rc.Positions = nil

	g := NewRiskGate(GateConfig{MaxConcentration: 0.25}, fakeCached{})
	v := g.CheckOrder(buy("AAPL", 10), rc)
	assert.Equal(t, []string{models.ViolationConcentration}, codes(v), "a lone holding is the whole book")
	assert.Nil(t, v.SuggestedQuantity)

	g = NewRiskGate(GateConfig{MaxConcentration: 0.25, ConcentrationMinGross: 50000}, fakeCached{})
	assert.True(t, g.CheckOrder(buy("AAPL", 10), rc).Allow)
	v = g.CheckOrder(buy("AAPL", 400), rc)
	assert.Equal(t, []string{models.ViolationConcentration}, codes(v), "60,000 is over the floor")
}

func TestRiskGate_NetsLotsBySymbol(t *testing.T) {
	rc := pairBook()
	rc.Positions = []models.Position{
		{Symbol: "MSFT", Quantity: 30, AvgEntryPrice: 280},
		{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 140},
		{Symbol: "MSFT", Quantity: 20, AvgEntryPrice: 310},
	}
	g := NewRiskGate(GateConfig{DefaultMaxPositionQty: 60, MaxConcentration: 0.6}, fakeCached{})

	// 70 MSFT is 21,000 of 36,000 gross
	v := g.CheckOrder(buy("MSFT", 20), rc)
	assert.Equal(t, []string{models.ViolationPositionLimit}, codes(v))
	assert.Contains(t, v.Violations[0].Message, "MSFT 70")

	// 80 MSFT is 24,000 of 39,000 gross
	v = g.CheckOrder(buy("MSFT", 30), rc)
	assert.ElementsMatch(t, []string{models.ViolationPositionLimit, models.ViolationConcentration}, codes(v))
	assert.InDelta(t, 24000.0/39000.0, aggregatedConcentration(t, filled(rc, buy("MSFT", 30))), 1e-12)
}

func TestRiskGate_CollectsEveryViolation(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxOrderNotional: 10000, MaxConcentration: 0.6, DefaultMaxPositionQty: 200}, fakeCached{})

	v := g.CheckOrder(buy("AAPL", 300), pairBook())
	assert.False(t, v.Allow)
	assert.ElementsMatch(t, []string{
		models.ViolationOrderNotional,
		models.ViolationPositionLimit,
		models.ViolationConcentration,
	}, codes(v))
	assert.Nil(t, v.SuggestedQuantity, "no suggestion when size is not the only problem")
}

func TestRiskGate_FailsClosed(t *testing.T) {
	t.Run("missing price", func(t *testing.T) {
		g := NewRiskGate(GateConfig{}, fakeCached{})
		v := g.CheckOrder(buy("TSLA", 1), msftBook())
		assert.False(t, v.Allow)
		assert.Equal(t, []string{models.ViolationMissingPrice}, codes(v))
	})
	t.Run("missing metrics", func(t *testing.T) {
		g := NewRiskGate(GateConfig{RequireMetrics: true}, fakeCached{ok: false})
		v := g.CheckOrder(buy("AAPL", 1), msftBook())
		assert.False(t, v.Allow)
		assert.Equal(t, []string{models.ViolationMissingMetrics}, codes(v))
	})
	t.Run("internal panic", func(t *testing.T) {
		g := NewRiskGate(GateConfig{}, fakeCached{panic: true})
		v := g.CheckOrder(buy("AAPL", 1), msftBook())
		assert.False(t, v.Allow)
		assert.Equal(t, []string{models.ViolationInternal}, codes(v))
	})
	t.Run("negative equity", func(t *testing.T) {
		g := NewRiskGate(GateConfig{}, fakeCached{})
		rc := msftBook()
		rc.Account.Equity = -10
		v := g.CheckOrder(buy("AAPL", 1), rc)
		assert.Equal(t, []string{models.ViolationLeverage}, codes(v))
	})
}

func TestRiskGate_InvalidOrder(t *testing.T) {
	g := NewRiskGate(GateConfig{}, fakeCached{})
	cases := map[string]models.Order{
		"zero quantity":   {AccountID: "acct-1", Symbol: "AAPL", Side: models.SideBuy, Quantity: decimal.Zero},
		"bad side":        {AccountID: "acct-1", Symbol: "AAPL", Side: "hold", Quantity: decimal.NewFromInt(1)},
		"limit no price":  {AccountID: "acct-1", Symbol: "AAPL", Side: models.SideBuy, Type: models.OrderLimit, Quantity: decimal.NewFromInt(1)},
		"wrong account":   {AccountID: "acct-9", Symbol: "AAPL", Side: models.SideBuy, Quantity: decimal.NewFromInt(1)},
		"missing symbol":  {AccountID: "acct-1", Side: models.SideBuy, Quantity: decimal.NewFromInt(1)},
		"unknown type":    {AccountID: "acct-1", Symbol: "AAPL", Side: models.SideBuy, Type: "stop", Quantity: decimal.NewFromInt(1)},
		"missing account": {Symbol: "AAPL", Side: models.SideBuy, Quantity: decimal.NewFromInt(1)},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			v := g.CheckOrder(o, msftBook())
			assert.False(t, v.Allow)
			assert.Equal(t, []string{models.ViolationInvalidOrder}, codes(v))
		})
	}
}

func TestRiskGate_KillSwitchAndHalt(t *testing.T) {
	g := NewRiskGate(GateConfig{}, fakeCached{})

	g.SetKillSwitch(true)
	v := g.CheckOrder(buy("AAPL", 1), msftBook())
	assert.Equal(t, []string{models.ViolationKillSwitch}, codes(v))
	g.SetKillSwitch(false)

	g.HaltAccount("acct-1", true)
	v = g.CheckOrder(buy("AAPL", 1), msftBook())
	assert.Equal(t, []string{models.ViolationKillSwitch}, codes(v))
	assert.True(t, strings.Contains(v.Violations[0].Message, "acct-1"))

	g.HaltAccount("acct-1", false)
	assert.True(t, g.CheckOrder(buy("AAPL", 1), msftBook()).Allow)
}

func TestRiskGate_RateLimit(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	lim := ratelimit.NewWithClock(func() time.Time { return now })
	g := NewRiskGate(GateConfig{OrdersPerSecond: 1, OrderBurst: 1}, fakeCached{}, WithGateLimiter(lim))

	assert.True(t, g.CheckOrder(buy("AAPL", 1), msftBook()).Allow)
	v := g.CheckOrder(buy("AAPL", 1), msftBook())
	assert.Equal(t, []string{models.ViolationRateLimit}, codes(v))
}

func TestRiskGate_VaRLimitProjectsPostTradeExposure(t *testing.T) {
	cached := fakeCached{ok: true, m: models.RiskMetrics{AccountID: "acct-1", VaR99: 9000, ComputedAt: time.Now()}}
	g := NewRiskGate(GateConfig{MaxVaRPct: 0.15}, cached)

	// doubling MSFT doubles gross, so VaR99 9,000 projects to 18,000
	v := g.CheckOrder(buy("MSFT", 50), msftBook())
	assert.Equal(t, []string{models.ViolationVaRLimit}, codes(v))
	assert.Contains(t, v.Violations[0].Message, "18.00%")
	assert.NotNil(t, v.MetricsAsOf)

	v = g.CheckOrder(buy("MSFT", 10), msftBook())
	assert.True(t, v.Allow, "10,800 is under 15 percent of equity")
}

func TestRiskGate_RiskReducingSellAllowed(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxConcentration: 0.01, MaxLeverage: 0.01}, fakeCached{})
	order := models.Order{ID: "ord-2", AccountID: "acct-1", Symbol: "MSFT", Side: models.SideSell, Quantity: decimal.NewFromInt(20)}

	v := g.CheckOrder(order, msftBook())
	assert.True(t, v.Allow, "violations: %v", v.Violations)
}

func TestRiskGate_PriceBand(t *testing.T) {
	g := NewRiskGate(GateConfig{MaxPriceDeviationBps: 100}, fakeCached{})
	order := buy("AAPL", 10)
	order.Type = models.OrderLimit

	order.Price = decimal.NewFromInt(160)
	v := g.CheckOrder(order, msftBook())
	assert.Equal(t, []string{models.ViolationPriceBand}, codes(v))

	order.Price = decimal.RequireFromString("151")
	assert.True(t, g.CheckOrder(order, msftBook()).Allow)
}

func TestRiskGate_MarginCheck(t *testing.T) {
	g := NewRiskGate(GateConfig{MarginRate: 0.5}, fakeCached{})
	rc := msftBook()
	rc.Account.AvailableMargin = 1000

	v := g.CheckOrder(buy("AAPL", 100), rc)
	assert.Equal(t, []string{models.ViolationMargin}, codes(v))
}
