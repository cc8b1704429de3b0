package models

import (
	"math"
	"sort"
	"time"
)

// Position is a read-only view of one holding. Quantity is signed, negative for shorts.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Currency      string  `json:"currency,omitempty"`
}

// MarketValue returns quantity times price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// AccountSnapshot is an immutable view of an account at a point in time.
type AccountSnapshot struct {
	AccountID       string    `json:"account_id"`
	Equity          float64   `json:"equity"`
	AvailableMargin float64   `json:"available_margin"`
	Currency        string    `json:"currency,omitempty"`
	AsOf            time.Time `json:"as_of"`
}

// ReturnSeries holds periodic (daily) simple returns, oldest first.
type ReturnSeries struct {
	Symbol  string      `json:"symbol"`
	Returns []float64   `json:"returns"`
	Dates   []time.Time `json:"dates,omitempty"`
}

func (s ReturnSeries) Len() int { return len(s.Returns) }

// Tail returns the last n observations, or the whole series when shorter.
func (s ReturnSeries) Tail(n int) []float64 {
	if n <= 0 || n >= len(s.Returns) {
		return s.Returns
	}
	return s.Returns[len(s.Returns)-n:]
}

// Candle is an OHLCV bar from the price history store.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is a last-trade price update from the live feed.
type Quote struct {
	Symbol    string    `json:"s"`
	Price     float64   `json:"p"`
	Volume    float64   `json:"v"`
	Timestamp time.Time `json:"t"`
}

// MarketSnapshot is the market data a computation runs against.
// ADV is average daily volume in shares.
type MarketSnapshot struct {
	Prices  map[string]float64      `json:"prices"`
	Returns map[string]ReturnSeries `json:"-"`
	ADV     map[string]float64      `json:"adv,omitempty"`
	AsOf    time.Time               `json:"as_of"`
}

// Price resolves the current price of a position: snapshot first, then mark.
func (m MarketSnapshot) Price(p Position) (float64, bool) {
	if px, ok := m.Prices[p.Symbol]; ok && px > 0 && !math.IsNaN(px) {
		return px, true
	}
	if p.MarkPrice > 0 {
		return p.MarkPrice, true
	}
	return 0, false
}

// RiskContext carries everything one risk computation needs. It replaces any
// process-wide state; deadlines travel separately in context.Context.
type RiskContext struct {
	AccountID string          `json:"account_id"`
	Positions []Position      `json:"positions"`
	Account   AccountSnapshot `json:"account"`
	Market    MarketSnapshot  `json:"market"`
}

// Symbols returns the distinct symbols with a non-zero position.
func (rc RiskContext) Symbols() []string {
	seen := make(map[string]struct{}, len(rc.Positions))
	out := make([]string, 0, len(rc.Positions))
	for _, p := range rc.Positions {
		if p.Quantity == 0 {
			continue
		}
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p.Symbol)
	}
	return out
}

// Holding is one symbol's net position and the price it is valued at.
type Holding struct {
	Symbol   string
	Quantity float64
	Price    float64
	// Quoted is false when no market or mark price exists and Price is the
	// entry price of the symbol's first lot.
	Quoted bool
}

// MarketValue returns the signed value of the holding.
func (h Holding) MarketValue() float64 { return h.Quantity * h.Price }

// Holdings nets the positions by symbol, in first-seen order. Symbols that
// net to zero are dropped.
func (rc RiskContext) Holdings() []Holding {
	idx := make(map[string]int, len(rc.Positions))
	out := make([]Holding, 0, len(rc.Positions))
	for _, p := range rc.Positions {
		i, ok := idx[p.Symbol]
		if !ok {
			i = len(out)
			idx[p.Symbol] = i
			out = append(out, Holding{Symbol: p.Symbol, Price: p.AvgEntryPrice})
		}
		h := &out[i]
		h.Quantity += p.Quantity
		if !h.Quoted {
			if px, ok := rc.Market.Price(p); ok {
				h.Price, h.Quoted = px, true
			}
		}
	}
	n := 0
	for _, h := range out {
		if h.Quantity != 0 {
			out[n] = h
			n++
		}
	}
	return out[:n]
}

// Exposures maps each holding's symbol to its market value.
func Exposures(hs []Holding) map[string]float64 {
	out := make(map[string]float64, len(hs))
	for _, h := range hs {
		out[h.Symbol] = h.MarketValue()
	}
	return out
}

// Concentration is the largest absolute value in values over the sum of
// absolute values, with the symbol holding it. A book with no exposure has
// zero concentration and no symbol. Ties go to the lexically smaller symbol.
func Concentration(values map[string]float64) (float64, string) {
	syms := make([]string, 0, len(values))
	for s := range values {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	var gross, top float64
	var sym string
	for _, s := range syms {
		a := math.Abs(values[s])
		gross += a
		if a > top {
			top, sym = a, s
		}
	}
	if gross <= 0 {
		return 0, ""
	}
	return top / gross, sym
}

// PositionUpdate is one message on the position feed. Exactly one of
// Position and Account is set.
type PositionUpdate struct {
	AccountID string           `json:"account_id"`
	Position  *Position        `json:"position,omitempty"`
	Account   *AccountSnapshot `json:"account,omitempty"`
	Timestamp time.Time        `json:"ts"`
}
