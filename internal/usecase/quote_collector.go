package usecase

import (
	"context"
	"sync"
	"time"

	"FinRisk/internal/domain/models"
	drepo "FinRisk/internal/domain/repository"
	applogger "FinRisk/pkg/logger"
)

// QuoteCollector feeds live quotes into the price store. Quotes for one
// symbol arriving faster than MaxPerSecond are dropped.
type QuoteCollector struct {
	stream  drepo.QuoteStream
	prices  drepo.PriceStore
	metrics drepo.Metrics
	l       *applogger.Logger

	minGap   time.Duration
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewQuoteCollector(stream drepo.QuoteStream, prices drepo.PriceStore, metrics drepo.Metrics, l *applogger.Logger, maxPerSecond int) *QuoteCollector {
	c := &QuoteCollector{
		stream:   stream,
		prices:   prices,
		metrics:  metrics,
		l:        l,
		lastSeen: make(map[string]time.Time),
	}
	if maxPerSecond > 0 {
		c.minGap = time.Second / time.Duration(maxPerSecond)
	}
	return c
}

// IsConnected returns true if the quote stream is connected.
func (c *QuoteCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	qCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, qCh, errCh)
	return nil
}

func (c *QuoteCollector) consume(ctx context.Context, qCh <-chan *models.Quote, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				c.metrics.RecordError("quote_stream")
				c.l.Warn("quote stream error, reconnecting", applogger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.l.Error("quote stream reconnect", applogger.Error(rerr))
				}
			}
		case q, ok := <-qCh:
			if !ok {
				return
			}
			c.Accept(q)
		}
	}
}

// Accept validates and throttles one quote, then updates the price store.
// It reports whether the quote was stored.
func (c *QuoteCollector) Accept(q *models.Quote) bool {
	if q == nil || q.Symbol == "" || !(q.Price > 0) {
		return false
	}
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if c.minGap > 0 {
		c.mu.Lock()
		last, seen := c.lastSeen[q.Symbol]
		if seen && ts.Sub(last) < c.minGap {
			c.mu.Unlock()
			return false
		}
		c.lastSeen[q.Symbol] = ts
		c.mu.Unlock()
	}
	c.prices.UpdatePrice(q.Symbol, q.Price, ts)
	c.metrics.RecordLastPrice(q.Symbol, q.Price)
	return true
}

func (c *QuoteCollector) Stop() error { return c.stream.Close() }
