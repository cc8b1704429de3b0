package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Publisher ships one digest batch. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// DigestEntry is one distinct log line and how often it repeated.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

type CollectorOption func(*Collector)

// WithFlushInterval sets how often the digest is published.
func WithFlushInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxEntries flushes early once this many distinct lines are pending.
func WithMaxEntries(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithCollectorErrorLog receives publish failures. It must not itself be
// attached to the collector.
func WithCollectorErrorLog(l *Logger) CollectorOption {
	return func(c *Collector) { c.errLog = l }
}

// Collector folds repeated warnings and errors into counted entries and
// publishes them as one batch per interval. A stale price feed that fails
// every refresh becomes a single entry with a count.
type Collector struct {
	pub        Publisher
	topic      string
	interval   time.Duration
	maxEntries int
	now        func() time.Time
	errLog     *Logger

	mu      sync.Mutex
	entries map[string]*DigestEntry

	kick      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCollector starts the flush loop. Close stops it and flushes what is left.
func NewCollector(pub Publisher, topic string, opts ...CollectorOption) *Collector {
	c := &Collector{
		pub:        pub,
		topic:      topic,
		interval:   30 * time.Second,
		maxEntries: 100,
		now:        time.Now,
		errLog:     Nop(),
		entries:    make(map[string]*DigestEntry),
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Add records one occurrence of a log line.
func (c *Collector) Add(level, msg string, fields []Field) {
	kv := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		k, v := f.GetKeyValue()
		kv[k] = v
	}
	key := digestKey(level, msg, kv)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &DigestEntry{Level: level, Message: msg, Fields: kv, Count: 1, FirstSeen: now, LastSeen: now}
	}
	full := len(c.entries) >= c.maxEntries
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Flush publishes pending entries, oldest first. Entries are dropped when
// publishing fails so a broken broker cannot grow the digest without bound.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.entries) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := make([]DigestEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[string]*DigestEntry)
	c.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	if err := c.pub.Publish(ctx, c.topic, nil, batch); err != nil {
		return fmt.Errorf("publish log digest: %w", err)
	}
	return nil
}

func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
}

func (c *Collector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-c.kick:
		case <-c.stop:
			c.flushLogged()
			return
		}
		c.flushLogged()
	}
}

func (c *Collector) flushLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.errLog.Error("log digest", Error(err), String("topic", c.topic))
	}
}

func digestKey(level, msg string, kv map[string]interface{}) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte('|')
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, kv[k])
	}
	return b.String()
}
