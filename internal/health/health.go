// Package health implements the per-physical-address failure detector and
// retry scheduler: a small state machine that answers "is this address
// up?", "how many consecutive failures?", and "may it be retried yet?" A
// successful reply always erases the record; a sustained outage grows the
// retry interval multiplicatively, jittered, and capped.
package health

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/YaCodeDev/GoYaCodeDevUtils/yabackoff"
)

const (
	DefaultMaxHostRetries    = 3
	DefaultBaseRetryInterval = 10 * time.Second
	DefaultRetryIntervalMult = 2
	DefaultRetrySlopSecs     = 5 * time.Second
	DefaultMaxRetryInterval  = 600 * time.Second
)

// Config holds the tunables for the backoff state machine.
type Config struct {
	MaxHostRetries    int
	BaseRetryInterval time.Duration
	RetryIntervalMult float64
	RetrySlopSecs     time.Duration
	MaxRetryInterval  time.Duration
}

// WithDefaults fills any zero field with its spec default.
func (c Config) WithDefaults() Config {
	if c.MaxHostRetries <= 0 {
		c.MaxHostRetries = DefaultMaxHostRetries
	}
	if c.BaseRetryInterval <= 0 {
		c.BaseRetryInterval = DefaultBaseRetryInterval
	}
	if c.RetryIntervalMult <= 0 {
		c.RetryIntervalMult = DefaultRetryIntervalMult
	}
	if c.RetrySlopSecs <= 0 {
		c.RetrySlopSecs = DefaultRetrySlopSecs
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = DefaultMaxRetryInterval
	}
	return c
}

type state int

const (
	stateDownFast state = iota
	stateDownBackoff
)

type record struct {
	state       state
	failures    int
	lastAttempt time.Time
	downSince   time.Time
	interval    time.Duration
	backoff     yabackoff.Exponential
}

// MetricsSink receives notifications on every state transition, so callers
// (the metrics package) can maintain per-address gauges without the Tracker
// importing prometheus directly.
type MetricsSink interface {
	RecordUp(addr string)
	RecordDown(addr string, consecutiveFailures int, retryIntervalSeconds float64)
}

// Tracker is the per-address health state machine. Safe for concurrent use.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	sink   MetricsSink

	mu      sync.Mutex
	records map[string]*record
}

// New builds a Tracker. logger and sink may be nil (logging/metrics become
// no-ops).
func New(cfg Config, logger *slog.Logger, sink MetricsSink) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	return &Tracker{
		cfg:     cfg.WithDefaults(),
		logger:  logger,
		sink:    sink,
		records: make(map[string]*record),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// IsDown reports whether addr currently has an open health record.
func (t *Tracker) IsDown(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, down := t.records[addr]
	return down
}

// NeedsRetry reports whether a currently-down address may be attempted
// again right now. Always true while in the fast-retry phase; gated by the
// backoff interval once in backoff.
func (t *Tracker) NeedsRetry(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[addr]
	if !ok {
		return true
	}
	if rec.state == stateDownFast {
		return true
	}
	return time.Since(rec.lastAttempt) >= rec.interval
}

// MarkDown records a failure against addr, advancing its state machine.
func (t *Tracker) MarkDown(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, ok := t.records[addr]
	if !ok {
		rec = &record{
			state:       stateDownFast,
			failures:    1,
			lastAttempt: now,
			downSince:   now,
			interval:    t.cfg.BaseRetryInterval,
			backoff: yabackoff.NewExponential(
				t.cfg.BaseRetryInterval,
				t.cfg.RetryIntervalMult,
				t.cfg.MaxRetryInterval,
				0,
			),
		}
		t.records[addr] = rec
		t.logger.Warn("address seen down", "address", addr)
		t.report(addr, rec)
		return
	}

	rec.lastAttempt = now
	switch rec.state {
	case stateDownFast:
		rec.failures++
		if rec.failures >= t.cfg.MaxHostRetries {
			rec.state = stateDownBackoff
			rec.backoff.Next() // consume the free initial-interval step
			t.logger.Warn("address crossed max_host_retries into backoff",
				"address", addr, "failures", rec.failures)
		}
	case stateDownBackoff:
		rec.failures++
		if rec.interval < t.cfg.MaxRetryInterval {
			grown := rec.backoff.Next()
			jitter := jitterDuration(t.cfg.RetrySlopSecs)
			next := grown + jitter
			if next > t.cfg.MaxRetryInterval {
				next = t.cfg.MaxRetryInterval
			}
			rec.interval = next
			t.logger.Warn("backoff interval increased",
				"address", addr, "failures", rec.failures, "retry_interval", rec.interval)
		}
	}
	t.report(addr, rec)
}

// MarkUp erases addr's health record (spec: "a successful reply erases the
// record").
func (t *Tracker) MarkUp(addr string) {
	t.mu.Lock()
	rec, ok := t.records[addr]
	if ok {
		delete(t.records, addr)
	}
	t.mu.Unlock()

	if ok {
		t.logger.Warn("address recovered", "address", addr, "down_since", rec.downSince)
	}
	if t.sink != nil {
		t.sink.RecordUp(addr)
	}
}

// ConsecutiveFailures reports the current failure count for addr (0 if up).
func (t *Tracker) ConsecutiveFailures(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[addr]
	if !ok {
		return 0
	}
	return rec.failures
}

func (t *Tracker) report(addr string, rec *record) {
	if t.sink != nil {
		t.sink.RecordDown(addr, rec.failures, rec.interval.Seconds())
	}
}

// jitterDuration picks a uniform integer number of seconds in
// [0, slop/time.Second), per spec: "jittered upward by a uniform integer in
// [0, retry_slop_secs)".
func jitterDuration(slop time.Duration) time.Duration {
	secs := int64(slop / time.Second)
	if secs <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(secs)) * time.Second
}
