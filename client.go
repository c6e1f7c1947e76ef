// Package fedis implements a federated, asynchronous client for a
// Redis-compatible key/value server that fronts a pool of independent
// backend instances behind one logical interface: consistent-hash sharding
// by key, per-address failure detection with exponential backoff, and a
// batched dispatcher with a single per-poll completion barrier.
//
// The underlying line-protocol client is github.com/redis/go-redis/v9;
// fedis only decides which address a command goes to and when it may be
// retried, never how the wire protocol itself works.
package fedis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beyondkv/fedis/internal/connpool"
	"github.com/beyondkv/fedis/internal/hashring"
	"github.com/beyondkv/fedis/internal/health"
	"github.com/beyondkv/fedis/internal/metrics"
	"github.com/beyondkv/fedis/internal/noderegistry"
	"github.com/beyondkv/fedis/internal/reqbook"
	"github.com/beyondkv/fedis/internal/tracelog"
)

const (
	DefaultCommandTimeout = time.Second
)

// NodeDescriptor is one entry of Options.Nodes: either a single fixed
// address or an ordered list of alternates to fail over among.
type NodeDescriptor struct {
	Address   string
	Addresses []string
}

// Options are the federated client's constructor options.
type Options struct {
	// Nodes maps logical node name to its address descriptor. Required;
	// at least one entry, each with Address or Addresses set.
	Nodes map[string]NodeDescriptor

	// MasterOf maps a replica address to its master's address, purely for
	// callers to introspect. Never consulted by routing.
	MasterOf map[string]string

	// Tag enables instance sharing via the process-wide object cache.
	Tag string

	// CommandTimeout: nil means "use the default (1s)"; a zero duration
	// explicitly disables the poll timeout; a positive duration is used
	// as-is.
	CommandTimeout *time.Duration

	MaxHostRetries    int
	BaseRetryInterval time.Duration
	RetryIntervalMult float64
	RetrySlopSecs     time.Duration
	MaxRetryInterval  time.Duration

	IdleTimeout    time.Duration
	Persistent     bool
	ConnectTimeout time.Duration

	Debug       bool
	DebugEvents []string

	Logger *slog.Logger
}

// UserCallback receives the outcome of a dispatched command. A Go nil
// Reply means the request was refused, cancelled by timeout, or failed at
// the connection level — never that the backend replied with RESP nil (see
// ReplyNil for that case).
type UserCallback func(Reply)

// Client is a federated Redis client: a single hash ring, node registry,
// health tracker, connection pool, and request book, owned together.
type Client struct {
	mu sync.Mutex // guards commandTimeout and the node-mutation sequence

	ring     *hashring.Ring
	registry *noderegistry.Registry
	health   *health.Tracker
	pool     *connpool.Pool
	book     *reqbook.Book

	logger *slog.Logger
	trace  *tracelog.Events

	commandTimeout time.Duration
	masterOf       map[string]string
	tag            string
}

// New constructs a Client. Configuration errors (no nodes, a node with
// neither Address nor Addresses) are fatal at construction; every other
// failure mode is delivered through callbacks, never as a returned error
// from a dispatched command.
func New(opts Options) (*Client, error) {
	if len(opts.Nodes) == 0 {
		return nil, fmt.Errorf("fedis: at least one node is required")
	}
	for name, n := range opts.Nodes {
		if n.Address == "" && len(n.Addresses) == 0 {
			return nil, fmt.Errorf("fedis: node %q has neither Address nor Addresses", name)
		}
	}

	if opts.Tag != "" {
		if c, ok := lookupShared(opts.Tag); ok {
			return c, nil
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}

	names := make([]string, 0, len(opts.Nodes))
	registry := noderegistry.New()
	for name, n := range opts.Nodes {
		names = append(names, name)
		if len(n.Addresses) > 0 {
			registry.AddAlternates(name, n.Addresses)
		} else {
			registry.AddSingle(name, n.Address)
		}
	}

	commandTimeout := DefaultCommandTimeout
	if opts.CommandTimeout != nil {
		commandTimeout = *opts.CommandTimeout
	}

	trace := tracelog.New(nil)
	if opts.Debug {
		events := opts.DebugEvents
		if len(events) == 0 {
			events = tracelog.AllEvents
		}
		trace.Set(events)
	}

	masterOf := make(map[string]string, len(opts.MasterOf))
	for k, v := range opts.MasterOf {
		masterOf[k] = v
	}

	healthCfg := health.Config{
		MaxHostRetries:    opts.MaxHostRetries,
		BaseRetryInterval: opts.BaseRetryInterval,
		RetryIntervalMult: opts.RetryIntervalMult,
		RetrySlopSecs:     opts.RetrySlopSecs,
		MaxRetryInterval:  opts.MaxRetryInterval,
	}

	poolOpts := connpool.Options{
		IdleTimeout:    opts.IdleTimeout,
		Persistent:     opts.Persistent,
		ConnectTimeout: opts.ConnectTimeout,
	}

	c := &Client{
		ring:           hashring.New(names),
		registry:       registry,
		health:         health.New(healthCfg, logger, metricsSink{}),
		pool:           connpool.New(connpool.NewRedisDialer(poolOpts), poolOpts),
		book:           reqbook.New(),
		logger:         logger,
		trace:          trace,
		commandTimeout: commandTimeout,
		masterOf:       masterOf,
		tag:            opts.Tag,
	}

	if opts.Tag != "" {
		c = storeShared(opts.Tag, c)
	}

	return c, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type metricsSink struct{}

func (metricsSink) RecordUp(addr string) { metrics.RecordUp(addr) }
func (metricsSink) RecordDown(addr string, failures int, retrySeconds float64) {
	metrics.RecordDown(addr, failures, retrySeconds)
}

// splitDispatchArgs extracts the routing key from a verb's arguments: the
// first argument is the logical key, unless it is a two-element group pair
// [group, key], in which case the hash key is the group and the forwarded
// first argument is the key. MULTI/EXEC carry no arguments regardless of
// what was passed.
func splitDispatchArgs(verb string, args []any) (hashKey []byte, forwarded []any) {
	switch strings.ToUpper(verb) {
	case "MULTI", "EXEC":
		return []byte(verb), nil
	}
	if len(args) == 0 {
		return []byte(verb), nil
	}
	if pair, ok := asGroupPair(args[0]); ok {
		fwd := make([]any, 0, len(args))
		fwd = append(fwd, pair[1])
		fwd = append(fwd, args[1:]...)
		return toHashBytes(pair[0]), fwd
	}
	return toHashBytes(args[0]), args
}

func asGroupPair(v any) ([2]any, bool) {
	switch t := v.(type) {
	case [2]any:
		return t, true
	case []any:
		if len(t) == 2 {
			return [2]any{t[0], t[1]}, true
		}
	}
	return [2]any{}, false
}

func toHashBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return []byte(fmt.Sprint(t))
	}
}

// Dispatch is the public command entry point: route, health-gate, acquire
// a connection, submit, register completion, and apply the user callback.
// Returns the client itself to enable call chaining.
func (c *Client) Dispatch(verb string, args []any, cb UserCallback) *Client {
	if cb == nil {
		cb = func(Reply) {}
	}

	hashKey, fwdArgs := splitDispatchArgs(verb, args)

	node := c.ring.Lookup(hashKey)
	if node == "" {
		cb(nil)
		return c
	}

	addr, err := c.registry.AddressOf(node)
	if err != nil {
		cb(nil)
		return c
	}

	if c.registry.HasAlternates(node) && c.health.IsDown(addr) {
		c.registry.Rotate(node)
		metrics.RecordRotation(node)
		c.logger.Warn("rotated to next alternate address", "node", node, "down_address", addr)
		tracelog.Trace(c.trace, c.logger, tracelog.EventRotation,
			"rotated to next alternate", "node", node)
		addr, err = c.registry.AddressOf(node)
		if err != nil {
			cb(nil)
			return c
		}
	}

	conn := c.pool.Acquire(addr)

	if c.health.IsDown(addr) && !c.health.NeedsRetry(addr) {
		metrics.RecordDispatch("refused")
		cb(nil)
		return c
	}

	id := c.book.Begin()
	metrics.SetBarrierPending(c.book.Pending())
	tracelog.Trace(c.trace, c.logger, tracelog.EventDispatch,
		"dispatch", "verb", verb, "node", node, "address", addr)

	cmdArgs := make([]any, 0, len(fwdArgs)+1)
	cmdArgs = append(cmdArgs, verb)
	cmdArgs = append(cmdArgs, fwdArgs...)

	go func() {
		ctx := context.Background()
		val, doErr := conn.Do(ctx, cmdArgs...).Result()

		var appErr redis.Error
		if doErr != nil && !errors.Is(doErr, redis.Nil) && !errors.As(doErr, &appErr) {
			// Connection-level error before any reply arrived.
			c.health.MarkDown(addr)
			if c.registry.HasAlternates(node) {
				c.registry.Rotate(node)
				metrics.RecordRotation(node)
				c.logger.Warn("rotated to next alternate address", "node", node, "down_address", addr)
			}
			c.book.Fail(id)
			metrics.SetBarrierPending(c.book.Pending())
			metrics.RecordDispatch("error")
			cb(nil)
			return
		}

		wasOpen, known := c.book.Observe(id)
		metrics.SetBarrierPending(c.book.Pending())
		if !known {
			return
		}
		if !wasOpen {
			// Cancelled by a command timeout before this reply arrived.
			c.health.MarkDown(addr)
			metrics.RecordDispatch("timeout")
			cb(nil)
			return
		}

		// A reply arrived on the wire, whether or not it was a backend
		// -ERR: the connection itself is healthy.
		c.health.MarkUp(addr)
		c.pool.Touch(addr)
		metrics.RecordDispatch("ok")
		if appErr != nil {
			cb(ReplyErr(appErr.Error()))
			return
		}
		cb(replyFromValue(val))
	}()

	return c
}

// Poll waits for the currently open batch to drain, enforcing the command
// timeout. Returns immediately if no batch is open.
func (c *Client) Poll() {
	if c.book.Pending() == 0 {
		return
	}

	c.mu.Lock()
	timeout := c.commandTimeout
	c.mu.Unlock()

	start := time.Now()
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.book.Wait(ctx)

	if ctx.Err() != nil {
		for _, id := range c.book.OpenIDs() {
			c.book.Cancel(id)
		}
	}
	metrics.SetBarrierPending(c.book.Pending())
	metrics.PollDurationSeconds.Observe(time.Since(start).Seconds())
}

// AddNode registers a new logical node, adding it to the hash ring and
// node registry. Only the buckets the new node claims change owner; every
// other key keeps its existing node.
func (c *Client) AddNode(name string, descriptor NodeDescriptor) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(descriptor.Addresses) > 0 {
		c.registry.AddAlternates(name, descriptor.Addresses)
	} else {
		c.registry.AddSingle(name, descriptor.Address)
	}
	c.ring.Add(name, hashring.DefaultWeight)
	return c
}

// RemoveNode drops a logical node from the ring and registry, and evicts
// any cached connection to an address no longer reachable through any
// remaining node.
func (c *Client) RemoveNode(name string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring.Remove(name)
	c.registry.Remove(name)
	c.pool.EvictExcept(c.registry.AllAddresses())
	return c
}

// CommandTimeout reads or sets the per-batch command timeout in seconds.
// Called with no arguments it only reads the current value.
func (c *Client) CommandTimeout(seconds ...float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(seconds) > 0 {
		c.commandTimeout = time.Duration(seconds[0] * float64(time.Second))
	}
	return c.commandTimeout
}

// KeyToNode returns the logical node name a key hashes to.
func (c *Client) KeyToNode(key []byte) string {
	return c.ring.Lookup(key)
}

// NodeToHost returns the currently selected address for a logical node.
func (c *Client) NodeToHost(name string) (string, error) {
	return c.registry.AddressOf(name)
}

// IsServerDown reports whether addr currently has an open health record.
func (c *Client) IsServerDown(addr string) bool { return c.health.IsDown(addr) }

// IsServerUp is the negation of IsServerDown.
func (c *Client) IsServerUp(addr string) bool { return !c.health.IsDown(addr) }

// MarkServerDown forces addr into the down state, as if a failure had just
// been observed against it.
func (c *Client) MarkServerDown(addr string) *Client {
	c.health.MarkDown(addr)
	return c
}

// MarkServerUp clears addr's health record.
func (c *Client) MarkServerUp(addr string) *Client {
	c.health.MarkUp(addr)
	return c
}

// MasterOf returns a copy of the informational replica→master map supplied
// at construction. Never consulted by routing.
func (c *Client) MasterOf() map[string]string {
	out := make(map[string]string, len(c.masterOf))
	for k, v := range c.masterOf {
		out[k] = v
	}
	return out
}

// Close releases every cached backend connection.
func (c *Client) Close() error {
	c.pool.CloseAll()
	return nil
}

// Thin verb helpers: Dispatch is the one true entry point; these simply
// forward to it with the verb already filled in.

// Get dispatches GET key.
func (c *Client) Get(key string, cb UserCallback) *Client {
	return c.Dispatch("GET", []any{key}, cb)
}

// Set dispatches SET key value.
func (c *Client) Set(key string, value any, cb UserCallback) *Client {
	return c.Dispatch("SET", []any{key, value}, cb)
}

// Del dispatches DEL key.
func (c *Client) Del(key string, cb UserCallback) *Client {
	return c.Dispatch("DEL", []any{key}, cb)
}

// Incr dispatches INCR key.
func (c *Client) Incr(key string, cb UserCallback) *Client {
	return c.Dispatch("INCR", []any{key}, cb)
}

// Expire dispatches EXPIRE key seconds.
func (c *Client) Expire(key string, seconds int64, cb UserCallback) *Client {
	return c.Dispatch("EXPIRE", []any{key, seconds}, cb)
}
