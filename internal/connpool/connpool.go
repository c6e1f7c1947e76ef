// Package connpool keeps at most one live backend connection per physical
// address, with an optional idle-expiry policy. The underlying
// line-protocol client is go-redis; connpool only decides *whether* to
// reuse or reopen a connection, never what to send over it — that remains
// the dispatcher's job via the verb-agnostic Conn interface.
package connpool

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conn is the minimal surface the Dispatcher needs from a backend
// connection: submit a command verbatim, get back whatever the
// line-protocol client surfaced. A real *redis.Client satisfies this via
// its Do method; tests use the same *redis.Client pointed at miniredis.
type Conn interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
	Close() error
}

// Options configures how the pool dials and retires connections.
type Options struct {
	// IdleTimeout: 0 disables idle expiry (a cached connection is reused
	// until it is evicted or the pool is closed; connection errors do not
	// evict it).
	IdleTimeout time.Duration
	// Persistent: if true, a connection is never proactively closed by
	// idle expiry regardless of IdleTimeout — it is only closed by an
	// explicit eviction (such as node removal) or CloseAll.
	Persistent bool
	// ConnectTimeout bounds the backend dial. 0 uses go-redis's default.
	ConnectTimeout time.Duration
}

type entry struct {
	conn     Conn
	lastUsed time.Time
}

// Dialer opens a new connection to addr. Production code points this at
// go-redis; tests substitute a miniredis-backed constructor.
type Dialer func(addr string) Conn

// NewRedisDialer returns a Dialer that constructs a standalone *redis.Client
// per address, honoring ConnectTimeout.
func NewRedisDialer(opts Options) Dialer {
	return func(addr string) Conn {
		return redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: opts.ConnectTimeout,
		})
	}
}

// Pool caches one Conn per physical address.
type Pool struct {
	mu      sync.Mutex
	dial    Dialer
	opts    Options
	entries map[string]*entry
}

// New builds a Pool that dials with the given Dialer.
func New(dial Dialer, opts Options) *Pool {
	return &Pool{
		dial:    dial,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the cached connection for addr, opening one if absent or
// if the cached one has exceeded IdleTimeout (and the pool is not
// persistent).
func (p *Pool) Acquire(addr string) Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[addr]
	if ok {
		if p.opts.Persistent || p.opts.IdleTimeout <= 0 || time.Since(e.lastUsed) < p.opts.IdleTimeout {
			return e.conn
		}
		_ = e.conn.Close()
		delete(p.entries, addr)
	}

	conn := p.dial(addr)
	p.entries[addr] = &entry{conn: conn, lastUsed: time.Now()}
	return conn
}

// Touch records addr's connection as just used, keeping it alive under
// idle-expiry.
func (p *Pool) Touch(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[addr]; ok {
		e.lastUsed = time.Now()
	}
}

// Evict closes and removes the cached connection for addr, if any. Node
// removal uses EvictExcept instead, and the dispatcher does not evict on
// connection errors.
func (p *Pool) Evict(addr string) {
	p.mu.Lock()
	e, ok := p.entries[addr]
	if ok {
		delete(p.entries, addr)
	}
	p.mu.Unlock()
	if ok {
		_ = e.conn.Close()
	}
}

// EvictExcept closes every cached connection whose address is not in keep.
// Used when a node is removed: any address no longer reachable through any
// remaining node is evicted.
func (p *Pool) EvictExcept(keep map[string]bool) {
	p.mu.Lock()
	var toClose []Conn
	for addr, e := range p.entries {
		if !keep[addr] {
			toClose = append(toClose, e.conn)
			delete(p.entries, addr)
		}
	}
	p.mu.Unlock()
	for _, c := range toClose {
		_ = c.Close()
	}
}

// CloseAll closes every cached connection and empties the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range entries {
		_ = e.conn.Close()
	}
}
