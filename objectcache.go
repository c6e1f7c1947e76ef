package fedis

import (
	"runtime"
	"sync"
	"weak"
)

// sharedClients is the process-wide object cache: a mapping from opaque
// tag strings to weak references of client instances, so independently
// written modules that specify the same tag share one client and
// therefore one ring, registry, health tracker, and connection cache.
// Entries evaporate as soon as the last strong reference is dropped —
// runtime.AddCleanup purges the map entry when a Client is garbage
// collected, so the registry never holds a live reference that would keep
// it alive, and it never accumulates dead entries.
var sharedClients sync.Map // tag string -> weak.Pointer[Client]

// lookupShared resolves tag's weak pointer, upgrading it to a strong
// reference if the client is still alive.
func lookupShared(tag string) (*Client, bool) {
	v, ok := sharedClients.Load(tag)
	if !ok {
		return nil, false
	}
	wp := v.(weak.Pointer[Client])
	c := wp.Value()
	if c == nil {
		sharedClients.CompareAndDelete(tag, v)
		return nil, false
	}
	return c, true
}

// storeShared registers c under tag and returns the canonical instance to
// use. If a concurrent New() call already installed a live instance under
// the same tag, that earlier instance wins and c is discarded: construction
// ordering determines which caller's parameters win, and later
// constructors silently adopt the earlier configuration.
func storeShared(tag string, c *Client) *Client {
	wp := weak.Make(c)

	actual, loaded := sharedClients.LoadOrStore(tag, wp)
	if !loaded {
		registerCleanup(tag, c, wp)
		return c
	}

	if existing := actual.(weak.Pointer[Client]).Value(); existing != nil {
		return existing
	}

	// The stored weak pointer was stale (its client was already collected
	// between our lookup and our store). Claim the slot for our instance.
	if sharedClients.CompareAndSwap(tag, actual, wp) {
		registerCleanup(tag, c, wp)
	}
	return c
}

func registerCleanup(tag string, c *Client, wp weak.Pointer[Client]) {
	runtime.AddCleanup(c, func(arg cleanupArg) {
		sharedClients.CompareAndDelete(arg.tag, arg.wp)
	}, cleanupArg{tag: tag, wp: wp})
}

type cleanupArg struct {
	tag string
	wp  weak.Pointer[Client]
}
