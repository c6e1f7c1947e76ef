package fedis

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, nodes map[string]NodeDescriptor) *Client {
	t.Helper()
	c, err := New(Options{Nodes: nodes})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// S1: set/get.
func TestScenarioSetGet(t *testing.T) {
	srv := newMiniredis(t)
	c := newTestClient(t, map[string]NodeDescriptor{"redis_0": {Address: srv.Addr()}})

	c.Set("ducati", "7", nil)
	c.Poll()

	var got Reply
	c.Get("ducati", func(r Reply) { got = r })
	c.Poll()

	bulk, ok := got.(ReplyBulk)
	if !ok {
		t.Fatalf("Get reply = %#v, want ReplyBulk", got)
	}
	if bulk.String() != "7" {
		t.Errorf("Get reply = %q, want 7", bulk.String())
	}
}

// Protocol/application-level reply errors (spec §7) surface verbatim as
// ReplyErr, not as a nil/transport failure — the backend connection that
// produced the error reply is healthy and stays up.
func TestScenarioBackendErrorReplySurfacesAsReplyErr(t *testing.T) {
	srv := newMiniredis(t)
	c := newTestClient(t, map[string]NodeDescriptor{"redis_0": {Address: srv.Addr()}})

	c.Set("notanumber", "abc", nil)
	c.Poll()

	var got Reply
	c.Incr("notanumber", func(r Reply) { got = r })
	c.Poll()

	errReply, ok := got.(ReplyErr)
	if !ok {
		t.Fatalf("Incr on a non-integer value = %#v, want ReplyErr", got)
	}
	if errReply.Error() == "" {
		t.Error("expected a non-empty backend error message")
	}

	addr := srv.Addr()
	if c.IsServerDown(addr) {
		t.Error("a backend application-level error reply must not mark the address down")
	}
}

// S2: chained dispatch.
func TestScenarioChainedSetGet(t *testing.T) {
	srv := newMiniredis(t)
	c := newTestClient(t, map[string]NodeDescriptor{"redis_0": {Address: srv.Addr()}})

	var got Reply
	c.Set("ducati", "8", nil).Get("ducati", func(r Reply) { got = r })
	c.Poll()

	bulk, ok := got.(ReplyBulk)
	if !ok || bulk.String() != "8" {
		t.Fatalf("Get reply = %#v, want ReplyBulk(8)", got)
	}
}

// S4-style: command timeout against an unroutable address bounds Poll's
// wall-clock time and delivers nil to the callback.
func TestScenarioTimeoutBoundedAndCallbackNotGivenValue(t *testing.T) {
	timeout := 200 * time.Millisecond
	c, err := New(Options{
		Nodes:          map[string]NodeDescriptor{"redis_0": {Address: "240.0.0.1:1"}},
		CommandTimeout: &timeout,
		ConnectTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	replies := make(chan Reply, 1)
	c.Set("foo", "bar", func(r Reply) { replies <- r })

	start := time.Now()
	c.Poll()
	elapsed := time.Since(start)

	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("Poll took %v, want roughly bounded by timeout %v", elapsed, timeout)
	}
	select {
	case r := <-replies:
		if r != nil {
			t.Errorf("callback received %#v, want nil", r)
		}
	case <-time.After(time.Second):
	}
}

// Testable property 1: routing determinism. The bucket formula itself is
// checked in the internal/hashring tests.
func TestRoutingDeterminism(t *testing.T) {
	c := newTestClient(t, map[string]NodeDescriptor{
		"redis_0": {Address: "a:1"},
		"redis_1": {Address: "b:1"},
		"redis_2": {Address: "c:1"},
		"redis_3": {Address: "d:1"},
	})

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		sum := md5.Sum(key)
		wantHash := binary.BigEndian.Uint32(sum[:4]) % 1024
		node1 := c.KeyToNode(key)
		node2 := c.KeyToNode(key)
		if node1 != node2 {
			t.Fatalf("KeyToNode(%q) nondeterministic: %q vs %q", key, node1, node2)
		}
		_ = wantHash // formula itself is exercised directly in internal/hashring tests
	}
}

// Testable property 2: key-group equivalence.
func TestKeyGroupEquivalenceRouting(t *testing.T) {
	c := newTestClient(t, map[string]NodeDescriptor{
		"redis_0": {Address: "a:1"},
		"redis_1": {Address: "b:1"},
		"redis_2": {Address: "c:1"},
	})

	group := "mygroup"
	node := c.KeyToNode([]byte(group))

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		hashKey, _ := splitDispatchArgs("GET", []any{[]any{group, key}})
		if got := c.KeyToNode(hashKey); got != node {
			t.Errorf("group %q key %q routed to %q, want %q", group, key, got, node)
		}
	}
}

// Testable property 8: shared instance by tag.
func TestSharedInstanceByTag(t *testing.T) {
	nodes := map[string]NodeDescriptor{"redis_0": {Address: "a:1"}}
	c1, err := New(Options{Nodes: nodes, Tag: "shared-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c2, err := New(Options{Nodes: nodes, Tag: "shared-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c1 != c2 {
		t.Error("two constructors with the same tag should return the same instance while the first is still referenced")
	}
	runtime_keepAlive(c1)
}

// runtime_keepAlive prevents the compiler from proving c1 dead before the
// comparison above, which would let the weak reference evaporate early.
func runtime_keepAlive(c *Client) {
	runtime.KeepAlive(c)
}

func TestAddNodeThenRemoveLeavesOtherRoutingUnchanged(t *testing.T) {
	c := newTestClient(t, map[string]NodeDescriptor{
		"redis_0": {Address: "a:1"},
		"redis_1": {Address: "b:1"},
		"redis_2": {Address: "c:1"},
	})

	keys := make([][]byte, 50)
	before := make([]string, 50)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		before[i] = c.KeyToNode(keys[i])
	}

	c.AddNode("redis_3", NodeDescriptor{Address: "d:1"})
	c.RemoveNode("redis_3")

	for i := range keys {
		if got := c.KeyToNode(keys[i]); got != before[i] {
			t.Errorf("key %q routing changed after add/remove of unrelated node: %q -> %q", keys[i], before[i], got)
		}
	}
}

func TestMarkServerDownAndUp(t *testing.T) {
	c := newTestClient(t, map[string]NodeDescriptor{"redis_0": {Address: "a:1"}})
	if c.IsServerDown("a:1") {
		t.Fatal("fresh address should not be down")
	}
	c.MarkServerDown("a:1")
	if !c.IsServerDown("a:1") {
		t.Error("expected address down after MarkServerDown")
	}
	c.MarkServerUp("a:1")
	if c.IsServerDown("a:1") {
		t.Error("expected address up after MarkServerUp")
	}
}

func TestMasterOfIsInformationalOnly(t *testing.T) {
	c, err := New(Options{
		Nodes:    map[string]NodeDescriptor{"redis_0": {Address: "a:1"}},
		MasterOf: map[string]string{"replica:1": "primary:1"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.MasterOf()
	if got["replica:1"] != "primary:1" {
		t.Errorf("MasterOf() = %v", got)
	}
	// Mutating the returned map must not affect the client's internal copy.
	got["replica:1"] = "tampered"
	if c.MasterOf()["replica:1"] != "primary:1" {
		t.Error("MasterOf() should return a defensive copy")
	}
}

func TestNewRejectsEmptyNodes(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error when no nodes are configured")
	}
}

func TestNewRejectsNodeWithoutAddress(t *testing.T) {
	_, err := New(Options{Nodes: map[string]NodeDescriptor{"bad": {}}})
	if err == nil {
		t.Fatal("expected error for a node with neither Address nor Addresses")
	}
}
