// Package hashring implements the consistent-hash bucket array that maps an
// opaque key to one of the configured logical node names. The bucket count
// is fixed at 1024 and the key hash is the first four bytes (big-endian) of
// the MD5 digest, so independent clients with the same node set always
// agree on the same assignment.
package hashring

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Buckets is the fixed size of the bucket array.
const Buckets = 1024

// DefaultWeight is the nominal weight assigned to a node when none is given.
const DefaultWeight = 10

// pointsPerWeight controls how many virtual points each unit of weight
// contributes to the ring. Higher values spread a node's buckets more
// evenly at the cost of a larger sort on rebuild; 1024 buckets and a
// handful of nodes make this cheap regardless.
const pointsPerWeight = 160

// Ring is a consistent-hash bucket array over a set of weighted node names.
// Safe for concurrent use; lookups take a read lock, mutations take a write
// lock and rebuild the whole bucket array.
type Ring struct {
	mu      sync.RWMutex
	weights map[string]int
	buckets [Buckets]string
}

// New builds a Ring from a set of node names, each at DefaultWeight.
func New(names []string) *Ring {
	r := &Ring{weights: make(map[string]int, len(names))}
	for _, n := range names {
		r.weights[n] = DefaultWeight
	}
	r.rebuild()
	return r
}

// Hash returns the routing hash of a key: the first 4 bytes (big-endian) of
// its MD5 digest, interpreted as an unsigned 32-bit integer.
func Hash(key []byte) uint32 {
	sum := md5.Sum(key)
	return binary.BigEndian.Uint32(sum[:4])
}

// Lookup returns the node name assigned to key's bucket. Returns "" if the
// ring has no nodes.
func (r *Ring) Lookup(key []byte) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.weights) == 0 {
		return ""
	}
	return r.buckets[Hash(key)%Buckets]
}

// Add registers a node at the given weight (DefaultWeight if weight <= 0)
// and rebuilds the bucket array. Re-adding an existing node updates its
// weight.
func (r *Ring) Add(name string, weight int) {
	if weight <= 0 {
		weight = DefaultWeight
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights[name] = weight
	r.rebuild()
}

// Remove drops a node from the ring (equivalent to setting its weight to 0)
// and rebuilds the bucket array.
func (r *Ring) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.weights, name)
	r.rebuild()
}

// Nodes returns the currently configured node names, sorted for
// deterministic iteration.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.weights))
	for n := range r.weights {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type ringPoint struct {
	hash uint32
	node string
}

// rebuild recomputes the entire bucket array from the current weight map.
// Bucket positions are evenly spaced around the hash space; each bucket is
// assigned the node whose nearest virtual point (clockwise, with wraparound)
// covers that position. This is a deterministic construction: given the
// same weight map, every process produces byte-identical bucket arrays, and
// adding or removing one node only disturbs the buckets whose nearest point
// moved (the defining property of a consistent-hash construction).
func (r *Ring) rebuild() {
	if len(r.weights) == 0 {
		r.buckets = [Buckets]string{}
		return
	}

	names := make([]string, 0, len(r.weights))
	for n := range r.weights {
		names = append(names, n)
	}
	sort.Strings(names)

	var points []ringPoint
	for _, name := range names {
		weight := r.weights[name]
		n := weight * pointsPerWeight
		for i := 0; i < n; i++ {
			h := Hash([]byte(fmt.Sprintf("%s-%d", name, i)))
			points = append(points, ringPoint{hash: h, node: name})
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].hash != points[j].hash {
			return points[i].hash < points[j].hash
		}
		return points[i].node < points[j].node
	})

	const span = uint32(4294967296 / Buckets)
	pi := 0
	for b := 0; b < Buckets; b++ {
		pos := uint32(b) * span
		for pi < len(points) && points[pi].hash < pos {
			pi++
		}
		if pi == len(points) {
			pi = 0
		}
		r.buckets[b] = points[pi].node
	}
}
