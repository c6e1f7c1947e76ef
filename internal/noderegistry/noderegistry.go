// Package noderegistry resolves a logical node name to its currently
// selected physical address and rotates among alternates on failure.
// Health and connection state are indexed by address, never by node name,
// so the registry's only job is to answer "which address is this node
// pointing at right now."
package noderegistry

import (
	"fmt"
	"math/rand"
	"sync"
)

// Registry holds the address list and current selection for every
// configured logical node.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]*nodeState
}

type nodeState struct {
	addresses []string // selected address is always addresses[0]
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*nodeState)}
}

// AddSingle registers a node with one fixed address.
func (r *Registry) AddSingle(name, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[name] = &nodeState{addresses: []string{address}}
}

// AddAlternates registers a node with an ordered list of alternate
// addresses. The list is shuffled on load so that independent processes
// stagger which alternate they prefer first.
func (r *Registry) AddAlternates(name string, addresses []string) {
	shuffled := make([]string, len(addresses))
	copy(shuffled, addresses)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[name] = &nodeState{addresses: shuffled}
}

// Remove drops a node from the registry entirely.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, name)
}

// HasAlternates reports whether the node has more than one configured
// address to rotate among.
func (r *Registry) HasAlternates(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	return ok && len(n.addresses) > 1
}

// AddressOf returns the currently selected address for a node.
func (r *Registry) AddressOf(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok || len(n.addresses) == 0 {
		return "", fmt.Errorf("noderegistry: unknown node %q", name)
	}
	return n.addresses[0], nil
}

// Rotate pops the selected address to the back of the list, promoting the
// next alternate. A no-op if the node has no alternates configured.
func (r *Registry) Rotate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok || len(n.addresses) <= 1 {
		return
	}
	n.addresses = append(n.addresses[1:], n.addresses[0])
}

// Addresses returns a copy of the node's current address list, selected
// address first.
func (r *Registry) Addresses(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.addresses))
	copy(out, n.addresses)
	return out
}

// AllAddresses returns every address currently configured across every
// node, used by the connection cache to decide which cached connections are
// exclusive to a node being removed.
func (r *Registry) AllAddresses() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, n := range r.nodes {
		for _, addr := range n.addresses {
			out[addr] = true
		}
	}
	return out
}

// Names returns the currently registered node names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		out = append(out, name)
	}
	return out
}
