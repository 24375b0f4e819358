// Package registry tracks the live connections of the relay and the display
// names bound to them.
package registry

import (
	"sync"

	"github.com/HMasataka/relay/pkg/domain"
	"github.com/samber/lo"
)

type entry struct {
	peer domain.Peer
	name string
}

// Registry holds two views of the same connections behind one lock: every
// transport-attached peer (the broadcast set) and the subset that completed
// registration. A name maps to at most one peer at any instant.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*entry // peer ID -> entry
	names    map[string]string // display name -> peer ID
	attached []*entry          // attach order
	admitted []*entry          // admission order
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		peers: make(map[string]*entry),
		names: make(map[string]string),
	}
}

// Attach adds an anonymous peer to the broadcast set. It reports false when
// the peer is already attached.
func (r *Registry) Attach(peer domain.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peer.ID()]; ok {
		return false
	}
	r.attachLocked(peer)
	return true
}

func (r *Registry) attachLocked(peer domain.Peer) *entry {
	e := &entry{peer: peer}
	r.peers[peer.ID()] = e
	r.attached = append(r.attached, e)
	return e
}

// Admit binds name to peer. It fails with domain.ErrNameTaken when another
// peer holds the name, domain.ErrAlreadyRegistered when peer already has a
// name and domain.ErrEmptyName for "". A peer that was never attached is
// attached on success.
func (r *Registry) Admit(peer domain.Peer, name string) error {
	if name == "" {
		return domain.ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, attached := r.peers[peer.ID()]
	if attached && e.name != "" {
		return domain.ErrAlreadyRegistered.WithDetails(e.name)
	}

	if _, taken := r.names[name]; taken {
		return domain.ErrNameTaken.WithDetails(name)
	}

	if !attached {
		e = r.attachLocked(peer)
	}

	e.name = name
	r.names[name] = peer.ID()
	r.admitted = append(r.admitted, e)

	return nil
}

// Evict removes peer from the registry and returns the name it held. It is a
// no-op for unknown or already evicted peers.
func (r *Registry) Evict(peer domain.Peer) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[peer.ID()]
	if !ok {
		return "", false
	}

	delete(r.peers, peer.ID())
	r.attached = lo.Without(r.attached, e)

	if e.name == "" {
		return "", false
	}

	delete(r.names, e.name)
	r.admitted = lo.Without(r.admitted, e)

	return e.name, true
}

// Lookup returns the name bound to peer, if registered
func (r *Registry) Lookup(peer domain.Peer) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[peer.ID()]
	if !ok || e.name == "" {
		return "", false
	}
	return e.name, true
}

// ListNames returns the registered names in admission order
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(r.admitted, func(e *entry, _ int) (string, bool) {
		return e.name, e.name != ""
	})
}

// Peers returns a snapshot of every attached peer, registered or not
func (r *Registry) Peers() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.attached, func(e *entry, _ int) domain.Peer {
		return e.peer
	})
}

// Len returns the number of attached peers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attached)
}

// Registered returns the number of registered peers
func (r *Registry) Registered() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admitted)
}
