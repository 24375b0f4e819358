// Package domaintest provides an in-memory domain.Peer for tests.
package domaintest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/HMasataka/relay/pkg/domain"
	"github.com/rs/xid"
)

// CloseFrame records a CloseWith call
type CloseFrame struct {
	Code   int
	Reason string
}

// Peer records everything sent to it. Set Fail to make Send return an error.
type Peer struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	messages [][]byte
	closes   []CloseFrame
	fail     error
	notify   chan struct{}
}

// NewPeer creates a peer with a fresh xid
func NewPeer() *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		id:     xid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
	}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Context() context.Context { return p.ctx }

// Fail makes every following Send return err; nil restores delivery.
func (p *Peer) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *Peer) Send(_ context.Context, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return domain.ErrPeerClosed
	}
	if p.fail != nil {
		return p.fail
	}

	p.messages = append(p.messages, append([]byte(nil), message...))
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *Peer) CloseWith(code int, reason string) error {
	p.mu.Lock()
	p.closes = append(p.closes, CloseFrame{Code: code, Reason: reason})
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *Peer) Close() error {
	p.cancel()
	return nil
}

// Closes returns the recorded close frames
func (p *Peer) Closes() []CloseFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CloseFrame(nil), p.closes...)
}

// Events decodes every message received so far
func (p *Peer) Events() []domain.Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]domain.Outbound, 0, len(p.messages))
	for _, m := range p.messages {
		var evt domain.Outbound
		if err := json.Unmarshal(m, &evt); err == nil {
			events = append(events, evt)
		}
	}
	return events
}

// WaitEvents blocks until at least n events arrived or timeout elapsed, and
// returns what was received.
func (p *Peer) WaitEvents(n int, timeout time.Duration) []domain.Outbound {
	deadline := time.After(timeout)
	for {
		events := p.Events()
		if len(events) >= n {
			return events
		}
		select {
		case <-p.notify:
		case <-deadline:
			return p.Events()
		}
	}
}
