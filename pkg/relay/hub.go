// Package relay fans chat events out to every connection and runs the
// per-connection registration protocol.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/registry"
)

const defaultQueueSize = 1024

// HubOptions represents hub configuration options
type HubOptions struct {
	Logger    *logging.Logger
	QueueSize int
	Clock     func() time.Time
}

type broadcastRequest struct {
	kind    domain.EventType
	payload []byte
	peers   []domain.Peer
	// participants requests are rendered when dispatched, so the last
	// snapshot a peer receives always follows the last membership change.
	participants bool
}

// Hub serializes every broadcast through one goroutine: all peers observe
// the same global order, and a slow peer only ever costs a failed
// non-blocking send.
type Hub struct {
	registry   *registry.Registry
	broadcast  chan broadcastRequest
	logger     *logging.Logger
	errHandler errors.Handler
	now        func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	eventsBroadcast  atomic.Int64
	deliveries       atomic.Int64
	failedDeliveries atomic.Int64
	startTime        time.Time
}

// NewHub creates a new hub delivering to the peers of reg
func NewHub(reg *registry.Registry, opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Hub{
		registry:   reg,
		broadcast:  make(chan broadcastRequest, opts.QueueSize),
		logger:     opts.Logger,
		errHandler: errors.NewDefaultHandler(opts.Logger.Logger),
		now:        opts.Clock,
		done:       make(chan struct{}),
		startTime:  time.Now(),
	}
}

// Start starts the delivery loop
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.run()
	h.logger.Info("hub started")
	return nil
}

// Stop stops the delivery loop. Queued broadcasts are dropped.
func (h *Hub) Stop() error {
	h.stopOnce.Do(func() {
		h.logger.Info("stopping hub")
		close(h.done)
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		h.logger.Info("hub stopped")
	})
	return nil
}

// Broadcast encodes evt once and queues it for every peer attached at the
// time of the call, anonymous ones included.
func (h *Hub) Broadcast(ctx context.Context, evt domain.Outbound) error {
	payload, err := evt.Encode()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to encode event")
	}

	return h.enqueue(ctx, broadcastRequest{
		kind:    evt.Type,
		payload: payload,
		peers:   h.registry.Peers(),
	})
}

// BroadcastParticipants queues a participants snapshot for every attached
// peer.
func (h *Hub) BroadcastParticipants(ctx context.Context) error {
	return h.enqueue(ctx, broadcastRequest{
		kind:         domain.EventTypeParticipants,
		peers:        h.registry.Peers(),
		participants: true,
	})
}

func (h *Hub) enqueue(ctx context.Context, req broadcastRequest) error {
	select {
	case <-h.done:
		return domain.ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- req:
		h.eventsBroadcast.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return domain.ErrHubStopped
	}
}

func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case req := <-h.broadcast:
			h.handleBroadcast(req)
		}
	}
}

func (h *Hub) handleBroadcast(req broadcastRequest) {
	payload := req.payload
	if req.participants {
		data, err := domain.NewParticipants(h.registry.ListNames(), h.now()).Encode()
		if err != nil {
			h.errHandler.Handle(h.ctx, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to encode participants"))
			return
		}
		payload = data
	}

	var successCount, errorCount int
	for _, peer := range req.peers {
		if err := peer.Send(h.ctx, payload); err != nil {
			errorCount++
			h.errHandler.Handle(h.ctx, errors.From(domain.ErrPeerSendFailed, err).WithDetails(peer.ID()))
			continue
		}
		successCount++
	}

	h.deliveries.Add(int64(successCount))
	h.failedDeliveries.Add(int64(errorCount))

	h.logger.Debug("broadcast complete",
		"event_type", req.kind,
		"success_count", successCount,
		"error_count", errorCount,
	)
}

// Stats returns hub statistics
func (h *Hub) Stats() domain.HubStats {
	return domain.HubStats{
		AttachedPeers:    h.registry.Len(),
		RegisteredNames:  h.registry.Registered(),
		EventsBroadcast:  h.eventsBroadcast.Load(),
		Deliveries:       h.deliveries.Load(),
		FailedDeliveries: h.failedDeliveries.Load(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}
