package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/registry"
	"github.com/HMasataka/relay/pkg/transport/protocol"
)

// State is the registration state of one connection
type State int

const (
	StateAnonymous State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionOptions represents session configuration options
type SessionOptions struct {
	Logger   *logging.Logger
	EventBus eventbus.Bus
	Clock    func() time.Time
}

// Session drives one connection through anonymous, registered and closed.
// Register, message and close handling are serialized so peers never see a
// connection's departure before its arrival.
type Session struct {
	peer       domain.Peer
	registry   *registry.Registry
	hub        *Hub
	bus        eventbus.Bus
	logger     *logging.Logger
	errHandler errors.Handler
	router     *protocol.Router
	now        func() time.Time

	mu     sync.Mutex
	state  State
	name   string
	closed bool
}

// NewSession creates a session for peer
func NewSession(peer domain.Peer, reg *registry.Registry, hub *Hub, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		peer:       peer,
		registry:   reg,
		hub:        hub,
		bus:        opts.EventBus,
		logger:     opts.Logger.WithFields(map[string]any{"client_id": peer.ID()}),
		errHandler: errors.NewDefaultHandler(opts.Logger.Logger),
		router:     protocol.NewRouter(),
		now:        opts.Clock,
	}

	s.router.Register(domain.EventTypeRegister, protocol.HandlerFunc(s.handleRegister))
	s.router.Register(domain.EventTypeMessage, protocol.HandlerFunc(s.handleMessage))

	return s
}

// Open attaches the connection so it receives broadcasts while anonymous
func (s *Session) Open() {
	s.registry.Attach(s.peer)
	s.logger.Debug("session opened")
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the admitted display name, empty while anonymous
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// HandleMessage decodes and handles one text frame. Malformed, unknown and
// out-of-state events are logged and dropped; the connection stays open.
func (s *Session) HandleMessage(message []byte) (err error) {
	ctx := logging.WithLogger(s.peer.Context(), s.logger)

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrorTypeInternal, "HANDLER_PANIC", "message handler panicked").
				WithDetails(fmt.Sprint(r))
			s.errHandler.HandleWithLogger(ctx, err, s.logger.Logger)
		}
	}()

	evt, decodeErr := domain.DecodeInbound(message)
	if decodeErr != nil {
		s.errHandler.HandleWithLogger(ctx, decodeErr, s.logger.Logger)
		s.publish(eventbus.EventMalformed, map[string]any{
			"client_id": s.peer.ID(),
			"error":     decodeErr.Error(),
		})
		return nil
	}

	if handleErr := s.router.Handle(ctx, evt); handleErr != nil {
		s.errHandler.HandleWithLogger(ctx, handleErr, s.logger.Logger)
	}

	return nil
}

func (s *Session) handleRegister(ctx context.Context, evt domain.Inbound) error {
	req := evt.(domain.RegisterEvent)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRegistered:
		s.logger.Warn("ignoring repeated register", "name", s.name, "requested", req.Author)
		return nil
	case StateClosed:
		return nil
	}

	if err := s.registry.Admit(s.peer, req.Author); err != nil {
		if !errors.Is(err, domain.ErrNameTaken) {
			return err
		}
		return s.rejectLocked(req.Author)
	}

	s.state = StateRegistered
	s.name = req.Author
	s.logger.Info("participant registered", "name", req.Author)

	bctx := context.WithoutCancel(ctx)
	if err := s.hub.Broadcast(bctx, domain.NewConnected(req.Author, s.now())); err != nil {
		return err
	}
	if err := s.hub.BroadcastParticipants(bctx); err != nil {
		return err
	}

	s.publish(eventbus.EventMemberJoined, map[string]any{
		"client_id": s.peer.ID(),
		"name":      req.Author,
	})

	return nil
}

// rejectLocked detaches the connection before closing it, so the rejected
// connection never receives another broadcast.
func (s *Session) rejectLocked(name string) error {
	s.state = StateClosed
	s.closed = true
	s.registry.Evict(s.peer)

	s.logger.Info("rejecting duplicate name", "name", name)
	s.publish(eventbus.EventMemberRejected, map[string]any{
		"client_id": s.peer.ID(),
		"name":      name,
	})

	if err := s.peer.CloseWith(domain.CloseNameTaken, domain.CloseReasonNameTaken); err != nil {
		return errors.From(domain.ErrPeerClosed, err).WithDetails(s.peer.ID())
	}
	return nil
}

func (s *Session) handleMessage(ctx context.Context, evt domain.Inbound) error {
	msg := evt.(domain.MessageEvent)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRegistered {
		s.logger.Debug("dropping message from unregistered connection", "state", s.state.String())
		return nil
	}

	name, ok := s.registry.Lookup(s.peer)
	if !ok {
		return nil
	}

	if err := s.hub.Broadcast(context.WithoutCancel(ctx), domain.NewChatMessage(name, msg.Text, s.now())); err != nil {
		return err
	}

	s.publish(eventbus.EventMessageRelayed, map[string]any{
		"client_id": s.peer.ID(),
		"name":      name,
		"length":    len(msg.Text),
	})

	return nil
}

// Close evicts the connection and, if it held a name, announces the
// departure. Only the first call has any effect.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.state = StateClosed

	name, ok := s.registry.Evict(s.peer)
	if !ok {
		s.logger.Debug("anonymous session closed")
		return nil
	}

	s.logger.Info("participant left", "name", name)

	bctx := context.WithoutCancel(ctx)
	if err := s.hub.Broadcast(bctx, domain.NewDisconnected(name, s.now())); err != nil {
		return err
	}
	if err := s.hub.BroadcastParticipants(bctx); err != nil {
		return err
	}

	s.publish(eventbus.EventMemberLeft, map[string]any{
		"client_id": s.peer.ID(),
		"name":      name,
	})

	return nil
}

func (s *Session) publish(eventType eventbus.EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(eventbus.NewEvent(eventType, "relay", data))
}
