package websocket

import (
	"context"
	"net/http"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/registry"
	"github.com/HMasataka/relay/pkg/relay"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
	Client          ClientOptions
	Registry        *registry.Registry
	Hub             *relay.Hub
	Logger          *logging.Logger
	EventBus        eventbus.Bus
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithRegistry sets the connection registry
func WithRegistry(reg *registry.Registry) ServerOption {
	return func(o *ServerOptions) {
		o.Registry = reg
	}
}

// WithHub sets the hub for the server
func WithHub(hub *relay.Hub) ServerOption {
	return func(o *ServerOptions) {
		o.Hub = hub
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithAllowedOrigins sets the origins allowed to connect; "*" allows any
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(o *ServerOptions) {
		o.AllowedOrigins = origins
	}
}

// WithClientOptions sets per-connection options
func WithClientOptions(options ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = options
	}
}

// Server upgrades HTTP requests and runs one relay session per connection
type Server struct {
	upgrader websocket.Upgrader
	registry *registry.Registry
	hub      *relay.Hub
	logger   *logging.Logger
	eventBus eventbus.Bus
	options  ServerOptions
}

// NewServer creates a new WebSocket server. WithRegistry and WithHub are
// required.
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"*"},
		Client:          DefaultClientOptions(),
		Logger:          logging.Discard(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	policy := newOriginPolicy(options.AllowedOrigins, options.Logger)

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     policy.check,
		},
		registry: options.Registry,
		hub:      options.Hub,
		logger:   options.Logger,
		eventBus: options.EventBus,
		options:  options,
	}
}

// ServeHTTP implements http.Handler. It returns once the connection is gone
// and its departure has been announced.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	clientID := xid.New().String()
	client := NewClient(clientID, conn, s.logger, s.options.Client)

	session := relay.NewSession(client, s.registry, s.hub, relay.SessionOptions{
		Logger:   s.logger,
		EventBus: s.eventBus,
	})
	client.Receive(session.HandleMessage)

	session.Open()
	client.Start()

	s.logger.Info("client connected",
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()

	if err := session.Close(context.Background()); err != nil {
		s.logger.Error("failed to announce departure",
			"error", err,
			"client_id", clientID,
		)
	}
	client.Wait()

	s.logger.Info("client disconnected", "client_id", clientID)
}
