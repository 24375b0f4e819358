package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/gorilla/websocket"
)

// ClientOptions represents websocket client options
type ClientOptions struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	CloseGrace     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		CloseGrace:     time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// Client adapts one websocket connection to domain.Peer. Outbound frames
// go through a buffered queue drained by the write pump.
type Client struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ClientOptions
	sendChan chan []byte
	handler  domain.MessageHandler

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, logger *logging.Logger, options ClientOptions) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if options.SendBuffer <= 0 {
		options.SendBuffer = DefaultClientOptions().SendBuffer
	}

	return &Client{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"client_id": id}),
		options:  options,
		sendChan: make(chan []byte, options.SendBuffer),
	}
}

// ID implements domain.Peer
func (c *Client) ID() string {
	return c.id
}

// Send implements domain.Peer. It never blocks: a full queue fails with
// ErrSendBufferFull.
func (c *Client) Send(ctx context.Context, message []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return domain.ErrPeerClosed
	}

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return domain.ErrPeerClosed
	default:
		return domain.ErrSendBufferFull
	}
}

// Receive sets the handler for inbound text frames. Call it before Start.
func (c *Client) Receive(handler domain.MessageHandler) {
	c.handler = handler
}

// CloseWith sends a close frame and lets the peer answer within the close
// grace period before the connection is torn down.
func (c *Client) CloseWith(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("closing connection", "code", code, "reason", reason)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.options.WriteTimeout)); err != nil {
		c.Close()
		return err
	}

	// The read pump exits once the peer echoes the close or the grace ends
	return c.conn.SetReadDeadline(time.Now().Add(c.options.CloseGrace))
}

// Close tears the connection down. It is safe to call from the pumps.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.stopOnce.Do(func() {
		c.logger.Debug("closing client connection")
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Context implements domain.Peer. It is canceled once the connection is gone.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Start starts the client read and write pumps
func (c *Client) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// Wait blocks until both pumps have returned
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("read pump stopped")
		c.Close()
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.mu.RLock()
		closing := c.closed
		c.mu.RUnlock()
		if closing {
			return nil
		}
		return c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, domain.CloseNameTaken) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "message_type", messageType)
			continue
		}

		if c.handler != nil {
			if err := c.handler(message); err != nil {
				c.logger.Error("message handler error", "error", err)
			}
		}
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("write pump stopped")
		c.Close()
	}()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if err != websocket.ErrCloseSent {
					c.logger.Warn("websocket write error", "error", err)
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if err != websocket.ErrCloseSent {
					c.logger.Warn("websocket ping error", "error", err)
				}
				return
			}
		}
	}
}
