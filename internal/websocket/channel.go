// Package websocket maintains the realtime connection that delivers agent
// events for a customer session.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chat-widget/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type connection struct {
	sessionID string
	cancel    context.CancelFunc
	stop      <-chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	client *WSClient
}

func (c *connection) setClient(cl *WSClient) {
	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()
}

func (c *connection) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return false
	}
	select {
	case <-c.client.done:
		return false
	default:
		return true
	}
}

// Channel owns at most one realtime connection and redials it with capped
// exponential backoff until Disconnect. Events missed while disconnected are
// not replayed.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	hub    *Hub
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *connection
	closed bool
}

func NewChannel(cfg Config, logger zerolog.Logger) (*Channel, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url: unsupported scheme %q", u.Scheme)
	}

	ch := &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		hub:    NewHub(),
		logger: logging.Component(logger, "realtime"),
	}
	go ch.hub.Run()
	return ch, nil
}

// Subscribe registers fn for every received event and returns a function
// that removes it.
func (c *Channel) Subscribe(fn Handler) func() {
	id := c.hub.Register(fn)
	var once sync.Once
	return func() {
		once.Do(func() { c.hub.Unregister(id) })
	}
}

// Connect opens the connection for sessionID in the background. It is a no-op
// while a connection or dial for the same session is in progress, and replaces
// a connection held for another session.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("websocket connect: empty session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("websocket connect: channel closed")
	}
	if c.conn != nil {
		if c.conn.sessionID == sessionID {
			return nil
		}
		c.logger.Info().Str("from", c.conn.sessionID).Str("to", sessionID).Msg("switching realtime session")
		c.conn.cancel()
		c.conn = nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := &connection{
		sessionID: sessionID,
		cancel:    cancel,
		stop:      runCtx.Done(),
		done:      make(chan struct{}),
	}
	c.conn = conn
	go c.run(runCtx, conn)
	return nil
}

// Disconnect closes the current connection, if any, without waiting for it.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.logger.Info().Str("customer_session", c.conn.sessionID).Msg("closing realtime connection")
	c.conn.cancel()
	c.conn = nil
}

// SessionID reports the session the channel is bound to, or "".
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.sessionID
}

// Connected reports whether a live connection is open right now.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.live()
}

// Close disconnects, waits for the connection goroutine and stops delivery.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	if conn != nil {
		conn.cancel()
		c.conn = nil
	}
	c.mu.Unlock()

	if conn != nil {
		<-conn.done
	}
	c.hub.Stop()
}

func (c *Channel) endpoint(sessionID string) string {
	u, _ := url.Parse(c.cfg.URL)
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Channel) run(ctx context.Context, conn *connection) {
	defer close(conn.done)

	logger := c.logger.With().Str("customer_session", conn.sessionID).Logger()
	backoff := c.cfg.MinBackoff

	for {
		ws, _, err := c.dialer.DialContext(ctx, c.endpoint(conn.sessionID), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			addDial(false)
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("realtime dial failed")
		} else {
			addDial(true)
			backoff = c.cfg.MinBackoff
			logger.Info().Msg("realtime connected")

			cl := newWSClient(ws, conn.sessionID, logger)
			conn.setClient(cl)
			incConnections()

			go cl.keepAlive(c.cfg.PingInterval)
			go func() {
				select {
				case <-ctx.Done():
					cl.close()
				case <-cl.done:
				}
			}()
			dropped := cl.readMessage(c.hub, conn.stop)
			decConnections()

			if !dropped || ctx.Err() != nil {
				return
			}
			logger.Info().Dur("retry_in", backoff).Msg("realtime connection lost, reconnecting")
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}
