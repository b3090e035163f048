package websocket

import (
	"time"

	"chat-widget/internal/dto"
)

// Event is one frame received on the connection of a customer session.
type Event struct {
	SessionID  string
	Frame      dto.Frame
	ReceivedAt time.Time
}

// Handler consumes events. Handlers run one at a time, in arrival order.
type Handler func(Event)

// Config tunes the realtime transport.
type Config struct {
	URL              string
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	return c
}
