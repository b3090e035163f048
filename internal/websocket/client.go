package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chat-widget/internal/dto"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSClient is one live connection for a customer session.
type WSClient struct {
	Conn      *websocket.Conn
	SessionID string
	logger    zerolog.Logger
	done      chan struct{} // closed when the read loop exits
	mu        sync.Mutex    // guards writes to Conn
	isClosed  bool
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, sessionID string, logger zerolog.Logger) *WSClient {
	return &WSClient{
		Conn:      conn,
		SessionID: sessionID,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (cl *WSClient) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			cl.mu.Unlock()

			if err != nil {
				cl.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// close sends a close frame once and tears the connection down.
func (cl *WSClient) close() {
	cl.closeOnce.Do(func() {
		cl.mu.Lock()
		defer cl.mu.Unlock()
		cl.isClosed = true
		_ = cl.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		cl.Conn.Close()
	})
}

// readMessage publishes every frame to hub until the connection fails or
// cancel is closed. It returns true when the server ended the connection.
func (cl *WSClient) readMessage(hub *Hub, cancel <-chan struct{}) (dropped bool) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error().Interface("panic", r).Msg("recovered in read loop")
			dropped = true
		}
		close(cl.done)
		cl.close()
	}()

	cl.Conn.SetReadLimit(512 * 1024)

	for {
		_, message, err := cl.Conn.ReadMessage()
		if err != nil {
			select {
			case <-cancel:
				return false
			default:
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				cl.logger.Info().Msg("server closed realtime connection")
			} else {
				cl.logger.Warn().Err(err).Msg("realtime read failed")
			}
			return true
		}

		var frame dto.Frame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
			cl.logger.Debug().Err(err).Int("bytes", len(message)).Msg("dropping malformed frame")
			continue
		}
		addEvent(frame.Event)

		ev := Event{SessionID: cl.SessionID, Frame: frame, ReceivedAt: time.Now()}
		if !hub.Publish(ev, cancel) {
			return false
		}
	}
}
