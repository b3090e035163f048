package chat

import (
	"context"
	"errors"
	"strings"

	"chat-widget/internal/model"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("chat: empty message")

// Send delivers a customer message. While an agent is bound it issues one
// send request on the caller's goroutine and returns its error; the message
// is never re-queued. Otherwise it is queued for the bulk flush and shown
// right away.
func (m *Machine) Send(ctx context.Context, body model.MessageBody) error {
	if !body.IsRich() && strings.TrimSpace(body.Text) == "" {
		return ErrEmptyMessage
	}

	var (
		customerSessionID string
		chatSessionID     int64
	)
	m.update(func(s *model.State) bool {
		if s.Session.Bound() {
			customerSessionID = s.Session.CustomerSessionID
			chatSessionID = s.Session.ChatSessionID
			return false
		}
		msg := model.Message{Body: body, Timestamp: m.now().Unix()}
		s.Pending = append(s.Pending, msg)
		s.Messages = append(s.Messages, msg)
		return true
	})
	if chatSessionID == 0 {
		return nil
	}

	if err := m.backend.SendMessage(ctx, customerSessionID, chatSessionID, body); err != nil {
		m.logger.Warn().Err(err).Int64("chat_session", chatSessionID).Msg("send message failed")
		return err
	}
	return nil
}

// flush sends the swapped-out queue as a single bulk request. A failure is
// logged and the messages are not re-queued.
func (m *Machine) flush(customerSessionID string, chatSessionID int64, pending []model.Message) {
	m.exec.Go("flush_pending", func() error {
		err := m.backend.SendBulk(context.Background(), customerSessionID, chatSessionID, pending)
		if err != nil {
			m.logger.Warn().Err(err).
				Int64("chat_session", chatSessionID).
				Int("messages", len(pending)).
				Msg("bulk flush failed")
			return err
		}
		m.logger.Debug().Int64("chat_session", chatSessionID).Int("messages", len(pending)).Msg("queue flushed")
		return nil
	})
}
