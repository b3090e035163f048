package chat

import (
	"context"
	"encoding/json"

	"chat-widget/internal/dto"
	"chat-widget/internal/model"
)

// Handle applies one realtime frame received for customerSessionID. Frames
// for any other session are ignored.
func (m *Machine) Handle(customerSessionID string, frame dto.Frame) {
	switch frame.Event {
	case dto.EventAgentConnected:
		var payload dto.AgentConnectedPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			m.logger.Warn().Err(err).Msg("bad agent.connected payload")
			return
		}
		id, ok := payload.ChatSessionID.Latest()
		if !ok || id <= 0 {
			m.logger.Warn().Str("data", string(frame.Data)).Msg("agent.connected without chat session")
			return
		}
		m.agentConnected(customerSessionID, id)

	case dto.EventMessage:
		var msg model.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			m.logger.Warn().Err(err).Msg("bad message payload")
			return
		}
		m.messageReceived(customerSessionID, msg.Normalize())

	case dto.EventAgentTyping, dto.EventAgentStopTyping:
		m.typing(customerSessionID, frame.Event == dto.EventAgentTyping)

	case dto.EventAgentCompleted:
		var msg model.Message
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				m.logger.Warn().Err(err).Msg("bad agent.completed payload")
			}
		}
		m.agentCompleted(customerSessionID, msg.Normalize())

	case dto.EventAgentsOnline:
		var payload dto.AgentsOnlinePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			m.logger.Warn().Err(err).Msg("bad agents.online payload")
			return
		}
		m.SetAgentsOnline(payload.Online)

	default:
		m.logger.Debug().Str("event", frame.Event).Msg("ignoring unknown event")
	}
}

func (m *Machine) agentConnected(customerSessionID string, chatSessionID int64) {
	var (
		pending []model.Message
		bound   bool
	)
	m.update(func(s *model.State) bool {
		if s.Phase == model.PhaseUnbound || s.Session.CustomerSessionID != customerSessionID {
			return false
		}
		if s.Phase == model.PhaseBound && s.Session.ChatSessionID == chatSessionID {
			return false
		}
		m.cancelGraceLocked()

		s.Phase = model.PhaseBound
		s.Session.ChatSessionID = chatSessionID
		s.Presence.AgentTyping = false
		s.Presence.AgentDisconnected = nil

		// Swap the queue out before any request is issued so a repeated
		// agent.connected cannot flush it twice.
		pending = s.Pending
		s.Pending = nil
		m.historyFor = 0
		bound = true
		return true
	})
	if !bound {
		return
	}

	m.logger.Info().
		Str("customer_session", customerSessionID).
		Int64("chat_session", chatSessionID).
		Int("queued", len(pending)).
		Msg("agent connected")

	m.exec.Go("persist_chat", func() error {
		err := m.writeStore(boundTo(customerSessionID, chatSessionID), func(ctx context.Context) error {
			return m.sessions.PersistChat(ctx, chatSessionID)
		})
		if err != nil {
			m.logger.Warn().Err(err).Int64("chat_session", chatSessionID).Msg("persist chat session failed")
		}
		return err
	})
	if len(pending) > 0 {
		m.flush(customerSessionID, chatSessionID, pending)
	}
	m.loadHistory(customerSessionID, chatSessionID)
}

func (m *Machine) messageReceived(customerSessionID string, msg model.Message) {
	m.update(func(s *model.State) bool {
		if s.Phase == model.PhaseUnbound || s.Session.CustomerSessionID != customerSessionID {
			return false
		}
		s.Messages = append(s.Messages, msg)
		return true
	})
}

func (m *Machine) typing(customerSessionID string, typing bool) {
	m.update(func(s *model.State) bool {
		if s.Phase == model.PhaseUnbound || s.Session.CustomerSessionID != customerSessionID {
			return false
		}
		if s.Presence.AgentTyping == typing {
			return false
		}
		s.Presence.AgentTyping = typing
		return true
	})
}

func (m *Machine) agentCompleted(customerSessionID string, notice model.Message) {
	m.update(func(s *model.State) bool {
		if s.Phase != model.PhaseBound || s.Session.CustomerSessionID != customerSessionID {
			return false
		}
		s.Phase = model.PhaseDisconnecting
		s.Presence.AgentTyping = false
		s.Presence.AgentDisconnected = &notice

		m.cancelGraceLocked()
		gen := m.graceGen
		chatSessionID := s.Session.ChatSessionID
		m.graceTimer = m.after(m.grace, func() {
			m.graceElapsed(gen, customerSessionID, chatSessionID)
		})
		return true
	})
}

// graceElapsed resets an ended conversation. A timer from a superseded
// binding finds a different generation and does nothing.
func (m *Machine) graceElapsed(gen uint64, customerSessionID string, chatSessionID int64) {
	var reset bool
	m.update(func(s *model.State) bool {
		if gen != m.graceGen || s.Phase != model.PhaseDisconnecting {
			return false
		}
		m.graceTimer = nil
		m.supportRequested = ""
		m.historyFor = 0

		s.Phase = model.PhaseUnbound
		s.Mode = model.ModeNone
		s.Session = model.Session{}
		s.Messages = nil
		s.Pending = nil
		s.Presence.AgentTyping = false
		s.Presence.AgentDisconnected = nil
		reset = true
		return true
	})
	if !reset {
		return
	}

	m.logger.Info().
		Str("customer_session", customerSessionID).
		Int64("chat_session", chatSessionID).
		Msg("conversation closed")

	if err := m.writeStore(unboundChat, m.sessions.Clear); err != nil {
		m.logger.Warn().Err(err).Msg("clear chat session failed")
	}
	if m.onClosed != nil {
		m.onClosed()
	}
}

// SetAgentsOnline records the backend's presence broadcast.
func (m *Machine) SetAgentsOnline(online bool) {
	m.update(func(s *model.State) bool {
		if s.Presence.AgentsOnline != nil && *s.Presence.AgentsOnline == online {
			return false
		}
		s.Presence.AgentsOnline = &online
		return true
	})
}

// current reports whether the binding is still the one a completion was
// issued for.
func (m *Machine) current(customerSessionID string, chatSessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return boundTo(customerSessionID, chatSessionID)(&m.state)
}

func boundTo(customerSessionID string, chatSessionID int64) func(s *model.State) bool {
	return func(s *model.State) bool {
		return s.Phase != model.PhaseUnbound &&
			s.Session.CustomerSessionID == customerSessionID &&
			s.Session.ChatSessionID == chatSessionID
	}
}
