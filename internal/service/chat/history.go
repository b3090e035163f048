package chat

import (
	"context"

	"chat-widget/internal/model"
)

// loadHistory fetches the conversation once per binding. A failed fetch means
// the chat session is no longer valid: it is forgotten and a new agent paged.
func (m *Machine) loadHistory(customerSessionID string, chatSessionID int64) {
	m.mu.Lock()
	if m.historyFor == chatSessionID {
		m.mu.Unlock()
		return
	}
	m.historyFor = chatSessionID
	m.mu.Unlock()

	m.exec.Go("load_history", func() error {
		history, err := m.backend.History(context.Background(), customerSessionID, chatSessionID)
		if !m.current(customerSessionID, chatSessionID) {
			return nil
		}
		if err != nil {
			m.logger.Warn().Err(err).Int64("chat_session", chatSessionID).Msg("history fetch failed, invalidating chat session")
			m.invalidate(customerSessionID, chatSessionID)
			return err
		}

		m.update(func(s *model.State) bool {
			if s.Session.CustomerSessionID != customerSessionID || s.Session.ChatSessionID != chatSessionID {
				return false
			}
			merged := mergeHistory(history, s.Messages)
			if len(merged) == len(s.Messages) {
				return false
			}
			s.Messages = merged
			return true
		})
		return nil
	})
}

func (m *Machine) invalidate(customerSessionID string, chatSessionID int64) {
	var demoted bool
	m.update(func(s *model.State) bool {
		if s.Phase == model.PhaseUnbound ||
			s.Session.CustomerSessionID != customerSessionID ||
			s.Session.ChatSessionID != chatSessionID {
			return false
		}
		m.cancelGraceLocked()
		m.historyFor = 0
		m.supportRequested = customerSessionID

		s.Phase = model.PhaseAwaitingAgent
		s.Session.ChatSessionID = 0
		s.Presence.AgentTyping = false
		s.Presence.AgentDisconnected = nil
		demoted = true
		return true
	})
	if !demoted {
		return
	}

	if err := m.writeStore(unboundChat, m.sessions.Clear); err != nil {
		m.logger.Warn().Err(err).Msg("clear chat session failed")
	}
	m.requestSupport(customerSessionID)
}

// mergeHistory puts server history ahead of the displayed messages, skipping
// history entries that are already displayed. Nothing displayed is dropped.
func mergeHistory(history, displayed []model.Message) []model.Message {
	used := make([]bool, len(displayed))
	out := make([]model.Message, 0, len(history)+len(displayed))

	for _, h := range history {
		dup := false
		for i, d := range displayed {
			if !used[i] && h.Equal(d) {
				used[i] = true
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, h)
		}
	}
	return append(out, displayed...)
}
