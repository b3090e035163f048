package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	EventAgentConnected  = "agent.connected"
	EventMessage         = "message"
	EventAgentTyping     = "agent.typing"
	EventAgentStopTyping = "agent.stopTyping"
	EventAgentCompleted  = "agent.completed"
	EventAgentsOnline    = "agents.online"
)

// Frame is one realtime text frame: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatSessionIDs accepts either a single integer or an array of integers.
type ChatSessionIDs []int64

func (ids *ChatSessionIDs) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*ids = nil
		return nil
	}
	if trimmed[0] == '[' {
		var many []int64
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return fmt.Errorf("chatSessionId: %w", err)
		}
		*ids = many
		return nil
	}
	var one int64
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return fmt.Errorf("chatSessionId: %w", err)
	}
	*ids = ChatSessionIDs{one}
	return nil
}

// Latest returns the authoritative id: the last one the backend assigned.
func (ids ChatSessionIDs) Latest() (int64, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	return ids[len(ids)-1], true
}

type AgentConnectedPayload struct {
	ChatSessionID ChatSessionIDs `json:"chatSessionId"`
}

type AgentsOnlinePayload struct {
	Online bool `json:"online"`
}
