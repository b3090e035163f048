package model

// Phase is the lifecycle position of the chat binding.
type Phase string

const (
	PhaseUnbound       Phase = "unbound"
	PhaseAwaitingAgent Phase = "awaiting_agent"
	PhaseBound         Phase = "bound"
	PhaseDisconnecting Phase = "disconnecting"
)

// Mode is what the widget front end should display.
type Mode string

const (
	ModeNone Mode = ""
	ModeForm Mode = "form"
	ModeChat Mode = "chat"
)

// Session pairs the anonymous customer identity with the agent conversation
// it is bound to. ChatSessionID is zero while no agent is bound.
type Session struct {
	CustomerSessionID string `json:"customerSessionId"`
	ChatSessionID     int64  `json:"chatSessionId,omitempty"`
}

func (s Session) Bound() bool {
	return s.ChatSessionID != 0
}

type Presence struct {
	AgentTyping       bool     `json:"agentTyping"`
	AgentDisconnected *Message `json:"agentDisconnected,omitempty"`
	// AgentsOnline is nil until the backend has broadcast presence.
	AgentsOnline *bool `json:"agentsOnline,omitempty"`
}

// State is the observable snapshot of a widget's chat binding.
type State struct {
	Phase    Phase     `json:"phase"`
	Mode     Mode      `json:"mode"`
	Open     bool      `json:"open"`
	Session  Session   `json:"session"`
	Presence Presence  `json:"presence"`
	Messages []Message `json:"messages"`
	Pending  []Message `json:"pending"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (s State) Clone() State {
	out := s
	out.Messages = CloneMessages(s.Messages)
	out.Pending = CloneMessages(s.Pending)
	if s.Presence.AgentDisconnected != nil {
		m := *s.Presence.AgentDisconnected
		out.Presence.AgentDisconnected = &m
	}
	if s.Presence.AgentsOnline != nil {
		v := *s.Presence.AgentsOnline
		out.Presence.AgentsOnline = &v
	}
	return out
}
