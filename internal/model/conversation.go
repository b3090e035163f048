package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AnonymousSender is how the history endpoint labels customer-authored messages.
const AnonymousSender = "anonymous"

// MessageBody is either plain text or rich content. Rich content is kept as
// the raw JSON value the backend sent.
type MessageBody struct {
	Text string
	Rich json.RawMessage
}

func TextBody(text string) MessageBody {
	return MessageBody{Text: text}
}

func (b MessageBody) IsRich() bool {
	return len(b.Rich) > 0
}

// String renders the body for display; rich content is shown as compact JSON.
func (b MessageBody) String() string {
	if b.IsRich() {
		return string(b.Rich)
	}
	return b.Text
}

func (b MessageBody) Equal(o MessageBody) bool {
	if b.IsRich() || o.IsRich() {
		return bytes.Equal(b.Rich, o.Rich)
	}
	return b.Text == o.Text
}

func (b MessageBody) MarshalJSON() ([]byte, error) {
	if b.IsRich() {
		return b.Rich, nil
	}
	return json.Marshal(b.Text)
}

func (b *MessageBody) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = MessageBody{}
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("message body: %w", err)
		}
		*b = MessageBody{Text: text}
		return nil
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("message body: invalid json")
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	*b = MessageBody{Rich: raw}
	return nil
}

// Message is one entry of a conversation. A message without a sender was
// written by the customer; agent messages carry From.
type Message struct {
	From      string      `json:"from,omitempty"`
	Body      MessageBody `json:"message"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func (m Message) IsSelf() bool {
	return m.From == ""
}

func (m Message) Equal(o Message) bool {
	return m.From == o.From && m.Timestamp == o.Timestamp && m.Body.Equal(o.Body)
}

// Normalize maps the backend's anonymous sender to a self-authored message.
func (m Message) Normalize() Message {
	if m.From == AnonymousSender {
		m.From = ""
	}
	return m
}

func CloneMessages(in []Message) []Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
