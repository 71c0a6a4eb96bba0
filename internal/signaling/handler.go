package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NewSignal builds a directed signal envelope.
func NewSignal(to string, data SignalData) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode signal: %w", err)
	}
	return &Message{Type: MessageTypeSignal, To: to, Data: raw}, nil
}

// DecodeSignal extracts the SignalData of a signal envelope.
func DecodeSignal(msg *Message) (*SignalData, error) {
	if msg.Type != MessageTypeSignal {
		return nil, fmt.Errorf("not a signal: %q", msg.Type)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("signal from %q has no data", msg.From)
	}
	var data SignalData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return nil, fmt.Errorf("decode signal from %q: %w", msg.From, err)
	}
	return &data, nil
}

// NewChat builds a chat envelope. An empty or "*" recipient addresses the room.
func NewChat(text, to string) *Message {
	if to == "*" {
		to = ""
	}
	return &Message{Type: MessageTypeChat, Text: strings.TrimSpace(text), To: to}
}

// IsDirected reports whether the relay forwards msg to a single participant.
func (m *Message) IsDirected() bool { return m.To != "" }
