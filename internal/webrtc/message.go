package webrtc

import "github.com/vmihailenco/msgpack/v5"

// Message represents all state data channel messages
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Message types carried on the state channel.
const (
	MessageTypeMediaState = "media_state"
	MessageTypeHand       = "hand"
)

// MediaStatePayload announces which local sources a participant is sending.
type MediaStatePayload struct {
	Mic    bool `msgpack:"mic"`
	Camera bool `msgpack:"camera"`
	Screen bool `msgpack:"screen"`
}

// HandPayload raises or lowers a participant's hand.
type HandPayload struct {
	Raised bool `msgpack:"raised"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode serializes a message for the wire.
func (m Message) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeMessage parses a wire message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := msgpack.Unmarshal(data, &m)
	return m, err
}
