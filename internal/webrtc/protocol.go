package webrtc

import (
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// StateChannelLabel and StateChannelID identify the pre-negotiated channel
// carrying participant state. Both sides create it with the same id, so it
// needs no in-band open handshake and exists before the first offer.
const (
	StateChannelLabel        = "state"
	StateChannelID    uint16 = 0
)

// ErrStateChannelClosed is returned when sending before the channel opens.
var ErrStateChannelClosed = errors.New("state channel not open")

// OpenStateChannel creates the negotiated state channel on pc.
func OpenStateChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := true
	negotiated := true
	id := StateChannelID

	dc, err := pc.CreateDataChannel(StateChannelLabel, &pion.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, fmt.Errorf("create state channel: %w", err)
	}
	return dc, nil
}

// SendState writes one message to an open state channel.
func SendState(dc *pion.DataChannel, msg Message) error {
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrStateChannelClosed
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// OnState delivers decoded state messages to fn. Undecodable frames are dropped.
func OnState(dc *pion.DataChannel, fn func(Message)) {
	dc.OnMessage(func(raw pion.DataChannelMessage) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			return
		}
		fn(msg)
	})
}
