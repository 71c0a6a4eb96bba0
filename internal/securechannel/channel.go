package securechannel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("securechannel: closed")

// SendFunc delivers one sealed payload to the peer through the relay.
type SendFunc func(payload string) error

// Channel is the encrypted, order-preserving outbound path to one peer.
//
// Messages are sent immediately only while the channel is open, meaning a key
// is installed and the peer has reported ready. Before that they wait in a
// FIFO queue; Flush drains it once the channel opens. A message handed to Send
// while older ones are still queued is queued behind them, so the peer always
// observes Send order.
//
// Channel is not safe for concurrent use; the owning session serializes it.
type Channel struct {
	cipher    *Cipher
	peerReady bool
	closed    bool
	queue     [][]byte
	send      SendFunc
}

// NewChannel returns a locked channel that delivers through send.
func NewChannel(send SendFunc) *Channel {
	return &Channel{send: send}
}

// SetKey installs the symmetric key derived by the key exchange.
func (c *Channel) SetKey(key []byte) error {
	if c.closed {
		return ErrClosed
	}
	ci, err := NewCipher(key)
	if err != nil {
		return err
	}
	c.cipher = ci
	return nil
}

// HasKey reports whether a key is installed.
func (c *Channel) HasKey() bool { return c.cipher != nil }

// SetPeerReady records the peer's ready notice.
func (c *Channel) SetPeerReady() { c.peerReady = true }

// PeerReady reports whether the peer's ready notice arrived.
func (c *Channel) PeerReady() bool { return c.peerReady }

// IsOpen reports whether messages go out without queueing.
func (c *Channel) IsOpen() bool {
	return !c.closed && c.cipher != nil && c.peerReady
}

// Pending returns the number of queued messages.
func (c *Channel) Pending() int { return len(c.queue) }

// Send encodes v and delivers it, or queues it while the channel is locked.
// Encoding happens immediately, so later changes to v are not observed.
func (c *Channel) Send(v any) error {
	if c.closed {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("securechannel: encode: %w", err)
	}
	c.queue = append(c.queue, data)
	if !c.IsOpen() {
		return nil
	}
	_, err = c.Flush()
	return err
}

// Flush drains the queue in order when the channel is open and returns how
// many messages went out. It is a no-op while locked or when nothing is queued.
// On a delivery failure the undelivered messages stay queued.
func (c *Channel) Flush() (int, error) {
	if !c.IsOpen() || len(c.queue) == 0 {
		return 0, nil
	}
	pending := c.queue
	c.queue = nil

	for i, data := range pending {
		sealed, err := c.cipher.Seal(data)
		if err == nil {
			err = c.send(sealed)
		}
		if err != nil {
			c.queue = append(pending[i:len(pending):len(pending)], c.queue...)
			return i, err
		}
	}
	return len(pending), nil
}

// Receive decrypts payload into v.
func (c *Channel) Receive(payload string, v any) error {
	if c.closed {
		return ErrClosed
	}
	if c.cipher == nil {
		return ErrNoKey
	}
	plain, err := c.cipher.Open(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("securechannel: decode: %w", err)
	}
	return nil
}

// Close drops the queue and the key. It is idempotent.
func (c *Channel) Close() {
	c.closed = true
	c.cipher = nil
	c.queue = nil
}
