// Package topology tracks room membership and the host role, induces the
// full mesh, and hands the room secret over when the host changes.
package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
)

var (
	// ErrKicked is returned once the local participant has been kicked.
	ErrKicked = errors.New("topology: kicked from the room")

	// ErrNotHost is returned for moderation commands issued by a non-host.
	ErrNotHost = errors.New("topology: only the host can do that")

	// ErrUnknownMember is returned when a command names someone not in the room.
	ErrUnknownMember = errors.New("topology: no such participant")
)

// Actions are the effects the coordinator asks of the session.
type Actions interface {
	// Handshake makes sure a peer record exists and key agreement has begun.
	Handshake(peer string) error

	// Teardown destroys the record for peer, if any.
	Teardown(peer string)

	// SendSecure sends msg over the encrypted channel to peer.
	SendSecure(peer string, msg signaling.Secure) error

	// Relay sends an envelope to the relay.
	Relay(msg *signaling.Message) error
}

// Coordinator owns membership, the host field and the room secret. It is not
// safe for concurrent use; the session loop calls it.
type Coordinator struct {
	self    string
	host    string
	members map[string]bool
	secret  RoomSecret
	actions Actions
	log     *slog.Logger

	// waiting holds secret requests that arrived before we could answer them.
	waiting []string
	// answered holds requesters that already got the secret.
	answered map[string]bool
	// requested is set once we asked for the secret as host.
	requested bool
	kicked    bool
}

// New returns a coordinator for self. secret may be the zero value when the
// local participant did not create the room.
func New(self string, secret RoomSecret, actions Actions, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		self:     self,
		members:  map[string]bool{self: true},
		secret:   secret,
		actions:  actions,
		answered: make(map[string]bool),
		log:      logger.With("component", "topology"),
	}
}

// Self returns the local identity.
func (c *Coordinator) Self() string { return c.self }

// Host returns the current host, or "" while unknown.
func (c *Coordinator) Host() string { return c.host }

// IsHost reports whether the local participant is the host.
func (c *Coordinator) IsHost() bool { return c.host == c.self }

// Members returns the room members, including self, sorted.
func (c *Coordinator) Members() []string {
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// IsMember reports whether user is in the room.
func (c *Coordinator) IsMember(user string) bool { return c.members[user] }

// Secret returns the room secret and whether it is complete.
func (c *Coordinator) Secret() (RoomSecret, bool) { return c.secret, c.secret.Complete() }

// Kicked reports whether the local participant was kicked.
func (c *Coordinator) Kicked() bool { return c.kicked }

// others returns the members other than self, sorted.
func (c *Coordinator) others() []string {
	var out []string
	for _, m := range c.Members() {
		if m != c.self {
			out = append(out, m)
		}
	}
	return out
}

// OnPeerList applies the initial roster.
func (c *Coordinator) OnPeerList(users []string, host string) error {
	for _, u := range users {
		if u != "" {
			c.members[u] = true
		}
	}
	prev := c.host
	c.host = host
	if !c.IsHost() {
		return nil
	}

	others := c.others()
	var errs []error
	for i, a := range others {
		for _, b := range others[i+1:] {
			errs = append(errs, c.introduce(a, b))
		}
	}
	for _, m := range others {
		errs = append(errs, c.actions.Handshake(m))
	}
	errs = append(errs, c.becameHost(prev))
	return errors.Join(errs...)
}

// OnPeerJoined handles a join notification.
func (c *Coordinator) OnPeerJoined(user string) error {
	if user == "" || user == c.self {
		return nil
	}
	c.members[user] = true

	var errs []error
	if c.IsHost() {
		for _, m := range c.others() {
			if m != user {
				errs = append(errs, c.introduce(user, m))
			}
		}
	}
	errs = append(errs, c.actions.Handshake(user))
	return errors.Join(errs...)
}

// OnIntroduction handles a host introduction naming other.
func (c *Coordinator) OnIntroduction(other string) error {
	if other == "" || other == c.self {
		return nil
	}
	c.members[other] = true
	return c.actions.Handshake(other)
}

// OnPeerLeft handles a departure.
func (c *Coordinator) OnPeerLeft(user string) {
	if user == c.self {
		return
	}
	delete(c.members, user)
	delete(c.answered, user)
	c.waiting = slices.DeleteFunc(c.waiting, func(w string) bool { return w == user })
	c.actions.Teardown(user)
}

// OnHostChanged applies a host notification from the relay.
func (c *Coordinator) OnHostChanged(host string) error {
	prev := c.host
	c.host = host
	if host != "" {
		c.members[host] = true
	}
	if !c.IsHost() {
		return c.answerWaiting()
	}
	return c.becameHost(prev)
}

// becameHost materializes the secret on a new host: it is either already
// held or requested from the previous host.
func (c *Coordinator) becameHost(prev string) error {
	if prev == c.self {
		return nil
	}
	c.log.Info("Now hosting the room", "previous", prev)
	if c.secret.Complete() {
		return c.answerWaiting()
	}
	if c.requested {
		return nil
	}
	c.requested = true

	targets := c.others()
	if prev != "" && c.members[prev] {
		targets = []string{prev}
	}
	var errs []error
	for _, t := range targets {
		errs = append(errs, c.actions.SendSecure(t, signaling.Secure{Type: signaling.SecureHostPayloadRequest}))
	}
	return errors.Join(errs...)
}

// OnSecretRequest handles host_payload_request from peer.
func (c *Coordinator) OnSecretRequest(from string) error {
	if !c.members[from] || c.answered[from] {
		return nil
	}
	if !c.mayAnswer(from) {
		if !slices.Contains(c.waiting, from) {
			c.waiting = append(c.waiting, from)
		}
		c.log.Debug("Secret request deferred", "from", from)
		return nil
	}
	return c.answer(from)
}

// OnSecret handles host_payload from peer. Incomplete payloads and payloads
// arriving when a complete secret is already held are ignored.
func (c *Coordinator) OnSecret(from string, msg signaling.Secure) error {
	s := RoomSecret{RoomID: msg.RoomID, Key: msg.RoomKey, JoinLink: msg.JoinLink}
	if !s.Complete() || c.secret.Complete() || !c.members[from] {
		return nil
	}
	c.secret = s
	c.log.Info("Room secret received", "from", from, "room", s.RoomID)
	return c.answerWaiting()
}

// SetSecret installs a secret created locally.
func (c *Coordinator) SetSecret(s RoomSecret) error {
	c.secret = s
	return c.answerWaiting()
}

// mayAnswer: only a complete secret is sent, and only by the host or to the host.
func (c *Coordinator) mayAnswer(to string) bool {
	return c.secret.Complete() && (c.IsHost() || to == c.host)
}

func (c *Coordinator) answer(to string) error {
	c.answered[to] = true
	c.waiting = slices.DeleteFunc(c.waiting, func(w string) bool { return w == to })
	return c.actions.SendSecure(to, signaling.Secure{
		Type:     signaling.SecureHostPayload,
		RoomID:   c.secret.RoomID,
		RoomKey:  c.secret.Key,
		JoinLink: c.secret.JoinLink,
	})
}

func (c *Coordinator) answerWaiting() error {
	var errs []error
	for _, w := range slices.Clone(c.waiting) {
		if c.mayAnswer(w) {
			errs = append(errs, c.answer(w))
		}
	}
	return errors.Join(errs...)
}

// OnKick handles a kick naming target. Kicking self tears everything down
// and returns ErrKicked.
func (c *Coordinator) OnKick(target string) error {
	if target != c.self {
		return nil
	}
	c.kicked = true
	for _, m := range c.others() {
		c.actions.Teardown(m)
	}
	c.members = map[string]bool{c.self: true}
	c.waiting = nil
	return ErrKicked
}

func (c *Coordinator) introduce(a, b string) error {
	return c.actions.Relay(&signaling.Message{Type: signaling.MessageTypeIntroducePair, A: a, B: b})
}

func (c *Coordinator) requireHost() error {
	if !c.IsHost() {
		return ErrNotHost
	}
	return nil
}

func (c *Coordinator) requireMember(user string) error {
	if user == c.self || !c.members[user] {
		return fmt.Errorf("%w: %q", ErrUnknownMember, user)
	}
	return nil
}

// ClaimHost asks the relay to make self host of a room without one.
func (c *Coordinator) ClaimHost() error {
	return c.actions.Relay(&signaling.Message{Type: signaling.MessageTypeIAmHost})
}

// Kick removes target from the room.
func (c *Coordinator) Kick(target string) error {
	if err := c.requireHost(); err != nil {
		return err
	}
	if err := c.requireMember(target); err != nil {
		return err
	}
	return c.actions.Relay(&signaling.Message{Type: signaling.MessageTypeHostKick, Target: target})
}

// MuteAll asks every other participant to mute.
func (c *Coordinator) MuteAll() error {
	if err := c.requireHost(); err != nil {
		return err
	}
	return c.actions.Relay(&signaling.Message{Type: signaling.MessageTypeHostMuteAll})
}

// TransferHost hands the host role to target.
func (c *Coordinator) TransferHost(target string) error {
	if err := c.requireHost(); err != nil {
		return err
	}
	if err := c.requireMember(target); err != nil {
		return err
	}
	return c.actions.Relay(&signaling.Message{Type: signaling.MessageTypeTransferHost, To: target})
}
