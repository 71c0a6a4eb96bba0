// Package relay is the reference signaling relay: it tracks room presence and
// the host role and forwards directed envelopes between participants without
// looking inside them.
package relay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
)

// Hub is the central brain of the relay.
// It manages all active rooms and clients from a single goroutine.
type Hub struct {
	// rooms maps room IDs to Room instances. Owned by Run.
	rooms map[string]*Room

	register chan *Client
	leaving  chan *Client
	inbound  chan *frame
	queries  chan func()
	done     chan struct{}

	log *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:    make(map[string]*Room),
		register: make(chan *Client),
		leaving:  make(chan *Client),
		inbound:  make(chan *frame),
		queries:  make(chan func()),
		done:     make(chan struct{}),
		log:      logger.With("component", "relay"),
	}
}

// Register hands a freshly upgraded connection to the hub. It reports false
// when the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaving <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(f *frame) bool {
	select {
	case h.inbound <- f:
		return true
	case <-h.done:
		return false
	}
}

// Rooms returns a snapshot of room id to usernames plus the host of each room.
func (h *Hub) Rooms() (members map[string][]string, hosts map[string]string) {
	members = make(map[string][]string)
	hosts = make(map[string]string)
	ran := make(chan struct{})
	q := func() {
		for id, r := range h.rooms {
			members[id] = r.Users()
			hosts[id] = r.Host
		}
		close(ran)
	}
	select {
	case h.queries <- q:
		<-ran
	case <-h.done:
	}
	return members, hosts
}

// Run starts the hub's main processing loop and returns when ctx is done.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, r := range h.rooms {
			for _, c := range r.clients {
				h.closeClient(c)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.join(c)

		case c := <-h.leaving:
			h.leave(c)
			h.closeClient(c)

		case f := <-h.inbound:
			h.route(f)

		case q := <-h.queries:
			q()
		}
	}
}

func (h *Hub) join(c *Client) {
	room, ok := h.rooms[c.RoomID]
	if !ok {
		room = &Room{ID: c.RoomID}
		h.rooms[c.RoomID] = room
	}

	if room.byUser(c.User) != nil {
		h.log.Info("Rejecting duplicate username", "room", room.ID, "user", c.User, "conn", c.ID)
		h.deliver(c, encode(&signaling.Message{Type: signaling.MessageTypeError, Text: "username already in room"}))
		h.closeClient(c)
		if room.empty() {
			delete(h.rooms, room.ID)
		}
		return
	}

	room.add(c)
	h.log.Info("Participant joined", "room", room.ID, "user", c.User, "conn", c.ID)

	// First participant becomes host, announced to everyone including the joiner
	if room.Host == "" {
		room.Host = c.User
		h.broadcast(room, &signaling.Message{Type: signaling.MessageTypeHostChanged, Host: c.User}, nil)
	}

	h.deliver(c, encode(&signaling.Message{
		Type:  signaling.MessageTypePeerList,
		Users: room.Users(),
		Host:  room.Host,
	}))
	h.broadcast(room, &signaling.Message{Type: signaling.MessageTypePeerJoined, User: c.User}, c)
}

// leave removes c from its room, announcing the departure and promoting a
// new host when needed. It is a no-op for clients no longer in a room.
func (h *Hub) leave(c *Client) {
	room, ok := h.rooms[c.RoomID]
	if !ok || !room.remove(c) {
		return
	}
	h.log.Info("Participant left", "room", room.ID, "user", c.User, "conn", c.ID)

	h.broadcast(room, &signaling.Message{Type: signaling.MessageTypePeerLeft, User: c.User}, nil)

	if room.Host == c.User {
		room.Host = room.successor()
		h.log.Info("Host promoted", "room", room.ID, "host", room.Host)
		h.broadcast(room, &signaling.Message{Type: signaling.MessageTypeHostChanged, Host: room.Host}, nil)
	}

	if room.empty() {
		delete(h.rooms, room.ID)
		h.log.Debug("Room deleted", "room", room.ID)
	}
}

func (h *Hub) route(f *frame) {
	sender := f.client
	room, ok := h.rooms[sender.RoomID]
	if !ok || room.byUser(sender.User) != sender {
		return
	}

	// Not JSON: blind relay to everyone else
	if f.msg == nil {
		h.broadcastRaw(room, f.raw, sender)
		return
	}
	msg := f.msg
	isHost := room.Host == sender.User

	switch msg.Type {
	case signaling.MessageTypeHello:

	case signaling.MessageTypeIAmHost:
		if room.Host == "" {
			room.Host = sender.User
			h.broadcast(room, &signaling.Message{Type: signaling.MessageTypeHostChanged, Host: sender.User}, nil)
		}

	case signaling.MessageTypeHostMuteAll:
		if !isHost {
			return
		}
		mute := encode(&signaling.Message{Type: signaling.MessageTypeHostMute})
		for _, c := range append([]*Client(nil), room.clients...) {
			if c.User != sender.User {
				h.deliver(c, mute)
			}
		}

	case signaling.MessageTypeHostKick:
		if !isHost || msg.Target == "" {
			return
		}
		target := room.byUser(msg.Target)
		if target == nil {
			return
		}
		h.log.Info("Participant kicked", "room", room.ID, "user", target.User, "by", sender.User)
		h.deliver(target, encode(&signaling.Message{Type: signaling.MessageTypeHostKick, To: target.User}))
		h.leave(target)
		h.closeClient(target)

	case signaling.MessageTypeTransferHost:
		if !isHost || msg.To == "" || room.byUser(msg.To) == nil {
			return
		}
		room.Host = msg.To
		h.broadcast(room, &signaling.Message{Type: signaling.MessageTypeHostChanged, Host: msg.To}, nil)

	case signaling.MessageTypeIntroducePair:
		if !isHost || msg.A == "" || msg.B == "" {
			return
		}
		for _, pair := range [][2]string{{msg.A, msg.B}, {msg.B, msg.A}} {
			target, other := pair[0], pair[1]
			intro, err := signaling.NewSignal(target, signaling.SignalData{Type: signaling.SignalIntro, Other: other})
			if err != nil {
				continue
			}
			intro.From = signaling.IntroSender
			h.sendTo(room, target, intro)
		}

	case signaling.MessageTypeChat:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		out := signaling.Message{Type: signaling.MessageTypeChat, From: sender.User, Text: text}
		if msg.To != "" && msg.To != "*" {
			private := out
			private.Private = true
			h.sendTo(room, msg.To, &private)
			private.To = msg.To
			h.sendTo(room, sender.User, &private)
			return
		}
		h.broadcast(room, &out, nil)

	default:
		if msg.Type == signaling.MessageTypeSignal && msg.To != "" {
			// enforce the sender name
			msg.From = sender.User
			h.sendTo(room, msg.To, msg)
			return
		}
		h.broadcastRaw(room, f.raw, sender)
	}
}

func (h *Hub) sendTo(room *Room, user string, msg *signaling.Message) {
	if c := room.byUser(user); c != nil {
		h.deliver(c, encode(msg))
	}
}

func (h *Hub) broadcast(room *Room, msg *signaling.Message, except *Client) {
	h.broadcastRaw(room, encode(msg), except)
}

func (h *Hub) broadcastRaw(room *Room, data []byte, except *Client) {
	for _, c := range append([]*Client(nil), room.clients...) {
		if c != except {
			h.deliver(c, data)
		}
	}
}

// deliver queues data for c, evicting clients that stopped reading.
func (h *Hub) deliver(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		h.log.Warn("Evicting slow client", "room", c.RoomID, "user", c.User, "conn", c.ID)
		h.closeClient(c)
		h.leave(c)
	}
}

func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
