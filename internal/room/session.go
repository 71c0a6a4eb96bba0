// Package room runs one participant's session: a single event loop that owns
// every peer record and drives key agreement, the secure channels,
// negotiation, topology and track classification.
package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/negotiation"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/tracks"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

const (
	eventBuffer  = 256
	noticeBuffer = 64
)

// Relay is the connection to the relay server.
type Relay interface {
	Send(msg *signaling.Message) error
	Incoming() <-chan *signaling.Message
	Err() error
	Close()
}

// Options configure a Session.
type Options struct {
	User string

	// Secret is set when the local participant created the room.
	Secret topology.RoomSecret

	Relay Relay

	// NewPeerConnection creates connections, usually mcwebrtc.Factory.NewPeerConnection.
	NewPeerConnection func() (*webrtc.PeerConnection, error)

	Media MediaOptions

	// Sink receives inbound track classification; may be nil.
	Sink tracks.Sink

	OfferTimeout time.Duration
	Logger       *slog.Logger
}

// Session is one participant in a room.
type Session struct {
	opts Options
	log  *slog.Logger

	relay       Relay
	local       *media.Local
	registry    *peer.Registry
	engine      *negotiation.Engine
	coordinator *topology.Coordinator
	classifier  *tracks.Classifier

	events  chan event
	notices chan Notice
	changes chan struct{}
	done    chan struct{}

	// awaiting holds records whose offer waits for local media.
	awaiting map[*peer.Record]bool

	handRaised bool

	mediaCtx   context.Context
	stopMedia  context.CancelFunc
	stopScreen context.CancelFunc
	pumps      sync.WaitGroup
	stopsMu    sync.Mutex
	stops      []func()
	closeOnce  sync.Once
}

// New prepares a session. Run starts it.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("self", opts.User)

	s := &Session{
		opts:     opts,
		log:      logger,
		relay:    opts.Relay,
		local:    media.NewLocal(opts.User),
		events:   make(chan event, eventBuffer),
		notices:  make(chan Notice, noticeBuffer),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		awaiting: make(map[*peer.Record]bool),
	}
	s.mediaCtx, s.stopMedia = context.WithCancel(context.Background())
	s.classifier = tracks.NewClassifier(opts.Sink, logger)
	s.registry = peer.NewRegistry(peer.Config{
		Self:              opts.User,
		NewPeerConnection: opts.NewPeerConnection,
		Send:              s.sendEncrypted,
		Wire:              s.wire,
		Local:             s.local,
		Classifier:        s.classifier,
		OnDestroy:         s.onDestroy,
		Logger:            logger,
	})
	s.engine = negotiation.New(opts.User, s, logger)
	if opts.OfferTimeout > 0 {
		s.engine.OfferTimeout = opts.OfferTimeout
	}
	s.coordinator = topology.New(opts.User, opts.Secret, s, logger)
	return s
}

// Notices delivers user-facing events. Notices are dropped when nobody reads.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Changes signals that the roster or some peer state changed. Signals are
// coalesced; call Snapshot to read the new state.
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Local returns the local media.
func (s *Session) Local() *media.Local { return s.local }

// Run joins the room and processes events until ctx ends, the relay
// disconnects or the local participant is kicked.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	if err := s.relay.Send(&signaling.Message{Type: signaling.MessageTypeHello}); err != nil {
		return NewError("greet relay", err)
	}
	if _, ok := s.coordinator.Secret(); ok {
		if err := s.coordinator.ClaimHost(); err != nil {
			return NewError("claim host", err)
		}
	}
	go s.acquireMedia(s.mediaCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-s.relay.Incoming():
			if !ok {
				if err := s.relay.Err(); err != nil {
					return WrapError("relay", ErrRelayClosed, err.Error())
				}
				return NewError("relay", ErrRelayClosed)
			}
			if err := s.onRelay(msg); errors.Is(err, topology.ErrKicked) {
				s.notify(Notice{Kind: NoticeWarning, Text: "You were removed from the room by the host"})
				return NewError("session", ErrKicked)
			} else if err != nil {
				s.log.Warn("Relay message failed", "type", msg.Type, "from", msg.From, "error", err)
			}

		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// shutdown says goodbye to every peer and releases all resources.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, id := range s.registry.IDs() {
			if rec := s.registry.Get(id); rec.Secured() {
				if err := rec.Channel.Send(signaling.Secure{Type: signaling.SecureBye}); err != nil {
					s.log.Debug("Goodbye not sent", "peer", id, "error", err)
				}
			}
		}
		s.registry.DestroyAll()
		s.relay.Close()

		s.stopMedia()
		s.stopsMu.Lock()
		for _, stop := range s.stops {
			stop()
		}
		s.stopsMu.Unlock()
		s.pumps.Wait()
	})
}

// post hands ev to the loop. It never blocks after shutdown.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) postPeer(rec *peer.Record, ev negotiation.Event) {
	s.post(event{kind: evNegotiation, rec: rec, neg: ev})
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
	}
}

func (s *Session) warn(text string) {
	s.log.Warn(text)
	s.notify(Notice{Kind: NoticeWarning, Text: text})
}

func (s *Session) rosterChanged() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// dispatch runs one loop event.
func (s *Session) dispatch(ev event) {
	if ev.kind == evCommand {
		err := ev.cmd()
		ev.reply <- err
		return
	}
	if ev.kind == evMediaReady {
		s.onMediaReady()
		return
	}
	// Everything else belongs to a record that may be gone by now.
	if !s.registry.Current(ev.rec) {
		return
	}
	rec := ev.rec

	switch ev.kind {
	case evNegotiation:
		if err := s.engine.Handle(rec, ev.neg); err != nil {
			s.log.Warn("Negotiation step failed", "peer", rec.ID, "event", ev.neg.Kind, "error", err)
		}

	case evTrack:
		role := s.classifier.Classify(rec.ID, &rec.Streams, ev.track.Kind(), ev.streamID)
		s.log.Info("Receiving media", "peer", rec.ID, "kind", ev.track.Kind(), "role", role)
		s.rosterChanged()

	case evTrackEnded:
		if s.classifier.Ended(rec.ID, &rec.Streams, ev.streamID) {
			s.rosterChanged()
		}

	case evConnState:
		rec.ConnState = ev.conn
		s.log.Debug("Connection state", "peer", rec.ID, "state", ev.conn)
		if ev.conn == webrtc.PeerConnectionStateFailed {
			s.warn("Connection to " + rec.ID + " failed")
		}
		s.rosterChanged()

	case evStateOpen:
		s.sendMediaState(rec)
		if s.handRaised {
			s.sendState(rec, mcwebrtc.MessageTypeHand, mcwebrtc.HandPayload{Raised: true})
		}

	case evStateMessage:
		s.onStateMessage(rec, ev.state)
	}
}

func (s *Session) onMediaReady() {
	for _, id := range s.registry.IDs() {
		if _, err := s.registry.AttachLocal(s.registry.Get(id)); err != nil {
			s.log.Warn("Attaching local media failed", "peer", id, "error", err)
		}
	}
	waiting := s.awaiting
	s.awaiting = make(map[*peer.Record]bool)
	for rec := range waiting {
		if s.registry.Current(rec) {
			if err := s.engine.Handle(rec, negotiation.Event{Kind: negotiation.MediaReady}); err != nil {
				s.log.Warn("Offer after media failed", "peer", rec.ID, "error", err)
			}
		}
	}
	s.broadcastMediaState()
}

// wire installs connection observers on a new record. They only post events.
func (s *Session) wire(rec *peer.Record) {
	pc := rec.PC
	pc.OnNegotiationNeeded(func() {
		s.postPeer(rec, negotiation.Event{Kind: negotiation.NegotiationNeeded})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.postPeer(rec, negotiation.Event{Kind: negotiation.LocalCandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(event{kind: evConnState, rec: rec, conn: state})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.post(event{kind: evTrack, rec: rec, track: track, streamID: track.StreamID()})
		go s.drainTrack(rec, track)
	})
	if rec.State != nil {
		rec.State.OnOpen(func() { s.post(event{kind: evStateOpen, rec: rec}) })
		mcwebrtc.OnState(rec.State, func(msg mcwebrtc.Message) {
			s.post(event{kind: evStateMessage, rec: rec, state: msg})
		})
	}
}

// drainTrack consumes an inbound track and reports when it ends.
func (s *Session) drainTrack(rec *peer.Record, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("Inbound track closed", "peer", rec.ID, "error", err)
			}
			break
		}
	}
	s.post(event{kind: evTrackEnded, rec: rec, streamID: track.StreamID()})
}

func (s *Session) onDestroy(rec *peer.Record) {
	delete(s.awaiting, rec)
	s.rosterChanged()
}

// sendEncrypted relays a sealed payload to a peer.
func (s *Session) sendEncrypted(peerID, payload string) error {
	return s.sendSignal(peerID, signaling.SignalData{Type: signaling.SignalEncrypted, B64: payload})
}

func (s *Session) sendSignal(to string, data signaling.SignalData) error {
	msg, err := signaling.NewSignal(to, data)
	if err != nil {
		return err
	}
	return s.relay.Send(msg)
}

// SendReady implements negotiation.Transport.
func (s *Session) SendReady(rec *peer.Record) error {
	return s.sendSignal(rec.ID, signaling.SignalData{Type: signaling.SignalReady})
}

// AwaitMedia implements negotiation.Transport.
func (s *Session) AwaitMedia(rec *peer.Record) bool {
	if s.local.IsReady() {
		return true
	}
	s.awaiting[rec] = true
	return false
}

// After implements negotiation.Transport.
func (s *Session) After(rec *peer.Record, d time.Duration, ev negotiation.Event) {
	time.AfterFunc(d, func() { s.postPeer(rec, ev) })
}

// LocalRoles implements negotiation.Transport.
func (s *Session) LocalRoles() map[string]string { return s.local.Roles() }

// Restart implements negotiation.Transport. The fresh public value makes the
// peer drop its record too, and both sides negotiate from scratch.
func (s *Session) Restart(rec *peer.Record) {
	id := rec.ID
	s.registry.Destroy(id)
	if err := s.Handshake(id); err != nil {
		s.log.Warn("Restarting peer failed", "peer", id, "error", err)
	}
}

// Handshake implements topology.Actions: it makes sure a record exists and
// that our public value went out.
func (s *Session) Handshake(peerID string) error {
	rec, created, err := s.registry.Ensure(peerID)
	if err != nil {
		if errors.Is(err, peer.ErrSelf) {
			return nil
		}
		return NewPeerError("connect", peerID, err)
	}
	if created {
		s.rosterChanged()
	}
	if rec.Exchange.Started() {
		return nil
	}
	pub, err := rec.Exchange.Begin()
	if err != nil {
		return NewPeerError("key agreement", peerID, err)
	}
	return s.sendSignal(peerID, signaling.SignalData{Type: signaling.SignalDHPublic, Value: pub})
}

// Teardown implements topology.Actions.
func (s *Session) Teardown(peerID string) {
	s.registry.Destroy(peerID)
}

// SendSecure implements topology.Actions.
func (s *Session) SendSecure(peerID string, msg signaling.Secure) error {
	if err := s.Handshake(peerID); err != nil {
		return err
	}
	rec := s.registry.Get(peerID)
	if rec == nil {
		return NewPeerError("send", peerID, peer.ErrSelf)
	}
	return rec.Channel.Send(msg)
}

// Relay implements topology.Actions.
func (s *Session) Relay(msg *signaling.Message) error {
	return s.relay.Send(msg)
}
