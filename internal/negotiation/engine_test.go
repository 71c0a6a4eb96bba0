package negotiation

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/securechannel"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

var testKey = bytes.Repeat([]byte{7}, 16)

type scheduled struct {
	rec *peer.Record
	d   time.Duration
	ev  Event
}

type delivery struct {
	to *side
	ev Event
}

// side is one participant of a two-party harness.
type side struct {
	name  string
	rec   *peer.Record
	eng   *Engine
	other *side
	h     *harness

	mu          sync.Mutex
	sent        []string
	initialWait []bool
	timers      []scheduled
	restarts    int
}

func (s *side) SendReady(rec *peer.Record) error {
	s.h.post(s.other, Event{Kind: PeerReady})
	return nil
}

func (s *side) AwaitMedia(rec *peer.Record) bool {
	s.mu.Lock()
	s.initialWait = append(s.initialWait, !rec.InitialDone)
	s.mu.Unlock()
	return true
}

func (s *side) After(rec *peer.Record, d time.Duration, ev Event) {
	s.mu.Lock()
	s.timers = append(s.timers, scheduled{rec, d, ev})
	s.mu.Unlock()
}

func (s *side) LocalRoles() map[string]string { return map[string]string{"camera-" + s.name: "camera"} }

func (s *side) Restart(*peer.Record) {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

type harness struct {
	t      *testing.T
	events chan delivery
	alice  *side
	bob    *side
}

func (h *harness) post(to *side, ev Event) {
	h.events <- delivery{to, ev}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSide(t *testing.T, h *harness, name, remote string) *side {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	s := &side{name: name, h: h}
	s.rec = &peer.Record{ID: remote, PC: pc, Senders: map[string]*webrtc.RTPSender{}}
	s.rec.Channel = securechannel.NewChannel(s.deliver)
	s.eng = New(name, s, discard())
	return s
}

// deliver decrypts payload on the other side and posts the resulting event.
func (s *side) deliver(payload string) error {
	var msg signaling.Secure
	if err := s.other.rec.Channel.Receive(payload, &msg); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg.Type)
	s.mu.Unlock()

	if ev, ok := FromSecure(&msg); ok {
		s.h.post(s.other, ev)
	}
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, events: make(chan delivery, 512)}
	h.alice = newSide(t, h, "alice", "bob")
	h.bob = newSide(t, h, "bob", "alice")
	h.alice.other, h.bob.other = h.bob, h.alice

	for _, s := range []*side{h.alice, h.bob} {
		s := s
		if _, err := mcwebrtc.OpenStateChannel(s.rec.PC); err != nil {
			t.Fatal(err)
		}
		s.rec.PC.OnNegotiationNeeded(func() { h.post(s, Event{Kind: NegotiationNeeded}) })
		s.rec.PC.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			init := c.ToJSON()
			h.post(s, Event{Kind: LocalCandidate, Candidate: &init})
		})
	}
	return h
}

// secure marks both channels keyed and starts the ready handshake.
func (h *harness) secure() {
	for _, s := range []*side{h.alice, h.bob} {
		if err := s.rec.Channel.SetKey(testKey); err != nil {
			h.t.Fatal(err)
		}
		h.post(s, Event{Kind: KeyEstablished})
	}
}

// run dispatches events until done reports true.
func (h *harness) run(done func() bool) {
	h.t.Helper()
	deadline := time.After(10 * time.Second)
	for !done() {
		select {
		case d := <-h.events:
			if d.ev.Kind == PeerReady {
				d.to.rec.Channel.SetPeerReady()
			}
			if err := d.to.eng.Handle(d.to.rec, d.ev); err != nil {
				h.t.Logf("%s: %v: %v", d.to.name, d.ev.Kind, err)
			}
		case <-deadline:
			h.t.Fatalf("timed out: alice=%+v bob=%+v", h.alice.rec.Info(), h.bob.rec.Info())
		}
	}
}

func settled(s *side) bool {
	r := s.rec
	return r.InitialDone && r.Phase == peer.PhaseStable && !r.PendingRenegotiation &&
		!r.TurnRequested && !r.PeerWantsTurn && !r.PeerHasTurn
}

func TestSmallerIdentityOffersFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.secure()
	h.run(func() bool { return settled(h.alice) && settled(h.bob) })

	h.alice.mu.Lock()
	defer h.alice.mu.Unlock()
	h.bob.mu.Lock()
	defer h.bob.mu.Unlock()

	if len(h.alice.initialWait) == 0 || !h.alice.initialWait[0] {
		t.Fatal("alice never prepared the initial offer")
	}
	for _, initial := range h.bob.initialWait {
		if initial {
			t.Fatal("bob entered making-offer for the initial handshake")
		}
	}
	if first := firstOf(h.alice.sent, "offer", "answer"); first != "offer" {
		t.Fatalf("alice's first description = %q", first)
	}
	if first := firstOf(h.bob.sent, "offer", "answer"); first != "answer" {
		t.Fatalf("bob's first description = %q", first)
	}
	if h.alice.rec.PC.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("alice signaling state = %s", h.alice.rec.PC.SignalingState())
	}
}

func firstOf(sent []string, types ...string) string {
	for _, s := range sent {
		for _, t := range types {
			if s == t {
				return s
			}
		}
	}
	return ""
}

// offerFrom creates an offer on a throwaway connection.
func offerFrom(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	if _, err := pc.CreateDataChannel("warmup", nil); err != nil {
		t.Fatal(err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	return offer
}

// securedRecord returns a record whose channel is open and whose initial
// negotiation is complete.
func securedRecord(t *testing.T, remote string, sent *[]string) *peer.Record {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	if _, err := mcwebrtc.OpenStateChannel(pc); err != nil {
		t.Fatal(err)
	}
	rec := &peer.Record{ID: remote, PC: pc, ReadySent: true}
	rec.Channel = securechannel.NewChannel(func(payload string) error {
		*sent = append(*sent, payload)
		return nil
	})
	if err := rec.Channel.SetKey(testKey); err != nil {
		t.Fatal(err)
	}
	rec.Channel.SetPeerReady()
	return rec
}

type recorder struct {
	timers   []scheduled
	restarts []*peer.Record
}

func (r *recorder) SendReady(*peer.Record) error  { return nil }
func (r *recorder) AwaitMedia(*peer.Record) bool  { return true }
func (r *recorder) LocalRoles() map[string]string { return nil }
func (r *recorder) After(rec *peer.Record, d time.Duration, ev Event) {
	r.timers = append(r.timers, scheduled{rec, d, ev})
}

func (r *recorder) Restart(rec *peer.Record) { r.restarts = append(r.restarts, rec) }

// types decrypts sealed payloads and returns their message types.
func types(t *testing.T, sent []string) []string {
	t.Helper()
	c, err := securechannel.NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(sent))
	for _, p := range sent {
		plain, err := c.Open(p)
		if err != nil {
			t.Fatal(err)
		}
		var msg signaling.Secure
		if err := json.Unmarshal(plain, &msg); err != nil {
			t.Fatal(err)
		}
		out = append(out, msg.Type)
	}
	return out
}

func TestGlareDropsRemoteOffer(t *testing.T) {
	t.Parallel()

	var sent []string
	rec := securedRecord(t, "bob", &sent)
	rec.InitialDone = true
	rec.Phase = peer.PhaseStable

	eng := New("alice", &recorder{}, discard())
	if err := eng.Handle(rec, Event{Kind: NegotiationNeeded}); err != nil {
		t.Fatal(err)
	}
	if rec.Phase != peer.PhaseHaveLocalOffer || len(sent) != 1 {
		t.Fatalf("phase=%s sent=%d", rec.Phase, len(sent))
	}
	gen := rec.OfferGen

	remote := offerFrom(t)
	if err := eng.Handle(rec, Event{Kind: RemoteOffer, Description: &remote}); err != nil {
		t.Fatalf("glare offer returned %v", err)
	}
	if rec.Phase != peer.PhaseHaveLocalOffer || rec.OfferGen != gen {
		t.Fatalf("state changed: phase=%s gen=%d", rec.Phase, rec.OfferGen)
	}
	if rec.PC.SignalingState() != webrtc.SignalingStateHaveLocalOffer || rec.PC.RemoteDescription() != nil {
		t.Fatal("remote offer was applied")
	}
	if len(sent) != 1 {
		t.Fatalf("answer sent during glare: %d messages", len(sent))
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	t.Parallel()

	var sent []string
	rec := securedRecord(t, "alice", &sent)
	eng := New("bob", &recorder{}, discard())

	mid := "0"
	cands := []string{
		"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		"candidate:2 1 udp 2130706431 192.0.2.2 50001 typ host",
		"candidate:3 1 udp 1694498815 198.51.100.7 50002 typ srflx raddr 0.0.0.0 rport 0",
	}
	for _, c := range cands {
		init := webrtc.ICECandidateInit{Candidate: c, SDPMid: &mid}
		if err := eng.Handle(rec, Event{Kind: RemoteCandidate, Candidate: &init}); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.Candidates) != len(cands) {
		t.Fatalf("buffered %d candidates", len(rec.Candidates))
	}
	for i, c := range rec.Candidates {
		if c.Candidate != cands[i] {
			t.Fatalf("candidate %d out of order: %q", i, c.Candidate)
		}
	}

	remote := offerFrom(t)
	if err := eng.Handle(rec, Event{Kind: RemoteOffer, Description: &remote}); err != nil {
		t.Fatal(err)
	}
	if len(rec.Candidates) != 0 {
		t.Fatalf("%d candidates left buffered", len(rec.Candidates))
	}
	if rec.Phase != peer.PhaseStable || !rec.InitialDone || len(sent) != 1 {
		t.Fatalf("phase=%s initial=%v sent=%d", rec.Phase, rec.InitialDone, len(sent))
	}
}

func TestOfferTimeoutRestartsPair(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		self, remote string
		wait         time.Duration
	}{
		{"alice", "bob", 2 * DefaultOfferTimeout},
		{"bob", "alice", DefaultOfferTimeout},
	} {
		var sent []string
		rec := securedRecord(t, tt.remote, &sent)
		rec.InitialDone = true
		rec.Phase = peer.PhaseStable

		tr := &recorder{}
		eng := New(tt.self, tr, discard())
		if err := eng.startOffer(rec); err != nil {
			t.Fatal(err)
		}
		if len(tr.timers) != 1 {
			t.Fatalf("%s: %d watchdogs", tt.self, len(tr.timers))
		}
		if tr.timers[0].d != tt.wait {
			t.Fatalf("%s: watchdog after %s, want %s", tt.self, tr.timers[0].d, tt.wait)
		}

		// A stale generation is ignored.
		if err := eng.Handle(rec, Event{Kind: OfferTimeout, Generation: rec.OfferGen - 1}); err != nil || len(tr.restarts) != 0 {
			t.Fatalf("%s: stale timeout acted: %v restarts=%d", tt.self, err, len(tr.restarts))
		}

		if err := eng.Handle(rec, tr.timers[0].ev); err != nil {
			t.Fatal(err)
		}
		if len(tr.restarts) != 1 || tr.restarts[0] != rec {
			t.Fatalf("%s: restarts = %d", tt.self, len(tr.restarts))
		}
	}
}

func TestResponderAsksForTurn(t *testing.T) {
	t.Parallel()

	var sent []string
	rec := securedRecord(t, "alice", &sent)
	rec.InitialDone = true
	rec.Phase = peer.PhaseStable
	eng := New("bob", &recorder{}, discard())

	for i := 0; i < 2; i++ {
		if err := eng.Handle(rec, Event{Kind: NegotiationNeeded}); err != nil {
			t.Fatal(err)
		}
	}
	if got := types(t, sent); len(got) != 1 || got[0] != signaling.SecureOfferRequest {
		t.Fatalf("sent %v, want one offer request", got)
	}
	if rec.Phase != peer.PhaseStable || rec.PC.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("offered without the turn: phase=%s", rec.Phase)
	}

	if err := eng.Handle(rec, Event{Kind: TurnGranted}); err != nil {
		t.Fatal(err)
	}
	got := types(t, sent)
	if rec.Phase != peer.PhaseHaveLocalOffer || got[len(got)-1] != signaling.SecureOffer {
		t.Fatalf("phase=%s sent=%v", rec.Phase, got)
	}
	if rec.TurnRequested || rec.PendingRenegotiation {
		t.Fatalf("turn state left over: %+v", rec)
	}
}

func TestInitiatorHoldsOffersWhileTurnGranted(t *testing.T) {
	t.Parallel()

	var sent []string
	rec := securedRecord(t, "bob", &sent)
	rec.InitialDone = true
	rec.Phase = peer.PhaseStable
	tr := &recorder{}
	eng := New("alice", tr, discard())

	if err := eng.Handle(rec, Event{Kind: TurnRequest}); err != nil {
		t.Fatal(err)
	}
	if got := types(t, sent); len(got) != 1 || got[0] != signaling.SecureOfferGrant || !rec.PeerHasTurn {
		t.Fatalf("sent %v, granted=%v", got, rec.PeerHasTurn)
	}

	// Our own changes wait for the peer's offer.
	if err := eng.Handle(rec, Event{Kind: NegotiationNeeded}); err != nil {
		t.Fatal(err)
	}
	if rec.Phase != peer.PhaseStable || !rec.PendingRenegotiation || len(sent) != 1 {
		t.Fatalf("offered during granted turn: phase=%s sent=%d", rec.Phase, len(sent))
	}

	// The grant lapses and the held renegotiation runs.
	if len(tr.timers) != 1 || tr.timers[0].d != 3*DefaultOfferTimeout {
		t.Fatalf("turn watchdogs = %+v", tr.timers)
	}
	if err := eng.Handle(rec, tr.timers[0].ev); err != nil {
		t.Fatal(err)
	}
	got := types(t, sent)
	if rec.PeerHasTurn || rec.Phase != peer.PhaseHaveLocalOffer || got[len(got)-1] != signaling.SecureOffer {
		t.Fatalf("phase=%s sent=%v", rec.Phase, got)
	}

	// A request during our own exchange is granted only once it settles.
	if err := eng.Handle(rec, Event{Kind: TurnRequest}); err != nil {
		t.Fatal(err)
	}
	if !rec.PeerWantsTurn || rec.PeerHasTurn || len(sent) != 2 {
		t.Fatalf("granted mid-exchange: wants=%v has=%v sent=%d", rec.PeerWantsTurn, rec.PeerHasTurn, len(sent))
	}
}

// addVideo adds a local video track and returns its stream id.
func addVideo(t *testing.T, s *side) string {
	t.Helper()
	stream := "stream-" + s.name
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.rec.PC.AddTrack(track); err != nil {
		t.Fatal(err)
	}
	return stream
}

func remoteHas(s *side, stream string) bool {
	d := s.rec.PC.RemoteDescription()
	return d != nil && strings.Contains(d.SDP, stream)
}

func TestConcurrentRenegotiationConverges(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.secure()
	h.run(func() bool { return settled(h.alice) && settled(h.bob) })

	// Both sides change their tracks at the same moment.
	aliceStream := addVideo(t, h.alice)
	bobStream := addVideo(t, h.bob)

	h.run(func() bool {
		return settled(h.alice) && settled(h.bob) &&
			remoteHas(h.bob, aliceStream) && remoteHas(h.alice, bobStream)
	})

	for _, s := range []*side{h.alice, h.bob} {
		if st := s.rec.PC.SignalingState(); st != webrtc.SignalingStateStable {
			t.Fatalf("%s signaling state = %s", s.name, st)
		}
		s.mu.Lock()
		restarts := s.restarts
		s.mu.Unlock()
		if restarts != 0 {
			t.Fatalf("%s restarted %d times", s.name, restarts)
		}
	}
}

func TestPendingUntilSecured(t *testing.T) {
	t.Parallel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	var sent []string
	rec := &peer.Record{ID: "bob", PC: pc}
	rec.Channel = securechannel.NewChannel(func(p string) error { sent = append(sent, p); return nil })

	eng := New("alice", &recorder{}, discard())
	if err := eng.Handle(rec, Event{Kind: NegotiationNeeded}); err != nil {
		t.Fatal(err)
	}
	if !rec.PendingRenegotiation || rec.Phase != peer.PhaseIdle {
		t.Fatalf("unsecured record negotiated: %+v", rec.Info())
	}

	rec.Channel.SetKey(testKey)
	if err := eng.Handle(rec, Event{Kind: KeyEstablished}); err != nil {
		t.Fatal(err)
	}
	if rec.Phase != peer.PhaseIdle || !rec.ReadySent {
		t.Fatal("offered before the peer was ready")
	}
	rec.Channel.SetPeerReady()
	if err := eng.Handle(rec, Event{Kind: PeerReady}); err != nil {
		t.Fatal(err)
	}
	if rec.Phase != peer.PhaseHaveLocalOffer || rec.PendingRenegotiation || len(sent) != 1 {
		t.Fatalf("initial offer not sent: %+v sent=%d", rec.Info(), len(sent))
	}
}

func TestClosedRecordIgnoresEvents(t *testing.T) {
	t.Parallel()

	var sent []string
	rec := securedRecord(t, "bob", &sent)
	eng := New("alice", &recorder{}, discard())
	eng.Handle(rec, Event{Kind: Closed})
	if err := eng.Handle(rec, Event{Kind: PeerReady}); err != nil || len(sent) != 0 {
		t.Fatalf("closed record negotiated: %v sent=%d", err, len(sent))
	}
}
