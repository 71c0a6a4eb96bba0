package peer

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/tracks"
	"github.com/pion/webrtc/v4"
)

type fixture struct {
	reg       *Registry
	local     *media.Local
	sent      map[string][]string
	wired     []string
	destroyed []string
	tiles     *tiles
}

// tiles tracks the presentation resources bound per peer.
type tiles struct {
	bound map[string]bool
}

func (t *tiles) AttachCamera(peerID, streamID string, _ webrtc.RTPCodecType) {
	t.bound[peerID+"/"+streamID] = true
}
func (t *tiles) DetachCamera(peerID, streamID string) { delete(t.bound, peerID+"/"+streamID) }
func (t *tiles) AttachScreen(peerID, streamID string) { t.bound[peerID+"/"+streamID] = true }
func (t *tiles) DetachScreen(peerID, streamID string) { delete(t.bound, peerID+"/"+streamID) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sent:  make(map[string][]string),
		local: media.NewLocal("alice"),
		tiles: &tiles{bound: make(map[string]bool)},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.reg = NewRegistry(Config{
		Self:              "alice",
		NewPeerConnection: func() (*webrtc.PeerConnection, error) { return webrtc.NewPeerConnection(webrtc.Configuration{}) },
		Send: func(id, payload string) error {
			f.sent[id] = append(f.sent[id], payload)
			return nil
		},
		Wire:       func(rec *Record) { f.wired = append(f.wired, rec.ID) },
		Local:      f.local,
		Classifier: tracks.NewClassifier(f.tiles, logger),
		OnDestroy:  func(rec *Record) { f.destroyed = append(f.destroyed, rec.ID) },
		Logger:     logger,
	})
	t.Cleanup(f.reg.DestroyAll)
	return f
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a, created, err := f.reg.Ensure("bob")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	b, created, err := f.reg.Ensure("bob")
	if err != nil || created || a != b {
		t.Fatalf("second ensure: created=%v same=%v err=%v", created, a == b, err)
	}
	if len(f.wired) != 1 {
		t.Fatalf("wired %d times", len(f.wired))
	}
	if a.State == nil {
		t.Fatal("state channel not created")
	}
	if a.Phase != PhaseIdle || a.NegotiationInProgress() || a.Secured() {
		t.Fatalf("fresh record state: %+v", a.Info())
	}
}

func TestEnsureRefusesSelf(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, id := range []string{"alice", ""} {
		if _, _, err := f.reg.Ensure(id); !errors.Is(err, ErrSelf) {
			t.Errorf("Ensure(%q) err = %v", id, err)
		}
	}
	if f.reg.Len() != 0 {
		t.Fatal("record created for self")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, _, _ := f.reg.Ensure("bob")
	rec.Exchange.Begin()
	rec.Channel.Send(map[string]string{"type": "bye"})

	if !f.reg.Destroy("bob") {
		t.Fatal("first destroy reported nothing")
	}
	if f.reg.Destroy("bob") {
		t.Fatal("second destroy reported a record")
	}
	if len(f.destroyed) != 1 {
		t.Fatalf("OnDestroy ran %d times", len(f.destroyed))
	}
	if rec.Alive() || f.reg.Current(rec) || rec.Phase != PhaseClosed {
		t.Fatal("destroyed record still looks alive")
	}
	if rec.Exchange.Started() || rec.Channel.Pending() != 0 {
		t.Fatal("key material or queue survived destroy")
	}
	if rec.PC.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("connection state = %s", rec.PC.ConnectionState())
	}

	// A new record for the same identity is distinct.
	again, created, _ := f.reg.Ensure("bob")
	if !created || again == rec || f.reg.Current(rec) {
		t.Fatal("recreated record aliases the destroyed one")
	}
}

func TestLocalMediaAttachment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	early, _, _ := f.reg.Ensure("bob")
	if len(early.Senders) != 0 {
		t.Fatal("tracks attached before media ready")
	}

	audio, video, err := f.local.NewCameraTracks()
	if err != nil {
		t.Fatal(err)
	}
	f.local.Publish(audio, video)

	if n, err := f.reg.AttachLocal(early); err != nil || n != 2 {
		t.Fatalf("AttachLocal = %d, %v", n, err)
	}
	if n, _ := f.reg.AttachLocal(early); n != 0 {
		t.Fatalf("second AttachLocal added %d", n)
	}

	late, _, _ := f.reg.Ensure("carol")
	if len(late.Senders) != 2 {
		t.Fatalf("late record has %d senders", len(late.Senders))
	}

	if err := f.reg.DetachLocal(late, "video"); err != nil {
		t.Fatal(err)
	}
	if len(late.Senders) != 1 {
		t.Fatalf("senders after detach = %d", len(late.Senders))
	}
}

func TestIDsSorted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, id := range []string{"dave", "bob", "carol"} {
		f.reg.Ensure(id)
	}
	ids := f.reg.IDs()
	if len(ids) != 3 || ids[0] != "bob" || ids[2] != "dave" {
		t.Fatalf("ids = %v", ids)
	}
	if infos := f.reg.Infos(); len(infos) != 3 || infos[1].ID != "carol" {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestDestroyReleasesTiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	classifier := f.reg.cfg.Classifier

	bob, _, err := f.reg.Ensure("bob")
	if err != nil {
		t.Fatal(err)
	}
	classifier.Classify("bob", &bob.Streams, webrtc.RTPCodecTypeAudio, "cam")
	classifier.Classify("bob", &bob.Streams, webrtc.RTPCodecTypeVideo, "cam")
	classifier.Classify("bob", &bob.Streams, webrtc.RTPCodecTypeVideo, "scr")
	if len(f.tiles.bound) != 2 {
		t.Fatalf("bound = %v", f.tiles.bound)
	}

	f.reg.Destroy("bob")
	if len(f.tiles.bound) != 0 {
		t.Fatalf("destroy left %v bound", f.tiles.bound)
	}
}
