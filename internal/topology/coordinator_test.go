package topology

import (
	"errors"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"testing"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
)

type secureSend struct {
	to  string
	msg signaling.Secure
}

type fakeActions struct {
	handshakes []string
	teardowns  []string
	secure     []secureSend
	relayed    []*signaling.Message
}

func (f *fakeActions) Handshake(p string) error { f.handshakes = append(f.handshakes, p); return nil }
func (f *fakeActions) Teardown(p string)        { f.teardowns = append(f.teardowns, p) }
func (f *fakeActions) SendSecure(p string, m signaling.Secure) error {
	f.secure = append(f.secure, secureSend{p, m})
	return nil
}
func (f *fakeActions) Relay(m *signaling.Message) error { f.relayed = append(f.relayed, m); return nil }

func (f *fakeActions) intros() [][2]string {
	var out [][2]string
	for _, m := range f.relayed {
		if m.Type == signaling.MessageTypeIntroducePair {
			out = append(out, [2]string{m.A, m.B})
		}
	}
	return out
}

func (f *fakeActions) payloadsTo(user string) int {
	n := 0
	for _, s := range f.secure {
		if s.to == user && s.msg.Type == signaling.SecureHostPayload {
			n++
		}
	}
	return n
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var full = RoomSecret{RoomID: "calm-otter-ramen", Key: "k3y", JoinLink: "https://example.org/join/calm-otter-ramen?key=k3y"}

func TestHostRosterIntroducesAllPairs(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("host", full, a, quiet())

	if err := c.OnPeerList([]string{"host", "ann", "ben", "cat"}, "host"); err != nil {
		t.Fatal(err)
	}
	want := [][2]string{{"ann", "ben"}, {"ann", "cat"}, {"ben", "cat"}}
	if got := a.intros(); !slices.Equal(got, want) {
		t.Fatalf("intros = %v, want %v", got, want)
	}
	if !slices.Equal(a.handshakes, []string{"ann", "ben", "cat"}) {
		t.Fatalf("handshakes = %v", a.handshakes)
	}
}

func TestHostIntroducesNewcomer(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("host", full, a, quiet())
	c.OnPeerList([]string{"host", "ann", "ben"}, "host")
	a.relayed, a.handshakes = nil, nil

	if err := c.OnPeerJoined("dan"); err != nil {
		t.Fatal(err)
	}
	want := [][2]string{{"dan", "ann"}, {"dan", "ben"}}
	if got := a.intros(); !slices.Equal(got, want) {
		t.Fatalf("intros = %v, want %v", got, want)
	}
	if !slices.Equal(a.handshakes, []string{"dan"}) {
		t.Fatalf("handshakes = %v", a.handshakes)
	}
}

func TestNonHostRosterOnlyRecords(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("ann", RoomSecret{}, a, quiet())

	if err := c.OnPeerList([]string{"host", "ann", "ben"}, "host"); err != nil {
		t.Fatal(err)
	}
	if len(a.handshakes) != 0 || len(a.relayed) != 0 {
		t.Fatalf("non-host acted on roster: %v %v", a.handshakes, a.relayed)
	}
	if !slices.Equal(c.Members(), []string{"ann", "ben", "host"}) {
		t.Fatalf("members = %v", c.Members())
	}

	c.OnPeerJoined("cat")
	c.OnIntroduction("ben")
	c.OnIntroduction("ann")
	if !slices.Equal(a.handshakes, []string{"cat", "ben"}) {
		t.Fatalf("handshakes = %v", a.handshakes)
	}
	if len(a.intros()) != 0 {
		t.Fatal("non-host sent introductions")
	}
}

func TestSecretRequestAnsweredOnceWhenComplete(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("host", RoomSecret{RoomID: "calm-otter-ramen"}, a, quiet())
	c.OnPeerList([]string{"host", "ann"}, "host")

	if err := c.OnSecretRequest("ann"); err != nil {
		t.Fatal(err)
	}
	if n := a.payloadsTo("ann"); n != 0 {
		t.Fatalf("incomplete secret sent %d times", n)
	}

	if err := c.SetSecret(full); err != nil {
		t.Fatal(err)
	}
	if n := a.payloadsTo("ann"); n != 1 {
		t.Fatalf("payloads after completion = %d", n)
	}

	c.OnSecretRequest("ann")
	c.SetSecret(full)
	if n := a.payloadsTo("ann"); n != 1 {
		t.Fatalf("payloads after repeat = %d", n)
	}
	got := a.secure[len(a.secure)-1].msg
	if got.RoomID != full.RoomID || got.RoomKey != full.Key || got.JoinLink != full.JoinLink {
		t.Fatalf("payload = %+v", got)
	}
}

func TestNonHostAnswersOnlyTheHost(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("ann", full, a, quiet())
	c.OnPeerList([]string{"host", "ann", "ben"}, "host")

	c.OnSecretRequest("ben")
	if a.payloadsTo("ben") != 0 {
		t.Fatal("non-host answered a non-host")
	}
	c.OnSecretRequest("host")
	if a.payloadsTo("host") != 1 {
		t.Fatal("non-host holder did not answer the host")
	}
}

func TestHandOffOnTransfer(t *testing.T) {
	t.Parallel()

	oldActs, newActs := &fakeActions{}, &fakeActions{}
	old := New("ann", full, oldActs, quiet())
	old.OnPeerList([]string{"ann", "ben"}, "ann")
	heir := New("ben", RoomSecret{}, newActs, quiet())
	heir.OnPeerList([]string{"ann", "ben"}, "ann")

	if err := old.TransferHost("ben"); err != nil {
		t.Fatal(err)
	}
	old.OnHostChanged("ben")
	if err := heir.OnHostChanged("ben"); err != nil {
		t.Fatal(err)
	}
	if len(newActs.secure) != 1 || newActs.secure[0].to != "ann" || newActs.secure[0].msg.Type != signaling.SecureHostPayloadRequest {
		t.Fatalf("new host requests = %+v", newActs.secure)
	}

	old.OnSecretRequest("ben")
	if oldActs.payloadsTo("ben") != 1 {
		t.Fatal("previous host did not hand over the secret")
	}
	heir.OnSecret("ann", oldActs.secure[len(oldActs.secure)-1].msg)
	if s, ok := heir.Secret(); !ok || s != full {
		t.Fatalf("heir secret = %+v", s)
	}

	// A second host change does not request again.
	heir.OnHostChanged("ben")
	if len(newActs.secure) != 1 {
		t.Fatal("secret requested twice")
	}
}

func TestIncompleteSecretIgnored(t *testing.T) {
	t.Parallel()
	c := New("ben", RoomSecret{}, &fakeActions{}, quiet())
	c.OnPeerList([]string{"ann", "ben"}, "ann")
	c.OnSecret("ann", signaling.Secure{Type: signaling.SecureHostPayload, RoomID: "x"})
	if _, ok := c.Secret(); ok {
		t.Fatal("incomplete secret accepted")
	}
}

func TestKick(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("ann", RoomSecret{}, a, quiet())
	c.OnPeerList([]string{"host", "ann", "ben"}, "host")

	if err := c.OnKick("ben"); err != nil || len(a.teardowns) != 0 {
		t.Fatalf("kick of another participant acted: %v %v", err, a.teardowns)
	}
	if err := c.OnKick("ann"); !errors.Is(err, ErrKicked) {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(a.teardowns, []string{"ben", "host"}) || !c.Kicked() {
		t.Fatalf("teardowns = %v", a.teardowns)
	}
}

func TestModerationRequiresHost(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("ann", RoomSecret{}, a, quiet())
	c.OnPeerList([]string{"host", "ann"}, "host")

	for name, fn := range map[string]func() error{
		"kick":     func() error { return c.Kick("host") },
		"mute":     c.MuteAll,
		"transfer": func() error { return c.TransferHost("host") },
	} {
		if err := fn(); !errors.Is(err, ErrNotHost) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	h := New("host", full, a, quiet())
	h.OnPeerList([]string{"host", "ann"}, "host")
	if err := h.Kick("nobody"); !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("kick unknown: %v", err)
	}
	if err := h.Kick("ann"); err != nil {
		t.Fatal(err)
	}
	last := a.relayed[len(a.relayed)-1]
	if last.Type != signaling.MessageTypeHostKick || last.Target != "ann" {
		t.Fatalf("relayed %+v", last)
	}
}

func TestLeaveTearsDown(t *testing.T) {
	t.Parallel()
	a := &fakeActions{}
	c := New("ann", RoomSecret{}, a, quiet())
	c.OnPeerList([]string{"host", "ann", "ben"}, "host")
	c.OnPeerLeft("ben")
	if c.IsMember("ben") || !slices.Equal(a.teardowns, []string{"ben"}) {
		t.Fatalf("members=%v teardowns=%v", c.Members(), a.teardowns)
	}
}

func TestNewRoomSecret(t *testing.T) {
	t.Parallel()
	s, err := NewRoomSecret(func(id, key string) string { return "https://example.org/join/" + id + "?key=" + key })
	if err != nil {
		t.Fatal(err)
	}
	if !s.Complete() {
		t.Fatalf("secret incomplete: %+v", s)
	}
	if !regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+$`).MatchString(s.RoomID) {
		t.Fatalf("room id = %q", s.RoomID)
	}
	if len(s.Key) != 22 {
		t.Fatalf("key length = %d", len(s.Key))
	}
}
