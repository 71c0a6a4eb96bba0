package securechannel

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"testing"
)

var testKey = []byte("0123456789abcdef")

func TestSealOpenAllPadLengths(t *testing.T) {
	t.Parallel()

	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}

	// Lengths 0..32 cover every pad value 1..16 twice.
	for n := 0; n <= 32; n++ {
		msg := bytes.Repeat([]byte{'x'}, n)
		sealed, err := c.Seal(msg)
		if err != nil {
			t.Fatalf("len %d: seal: %v", n, err)
		}
		raw, _ := base64.StdEncoding.DecodeString(sealed)
		wantPad := aes.BlockSize - n%aes.BlockSize
		if len(raw) != aes.BlockSize+n+wantPad {
			t.Fatalf("len %d: wire size %d", n, len(raw))
		}

		got, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("len %d: open: %v", n, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}

func TestSealUsesFreshIV(t *testing.T) {
	t.Parallel()

	c, _ := NewCipher(testKey)
	a, _ := c.Seal([]byte("same"))
	b, _ := c.Seal([]byte("same"))
	if a == b {
		t.Fatal("two seals of the same plaintext are identical")
	}
}

func TestPadUnpad(t *testing.T) {
	t.Parallel()

	for n := 0; n < 2*aes.BlockSize; n++ {
		p := Pad(make([]byte, n))
		if len(p)%aes.BlockSize != 0 {
			t.Fatalf("n=%d: padded length %d", n, len(p))
		}
		pad := int(p[len(p)-1])
		if pad < 1 || pad > aes.BlockSize {
			t.Fatalf("n=%d: pad value %d", n, pad)
		}
		u, err := Unpad(p)
		if err != nil || len(u) != n {
			t.Fatalf("n=%d: unpad = %d, %v", n, len(u), err)
		}
	}
}

func TestUnpadRejectsMalformed(t *testing.T) {
	t.Parallel()

	block := func(tail ...byte) []byte {
		b := make([]byte, aes.BlockSize)
		copy(b[aes.BlockSize-len(tail):], tail)
		return b
	}
	cases := map[string][]byte{
		"empty":         nil,
		"not aligned":   make([]byte, 15),
		"zero pad":      block(0),
		"pad too large": block(17),
		"inconsistent":  block(1, 3, 3),
	}
	for name, in := range cases {
		if _, err := Unpad(in); !errors.Is(err, ErrBadPadding) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestOpenFailures(t *testing.T) {
	t.Parallel()

	c, _ := NewCipher(testKey)
	other, _ := NewCipher([]byte("fedcba9876543210"))

	if _, err := c.Open("%%%"); err == nil {
		t.Error("bad base64 accepted")
	}
	if _, err := c.Open(base64.StdEncoding.EncodeToString(make([]byte, 16))); !errors.Is(err, ErrShortMessage) {
		t.Errorf("short message: %v", err)
	}

	// Ciphertext whose last block decrypts to an invalid pad byte.
	iv := make([]byte, aes.BlockSize)
	plain := bytes.Repeat([]byte{0x20}, aes.BlockSize)
	block, _ := aes.NewCipher(testKey)
	ct := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)
	if _, err := c.Open(base64.StdEncoding.EncodeToString(append(iv, ct...))); !errors.Is(err, ErrBadPadding) {
		t.Errorf("bad padding: %v", err)
	}

	// Decrypting with the wrong key must never panic.
	sealed, _ := c.Seal([]byte(`{"type":"bye"}`))
	if got, err := other.Open(sealed); err == nil && bytes.Equal(got, []byte(`{"type":"bye"}`)) {
		t.Error("wrong key recovered the plaintext")
	}
}

func TestNewCipherKeyLength(t *testing.T) {
	t.Parallel()

	if _, err := NewCipher(make([]byte, 32)); err == nil {
		t.Fatal("expected error for 32-byte key")
	}
}

type wire struct {
	sent []string
	fail bool
}

func (w *wire) send(p string) error {
	if w.fail {
		return errors.New("relay down")
	}
	w.sent = append(w.sent, p)
	return nil
}

type note struct {
	N int `json:"n"`
}

func decodeAll(t *testing.T, key []byte, sent []string) []int {
	t.Helper()
	rx := NewChannel(nil)
	if err := rx.SetKey(key); err != nil {
		t.Fatal(err)
	}
	var out []int
	for _, p := range sent {
		var n note
		if err := rx.Receive(p, &n); err != nil {
			t.Fatalf("receive: %v", err)
		}
		out = append(out, n.N)
	}
	return out
}

func TestChannelQueuesUntilOpen(t *testing.T) {
	t.Parallel()

	w := &wire{}
	ch := NewChannel(w.send)

	for i := 1; i <= 3; i++ {
		if err := ch.Send(note{N: i}); err != nil {
			t.Fatal(err)
		}
	}
	if len(w.sent) != 0 || ch.Pending() != 3 {
		t.Fatalf("sent=%d pending=%d before key", len(w.sent), ch.Pending())
	}

	// Key alone does not open the channel.
	if err := ch.SetKey(testKey); err != nil {
		t.Fatal(err)
	}
	if n, _ := ch.Flush(); n != 0 || len(w.sent) != 0 {
		t.Fatal("flushed before peer ready")
	}
	if err := ch.Send(note{N: 4}); err != nil {
		t.Fatal(err)
	}

	ch.SetPeerReady()
	if n, err := ch.Flush(); err != nil || n != 4 {
		t.Fatalf("flush = %d, %v", n, err)
	}

	// Second flush is a no-op.
	if n, _ := ch.Flush(); n != 0 {
		t.Fatalf("second flush sent %d", n)
	}

	if err := ch.Send(note{N: 5}); err != nil {
		t.Fatal(err)
	}

	got := decodeAll(t, testKey, w.sent)
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestChannelFlushFailureKeepsOrder(t *testing.T) {
	t.Parallel()

	w := &wire{fail: true}
	ch := NewChannel(w.send)
	ch.Send(note{N: 1})
	ch.Send(note{N: 2})
	ch.SetKey(testKey)
	ch.SetPeerReady()

	if _, err := ch.Flush(); err == nil {
		t.Fatal("expected delivery error")
	}
	if ch.Pending() != 2 {
		t.Fatalf("pending = %d after failed flush", ch.Pending())
	}

	w.fail = false
	if n, err := ch.Flush(); err != nil || n != 2 {
		t.Fatalf("retry flush = %d, %v", n, err)
	}
	got := decodeAll(t, testKey, w.sent)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestChannelReceiveErrors(t *testing.T) {
	t.Parallel()

	ch := NewChannel(nil)
	var n note
	if err := ch.Receive("AAAA", &n); !errors.Is(err, ErrNoKey) {
		t.Fatalf("receive without key: %v", err)
	}

	ch.SetKey(testKey)
	c, _ := NewCipher(testKey)
	notJSON, _ := c.Seal([]byte("not json"))
	if err := ch.Receive(notJSON, &n); err == nil {
		t.Fatal("non-JSON plaintext accepted")
	}

	ch.Close()
	ch.Close()
	if err := ch.Send(note{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
	if ch.IsOpen() {
		t.Fatal("closed channel reports open")
	}
}
