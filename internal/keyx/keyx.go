// Package keyx implements the per-peer Diffie-Hellman exchange that keys the
// encrypted signaling channel.
//
// Both sides use the 2048-bit MODP group from RFC 3526 (group 14) with
// generator 2. Public values travel as decimal strings. The symmetric key is
// the first 16 bytes of SHA-256 over the decimal form of the shared secret,
// which makes it usable directly as an AES-128 key.
package keyx

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// KeySize is the derived key length in bytes (AES-128).
const KeySize = 16

const modp2048Hex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

var (
	prime     *big.Int
	generator = big.NewInt(2)
	one       = big.NewInt(1)
)

func init() {
	var ok bool
	prime, ok = new(big.Int).SetString(modp2048Hex, 16)
	if !ok {
		panic("keyx: invalid MODP prime")
	}
}

var (
	// ErrInvalidPublic is returned for a peer value outside (1, p-1).
	ErrInvalidPublic = errors.New("keyx: invalid peer public value")

	// ErrDiscarded is returned when the exchange was torn down.
	ErrDiscarded = errors.New("keyx: exchange discarded")
)

// Prime returns a copy of the group modulus.
func Prime() *big.Int { return new(big.Int).Set(prime) }

// Exchange holds one side of a key agreement with one peer. The private
// exponent is generated once and reused for the lifetime of the exchange;
// Discard wipes it so that no key is ever derived from a stale exponent.
//
// Exchange is not safe for concurrent use; the owning session serializes it.
type Exchange struct {
	private   *big.Int
	public    *big.Int
	key       []byte
	discarded bool
}

// Begin returns the local public value, generating the exponent on first use.
// Calling it again returns the same value.
func (x *Exchange) Begin() (string, error) {
	if x.discarded {
		return "", ErrDiscarded
	}
	if x.private == nil {
		// private in [2, p-2]
		limit := new(big.Int).Sub(prime, big.NewInt(3))
		k, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("keyx: generate exponent: %w", err)
		}
		x.private = k.Add(k, big.NewInt(2))
		x.public = new(big.Int).Exp(generator, x.private, prime)
	}
	return x.public.String(), nil
}

// Started reports whether a public value has been produced.
func (x *Exchange) Started() bool { return x.private != nil }

// Complete derives the shared key from the peer's decimal public value,
// beginning the exchange first if needed. Repeated calls with the same peer
// value return the same key.
func (x *Exchange) Complete(peerPublic string) ([]byte, error) {
	if _, err := x.Begin(); err != nil {
		return nil, err
	}

	y, ok := new(big.Int).SetString(strings.TrimSpace(peerPublic), 10)
	if !ok {
		return nil, ErrInvalidPublic
	}
	if err := ValidatePublic(y); err != nil {
		return nil, err
	}

	shared := new(big.Int).Exp(y, x.private, prime)
	x.key = DeriveKey(shared)
	return x.key, nil
}

// Key returns the derived key, or nil before Complete succeeds.
func (x *Exchange) Key() []byte { return x.key }

// Discard drops all key material. Further calls fail with ErrDiscarded.
func (x *Exchange) Discard() {
	if x.private != nil {
		x.private.SetInt64(0)
	}
	for i := range x.key {
		x.key[i] = 0
	}
	x.private, x.public, x.key = nil, nil, nil
	x.discarded = true
}

// ValidatePublic rejects values that would force a trivial shared secret.
func ValidatePublic(y *big.Int) error {
	pMinus1 := new(big.Int).Sub(prime, one)
	if y.Cmp(one) <= 0 || y.Cmp(pMinus1) >= 0 {
		return ErrInvalidPublic
	}
	return nil
}

// DeriveKey hashes the decimal representation of the shared secret and keeps
// the first KeySize bytes.
func DeriveKey(shared *big.Int) []byte {
	sum := sha256.Sum256([]byte(shared.String()))
	key := make([]byte, KeySize)
	copy(key, sum[:KeySize])
	return key
}
