// Package securechannel encrypts negotiation messages exchanged between two
// peers over the untrusted relay.
//
// Each message is JSON-encoded, PKCS#7 padded and encrypted with AES-128-CBC
// under a fresh random IV. The wire form is base64(IV || ciphertext).
package securechannel

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBadPadding is returned when PKCS#7 padding is malformed.
	ErrBadPadding = errors.New("securechannel: invalid padding")

	// ErrShortMessage is returned when the payload cannot hold an IV and a block.
	ErrShortMessage = errors.New("securechannel: message too short")

	// ErrNoKey is returned when sealing or opening before a key is installed.
	ErrNoKey = errors.New("securechannel: no key")
)

// Cipher seals and opens individual messages.
type Cipher struct {
	block cipher.Block
	rand  io.Reader
}

// NewCipher returns a Cipher for a 16-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != aes.BlockSize {
		return nil, fmt.Errorf("securechannel: key must be %d bytes, got %d", aes.BlockSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

// Seal encrypts plaintext and returns base64(IV || ciphertext).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	padded := Pad(plaintext)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("securechannel: generate iv: %w", err)
	}
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("securechannel: decode: %w", err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, ErrShortMessage
	}
	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, body)
	return Unpad(plain)
}

// Pad applies PKCS#7 padding to a whole number of AES blocks.
// The pad value equals the pad length and is always between 1 and 16.
func Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Unpad strips PKCS#7 padding, checking every pad byte.
func Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n < 1 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
