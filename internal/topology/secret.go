package topology

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// RoomSecret is the room identity shown to the host: the id, the access key
// and the join link built from both.
type RoomSecret struct {
	RoomID   string
	Key      string
	JoinLink string
}

// Complete reports whether every field is set. Incomplete secrets are never sent.
func (s RoomSecret) Complete() bool {
	return s.RoomID != "" && s.Key != "" && s.JoinLink != ""
}

// NewRoomSecret creates a fresh room id and key. link renders the join link.
func NewRoomSecret(link func(roomID, key string) string) (RoomSecret, error) {
	id, err := generateRoomID()
	if err != nil {
		return RoomSecret{}, err
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return RoomSecret{}, fmt.Errorf("room key: %w", err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)
	return RoomSecret{RoomID: id, Key: key, JoinLink: link(id, key)}, nil
}

// generateRoomID returns a memorable id such as "swift-otter-ramen", one word
// from each of three distinct pools.
func generateRoomID() (string, error) {
	picked := make(map[int]bool, 3)
	words := make([]string, 0, 3)
	for len(words) < 3 {
		pool, err := randomIndex(len(wordPools))
		if err != nil {
			return "", err
		}
		if picked[pool] {
			continue
		}
		picked[pool] = true
		i, err := randomIndex(len(wordPools[pool]))
		if err != nil {
			return "", err
		}
		words = append(words, wordPools[pool][i])
	}
	return strings.Join(words, "-"), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("room id: %w", err)
	}
	return int(v.Int64()), nil
}
