package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message is the envelope exchanged with the relay. Messages without To are
// interpreted by the relay; messages with To are relayed to that participant.
// The relay never looks inside Data.
type Message struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	// Presence
	Users []string `json:"users,omitempty"`
	Host  string   `json:"host,omitempty"`
	User  string   `json:"user,omitempty"`

	// Moderation
	Target string `json:"target,omitempty"`
	A      string `json:"a,omitempty"`
	B      string `json:"b,omitempty"`

	// Chat
	Text    string `json:"text,omitempty"`
	Private bool   `json:"private,omitempty"`
}

// Envelope types.
const (
	MessageTypeHello         = "hello"
	MessageTypeIAmHost       = "iam_host"
	MessageTypePeerList      = "peer_list"
	MessageTypePeerJoined    = "peer_joined"
	MessageTypePeerLeft      = "peer_left"
	MessageTypeHostChanged   = "host_changed"
	MessageTypeHostMute      = "host_mute"
	MessageTypeHostMuteAll   = "host_mute_all"
	MessageTypeHostKick      = "host_kick"
	MessageTypeTransferHost  = "transfer_host"
	MessageTypeIntroducePair = "introduce_pair"
	MessageTypeSignal        = "signal"
	MessageTypeChat          = "chat"

	// MessageTypeError is sent by the relay before it closes a refused connection.
	MessageTypeError = "error"
)

// IntroSender is the From value the relay stamps on introductions.
const IntroSender = "host"

// SignalData is the Data payload of a signal envelope.
type SignalData struct {
	Type string `json:"type"`

	// dh_public
	Value  string `json:"value,omitempty"`
	SeenUs bool   `json:"seen_us,omitempty"`

	// encrypted
	B64 string `json:"b64,omitempty"`

	// intro
	Other string `json:"other,omitempty"`
}

// Signal data types.
const (
	SignalDHPublic  = "dh_public"
	SignalReady     = "ready"
	SignalEncrypted = "encrypted"
	SignalIntro     = "intro"
)

// Secure is the plaintext of an encrypted signal.
type Secure struct {
	Type string `json:"type"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Streams maps a stream id to its role ("camera" or "screen") for the
	// tracks carried by an offer or answer.
	Streams map[string]string `json:"streams,omitempty"`

	// host_payload
	RoomID   string `json:"roomId,omitempty"`
	RoomKey  string `json:"roomKey,omitempty"`
	JoinLink string `json:"joinLink,omitempty"`
}

// Secure message types.
const (
	SecureOffer              = "offer"
	SecureAnswer             = "answer"
	SecureCandidate          = "candidate"
	SecureBye                = "bye"
	SecureHostPayload        = "host_payload"
	SecureHostPayloadRequest = "host_payload_request"

	// The participant that does not start a pair's negotiation asks for
	// the turn before offering, and offers once it is granted.
	SecureOfferRequest = "offer_request"
	SecureOfferGrant   = "offer_grant"
)

// Stream roles announced in Secure.Streams.
const (
	RoleCamera = "camera"
	RoleScreen = "screen"
)
