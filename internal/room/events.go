package room

import (
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/negotiation"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

// eventKind enumerates everything the session loop reacts to besides relay
// messages. Connection observers only ever post one of these.
type eventKind int

const (
	evNegotiation eventKind = iota
	evTrack
	evTrackEnded
	evConnState
	evStateOpen
	evStateMessage
	evMediaReady
	evCommand
)

type event struct {
	kind eventKind

	// rec is the record the event was raised for; the loop drops the event
	// if rec was destroyed in the meantime.
	rec *peer.Record

	neg      negotiation.Event
	track    *webrtc.TrackRemote
	streamID string
	conn     webrtc.PeerConnectionState
	state    mcwebrtc.Message

	cmd   func() error
	reply chan error
}

// NoticeKind classifies notices for the presentation layer.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeChat
	NoticeWarning
)

// Notice is a user-facing event emitted by the session.
type Notice struct {
	Kind    NoticeKind
	From    string
	Text    string
	Private bool
}
