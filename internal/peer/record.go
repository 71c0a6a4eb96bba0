// Package peer owns the per-peer state records of a session.
package peer

import (
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/keyx"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/securechannel"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/tracks"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

// Phase is the negotiation state of a record.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMakingOffer
	PhaseHaveLocalOffer
	PhaseHaveRemoteOffer
	PhaseStable
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMakingOffer:
		return "making-offer"
	case PhaseHaveLocalOffer:
		return "have-local-offer"
	case PhaseHaveRemoteOffer:
		return "have-remote-offer"
	case PhaseStable:
		return "stable"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Record is everything known about one remote participant. It exists from
// the first connection attempt until Registry.Destroy.
//
// Records are owned by the session loop; none of their fields are safe for
// concurrent use.
type Record struct {
	ID string
	PC *webrtc.PeerConnection

	// Exchange runs the key agreement; Channel carries encrypted signaling.
	Exchange keyx.Exchange
	Channel  *securechannel.Channel

	// ReadySent is set once our plaintext ready notice went out.
	ReadySent bool

	// Candidates received before a remote description, in arrival order.
	Candidates []webrtc.ICECandidateInit

	Phase                Phase
	InitialDone          bool
	PendingRenegotiation bool

	// OfferGen identifies the outstanding offer for its watchdog.
	OfferGen uint64

	// Offer turn bookkeeping. TurnRequested is set on the responding side
	// while its request is outstanding. On the initiating side PeerWantsTurn
	// marks a request not yet granted and PeerHasTurn a granted one whose
	// offer has not arrived; TurnGen identifies the grant for its watchdog.
	TurnRequested bool
	PeerWantsTurn bool
	PeerHasTurn   bool
	TurnGen       uint64

	Streams tracks.PeerStreams

	// Senders maps local track ids to their RTP senders on PC.
	Senders map[string]*webrtc.RTPSender

	State       *webrtc.DataChannel
	RemoteMedia mcwebrtc.MediaStatePayload
	HandRaised  bool
	ConnState   webrtc.PeerConnectionState

	destroyed bool
}

// ReadyFromPeer reports whether the peer's ready notice has arrived.
func (r *Record) ReadyFromPeer() bool { return r.Channel.PeerReady() }

// Secured reports whether the key exchange completed and both sides are ready.
func (r *Record) Secured() bool { return r.ReadySent && r.Channel.IsOpen() }

// MakingOffer reports whether an offer is being prepared.
func (r *Record) MakingOffer() bool { return r.Phase == PhaseMakingOffer }

// NegotiationInProgress reports whether an offer/answer exchange is open.
func (r *Record) NegotiationInProgress() bool {
	switch r.Phase {
	case PhaseMakingOffer, PhaseHaveLocalOffer, PhaseHaveRemoteOffer:
		return true
	}
	return false
}

// Alive reports whether the record has not been destroyed.
func (r *Record) Alive() bool { return !r.destroyed }

// Info is a read-only view for presentation.
type Info struct {
	ID          string
	Phase       Phase
	Secured     bool
	Connection  webrtc.PeerConnectionState
	Media       mcwebrtc.MediaStatePayload
	HandRaised  bool
	HasScreen   bool
	InitialDone bool
}

// Info snapshots the record.
func (r *Record) Info() Info {
	return Info{
		ID:          r.ID,
		Phase:       r.Phase,
		Secured:     r.Secured(),
		Connection:  r.ConnState,
		Media:       r.RemoteMedia,
		HandRaised:  r.HandRaised,
		HasScreen:   r.Streams.ScreenStreamID != "",
		InitialDone: r.InitialDone,
	}
}
