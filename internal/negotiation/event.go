package negotiation

import (
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Kind enumerates the inputs of the per-peer state machine.
type Kind int

const (
	// KeyEstablished: the shared key was installed on the record's channel.
	KeyEstablished Kind = iota
	// PeerReady: the peer's plaintext ready notice arrived.
	PeerReady
	// NegotiationNeeded: the connection reported a change in local tracks.
	NegotiationNeeded
	// MediaReady: local media became available while an offer waited for it.
	MediaReady
	RemoteOffer
	RemoteAnswer
	RemoteCandidate
	// LocalCandidate: ICE gathered a candidate to trickle to the peer.
	LocalCandidate
	// OfferTimeout: the watchdog for offer generation Generation expired.
	OfferTimeout
	// TurnRequest: the responding peer asks for the turn to offer.
	TurnRequest
	// TurnGranted: the initiating peer lets us offer.
	TurnGranted
	// TurnTimeout: a granted turn went unused for too long.
	TurnTimeout
	// Closed: the record is being torn down.
	Closed
)

func (k Kind) String() string {
	switch k {
	case KeyEstablished:
		return "key-established"
	case PeerReady:
		return "peer-ready"
	case NegotiationNeeded:
		return "negotiation-needed"
	case MediaReady:
		return "media-ready"
	case RemoteOffer:
		return "remote-offer"
	case RemoteAnswer:
		return "remote-answer"
	case RemoteCandidate:
		return "remote-candidate"
	case LocalCandidate:
		return "local-candidate"
	case OfferTimeout:
		return "offer-timeout"
	case TurnRequest:
		return "turn-request"
	case TurnGranted:
		return "turn-granted"
	case TurnTimeout:
		return "turn-timeout"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one input to Engine.Handle.
type Event struct {
	Kind Kind

	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit

	// Streams carries the stream roles announced with an offer or answer.
	Streams map[string]string

	Generation uint64
}

// FromSecure maps a decrypted signaling message to an engine event. It
// returns false for messages the engine does not consume and for offers,
// answers or candidates without a body.
func FromSecure(msg *signaling.Secure) (Event, bool) {
	switch msg.Type {
	case signaling.SecureOffer:
		if msg.Offer == nil {
			return Event{}, false
		}
		return Event{Kind: RemoteOffer, Description: msg.Offer, Streams: msg.Streams}, true
	case signaling.SecureAnswer:
		if msg.Answer == nil {
			return Event{}, false
		}
		return Event{Kind: RemoteAnswer, Description: msg.Answer, Streams: msg.Streams}, true
	case signaling.SecureCandidate:
		if msg.Candidate == nil {
			return Event{}, false
		}
		return Event{Kind: RemoteCandidate, Candidate: msg.Candidate}, true
	case signaling.SecureOfferRequest:
		return Event{Kind: TurnRequest}, true
	case signaling.SecureOfferGrant:
		return Event{Kind: TurnGranted}, true
	}
	return Event{}, false
}
