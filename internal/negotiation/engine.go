// Package negotiation drives the offer/answer/candidate exchange with each
// peer once its secure channel is up.
//
// The participant whose identity sorts first sends the initial offer and
// every later offer it needs. The other participant asks for the turn before
// it offers, so a pair never has two offers in flight. A remote offer that
// arrives while a local offer is outstanding is still dropped, and an offer
// that stays unanswered past its watchdog restarts the pair.
package negotiation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// DefaultOfferTimeout is how long the responding side waits for an answer.
const DefaultOfferTimeout = 8 * time.Second

// ErrDescription wraps failures to create or apply a session description.
var ErrDescription = errors.New("negotiation: session description")

// Transport is what the engine needs from the session around it.
type Transport interface {
	// SendReady sends the plaintext ready notice to the record's peer.
	SendReady(rec *peer.Record) error

	// AwaitMedia reports whether local media is ready. When it is not, the
	// session posts a MediaReady event for rec once it is.
	AwaitMedia(rec *peer.Record) bool

	// After posts ev for rec after d unless rec is gone by then.
	After(rec *peer.Record, d time.Duration, ev Event)

	// LocalRoles returns the stream roles of the local tracks.
	LocalRoles() map[string]string

	// Restart tears rec down and starts key agreement with its peer afresh.
	Restart(rec *peer.Record)
}

// Engine runs the per-peer negotiation state machine. It holds no per-peer
// state itself; everything lives on the peer.Record. Handle must only be
// called from the session loop.
type Engine struct {
	Self         string
	Transport    Transport
	OfferTimeout time.Duration
	Logger       *slog.Logger
}

// New returns an engine for the local identity self.
func New(self string, transport Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Self:         self,
		Transport:    transport,
		OfferTimeout: DefaultOfferTimeout,
		Logger:       logger.With("component", "negotiation"),
	}
}

// Initiator reports whether self sends the first offer to remote.
func Initiator(self, remote string) bool { return self < remote }

// Handle applies ev to rec. Returned errors are transient: the record is
// left in a state from which the next triggering event can recover.
func (e *Engine) Handle(rec *peer.Record, ev Event) error {
	if rec == nil || !rec.Alive() || rec.Phase == peer.PhaseClosed {
		return nil
	}
	log := e.Logger.With("peer", rec.ID, "event", ev.Kind, "phase", rec.Phase)
	log.Debug("Negotiation event")

	switch ev.Kind {
	case KeyEstablished:
		if !rec.ReadySent {
			if err := e.Transport.SendReady(rec); err != nil {
				return fmt.Errorf("send ready to %s: %w", rec.ID, err)
			}
			rec.ReadySent = true
		}
		e.flush(rec)
		return e.maybeStart(rec)

	case PeerReady:
		e.flush(rec)
		return e.maybeStart(rec)

	case NegotiationNeeded:
		if rec.MakingOffer() {
			log.Debug("Offer already being prepared")
			return nil
		}
		if !rec.Secured() || !rec.InitialDone || rec.Phase != peer.PhaseStable {
			rec.PendingRenegotiation = true
			return e.maybeStart(rec)
		}
		return e.renegotiate(rec)

	case MediaReady:
		if rec.Phase != peer.PhaseMakingOffer {
			return nil
		}
		return e.continueOffer(rec)

	case RemoteOffer:
		return e.onOffer(rec, ev)

	case RemoteAnswer:
		return e.onAnswer(rec, ev)

	case RemoteCandidate:
		if ev.Candidate == nil {
			return nil
		}
		if rec.PC.RemoteDescription() == nil {
			rec.Candidates = append(rec.Candidates, *ev.Candidate)
			return nil
		}
		if err := rec.PC.AddICECandidate(*ev.Candidate); err != nil {
			log.Debug("Adding remote candidate failed", "error", err)
		}
		return nil

	case LocalCandidate:
		if ev.Candidate == nil {
			return nil
		}
		return e.send(rec, signaling.Secure{Type: signaling.SecureCandidate, Candidate: ev.Candidate})

	case OfferTimeout:
		return e.onTimeout(rec, ev)

	case TurnRequest:
		return e.onTurnRequest(rec)

	case TurnGranted:
		return e.onTurnGranted(rec)

	case TurnTimeout:
		return e.onTurnTimeout(rec, ev)

	case Closed:
		rec.Phase = peer.PhaseClosed
		return nil
	}
	return nil
}

// maybeStart sends the initial offer when rec is secured and self is the
// initiator of the pair.
func (e *Engine) maybeStart(rec *peer.Record) error {
	if !rec.Secured() || rec.InitialDone || rec.Phase != peer.PhaseIdle {
		return nil
	}
	if !Initiator(e.Self, rec.ID) {
		return nil
	}
	return e.startOffer(rec)
}

func (e *Engine) startOffer(rec *peer.Record) error {
	rec.Phase = peer.PhaseMakingOffer
	if !e.Transport.AwaitMedia(rec) {
		e.Logger.Debug("Offer waiting for local media", "peer", rec.ID)
		return nil
	}
	return e.continueOffer(rec)
}

func (e *Engine) continueOffer(rec *peer.Record) (err error) {
	defer func() {
		if err != nil && rec.Phase == peer.PhaseMakingOffer {
			rec.Phase = settledPhase(rec)
		}
	}()

	offer, err := rec.PC.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer for %s: %w", ErrDescription, rec.ID, err)
	}
	if err := rec.PC.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer for %s: %w", ErrDescription, rec.ID, err)
	}

	rec.Phase = peer.PhaseHaveLocalOffer
	rec.PendingRenegotiation = false
	rec.OfferGen++
	e.Transport.After(rec, e.timeout(rec), Event{Kind: OfferTimeout, Generation: rec.OfferGen})

	return e.send(rec, signaling.Secure{
		Type:    signaling.SecureOffer,
		Offer:   &offer,
		Streams: e.Transport.LocalRoles(),
	})
}

func (e *Engine) onOffer(rec *peer.Record, ev Event) error {
	switch rec.Phase {
	case peer.PhaseHaveLocalOffer:
		e.Logger.Debug("Dropping remote offer while our offer is outstanding", "peer", rec.ID)
		return nil
	case peer.PhaseMakingOffer:
		// Our offer has not left yet; answer theirs and offer afterwards.
		rec.PendingRenegotiation = true
	}
	rec.PeerHasTurn = false

	rec.Streams.Announce(ev.Streams)
	prev := settledPhase(rec)
	rec.Phase = peer.PhaseHaveRemoteOffer

	if err := rec.PC.SetRemoteDescription(*ev.Description); err != nil {
		rec.Phase = prev
		return fmt.Errorf("%w: apply offer from %s: %w", ErrDescription, rec.ID, err)
	}
	e.applyCandidates(rec)

	answer, err := rec.PC.CreateAnswer(nil)
	if err == nil {
		err = rec.PC.SetLocalDescription(answer)
	}
	if err != nil {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: ev.Description.SDP}
		if rbErr := rec.PC.SetRemoteDescription(rollback); rbErr != nil {
			e.Logger.Debug("Rollback after failed answer", "peer", rec.ID, "error", rbErr)
		}
		rec.Phase = prev
		return fmt.Errorf("%w: answer %s: %w", ErrDescription, rec.ID, err)
	}

	rec.Phase = peer.PhaseStable
	rec.InitialDone = true
	sendErr := e.send(rec, signaling.Secure{
		Type:    signaling.SecureAnswer,
		Answer:  &answer,
		Streams: e.Transport.LocalRoles(),
	})
	if err := e.settle(rec); err != nil {
		return err
	}
	return sendErr
}

func (e *Engine) onAnswer(rec *peer.Record, ev Event) error {
	if rec.Phase != peer.PhaseHaveLocalOffer {
		e.Logger.Debug("Dropping unexpected answer", "peer", rec.ID, "phase", rec.Phase)
		return nil
	}
	rec.Streams.Announce(ev.Streams)
	if err := rec.PC.SetRemoteDescription(*ev.Description); err != nil {
		return fmt.Errorf("%w: apply answer from %s: %w", ErrDescription, rec.ID, err)
	}
	e.applyCandidates(rec)

	rec.Phase = peer.PhaseStable
	rec.InitialDone = true
	rec.OfferGen++
	return e.settle(rec)
}

// onTimeout gives up on an offer that was never answered. A connection
// cannot leave have-local-offer without an answer, so the pair starts over
// from key agreement.
func (e *Engine) onTimeout(rec *peer.Record, ev Event) error {
	if ev.Generation != rec.OfferGen || rec.Phase != peer.PhaseHaveLocalOffer {
		return nil
	}
	e.Logger.Warn("Offer unanswered, restarting peer", "peer", rec.ID)
	e.Transport.Restart(rec)
	return nil
}

// renegotiate offers when self starts the pair's exchanges and asks the peer
// for the turn otherwise. Only one side of a pair ever has an offer in
// flight, so the two offers never cross.
func (e *Engine) renegotiate(rec *peer.Record) error {
	if Initiator(e.Self, rec.ID) {
		if rec.PeerHasTurn {
			rec.PendingRenegotiation = true
			return nil
		}
		return e.startOffer(rec)
	}
	rec.PendingRenegotiation = true
	if rec.TurnRequested {
		return nil
	}
	rec.TurnRequested = true
	return e.send(rec, signaling.Secure{Type: signaling.SecureOfferRequest})
}

func (e *Engine) onTurnRequest(rec *peer.Record) error {
	if !Initiator(e.Self, rec.ID) {
		e.Logger.Debug("Ignoring turn request from the initiating peer", "peer", rec.ID)
		return nil
	}
	rec.PeerWantsTurn = true
	return e.settle(rec)
}

func (e *Engine) onTurnGranted(rec *peer.Record) error {
	if Initiator(e.Self, rec.ID) {
		return nil
	}
	rec.TurnRequested = false
	if rec.Phase != peer.PhaseStable {
		// The grant is released by the peer's turn watchdog.
		e.Logger.Debug("Turn granted mid-exchange", "peer", rec.ID, "phase", rec.Phase)
		rec.PendingRenegotiation = true
		return nil
	}
	// The peer waits for an offer even when nothing changed since we asked.
	return e.startOffer(rec)
}

func (e *Engine) onTurnTimeout(rec *peer.Record, ev Event) error {
	if ev.Generation != rec.TurnGen || !rec.PeerHasTurn {
		return nil
	}
	e.Logger.Info("Granted turn unused, taking it back", "peer", rec.ID)
	rec.PeerHasTurn = false
	return e.settle(rec)
}

// settle runs whatever waited for the pair to return to stable: a turn the
// peer asked for comes first, then our own pending renegotiation.
func (e *Engine) settle(rec *peer.Record) error {
	if rec.Phase != peer.PhaseStable || !rec.Secured() || rec.PeerHasTurn {
		return nil
	}
	if rec.PeerWantsTurn {
		return e.grant(rec)
	}
	if !rec.PendingRenegotiation {
		return nil
	}
	return e.renegotiate(rec)
}

func (e *Engine) grant(rec *peer.Record) error {
	rec.PeerWantsTurn = false
	rec.PeerHasTurn = true
	rec.TurnGen++
	e.Transport.After(rec, 3*e.base(), Event{Kind: TurnTimeout, Generation: rec.TurnGen})
	return e.send(rec, signaling.Secure{Type: signaling.SecureOfferGrant})
}

func (e *Engine) applyCandidates(rec *peer.Record) {
	for _, c := range rec.Candidates {
		if err := rec.PC.AddICECandidate(c); err != nil {
			e.Logger.Debug("Adding buffered candidate failed", "peer", rec.ID, "error", err)
		}
	}
	rec.Candidates = nil
}

func (e *Engine) flush(rec *peer.Record) {
	n, err := rec.Channel.Flush()
	if err != nil {
		e.Logger.Warn("Flushing secure queue failed", "peer", rec.ID, "sent", n, "error", err)
		return
	}
	if n > 0 {
		e.Logger.Debug("Flushed secure queue", "peer", rec.ID, "sent", n)
	}
}

func (e *Engine) send(rec *peer.Record, msg signaling.Secure) error {
	if err := rec.Channel.Send(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, rec.ID, err)
	}
	return nil
}

func (e *Engine) base() time.Duration {
	if e.OfferTimeout <= 0 {
		return DefaultOfferTimeout
	}
	return e.OfferTimeout
}

// timeout is the offer watchdog for rec. The initiator waits longer so that
// when both sides are stuck the responder restarts the pair first.
func (e *Engine) timeout(rec *peer.Record) time.Duration {
	if Initiator(e.Self, rec.ID) {
		return 2 * e.base()
	}
	return e.base()
}

// settledPhase is the phase a record returns to when an exchange is abandoned.
func settledPhase(rec *peer.Record) peer.Phase {
	if rec.InitialDone {
		return peer.PhaseStable
	}
	return peer.PhaseIdle
}
