package room

import (
	"bytes"
	"fmt"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/negotiation"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	mcwebrtc "github.com/orico2007/WebRtcSecuredVideoChatSite/internal/webrtc"
)

// onRelay handles one envelope from the relay.
func (s *Session) onRelay(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypePeerList:
		defer s.rosterChanged()
		return s.coordinator.OnPeerList(msg.Users, msg.Host)

	case signaling.MessageTypePeerJoined:
		defer s.rosterChanged()
		s.notify(Notice{Kind: NoticeInfo, Text: msg.User + " joined"})
		return s.coordinator.OnPeerJoined(msg.User)

	case signaling.MessageTypePeerLeft:
		s.coordinator.OnPeerLeft(msg.User)
		s.notify(Notice{Kind: NoticeInfo, Text: msg.User + " left"})
		s.rosterChanged()
		return nil

	case signaling.MessageTypeHostChanged:
		defer s.rosterChanged()
		if msg.Host == s.opts.User {
			s.notify(Notice{Kind: NoticeInfo, Text: "You are now the host"})
		}
		return s.coordinator.OnHostChanged(msg.Host)

	case signaling.MessageTypeHostMute:
		if s.local.Mic() {
			s.local.SetMic(false)
			s.broadcastMediaState()
		}
		s.notify(Notice{Kind: NoticeInfo, Text: "The host muted you"})
		return nil

	case signaling.MessageTypeHostKick:
		target := msg.To
		if target == "" {
			target = msg.Target
		}
		return s.coordinator.OnKick(target)

	case signaling.MessageTypeChat:
		s.notify(Notice{Kind: NoticeChat, From: msg.From, Text: msg.Text, Private: msg.Private})
		return nil

	case signaling.MessageTypeError:
		s.warn("Relay refused: " + msg.Text)
		return nil

	case signaling.MessageTypeSignal:
		data, err := signaling.DecodeSignal(msg)
		if err != nil {
			return err
		}
		return s.onSignal(msg.From, data)
	}
	s.log.Debug("Ignoring relay message", "type", msg.Type)
	return nil
}

// onSignal handles a point-to-point signal.
func (s *Session) onSignal(from string, data *signaling.SignalData) error {
	if data.Type == signaling.SignalIntro {
		if from != signaling.IntroSender {
			return fmt.Errorf("introduction from %q", from)
		}
		return s.coordinator.OnIntroduction(data.Other)
	}
	if from == "" || from == s.opts.User {
		return nil
	}

	switch data.Type {
	case signaling.SignalDHPublic:
		return s.onPublic(from, data)

	case signaling.SignalReady:
		rec := s.registry.Get(from)
		if rec == nil {
			s.log.Debug("Ready from unknown peer", "peer", from)
			return nil
		}
		rec.Channel.SetPeerReady()
		return s.engine.Handle(rec, negotiation.Event{Kind: negotiation.PeerReady})

	case signaling.SignalEncrypted:
		rec := s.registry.Get(from)
		if rec == nil {
			s.log.Debug("Encrypted message from unknown peer", "peer", from)
			return nil
		}
		var sec signaling.Secure
		if err := rec.Channel.Receive(data.B64, &sec); err != nil {
			s.log.Warn("Discarding undecryptable message", "peer", from, "error", err)
			return nil
		}
		return s.onSecure(rec, &sec)
	}
	return nil
}

// onPublic completes key agreement with from, answering with our own public
// value when the peer has not seen it yet.
func (s *Session) onPublic(from string, data *signaling.SignalData) error {
	rec, _, err := s.registry.Ensure(from)
	if err != nil {
		return NewPeerError("connect", from, err)
	}
	s.rosterChanged()

	var before []byte
	if k := rec.Exchange.Key(); k != nil {
		before = bytes.Clone(k)
	}
	key, err := rec.Exchange.Complete(data.Value)
	if err != nil {
		return NewPeerError("key agreement", from, err)
	}
	if before != nil && !bytes.Equal(before, key) {
		// The peer started over with a fresh exponent; so do we.
		s.log.Info("Peer restarted key agreement", "peer", from)
		s.registry.Destroy(from)
		return s.onPublic(from, data)
	}

	if !data.SeenUs {
		pub, err := rec.Exchange.Begin()
		if err != nil {
			return NewPeerError("key agreement", from, err)
		}
		if err := s.sendSignal(from, signaling.SignalData{Type: signaling.SignalDHPublic, Value: pub, SeenUs: true}); err != nil {
			return err
		}
	}
	if before != nil {
		return nil
	}

	if err := rec.Channel.SetKey(key); err != nil {
		return NewPeerError("install key", from, err)
	}
	s.log.Info("Secure channel keyed", "peer", from)
	return s.engine.Handle(rec, negotiation.Event{Kind: negotiation.KeyEstablished})
}

// onSecure handles a decrypted message.
func (s *Session) onSecure(rec *peer.Record, msg *signaling.Secure) error {
	if ev, ok := negotiation.FromSecure(msg); ok {
		return s.engine.Handle(rec, ev)
	}
	switch msg.Type {
	case signaling.SecureBye:
		s.log.Info("Peer said goodbye", "peer", rec.ID)
		s.registry.Destroy(rec.ID)
		return nil
	case signaling.SecureHostPayload:
		defer s.rosterChanged()
		return s.coordinator.OnSecret(rec.ID, *msg)
	case signaling.SecureHostPayloadRequest:
		return s.coordinator.OnSecretRequest(rec.ID)
	}
	s.log.Debug("Ignoring secure message", "peer", rec.ID, "type", msg.Type)
	return nil
}

func (s *Session) onStateMessage(rec *peer.Record, msg mcwebrtc.Message) {
	switch msg.Type {
	case mcwebrtc.MessageTypeMediaState:
		var p mcwebrtc.MediaStatePayload
		if err := msg.DecodePayload(&p); err != nil {
			s.log.Debug("Bad media state", "peer", rec.ID, "error", err)
			return
		}
		rec.RemoteMedia = p
	case mcwebrtc.MessageTypeHand:
		var p mcwebrtc.HandPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		if p.Raised && !rec.HandRaised {
			s.notify(Notice{Kind: NoticeInfo, Text: rec.ID + " raised their hand"})
		}
		rec.HandRaised = p.Raised
	default:
		return
	}
	s.rosterChanged()
}

func (s *Session) mediaState() mcwebrtc.MediaStatePayload {
	return mcwebrtc.MediaStatePayload{
		Mic:    s.local.Mic(),
		Camera: s.local.Camera(),
		Screen: s.local.Screen() != nil,
	}
}

func (s *Session) sendState(rec *peer.Record, typ string, payload any) {
	msg, err := mcwebrtc.NewMessage(typ, payload)
	if err != nil {
		s.log.Warn("Encoding state message failed", "type", typ, "error", err)
		return
	}
	if err := mcwebrtc.SendState(rec.State, msg); err != nil {
		s.log.Debug("State message not sent", "peer", rec.ID, "type", typ, "error", err)
	}
}

func (s *Session) sendMediaState(rec *peer.Record) {
	s.sendState(rec, mcwebrtc.MessageTypeMediaState, s.mediaState())
}

func (s *Session) broadcastMediaState() {
	for _, id := range s.registry.IDs() {
		s.sendMediaState(s.registry.Get(id))
	}
}

func (s *Session) broadcastHand() {
	for _, id := range s.registry.IDs() {
		s.sendState(s.registry.Get(id), mcwebrtc.MessageTypeHand, mcwebrtc.HandPayload{Raised: s.handRaised})
	}
}
