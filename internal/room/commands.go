package room

import (
	"strings"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/peer"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/topology"
)

// Snapshot is a point-in-time view of the session for presentation.
type Snapshot struct {
	Self    string
	Host    string
	IsHost  bool
	Members []string
	Peers   []peer.Info

	// Secret is only set once the room secret is known locally.
	Secret topology.RoomSecret

	Mic    bool
	Camera bool
	Screen bool
	Hand   bool
}

// do runs fn on the session loop and waits for its result.
func (s *Session) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.events <- event{kind: evCommand, cmd: fn, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Kick removes target from the room. Host only.
func (s *Session) Kick(target string) error {
	return s.do(func() error { return s.coordinator.Kick(target) })
}

// MuteAll asks every other participant to mute. Host only.
func (s *Session) MuteAll() error {
	return s.do(s.coordinator.MuteAll)
}

// TransferHost hands the host role to target. Host only.
func (s *Session) TransferHost(target string) error {
	return s.do(func() error { return s.coordinator.TransferHost(target) })
}

// SetMic toggles the outgoing audio and announces the change.
func (s *Session) SetMic(on bool) error {
	return s.do(func() error {
		s.local.SetMic(on)
		s.broadcastMediaState()
		return nil
	})
}

// SetCamera toggles the outgoing video and announces the change.
func (s *Session) SetCamera(on bool) error {
	return s.do(func() error {
		s.local.SetCamera(on)
		s.broadcastMediaState()
		return nil
	})
}

// RaiseHand raises or lowers the local hand.
func (s *Session) RaiseHand(raised bool) error {
	return s.do(func() error {
		s.handRaised = raised
		s.broadcastHand()
		return nil
	})
}

// StartScreen shares the VP8 IVF file at path as a screen track.
func (s *Session) StartScreen(path string) error {
	return s.do(func() error { return s.startScreen(path) })
}

// StopScreen ends the screen share, if any.
func (s *Session) StopScreen() error {
	return s.do(s.endScreen)
}

// Chat sends text to the room, or privately to one participant when to is set.
func (s *Session) Chat(text, to string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.do(func() error {
		if to != "" && !s.coordinator.IsMember(to) {
			return NewPeerError("chat", to, topology.ErrUnknownMember)
		}
		return s.relay.Send(signaling.NewChat(text, to))
	})
}

// Snapshot returns the current state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() error {
		snap = Snapshot{
			Self:    s.opts.User,
			Host:    s.coordinator.Host(),
			IsHost:  s.coordinator.IsHost(),
			Members: s.coordinator.Members(),
			Peers:   s.registry.Infos(),
			Mic:     s.local.Mic(),
			Camera:  s.local.Camera(),
			Screen:  s.local.Screen() != nil,
			Hand:    s.handRaised,
		}
		if secret, ok := s.coordinator.Secret(); ok {
			snap.Secret = secret
		}
		return nil
	})
	return snap, err
}
