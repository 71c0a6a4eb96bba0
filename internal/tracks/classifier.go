// Package tracks labels inbound media streams as camera or screen share.
package tracks

import (
	"log/slog"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Role of an inbound stream.
type Role int

const (
	RoleCamera Role = iota
	RoleScreen
)

func (r Role) String() string {
	if r == RoleScreen {
		return signaling.RoleScreen
	}
	return signaling.RoleCamera
}

// PeerStreams is the classification state kept per remote peer.
type PeerStreams struct {
	CameraStreamID string
	ScreenStreamID string

	// announced roles from the peer's offer/answer metadata
	announced map[string]Role
}

// Announce records roles declared by the peer. Unknown role names are ignored.
func (s *PeerStreams) Announce(roles map[string]string) {
	for id, name := range roles {
		var r Role
		switch name {
		case signaling.RoleCamera:
			r = RoleCamera
		case signaling.RoleScreen:
			r = RoleScreen
		default:
			continue
		}
		if s.announced == nil {
			s.announced = make(map[string]Role)
		}
		s.announced[id] = r
	}
}

// Sink receives classification results, typically the presentation layer.
// Calls come from the session loop and must not block.
type Sink interface {
	AttachCamera(peerID, streamID string, kind webrtc.RTPCodecType)
	DetachCamera(peerID, streamID string)
	AttachScreen(peerID, streamID string)
	DetachScreen(peerID, streamID string)
}

// Classifier decides the role of each inbound track and notifies a Sink.
type Classifier struct {
	sink Sink
	log  *slog.Logger
}

// NewClassifier returns a Classifier reporting to sink (which may be nil).
func NewClassifier(sink Sink, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{sink: sink, log: logger.With("component", "tracks")}
}

// Classify assigns a role to a newly arrived track.
//
// Audio always belongs to the camera tile. For video an announced role wins;
// otherwise the first distinct stream is the camera and any later distinct
// stream is a screen share.
func (c *Classifier) Classify(peerID string, s *PeerStreams, kind webrtc.RTPCodecType, streamID string) Role {
	if kind == webrtc.RTPCodecTypeAudio {
		if s.CameraStreamID == "" {
			s.CameraStreamID = streamID
		}
		c.attachCamera(peerID, streamID, kind)
		return RoleCamera
	}

	role, ok := s.announced[streamID]
	if !ok {
		role = RoleScreen
		if s.CameraStreamID == "" || s.CameraStreamID == streamID {
			role = RoleCamera
		}
	}

	switch role {
	case RoleCamera:
		s.CameraStreamID = streamID
		c.attachCamera(peerID, streamID, kind)
	case RoleScreen:
		if s.ScreenStreamID != "" && s.ScreenStreamID != streamID {
			c.detachScreen(peerID, s)
		}
		s.ScreenStreamID = streamID
		c.log.Debug("Screen share attached", "peer", peerID, "stream", streamID)
		if c.sink != nil {
			c.sink.AttachScreen(peerID, streamID)
		}
	}
	return role
}

// Ended handles a track ending or its stream going inactive. Only the screen
// classification is removed, and only once; it reports whether it was.
func (c *Classifier) Ended(peerID string, s *PeerStreams, streamID string) bool {
	if streamID == "" || s.ScreenStreamID != streamID {
		return false
	}
	c.detachScreen(peerID, s)
	return true
}

// Reset releases everything bound for the peer, used when it is torn down.
func (c *Classifier) Reset(peerID string, s *PeerStreams) {
	if s.ScreenStreamID != "" {
		c.detachScreen(peerID, s)
	}
	if id := s.CameraStreamID; id != "" {
		s.CameraStreamID = ""
		c.log.Debug("Camera detached", "peer", peerID, "stream", id)
		if c.sink != nil {
			c.sink.DetachCamera(peerID, id)
		}
	}
	s.announced = nil
}

func (c *Classifier) attachCamera(peerID, streamID string, kind webrtc.RTPCodecType) {
	c.log.Debug("Camera track attached", "peer", peerID, "stream", streamID, "kind", kind)
	if c.sink != nil {
		c.sink.AttachCamera(peerID, streamID, kind)
	}
}

func (c *Classifier) detachScreen(peerID string, s *PeerStreams) {
	id := s.ScreenStreamID
	s.ScreenStreamID = ""
	c.log.Debug("Screen share detached", "peer", peerID, "stream", id)
	if c.sink != nil {
		c.sink.DetachScreen(peerID, id)
	}
}
