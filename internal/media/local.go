// Package media owns the local outbound tracks and signals when they are
// available to attach to peer connections.
package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Codec capabilities used for local tracks.
var (
	AudioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	VideoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Local is the local participant's media. Readiness is a one-shot signal:
// Ready is closed exactly once, when Publish is first called.
type Local struct {
	mu sync.RWMutex

	cameraStream string
	screenStream string

	audio  *webrtc.TrackLocalStaticRTP
	video  *webrtc.TrackLocalStaticRTP
	screen *webrtc.TrackLocalStaticRTP

	ready     chan struct{}
	readyOnce sync.Once

	mic    atomic.Bool
	camera atomic.Bool
}

// NewLocal returns unpublished media for user.
func NewLocal(user string) *Local {
	return &Local{
		cameraStream: "camera-" + user,
		screenStream: "screen-" + user,
		ready:        make(chan struct{}),
	}
}

// NewCameraTracks creates the audio and video tracks for the camera stream.
func (l *Local) NewCameraTracks() (audio, video *webrtc.TrackLocalStaticRTP, err error) {
	audio, err = webrtc.NewTrackLocalStaticRTP(AudioCodec, "audio", l.cameraStream)
	if err != nil {
		return nil, nil, fmt.Errorf("media: audio track: %w", err)
	}
	video, err = webrtc.NewTrackLocalStaticRTP(VideoCodec, "video", l.cameraStream)
	if err != nil {
		return nil, nil, fmt.Errorf("media: video track: %w", err)
	}
	return audio, video, nil
}

// Publish installs the camera tracks (either may be nil when capture failed)
// and fires the ready signal. Later calls only replace the tracks.
func (l *Local) Publish(audio, video *webrtc.TrackLocalStaticRTP) {
	l.mu.Lock()
	l.audio, l.video = audio, video
	l.mu.Unlock()

	l.mic.Store(audio != nil)
	l.camera.Store(video != nil)
	l.readyOnce.Do(func() { close(l.ready) })
}

// Ready is closed once local media has been published.
func (l *Local) Ready() <-chan struct{} { return l.ready }

// IsReady reports whether Publish has been called.
func (l *Local) IsReady() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// Tracks returns the camera tracks followed by the screen track, if any.
func (l *Local) Tracks() []webrtc.TrackLocal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []webrtc.TrackLocal
	for _, t := range []*webrtc.TrackLocalStaticRTP{l.audio, l.video, l.screen} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Roles maps each published stream id to its role.
func (l *Local) Roles() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	roles := make(map[string]string, 2)
	if l.audio != nil || l.video != nil {
		roles[l.cameraStream] = signaling.RoleCamera
	}
	if l.screen != nil {
		roles[l.screenStream] = signaling.RoleScreen
	}
	return roles
}

// StartScreen creates the screen-share track. It fails if one is active.
func (l *Local) StartScreen() (*webrtc.TrackLocalStaticRTP, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.screen != nil {
		return nil, fmt.Errorf("media: screen share already active")
	}
	t, err := webrtc.NewTrackLocalStaticRTP(VideoCodec, "screen", l.screenStream)
	if err != nil {
		return nil, fmt.Errorf("media: screen track: %w", err)
	}
	l.screen = t
	return t, nil
}

// StopScreen removes and returns the screen track, nil when none was active.
func (l *Local) StopScreen() *webrtc.TrackLocalStaticRTP {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.screen
	l.screen = nil
	return t
}

// Screen returns the active screen track.
func (l *Local) Screen() *webrtc.TrackLocalStaticRTP {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.screen
}

// SetMic enables or disables outbound audio.
func (l *Local) SetMic(on bool) { l.mic.Store(on) }

// Mic reports whether outbound audio is enabled.
func (l *Local) Mic() bool { return l.mic.Load() }

// SetCamera enables or disables outbound video.
func (l *Local) SetCamera(on bool) { l.camera.Store(on) }

// Camera reports whether outbound video is enabled.
func (l *Local) Camera() bool { return l.camera.Load() }
