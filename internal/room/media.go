package room

import (
	"context"
	"errors"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/effects"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
	"github.com/pion/webrtc/v4"
)

// MediaOptions select the local sources.
type MediaOptions struct {
	// VideoFile is a VP8 IVF file sent as the camera. Empty sends no video.
	VideoFile string
	// NoAudio disables the audio track.
	NoAudio bool
	// Loop restarts file sources at the end.
	Loop bool

	Prefs   config.Preferences
	Effects effects.Processor
}

// acquireMedia opens the local sources, starts their pumps and publishes the
// tracks. Source failures are reported as notices; whatever is available is
// published so that negotiation can proceed.
func (s *Session) acquireMedia(ctx context.Context) {
	audio, video, err := s.local.NewCameraTracks()
	if err != nil {
		s.warn("Local media unavailable: " + err.Error())
		s.local.Publish(nil, nil)
		s.post(event{kind: evMediaReady})
		return
	}

	if s.opts.Media.NoAudio {
		audio = nil
	} else {
		s.startPump(ctx, audio, media.SilenceSource{}, media.AudioCodec, s.local.Mic)
	}

	if s.opts.Media.VideoFile == "" {
		video = nil
	} else if src, err := s.openVideo(s.opts.Media.VideoFile); err != nil {
		s.warn("Camera unavailable: " + err.Error())
		video = nil
	} else {
		s.startPump(ctx, video, src, media.VideoCodec, s.local.Camera)
	}

	s.local.Publish(audio, video)
	prefs := s.opts.Media.Prefs
	s.local.SetMic(audio != nil && prefs.AutoMic)
	s.local.SetCamera(video != nil && prefs.AutoCam)
	s.post(event{kind: evMediaReady})
}

// openVideo opens path and runs it through the effects processor.
func (s *Session) openVideo(path string) (media.FrameSource, error) {
	raw, err := media.OpenIVF(path, s.opts.Media.Loop)
	if err != nil {
		return nil, err
	}
	proc := s.opts.Media.Effects
	if proc == nil {
		proc = effects.Passthrough{Logger: s.log}
	}
	opts := effects.OptionsFromPrefs(s.opts.Media.Prefs, raw.Width, raw.Height, 30)
	out, stop, err := proc.Start(raw, opts)
	if err != nil {
		raw.Close()
		return nil, err
	}
	s.stopsMu.Lock()
	s.stops = append(s.stops, stop)
	s.stopsMu.Unlock()
	return out, nil
}

func (s *Session) startPump(ctx context.Context, track *webrtc.TrackLocalStaticRTP, src media.FrameSource, codec webrtc.RTPCodecCapability, enabled func() bool) {
	s.pumps.Add(1)
	go func() {
		defer s.pumps.Done()
		defer src.Close()
		if err := media.Pump(ctx, track, src, codec, enabled); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("Media pump stopped", "track", track.ID(), "error", err)
		}
	}()
}

// startScreen publishes a screen share read from path and attaches it to
// every peer. Runs on the loop.
func (s *Session) startScreen(path string) error {
	if path == "" {
		return ErrNoVideoSource
	}
	if !s.local.IsReady() {
		return ErrMediaNotReady
	}
	src, err := media.OpenIVF(path, true)
	if err != nil {
		return err
	}
	track, err := s.local.StartScreen()
	if err != nil {
		src.Close()
		return err
	}
	ctx, cancel := context.WithCancel(s.mediaCtx)
	s.stopScreen = cancel
	s.startPump(ctx, track, src, media.VideoCodec, nil)

	for _, id := range s.registry.IDs() {
		rec := s.registry.Get(id)
		if _, err := s.registry.AttachLocal(rec); err != nil {
			s.log.Warn("Attaching screen failed", "peer", id, "error", err)
		}
	}
	s.broadcastMediaState()
	return nil
}

// endScreen stops the screen share and removes it from every peer.
func (s *Session) endScreen() error {
	track := s.local.StopScreen()
	if track == nil {
		return nil
	}
	if s.stopScreen != nil {
		s.stopScreen()
		s.stopScreen = nil
	}
	for _, id := range s.registry.IDs() {
		if err := s.registry.DetachLocal(s.registry.Get(id), track.ID()); err != nil {
			s.log.Warn("Detaching screen failed", "peer", id, "error", err)
		}
	}
	s.broadcastMediaState()
	return nil
}
