package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// mtu leaves headroom for SRTP and header extensions.
const mtu = 1200

// RTPWriter is satisfied by *webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Pump packetizes frames from src onto w in real time until ctx is done or
// src is exhausted. Frames are skipped, not sent, while enabled reports false.
func Pump(ctx context.Context, w RTPWriter, src FrameSource, codec webrtc.RTPCodecCapability, enabled func() bool) error {
	payloader, err := payloaderFor(codec.MimeType)
	if err != nil {
		return err
	}
	packetizer := rtp.NewPacketizer(mtu, 0, 0, payloader, rtp.NewRandomSequencer(), codec.ClockRate)

	var next time.Time
	for {
		frame, err := src.NextFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		samples := uint32(math.Round(frame.Duration.Seconds() * float64(codec.ClockRate)))
		if enabled == nil || enabled() {
			for _, p := range packetizer.Packetize(frame.Data, samples) {
				if err := w.WriteRTP(p); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					return fmt.Errorf("media: write rtp: %w", err)
				}
			}
		} else {
			packetizer.SkipSamples(samples)
		}

		if next.IsZero() {
			next = time.Now()
		}
		next = next.Add(frame.Duration)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
	}
}

func payloaderFor(mime string) (rtp.Payloader, error) {
	switch mime {
	case webrtc.MimeTypeOpus:
		return &codecs.OpusPayloader{}, nil
	case webrtc.MimeTypeVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	default:
		return nil, fmt.Errorf("media: no payloader for %s", mime)
	}
}
