// Package effects defines the contract for background-segmentation video
// effects. A Processor turns a camera FrameSource into another FrameSource
// that is published exactly like a raw camera track.
package effects

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
)

// Mode selects the background treatment.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeBlur  Mode = "blur"
	ModeImage Mode = "image"
	ModeColor Mode = "color"
)

// MaxBlurStrength bounds Options.BlurStrength.
const MaxBlurStrength = 50

// Options parameterize a processor run.
type Options struct {
	Mode         Mode
	BlurStrength int
	Background   string // image path or URL for ModeImage, hex color for ModeColor
	Width        uint16
	Height       uint16
	FPS          int
}

// ErrInvalidOptions wraps option validation failures.
var ErrInvalidOptions = errors.New("effects: invalid options")

// OptionsFromPrefs maps user preferences onto processor options.
func OptionsFromPrefs(p config.Preferences, width, height uint16, fps int) Options {
	o := Options{
		Mode:         Mode(p.BgMode),
		BlurStrength: p.BlurStrength,
		Width:        width,
		Height:       height,
		FPS:          fps,
	}
	switch o.Mode {
	case ModeImage:
		o.Background = p.BgSrc
	case ModeColor:
		o.Background = p.BgColor
	}
	if o.Mode == "" {
		o.Mode = ModeNone
	}
	return o
}

// Validate checks that o is internally consistent.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeNone:
	case ModeBlur:
		if o.BlurStrength < 1 || o.BlurStrength > MaxBlurStrength {
			return fmt.Errorf("%w: blur strength %d outside 1..%d", ErrInvalidOptions, o.BlurStrength, MaxBlurStrength)
		}
	case ModeImage, ModeColor:
		if o.Background == "" {
			return fmt.Errorf("%w: mode %s needs a background", ErrInvalidOptions, o.Mode)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, o.Mode)
	}
	if o.FPS < 0 {
		return fmt.Errorf("%w: negative frame rate", ErrInvalidOptions)
	}
	return nil
}

// Processor transforms a camera stream. The returned stop function releases
// the processor's resources and closes the output; it is safe to call twice.
type Processor interface {
	Start(in media.FrameSource, opts Options) (out media.FrameSource, stop func(), err error)
}

// Passthrough forwards frames unchanged. It accepts every valid mode and logs
// when a requested effect is not applied.
type Passthrough struct {
	Logger *slog.Logger
}

// Start implements Processor.
func (p Passthrough) Start(in media.FrameSource, opts Options) (media.FrameSource, func(), error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if opts.Mode != ModeNone {
		logger := p.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("Background effect not available, sending camera unchanged", "mode", opts.Mode)
	}
	stopped := false
	stop := func() {
		if !stopped {
			stopped = true
			in.Close()
		}
	}
	return in, stop, nil
}

var _ Processor = Passthrough{}
