package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// Frame is one encoded media frame.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// FrameSource yields encoded frames. NextFrame returns io.EOF when exhausted.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource produces Opus silence forever.
type SilenceSource struct{}

// NextFrame implements FrameSource.
func (SilenceSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{Data: opusSilence, Duration: 20 * time.Millisecond}, nil
}

// Close implements FrameSource.
func (SilenceSource) Close() error { return nil }

// IVFSource reads VP8 frames from an IVF file, optionally looping.
type IVFSource struct {
	path   string
	loop   bool
	file   *os.File
	reader *ivfreader.IVFReader
	frame  time.Duration

	Width, Height uint16
}

// ErrUnsupportedCodec is returned for IVF files that are not VP8.
var ErrUnsupportedCodec = errors.New("media: only VP8 IVF files are supported")

// OpenIVF opens path as a camera substitute.
func OpenIVF(path string, loop bool) (*IVFSource, error) {
	s := &IVFSource{path: path, loop: loop}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *IVFSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("media: open %s: %w", s.path, err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("media: read %s: %w", s.path, err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return fmt.Errorf("%w (got %q)", ErrUnsupportedCodec, header.FourCC)
	}

	s.frame = time.Second / 30
	if header.TimebaseNumerator != 0 {
		s.frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	s.file, s.reader = f, reader
	s.Width, s.Height = header.Width, header.Height
	return nil
}

// NextFrame implements FrameSource.
func (s *IVFSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.reader == nil {
		return Frame{}, io.EOF
	}
	data, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		s.file.Close()
		if err := s.open(); err != nil {
			return Frame{}, err
		}
		data, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Duration: s.frame}, nil
}

// Close implements FrameSource.
func (s *IVFSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}
