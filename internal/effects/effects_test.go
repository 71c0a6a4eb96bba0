package effects

import (
	"context"
	"errors"
	"testing"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/config"
	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/media"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"none", Options{Mode: ModeNone}, true},
		{"blur", Options{Mode: ModeBlur, BlurStrength: 12}, true},
		{"blur zero", Options{Mode: ModeBlur}, false},
		{"blur too strong", Options{Mode: ModeBlur, BlurStrength: 99}, false},
		{"image without src", Options{Mode: ModeImage}, false},
		{"color", Options{Mode: ModeColor, Background: "#1f1f1f"}, true},
		{"unknown", Options{Mode: "sepia"}, false},
		{"negative fps", Options{Mode: ModeNone, FPS: -1}, false},
	}
	for _, tt := range tests {
		err := tt.opts.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("%s: error not wrapped: %v", tt.name, err)
		}
	}
}

func TestOptionsFromPrefs(t *testing.T) {
	t.Parallel()

	prefs := config.DefaultPreferences()
	if o := OptionsFromPrefs(prefs, 640, 480, 30); o.Mode != ModeNone || o.Validate() != nil {
		t.Fatalf("defaults = %+v", o)
	}

	prefs.BgMode = "color"
	o := OptionsFromPrefs(prefs, 640, 480, 30)
	if o.Background != config.DefaultBgColor {
		t.Fatalf("color background = %q", o.Background)
	}
}

type closeCounter struct {
	media.SilenceSource
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestPassthrough(t *testing.T) {
	t.Parallel()

	in := &closeCounter{}
	out, stop, err := Passthrough{}.Start(in, Options{Mode: ModeBlur, BlurStrength: 5})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := out.NextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop()
	stop()
	if in.closed != 1 {
		t.Fatalf("closed %d times", in.closed)
	}

	if _, _, err := (Passthrough{}).Start(in, Options{Mode: "sepia"}); err == nil {
		t.Fatal("invalid mode accepted")
	}
}
