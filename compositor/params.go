// Package compositor - Renders cutouts onto new backgrounds with simple effects.
package compositor

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/images"
)

var (
	// ErrInvalidParams is returned for out-of-range or malformed parameters.
	ErrInvalidParams = errors.New("invalid compositing parameters")
	// ErrUnsupportedBackground is returned for background modes without a renderer.
	ErrUnsupportedBackground = errors.New("unsupported background mode")
	// ErrCanvasUnavailable is returned when no raster can be allocated for the render.
	ErrCanvasUnavailable = errors.New("canvas unavailable")
)

// Background selects what is drawn beneath the cutout.
type Background string

const (
	// BackgroundNone keeps the transparent background.
	BackgroundNone Background = "none"
	// BackgroundColor fills the canvas with a solid color.
	BackgroundColor Background = "color"
	// BackgroundImage covers the canvas with a user supplied image.
	BackgroundImage Background = "image"
	// BackgroundGradient is recognised but has no renderer.
	BackgroundGradient Background = "gradient"
	// BackgroundPattern is recognised but has no renderer.
	BackgroundPattern Background = "pattern"
)

// Effect selects the per-pixel transform applied after compositing.
type Effect string

const (
	// EffectNone leaves the pixels unchanged.
	EffectNone Effect = "none"
	// EffectBlur is accepted and renders unchanged.
	EffectBlur Effect = "blur"
	// EffectBrightness scales every channel by intensity/50.
	EffectBrightness Effect = "brightness"
	// EffectContrast stretches channels around the midpoint 128.
	EffectContrast Effect = "contrast"
)

// DefaultIntensity is the neutral brightness intensity.
const DefaultIntensity = 50

// Palette lists the predefined background colors.
var Palette = []string{
	"#ffffff", "#000000", "#ff0000", "#00ff00", "#0000ff",
	"#ffff00", "#00ffff", "#ff00ff", "#808080", "#c0c0c0",
}

// Params are the compositing parameters of one render.
type Params struct {
	// Background is the background mode. Empty means none.
	Background Background
	// Color is the fill color for BackgroundColor.
	Color color.NRGBA
	// Image holds the encoded background image for BackgroundImage.
	Image []byte
	// Effect is the effect applied after compositing. Empty means none.
	Effect Effect
	// Intensity is the effect strength in [0, 100].
	Intensity int
	// Format is the output encoding. Empty means PNG.
	Format images.Format
}

// DefaultParams returns a transparent PNG render without effects.
func DefaultParams() Params {
	return Params{
		Background: BackgroundNone,
		Color:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		Effect:     EffectNone,
		Intensity:  DefaultIntensity,
		Format:     images.FormatPNG,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	switch p.Background {
	case "", BackgroundNone, BackgroundColor:
	case BackgroundImage:
		if len(p.Image) == 0 {
			return errors.Wrap(ErrInvalidParams, "background image is empty")
		}
	case BackgroundGradient, BackgroundPattern:
		return errors.Wrapf(ErrUnsupportedBackground, "%q", p.Background)
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown background %q", p.Background)
	}

	switch p.Effect {
	case "", EffectNone, EffectBlur, EffectBrightness, EffectContrast:
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown effect %q", p.Effect)
	}

	if p.Intensity < 0 || p.Intensity > 100 {
		return errors.Wrapf(ErrInvalidParams, "intensity %d outside [0, 100]", p.Intensity)
	}

	switch p.Format {
	case "", images.FormatPNG, images.FormatWebP:
	default:
		return errors.Wrapf(ErrInvalidParams, "output format %q", p.Format)
	}
	return nil
}

// ParseColor parses #rrggbb or #rgb into an opaque color.
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, errors.Wrapf(ErrInvalidParams, "color %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, errors.Wrapf(ErrInvalidParams, "color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
