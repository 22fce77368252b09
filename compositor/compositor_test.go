package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rembg/images"
)

// cutout returns a w x h image whose left half is opaque and right half fully transparent.
func cutout(w, h int, fg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, fg)
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 9, G: 9, B: 9, A: 0})
			}
		}
	}
	return img
}

// ramp returns an opaque 256x1 image where pixel x has channels (x, x, 255-x).
func ramp() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 256, 1))
	for x := 0; x < 256; x++ {
		img.SetNRGBA(x, 0, color.NRGBA{R: uint8(x), G: uint8(x), B: uint8(255 - x), A: 255})
	}
	return img
}

func decode(t *testing.T, a *Artifact) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	return images.ToNRGBA(img)
}

func render(t *testing.T, src image.Image, params Params) *image.NRGBA {
	t.Helper()
	a, err := Render(src, params)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds().Dx(), a.Width)
	assert.Equal(t, src.Bounds().Dy(), a.Height)
	return decode(t, a)
}

func TestBrightness(t *testing.T) {
	src := ramp()

	t.Run("intensity 50 is identity", func(t *testing.T) {
		p := DefaultParams()
		p.Effect = EffectBrightness
		out := render(t, src, p)
		assert.Equal(t, src.Pix, out.Pix)
	})

	t.Run("intensity 100 doubles and clamps", func(t *testing.T) {
		p := DefaultParams()
		p.Effect = EffectBrightness
		p.Intensity = 100
		out := render(t, src, p)
		for x := 0; x < 256; x++ {
			want := uint8(math.Min(255, float64(2*x)))
			got := out.NRGBAAt(x, 0)
			require.Equal(t, want, got.R, "x=%d", x)
			require.Equal(t, want, got.G, "x=%d", x)
			require.Equal(t, uint8(255), got.A)
		}
	})

	t.Run("halves round to even", func(t *testing.T) {
		p := DefaultParams()
		p.Effect = EffectBrightness
		p.Intensity = 25
		out := render(t, src, p)
		for x, want := range map[int]uint8{1: 0, 2: 1, 3: 2, 5: 2, 7: 4, 255: 128} {
			require.Equal(t, want, out.NRGBAAt(x, 0).R, "x=%d", x)
		}
	})

	t.Run("intensity 0 is black", func(t *testing.T) {
		p := DefaultParams()
		p.Effect = EffectBrightness
		p.Intensity = 0
		out := render(t, src, p)
		assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(200, 0))
	})
}

func TestContrast(t *testing.T) {
	src := ramp()

	assert.Equal(t, float32(1), ContrastFactor(0))

	p := DefaultParams()
	p.Effect = EffectContrast
	p.Intensity = 0
	out := render(t, src, p)
	assert.Equal(t, src.Pix, out.Pix, "intensity 0 is identity")

	p.Intensity = 100
	out = render(t, src, p)
	factor := float64(ContrastFactor(100))
	for _, x := range []int{0, 64, 128, 180, 255} {
		want := uint8(math.Max(0, math.Min(255, math.Floor(factor*(float64(x)-128)+128+0.5))))
		assert.InDelta(t, want, out.NRGBAAt(x, 0).R, 1, "x=%d", x)
	}
	assert.Equal(t, uint8(128), out.NRGBAAt(128, 0).R, "midpoint is fixed")
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(255, 0).R)
}

func TestEffectsKeepAlpha(t *testing.T) {
	src := cutout(8, 4, color.NRGBA{R: 100, G: 150, B: 200, A: 255})

	for _, effect := range []Effect{EffectBrightness, EffectContrast, EffectBlur, EffectNone} {
		t.Run(string(effect), func(t *testing.T) {
			p := DefaultParams()
			p.Effect = effect
			p.Intensity = 80
			out := render(t, src, p)
			for y := 0; y < 4; y++ {
				for x := 0; x < 8; x++ {
					require.Equal(t, src.NRGBAAt(x, y).A, out.NRGBAAt(x, y).A)
				}
			}
		})
	}
}

func TestBlurIsNoOp(t *testing.T) {
	src := ramp()
	p := DefaultParams()
	p.Effect = EffectBlur
	p.Intensity = 100
	assert.Equal(t, src.Pix, render(t, src, p).Pix)
}

func TestColorBackground(t *testing.T) {
	fg := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	src := cutout(6, 2, fg)

	p := DefaultParams()
	p.Background = BackgroundColor
	p.Color = color.NRGBA{R: 255, A: 255}
	out := render(t, src, p)

	assert.Equal(t, fg, out.NRGBAAt(0, 0), "subject is kept")
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(5, 1), "transparent area shows the fill")
}

func TestNoBackgroundKeepsTransparency(t *testing.T) {
	src := cutout(6, 2, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	out := render(t, src, DefaultParams())
	assert.Equal(t, uint8(0), out.NRGBAAt(5, 0).A)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 0).A)
}

func TestImageBackgroundCoversCanvas(t *testing.T) {
	// 100x50 background, red on the left half and blue on the right.
	bg := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			c := color.NRGBA{R: 255, A: 255}
			if x >= 50 {
				c = color.NRGBA{B: 255, A: 255}
			}
			bg.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, bg))

	// Fully transparent square canvas: the centered crop shows both halves edge to edge.
	src := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	p := DefaultParams()
	p.Background = BackgroundImage
	p.Image = buf.Bytes()
	out := render(t, src, p)

	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(0, 10))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, out.NRGBAAt(19, 10))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			require.Equal(t, uint8(255), out.NRGBAAt(x, y).A, "cover leaves no gaps")
		}
	}
}

func TestRenderRejects(t *testing.T) {
	src := ramp()

	tests := []struct {
		name   string
		params Params
		target error
	}{
		{name: "gradient", params: Params{Background: BackgroundGradient}, target: ErrUnsupportedBackground},
		{name: "pattern", params: Params{Background: BackgroundPattern}, target: ErrUnsupportedBackground},
		{name: "unknown background", params: Params{Background: "plaid"}, target: ErrInvalidParams},
		{name: "missing image", params: Params{Background: BackgroundImage}, target: ErrInvalidParams},
		{name: "bad image", params: Params{Background: BackgroundImage, Image: []byte("nope")}, target: ErrInvalidParams},
		{name: "intensity too high", params: Params{Effect: EffectContrast, Intensity: 101}, target: ErrInvalidParams},
		{name: "negative intensity", params: Params{Effect: EffectBrightness, Intensity: -1}, target: ErrInvalidParams},
		{name: "unknown effect", params: Params{Effect: "sepia"}, target: ErrInvalidParams},
		{name: "tga output", params: Params{Format: images.FormatTGA}, target: ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(src, tt.params)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestRenderEmptyCanvas(t *testing.T) {
	_, err := Render(image.NewNRGBA(image.Rect(0, 0, 0, 5)), DefaultParams())
	assert.ErrorIs(t, err, ErrCanvasUnavailable)

	_, err = RenderBytes([]byte("garbage"), DefaultParams())
	assert.ErrorIs(t, err, ErrCanvasUnavailable)
}

func TestRenderWebP(t *testing.T) {
	p := DefaultParams()
	p.Format = images.FormatWebP
	a, err := Render(cutout(4, 4, color.NRGBA{G: 255, A: 255}), p)
	require.NoError(t, err)
	assert.Equal(t, images.FormatWebP, a.Format)
	assert.Contains(t, a.DataURL(), "data:image/webp;base64,")

	img, _, err := images.Decode(a.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#ff0000", want: color.NRGBA{R: 255, A: 255}},
		{in: "#0f0", want: color.NRGBA{G: 255, A: 255}},
		{in: "c0c0c0", want: color.NRGBA{R: 192, G: 192, B: 192, A: 255}},
		{in: "#12345", wantErr: true},
		{in: "#gggggg", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidParams, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, c := range Palette {
		_, err := ParseColor(c)
		assert.NoError(t, err, c)
	}
}

func TestPreview(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, cutout(300, 150, color.NRGBA{R: 1, A: 255})))

	thumb, err := Preview(buf.Bytes(), 64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}
