// Package compositor - Background substitution and rendering.
package compositor

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/nvr-ai/go-rembg/images"
)

// maxCanvasPixels bounds the raster a single render may allocate.
const maxCanvasPixels = 1 << 28

// Artifact is a rendered export.
type Artifact struct {
	*images.Image
}

// Render composites processed over the background described by params and applies the effect.
// It is a pure function of its inputs.
//
// Arguments:
//   - processed: The transparent-background cutout.
//   - params: The compositing parameters.
//
// Returns:
//   - *Artifact: The encoded render, same size as processed.
//   - error: ErrInvalidParams, ErrUnsupportedBackground or ErrCanvasUnavailable.
func Render(processed image.Image, params Params) (*Artifact, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := checkCanvas(processed); err != nil {
		return nil, err
	}
	b := processed.Bounds()

	var canvas *image.NRGBA
	switch params.Background {
	case BackgroundColor:
		canvas = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(params.Color), image.Point{}, draw.Src)
		draw.Draw(canvas, canvas.Bounds(), processed, b.Min, draw.Over)
	case BackgroundImage:
		bg, _, err := images.Decode(params.Image)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidParams, "background image: "+err.Error())
		}
		canvas = imaging.Fill(bg, b.Dx(), b.Dy(), imaging.Center, imaging.Linear)
		draw.Draw(canvas, canvas.Bounds(), processed, b.Min, draw.Over)
	default:
		// Straight copy keeps the RGB beneath partially transparent pixels exact.
		canvas = images.ToNRGBA(processed)
	}

	applyEffect(canvas, params.Effect, params.Intensity)

	format := params.Format
	if format == "" {
		format = images.FormatPNG
	}
	out, err := images.EncodeImage(canvas, format)
	if err != nil {
		return nil, errors.Wrap(err, "encode render")
	}
	return &Artifact{Image: out}, nil
}

// RenderBytes decodes an encoded cutout and renders it.
func RenderBytes(processed []byte, params Params) (*Artifact, error) {
	img, _, err := images.Decode(processed)
	if err != nil {
		return nil, errors.Wrap(ErrCanvasUnavailable, err.Error())
	}
	return Render(img, params)
}

func checkCanvas(processed image.Image) error {
	if processed == nil {
		return errors.Wrap(ErrCanvasUnavailable, "no image")
	}
	b := processed.Bounds()
	if b.Empty() {
		return errors.Wrapf(ErrCanvasUnavailable, "empty canvas %dx%d", b.Dx(), b.Dy())
	}
	if int64(b.Dx())*int64(b.Dy()) > maxCanvasPixels {
		return errors.Wrapf(ErrCanvasUnavailable, "canvas %dx%d too large", b.Dx(), b.Dy())
	}
	return nil
}

// Preview returns a PNG thumbnail of the cutout for gallery listings.
func Preview(processed []byte, maxSize int) ([]byte, error) {
	img, _, err := images.Decode(processed)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := images.Encode(&buf, images.Thumbnail(img, maxSize), images.FormatPNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
