// Package inference - Alpha matte produced by a segmentation model.
package inference

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rembg/images"
)

// ErrInvalidMask is returned when model output cannot be read as a single-channel matte.
var ErrInvalidMask = errors.New("invalid mask")

// Mask is a single-channel matte in [0, 1] with shape (height, width).
type Mask struct {
	t *tensor.Dense
}

// NewMask wraps data laid out row-major as height x width. The mask takes ownership of data.
func NewMask(data []float32, height, width int) (*Mask, error) {
	if height <= 0 || width <= 0 || len(data) != height*width {
		return nil, errors.Wrapf(ErrInvalidMask, "%d values for %dx%d", len(data), width, height)
	}
	return &Mask{t: tensor.New(tensor.WithShape(height, width), tensor.WithBacking(data))}, nil
}

// NewMaskFromOutput copies a model output of shape [1,1,H,W], [1,H,W] or [H,W] into a mask.
//
// Arguments:
//   - data: The raw output values.
//   - shape: The output tensor shape.
//
// Returns:
//   - *Mask: The matte.
//   - error: ErrInvalidMask if the shape has more than one channel or batch.
func NewMaskFromOutput(data []float32, shape []int64) (*Mask, error) {
	if len(shape) < 2 {
		return nil, errors.Wrapf(ErrInvalidMask, "shape %v", shape)
	}
	for _, d := range shape[:len(shape)-2] {
		if d != 1 {
			return nil, errors.Wrapf(ErrInvalidMask, "shape %v has more than one channel", shape)
		}
	}

	height, width := int(shape[len(shape)-2]), int(shape[len(shape)-1])
	owned := make([]float32, len(data))
	copy(owned, data)

	return NewMask(owned, height, width)
}

// Height returns the number of rows.
func (m *Mask) Height() int {
	return m.t.Shape()[0]
}

// Width returns the number of columns.
func (m *Mask) Width() int {
	return m.t.Shape()[1]
}

// At returns the matte value at column x, row y.
func (m *Mask) At(x, y int) float32 {
	return m.t.Data().([]float32)[y*m.Width()+x]
}

// Alpha scales the matte to [0, 255], rounding and clamping each value.
//
// Returns:
//   - *image.Gray: The 8-bit alpha plane at the mask resolution.
//   - error: An error if the tensor arithmetic fails.
func (m *Mask) Alpha() (*image.Gray, error) {
	scaled, err := m.t.MulScalar(float32(255), true)
	if err != nil {
		return nil, errors.Wrap(err, "scaling mask")
	}

	values := scaled.Data().([]float32)
	alpha := image.NewGray(image.Rect(0, 0, m.Width(), m.Height()))
	for i, v := range values {
		alpha.Pix[i] = images.ClampUint8(v)
	}

	return alpha, nil
}
