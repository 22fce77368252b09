// Package preprocess - Converts decoded images into normalized model input tensors.
package preprocess

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/images"
)

var (
	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
	// ErrInvalidConfig is returned when a Config cannot produce a tensor.
	ErrInvalidConfig = errors.New("invalid preprocessing config")
	// ErrInputTooLarge is returned when the derived model input exceeds MaxEdge.
	ErrInputTooLarge = errors.New("model input too large")
)

// ResizeMode defines how the model input size is derived from the source size.
type ResizeMode int

const (
	// ResizeExact stretches every input to Width x Height.
	ResizeExact ResizeMode = iota
	// ResizeShortestEdge scales the shortest side to ShortestEdge and keeps the aspect ratio.
	ResizeShortestEdge
)

// Config defines the fixed preprocessing options of a segmentation model.
type Config struct {
	// Name of the model for logging purposes.
	Name string
	// Mode selects how the target size is computed.
	Mode ResizeMode
	// Width is the model input width for ResizeExact.
	Width int
	// Height is the model input height for ResizeExact.
	Height int
	// ShortestEdge is the target length of the shortest side for ResizeShortestEdge.
	ShortestEdge int
	// SizeDivisor floors both target dimensions to a multiple of this value when > 0.
	SizeDivisor int
	// MaxEdge bounds the longest side of a ResizeShortestEdge input when > 0.
	MaxEdge int
	// Interpolation is the resampling filter used to reach the target size.
	Interpolation resize.InterpolationFunction
	// RescaleFactor multiplies raw 0-255 values, typically 1/255.
	RescaleFactor float32
	// Mean is subtracted per RGB channel after rescaling.
	Mean [3]float32
	// Std divides each RGB channel after mean subtraction.
	Std [3]float32
}

// Validate checks that the config can produce a tensor.
func (c Config) Validate() error {
	switch c.Mode {
	case ResizeExact:
		if c.Width <= 0 || c.Height <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "%s: input size %dx%d", c.Name, c.Width, c.Height)
		}
	case ResizeShortestEdge:
		if c.ShortestEdge <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "%s: shortest edge %d", c.Name, c.ShortestEdge)
		}
		if c.MaxEdge > 0 && c.MaxEdge < c.ShortestEdge {
			return errors.Wrapf(ErrInvalidConfig, "%s: max edge %d below shortest edge %d", c.Name, c.MaxEdge, c.ShortestEdge)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "%s: unknown resize mode %d", c.Name, c.Mode)
	}

	for i, s := range c.Std {
		if s == 0 {
			return errors.Wrapf(ErrInvalidConfig, "%s: std[%d] is zero", c.Name, i)
		}
	}

	if c.RescaleFactor <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s: rescale factor %f", c.Name, c.RescaleFactor)
	}

	return nil
}

// TargetSize returns the model input size for a source of width x height.
//
// Arguments:
//   - width: The source width.
//   - height: The source height.
//
// Returns:
//   - int: The model input width.
//   - int: The model input height.
//   - error: ErrEmptyImage for empty sources, ErrInputTooLarge when a side exceeds MaxEdge.
func (c Config) TargetSize(width, height int) (int, int, error) {
	if c.Mode == ResizeExact {
		return c.Width, c.Height, nil
	}
	if width <= 0 || height <= 0 {
		return 0, 0, ErrEmptyImage
	}

	short := width
	if height < short {
		short = height
	}
	scale := float64(c.ShortestEdge) / float64(short)
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))

	if c.SizeDivisor > 0 {
		w = floorTo(w, c.SizeDivisor)
		h = floorTo(h, c.SizeDivisor)
	}

	if c.MaxEdge > 0 && (w > c.MaxEdge || h > c.MaxEdge) {
		return 0, 0, errors.Wrapf(ErrInputTooLarge, "%s: %dx%d source needs a %dx%d input, max edge %d",
			c.Name, width, height, w, h, c.MaxEdge)
	}

	return w, h, nil
}

func floorTo(v, divisor int) int {
	v = v / divisor * divisor
	if v < divisor {
		return divisor
	}
	return v
}

// Tensor is a CHW float32 model input with batch size one.
type Tensor struct {
	// Data is the tensor data laid out as [1, 3, Height, Width].
	Data []float32
	// Shape is the tensor shape.
	Shape []int64
	// Width is the model input width.
	Width int
	// Height is the model input height.
	Height int
	// OriginalWidth is the source width before resizing.
	OriginalWidth int
	// OriginalHeight is the source height before resizing.
	OriginalHeight int
}

// Preprocessor produces model input tensors for one model configuration.
type Preprocessor struct {
	config Config
}

// New creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: ErrInvalidConfig if the configuration is unusable.
func New(config Config) (*Preprocessor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{config: config}, nil
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() Config {
	return p.config
}

// Preprocess resizes, rescales and normalizes img into a [1, 3, H, W] tensor.
//
// Arguments:
//   - img: The decoded source image.
//
// Returns:
//   - *Tensor: The model input.
//   - error: ErrEmptyImage for images without pixels, ErrInputTooLarge for extreme aspect ratios.
func (p *Preprocessor) Preprocess(img image.Image) (*Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	b := img.Bounds()
	w, h, err := p.config.TargetSize(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	resized := img
	if w != b.Dx() || h != b.Dy() {
		resized = resize.Resize(uint(w), uint(h), img, p.config.Interpolation)
	}
	src := images.ToNRGBA(resized)

	plane := w * h
	data := make([]float32, 3*plane)
	mean, std, scale := p.config.Mean, p.config.Std, p.config.RescaleFactor

	images.Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				px := row[x*4 : x*4+3]
				i := y*w + x
				for c := 0; c < 3; c++ {
					data[c*plane+i] = (float32(px[c])*scale - mean[c]) / std[c]
				}
			}
		}
	})

	return &Tensor{
		Data:           data,
		Shape:          []int64{1, 3, int64(h), int64(w)},
		Width:          w,
		Height:         h,
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
	}, nil
}
