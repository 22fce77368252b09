// Package processor - Removes the background of a source image using the active model.
package processor

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/nvr-ai/go-rembg/export"
	"github.com/nvr-ai/go-rembg/images"
	"github.com/nvr-ai/go-rembg/inference"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/models/preprocess"
)

// ErrProcessingFailure matches every *Error.
var ErrProcessingFailure = errors.New("processing failed")

// Stage names the step of the pipeline that failed.
type Stage string

// Pipeline stages.
const (
	StageDecode     Stage = "decode"
	StagePreprocess Stage = "preprocess"
	StageInfer      Stage = "infer"
	StageMask       Stage = "mask"
	StageEncode     Stage = "encode"
)

// StageProcess is the timer name of the whole pipeline.
const StageProcess = "process"

// Error is a per-image processing failure.
type Error struct {
	ImageID int64
	Stage   Stage
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("processing image %d failed at %s: %v", e.ImageID, e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProcessingFailure) true for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrProcessingFailure
}

// ModelSource provides exclusive-read access to the active model pair.
type ModelSource interface {
	Use(ctx context.Context, fn func(*inference.Pair) error) error
}

// Source is an image to process.
type Source struct {
	ID   int64
	Name string
	Data []byte
}

// Result is a transparent-background PNG with the dimensions of its source.
type Result struct {
	SourceID int64
	Name     string
	Width    int
	Height   int
	Data     []byte
	ModelID  models.ID
	Duration time.Duration
}

// Timer records how long pipeline stages take.
type Timer interface {
	Record(name string, d time.Duration)
}

type noopTimer struct{}

func (noopTimer) Record(string, time.Duration) {}

// Option configures a Processor.
type Option func(*Processor)

// WithTimer records the duration of every stage and of the whole pipeline under "process".
func WithTimer(t Timer) Option {
	return func(p *Processor) {
		if t != nil {
			p.timer = t
		}
	}
}

// Processor runs the background removal pipeline.
type Processor struct {
	models ModelSource
	log    logrus.FieldLogger
	timer  Timer
}

// New creates a processor backed by models.
func New(models ModelSource, log logrus.FieldLogger, opts ...Option) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Processor{models: models, log: log, timer: noopTimer{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// timed runs fn and records its duration under stage.
func (p *Processor) timed(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	p.timer.Record(string(stage), time.Since(start))
	return err
}

// Process removes the background of src. The active model is checked before the source is
// decoded, so no image is failed while no model is loaded.
//
// Arguments:
//   - ctx: The request context.
//   - src: The source image.
//
// Returns:
//   - *Result: The processed PNG.
//   - error: loader.ErrModelNotInitialized when no model is active, otherwise an *Error.
func (p *Processor) Process(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	fail := func(stage Stage, err error) (*Result, error) {
		return nil, &Error{ImageID: src.ID, Stage: stage, Err: err}
	}

	var (
		img     image.Image
		mask    *inference.Mask
		modelID models.ID
		stage   = StageDecode
	)
	err := p.models.Use(ctx, func(pair *inference.Pair) error {
		modelID = pair.Spec.ID

		if err := p.timed(StageDecode, func() (err error) {
			img, _, err = images.Decode(src.Data)
			return err
		}); err != nil {
			return err
		}

		stage = StagePreprocess
		var tensor *preprocess.Tensor
		if err := p.timed(StagePreprocess, func() (err error) {
			tensor, err = pair.Processor.Preprocess(img)
			return err
		}); err != nil {
			return err
		}

		stage = StageInfer
		return p.timed(StageInfer, func() (err error) {
			mask, err = pair.Model.Infer(ctx, tensor)
			return err
		})
	})
	if errors.Is(err, loader.ErrModelNotInitialized) {
		return nil, err
	}
	if err != nil {
		return fail(stage, err)
	}

	var cutout *image.NRGBA
	err = p.timed(StageMask, func() error {
		alpha, err := mask.Alpha()
		if err != nil {
			return err
		}
		cutout = Cutout(img, alpha)
		return nil
	})
	if err != nil {
		return fail(StageMask, err)
	}

	var out *images.Image
	err = p.timed(StageEncode, func() (err error) {
		out, err = images.EncodeImage(cutout, images.FormatPNG)
		return err
	})
	if err != nil {
		return fail(StageEncode, err)
	}

	res := &Result{
		SourceID: src.ID,
		Name:     export.FileName(src.Name),
		Width:    out.Width,
		Height:   out.Height,
		Data:     out.Data,
		ModelID:  modelID,
		Duration: time.Since(start),
	}
	p.timer.Record(StageProcess, res.Duration)

	p.log.WithFields(logrus.Fields{
		"image_id": src.ID,
		"model_id": modelID,
		"width":    res.Width,
		"height":   res.Height,
		"duration": res.Duration,
	}).Debug("image processed")

	return res, nil
}

// Cutout copies the RGB of src and takes alpha from matte, resized to the source resolution.
//
// Arguments:
//   - src: The source image.
//   - matte: The 8-bit alpha plane at any resolution.
//
// Returns:
//   - *image.NRGBA: The cutout with the bounds of src moved to the origin.
func Cutout(src image.Image, matte *image.Gray) *image.NRGBA {
	dst := images.ToNRGBA(src)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	alpha := ResizeMatte(matte, w, h)

	images.Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := dst.Pix[y*dst.Stride:]
			arow := alpha.Pix[y*alpha.Stride:]
			for x := 0; x < w; x++ {
				row[x*4+3] = arow[x]
			}
		}
	})

	return dst
}

// ResizeMatte scales matte to width x height with bilinear interpolation.
func ResizeMatte(matte *image.Gray, width, height int) *image.Gray {
	b := matte.Bounds()
	if b.Dx() == width && b.Dy() == height && b.Min == (image.Point{}) {
		return matte
	}

	resized := resize.Resize(uint(width), uint(height), matte, resize.Bilinear)
	if g, ok := resized.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(gray, gray.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return gray
}
