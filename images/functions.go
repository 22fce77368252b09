// Package images - Pixel helpers shared by the processor and the compositor.
package images

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Clamp limits a value to the range [min, max].
//
// Arguments:
//   - value: The value to clamp.
//   - min: The lower bound.
//   - max: The upper bound.
//
// Returns:
//   - float64: The clamped value.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClampUint8 rounds a float32 channel value to the nearest integer and clamps it to [0, 255].
func ClampUint8(value float32) uint8 {
	if value != value {
		return 0
	}
	value = math32.Floor(value + 0.5)
	if value <= 0 {
		return 0
	}
	if value >= 255 {
		return 255
	}
	return uint8(value)
}

// ClampUint8Even rounds a channel value half to even and clamps it to [0, 255], matching the
// rounding of a clamped byte canvas.
func ClampUint8Even(value float64) uint8 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if value >= 255 {
		return 255
	}
	return uint8(math.RoundToEven(value))
}

// Parallel executes fn across goroutines, one partition of [0, dataSize) each.
//
// Arguments:
//   - dataSize: The size of the data to process.
//   - fn: Function to execute for each partition (receives start and end indices).
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	// Small inputs are not worth the scheduling overhead.
	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining data.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}

	wg.Wait()
}

// ToNRGBA returns img as a non-premultiplied RGBA buffer whose bounds start at the origin.
// An *image.NRGBA already anchored at the origin is copied so callers may mutate the result.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		copy(dst.Pix, src.Pix)
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Thumbnail scales img down to fit within maxSize x maxSize, preserving the aspect ratio.
// Images already inside the box are returned unscaled.
func Thumbnail(img image.Image, maxSize int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= maxSize && b.Dy() <= maxSize {
		return ToNRGBA(img)
	}
	return imaging.Fit(img, maxSize, maxSize, imaging.Linear)
}
