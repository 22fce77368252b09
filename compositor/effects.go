// Package compositor - Per-pixel effects.
package compositor

import (
	"image"

	"github.com/nvr-ai/go-rembg/images"
)

// ContrastFactor returns the contrast multiplier for intensity.
// Intensity 0 yields exactly 1.
func ContrastFactor(intensity int) float32 {
	i := float32(intensity)
	return 259 * (i + 255) / (255 * (259 - i))
}

// channelLUT returns the 256-entry lookup table of effect at intensity, or nil for identity.
func channelLUT(effect Effect, intensity int) *[256]uint8 {
	var lut [256]uint8

	switch effect {
	case EffectBrightness:
		if intensity == DefaultIntensity {
			return nil
		}
		k := float64(intensity) / DefaultIntensity
		for v := range lut {
			lut[v] = images.ClampUint8Even(float64(v) * k)
		}
	case EffectContrast:
		if intensity == 0 {
			return nil
		}
		factor := ContrastFactor(intensity)
		for v := range lut {
			lut[v] = images.ClampUint8(factor*(float32(v)-128) + 128)
		}
	default:
		// Blur has no defined transform and renders unchanged.
		return nil
	}

	return &lut
}

// applyEffect transforms the RGB channels of img in place. Alpha is untouched.
func applyEffect(img *image.NRGBA, effect Effect, intensity int) {
	lut := channelLUT(effect, intensity)
	if lut == nil {
		return
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	images.Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for i := 0; i < len(row); i += 4 {
				row[i] = lut[row[i]]
				row[i+1] = lut[row[i+1]]
				row[i+2] = lut[row[i+2]]
			}
		}
	})
}
