// Package models - Registry of the supported background segmentation models.
package models

import (
	"path/filepath"
	"sort"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/models/preprocess"
)

// ErrUnknownModel is returned when a model id is not in the registry.
var ErrUnknownModel = errors.New("unknown model")

// ID identifies a pretrained segmentation model.
type ID string

const (
	// MODNet is the portrait matting model used when an accelerator is available.
	MODNet ID = "Xenova/modnet"
	// RMBG14 is the general purpose model that runs on every backend.
	RMBG14 ID = "briaai/RMBG-1.4"
)

// Role describes how the loader treats a model.
type Role string

const (
	// RoleAccelerated models are only loaded when hardware acceleration is detected.
	RoleAccelerated Role = "accelerated"
	// RoleFallback models are guaranteed to load on the CPU backend.
	RoleFallback Role = "fallback"
)

// Spec is the fixed configuration record of one supported model.
type Spec struct {
	// ID is the model identifier.
	ID ID `json:"id" yaml:"id"`
	// Role decides when the loader selects the model.
	Role Role `json:"role" yaml:"role"`
	// File is the ONNX file name inside the configured model directory.
	File string `json:"file" yaml:"file"`
	// InputName is the graph input receiving pixel values.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the graph output holding the alpha matte.
	OutputName string `json:"output_name" yaml:"output_name"`
	// Preprocess holds the fixed preprocessing options.
	Preprocess preprocess.Config `json:"-" yaml:"-"`
}

// Path returns the model file path inside dir.
func (s Spec) Path(dir string) string {
	return filepath.Join(dir, s.File)
}

// Accelerated reports whether the model requires hardware acceleration.
func (s Spec) Accelerated() bool {
	return s.Role == RoleAccelerated
}

var registry = map[ID]Spec{
	MODNet: {
		ID:         MODNet,
		Role:       RoleAccelerated,
		File:       "modnet.onnx",
		InputName:  "input",
		OutputName: "output",
		Preprocess: preprocess.Config{
			Name:          string(MODNet),
			Mode:          preprocess.ResizeShortestEdge,
			ShortestEdge:  512,
			SizeDivisor:   32,
			MaxEdge:       2048,
			Interpolation: resize.Bilinear,
			RescaleFactor: 1.0 / 255.0,
			Mean:          [3]float32{0.5, 0.5, 0.5},
			Std:           [3]float32{0.5, 0.5, 0.5},
		},
	},
	RMBG14: {
		ID:         RMBG14,
		Role:       RoleFallback,
		File:       "rmbg-1.4.onnx",
		InputName:  "input",
		OutputName: "output",
		Preprocess: preprocess.Config{
			Name:          string(RMBG14),
			Mode:          preprocess.ResizeExact,
			Width:         1024,
			Height:        1024,
			Interpolation: resize.Bilinear,
			RescaleFactor: 1.0 / 255.0,
			Mean:          [3]float32{0.5, 0.5, 0.5},
			Std:           [3]float32{0.5, 0.5, 0.5},
		},
	},
}

// Lookup returns the configuration record for id.
//
// Arguments:
//   - id: The model identifier.
//
// Returns:
//   - Spec: The model record.
//   - error: ErrUnknownModel if the id is not registered.
func Lookup(id ID) (Spec, error) {
	spec, ok := registry[id]
	if !ok {
		return Spec{}, errors.Wrapf(ErrUnknownModel, "%q", id)
	}
	return spec, nil
}

// All returns every registered model ordered by id.
func All() []Spec {
	specs := make([]Spec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Default returns the fallback model.
func Default() Spec {
	return registry[RMBG14]
}

// Accelerated returns the model preferred when an accelerator is present.
func Accelerated() Spec {
	return registry[MODNet]
}
