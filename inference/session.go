// Package inference - ONNX Runtime implementation of the segmentation runtime.
package inference

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-rembg/inference/providers"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/models/preprocess"
)

// ONNXRuntime loads models with ONNX Runtime. The native environment is initialized on the
// first load and shared by every session of the process.
type ONNXRuntime struct {
	modelDir string
	libPath  string
	mu       sync.Mutex
}

// NewONNXRuntime creates a runtime reading model files from modelDir.
//
// Arguments:
//   - modelDir: Directory holding the ONNX files named by the model registry.
//   - libPath: Path of the ONNX Runtime shared library.
//
// Returns:
//   - *ONNXRuntime: The runtime.
func NewONNXRuntime(modelDir, libPath string) *ONNXRuntime {
	return &ONNXRuntime{modelDir: modelDir, libPath: libPath}
}

func (r *ONNXRuntime) initEnvironment() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if _, err := os.Stat(r.libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", r.libPath)
	}

	ort.SetSharedLibraryPath(r.libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// Load creates a dynamic-shape session for spec on provider.
func (r *ONNXRuntime) Load(
	ctx context.Context,
	spec models.Spec,
	provider providers.ExecutionProvider,
) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := r.initEnvironment(); err != nil {
		return nil, err
	}

	path := spec.Path(r.modelDir)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "model file for %s", spec.ID)
	}

	options, err := providers.NewSessionOptions(provider)
	if err != nil {
		return nil, errors.Wrapf(err, "session options for %s on %s", spec.ID, provider.Backend())
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", spec.ID)
	}

	return &onnxModel{spec: spec, session: session}, nil
}

// Close tears down the native environment. Every model must be closed first.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type onnxModel struct {
	spec    models.Spec
	session *ort.DynamicAdvancedSession
}

// Infer runs the session and copies the matte out of native memory.
func (m *onnxModel) Infer(ctx context.Context, input *preprocess.Tensor) (*Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrapf(err, "error running %s", m.spec.ID)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("%s: unexpected output type %T", m.spec.ID, outputs[0])
	}

	return NewMaskFromOutput(out.GetData(), out.GetShape())
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
