// Package inference - Segmentation runtime boundary: loading models and inferring alpha mattes.
package inference

import (
	"context"

	"github.com/nvr-ai/go-rembg/inference/providers"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/models/preprocess"
)

// Model runs a loaded segmentation network.
type Model interface {
	// Infer returns the alpha matte predicted for the input tensor.
	Infer(ctx context.Context, input *preprocess.Tensor) (*Mask, error)
	// Close releases the native resources of the model.
	Close() error
}

// Runtime loads segmentation models onto an execution provider.
type Runtime interface {
	// Load creates a runnable model for spec on the given provider.
	Load(ctx context.Context, spec models.Spec, provider providers.ExecutionProvider) (Model, error)
}

// Pair is a loaded model together with the preprocessor matching its input.
type Pair struct {
	// Spec is the configuration record of the loaded model.
	Spec models.Spec
	// Backend is the execution provider the model runs on.
	Backend providers.ProviderBackend
	// Model is the runnable network.
	Model Model
	// Processor converts images into the model input.
	Processor *preprocess.Preprocessor
}

// NewPair loads spec on provider and builds the matching preprocessor.
//
// Arguments:
//   - ctx: The context for the load.
//   - runtime: The runtime used to load the model.
//   - spec: The model to load.
//   - provider: The execution provider.
//
// Returns:
//   - *Pair: The loaded pair.
//   - error: An error if the preprocessor config is invalid or the model fails to load.
func NewPair(
	ctx context.Context,
	runtime Runtime,
	spec models.Spec,
	provider providers.ExecutionProvider,
) (*Pair, error) {
	processor, err := preprocess.New(spec.Preprocess)
	if err != nil {
		return nil, err
	}

	model, err := runtime.Load(ctx, spec, provider)
	if err != nil {
		return nil, err
	}

	return &Pair{
		Spec:      spec,
		Backend:   provider.Backend(),
		Model:     model,
		Processor: processor,
	}, nil
}

// Close releases the model of the pair.
func (p *Pair) Close() error {
	if p == nil || p.Model == nil {
		return nil
	}
	return p.Model.Close()
}
