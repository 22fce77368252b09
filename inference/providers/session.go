// Package providers - Session options for segmentation models.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// NewSessionOptions creates ONNX Runtime session options with the provider registered.
//
// Order of operations:
//  1. Session options: graph optimization level for the model.
//  2. Execution provider: appends the provider's EP (CUDA, CoreML) or CPU thread settings.
//
// **The caller owns the returned options and must Destroy them.**
//
// Arguments:
//   - provider: The execution provider for the session.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if the provider cannot be registered.
func NewSessionOptions(provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("error setting graph optimization level: %w", err)
	}

	if err := provider.Append(options); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}
