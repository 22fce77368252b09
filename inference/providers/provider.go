// Package providers - ONNX Runtime execution providers and hardware acceleration detection.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents an ONNX Runtime execution provider.
type ProviderBackend string

// Accelerated reports whether the backend runs on dedicated hardware.
func (b ProviderBackend) Accelerated() bool {
	return b == CUDAProviderBackend || b == CoreMLProviderBackend
}

// ParseBackend maps a configuration value to a backend.
func ParseBackend(name string) (ProviderBackend, error) {
	switch b := ProviderBackend(name); b {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported provider backend %q", name)
	}
}

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend returns the backend identifier.
	Backend() ProviderBackend
	// Options returns the provider-specific options.
	Options() ProviderOptions
	// Append registers the provider on the session options.
	Append(options *ort.SessionOptions) error
}

// NewProvider creates a new provider based on the type of its options.
//
// Arguments:
//   - options: The options for the provider.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the options type is not supported.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case CPUOptions:
		return NewCPUProvider(opts), nil
	case CoreMLOptions:
		return NewCoreMLProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider options type: %T", opts)
	}
}

// ForBackend creates a provider for backend with default options.
func ForBackend(backend ProviderBackend) (ExecutionProvider, error) {
	switch backend {
	case CPUProviderBackend:
		return NewCPUProvider(CPUOptions{}), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(CoreMLOptions{}), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(CUDAOptions{}), nil
	default:
		return nil, fmt.Errorf("unsupported provider backend %q", backend)
	}
}
