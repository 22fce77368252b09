// Package providers - CPU based execution provider.
package providers

import ort "github.com/yalue/onnxruntime_go"

const (
	// CPUProviderBackend is the default ONNX Runtime backend, available everywhere.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions contains arguments for the CPU provider.
type CPUOptions struct {
	// IntraOpThreads bounds parallelism inside a node. Zero lets the runtime decide.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intraOpThreads" mapstructure:"intra_op_threads"`
	// InterOpThreads bounds parallelism across independent nodes. Zero lets the runtime decide.
	InterOpThreads int `json:"interOpThreads" yaml:"interOpThreads" mapstructure:"inter_op_threads"`
}

func (CPUOptions) isProviderOptions() {}

// CPUProvider implements the ExecutionProvider interface.
type CPUProvider struct {
	options CPUOptions
}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider(options CPUOptions) *CPUProvider {
	return &CPUProvider{options: options}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return p.options
}

// Append applies the thread settings. The CPU provider itself is always registered.
func (p *CPUProvider) Append(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(p.options.IntraOpThreads); err != nil {
		return err
	}
	return options.SetInterOpNumThreads(p.options.InterOpThreads)
}
