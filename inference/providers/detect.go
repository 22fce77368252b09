// Package providers - Hardware acceleration detection.
package providers

import (
	"fmt"
	"os"
	"runtime"
)

// Capabilities describes the acceleration available to the process.
type Capabilities struct {
	// Accelerated is true when an accelerated backend can be used.
	Accelerated bool `json:"accelerated"`
	// Backend is the best backend available.
	Backend ProviderBackend `json:"backend"`
	// Reason explains how the backend was chosen.
	Reason string `json:"reason"`
}

// Accelerator modes accepted by Resolve.
const (
	AcceleratorAuto = "auto"
	AcceleratorNone = "none"
)

// host abstracts the environment probes so detection can be tested.
type host struct {
	goos   string
	getenv func(string) string
	exists func(string) bool
}

var nvidiaDeviceNodes = []string{"/dev/nvidiactl", "/dev/nvidia0"}

// Detect probes the host for an accelerator.
//
// CoreML is reported on darwin. CUDA is reported when an NVIDIA device node exists or
// CUDA_VISIBLE_DEVICES names a device. Everything else runs on the CPU.
func Detect() Capabilities {
	return host{
		goos:   runtime.GOOS,
		getenv: os.Getenv,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}.detect()
}

func (h host) detect() Capabilities {
	if h.goos == "darwin" {
		return Capabilities{Accelerated: true, Backend: CoreMLProviderBackend, Reason: "darwin host"}
	}

	if devices := h.getenv("CUDA_VISIBLE_DEVICES"); devices != "" && devices != "-1" {
		return Capabilities{Accelerated: true, Backend: CUDAProviderBackend, Reason: "CUDA_VISIBLE_DEVICES=" + devices}
	}

	for _, node := range nvidiaDeviceNodes {
		if h.exists(node) {
			return Capabilities{Accelerated: true, Backend: CUDAProviderBackend, Reason: node}
		}
	}

	return Capabilities{Backend: CPUProviderBackend, Reason: "no accelerator found"}
}

// Resolve turns a configured accelerator mode into capabilities.
//
// Arguments:
//   - mode: "auto" probes the host, "none" forces the CPU, a backend name forces that backend.
//
// Returns:
//   - Capabilities: The resolved capabilities.
//   - error: An error for unknown modes.
func Resolve(mode string) (Capabilities, error) {
	switch mode {
	case "", AcceleratorAuto:
		return Detect(), nil
	case AcceleratorNone:
		return Capabilities{Backend: CPUProviderBackend, Reason: "disabled by configuration"}, nil
	}

	backend, err := ParseBackend(mode)
	if err != nil {
		return Capabilities{}, fmt.Errorf("accelerator mode: %w", err)
	}
	return Capabilities{
		Accelerated: backend.Accelerated(),
		Backend:     backend,
		Reason:      "forced by configuration",
	}, nil
}
