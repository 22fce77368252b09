// Package providers - Utility functions.
package providers

import (
	"os"
	"runtime"
)

// SharedLibraryEnv overrides the ONNX Runtime shared library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath returns the path to the ONNX Runtime shared library.
//
// Arguments:
//   - configured: An explicit path from configuration. Empty falls back to the environment and
//     then to the platform default.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(SharedLibraryEnv); env != "" {
		return env
	}
	return defaultSharedLibPath(runtime.GOOS, runtime.GOARCH)
}

func defaultSharedLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
