//go:build !windows

package opencl

import (
	"fmt"
	"runtime"

	"github.com/ebitengine/purego"
)

func libraryCandidates() []string {
	if runtime.GOOS == "darwin" {
		return []string{
			"/System/Library/Frameworks/OpenCL.framework/OpenCL",
			"/System/Library/Frameworks/OpenCL.framework/Versions/A/OpenCL",
		}
	}
	return []string{
		"libOpenCL.so.1",
		"libOpenCL.so",
		"/usr/lib/x86_64-linux-gnu/libOpenCL.so.1",
		"/usr/lib64/libOpenCL.so.1",
		"/usr/lib/libOpenCL.so.1",
	}
}

func loadLibrary(path string) (uintptr, string, error) {
	candidates := libraryCandidates()
	if path != "" {
		candidates = []string{path}
	}

	var lastErr error
	for _, name := range candidates {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return lib, name, nil
		}
		lastErr = err
	}
	return 0, "", fmt.Errorf("%w: %v", ErrNotAvailable, lastErr)
}

func lookupSymbol(lib uintptr, name string) (uintptr, error) {
	return purego.Dlsym(lib, name)
}
