//go:build windows

package opencl

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func loadLibrary(path string) (uintptr, string, error) {
	if path == "" {
		path = "OpenCL.dll"
	}
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	return uintptr(h), path, nil
}

func lookupSymbol(lib uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(lib), name)
}
