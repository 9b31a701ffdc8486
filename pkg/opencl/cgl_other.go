//go:build !darwin

package opencl

func currentCGLContext() uintptr { return 0 }

// CGLShareGroup is only meaningful on macOS.
func CGLShareGroup() (uintptr, error) {
	return 0, ErrNotAvailable
}
