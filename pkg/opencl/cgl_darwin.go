//go:build darwin

package opencl

import (
	"sync"

	"github.com/ebitengine/purego"
)

const openGLFramework = "/System/Library/Frameworks/OpenGL.framework/OpenGL"

var (
	cglOnce sync.Once
	cglErr  error

	cglGetCurrentContext func() uintptr
	cglGetShareGroup     func(ctx uintptr) uintptr
)

func loadCGL() error {
	cglOnce.Do(func() {
		lib, err := purego.Dlopen(openGLFramework, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			cglErr = err
			return
		}
		purego.RegisterLibFunc(&cglGetCurrentContext, lib, "CGLGetCurrentContext")
		purego.RegisterLibFunc(&cglGetShareGroup, lib, "CGLGetShareGroup")
	})
	return cglErr
}

func currentCGLContext() uintptr {
	if loadCGL() != nil {
		return 0
	}
	return cglGetCurrentContext()
}

// CGLShareGroup returns the share group of the calling thread's current CGL
// context, or 0 when no context is current.
func CGLShareGroup() (uintptr, error) {
	if err := loadCGL(); err != nil {
		return 0, err
	}
	ctx := cglGetCurrentContext()
	if ctx == 0 {
		return 0, nil
	}
	return cglGetShareGroup(ctx), nil
}
