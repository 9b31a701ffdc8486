package compositor

import "fmt"

// GLKind identifies the windowing system binding of a GL context.
type GLKind int

const (
	GLX GLKind = iota
	WGL
	EGL
	CGL
)

func (k GLKind) String() string {
	switch k {
	case GLX:
		return "glx"
	case WGL:
		return "wgl"
	case EGL:
		return "egl"
	case CGL:
		return "cgl"
	}
	return fmt.Sprintf("GLKind(%d)", int(k))
}

// GLContext is the live graphics context the compute context is shared
// with. The window layer owns it; the compositor only reads its native
// handles.
type GLContext interface {
	// IsCurrent reports whether the context is current on the calling thread.
	IsCurrent() bool
	Kind() GLKind
	// Handle is the native context (GLXContext, HGLRC, EGLContext or
	// CGLContextObj).
	Handle() uintptr
	// Display is the X display, HDC or EGLDisplay. Unused for CGL.
	Display() uintptr
}

// StaticGLContext is a GLContext built from handles obtained elsewhere, for
// window layers that expose raw handles only.
type StaticGLContext struct {
	GLKind        GLKind
	ContextHandle uintptr
	DisplayHandle uintptr
}

func (c StaticGLContext) IsCurrent() bool  { return c.ContextHandle != 0 || c.GLKind == CGL }
func (c StaticGLContext) Kind() GLKind     { return c.GLKind }
func (c StaticGLContext) Handle() uintptr  { return c.ContextHandle }
func (c StaticGLContext) Display() uintptr { return c.DisplayHandle }
