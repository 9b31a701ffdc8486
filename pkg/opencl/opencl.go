// Package opencl provides cgo-free OpenCL 1.2 bindings with OpenGL buffer
// sharing, loaded at runtime through purego.
//
// The library is located from standard locations:
//   - Linux: libOpenCL.so.1 (ICD loader shipped with the GPU driver)
//   - macOS: the system OpenCL framework
//   - Windows: OpenCL.dll (installed by NVIDIA/AMD/Intel drivers)
//
// Only the entry points needed to share GL buffers with a compute context,
// build programs and enqueue kernels are bound. Higher layers talk to the
// runtime through the API interface so they can be exercised without a GPU.
package opencl

import (
	"errors"
	"fmt"
)

// Handle types. All of them are opaque pointers owned by the driver.
type (
	PlatformID   uintptr
	DeviceID     uintptr
	Context      uintptr
	CommandQueue uintptr
	Program      uintptr
	Kernel       uintptr
	Mem          uintptr
	Event        uintptr
)

// DeviceType selects devices by class.
type DeviceType uint64

// MemFlags describe how a kernel accesses a memory object.
type MemFlags uint64

// PlatformInfo, DeviceInfo, ProgramInfo and ProgramBuildInfo are query keys.
type (
	PlatformInfo     uint32
	DeviceInfo       uint32
	ProgramInfo      uint32
	ProgramBuildInfo uint32
)

// ContextProperty is a key or value in a zero-terminated property list.
type ContextProperty uintptr

// BuildStatus is the result of the last build of a program for a device.
type BuildStatus int32

// BinaryType describes the kind of binary held by a program.
type BinaryType uint32

const (
	DeviceTypeDefault DeviceType = 1 << 0
	DeviceTypeCPU     DeviceType = 1 << 1
	DeviceTypeGPU     DeviceType = 1 << 2
	DeviceTypeAll     DeviceType = 0xFFFFFFFF
)

const (
	MemReadWrite MemFlags = 1 << 0
	MemWriteOnly MemFlags = 1 << 1
	MemReadOnly  MemFlags = 1 << 2
)

const (
	PlatformProfile    PlatformInfo = 0x0900
	PlatformVersion    PlatformInfo = 0x0901
	PlatformName       PlatformInfo = 0x0902
	PlatformVendor     PlatformInfo = 0x0903
	PlatformExtensions PlatformInfo = 0x0904
)

const (
	DeviceMaxWorkGroupSize DeviceInfo = 0x1004
	DeviceLocalMemSize     DeviceInfo = 0x1023
	DeviceName             DeviceInfo = 0x102B
	DeviceVendor           DeviceInfo = 0x102C
	DriverVersion          DeviceInfo = 0x102D
	DeviceVersion          DeviceInfo = 0x102F
	DeviceExtensions       DeviceInfo = 0x1030
)

const (
	ProgramBinarySizes ProgramInfo = 0x1165
	ProgramBinaries    ProgramInfo = 0x1166
	ProgramNumKernels  ProgramInfo = 0x1167
	ProgramKernelNames ProgramInfo = 0x1168
)

const (
	ProgramBuildStatus  ProgramBuildInfo = 0x1181
	ProgramBuildOptions ProgramBuildInfo = 0x1182
	ProgramBuildLog     ProgramBuildInfo = 0x1183
	ProgramBinaryType   ProgramBuildInfo = 0x1184
)

const (
	BuildSuccess    BuildStatus = 0
	BuildNone       BuildStatus = -1
	BuildError      BuildStatus = -2
	BuildInProgress BuildStatus = -3
)

const (
	BinaryTypeNone           BinaryType = 0
	BinaryTypeCompiledObject BinaryType = 1
	BinaryTypeLibrary        BinaryType = 2
	BinaryTypeExecutable     BinaryType = 4
)

// Context properties, including the GL sharing keys from cl_khr_gl_sharing
// and cl_APPLE_gl_sharing.
const (
	ContextPlatform                      ContextProperty = 0x1084
	GLContextKHR                         ContextProperty = 0x2008
	EGLDisplayKHR                        ContextProperty = 0x2009
	GLXDisplayKHR                        ContextProperty = 0x200A
	WGLHDCKHR                            ContextProperty = 0x200B
	CGLSharegroupKHR                     ContextProperty = 0x200C
	ContextPropertyUseCGLSharegroupAPPLE ContextProperty = 0x10000000
)

// CGLDeviceForCurrentVirtualScreenAPPLE is the clGetGLContextInfoAPPLE query
// returning the device driving the current virtual screen.
const CGLDeviceForCurrentVirtualScreenAPPLE uint32 = 0x10000002

// Platform extension names advertising GL buffer sharing.
const (
	ExtGLSharing      = "cl_khr_gl_sharing"
	ExtAppleGLSharing = "cl_APPLE_gl_sharing"
)

// Errors
var (
	ErrNotAvailable = errors.New("opencl: OpenCL is not available (library not found)")
	ErrNotLoaded    = errors.New("opencl: library not loaded")
	ErrCL           = errors.New("opencl: call failed")
)

// Error is a failed OpenCL call.
type Error struct {
	Op     string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("opencl: %s: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// Is reports ErrCL for every failed call so callers can test the category.
func (e *Error) Is(target error) bool {
	return target == ErrCL
}

// check converts a status into an error.
func check(op string, st Status) error {
	if st == Success {
		return nil
	}
	return &Error{Op: op, Status: st}
}

// StatusOf extracts the OpenCL status code from err, if any.
func StatusOf(err error) (Status, bool) {
	var clErr *Error
	if errors.As(err, &clErr) {
		return clErr.Status, true
	}
	return Success, false
}
