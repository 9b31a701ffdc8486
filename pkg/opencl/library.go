package opencl

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// OpenCL function pointers (set by registerFunctions)
var (
	clLib  uintptr
	clPath string
	clMu   sync.Mutex
	clErr  error

	clGetPlatformIDs          func(num uint32, platforms *PlatformID, numPlatforms *uint32) Status
	clGetPlatformInfo         func(platform PlatformID, param PlatformInfo, size uintptr, value unsafe.Pointer, sizeRet *uintptr) Status
	clGetDeviceIDs            func(platform PlatformID, kind DeviceType, num uint32, devices *DeviceID, numDevices *uint32) Status
	clGetDeviceInfo           func(device DeviceID, param DeviceInfo, size uintptr, value unsafe.Pointer, sizeRet *uintptr) Status
	clCreateContext           func(props *ContextProperty, numDevices uint32, devices *DeviceID, notify uintptr, userData uintptr, errcode *Status) Context
	clReleaseContext          func(ctx Context) Status
	clCreateCommandQueue      func(ctx Context, device DeviceID, props uint64, errcode *Status) CommandQueue
	clReleaseCommandQueue     func(queue CommandQueue) Status
	clCreateProgramWithSource func(ctx Context, count uint32, strings **byte, lengths *uintptr, errcode *Status) Program
	clCreateProgramWithBinary func(ctx Context, numDevices uint32, devices *DeviceID, lengths *uintptr, binaries **byte, binaryStatus *Status, errcode *Status) Program
	clBuildProgram            func(program Program, numDevices uint32, devices *DeviceID, options string, notify uintptr, userData uintptr) Status
	clGetProgramInfo          func(program Program, param ProgramInfo, size uintptr, value unsafe.Pointer, sizeRet *uintptr) Status
	clGetProgramBuildInfo     func(program Program, device DeviceID, param ProgramBuildInfo, size uintptr, value unsafe.Pointer, sizeRet *uintptr) Status
	clReleaseProgram          func(program Program) Status
	clCreateKernel            func(program Program, name string, errcode *Status) Kernel
	clReleaseKernel           func(kernel Kernel) Status
	clSetKernelArg            func(kernel Kernel, index uint32, size uintptr, value unsafe.Pointer) Status
	clCreateFromGLBuffer      func(ctx Context, flags MemFlags, buffer uint32, errcode *Status) Mem
	clReleaseMemObject        func(mem Mem) Status
	clEnqueueAcquireGLObjects func(queue CommandQueue, numObjects uint32, objects *Mem, numWait uint32, wait *Event, event *Event) Status
	clEnqueueReleaseGLObjects func(queue CommandQueue, numObjects uint32, objects *Mem, numWait uint32, wait *Event, event *Event) Status
	clEnqueueNDRangeKernel    func(queue CommandQueue, kernel Kernel, workDim uint32, offset *uintptr, global *uintptr, local *uintptr, numWait uint32, wait *Event, event *Event) Status
	clFinish                  func(queue CommandQueue) Status
	clReleaseEvent            func(event Event) Status

	// Optional, only exported by the macOS runtime.
	clGetGLContextInfoAPPLE func(ctx Context, glCtx uintptr, param uint32, size uintptr, value unsafe.Pointer, sizeRet *uintptr) Status
)

// initOpenCL loads the runtime once. A failed load is remembered so later
// callers get the same error without probing the filesystem again.
func initOpenCL(path string) error {
	clMu.Lock()
	defer clMu.Unlock()

	if clLib != 0 {
		if path != "" && path != clPath {
			return fmt.Errorf("opencl: library already loaded from %s", clPath)
		}
		return nil
	}

	if clErr != nil {
		return clErr
	}

	lib, loaded, err := loadLibrary(path)
	if err != nil {
		clErr = err
		return err
	}

	if err := registerFunctions(lib); err != nil {
		clErr = err
		return err
	}
	clLib = lib
	clPath = loaded
	return nil
}

type binding struct {
	name     string
	fptr     any
	optional bool
}

func registerFunctions(lib uintptr) error {
	bindings := []binding{
		{"clGetPlatformIDs", &clGetPlatformIDs, false},
		{"clGetPlatformInfo", &clGetPlatformInfo, false},
		{"clGetDeviceIDs", &clGetDeviceIDs, false},
		{"clGetDeviceInfo", &clGetDeviceInfo, false},
		{"clCreateContext", &clCreateContext, false},
		{"clReleaseContext", &clReleaseContext, false},
		{"clCreateCommandQueue", &clCreateCommandQueue, false},
		{"clReleaseCommandQueue", &clReleaseCommandQueue, false},
		{"clCreateProgramWithSource", &clCreateProgramWithSource, false},
		{"clCreateProgramWithBinary", &clCreateProgramWithBinary, false},
		{"clBuildProgram", &clBuildProgram, false},
		{"clGetProgramInfo", &clGetProgramInfo, false},
		{"clGetProgramBuildInfo", &clGetProgramBuildInfo, false},
		{"clReleaseProgram", &clReleaseProgram, false},
		{"clCreateKernel", &clCreateKernel, false},
		{"clReleaseKernel", &clReleaseKernel, false},
		{"clSetKernelArg", &clSetKernelArg, false},
		{"clCreateFromGLBuffer", &clCreateFromGLBuffer, false},
		{"clReleaseMemObject", &clReleaseMemObject, false},
		{"clEnqueueAcquireGLObjects", &clEnqueueAcquireGLObjects, false},
		{"clEnqueueReleaseGLObjects", &clEnqueueReleaseGLObjects, false},
		{"clEnqueueNDRangeKernel", &clEnqueueNDRangeKernel, false},
		{"clFinish", &clFinish, false},
		{"clReleaseEvent", &clReleaseEvent, false},
		{"clGetGLContextInfoAPPLE", &clGetGLContextInfoAPPLE, true},
	}

	for _, b := range bindings {
		sym, err := lookupSymbol(lib, b.name)
		if err != nil || sym == 0 {
			if b.optional {
				continue
			}
			return fmt.Errorf("%w: missing symbol %s", ErrNotAvailable, b.name)
		}
		purego.RegisterFunc(b.fptr, sym)
	}
	return nil
}

// LoadedPath returns the path of the loaded runtime, or "" before Open.
func LoadedPath() string {
	clMu.Lock()
	defer clMu.Unlock()
	return clPath
}
