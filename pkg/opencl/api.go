package opencl

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unsafe"
)

// API is the subset of the OpenCL runtime used by the compositor. *Library
// implements it against the real driver.
type API interface {
	PlatformIDs() ([]PlatformID, error)
	PlatformInfo(p PlatformID, param PlatformInfo) (string, error)
	DeviceIDs(p PlatformID, kind DeviceType) ([]DeviceID, error)
	DeviceInfoString(d DeviceID, param DeviceInfo) (string, error)
	DeviceInfoUint(d DeviceID, param DeviceInfo) (uint64, error)

	CreateContext(props []ContextProperty, devices []DeviceID) (Context, error)
	GLContextDeviceApple(ctx Context) (DeviceID, error)
	CreateCommandQueue(ctx Context, d DeviceID) (CommandQueue, error)

	CreateProgramWithSource(ctx Context, src string) (Program, error)
	CreateProgramWithBinary(ctx Context, d DeviceID, bin []byte) (Program, error)
	BuildProgram(p Program, d DeviceID, options string) error
	ProgramBuildLog(p Program, d DeviceID) (string, error)
	ProgramBuildStatus(p Program, d DeviceID) (BuildStatus, error)
	ProgramBinaryType(p Program, d DeviceID) (BinaryType, error)
	ProgramBinary(p Program) ([]byte, error)
	KernelNames(p Program) ([]string, error)
	CreateKernel(p Program, name string) (Kernel, error)
	SetKernelArgMem(k Kernel, index uint32, m Mem) error
	SetKernelArgLocal(k Kernel, index uint32, size uintptr) error

	CreateFromGLBuffer(ctx Context, flags MemFlags, buffer uint32) (Mem, error)
	EnqueueAcquireGLObjects(q CommandQueue, objs []Mem, wait []Event) (Event, error)
	EnqueueReleaseGLObjects(q CommandQueue, objs []Mem, wait []Event) (Event, error)
	EnqueueNDRangeKernel(q CommandQueue, k Kernel, global, local []uintptr, wait []Event) (Event, error)
	Finish(q CommandQueue) error

	ReleaseEvent(e Event) error
	ReleaseMemObject(m Mem) error
	ReleaseKernel(k Kernel) error
	ReleaseProgram(p Program) error
	ReleaseCommandQueue(q CommandQueue) error
	ReleaseContext(ctx Context) error
}

// Library is the API backed by the dynamically loaded OpenCL runtime.
type Library struct {
	path string
}

var _ API = (*Library)(nil)

// Open loads the OpenCL runtime. An empty path searches the platform's
// standard locations. The runtime is process-wide: opening it twice returns
// a handle to the same library.
func Open(path string) (*Library, error) {
	if err := initOpenCL(path); err != nil {
		return nil, err
	}
	return &Library{path: LoadedPath()}, nil
}

// IsAvailable reports whether an OpenCL runtime with at least one platform
// can be loaded.
func IsAvailable() bool {
	lib, err := Open("")
	if err != nil {
		return false
	}
	ids, err := lib.PlatformIDs()
	return err == nil && len(ids) > 0
}

// Path returns where the runtime was loaded from.
func (l *Library) Path() string { return l.path }

func (l *Library) PlatformIDs() ([]PlatformID, error) {
	var n uint32
	if st := clGetPlatformIDs(0, nil, &n); st == PlatformNotFoundKHR {
		return nil, nil
	} else if err := check("clGetPlatformIDs", st); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ids := make([]PlatformID, n)
	if err := check("clGetPlatformIDs", clGetPlatformIDs(n, &ids[0], nil)); err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Library) PlatformInfo(p PlatformID, param PlatformInfo) (string, error) {
	var size uintptr
	if err := check("clGetPlatformInfo", clGetPlatformInfo(p, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check("clGetPlatformInfo", clGetPlatformInfo(p, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return cString(buf), nil
}

func (l *Library) DeviceIDs(p PlatformID, kind DeviceType) ([]DeviceID, error) {
	var n uint32
	if st := clGetDeviceIDs(p, kind, 0, nil, &n); st == DeviceNotFound {
		return nil, nil
	} else if err := check("clGetDeviceIDs", st); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ids := make([]DeviceID, n)
	if err := check("clGetDeviceIDs", clGetDeviceIDs(p, kind, n, &ids[0], nil)); err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Library) DeviceInfoString(d DeviceID, param DeviceInfo) (string, error) {
	var size uintptr
	if err := check("clGetDeviceInfo", clGetDeviceInfo(d, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check("clGetDeviceInfo", clGetDeviceInfo(d, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return cString(buf), nil
}

// DeviceInfoUint reads a size_t or cl_ulong device property.
func (l *Library) DeviceInfoUint(d DeviceID, param DeviceInfo) (uint64, error) {
	var buf [8]byte
	var size uintptr
	if err := check("clGetDeviceInfo", clGetDeviceInfo(d, param, uintptr(len(buf)), unsafe.Pointer(&buf[0]), &size)); err != nil {
		return 0, err
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:4])), nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// CreateContext builds a context from a property list. The list is
// terminated here, callers pass key/value pairs only.
func (l *Library) CreateContext(props []ContextProperty, devices []DeviceID) (Context, error) {
	list := make([]ContextProperty, 0, len(props)+1)
	list = append(list, props...)
	list = append(list, 0)

	var devPtr *DeviceID
	if len(devices) > 0 {
		devPtr = &devices[0]
	}
	var st Status
	ctx := clCreateContext(&list[0], uint32(len(devices)), devPtr, 0, 0, &st)
	if err := check("clCreateContext", st); err != nil {
		return 0, err
	}
	return ctx, nil
}

// GLContextDeviceApple asks the macOS runtime which device drives the
// current virtual screen of the context's share group.
func (l *Library) GLContextDeviceApple(ctx Context) (DeviceID, error) {
	if clGetGLContextInfoAPPLE == nil {
		return 0, &Error{Op: "clGetGLContextInfoAPPLE", Status: InvalidOperation}
	}
	var d DeviceID
	st := clGetGLContextInfoAPPLE(ctx, currentCGLContext(), CGLDeviceForCurrentVirtualScreenAPPLE,
		unsafe.Sizeof(d), unsafe.Pointer(&d), nil)
	if err := check("clGetGLContextInfoAPPLE", st); err != nil {
		return 0, err
	}
	return d, nil
}

func (l *Library) CreateCommandQueue(ctx Context, d DeviceID) (CommandQueue, error) {
	var st Status
	q := clCreateCommandQueue(ctx, d, 0, &st)
	if err := check("clCreateCommandQueue", st); err != nil {
		return 0, err
	}
	return q, nil
}

func (l *Library) CreateProgramWithSource(ctx Context, src string) (Program, error) {
	buf := []byte(src)
	if len(buf) == 0 {
		return 0, &Error{Op: "clCreateProgramWithSource", Status: InvalidValue}
	}
	ptr := &buf[0]
	length := uintptr(len(buf))
	var st Status
	p := clCreateProgramWithSource(ctx, 1, &ptr, &length, &st)
	if err := check("clCreateProgramWithSource", st); err != nil {
		return 0, err
	}
	return p, nil
}

func (l *Library) CreateProgramWithBinary(ctx Context, d DeviceID, bin []byte) (Program, error) {
	if len(bin) == 0 {
		return 0, &Error{Op: "clCreateProgramWithBinary", Status: InvalidBinary}
	}
	ptr := &bin[0]
	length := uintptr(len(bin))
	var binSt, st Status
	p := clCreateProgramWithBinary(ctx, 1, &d, &length, &ptr, &binSt, &st)
	if err := check("clCreateProgramWithBinary", st); err != nil {
		return 0, err
	}
	if err := check("clCreateProgramWithBinary", binSt); err != nil {
		clReleaseProgram(p)
		return 0, err
	}
	return p, nil
}

func (l *Library) BuildProgram(p Program, d DeviceID, options string) error {
	return check("clBuildProgram", clBuildProgram(p, 1, &d, options, 0, 0))
}

func (l *Library) ProgramBuildLog(p Program, d DeviceID) (string, error) {
	var size uintptr
	if err := check("clGetProgramBuildInfo", clGetProgramBuildInfo(p, d, ProgramBuildLog, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check("clGetProgramBuildInfo", clGetProgramBuildInfo(p, d, ProgramBuildLog, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return cString(buf), nil
}

func (l *Library) ProgramBuildStatus(p Program, d DeviceID) (BuildStatus, error) {
	var s BuildStatus
	st := clGetProgramBuildInfo(p, d, ProgramBuildStatus, unsafe.Sizeof(s), unsafe.Pointer(&s), nil)
	return s, check("clGetProgramBuildInfo", st)
}

func (l *Library) ProgramBinaryType(p Program, d DeviceID) (BinaryType, error) {
	var t BinaryType
	st := clGetProgramBuildInfo(p, d, ProgramBinaryType, unsafe.Sizeof(t), unsafe.Pointer(&t), nil)
	return t, check("clGetProgramBuildInfo", st)
}

// ProgramBinary returns the executable built for the program's only device.
func (l *Library) ProgramBinary(p Program) ([]byte, error) {
	var size uintptr
	if err := check("clGetProgramInfo", clGetProgramInfo(p, ProgramBinarySizes, unsafe.Sizeof(size), unsafe.Pointer(&size), nil)); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	bin := make([]byte, size)
	ptr := &bin[0]
	if err := check("clGetProgramInfo", clGetProgramInfo(p, ProgramBinaries, unsafe.Sizeof(ptr), unsafe.Pointer(&ptr), nil)); err != nil {
		return nil, err
	}
	return bin, nil
}

func (l *Library) KernelNames(p Program) ([]string, error) {
	var size uintptr
	if err := check("clGetProgramInfo", clGetProgramInfo(p, ProgramKernelNames, 0, nil, &size)); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if err := check("clGetProgramInfo", clGetProgramInfo(p, ProgramKernelNames, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return nil, err
	}
	names := cString(buf)
	if names == "" {
		return nil, nil
	}
	return strings.Split(names, ";"), nil
}

func (l *Library) CreateKernel(p Program, name string) (Kernel, error) {
	var st Status
	k := clCreateKernel(p, name, &st)
	if err := check("clCreateKernel("+name+")", st); err != nil {
		return 0, err
	}
	return k, nil
}

func (l *Library) SetKernelArgMem(k Kernel, index uint32, m Mem) error {
	return check("clSetKernelArg", clSetKernelArg(k, index, unsafe.Sizeof(m), unsafe.Pointer(&m)))
}

// SetKernelArgLocal reserves size bytes of __local memory for the argument.
func (l *Library) SetKernelArgLocal(k Kernel, index uint32, size uintptr) error {
	return check("clSetKernelArg", clSetKernelArg(k, index, size, nil))
}

func (l *Library) CreateFromGLBuffer(ctx Context, flags MemFlags, buffer uint32) (Mem, error) {
	var st Status
	m := clCreateFromGLBuffer(ctx, flags, buffer, &st)
	if err := check("clCreateFromGLBuffer", st); err != nil {
		return 0, err
	}
	return m, nil
}

func (l *Library) EnqueueAcquireGLObjects(q CommandQueue, objs []Mem, wait []Event) (Event, error) {
	var ev Event
	objPtr, n := memList(objs)
	waitPtr, nw := eventList(wait)
	st := clEnqueueAcquireGLObjects(q, n, objPtr, nw, waitPtr, &ev)
	if err := check("clEnqueueAcquireGLObjects", st); err != nil {
		return 0, err
	}
	return ev, nil
}

func (l *Library) EnqueueReleaseGLObjects(q CommandQueue, objs []Mem, wait []Event) (Event, error) {
	var ev Event
	objPtr, n := memList(objs)
	waitPtr, nw := eventList(wait)
	st := clEnqueueReleaseGLObjects(q, n, objPtr, nw, waitPtr, &ev)
	if err := check("clEnqueueReleaseGLObjects", st); err != nil {
		return 0, err
	}
	return ev, nil
}

func (l *Library) EnqueueNDRangeKernel(q CommandQueue, k Kernel, global, local []uintptr, wait []Event) (Event, error) {
	if len(global) == 0 || (len(local) != 0 && len(local) != len(global)) {
		return 0, &Error{Op: "clEnqueueNDRangeKernel", Status: InvalidWorkDimension}
	}
	var localPtr *uintptr
	if len(local) > 0 {
		localPtr = &local[0]
	}
	var ev Event
	waitPtr, nw := eventList(wait)
	st := clEnqueueNDRangeKernel(q, k, uint32(len(global)), nil, &global[0], localPtr, nw, waitPtr, &ev)
	if err := check("clEnqueueNDRangeKernel", st); err != nil {
		return 0, err
	}
	return ev, nil
}

func (l *Library) Finish(q CommandQueue) error {
	return check("clFinish", clFinish(q))
}

func (l *Library) ReleaseEvent(e Event) error {
	return check("clReleaseEvent", clReleaseEvent(e))
}

func (l *Library) ReleaseMemObject(m Mem) error {
	return check("clReleaseMemObject", clReleaseMemObject(m))
}

func (l *Library) ReleaseKernel(k Kernel) error {
	return check("clReleaseKernel", clReleaseKernel(k))
}

func (l *Library) ReleaseProgram(p Program) error {
	return check("clReleaseProgram", clReleaseProgram(p))
}

func (l *Library) ReleaseCommandQueue(q CommandQueue) error {
	return check("clReleaseCommandQueue", clReleaseCommandQueue(q))
}

func (l *Library) ReleaseContext(ctx Context) error {
	return check("clReleaseContext", clReleaseContext(ctx))
}

func memList(objs []Mem) (*Mem, uint32) {
	if len(objs) == 0 {
		return nil, 0
	}
	return &objs[0], uint32(len(objs))
}

func eventList(events []Event) (*Event, uint32) {
	if len(events) == 0 {
		return nil, 0
	}
	return &events[0], uint32(len(events))
}

// cString trims a NUL-terminated driver string.
func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return strings.TrimSpace(string(buf))
}

// HasExtension reports whether a space-separated extension list names ext.
func HasExtension(list, ext string) bool {
	for _, e := range strings.Fields(list) {
		if e == ext {
			return true
		}
	}
	return false
}
