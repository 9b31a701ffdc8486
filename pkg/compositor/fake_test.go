package compositor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/orneryd/facesort/pkg/opencl"
)

type fakePlatform struct {
	name       string
	extensions string
	gpus       int
}

type glCall struct {
	op   string
	objs []opencl.Mem
	wait []opencl.Event
	ev   opencl.Event
}

type launch struct {
	ev     opencl.Event
	kernel opencl.Kernel
	global []uintptr
	local  []uintptr
	wait   []opencl.Event
}

// fakeCL is a recording opencl.API. Every created handle is tracked until
// released, so tests can assert that nothing leaks.
type fakeCL struct {
	mu sync.Mutex

	platforms []fakePlatform
	maxWG     uint64
	localMem  uint64

	next  uintptr
	live  map[uintptr]string // handle -> kind
	freed map[uintptr]int    // handle -> release count

	platformIDs map[opencl.PlatformID]int
	sources     map[opencl.Program]string
	kernelNames map[opencl.Kernel]string
	glHandles   map[opencl.Mem]uint32
	memFlags    map[opencl.Mem]opencl.MemFlags
	args        map[opencl.Kernel]map[uint32]any

	contextProps [][]opencl.ContextProperty
	calls        []string
	glCalls      []glCall
	launches     []launch
	finishes     int

	// fail makes the named method return an error. failOn narrows it to a
	// predicate on the call detail (kernel source, GL handle, ...).
	fail     map[string]opencl.Status
	failOn   map[string]func(detail string) bool
	buildLog string
}

func newFakeCL() *fakeCL {
	return &fakeCL{
		platforms:   []fakePlatform{{name: "Fake", extensions: "cl_khr_icd cl_khr_gl_sharing", gpus: 1}},
		maxWG:       1024,
		localMem:    48 * 1024,
		next:        0x1000,
		live:        map[uintptr]string{},
		freed:       map[uintptr]int{},
		platformIDs: map[opencl.PlatformID]int{},
		sources:     map[opencl.Program]string{},
		kernelNames: map[opencl.Kernel]string{},
		glHandles:   map[opencl.Mem]uint32{},
		memFlags:    map[opencl.Mem]opencl.MemFlags{},
		args:        map[opencl.Kernel]map[uint32]any{},
		fail:        map[string]opencl.Status{},
		failOn:      map[string]func(string) bool{},
		buildLog:    "<kernel>:12:3: error: use of undeclared identifier 'shard'",
	}
}

func (f *fakeCL) alloc(kind string) uintptr {
	f.next += 0x10
	f.live[f.next] = kind
	return f.next
}

func (f *fakeCL) free(op string, h uintptr, kind string) error {
	f.calls = append(f.calls, op)
	if f.live[h] != kind {
		return &opencl.Error{Op: op, Status: opencl.InvalidValue}
	}
	delete(f.live, h)
	f.freed[h]++
	return nil
}

func (f *fakeCL) check(op, detail string) error {
	st, ok := f.fail[op]
	if !ok {
		return nil
	}
	if pred := f.failOn[op]; pred != nil && !pred(detail) {
		return nil
	}
	return &opencl.Error{Op: op, Status: st}
}

// liveOf counts live handles of a kind.
func (f *fakeCL) liveOf(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.live {
		if k == kind {
			n++
		}
	}
	return n
}

func (f *fakeCL) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeCL) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeCL) glCallsOf(op string) []glCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []glCall
	for _, c := range f.glCalls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCL) PlatformIDs() ([]opencl.PlatformID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "PlatformIDs")
	if err := f.check("PlatformIDs", ""); err != nil {
		return nil, err
	}
	ids := make([]opencl.PlatformID, len(f.platforms))
	for i := range f.platforms {
		ids[i] = opencl.PlatformID(0x100 + i)
		f.platformIDs[ids[i]] = i
	}
	return ids, nil
}

func (f *fakeCL) PlatformInfo(p opencl.PlatformID, param opencl.PlatformInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl := f.platforms[f.platformIDs[p]]
	switch param {
	case opencl.PlatformExtensions:
		return pl.extensions, nil
	case opencl.PlatformName:
		return pl.name, nil
	case opencl.PlatformVersion:
		return "OpenCL 1.2 fake", nil
	}
	return "FULL_PROFILE", nil
}

func (f *fakeCL) DeviceIDs(p opencl.PlatformID, kind opencl.DeviceType) ([]opencl.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "DeviceIDs")
	pl := f.platforms[f.platformIDs[p]]
	ids := make([]opencl.DeviceID, pl.gpus)
	for i := range ids {
		ids[i] = opencl.DeviceID(0x200 + i)
	}
	return ids, nil
}

func (f *fakeCL) DeviceInfoString(d opencl.DeviceID, param opencl.DeviceInfo) (string, error) {
	switch param {
	case opencl.DeviceName:
		return "Fake GPU", nil
	case opencl.DeviceVendor:
		return "Fake Vendor", nil
	case opencl.DriverVersion:
		return "1.0", nil
	case opencl.DeviceExtensions:
		return "cl_khr_gl_sharing", nil
	}
	return "OpenCL 1.2", nil
}

func (f *fakeCL) DeviceInfoUint(d opencl.DeviceID, param opencl.DeviceInfo) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch param {
	case opencl.DeviceMaxWorkGroupSize:
		return f.maxWG, nil
	case opencl.DeviceLocalMemSize:
		return f.localMem, nil
	}
	return 0, &opencl.Error{Op: "clGetDeviceInfo", Status: opencl.InvalidValue}
}

func (f *fakeCL) CreateContext(props []opencl.ContextProperty, devices []opencl.DeviceID) (opencl.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateContext")
	f.contextProps = append(f.contextProps, append([]opencl.ContextProperty(nil), props...))
	if err := f.check("CreateContext", ""); err != nil {
		return 0, err
	}
	return opencl.Context(f.alloc("context")), nil
}

func (f *fakeCL) GLContextDeviceApple(ctx opencl.Context) (opencl.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GLContextDeviceApple")
	if err := f.check("GLContextDeviceApple", ""); err != nil {
		return 0, err
	}
	return opencl.DeviceID(0x300), nil
}

func (f *fakeCL) CreateCommandQueue(ctx opencl.Context, d opencl.DeviceID) (opencl.CommandQueue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateCommandQueue")
	if err := f.check("CreateCommandQueue", ""); err != nil {
		return 0, err
	}
	return opencl.CommandQueue(f.alloc("queue")), nil
}

func (f *fakeCL) CreateProgramWithSource(ctx opencl.Context, src string) (opencl.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateProgramWithSource")
	if err := f.check("CreateProgramWithSource", src); err != nil {
		return 0, err
	}
	p := opencl.Program(f.alloc("program"))
	f.sources[p] = src
	return p, nil
}

func (f *fakeCL) CreateProgramWithBinary(ctx opencl.Context, d opencl.DeviceID, bin []byte) (opencl.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateProgramWithBinary")
	if err := f.check("CreateProgramWithBinary", string(bin)); err != nil {
		return 0, err
	}
	p := opencl.Program(f.alloc("program"))
	f.sources[p] = strings.TrimPrefix(string(bin), "bin:")
	return p, nil
}

func (f *fakeCL) BuildProgram(p opencl.Program, d opencl.DeviceID, options string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "BuildProgram")
	return f.check("BuildProgram", f.sources[p])
}

func (f *fakeCL) ProgramBuildLog(p opencl.Program, d opencl.DeviceID) (string, error) {
	return f.buildLog, nil
}

func (f *fakeCL) ProgramBuildStatus(p opencl.Program, d opencl.DeviceID) (opencl.BuildStatus, error) {
	return opencl.BuildSuccess, nil
}

func (f *fakeCL) ProgramBinaryType(p opencl.Program, d opencl.DeviceID) (opencl.BinaryType, error) {
	return opencl.BinaryTypeExecutable, nil
}

func (f *fakeCL) ProgramBinary(p opencl.Program) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte("bin:" + f.sources[p]), nil
}

func (f *fakeCL) KernelNames(p opencl.Program) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, v := range variants {
		if strings.Contains(f.sources[p], "void "+v.name+"(") {
			names = append(names, v.name)
		}
	}
	return names, nil
}

func (f *fakeCL) CreateKernel(p opencl.Program, name string) (opencl.Kernel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateKernel")
	if err := f.check("CreateKernel", name); err != nil {
		return 0, err
	}
	if !strings.Contains(f.sources[p], "void "+name+"(") {
		return 0, &opencl.Error{Op: "clCreateKernel", Status: opencl.InvalidKernelName}
	}
	k := opencl.Kernel(f.alloc("kernel"))
	f.kernelNames[k] = name
	f.args[k] = map[uint32]any{}
	return k, nil
}

func (f *fakeCL) SetKernelArgMem(k opencl.Kernel, index uint32, m opencl.Mem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("SetKernelArgMem", fmt.Sprint(index)); err != nil {
		return err
	}
	f.args[k][index] = m
	return nil
}

func (f *fakeCL) SetKernelArgLocal(k opencl.Kernel, index uint32, size uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args[k][index] = size
	return nil
}

func (f *fakeCL) CreateFromGLBuffer(ctx opencl.Context, flags opencl.MemFlags, buffer uint32) (opencl.Mem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateFromGLBuffer")
	if err := f.check("CreateFromGLBuffer", fmt.Sprint(buffer)); err != nil {
		return 0, err
	}
	m := opencl.Mem(f.alloc("mem"))
	f.glHandles[m] = buffer
	f.memFlags[m] = flags
	return m, nil
}

func (f *fakeCL) enqueueGL(op string, objs []opencl.Mem, wait []opencl.Event) (opencl.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if err := f.check(op, fmt.Sprint(len(objs))); err != nil {
		return 0, err
	}
	for _, m := range objs {
		if f.live[uintptr(m)] != "mem" {
			return 0, &opencl.Error{Op: op, Status: opencl.InvalidMemObject}
		}
	}
	for _, e := range wait {
		if f.live[uintptr(e)] != "event" {
			return 0, &opencl.Error{Op: op, Status: opencl.InvalidEventWaitList}
		}
	}
	ev := opencl.Event(f.alloc("event"))
	f.glCalls = append(f.glCalls, glCall{
		op:   op,
		objs: append([]opencl.Mem(nil), objs...),
		wait: append([]opencl.Event(nil), wait...),
		ev:   ev,
	})
	return ev, nil
}

func (f *fakeCL) EnqueueAcquireGLObjects(q opencl.CommandQueue, objs []opencl.Mem, wait []opencl.Event) (opencl.Event, error) {
	return f.enqueueGL("EnqueueAcquireGLObjects", objs, wait)
}

func (f *fakeCL) EnqueueReleaseGLObjects(q opencl.CommandQueue, objs []opencl.Mem, wait []opencl.Event) (opencl.Event, error) {
	return f.enqueueGL("EnqueueReleaseGLObjects", objs, wait)
}

func (f *fakeCL) EnqueueNDRangeKernel(q opencl.CommandQueue, k opencl.Kernel, global, local []uintptr, wait []opencl.Event) (opencl.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "EnqueueNDRangeKernel")
	if err := f.check("EnqueueNDRangeKernel", f.kernelNames[k]); err != nil {
		return 0, err
	}
	ev := opencl.Event(f.alloc("event"))
	f.launches = append(f.launches, launch{
		ev:     ev,
		kernel: k,
		global: append([]uintptr(nil), global...),
		local:  append([]uintptr(nil), local...),
		wait:   append([]opencl.Event(nil), wait...),
	})
	return ev, nil
}

func (f *fakeCL) Finish(q opencl.CommandQueue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Finish")
	f.finishes++
	return f.check("Finish", "")
}

func (f *fakeCL) ReleaseEvent(e opencl.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseEvent", uintptr(e), "event")
}

func (f *fakeCL) ReleaseMemObject(m opencl.Mem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseMemObject", uintptr(m), "mem")
}

func (f *fakeCL) ReleaseKernel(k opencl.Kernel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseKernel", uintptr(k), "kernel")
}

func (f *fakeCL) ReleaseProgram(p opencl.Program) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseProgram", uintptr(p), "program")
}

func (f *fakeCL) ReleaseCommandQueue(q opencl.CommandQueue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseCommandQueue", uintptr(q), "queue")
}

func (f *fakeCL) ReleaseContext(ctx opencl.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free("ReleaseContext", uintptr(ctx), "context")
}

var _ opencl.API = (*fakeCL)(nil)

// memCache is an in-memory BinaryCache.
type memCache struct {
	entries map[string][]byte
	gets    int
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Key(device, driver, source, options string) []byte {
	return []byte(device + "|" + driver + "|" + options + "|" + source)
}

func (c *memCache) Get(key []byte) ([]byte, bool, error) {
	c.gets++
	b, ok := c.entries[string(key)]
	return b, ok, nil
}

func (c *memCache) Put(key, bin []byte) error {
	c.puts++
	c.entries[string(key)] = bin
	return nil
}

func glxContext() GLContext {
	return StaticGLContext{GLKind: GLX, ContextHandle: 0xC0, DisplayHandle: 0xD0}
}
