// Package compositor runs the face-priority sort on the GPU against buffers
// owned by a live OpenGL context.
//
// The Manager bootstraps an OpenCL context that shares objects with the GL
// context, builds the three kernel variants and then, once per frame, wraps
// the producer's GL buffers, acquires them, launches one kernel per
// non-empty tier and releases everything behind an explicit event
// dependency list.
//
// Example Usage:
//
//	lib, err := opencl.Open("")
//	if err != nil {
//		return err // no OpenCL runtime, keep the CPU path
//	}
//
//	m, err := compositor.New(lib, glContext)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	// per frame
//	m.BindUniform(uniform)
//	m.BindSceneBuffers(vertices, uvs)
//	m.BindFrameBuffers(tmpVertices, tmpUVs, outVertices, outUVs)
//	m.PushUnordered(len(unordered), unorderedBuffer)
//	m.PushSmall(len(small), smallBuffer)
//	m.PushLarge(len(large), largeBuffer)
//	if err := m.Finish(); err != nil {
//		// output buffers are stale for this frame
//	}
//
// Thread Safety:
//
//	The Manager is driven by the thread that owns the GL context. Methods
//	are serialized internally but frames are never pipelined.
package compositor

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/facesort/pkg/facesort"
	"github.com/orneryd/facesort/pkg/opencl"
)

// Config holds compositor settings.
type Config struct {
	// LargeFacesCeiling caps the large tier's face count (power of two).
	LargeFacesCeiling int

	// DumpKernelSource logs the assembled kernel sources at debug level.
	DumpKernelSource bool
}

// DefaultConfig returns the defaults used when no config is given.
func DefaultConfig() *Config {
	return &Config{
		LargeFacesCeiling: facesort.DefaultLargeFaces,
	}
}

// Option configures New.
type Option func(*options)

type options struct {
	config     *Config
	cache      BinaryCache
	shareGroup ShareGroupFunc
	goos       string
}

// WithConfig sets the compositor configuration.
func WithConfig(c *Config) Option {
	return func(o *options) { o.config = c }
}

// WithBinaryCache reuses compiled programs across runs.
func WithBinaryCache(c BinaryCache) Option {
	return func(o *options) { o.cache = c }
}

// WithShareGroupFunc overrides how the CGL share group is obtained on macOS.
func WithShareGroupFunc(f ShareGroupFunc) Option {
	return func(o *options) { o.shareGroup = f }
}

// WithGOOS overrides the operating system used to pick the context
// handshake.
func WithGOOS(goos string) Option {
	return func(o *options) { o.goos = goos }
}

// Manager owns every native handle of the compositor.
type Manager struct {
	mu      sync.Mutex
	api     opencl.API
	config  *Config
	session uuid.UUID
	log     *slog.Logger

	dev    *device
	shapes Shapes
	reg    *registry
	disp   *dispatcher
	stats  Stats
	closed bool
}

// New bootstraps the shared context and compiles the kernels. The GL context
// must be current on the calling thread. On error every handle created so
// far has been released.
//
// Errors:
//   - ErrPlatformDiscovery: no platform, device or GL sharing support
//   - ErrContextCreation (ErrUnsupportedOS): the GL handshake failed
//   - ErrCompile (*CompileError): a kernel failed to build, with its log
func New(api opencl.API, gl GLContext, opts ...Option) (*Manager, error) {
	o := options{goos: runtime.GOOS}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config == nil {
		o.config = DefaultConfig()
	}

	m := &Manager{
		api:     api,
		config:  o.config,
		session: uuid.New(),
	}
	m.log = Logger().With("session", m.session.String())

	dev, err := bootstrap(api, gl, o.goos, o.shareGroup)
	if err != nil {
		return nil, err
	}

	shapes, err := shapesFor(dev.info, o.config.LargeFacesCeiling)
	if err != nil {
		return nil, errors.Join(err, dev.release(api))
	}

	progs, err := compile(api, dev, shapes, o.cache, o.config.DumpKernelSource)
	if err != nil {
		return nil, errors.Join(err, dev.release(api))
	}

	m.dev = dev
	m.shapes = shapes
	m.reg = newRegistry(api, dev.context, m.log)
	m.disp = &dispatcher{
		api:   api,
		queue: dev.queue,
		reg:   m.reg,
		progs: progs,
		log:   m.log,
		stats: &m.stats,
	}

	m.log.Info("compositor ready",
		"device", dev.info.Name,
		"unordered", shapes.Of(TierUnordered),
		"small", shapes.Of(TierSmall),
		"large", shapes.Of(TierLarge))
	return m, nil
}

// Session identifies this manager in logs.
func (m *Manager) Session() string {
	return m.session.String()
}

// Shapes returns the tier geometry chosen for the device. Producers size
// their model batches with it.
func (m *Manager) Shapes() Shapes {
	return m.shapes
}

// Device describes the compute device.
func (m *Manager) Device() DeviceInfo {
	return m.dev.info
}

// Bound reports whether a slot currently holds a shared buffer.
func (m *Manager) Bound(slot Slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	return m.reg.Bound(slot)
}

func (m *Manager) bindable() error {
	if m.closed {
		return ErrNotInitialized
	}
	if m.disp.frame.inProgress() {
		return &FrameError{Op: "bind", Tier: noTier, Slot: NoSlot, Kind: ErrBufferBind,
			Err: errors.New("shared buffers are acquired, call Finish first")}
	}
	return nil
}

func (m *Manager) afterBind(err error) error {
	m.stats.BindWarnings = m.reg.warnings
	if err != nil {
		m.log.Warn("shared buffer bind failed", "error", err)
	}
	return err
}

// BindUniform shares the camera uniform buffer. An empty buffer leaves the
// slot unbound.
func (m *Manager) BindUniform(buf GLBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.bindable(); err != nil {
		return err
	}
	return m.afterBind(m.reg.bindUniform(buf))
}

// BindSceneBuffers shares the static vertex and uv pools. If either is empty
// both are left unbound.
func (m *Manager) BindSceneBuffers(vertex, uv GLBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.bindable(); err != nil {
		return err
	}
	return m.afterBind(m.reg.bindScene(vertex, uv))
}

// BindFrameBuffers shares the per-frame scratch pools and the output
// arrays. Each vertex/uv pair is skipped on its own if one side is empty.
func (m *Manager) BindFrameBuffers(tmpVertex, tmpUV, outVertex, outUV GLBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.bindable(); err != nil {
		return err
	}
	return m.afterBind(m.reg.bindFrame(tmpVertex, tmpUV, outVertex, outUV))
}

// PushUnordered copies count models of the unordered tier without sorting.
func (m *Manager) PushUnordered(count int, modelBuffer uint32) error {
	return m.push(TierUnordered, count, modelBuffer)
}

// PushSmall sorts count models of the small tier.
func (m *Manager) PushSmall(count int, modelBuffer uint32) error {
	return m.push(TierSmall, count, modelBuffer)
}

// PushLarge sorts count models of the large tier.
func (m *Manager) PushLarge(count int, modelBuffer uint32) error {
	return m.push(TierLarge, count, modelBuffer)
}

func (m *Manager) push(t Tier, count int, modelBuffer uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotInitialized
	}
	return m.disp.push(t, count, modelBuffer)
}

// Finish releases the shared buffers once every launch of the frame is
// done and blocks until the queue is drained. The output buffers are valid
// only after Finish returns nil.
func (m *Manager) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotInitialized
	}
	return m.disp.finish()
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close drains the queue and releases every handle. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.disp.frame.inProgress() {
		errs = append(errs, m.disp.finish())
	} else if err := m.api.Finish(m.dev.queue); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, m.reg.close())
	for _, p := range m.disp.progs {
		if p != nil {
			errs = append(errs, p.release(m.api))
		}
	}
	errs = append(errs, m.dev.release(m.api))

	err := errors.Join(errs...)
	if err != nil {
		m.log.Warn("compositor close", "error", err)
	} else {
		m.log.Info("compositor closed")
	}
	return err
}
