package compositor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orneryd/facesort/pkg/opencl"
)

// ShareGroupFunc returns the CGL share group of the current GL context.
type ShareGroupFunc func() (uintptr, error)

// contextStrategy creates a compute context bound to the live GL context.
// Each platform family has its own handshake; the rest of the package never
// sees window-system handles.
type contextStrategy interface {
	name() string
	createContext(api opencl.API, platform opencl.PlatformID, gl GLContext) (opencl.Context, opencl.DeviceID, error)
}

// strategyFor selects the handshake for an operating system.
func strategyFor(goos string, shareGroup ShareGroupFunc) (contextStrategy, error) {
	switch goos {
	case "linux", "windows":
		return khrStrategy{}, nil
	case "darwin":
		if shareGroup == nil {
			shareGroup = opencl.CGLShareGroup
		}
		return appleStrategy{shareGroup: shareGroup}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
}

// khrStrategy passes the GL context and display through cl_khr_gl_sharing
// context properties.
type khrStrategy struct{}

func (khrStrategy) name() string { return "khr" }

func (khrStrategy) createContext(api opencl.API, platform opencl.PlatformID, gl GLContext) (opencl.Context, opencl.DeviceID, error) {
	devices, err := api.DeviceIDs(platform, opencl.DeviceTypeGPU)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrPlatformDiscovery, err)
	}
	if len(devices) == 0 {
		return 0, 0, fmt.Errorf("%w: platform has no GPU device", ErrPlatformDiscovery)
	}
	device := devices[0]
	logDevice(api, device)

	if !gl.IsCurrent() {
		return 0, 0, fmt.Errorf("%w: GL context is not current", ErrContextCreation)
	}

	props := []opencl.ContextProperty{
		opencl.ContextPlatform, opencl.ContextProperty(platform),
		opencl.GLContextKHR, opencl.ContextProperty(gl.Handle()),
	}
	switch gl.Kind() {
	case GLX:
		props = append(props, opencl.GLXDisplayKHR, opencl.ContextProperty(gl.Display()))
	case WGL:
		props = append(props, opencl.WGLHDCKHR, opencl.ContextProperty(gl.Display()))
	case EGL:
		props = append(props, opencl.EGLDisplayKHR, opencl.ContextProperty(gl.Display()))
	default:
		return 0, 0, fmt.Errorf("%w: %s context cannot be shared through cl_khr_gl_sharing", ErrContextCreation, gl.Kind())
	}

	ctx, err := api.CreateContext(props, []opencl.DeviceID{device})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrContextCreation, err)
	}
	return ctx, device, nil
}

// appleStrategy creates the context from the CGL share group and reads the
// device back, since the platform does not expose the GL device up front.
type appleStrategy struct {
	shareGroup ShareGroupFunc
}

func (appleStrategy) name() string { return "apple" }

func (s appleStrategy) createContext(api opencl.API, _ opencl.PlatformID, gl GLContext) (opencl.Context, opencl.DeviceID, error) {
	if !gl.IsCurrent() {
		return 0, 0, fmt.Errorf("%w: GL context is not current", ErrContextCreation)
	}
	group, err := s.shareGroup()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: share group: %w", ErrContextCreation, err)
	}
	if group == 0 {
		return 0, 0, fmt.Errorf("%w: no CGL share group", ErrContextCreation)
	}

	props := []opencl.ContextProperty{
		opencl.ContextPropertyUseCGLSharegroupAPPLE, opencl.ContextProperty(group),
	}
	ctx, err := api.CreateContext(props, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrContextCreation, err)
	}

	device, err := api.GLContextDeviceApple(ctx)
	if err != nil {
		err = fmt.Errorf("%w: device for current virtual screen: %w", ErrContextCreation, err)
		return 0, 0, errors.Join(err, api.ReleaseContext(ctx))
	}
	logDevice(api, device)
	return ctx, device, nil
}

func logDevice(api opencl.API, device opencl.DeviceID) {
	log := Logger()
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	ext, _ := api.DeviceInfoString(device, opencl.DeviceExtensions)
	maxWG, _ := api.DeviceInfoUint(device, opencl.DeviceMaxWorkGroupSize)
	log.Debug("opencl device", "extensions", ext, "max_work_group_size", maxWG)
}
