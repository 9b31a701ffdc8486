package compositor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orneryd/facesort/pkg/facesort"
	"github.com/orneryd/facesort/pkg/opencl"
)

// DeviceInfo describes the compute device the compositor runs on.
type DeviceInfo struct {
	Platform         string
	PlatformVersion  string
	Name             string
	Vendor           string
	Version          string
	DriverVersion    string
	Sharing          string // GL sharing extension of the platform
	Strategy         string
	MaxWorkGroupSize int
	LocalMemSize     uint64
}

// device owns the context and queue created at startup.
type device struct {
	platform opencl.PlatformID
	id       opencl.DeviceID
	context  opencl.Context
	queue    opencl.CommandQueue
	info     DeviceInfo
}

func (d *device) release(api opencl.API) error {
	var errs []error
	if d.queue != 0 {
		errs = append(errs, api.ReleaseCommandQueue(d.queue))
		d.queue = 0
	}
	if d.context != 0 {
		errs = append(errs, api.ReleaseContext(d.context))
		d.context = 0
	}
	return errors.Join(errs...)
}

// bootstrap selects a GL sharing platform, creates the shared context with
// the OS strategy and an in-order queue. Everything created before a failing
// step is released.
func bootstrap(api opencl.API, gl GLContext, goos string, shareGroup ShareGroupFunc) (_ *device, err error) {
	platform, sharing, err := selectPlatform(api)
	if err != nil {
		return nil, err
	}

	strat, err := strategyFor(goos, shareGroup)
	if err != nil {
		return nil, err
	}

	ctx, id, err := strat.createContext(api, platform, gl)
	if err != nil {
		return nil, err
	}
	d := &device{platform: platform, id: id, context: ctx}
	defer func() {
		if err != nil {
			err = errors.Join(err, d.release(api))
		}
	}()

	d.queue, err = api.CreateCommandQueue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: command queue: %w", ErrContextCreation, err)
	}

	d.info, err = queryDevice(api, platform, id)
	if err != nil {
		return nil, err
	}
	d.info.Sharing = sharing
	d.info.Strategy = strat.name()

	Logger().Info("opencl device selected",
		"platform", d.info.Platform,
		"device", d.info.Name,
		"vendor", d.info.Vendor,
		"version", d.info.Version,
		"driver", d.info.DriverVersion,
		"sharing", sharing,
		"strategy", strat.name())
	return d, nil
}

// selectPlatform returns the first platform advertising GL buffer sharing.
func selectPlatform(api opencl.API) (opencl.PlatformID, string, error) {
	platforms, err := api.PlatformIDs()
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrPlatformDiscovery, err)
	}
	if len(platforms) == 0 {
		return 0, "", fmt.Errorf("%w: no OpenCL platforms", ErrPlatformDiscovery)
	}

	log := Logger()
	for _, p := range platforms {
		ext, err := api.PlatformInfo(p, opencl.PlatformExtensions)
		if err != nil {
			log.Warn("opencl platform query failed", "error", err)
			continue
		}
		if log.Enabled(context.Background(), slog.LevelDebug) {
			profile, _ := api.PlatformInfo(p, opencl.PlatformProfile)
			version, _ := api.PlatformInfo(p, opencl.PlatformVersion)
			name, _ := api.PlatformInfo(p, opencl.PlatformName)
			vendor, _ := api.PlatformInfo(p, opencl.PlatformVendor)
			log.Debug("opencl platform",
				"profile", profile, "version", version, "name", name, "vendor", vendor, "extensions", ext)
		}

		switch {
		case opencl.HasExtension(ext, opencl.ExtGLSharing):
			return p, opencl.ExtGLSharing, nil
		case opencl.HasExtension(ext, opencl.ExtAppleGLSharing):
			return p, opencl.ExtAppleGLSharing, nil
		}
	}
	return 0, "", fmt.Errorf("%w: no platform supports %s or %s",
		ErrPlatformDiscovery, opencl.ExtGLSharing, opencl.ExtAppleGLSharing)
}

func queryDevice(api opencl.API, platform opencl.PlatformID, id opencl.DeviceID) (DeviceInfo, error) {
	var info DeviceInfo
	info.Platform, _ = api.PlatformInfo(platform, opencl.PlatformName)
	info.PlatformVersion, _ = api.PlatformInfo(platform, opencl.PlatformVersion)
	info.Name, _ = api.DeviceInfoString(id, opencl.DeviceName)
	info.Vendor, _ = api.DeviceInfoString(id, opencl.DeviceVendor)
	info.Version, _ = api.DeviceInfoString(id, opencl.DeviceVersion)
	info.DriverVersion, _ = api.DeviceInfoString(id, opencl.DriverVersion)

	maxWG, err := api.DeviceInfoUint(id, opencl.DeviceMaxWorkGroupSize)
	if err != nil {
		return info, fmt.Errorf("%w: max work-group size: %w", ErrPlatformDiscovery, err)
	}
	info.MaxWorkGroupSize = int(maxWG)
	info.LocalMemSize, _ = api.DeviceInfoUint(id, opencl.DeviceLocalMemSize)
	return info, nil
}

// shapesFor sizes the tiers for the device. The large tier shrinks until its
// scratch block fits in local memory.
func shapesFor(info DeviceInfo, ceiling int) (Shapes, error) {
	shapes, err := facesort.DeriveShapes(info.MaxWorkGroupSize, ceiling)
	if err != nil {
		return Shapes{}, fmt.Errorf("%w: %w", ErrPlatformDiscovery, err)
	}
	if info.LocalMemSize == 0 {
		return shapes, nil
	}
	for uint64(shapes[TierLarge].Scratch()) > info.LocalMemSize {
		shapes[TierLarge].Faces /= 2
		if shapes[TierLarge].Faces < shapes[TierSmall].Faces {
			return Shapes{}, fmt.Errorf("%w: %d bytes of local memory cannot hold a large tier",
				ErrPlatformDiscovery, info.LocalMemSize)
		}
	}
	if uint64(shapes[TierSmall].Scratch()) > info.LocalMemSize {
		return Shapes{}, fmt.Errorf("%w: %d bytes of local memory cannot hold a small tier",
			ErrPlatformDiscovery, info.LocalMemSize)
	}
	return shapes, nil
}
