package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/orneryd/facesort/pkg/compositor"
	"github.com/orneryd/facesort/pkg/facesort"
	"github.com/orneryd/facesort/pkg/kcache"
	"github.com/orneryd/facesort/pkg/opencl"
)

func newKernelsCmd(configPath *string) *cobra.Command {
	var (
		tierName string
		maxWG    int
		build    bool
	)
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "Print or test-build the kernel source of a tier",
		Long: `Print the assembled OpenCL C source of a tier's kernel. With --build the
source is compiled on the first GPU of the first platform and the binary
is stored in the kernel cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			tier, err := facesort.ParseTier(tierName)
			if err != nil {
				return err
			}
			shapes, err := facesort.DeriveShapes(maxWG, cfg.Compositor.LargeFacesCeiling)
			if err != nil {
				return err
			}
			src, err := compositor.KernelSource(tier, shapes.Of(tier))
			if err != nil {
				return err
			}
			if !build {
				_, err = io.WriteString(cmd.OutOrStdout(), src)
				return err
			}

			cl, err := opencl.Open(cfg.Compositor.LibraryPath)
			if err != nil {
				return err
			}
			var cache *kcache.Cache
			if cfg.Cache.Enabled {
				cache, err = kcache.Open(kcache.Options{Dir: cfg.Cache.Dir, TTL: cfg.Cache.TTL})
				if err != nil {
					return err
				}
				defer cache.Close()
			}
			return buildKernel(cmd.OutOrStdout(), cl, cache, src)
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "small", "Tier: unordered, small, large")
	cmd.Flags().IntVar(&maxWG, "max-work-group", 1024, "Device work-group limit to size the tiers for")
	cmd.Flags().BoolVar(&build, "build", false, "Compile the source on the first GPU")
	return cmd
}

// buildKernel compiles src in a plain context on the first GPU found.
func buildKernel(w io.Writer, api opencl.API, cache *kcache.Cache, src string) error {
	platforms, err := api.PlatformIDs()
	if err != nil {
		return err
	}
	for _, p := range platforms {
		devices, derr := api.DeviceIDs(p, opencl.DeviceTypeGPU)
		if derr != nil || len(devices) == 0 {
			continue
		}
		return buildOn(w, api, cache, p, devices[0], src)
	}
	return errors.New("no OpenCL GPU device")
}

func buildOn(w io.Writer, api opencl.API, cache *kcache.Cache, p opencl.PlatformID, d opencl.DeviceID, src string) (err error) {
	name, _ := api.DeviceInfoString(d, opencl.DeviceName)
	driver, _ := api.DeviceInfoString(d, opencl.DriverVersion)

	ctx, err := api.CreateContext([]opencl.ContextProperty{opencl.ContextPlatform, opencl.ContextProperty(p)}, []opencl.DeviceID{d})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, api.ReleaseContext(ctx)) }()

	var key []byte
	if cache != nil {
		key = cache.Key(name, driver, src, compositor.BuildOptions)
		if bin, ok, _ := cache.Get(key); ok {
			fmt.Fprintf(w, "%s: cached binary, %d bytes\n", name, len(bin))
			return nil
		}
	}

	prog, err := api.CreateProgramWithSource(ctx, src)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, api.ReleaseProgram(prog)) }()

	if err := api.BuildProgram(prog, d, compositor.BuildOptions); err != nil {
		log, _ := api.ProgramBuildLog(prog, d)
		return &compositor.CompileError{Variant: name, Log: log, Err: err}
	}
	bin, err := api.ProgramBinary(prog)
	if err != nil {
		return err
	}
	names, _ := api.KernelNames(prog)
	fmt.Fprintf(w, "%s: built %v, %d bytes\n", name, names, len(bin))
	if cache != nil {
		return cache.Put(key, bin)
	}
	return nil
}

var _ compositor.BinaryCache = (*kcache.Cache)(nil)
