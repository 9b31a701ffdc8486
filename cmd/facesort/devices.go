package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/facesort/pkg/config"
	"github.com/orneryd/facesort/pkg/facesort"
	"github.com/orneryd/facesort/pkg/opencl"
)

func newDevicesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List OpenCL platforms, GPUs and the tier shapes they would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			cl, err := opencl.Open(cfg.Compositor.LibraryPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OpenCL library: %s\n", cl.Path())
			return listDevices(cmd.OutOrStdout(), cl, cfg)
		},
	}
}

func listDevices(w io.Writer, api opencl.API, cfg *config.Config) error {
	platforms, err := api.PlatformIDs()
	if err != nil {
		return err
	}
	if len(platforms) == 0 {
		fmt.Fprintln(w, "no OpenCL platforms")
		return nil
	}

	for i, p := range platforms {
		name, _ := api.PlatformInfo(p, opencl.PlatformName)
		ver, _ := api.PlatformInfo(p, opencl.PlatformVersion)
		ext, _ := api.PlatformInfo(p, opencl.PlatformExtensions)
		sharing := "none"
		switch {
		case opencl.HasExtension(ext, opencl.ExtGLSharing):
			sharing = opencl.ExtGLSharing
		case opencl.HasExtension(ext, opencl.ExtAppleGLSharing):
			sharing = opencl.ExtAppleGLSharing
		}
		fmt.Fprintf(w, "platform %d: %s (%s) sharing=%s\n", i, name, strings.TrimSpace(ver), sharing)

		devices, err := api.DeviceIDs(p, opencl.DeviceTypeGPU)
		if err != nil || len(devices) == 0 {
			fmt.Fprintln(w, "  no GPU devices")
			continue
		}
		for j, d := range devices {
			dname, _ := api.DeviceInfoString(d, opencl.DeviceName)
			driver, _ := api.DeviceInfoString(d, opencl.DriverVersion)
			maxWG, _ := api.DeviceInfoUint(d, opencl.DeviceMaxWorkGroupSize)
			local, _ := api.DeviceInfoUint(d, opencl.DeviceLocalMemSize)
			fmt.Fprintf(w, "  device %d: %s driver=%s max_work_group=%d local_mem=%d\n", j, dname, driver, maxWG, local)

			shapes, err := facesort.DeriveShapes(int(maxWG), cfg.Compositor.LargeFacesCeiling)
			if err != nil {
				fmt.Fprintf(w, "    unusable: %v\n", err)
				continue
			}
			for _, t := range facesort.Tiers {
				s := shapes.Of(t)
				fmt.Fprintf(w, "    %-9s faces=%-5d stride=%d local=%d\n", t, s.Faces, s.Stride, s.Local())
			}
		}
	}
	return nil
}
