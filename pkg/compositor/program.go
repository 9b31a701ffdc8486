package compositor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orneryd/facesort/pkg/opencl"
)

// BuildOptions are passed to every kernel build.
const BuildOptions = "-cl-std=CL1.2"

// BinaryCache stores compiled program binaries between runs. Key derives a
// lookup key from everything that affects the binary.
type BinaryCache interface {
	Key(device, driver, source, options string) []byte
	Get(key []byte) ([]byte, bool, error)
	Put(key, binary []byte) error
}

// program is a built variant and its kernel.
type program struct {
	variant variant
	shape   TierShape
	program opencl.Program
	kernel  opencl.Kernel
}

func (p *program) release(api opencl.API) error {
	var errs []error
	if p.kernel != 0 {
		errs = append(errs, api.ReleaseKernel(p.kernel))
		p.kernel = 0
	}
	if p.program != 0 {
		errs = append(errs, api.ReleaseProgram(p.program))
		p.program = 0
	}
	return errors.Join(errs...)
}

// compile builds all three variants. If any variant fails, the ones built
// before it are released so no kernel stays live.
func compile(api opencl.API, dev *device, shapes Shapes, cache BinaryCache, dump bool) (_ [3]*program, err error) {
	var progs [3]*program
	defer func() {
		if err != nil {
			for _, p := range progs {
				if p != nil {
					err = errors.Join(err, p.release(api))
				}
			}
		}
	}()

	for _, v := range variants {
		p, err := build(api, dev, v, shapes.Of(v.tier), cache, dump)
		if err != nil {
			return [3]*program{}, err
		}
		progs[v.tier] = p
	}
	return progs, nil
}

func build(api opencl.API, dev *device, v variant, shape TierShape, cache BinaryCache, dump bool) (_ *program, err error) {
	log := Logger().With("variant", v.name)

	src, err := KernelSource(v.tier, shape)
	if err != nil {
		return nil, &CompileError{Variant: v.name, Err: err}
	}
	if dump {
		log.Debug("kernel source", "faces", shape.Faces, "stride", shape.Stride, "source", src)
	}

	var key []byte
	if cache != nil {
		key = cache.Key(dev.info.Name, dev.info.DriverVersion, src, BuildOptions)
	}

	p := &program{variant: v, shape: shape}
	defer func() {
		if err != nil {
			err = errors.Join(err, p.release(api))
		}
	}()

	fromCache := false
	if cache != nil {
		if bin, ok, cerr := cache.Get(key); cerr != nil {
			log.Warn("program cache read failed", "error", cerr)
		} else if ok {
			prog, perr := api.CreateProgramWithBinary(dev.context, dev.id, bin)
			if perr == nil {
				p.program = prog
				fromCache = true
			} else {
				log.Debug("cached program rejected", "error", perr)
			}
		}
	}
	if !fromCache {
		p.program, err = api.CreateProgramWithSource(dev.context, src)
		if err != nil {
			return nil, &CompileError{Variant: v.name, Err: err}
		}
	}

	if err := api.BuildProgram(p.program, dev.id, BuildOptions); err != nil {
		buildLog, logErr := api.ProgramBuildLog(p.program, dev.id)
		if logErr != nil {
			buildLog = fmt.Sprintf("(build log unavailable: %v)", logErr)
		}
		return nil, &CompileError{Variant: v.name, Log: buildLog, Err: err}
	}

	if log.Enabled(context.Background(), slog.LevelDebug) {
		status, _ := api.ProgramBuildStatus(p.program, dev.id)
		binType, _ := api.ProgramBinaryType(p.program, dev.id)
		buildLog, _ := api.ProgramBuildLog(p.program, dev.id)
		log.Debug("program built",
			"status", status, "binary_type", binType, "options", BuildOptions,
			"cached", fromCache, "log", buildLog)
	}

	if cache != nil && !fromCache {
		if bin, berr := api.ProgramBinary(p.program); berr != nil {
			log.Warn("program binary unavailable", "error", berr)
		} else if len(bin) > 0 {
			if perr := cache.Put(key, bin); perr != nil {
				log.Warn("program cache write failed", "error", perr)
			}
		}
	}

	if names, nerr := api.KernelNames(p.program); nerr == nil {
		log.Debug("program kernels", "names", names)
	}

	p.kernel, err = api.CreateKernel(p.program, v.name)
	if err != nil {
		return nil, &CompileError{Variant: v.name, Err: err}
	}
	return p, nil
}
