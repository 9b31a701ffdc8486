package compositor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/orneryd/facesort/pkg/opencl"
)

// GLBuffer is a GL buffer object owned by the producer.
type GLBuffer struct {
	Handle uint32
	Size   int64 // bytes; 0 means the buffer has no storage yet
}

// registry owns the compute-side wrappers of the shared GL buffers. A slot
// holds either a valid memory object or nothing.
type registry struct {
	api  opencl.API
	ctx  opencl.Context
	log  *slog.Logger
	mems [slotCount]opencl.Mem

	warnings int64
}

func newRegistry(api opencl.API, ctx opencl.Context, log *slog.Logger) *registry {
	return &registry{api: api, ctx: ctx, log: log}
}

// Bound reports whether slot holds a memory object.
func (r *registry) Bound(slot Slot) bool {
	return slot >= 0 && slot < slotCount && r.mems[slot] != 0
}

func (r *registry) mem(slot Slot) opencl.Mem {
	return r.mems[slot]
}

// release unbinds slot. The slot is empty afterwards even if the driver
// reports an error.
func (r *registry) release(slot Slot) error {
	m := r.mems[slot]
	if m == 0 {
		return nil
	}
	r.mems[slot] = 0
	if err := r.api.ReleaseMemObject(m); err != nil {
		r.log.Warn("release of shared buffer failed", "slot", slot, "error", err)
		return err
	}
	return nil
}

// bind replaces whatever slot holds with a wrapper of the GL buffer.
func (r *registry) bind(slot Slot, handle uint32) error {
	relErr := r.release(slot)

	flags := opencl.MemReadOnly
	if slot.writable() {
		flags = opencl.MemReadWrite
	}
	m, err := r.api.CreateFromGLBuffer(r.ctx, flags, handle)
	if err != nil {
		return bindError("create from GL buffer", slot, errors.Join(err, relErr))
	}
	r.mems[slot] = m
	return nil
}

// bindGroup binds buffers that are only useful together. If any of them is
// empty the whole group is left unbound; if one fails the ones already bound
// are released again.
func (r *registry) bindGroup(slots []Slot, bufs []GLBuffer) error {
	for _, b := range bufs {
		if b.Size <= 0 {
			var errs []error
			for _, s := range slots {
				errs = append(errs, r.release(s))
			}
			r.warnings++
			r.log.Warn("skipping bind of empty buffer", "slots", fmt.Sprint(slots), "handle", b.Handle)
			if err := errors.Join(errs...); err != nil {
				return bindError("release", slots[0], err)
			}
			return nil
		}
	}

	for i, s := range slots {
		if err := r.bind(s, bufs[i].Handle); err != nil {
			errs := []error{err}
			for _, other := range slots {
				if other != s {
					errs = append(errs, r.release(other))
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

func (r *registry) bindUniform(buf GLBuffer) error {
	return r.bindGroup([]Slot{SlotUniform}, []GLBuffer{buf})
}

func (r *registry) bindScene(vertex, uv GLBuffer) error {
	return r.bindGroup([]Slot{SlotVertex, SlotUV}, []GLBuffer{vertex, uv})
}

func (r *registry) bindFrame(tmpVertex, tmpUV, outVertex, outUV GLBuffer) error {
	return errors.Join(
		r.bindGroup([]Slot{SlotTempVertex, SlotTempUV}, []GLBuffer{tmpVertex, tmpUV}),
		r.bindGroup([]Slot{SlotOutVertex, SlotOutUV}, []GLBuffer{outVertex, outUV}),
	)
}

func (r *registry) bindModel(t Tier, handle uint32) error {
	return r.bind(modelSlot(t), handle)
}

func (r *registry) close() error {
	var errs []error
	for s := Slot(0); s < slotCount; s++ {
		errs = append(errs, r.release(s))
	}
	return errors.Join(errs...)
}
