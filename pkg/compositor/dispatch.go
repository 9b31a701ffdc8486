package compositor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orneryd/facesort/pkg/opencl"
)

// frame is the per-frame dependency bookkeeping. deps holds exactly the
// compute events the shared release must wait on; owned holds every event
// created this frame so they can be released at finish.
type frame struct {
	acquired opencl.Event
	shared   []opencl.Mem
	deps     []opencl.Event
	owned    []opencl.Event
	failed   bool
}

func (f *frame) own(ev opencl.Event) {
	if ev != 0 {
		f.owned = append(f.owned, ev)
	}
}

func (f *frame) reset() {
	f.acquired = 0
	f.shared = f.shared[:0]
	f.deps = f.deps[:0]
	f.owned = f.owned[:0]
	f.failed = false
}

// inProgress reports whether shared buffers are currently acquired.
func (f *frame) inProgress() bool {
	return f.acquired != 0
}

// dispatcher sequences acquire, launch and release on the single queue.
type dispatcher struct {
	api   opencl.API
	queue opencl.CommandQueue
	reg   *registry
	progs [3]*program
	log   *slog.Logger
	stats *Stats
	frame frame
}

func (d *dispatcher) push(t Tier, count int, modelBuffer uint32) error {
	if count == 0 {
		return nil
	}
	if d.frame.failed {
		d.stats.SkippedPushes++
		return fmt.Errorf("%w: %s tier", ErrFrameAborted, t)
	}

	var err error
	if count < 0 {
		err = computeError("push", t, fmt.Errorf("negative model count %d", count))
	} else {
		err = d.dispatch(t, count, modelBuffer)
	}
	if err != nil {
		d.frame.failed = true
		d.log.Error("compositor frame failed", "tier", t, "models", count, "error", err)
		return err
	}
	d.stats.Launches[t]++
	return nil
}

func (d *dispatcher) dispatch(t Tier, count int, modelBuffer uint32) error {
	if err := d.acquireShared(t); err != nil {
		return err
	}

	slot := modelSlot(t)
	if err := d.reg.bindModel(t, modelBuffer); err != nil {
		var fe *FrameError
		if errors.As(err, &fe) {
			fe.Tier = t
		}
		return err
	}
	tierMem := d.reg.mem(slot)

	acquired, err := d.api.EnqueueAcquireGLObjects(d.queue, []opencl.Mem{tierMem}, nil)
	if err != nil {
		return computeError("acquire model buffer", t, err)
	}
	d.frame.own(acquired)

	computed, launchErr := d.launch(t, count, tierMem, acquired)

	// the tier buffer is released whether or not the launch went through
	wait := acquired
	if launchErr == nil {
		wait = computed
		d.frame.deps = append(d.frame.deps, computed)
	}
	released, relErr := d.api.EnqueueReleaseGLObjects(d.queue, []opencl.Mem{tierMem}, []opencl.Event{wait})
	if relErr != nil {
		relErr = computeError("release model buffer", t, relErr)
	} else {
		d.frame.own(released)
	}
	return errors.Join(launchErr, relErr)
}

// acquireShared locks the scene and frame buffers once per frame.
func (d *dispatcher) acquireShared(t Tier) error {
	if t.Sorted() && !d.reg.Bound(SlotUniform) {
		return &FrameError{Op: "dispatch", Tier: t, Slot: SlotUniform, Kind: ErrBufferBind, Err: errors.New("buffer not bound")}
	}
	if d.frame.inProgress() {
		return nil
	}

	mems := d.frame.shared[:0]
	for _, s := range sharedSlots {
		if !d.reg.Bound(s) {
			return &FrameError{Op: "dispatch", Tier: t, Slot: s, Kind: ErrBufferBind, Err: errors.New("buffer not bound")}
		}
		mems = append(mems, d.reg.mem(s))
	}
	if d.reg.Bound(SlotUniform) {
		mems = append(mems, d.reg.mem(SlotUniform))
	}

	ev, err := d.api.EnqueueAcquireGLObjects(d.queue, mems, nil)
	if err != nil {
		return computeError("acquire shared buffers", t, err)
	}
	d.frame.acquired = ev
	d.frame.shared = mems
	d.frame.own(ev)
	return nil
}

// launch sets the kernel arguments and enqueues one work-group per model.
func (d *dispatcher) launch(t Tier, count int, tierMem opencl.Mem, acquired opencl.Event) (opencl.Event, error) {
	p := d.progs[t]
	shape := p.shape

	args := []opencl.Mem{
		tierMem,
		d.reg.mem(SlotVertex),
		d.reg.mem(SlotTempVertex),
		d.reg.mem(SlotOutVertex),
		d.reg.mem(SlotOutUV),
		d.reg.mem(SlotUV),
		d.reg.mem(SlotTempUV),
	}
	first := uint32(0)
	if t.Sorted() {
		if err := d.api.SetKernelArgLocal(p.kernel, 0, uintptr(shape.Scratch())); err != nil {
			return 0, computeError("set local scratch", t, err)
		}
		first = 1
		args = append(args, d.reg.mem(SlotUniform))
	}
	for i, m := range args {
		if err := d.api.SetKernelArgMem(p.kernel, first+uint32(i), m); err != nil {
			return 0, computeError(fmt.Sprintf("set argument %d", first+uint32(i)), t, err)
		}
	}

	local := uintptr(shape.Local())
	global := uintptr(count) * local
	ev, err := d.api.EnqueueNDRangeKernel(d.queue, p.kernel,
		[]uintptr{global}, []uintptr{local}, []opencl.Event{d.frame.acquired, acquired})
	if err != nil {
		return 0, computeError("enqueue kernel", t, err)
	}
	d.frame.own(ev)
	return ev, nil
}

// finish releases the shared buffers after every launch of the frame,
// drains the queue and resets the frame.
func (d *dispatcher) finish() error {
	start := time.Now()
	failed := d.frame.failed
	var errs []error

	if d.frame.inProgress() {
		wait := d.frame.deps
		if len(wait) == 0 {
			wait = []opencl.Event{d.frame.acquired}
		}
		ev, err := d.api.EnqueueReleaseGLObjects(d.queue, d.frame.shared, wait)
		if err != nil {
			errs = append(errs, computeError("release shared buffers", noTier, err))
		} else {
			d.frame.own(ev)
		}
	}

	if err := d.api.Finish(d.queue); err != nil {
		errs = append(errs, computeError("finish", noTier, err))
	}

	for _, ev := range d.frame.owned {
		if err := d.api.ReleaseEvent(ev); err != nil {
			d.log.Warn("event release failed", "error", err)
		}
	}
	d.frame.reset()

	err := errors.Join(errs...)
	d.stats.Frames++
	if failed || err != nil {
		d.stats.FailedFrames++
	}
	d.stats.LastFinish = time.Since(start)
	if err != nil {
		d.log.Error("compositor finish failed", "error", err)
	}
	return err
}
