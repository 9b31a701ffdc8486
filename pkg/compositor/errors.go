package compositor

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrPlatformDiscovery = errors.New("compositor: no OpenCL platform or device with GL sharing")
	ErrContextCreation   = errors.New("compositor: shared context creation failed")
	ErrUnsupportedOS     = fmt.Errorf("%w: unsupported operating system", ErrContextCreation)
	ErrCompile           = errors.New("compositor: kernel compilation failed")
	ErrBufferBind        = errors.New("compositor: buffer bind failed")
	ErrCompute           = errors.New("compositor: compute dispatch failed")
	ErrNotInitialized    = errors.New("compositor: manager is closed")
	ErrFrameAborted      = errors.New("compositor: frame aborted by an earlier failure")
)

// CompileError carries the driver's build log for a failed kernel variant.
type CompileError struct {
	Variant string
	Log     string
	Err     error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compositor: compile %s: %v", e.Variant, e.Err)
	if log := strings.TrimSpace(e.Log); log != "" {
		b.WriteString("\n")
		b.WriteString(log)
	}
	return b.String()
}

func (e *CompileError) Unwrap() []error {
	return []error{ErrCompile, e.Err}
}

// FrameError describes a failed per-frame operation with enough context to
// tell which tier and slot were involved. Kind is ErrBufferBind or
// ErrCompute.
type FrameError struct {
	Op   string
	Tier Tier
	Slot Slot
	Kind error
	Err  error
}

func (e *FrameError) Error() string {
	var b strings.Builder
	b.WriteString("compositor: ")
	b.WriteString(e.Op)
	if e.Tier >= 0 {
		fmt.Fprintf(&b, " tier=%s", e.Tier)
	}
	if e.Slot != NoSlot {
		fmt.Fprintf(&b, " slot=%s", e.Slot)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FrameError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func bindError(op string, slot Slot, err error) error {
	return &FrameError{Op: op, Tier: noTier, Slot: slot, Kind: ErrBufferBind, Err: err}
}

func computeError(op string, tier Tier, err error) error {
	return &FrameError{Op: op, Tier: tier, Slot: NoSlot, Kind: ErrCompute, Err: err}
}
