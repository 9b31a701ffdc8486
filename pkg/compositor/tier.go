package compositor

import (
	"fmt"

	"github.com/orneryd/facesort/pkg/facesort"
)

// Tier, TierShape and Shapes are shared with the host-side sort so both
// agree on work-group geometry.
type (
	Tier      = facesort.Tier
	TierShape = facesort.Shape
	Shapes    = facesort.Shapes
)

const (
	TierUnordered = facesort.TierUnordered
	TierSmall     = facesort.TierSmall
	TierLarge     = facesort.TierLarge

	noTier Tier = -1
)

// Slot names a buffer held by the registry.
type Slot int

const (
	SlotUniform Slot = iota
	SlotVertex
	SlotUV
	SlotTempVertex
	SlotTempUV
	SlotOutVertex
	SlotOutUV
	SlotModelUnordered
	SlotModelSmall
	SlotModelLarge

	slotCount

	NoSlot Slot = -1
)

var slotNames = [slotCount]string{
	SlotUniform:        "uniform",
	SlotVertex:         "vertex",
	SlotUV:             "uv",
	SlotTempVertex:     "temp-vertex",
	SlotTempUV:         "temp-uv",
	SlotOutVertex:      "out-vertex",
	SlotOutUV:          "out-uv",
	SlotModelUnordered: "model-unordered",
	SlotModelSmall:     "model-small",
	SlotModelLarge:     "model-large",
}

func (s Slot) String() string {
	if s >= 0 && s < slotCount {
		return slotNames[s]
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// modelSlot returns the registry slot of a tier's model buffer.
func modelSlot(t Tier) Slot {
	switch t {
	case TierSmall:
		return SlotModelSmall
	case TierLarge:
		return SlotModelLarge
	}
	return SlotModelUnordered
}

// sharedSlots are acquired once per frame, in kernel argument order.
var sharedSlots = [...]Slot{SlotVertex, SlotTempVertex, SlotOutVertex, SlotOutUV, SlotUV, SlotTempUV}

// writable reports whether kernels write to the slot.
func (s Slot) writable() bool {
	return s == SlotOutVertex || s == SlotOutUV
}
