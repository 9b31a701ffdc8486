package facesort

import (
	"fmt"
	"math/bits"
)

// Tier is a fixed workload class. Each tier has its own kernel variant.
type Tier int

const (
	TierUnordered Tier = iota
	TierSmall
	TierLarge
)

// Tiers lists every tier in dispatch order.
var Tiers = [...]Tier{TierUnordered, TierSmall, TierLarge}

func (t Tier) String() string {
	switch t {
	case TierUnordered:
		return "unordered"
	case TierSmall:
		return "small"
	case TierLarge:
		return "large"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Sorted reports whether the tier runs the priority sort.
func (t Tier) Sorted() bool {
	return t == TierSmall || t == TierLarge
}

// ParseTier accepts the names returned by Tier.String.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("facesort: unknown tier %q", s)
}

// Shape is the face capacity of one work-group and how many faces each lane
// owns.
type Shape struct {
	Faces  int
	Stride int
}

// Local returns the work-group size.
func (s Shape) Local() int {
	return s.Faces / s.Stride
}

// Scratch returns the bytes of local memory one work-group needs: 12 band
// counts, 12 distance sums, 18 mapped counts, the priority-10 minimum and
// one render key per face.
func (s Shape) Scratch() int {
	return (12 + 12 + 18 + 1 + s.Faces) * 4
}

func (s Shape) validate() error {
	if s.Faces <= 0 || s.Stride <= 0 || s.Faces%s.Stride != 0 {
		return fmt.Errorf("%w: %d faces, stride %d", ErrShape, s.Faces, s.Stride)
	}
	return nil
}

// Shapes holds the shape of every tier, indexed by Tier.
type Shapes [3]Shape

const (
	UnorderedFaces    = 6
	SmallFaces        = 512
	LargeStride       = 4
	DefaultLargeFaces = 4096
)

// DefaultShapes are the shapes of a device with 1024-lane work-groups.
func DefaultShapes() Shapes {
	return Shapes{
		TierUnordered: {Faces: UnorderedFaces, Stride: 1},
		TierSmall:     {Faces: SmallFaces, Stride: 1},
		TierLarge:     {Faces: DefaultLargeFaces, Stride: LargeStride},
	}
}

// DeriveShapes sizes the tiers for a device. The large tier packs four faces
// per lane and takes as many lanes as the device allows, rounded down to a
// power of two and capped so the tier never exceeds ceiling faces.
func DeriveShapes(maxWorkGroupSize, ceiling int) (Shapes, error) {
	if maxWorkGroupSize < UnorderedFaces {
		return Shapes{}, fmt.Errorf("%w: max work-group size %d", ErrShape, maxWorkGroupSize)
	}
	lanes := floorPow2(maxWorkGroupSize)

	smallStride := (SmallFaces + lanes - 1) / lanes
	large := lanes * LargeStride
	if ceiling > 0 && large > ceiling {
		large = floorPow2(ceiling)
	}
	if large < SmallFaces {
		return Shapes{}, fmt.Errorf("%w: large tier of %d faces is smaller than the small tier", ErrShape, large)
	}

	return Shapes{
		TierUnordered: {Faces: UnorderedFaces, Stride: 1},
		TierSmall:     {Faces: SmallFaces, Stride: smallStride},
		TierLarge:     {Faces: large, Stride: LargeStride},
	}, nil
}

// Of returns the shape of t.
func (s Shapes) Of(t Tier) Shape {
	return s[t]
}

// Classify picks the sorted tier for a model of the given face count. Models
// too large for the large tier are rejected. The unordered tier is never
// chosen here: producers use it for models whose faces are already in draw
// order.
func (s Shapes) Classify(faces int) (Tier, bool) {
	switch {
	case faces <= s[TierSmall].Faces:
		return TierSmall, true
	case faces <= s[TierLarge].Faces:
		return TierLarge, true
	}
	return 0, false
}

func floorPow2(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
