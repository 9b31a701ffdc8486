// Package facesort is the host-side reference of the face-priority sort
// kernel.
//
// A model is processed by one work-group: its faces are spread over
// Shape.Local() lanes (goroutines) that run the same five steps as the
// device code, separated by group-wide barriers and sharing a small block of
// atomically updated counters. The output order is the draw order: within a
// model, faces are grouped by mapped priority band and, inside a band,
// written farthest first.
//
// The package has no GPU dependency. The compositor uses its shape and
// layout types, tests use it as the oracle for kernel behaviour, and the CLI
// uses it for benchmarks.
package facesort

import (
	"encoding/binary"
	"errors"
)

// Vertex is a packed (x, y, z, w) vertex. The w component of the first
// vertex of a face carries its priority in bits 16..23.
type Vertex [4]int32

// UV is a packed (u, v, w, material) texture coordinate.
type UV [4]float32

// Add returns the component-wise sum of v and o.
func (v Vertex) Add(o Vertex) Vertex {
	return Vertex{v[0] + o[0], v[1] + o[1], v[2] + o[2], v[3] + o[3]}
}

// Priority returns the raw priority band stored in w.
func (v Vertex) Priority() int32 {
	return (v[3] >> 16) & 0xff
}

// ModelInfo describes one model of a dispatch. The layout matches the device
// struct: eight 32-bit integers.
type ModelInfo struct {
	Offset   int32 // first vertex in the source pool
	UVOffset int32 // first uv in the source pool, <0 when the model has none
	Size     int32 // face count
	Idx      int32 // first output vertex
	Flags    int32 // sign: source pool, bits 12..30: radius, bits 0..10: orientation
	X, Y, Z  int32
}

// ModelInfoSize is the encoded size of a ModelInfo in bytes.
const ModelInfoSize = 8 * 4

// FlagStatic marks a model whose vertices live in the static pool.
const FlagStatic int32 = -1 << 31

// Radius returns the bounding radius packed in Flags.
func (m ModelInfo) Radius() int32 {
	return (m.Flags & 0x7fffffff) >> 12
}

// Orientation returns the model yaw (0..2047) packed in Flags.
func (m ModelInfo) Orientation() int32 {
	return m.Flags & 0x7ff
}

// Static reports whether the model reads from the static pools.
func (m ModelInfo) Static() bool {
	return m.Flags < 0
}

// Pos returns the model position as a vertex with w = 0.
func (m ModelInfo) Pos() Vertex {
	return Vertex{m.X, m.Y, m.Z, 0}
}

// PackFlags builds a Flags value.
func PackFlags(static bool, radius, orientation int32) int32 {
	f := (radius&0x7ffff)<<12 | orientation&0x7ff
	if static {
		f |= FlagStatic
	}
	return f
}

// AppendBinary appends the little-endian device encoding of m.
func (m ModelInfo) AppendBinary(b []byte) ([]byte, error) {
	for _, v := range [8]int32{m.Offset, m.UVOffset, m.Size, m.Idx, m.Flags, m.X, m.Y, m.Z} {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return b, nil
}

// MarshalModels encodes a model array for upload into a tier buffer.
func MarshalModels(models []ModelInfo) []byte {
	b := make([]byte, 0, len(models)*ModelInfoSize)
	for _, m := range models {
		b, _ = m.AppendBinary(b)
	}
	return b
}

// SinCosTableSize is the number of orientation steps in a full turn.
const SinCosTableSize = 2048

// SinCosTable holds (sin, cos, 0, 0) scaled by 65536 per orientation step.
type SinCosTable [SinCosTableSize][4]int32

// Uniform is the camera block shared by every kernel of a frame.
type Uniform struct {
	CameraYaw   int32
	CameraPitch int32
	CenterX     int32
	CenterY     int32
	Zoom        int32
	CameraX     int32
	CameraY     int32
	CameraZ     int32
	SinCos      SinCosTable
}

// UniformSize is the encoded size of a Uniform in bytes.
const UniformSize = 8*4 + SinCosTableSize*4*4

// MarshalBinary encodes u in the layout of the device uniform buffer.
func (u *Uniform) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, UniformSize)
	for _, v := range [8]int32{u.CameraYaw, u.CameraPitch, u.CenterX, u.CenterY, u.Zoom, u.CameraX, u.CameraY, u.CameraZ} {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	for _, e := range u.SinCos {
		for _, v := range e {
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		}
	}
	return b, nil
}

// UnmarshalBinary decodes a uniform buffer.
func (u *Uniform) UnmarshalBinary(b []byte) error {
	if len(b) < UniformSize {
		return ErrShortBuffer
	}
	word := func(i int) int32 { return int32(binary.LittleEndian.Uint32(b[i*4:])) }
	u.CameraYaw, u.CameraPitch = word(0), word(1)
	u.CenterX, u.CenterY, u.Zoom = word(2), word(3), word(4)
	u.CameraX, u.CameraY, u.CameraZ = word(5), word(6), word(7)
	for i := range u.SinCos {
		for j := range u.SinCos[i] {
			u.SinCos[i][j] = word(8 + i*4 + j)
		}
	}
	return nil
}

// Inputs are the read-only pools a dispatch reads from.
type Inputs struct {
	Vertices     []Vertex // static pool
	TempVertices []Vertex // per-frame scratch pool
	UVs          []UV
	TempUVs      []UV
}

// Outputs receive the ordered faces.
type Outputs struct {
	Vertices []Vertex
	UVs      []UV
}

// Errors
var (
	ErrShortBuffer = errors.New("facesort: buffer too short")
	ErrModelRange  = errors.New("facesort: model range out of bounds")
	ErrShape       = errors.New("facesort: invalid tier shape")
)
