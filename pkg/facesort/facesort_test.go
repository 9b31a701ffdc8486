package facesort

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testUniform looks straight down +z from the origin.
func testUniform() *Uniform {
	return &Uniform{Zoom: 100, SinCos: *NewSinCosTable()}
}

// faceAt builds a front-facing triangle at depth z. With the test camera
// and a model radius of 1 its distance is z+1.
func faceAt(z, priority int32) [3]Vertex {
	w := priority << 16
	return [3]Vertex{{0, 0, z, w}, {0, 10, z, w}, {10, 0, z, w}}
}

type faceSpec struct {
	distance int32
	priority int32
}

// buildModel lays the faces out in a temp pool and tags every face's UVs
// with its id.
func buildModel(faces []faceSpec) (ModelInfo, *Inputs, *Outputs) {
	in := &Inputs{}
	for id, f := range faces {
		tri := faceAt(f.distance-1, f.priority)
		in.TempVertices = append(in.TempVertices, tri[:]...)
		for k := 0; k < 3; k++ {
			in.TempUVs = append(in.TempUVs, UV{float32(id), float32(k), 0, 0})
		}
	}
	out := &Outputs{
		Vertices: make([]Vertex, len(faces)*3),
		UVs:      make([]UV, len(faces)*3),
	}
	m := ModelInfo{
		Size:  int32(len(faces)),
		Flags: PackFlags(false, 1, 0),
	}
	return m, in, out
}

// order returns the source face id at each output position.
func order(out *Outputs) []int {
	ids := make([]int, len(out.UVs)/3)
	for i := range ids {
		ids[i] = int(out.UVs[i*3][0])
	}
	return ids
}

func TestSortModelDistanceWithinBand(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 5}, {50, 5}, {30, 5}})

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	assert.Equal(t, []int{1, 2, 0}, order(out))
	assert.Equal(t, int32(49), out.Vertices[0][2])
	assert.Equal(t, int32(29), out.Vertices[3][2])
	assert.Equal(t, int32(9), out.Vertices[6][2])
}

func TestSortModelGroupsBands(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 2}, {50, 5}, {30, 2}})

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	// priority 2 maps below priority 5, so both band-2 faces come first
	assert.Equal(t, []int{2, 0, 1}, order(out))
}

func TestSortModelTiesKeepIDOrder(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{20, 3}, {20, 3}, {20, 3}, {40, 3}})

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	assert.Equal(t, []int{3, 0, 1, 2}, order(out))
}

func TestSortModelTranslatesAndRotates(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 0}})
	m.X, m.Y, m.Z = 100, 200, 300
	// a half turn negates x and z
	m.Flags = PackFlags(false, 1, 1024)

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	src := in.TempVertices[2]
	want := Vertex{100 - src[0], 200 + src[1], 300 - src[2], src[3]}
	assert.InDelta(t, want[0], out.Vertices[2][0], 1)
	assert.Equal(t, want[1], out.Vertices[2][1])
	assert.InDelta(t, want[2], out.Vertices[2][2], 1)
	assert.Equal(t, want[3], out.Vertices[2][3])
}

func TestSortModelNoSlotCollisions(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, shape := range []Shape{{Faces: 512, Stride: 1}, {Faces: 512, Stride: 4}, {Faces: 256, Stride: 2}} {
		faces := make([]faceSpec, shape.Faces-7)
		for i := range faces {
			faces[i] = faceSpec{distance: rng.Int32N(2000) + 1, priority: rng.Int32N(12)}
		}
		m, in, out := buildModel(faces)
		require.NoError(t, SortModel(m, shape, in, testUniform(), out))

		seen := make(map[int]bool, len(faces))
		for _, id := range order(out) {
			assert.False(t, seen[id], "face %d written twice", id)
			seen[id] = true
		}
		assert.Len(t, seen, len(faces))
	}
}

func TestSortModelFixedBandOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	faces := make([]faceSpec, 300)
	for i := range faces {
		faces[i] = faceSpec{distance: rng.Int32N(500) + 1, priority: rng.Int32N(10)}
	}
	m, in, out := buildModel(faces)
	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 4}, in, testUniform(), out))

	ids := order(out)
	for i := 1; i < len(ids); i++ {
		prev, cur := faces[ids[i-1]], faces[ids[i]]
		require.LessOrEqual(t, prev.priority, cur.priority, "position %d", i)
		if prev.priority == cur.priority {
			require.GreaterOrEqual(t, prev.distance, cur.distance, "position %d", i)
		}
	}
}

func TestSortModelStrideMatchesSingleFaceLanes(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	faces := make([]faceSpec, 100)
	for i := range faces {
		faces[i] = faceSpec{distance: rng.Int32N(100) + 1, priority: rng.Int32N(12)}
	}

	m, in, one := buildModel(faces)
	require.NoError(t, SortModel(m, Shape{Faces: 128, Stride: 1}, in, testUniform(), one))

	_, _, four := buildModel(faces)
	require.NoError(t, SortModel(m, Shape{Faces: 128, Stride: 4}, in, testUniform(), four))

	assert.Equal(t, order(one), order(four))
	assert.Equal(t, one.Vertices, four.Vertices)
}

func TestSortModelZeroRadius(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 4}, {50, 4}})
	m.Flags = PackFlags(false, 0, 0)

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	// every distance is 0, so source order wins
	assert.Equal(t, []int{0, 1}, order(out))
}

func TestSortModelStaticPoolAndMissingUVs(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 1}})
	in.Vertices, in.TempVertices = in.TempVertices, nil
	m.Flags = PackFlags(true, 1, 0)
	m.UVOffset = -1
	out.UVs[0] = UV{9, 9, 9, 9}

	require.NoError(t, SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out))

	assert.Equal(t, in.Vertices[0], out.Vertices[0])
	assert.Equal(t, UV{}, out.UVs[0])
}

func TestSortModelIgnoresFacesBeyondShape(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 1}, {20, 1}, {30, 1}, {40, 1}, {50, 1}, {60, 1}, {70, 1}, {80, 1}, {90, 1}})
	marker := Vertex{-1, -1, -1, -1}
	for i := range out.Vertices {
		out.Vertices[i] = marker
	}

	require.NoError(t, SortModel(m, Shape{Faces: 8, Stride: 2}, in, testUniform(), out))

	assert.Equal(t, marker, out.Vertices[24])
	assert.Equal(t, int32(79), out.Vertices[0][2])
}

func TestSortModelRejectsOutOfRange(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 1}, {20, 1}})
	m.Idx = 4

	err := SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out)
	require.ErrorIs(t, err, ErrModelRange)

	m.Idx = 0
	m.Offset = 3
	err = SortModel(m, Shape{Faces: 512, Stride: 1}, in, testUniform(), out)
	require.ErrorIs(t, err, ErrModelRange)

	err = SortModel(ModelInfo{}, Shape{Faces: 10, Stride: 4}, in, testUniform(), out)
	require.ErrorIs(t, err, ErrShape)
}

func TestUnorderedModel(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{50, 11}, {10, 0}})
	m.X, m.Y, m.Z = 1, 2, 3
	m.Flags = PackFlags(false, 1, 512)

	require.NoError(t, UnorderedModel(m, Shape{Faces: UnorderedFaces, Stride: 1}, in, out))

	assert.Equal(t, []int{0, 1}, order(out))
	for i, v := range in.TempVertices {
		assert.Equal(t, v.Add(Vertex{1, 2, 3, 0}), out.Vertices[i])
	}
}

func TestPriorityMap(t *testing.T) {
	for p := int32(0); p < 10; p++ {
		assert.Equal(t, fixedBands[p], PriorityMap(p, 0, min10Init, 0, 0, 0))
	}

	const avg1, avg2, avg3 = 300, 200, 100
	tests := []struct {
		name        string
		p, d, min10 int32
		want        int32
	}{
		{"10 behind everything", 10, 400, 0, 0},
		{"10 behind 3+4", 10, 250, 0, 5},
		{"10 behind 6+8", 10, 150, 0, 9},
		{"10 in front", 10, 50, 0, 16},
		{"11 behind everything", 11, 400, 350, 1},
		{"11 held by close 10", 11, 400, 250, 6},
		{"11 behind 6+8", 11, 150, 150, 10},
		{"11 in front", 11, 150, 50, 17},
		{"unknown", 12, 999, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityMap(tt.p, tt.d, tt.min10, avg1, avg2, avg3))
		})
	}
}

func TestBandAverages(t *testing.T) {
	var num, dist [Bands]int32
	num[1], dist[1] = 2, 100
	num[2], dist[2] = 2, 300
	num[6], dist[6] = 1, 70

	avg1, avg2, avg3 := BandAverages(&num, &dist)
	assert.Equal(t, int32(100), avg1)
	assert.Equal(t, int32(0), avg2)
	assert.Equal(t, int32(70), avg3)
}

func TestRenderKeyOrdering(t *testing.T) {
	assert.Greater(t, renderKey(50, 7), renderKey(30, 0))
	assert.Greater(t, renderKey(30, 0), renderKey(30, 1))
}

func TestFaceVisible(t *testing.T) {
	u := testUniform()
	tri := faceAt(10, 0)
	assert.True(t, FaceVisible(u, tri[0], tri[1], tri[2], Vertex{}))
	assert.False(t, FaceVisible(u, tri[0], tri[2], tri[1], Vertex{}))
}

func TestVertexDistance(t *testing.T) {
	assert.Equal(t, int32(42), VertexDistance(Vertex{5, 7, 42, 0}, 0, 0))
	// a quarter turn of yaw moves depth onto -x
	assert.InDelta(t, -42, VertexDistance(Vertex{42, 0, 0, 0}, 512, 0), 1)
}

func TestSinCosTable(t *testing.T) {
	tab := NewSinCosTable()
	assert.Equal(t, [4]int32{0, 65536, 0, 0}, tab[0])
	assert.Equal(t, int32(65536), tab[512][0])
	assert.InDelta(t, -65536, tab[1024][1], 1)
}

func TestDeriveShapes(t *testing.T) {
	tests := []struct {
		name    string
		maxWG   int
		ceiling int
		small   Shape
		large   Shape
	}{
		{"1024 lanes", 1024, DefaultLargeFaces, Shape{512, 1}, Shape{4096, 4}},
		{"capped", 1024, 2048, Shape{512, 1}, Shape{2048, 4}},
		{"256 lanes", 256, DefaultLargeFaces, Shape{512, 2}, Shape{1024, 4}},
		{"non power of two", 1000, DefaultLargeFaces, Shape{512, 1}, Shape{2048, 4}},
		{"no ceiling", 2048, 0, Shape{512, 1}, Shape{8192, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DeriveShapes(tt.maxWG, tt.ceiling)
			require.NoError(t, err)
			assert.Equal(t, Shape{UnorderedFaces, 1}, s.Of(TierUnordered))
			assert.Equal(t, tt.small, s.Of(TierSmall))
			assert.Equal(t, tt.large, s.Of(TierLarge))
			assert.LessOrEqual(t, s.Of(TierLarge).Local(), tt.maxWG)
		})
	}

	_, err := DeriveShapes(64, DefaultLargeFaces)
	assert.ErrorIs(t, err, ErrShape)
}

func TestShapesClassify(t *testing.T) {
	s := DefaultShapes()
	tier, ok := s.Classify(3)
	assert.True(t, ok)
	assert.Equal(t, TierSmall, tier)

	tier, ok = s.Classify(513)
	assert.True(t, ok)
	assert.Equal(t, TierLarge, tier)

	_, ok = s.Classify(4097)
	assert.False(t, ok)

	assert.Equal(t, (12+12+18+1+4096)*4, s.Of(TierLarge).Scratch())
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("huge")
	assert.Error(t, err)
}

func TestUniformLayout(t *testing.T) {
	u := &Uniform{CameraYaw: 1, CameraPitch: 2, CenterX: 3, CenterY: 4, Zoom: 5, CameraX: 6, CameraY: 7, CameraZ: -8, SinCos: *NewSinCosTable()}
	b, err := u.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, UniformSize)

	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(b[16:]))
	assert.Equal(t, int32(-8), int32(binary.LittleEndian.Uint32(b[28:])))
	// second table entry starts after the header and one int4
	assert.Equal(t, uint32(u.SinCos[1][0]), binary.LittleEndian.Uint32(b[48:]))

	var back Uniform
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, *u, back)
	assert.ErrorIs(t, back.UnmarshalBinary(b[:10]), ErrShortBuffer)
}

func TestMarshalModels(t *testing.T) {
	b := MarshalModels([]ModelInfo{{Offset: 1, Flags: FlagStatic}, {Z: 9}})
	require.Len(t, b, 2*ModelInfoSize)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(0x80000000), binary.LittleEndian.Uint32(b[16:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(b[ModelInfoSize+28:]))
}

func TestRun(t *testing.T) {
	faces := []faceSpec{{10, 5}, {50, 5}, {30, 5}}
	m, in, _ := buildModel(faces)
	out := &Outputs{Vertices: make([]Vertex, 9*4), UVs: make([]UV, 9*4)}

	models := make([]ModelInfo, 4)
	for i := range models {
		models[i] = m
		models[i].Idx = int32(i * 9)
	}

	require.NoError(t, Run(context.Background(), TierSmall, DefaultShapes().Of(TierSmall), models, in, testUniform(), out))
	for i := range models {
		assert.Equal(t, int32(49), out.Vertices[i*9][2], "model %d", i)
	}
}

func TestRunStopsOnError(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 5}})
	bad := m
	bad.Idx = 100

	err := Run(context.Background(), TierUnordered, DefaultShapes().Of(TierUnordered), []ModelInfo{m, bad}, in, nil, out)
	require.ErrorIs(t, err, ErrModelRange)
	assert.Contains(t, err.Error(), "model 1")

	err = Run(context.Background(), TierLarge, DefaultShapes().Of(TierLarge), []ModelInfo{m}, in, nil, out)
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	m, in, out := buildModel([]faceSpec{{10, 5}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, TierSmall, DefaultShapes().Of(TierSmall), []ModelInfo{m}, in, testUniform(), out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBarrier(t *testing.T) {
	const lanes, rounds = 16, 50
	b := newBarrier(lanes)
	var counter atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan int32, lanes*rounds)

	for l := 0; l < lanes; l++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				counter.Add(1)
				b.wait()
				if got := counter.Load(); got < int32((r+1)*lanes) {
					errs <- got
				}
				b.wait()
			}
		}()
	}
	wg.Wait()
	close(errs)
	assert.Empty(t, errs)
	assert.Equal(t, int32(lanes*rounds), counter.Load())
}
