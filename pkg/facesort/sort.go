package facesort

import (
	"fmt"
	"sync"
)

// face is the private state a lane keeps for one face across the steps.
type face struct {
	a, b, c  Vertex // rotated
	priority int32
	distance int32
	band     int32
	slot     int32
}

// group runs one model through the sort.
type group struct {
	m     ModelInfo
	n     int // faces processed, min(Size, shape.Faces)
	shape Shape
	in    *Inputs
	uni   *Uniform
	out   *Outputs
	s     *shared
	bar   *barrier
}

// SortModel orders the faces of one model by mapped priority band and
// distance and writes them to out starting at m.Idx. Faces beyond the
// shape's capacity are not processed.
func SortModel(m ModelInfo, shape Shape, in *Inputs, uni *Uniform, out *Outputs) error {
	if err := shape.validate(); err != nil {
		return err
	}
	if uni == nil {
		return fmt.Errorf("facesort: nil uniform")
	}
	n, err := checkModel(m, shape, in, out)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	g := &group{
		m:     m,
		n:     n,
		shape: shape,
		in:    in,
		uni:   uni,
		out:   out,
		s:     newShared(shape.Faces),
		bar:   newBarrier(shape.Local()),
	}

	var wg sync.WaitGroup
	for lane := 0; lane < shape.Local(); lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			g.lane(lane)
		}(lane)
	}
	wg.Wait()
	return nil
}

func (g *group) lane(lane int) {
	base := lane * g.shape.Stride
	faces := make([]face, g.shape.Stride)

	if base == 0 {
		g.s.reset()
	}
	for i := range faces {
		g.getFace(base+i, &faces[i])
	}
	g.bar.wait()

	for i := range faces {
		g.addFacePrioDistance(base+i, &faces[i])
	}
	g.bar.wait()

	for i := range faces {
		g.mapFacePriority(base+i, &faces[i])
	}
	g.bar.wait()

	for i := range faces {
		g.insertFace(base+i, &faces[i])
	}
	g.bar.wait()

	for i := range faces {
		g.sortAndInsert(base+i, &faces[i])
	}
}

func (g *group) source() []Vertex {
	if g.m.Static() {
		return g.in.Vertices
	}
	return g.in.TempVertices
}

func (g *group) uvSource() []UV {
	if g.m.Static() {
		return g.in.UVs
	}
	return g.in.TempUVs
}

func (g *group) getFace(id int, f *face) {
	if id >= g.n {
		*f = face{}
		return
	}
	src := g.source()
	at := int(g.m.Offset) + id*3
	orientation := g.m.Orientation()
	f.a = RotateVertex(&g.uni.SinCos, src[at], orientation)
	f.b = RotateVertex(&g.uni.SinCos, src[at+1], orientation)
	f.c = RotateVertex(&g.uni.SinCos, src[at+2], orientation)

	// every vertex of a face carries the same priority
	f.priority = src[at].Priority()
	if radius := g.m.Radius(); radius != 0 {
		f.distance = FaceDistance(f.a, f.b, f.c, g.uni.CameraYaw, g.uni.CameraPitch) + radius
	} else {
		f.distance = 0
	}
}

func (g *group) addFacePrioDistance(id int, f *face) {
	if id >= g.n || f.priority >= Bands {
		return
	}
	if !FaceVisible(g.uni, f.a, f.b, f.c, g.m.Pos()) {
		return
	}
	g.s.totalNum[f.priority].Add(1)
	g.s.totalDistance[f.priority].Add(f.distance)
	if f.priority == 10 {
		g.s.atomicMin10(f.distance)
	}
}

func (g *group) mapFacePriority(id int, f *face) {
	if id >= g.n {
		return
	}
	avg1, avg2, avg3 := g.s.averages()
	f.band = PriorityMap(f.priority, f.distance, g.s.min10.Load(), avg1, avg2, avg3)
	f.slot = g.s.totalMappedNum[f.band].Add(1) - 1
}

func (g *group) insertFace(id int, f *face) {
	if id >= g.n {
		return
	}
	g.s.renderPris[g.s.prioOffset(f.band)+f.slot] = renderKey(f.distance, id)
}

func (g *group) sortAndInsert(id int, f *face) {
	if id >= g.n {
		return
	}
	start := g.s.prioOffset(f.band)
	end := start + g.s.totalMappedNum[f.band].Load()
	key := renderKey(f.distance, id)

	pos := start
	for _, other := range g.s.renderPris[start:end] {
		if other > key {
			pos++
		}
	}

	at := int(g.m.Idx) + int(pos)*3
	p := g.m.Pos()
	g.out.Vertices[at] = p.Add(f.a)
	g.out.Vertices[at+1] = p.Add(f.b)
	g.out.Vertices[at+2] = p.Add(f.c)
	g.writeUVs(id, at)
}

func (g *group) writeUVs(id, at int) {
	if g.out.UVs == nil {
		return
	}
	if g.m.UVOffset < 0 {
		g.out.UVs[at] = UV{}
		g.out.UVs[at+1] = UV{}
		g.out.UVs[at+2] = UV{}
		return
	}
	src := g.uvSource()
	from := int(g.m.UVOffset) + id*3
	copy(g.out.UVs[at:at+3], src[from:from+3])
}

// UnorderedModel writes the faces of m to out in source order, translated
// by the model position and without rotation.
func UnorderedModel(m ModelInfo, shape Shape, in *Inputs, out *Outputs) error {
	if err := shape.validate(); err != nil {
		return err
	}
	n, err := checkModel(m, shape, in, out)
	if err != nil {
		return err
	}
	g := &group{m: m, n: n, in: in, out: out}
	src := g.source()
	p := m.Pos()
	for id := 0; id < n; id++ {
		from := int(m.Offset) + id*3
		at := int(m.Idx) + id*3
		for k := 0; k < 3; k++ {
			out.Vertices[at+k] = p.Add(src[from+k])
		}
		g.writeUVs(id, at)
	}
	return nil
}

// checkModel validates every index the model will touch and returns the
// number of faces to process.
func checkModel(m ModelInfo, shape Shape, in *Inputs, out *Outputs) (int, error) {
	if m.Size < 0 || m.Offset < 0 || m.Idx < 0 {
		return 0, fmt.Errorf("%w: offset %d, size %d, idx %d", ErrModelRange, m.Offset, m.Size, m.Idx)
	}
	n := min(int(m.Size), shape.Faces)
	if n == 0 {
		return 0, nil
	}
	verts := n * 3

	src := in.TempVertices
	if m.Static() {
		src = in.Vertices
	}
	if int(m.Offset)+verts > len(src) {
		return 0, fmt.Errorf("%w: vertices [%d, %d) of %d", ErrModelRange, m.Offset, int(m.Offset)+verts, len(src))
	}
	if int(m.Idx)+verts > len(out.Vertices) {
		return 0, fmt.Errorf("%w: output [%d, %d) of %d", ErrModelRange, m.Idx, int(m.Idx)+verts, len(out.Vertices))
	}
	if out.UVs != nil {
		if int(m.Idx)+verts > len(out.UVs) {
			return 0, fmt.Errorf("%w: output uvs [%d, %d) of %d", ErrModelRange, m.Idx, int(m.Idx)+verts, len(out.UVs))
		}
		if m.UVOffset >= 0 {
			uvs := in.TempUVs
			if m.Static() {
				uvs = in.UVs
			}
			if int(m.UVOffset)+verts > len(uvs) {
				return 0, fmt.Errorf("%w: uvs [%d, %d) of %d", ErrModelRange, m.UVOffset, int(m.UVOffset)+verts, len(uvs))
			}
		}
	}
	return n, nil
}
