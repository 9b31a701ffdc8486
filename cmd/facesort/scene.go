package main

import (
	"math/rand/v2"

	"github.com/orneryd/facesort/pkg/facesort"
)

// scene is a synthetic frame: models scattered around the camera with
// random priorities, half of them in the static pool.
type scene struct {
	models []facesort.ModelInfo
	in     facesort.Inputs
	out    facesort.Outputs
	uni    *facesort.Uniform
}

func newScene(seed uint64, models, faces int) *scene {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	s := &scene{
		uni: &facesort.Uniform{
			CenterX: 400, CenterY: 300, Zoom: 512,
			CameraZ: -2000,
			SinCos:  *facesort.NewSinCosTable(),
		},
	}

	verts := models * faces * 3
	s.out.Vertices = make([]facesort.Vertex, verts)
	s.out.UVs = make([]facesort.UV, verts)

	for i := 0; i < models; i++ {
		static := i%2 == 0
		pool := &s.in.TempVertices
		uvs := &s.in.TempUVs
		if static {
			pool = &s.in.Vertices
			uvs = &s.in.UVs
		}
		offset := int32(len(*pool))
		for f := 0; f < faces*3; f++ {
			v := facesort.Vertex{
				rng.Int32N(256) - 128,
				rng.Int32N(256) - 128,
				rng.Int32N(256) - 128,
				0,
			}
			if f%3 == 0 {
				v[3] = rng.Int32N(facesort.Bands) << 16
			}
			*pool = append(*pool, v)
			*uvs = append(*uvs, facesort.UV{rng.Float32(), rng.Float32(), 0, 0})
		}
		s.models = append(s.models, facesort.ModelInfo{
			Offset:   offset,
			UVOffset: offset,
			Size:     int32(faces),
			Idx:      int32(i * faces * 3),
			Flags:    facesort.PackFlags(static, 222, rng.Int32N(facesort.SinCosTableSize)),
			X:        rng.Int32N(2048) - 1024,
			Y:        rng.Int32N(512) - 256,
			Z:        rng.Int32N(2048) - 1024,
		})
	}
	return s
}
