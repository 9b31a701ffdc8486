package facesort

import "math"

// unit converts an orientation step (2048 per turn) to radians.
const unit = float32(math.Pi / 1024)

// NewSinCosTable builds the orientation table uploaded with the uniform.
func NewSinCosTable() *SinCosTable {
	var t SinCosTable
	for i := range t {
		a := float64(i) * math.Pi / 1024
		t[i][0] = int32(65536 * math.Sin(a))
		t[i][1] = int32(65536 * math.Cos(a))
	}
	return &t
}

func sin32(a int32) float32 { return float32(math.Sin(float64(float32(a) * unit))) }
func cos32(a int32) float32 { return float32(math.Cos(float64(float32(a) * unit))) }

// RotateVertex rotates v around the y axis by orientation using the table.
func RotateVertex(t *SinCosTable, v Vertex, orientation int32) Vertex {
	sc := t[orientation&0x7ff]
	s, c := sc[0], sc[1]
	x := (v[2]*s + v[0]*c) >> 16
	z := (v[2]*c - v[0]*s) >> 16
	return Vertex{x, v[1], z, v[3]}
}

// VertexDistance is the camera-space depth proxy of the legacy renderer. It
// is not a euclidean distance.
func VertexDistance(v Vertex, cameraYaw, cameraPitch int32) int32 {
	yawSin := int32(65536 * sin32(cameraYaw))
	yawCos := int32(65536 * cos32(cameraYaw))
	pitchSin := int32(65536 * sin32(cameraPitch))
	pitchCos := int32(65536 * cos32(cameraPitch))
	j := (v[2]*yawCos - v[0]*yawSin) >> 16
	return (v[1]*pitchSin + j*pitchCos) >> 16
}

// FaceDistance averages the depth of the three vertices.
func FaceDistance(a, b, c Vertex, cameraYaw, cameraPitch int32) int32 {
	da := VertexDistance(a, cameraYaw, cameraPitch)
	db := VertexDistance(b, cameraYaw, cameraPitch)
	dc := VertexDistance(c, cameraYaw, cameraPitch)
	return (da + db + dc) / 3
}

// ToScreen projects a camera-relative vertex. The z result is negated so that
// depth grows away from the viewer.
func ToScreen(v Vertex, u *Uniform) (x, y, z float32) {
	yawSin, yawCos := sin32(u.CameraYaw), cos32(u.CameraYaw)
	pitchSin, pitchCos := sin32(u.CameraPitch), cos32(u.CameraPitch)
	vx, vy, vz := float32(v[0]), float32(v[1]), float32(v[2])

	rotatedX := vz*yawSin + vx*yawCos
	rotatedZ := vz*yawCos - vx*yawSin
	var13 := vy*pitchCos - rotatedZ*pitchSin
	var12 := vy*pitchSin + rotatedZ*pitchCos

	zoom := float32(u.Zoom)
	x = rotatedX*zoom/var12 + float32(u.CenterX)
	y = var13*zoom/var12 + float32(u.CenterY)
	return x, y, -var12
}

// FaceVisible reports whether the rotated face, placed at pos, is front
// facing on screen.
func FaceVisible(u *Uniform, a, b, c, pos Vertex) bool {
	off := Vertex{pos[0] - u.CameraX, pos[1] - u.CameraY, pos[2] - u.CameraZ, 0}
	ax, ay, _ := ToScreen(a.Add(off), u)
	bx, by, _ := ToScreen(b.Add(off), u)
	cx, cy, _ := ToScreen(c.Add(off), u)
	return (ax-bx)*(cy-by)-(cx-bx)*(ay-by) > 0
}
