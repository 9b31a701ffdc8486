package compositor

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed kernels/*.cl
var kernelFS embed.FS

var kernelTemplates = template.Must(template.New("kernels").Option("missingkey=error").ParseFS(kernelFS, "kernels/*.cl"))

// variant is one compiled kernel configuration.
type variant struct {
	name string // program and kernel name
	tier Tier
	file string
}

var variants = [...]variant{
	{name: "computeUnordered", tier: TierUnordered, file: "comp_unordered.cl"},
	{name: "computeSmall", tier: TierSmall, file: "comp.cl"},
	{name: "computeLarge", tier: TierLarge, file: "comp.cl"},
}

func variantFor(t Tier) variant {
	return variants[t]
}

type kernelParams struct {
	KernelName string
	Faces      int
	Stride     int
	Local      int
	SharedSize int
}

// KernelSource assembles the OpenCL C source of a tier's kernel for the
// given shape.
func KernelSource(t Tier, shape TierShape) (string, error) {
	if t < TierUnordered || t > TierLarge {
		return "", fmt.Errorf("compositor: unknown tier %d", int(t))
	}
	if shape.Faces <= 0 || shape.Stride <= 0 || shape.Faces%shape.Stride != 0 {
		return "", fmt.Errorf("compositor: invalid shape %+v for %s tier", shape, t)
	}
	v := variantFor(t)

	var buf bytes.Buffer
	err := kernelTemplates.ExecuteTemplate(&buf, v.file, kernelParams{
		KernelName: v.name,
		Faces:      shape.Faces,
		Stride:     shape.Stride,
		Local:      shape.Local(),
		SharedSize: shape.Scratch(),
	})
	if err != nil {
		return "", fmt.Errorf("compositor: assemble %s: %w", v.name, err)
	}
	return buf.String(), nil
}
