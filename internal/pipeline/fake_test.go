package pipeline

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"hydrawlics/internal/edge"
	"hydrawlics/pkg/geometry"
)

// fakeVision is a pure-Go stand-in for the OpenCV primitives.
type fakeVision struct {
	gradientErr error
	renders     atomic.Int32
}

func (f *fakeVision) Gradient(img image.Image) (*edge.GradientField, error) {
	if f.gradientErr != nil {
		return nil, f.gradientErr
	}
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	gray := func(x, y int) float64 {
		x = min(max(x, 0), cols-1)
		y = min(max(y, 0), rows-1)
		return float64(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
	}

	magnitude := mat.NewDense(rows, cols, nil)
	angle := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			gx := gray(x+1, y) - gray(x-1, y)
			gy := gray(x, y+1) - gray(x, y-1)
			magnitude.Set(y, x, math.Hypot(gx, gy))
			a := math.Atan2(gy, gx) * 180 / math.Pi
			if a < 0 {
				a += 360
			}
			angle.Set(y, x, a)
		}
	}
	return edge.NewGradientField(magnitude, angle)
}

// Trace returns every 8-connected region of the mask, its pixels ordered by
// angle around the region's centroid.
func (f *fakeVision) Trace(m *edge.Map) ([][]geometry.Point2D, error) {
	if m.Empty() {
		return nil, nil
	}
	rows, cols := m.Dims()
	mask := m.Mask()
	seen := make([]bool, len(mask))

	var paths [][]geometry.Point2D
	for start := range mask {
		if mask[start] == 0 || seen[start] {
			continue
		}
		var region []geometry.Point2D
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			x, y := i%cols, i/cols
			region = append(region, geometry.Point2D{X: float64(x), Y: float64(y)})
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
						continue
					}
					j := ny*cols + nx
					if mask[j] != 0 && !seen[j] {
						seen[j] = true
						queue = append(queue, j)
					}
				}
			}
		}

		var cx, cy float64
		for _, p := range region {
			cx += p.X
			cy += p.Y
		}
		cx /= float64(len(region))
		cy /= float64(len(region))
		sort.SliceStable(region, func(a, b int) bool {
			return math.Atan2(region[a].Y-cy, region[a].X-cx) < math.Atan2(region[b].Y-cy, region[b].X-cx)
		})
		paths = append(paths, region)
	}
	return paths, nil
}

func (f *fakeVision) Simplify(path []geometry.Point2D) []geometry.Point2D {
	return geometry.SimplifyClosed(path, 0.5)
}

func (f *fakeVision) Render(img image.Image, _ [][]geometry.Point2D, path string) error {
	f.renders.Add(1)
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, img)
}
