// Package vision wraps the OpenCV primitives the tracing pipeline needs:
// gradients, external contour following, polygon approximation and the
// outline overlay.
package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"hydrawlics/internal/edge"
	"hydrawlics/pkg/colorutil"
	"hydrawlics/pkg/geometry"
)

// SimplifyMethod names the polygon approximation used by Simplify.
type SimplifyMethod string

const (
	// ApproxPolyDP uses OpenCV's approximation.
	ApproxPolyDP SimplifyMethod = "approx_poly_dp"
	// DouglasPeucker uses the pure-Go closed-contour simplifier.
	DouglasPeucker SimplifyMethod = "douglas_peucker"
)

// Options configures the OpenCV stages.
type Options struct {
	// SimplifyTolerance is the approximation epsilon as a fraction of the
	// closed contour's arc length.
	SimplifyTolerance float64
	SimplifyMethod    SimplifyMethod
	OutlineColor      color.RGBA
	OutlineThickness  int
}

// DefaultOptions returns a fine simplification and a magenta overlay.
func DefaultOptions() Options {
	return Options{
		SimplifyTolerance: 0.0005,
		SimplifyMethod:    ApproxPolyDP,
		OutlineColor:      colorutil.Magenta,
		OutlineThickness:  2,
	}
}

// Vision implements the pipeline's image primitives on top of gocv.
type Vision struct {
	opts Options
}

// New creates a Vision with the given options.
func New(opts Options) *Vision {
	return &Vision{opts: opts}
}

// Gradient computes the per-pixel gradient magnitude and direction (degrees)
// of the grayscale image using 3x3 Sobel derivatives.
func (v *Vision) Gradient(img image.Image) (*edge.GradientField, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return &edge.GradientField{}, nil
	}

	src, err := ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	gray32 := gocv.NewMat()
	defer gray32.Close()
	gray.ConvertTo(&gray32, gocv.MatTypeCV32F)

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(gray32, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray32, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	angle := gocv.NewMat()
	defer angle.Close()
	gocv.CartToPolar(gx, gy, &magnitude, &angle, true)

	field, err := edge.NewGradientField(matToDense(magnitude), matToDense(angle))
	if err != nil {
		return nil, fmt.Errorf("failed to build gradient field: %w", err)
	}
	return field, nil
}

// Trace follows the outer boundary of every connected region of the edge
// map's binary mask. Each boundary keeps every pixel it passes through.
func (v *Vision) Trace(m *edge.Map) ([][]geometry.Point2D, error) {
	if m == nil || m.Empty() {
		return nil, nil
	}
	rows, cols := m.Dims()

	mask, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, m.Mask())
	if err != nil {
		return nil, fmt.Errorf("failed to build edge mask: %w", err)
	}
	defer mask.Close()

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	paths := make([][]geometry.Point2D, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		paths = append(paths, fromImagePoints(contours.At(i).ToPoints()))
	}
	return paths, nil
}

// Simplify approximates a closed contour with fewer vertices. The tolerance
// scales with the contour's arc length.
func (v *Vision) Simplify(path []geometry.Point2D) []geometry.Point2D {
	if len(path) < 3 || v.opts.SimplifyTolerance <= 0 {
		return path
	}
	if v.opts.SimplifyMethod == DouglasPeucker {
		return geometry.SimplifyClosed(path, v.opts.SimplifyTolerance*geometry.Perimeter(path))
	}

	curve := gocv.NewPointVectorFromPoints(toImagePoints(path))
	defer curve.Close()

	epsilon := v.opts.SimplifyTolerance * gocv.ArcLength(curve, true)
	approx := gocv.ApproxPolyDP(curve, epsilon, true)
	defer approx.Close()

	return fromImagePoints(approx.ToPoints())
}

// Render draws the contour outlines over the source image and writes the
// result to path. The file extension selects the encoding.
func (v *Vision) Render(img image.Image, paths [][]geometry.Point2D, path string) error {
	canvas, err := ImageToMat(img)
	if err != nil {
		return err
	}
	defer canvas.Close()

	outlines := make([][]image.Point, 0, len(paths))
	for _, p := range paths {
		if len(p) > 0 {
			outlines = append(outlines, toImagePoints(p))
		}
	}
	if len(outlines) > 0 {
		pv := gocv.NewPointsVectorFromPoints(outlines)
		defer pv.Close()
		gocv.DrawContours(&canvas, pv, -1, v.opts.OutlineColor, v.opts.OutlineThickness)
	}

	if ok := gocv.IMWrite(path, canvas); !ok {
		return fmt.Errorf("failed to write overlay %s", path)
	}
	return nil
}

// ImageToMat converts a Go image.Image to a gocv.Mat in BGR format.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("image is empty")
	}

	bgr := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			bgr.SetUCharAt(y, x*3+0, uint8(b>>8))
			bgr.SetUCharAt(y, x*3+1, uint8(g>>8))
			bgr.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}

	return bgr, nil
}

// matToDense copies a single-channel CV_64F Mat into a gonum matrix.
func matToDense(m gocv.Mat) *mat.Dense {
	rows, cols := m.Rows(), m.Cols()
	d := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			d.Set(y, x, m.GetDoubleAt(y, x))
		}
	}
	return d
}

func toImagePoints(path []geometry.Point2D) []image.Point {
	pts := make([]image.Point, len(path))
	for i, p := range path {
		pts[i] = image.Point{X: int(p.X + 0.5), Y: int(p.Y + 0.5)}
	}
	return pts
}

func fromImagePoints(pts []image.Point) []geometry.Point2D {
	path := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		path[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	return path
}
