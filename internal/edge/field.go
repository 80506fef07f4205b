// Package edge turns a gradient magnitude/angle field into a thinned,
// thresholded edge map.
package edge

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// GradientField holds per-pixel gradient magnitude and angle (degrees) over a
// rows x cols grid. Row index is y, column index is x.
type GradientField struct {
	Magnitude *mat.Dense
	Angle     *mat.Dense
}

// NewGradientField pairs a magnitude and an angle grid of identical size.
func NewGradientField(magnitude, angle *mat.Dense) (*GradientField, error) {
	if magnitude == nil || angle == nil {
		return &GradientField{}, nil
	}
	mr, mc := magnitude.Dims()
	ar, ac := angle.Dims()
	if mr != ar || mc != ac {
		return nil, fmt.Errorf("gradient field size mismatch: magnitude %dx%d, angle %dx%d", mc, mr, ac, ar)
	}
	return &GradientField{Magnitude: magnitude, Angle: angle}, nil
}

// Dims returns the grid size as rows (height) and cols (width). A field with
// missing grids is empty.
func (f *GradientField) Dims() (rows, cols int) {
	if f == nil || f.Magnitude == nil || f.Angle == nil {
		return 0, 0
	}
	return f.Magnitude.Dims()
}

// Class labels a pixel of the edge map after thresholding.
type Class uint8

const (
	ClassNone Class = iota
	ClassWeak
	ClassStrong
)

func (c Class) String() string {
	switch c {
	case ClassWeak:
		return "weak"
	case ClassStrong:
		return "strong"
	default:
		return "none"
	}
}

// Map is the suppressed, thresholded edge magnitude grid. Only zero versus
// non-zero is meaningful to consumers; the weak/strong labels are kept as
// metadata.
type Map struct {
	Magnitude *mat.Dense
	Weak      float64
	Strong    float64

	rows, cols int
	class      []Class
}

// Dims returns rows (height) and cols (width).
func (m *Map) Dims() (rows, cols int) {
	return m.rows, m.cols
}

// Empty reports whether the map covers no pixels.
func (m *Map) Empty() bool {
	return m.rows == 0 || m.cols == 0
}

// At returns the edge magnitude at pixel (x, y).
func (m *Map) At(x, y int) float64 {
	return m.Magnitude.At(y, x)
}

// ClassAt returns the threshold label at pixel (x, y).
func (m *Map) ClassAt(x, y int) Class {
	return m.class[y*m.cols+x]
}

// Counts returns the number of weak and strong edge pixels.
func (m *Map) Counts() (weak, strong int) {
	for _, c := range m.class {
		switch c {
		case ClassWeak:
			weak++
		case ClassStrong:
			strong++
		}
	}
	return weak, strong
}

// Mask returns a row-major binary mask with 255 for every non-zero edge
// pixel, suitable as contour tracer input.
func (m *Map) Mask() []uint8 {
	mask := make([]uint8, m.rows*m.cols)
	for y := 0; y < m.rows; y++ {
		for x := 0; x < m.cols; x++ {
			if m.Magnitude.At(y, x) != 0 {
				mask[y*m.cols+x] = 255
			}
		}
	}
	return mask
}
