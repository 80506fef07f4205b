package edge

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Thresholds sets the weak and strong edge cut-offs as fractions of the
// field's maximum magnitude.
type Thresholds struct {
	WeakFraction   float64 `mapstructure:"weak_fraction" yaml:"weak_fraction" json:"weak_fraction"`
	StrongFraction float64 `mapstructure:"strong_fraction" yaml:"strong_fraction" json:"strong_fraction"`
}

// DefaultThresholds returns the 0.1 / 0.5 split.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WeakFraction:   0.1,
		StrongFraction: 0.5,
	}
}

// clamped keeps both fractions in [0,1] and strong at or above weak.
func (t Thresholds) clamped() Thresholds {
	t.WeakFraction = math.Min(math.Max(t.WeakFraction, 0), 1)
	t.StrongFraction = math.Min(math.Max(t.StrongFraction, 0), 1)
	if t.StrongFraction < t.WeakFraction {
		t.StrongFraction = t.WeakFraction
	}
	return t
}

// Direction is one of the four compass axes used for suppression.
type Direction int

const (
	Horizontal Direction = iota
	Diagonal             // up-left to down-right in image coordinates
	Vertical
	AntiDiagonal // down-left to up-right in image coordinates
)

// offsets returns the (dx, dy) of the two neighbours along the axis.
func (d Direction) offsets() (dx1, dy1, dx2, dy2 int) {
	switch d {
	case Diagonal:
		return -1, -1, 1, 1
	case Vertical:
		return 0, -1, 0, 1
	case AntiDiagonal:
		return -1, 1, 1, -1
	default:
		return -1, 0, 1, 0
	}
}

// FoldAngle maps an angle into [0,180]. Only values whose magnitude exceeds
// 180 are reflected; this is kept exactly as the reference detector does it.
func FoldAngle(angle float64) float64 {
	if math.Abs(angle) > 180 {
		return math.Abs(angle - 180)
	}
	return math.Abs(angle)
}

// Bucket picks the suppression axis for a folded angle.
func Bucket(folded float64) Direction {
	switch {
	case folded <= 22.5:
		return Horizontal
	case folded <= 67.5:
		return Diagonal
	case folded <= 112.5:
		return Vertical
	case folded <= 157.5:
		return AntiDiagonal
	default:
		return Horizontal
	}
}

// Extract runs non-maximum suppression and double thresholding over the
// field. The field is not modified. Weak edges are not linked to strong ones.
func Extract(field *GradientField, th Thresholds) *Map {
	rows, cols := field.Dims()
	if rows == 0 || cols == 0 {
		return &Map{}
	}
	th = th.clamped()

	mag := mat.DenseCopyOf(field.Magnitude)
	maxMag := floats.Max(mag.RawMatrix().Data)
	weak := th.WeakFraction * maxMag
	strong := th.StrongFraction * maxMag

	suppress(mag, field.Angle, rows, cols)

	class := make([]Class, rows*cols)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			v := mag.At(y, x)
			switch {
			case v == 0:
			case v < weak:
				mag.Set(y, x, 0)
			case v < strong:
				class[y*cols+x] = ClassWeak
			default:
				class[y*cols+x] = ClassStrong
			}
		}
	}

	return &Map{
		Magnitude: mag,
		Weak:      weak,
		Strong:    strong,
		rows:      rows,
		cols:      cols,
		class:     class,
	}
}

// suppress zeroes every pixel weaker than an in-bounds neighbour along its
// gradient axis. It works in place, column by column, so a pixel compares
// against neighbours that may already have been zeroed.
func suppress(mag *mat.Dense, angle mat.Matrix, rows, cols int) {
	inBounds := func(x, y int) bool {
		return x >= 0 && x < cols && y >= 0 && y < rows
	}

	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			dir := Bucket(FoldAngle(angle.At(y, x)))
			dx1, dy1, dx2, dy2 := dir.offsets()
			v := mag.At(y, x)

			if nx, ny := x+dx1, y+dy1; inBounds(nx, ny) && v < mag.At(ny, nx) {
				mag.Set(y, x, 0)
				continue
			}
			if nx, ny := x+dx2, y+dy2; inBounds(nx, ny) && v < mag.At(ny, nx) {
				mag.Set(y, x, 0)
			}
		}
	}
}
