package edge

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newField(t *testing.T, mag, ang [][]float64) *GradientField {
	t.Helper()

	rows, cols := len(mag), len(mag[0])
	m := mat.NewDense(rows, cols, nil)
	a := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.Set(y, x, mag[y][x])
			a.Set(y, x, ang[y][x])
		}
	}
	f, err := NewGradientField(m, a)
	require.NoError(t, err)
	return f
}

func constGrid(rows, cols int, v float64) [][]float64 {
	g := make([][]float64, rows)
	for y := range g {
		g[y] = make([]float64, cols)
		for x := range g[y] {
			g[y][x] = v
		}
	}
	return g
}

func TestFoldAngle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{45, 45},
		{180, 180},
		{200, 20},
		{350, 170},
		{-30, 30},
		{-200, 380},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, FoldAngle(tt.in), 1e-9, "fold(%v)", tt.in)
	}
}

func TestBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		folded float64
		want   Direction
	}{
		{0, Horizontal},
		{22.5, Horizontal},
		{22.6, Diagonal},
		{67.5, Diagonal},
		{90, Vertical},
		{112.5, Vertical},
		{135, AntiDiagonal},
		{157.5, AntiDiagonal},
		{170, Horizontal},
		{180, Horizontal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bucket(tt.folded), "bucket(%v)", tt.folded)
	}
}

func TestExtractSuppressesAlongGradient(t *testing.T) {
	t.Parallel()

	// A vertical ridge at x=2 with horizontal gradient direction.
	mag := [][]float64{
		{0.5, 5, 10, 5, 0.5},
		{0.5, 5, 10, 5, 0.5},
		{0.5, 5, 10, 5, 0.5},
	}
	f := newField(t, mag, constGrid(3, 5, 0))

	m := Extract(f, DefaultThresholds())

	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			if x == 2 {
				assert.Equal(t, 10.0, m.At(x, y))
				assert.Equal(t, ClassStrong, m.ClassAt(x, y))
				continue
			}
			assert.Zero(t, m.At(x, y), "pixel (%d,%d)", x, y)
			assert.Equal(t, ClassNone, m.ClassAt(x, y))
		}
	}
	assert.Equal(t, 1.0, m.Weak)
	assert.Equal(t, 5.0, m.Strong)
}

func TestExtractDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	mag := [][]float64{{1, 5, 10, 5, 1}}
	f := newField(t, mag, constGrid(1, 5, 0))
	_ = Extract(f, DefaultThresholds())

	assert.Equal(t, 5.0, f.Magnitude.At(0, 1))
}

func TestExtractVerticalAndDiagonalAxes(t *testing.T) {
	t.Parallel()

	// Horizontal ridge on row 1, gradient pointing down (90 degrees).
	mag := [][]float64{
		{2, 2, 2},
		{8, 8, 8},
		{2, 2, 2},
	}
	m := Extract(newField(t, mag, constGrid(3, 3, 90)), DefaultThresholds())
	for x := 0; x < 3; x++ {
		assert.Equal(t, 0.0, m.At(x, 0))
		assert.Equal(t, 8.0, m.At(x, 1))
		assert.Equal(t, 0.0, m.At(x, 2))
	}

	// Diagonal: center beats (0,0) and (2,2) but the off-axis corners are
	// only compared along their own axis.
	diag := [][]float64{
		{9, 1, 1},
		{1, 5, 1},
		{1, 1, 1},
	}
	m = Extract(newField(t, diag, constGrid(3, 3, 45)), DefaultThresholds())
	assert.Zero(t, m.At(1, 1), "center is weaker than its up-left neighbour")
	assert.Equal(t, 9.0, m.At(0, 0))
}

func TestExtractSkipsOutOfBoundsNeighbours(t *testing.T) {
	t.Parallel()

	mag := [][]float64{{7, 3}}
	m := Extract(newField(t, mag, constGrid(1, 2, 0)), DefaultThresholds())

	assert.Equal(t, 7.0, m.At(0, 0), "left neighbour is outside the grid")
	assert.Zero(t, m.At(1, 0))
}

func TestExtractAppliesWeakThreshold(t *testing.T) {
	t.Parallel()

	// Isolated peaks with no stronger neighbours survive suppression, so
	// only thresholding decides.
	mag := [][]float64{{100, 0, 9, 0, 10, 0, 49, 0, 50}}
	m := Extract(newField(t, mag, constGrid(1, 9, 0)), DefaultThresholds())

	assert.Equal(t, 100.0, m.At(0, 0))
	assert.Zero(t, m.At(2, 0), "below 10% of max")
	assert.Equal(t, 10.0, m.At(4, 0))
	assert.Equal(t, ClassWeak, m.ClassAt(4, 0))
	assert.Equal(t, ClassWeak, m.ClassAt(6, 0))
	assert.Equal(t, ClassStrong, m.ClassAt(8, 0))

	weak, strong := m.Counts()
	assert.Equal(t, 2, weak)
	assert.Equal(t, 2, strong)
}

func TestExtractNoValueBelowWeakThreshold(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		rows, cols := 5+rng.Intn(20), 5+rng.Intn(20)
		mag := mat.NewDense(rows, cols, nil)
		ang := mat.NewDense(rows, cols, nil)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				mag.Set(y, x, rng.Float64()*255)
				ang.Set(y, x, rng.Float64()*360)
			}
		}
		f, err := NewGradientField(mag, ang)
		require.NoError(t, err)

		m := Extract(f, DefaultThresholds())
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				v := m.At(x, y)
				if v != 0 {
					assert.GreaterOrEqual(t, v, m.Weak)
					assert.NotEqual(t, ClassNone, m.ClassAt(x, y))
				}
			}
		}
	}
}

func TestExtractEmptyField(t *testing.T) {
	t.Parallel()

	m := Extract(&GradientField{}, DefaultThresholds())
	assert.True(t, m.Empty())
	assert.Empty(t, m.Mask())

	var nilField *GradientField
	assert.True(t, Extract(nilField, DefaultThresholds()).Empty())
}

func TestExtractAllZeroField(t *testing.T) {
	t.Parallel()

	m := Extract(newField(t, constGrid(4, 4, 0), constGrid(4, 4, 0)), DefaultThresholds())
	weak, strong := m.Counts()
	assert.Zero(t, weak)
	assert.Zero(t, strong)
	for _, v := range m.Mask() {
		assert.Zero(t, v)
	}
}

func TestNewGradientFieldSizeMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewGradientField(mat.NewDense(2, 3, nil), mat.NewDense(3, 2, nil))
	assert.Error(t, err)
}

func TestThresholdsClamped(t *testing.T) {
	t.Parallel()

	th := Thresholds{WeakFraction: -1, StrongFraction: 2}.clamped()
	assert.Equal(t, 0.0, th.WeakFraction)
	assert.Equal(t, 1.0, th.StrongFraction)

	th = Thresholds{WeakFraction: 0.6, StrongFraction: 0.2}.clamped()
	assert.Equal(t, 0.6, th.StrongFraction)
}

// circleField builds the radial gradient of a bright disk of the given radius:
// magnitude peaks on the rim and the angle points away from the center.
func circleField(size int, cx, cy, radius float64) *GradientField {
	mag := mat.NewDense(size, size, nil)
	ang := mat.NewDense(size, size, nil)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			r := math.Hypot(dx, dy)
			mag.Set(y, x, math.Max(0, 100-60*math.Abs(r-radius)))
			deg := math.Atan2(dy, dx) * 180 / math.Pi
			if deg < 0 {
				deg += 360
			}
			ang.Set(y, x, deg)
		}
	}
	return &GradientField{Magnitude: mag, Angle: ang}
}

func TestExtractCircleYieldsThinRing(t *testing.T) {
	t.Parallel()

	const cx, cy, radius = 50.0, 50.0, 20.0
	m := Extract(circleField(101, cx, cy, radius), DefaultThresholds())

	var edges [][2]int
	rows, cols := m.Dims()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			r := math.Hypot(float64(x)-cx, float64(y)-cy)
			assert.InDelta(t, radius, r, 1.5, "edge pixel (%d,%d) off the rim", x, y)
			edges = append(edges, [2]int{x, y})
		}
	}
	require.NotEmpty(t, edges)

	// Every point on the rim has an edge pixel close by: the ring has no gaps.
	for deg := 0; deg < 360; deg++ {
		theta := float64(deg) * math.Pi / 180
		px, py := cx+radius*math.Cos(theta), cy+radius*math.Sin(theta)
		best := math.Inf(1)
		for _, e := range edges {
			best = math.Min(best, math.Hypot(float64(e[0])-px, float64(e[1])-py))
		}
		assert.LessOrEqual(t, best, 3.0, "gap in ring at %d degrees", deg)
	}
}
