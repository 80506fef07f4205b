package pipeline

import (
	"bufio"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/errs"
	"hydrawlics/internal/manifest"
	"hydrawlics/internal/toolpath"
	"hydrawlics/pkg/geometry"
)

// shapes draws a filled disk and a filled square on black.
func shapes() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			dx, dy := x-15, y-20
			inDisk := dx*dx+dy*dy <= 100
			inSquare := x >= 40 && x < 50 && y >= 15 && y < 25
			if inDisk || inSquare {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestRunWritesArtifacts(t *testing.T) {
	t.Parallel()

	in := writePNG(t, shapes())
	out := filepath.Join(t.TempDir(), "job")
	v := &fakeVision{}

	var checkpoints []int
	res, err := New(v, DefaultParams()).Run(context.Background(), in, out, func(_ Stage, pct int) {
		checkpoints = append(checkpoints, pct)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{10, 30, 50, 70}, checkpoints)
	assert.Equal(t, 40, res.Frame.Height)
	require.False(t, res.Contours.Empty())
	assert.Len(t, res.Contours.Selected(), res.Contours.Len())
	assert.EqualValues(t, 1, v.renders.Load())

	for _, path := range []string{res.Artifacts.RenderPath, res.Artifacts.ProgramPath, res.Artifacts.CoordinatesPath} {
		assert.FileExists(t, path)
	}

	f, err := os.Open(res.Artifacts.ProgramPath)
	require.NoError(t, err)
	defer f.Close()
	parsed, err := toolpath.Parse(f)
	require.NoError(t, err)
	assert.Equal(t, res.Program.Moves, parsed.Moves)
	assert.Len(t, parsed.Paths, len(res.Contours.Selected()))

	csv, err := os.Open(res.Artifacts.CoordinatesPath)
	require.NoError(t, err)
	defer csv.Close()
	scanner := bufio.NewScanner(csv)
	require.True(t, scanner.Scan())
	assert.Equal(t, "polygon_id,x,y", scanner.Text())

	m, err := manifest.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "png", m.Format)
	assert.Equal(t, 60, m.Width)
	assert.Equal(t, res.Contours.Len(), m.Contours)
	assert.Equal(t, len(res.Program.Moves), m.Moves)
	assert.Equal(t, DefaultParams().Toolpath, m.Settings.Toolpath)
	assert.Equal(t, ProgramFile, m.ProgramPath)
	assert.Equal(t, res.Artifacts.ProgramPath, m.Program(res.Artifacts.ManifestPath))
	src, err := filepath.Abs(in)
	require.NoError(t, err)
	assert.Equal(t, src, mustAbs(t, m.Source(res.Artifacts.ManifestPath)))
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

func TestRunSelectsLargestShare(t *testing.T) {
	t.Parallel()

	in := writePNG(t, shapes())
	params := DefaultParams().WithSelection(50)

	res, err := New(&fakeVision{}, params).Run(context.Background(), in, t.TempDir(), nil)
	require.NoError(t, err)

	total := res.Contours.Len()
	want := max(1, int(math.Round(float64(total)*0.5)))
	selected := res.Contours.Selected()
	require.Len(t, selected, want)
	assert.Equal(t, res.Contours.All()[total-want:], selected)
	assert.Len(t, res.Program.Paths, want)
}

func TestRunFailures(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	badConfig := DefaultParams()
	badConfig.Toolpath.ZSafe = -1

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not a picture"), 0o644))

	tests := []struct {
		name   string
		ctx    context.Context
		input  string
		vision *fakeVision
		params Params
		kind   errs.Kind
	}{
		{"missing file", context.Background(), filepath.Join(t.TempDir(), "missing.png"), &fakeVision{}, DefaultParams(), errs.Input},
		{"undecodable file", context.Background(), garbage, &fakeVision{}, DefaultParams(), errs.Input},
		{"blank picture", context.Background(), writePNG(t, image.NewGray(image.Rect(0, 0, 20, 20))), &fakeVision{}, DefaultParams(), errs.Input},
		{"gradient failure", context.Background(), writePNG(t, shapes()), &fakeVision{gradientErr: errors.New("boom")}, DefaultParams(), errs.Internal},
		{"invalid toolpath", context.Background(), writePNG(t, shapes()), &fakeVision{}, badConfig, errs.Input},
		{"canceled", canceled, writePNG(t, shapes()), &fakeVision{}, DefaultParams(), errs.Canceled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var reported []Stage
			_, err := New(tt.vision, tt.params).Run(tt.ctx, tt.input, t.TempDir(), func(s Stage, _ int) {
				reported = append(reported, s)
			})
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.NotContains(t, reported, StageArtifacts)
			assert.Zero(t, tt.vision.renders.Load())
		})
	}
}

func TestProgramScalesFromDPI(t *testing.T) {
	t.Parallel()

	triangle := contour.New([]geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}})

	params := DefaultParams()
	params.ScaleFromDPI = true
	prog, err := New(&fakeVision{}, params).Program([]contour.Contour{triangle}, Frame{Height: 20, MillimetresPerPixel: 0.5})
	require.NoError(t, err)
	assert.Equal(t, [][]geometry.Point2D{{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}}}, prog.Paths)

	prog, err = New(&fakeVision{}, DefaultParams()).Program([]contour.Contour{triangle}, Frame{Height: 20, MillimetresPerPixel: 0.5})
	require.NoError(t, err)
	assert.Equal(t, [][]geometry.Point2D{triangle.Points}, prog.Paths)
}
