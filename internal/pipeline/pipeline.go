// Package pipeline runs one picture through gradient computation, edge
// extraction, contour selection and toolpath generation, and writes the
// resulting artifacts.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/edge"
	"hydrawlics/internal/errs"
	hdimage "hydrawlics/internal/image"
	"hydrawlics/internal/manifest"
	"hydrawlics/internal/metrics"
	"hydrawlics/internal/toolpath"
	"hydrawlics/pkg/geometry"
)

// Vision is the set of image primitives the pipeline relies on.
type Vision interface {
	Gradient(img image.Image) (*edge.GradientField, error)
	Trace(m *edge.Map) ([][]geometry.Point2D, error)
	Simplify(path []geometry.Point2D) []geometry.Point2D
	Render(img image.Image, paths [][]geometry.Point2D, path string) error
}

// Stage names a pipeline step.
type Stage string

const (
	StageLoad      Stage = "load"
	StageGradient  Stage = "gradient"
	StageEdges     Stage = "edges"
	StageContours  Stage = "contours"
	StageArtifacts Stage = "artifacts"
)

// Checkpoint is the progress percentage reported once a stage finishes.
// Stages without a checkpoint report nothing.
func (s Stage) Checkpoint() int {
	switch s {
	case StageLoad:
		return 10
	case StageGradient:
		return 30
	case StageEdges:
		return 50
	case StageArtifacts:
		return 70
	default:
		return 0
	}
}

// Progress is called after each stage.
type Progress func(stage Stage, percent int)

// Artifact file names inside a job's output directory.
const (
	RenderFile      = "overlay.png"
	ProgramFile     = "program.gcode"
	CoordinatesFile = "coordinates.csv"
	ManifestFile    = manifest.FileName
)

// Params bundles the tunables of every stage.
type Params struct {
	Edge      edge.Thresholds
	Contours  contour.Options
	Toolpath  toolpath.Config
	Placement toolpath.Placement
	// ScaleFromDPI overrides Placement.Scale with millimetres per pixel when
	// the picture records its resolution.
	ScaleFromDPI bool
}

// DefaultParams returns the default settings of every stage.
func DefaultParams() Params {
	return Params{
		Edge:      edge.DefaultThresholds(),
		Contours:  contour.DefaultOptions(),
		Toolpath:  toolpath.DefaultConfig(),
		Placement: toolpath.DefaultPlacement(),
	}
}

// WithSelection returns a copy of p selecting percent of the contours.
func (p Params) WithSelection(percent float64) Params {
	p.Contours = p.Contours.WithSelection(percent)
	return p
}

// Frame is what placement needs to know about the source picture.
type Frame struct {
	Height              int
	MillimetresPerPixel float64
}

// Artifacts lists the files written for a run.
type Artifacts struct {
	Dir             string
	RenderPath      string
	ProgramPath     string
	CoordinatesPath string
	ManifestPath    string
}

// Result is everything a run produced.
type Result struct {
	Frame     Frame
	Edges     *edge.Map
	Contours  *contour.Set
	Program   *toolpath.Program
	Artifacts Artifacts
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the stage timing sink.
func WithMetrics(m metrics.JobMetrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline is safe for concurrent runs; it holds no per-run state.
type Pipeline struct {
	vision  Vision
	params  Params
	log     *slog.Logger
	metrics metrics.JobMetrics
}

// New creates a Pipeline.
func New(v Vision, params Params, opts ...Option) *Pipeline {
	p := &Pipeline{
		vision:  v,
		params:  params,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Params returns the settings the pipeline was built with.
func (p *Pipeline) Params() Params { return p.params }

// WithParams returns a pipeline sharing p's vision, logger and metrics but
// using params.
func (p *Pipeline) WithParams(params Params) *Pipeline {
	cp := *p
	cp.params = params
	return &cp
}

// Run processes the picture at inputPath and writes the artifacts into
// outDir. Every failure is tagged with the kind of the stage that failed.
func (p *Pipeline) Run(ctx context.Context, inputPath, outDir string, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(Stage, int) {}
	}

	start := time.Now()
	src, err := hdimage.Load(inputPath)
	if err != nil {
		return nil, errs.New(errs.Input, string(StageLoad), err)
	}
	if src.Width() == 0 || src.Height() == 0 {
		return nil, errs.Newf(errs.Input, string(StageLoad), "image %s has no pixels", filepath.Base(inputPath))
	}
	p.log.Debug("image loaded", "path", inputPath, "format", src.Format,
		"width", src.Width(), "height", src.Height(), "dpi", src.DPI)
	if err := p.checkpoint(ctx, StageLoad, start, progress); err != nil {
		return nil, err
	}

	start = time.Now()
	field, err := p.vision.Gradient(src.Image)
	if err != nil {
		return nil, errs.New(errs.Internal, string(StageGradient), err)
	}
	if err := p.checkpoint(ctx, StageGradient, start, progress); err != nil {
		return nil, err
	}

	start = time.Now()
	edges := edge.Extract(field, p.params.Edge)
	weak, strong := edges.Counts()
	p.log.Debug("edges extracted", "weak", weak, "strong", strong)
	if err := p.checkpoint(ctx, StageEdges, start, progress); err != nil {
		return nil, err
	}

	start = time.Now()
	set, err := p.contours(edges)
	if err != nil {
		return nil, err
	}
	if err := p.checkpoint(ctx, StageContours, start, progress); err != nil {
		return nil, err
	}

	start = time.Now()
	frame := Frame{Height: src.Height(), MillimetresPerPixel: src.MillimetresPerPixel()}
	prog, err := p.Program(set.Selected(), frame)
	if err != nil {
		return nil, err
	}
	artifacts, err := p.writeArtifacts(src, set, prog, outDir)
	if err != nil {
		return nil, err
	}
	if err := p.checkpoint(ctx, StageArtifacts, start, progress); err != nil {
		return nil, err
	}

	stats := prog.Stats()
	p.log.Info("image traced",
		"path", inputPath,
		"contours", set.Len(),
		"selected", len(set.Selected()),
		"moves", stats.Moves,
		"draw_length", stats.DrawLength,
	)

	return &Result{
		Frame:     frame,
		Edges:     edges,
		Contours:  set,
		Program:   prog,
		Artifacts: artifacts,
	}, nil
}

// contours traces the edge map and keeps the selected share of outlines.
// Area and perimeter are measured on the traced boundary; the stored points
// are the simplified polygon.
func (p *Pipeline) contours(edges *edge.Map) (*contour.Set, error) {
	paths, err := p.vision.Trace(edges)
	if err != nil {
		return nil, errs.New(errs.Internal, string(StageContours), err)
	}

	raw := make([]contour.Contour, 0, len(paths))
	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		c := contour.New(path)
		c.Points = p.vision.Simplify(path)
		raw = append(raw, c)
	}

	set := contour.Process(raw, p.params.Contours)
	if set.Empty() {
		return nil, errs.Newf(errs.Input, string(StageContours),
			"no contours with area above %g in %d traced outlines", p.params.Contours.MinArea, len(raw))
	}
	return set, nil
}

// Program places contours on the bed and generates the motion program.
func (p *Pipeline) Program(contours []contour.Contour, frame Frame) (*toolpath.Program, error) {
	placement := p.params.Placement
	if p.params.ScaleFromDPI && frame.MillimetresPerPixel > 0 {
		placement.Scale = frame.MillimetresPerPixel
	}

	paths := toolpath.Place(contour.Paths(contours), placement.Transform(float64(frame.Height)))
	prog, err := toolpath.Generate(paths, p.params.Toolpath)
	if err != nil {
		return nil, errs.New(errs.Input, "toolpath", err)
	}
	return prog, nil
}

func (p *Pipeline) writeArtifacts(src *hdimage.Source, set *contour.Set, prog *toolpath.Program, outDir string) (Artifacts, error) {
	const op = string(StageArtifacts)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Artifacts{}, errs.New(errs.Internal, op, fmt.Errorf("failed to create output directory: %w", err))
	}
	a := Artifacts{
		Dir:             outDir,
		RenderPath:      filepath.Join(outDir, RenderFile),
		ProgramPath:     filepath.Join(outDir, ProgramFile),
		CoordinatesPath: filepath.Join(outDir, CoordinatesFile),
		ManifestPath:    filepath.Join(outDir, ManifestFile),
	}

	selected := set.Selected()
	if err := p.vision.Render(src.Image, contour.Paths(selected), a.RenderPath); err != nil {
		return a, errs.New(errs.Internal, op, err)
	}
	if err := WriteFile(a.ProgramPath, func(w io.Writer) error {
		_, err := prog.WriteTo(w)
		return err
	}); err != nil {
		return a, errs.New(errs.Internal, op, err)
	}
	if err := WriteFile(a.CoordinatesPath, func(w io.Writer) error {
		return contour.WriteCSV(w, selected)
	}); err != nil {
		return a, errs.New(errs.Internal, op, err)
	}

	m := manifest.New(manifest.Settings{
		Edge:      p.params.Edge,
		Contours:  p.params.Contours,
		Toolpath:  p.params.Toolpath,
		Placement: p.params.Placement,
	})
	m.SetSource(a.ManifestPath, src.Path)
	m.Format = src.Format
	m.Width, m.Height, m.DPI = src.Width(), src.Height(), src.DPI
	m.Contours, m.Selected, m.Moves = set.Len(), len(selected), len(prog.Moves)
	m.SetArtifacts(a.ManifestPath, a.RenderPath, a.ProgramPath, a.CoordinatesPath)
	if err := m.Save(a.ManifestPath); err != nil {
		return a, errs.New(errs.Internal, op, fmt.Errorf("failed to write manifest: %w", err))
	}
	return a, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, stage Stage, start time.Time, progress Progress) error {
	p.metrics.ObserveStage(string(stage), time.Since(start))
	if err := ctx.Err(); err != nil {
		return errs.New(errs.Canceled, string(stage), err)
	}
	if pct := stage.Checkpoint(); pct > 0 {
		progress(stage, pct)
	}
	return nil
}

// WriteFile creates path and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	return nil
}
