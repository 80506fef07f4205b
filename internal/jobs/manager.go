package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/device"
	"hydrawlics/internal/errs"
	hdimage "hydrawlics/internal/image"
	"hydrawlics/internal/metrics"
	"hydrawlics/internal/pipeline"
	"hydrawlics/internal/toolpath"
)

// TransferCheckpoint is the progress reported once the program reached the
// plotter.
const TransferCheckpoint = 80

// Input describes a picture to process. Exactly one of Body or Path is used:
// Body is saved into the upload directory, Path is read in place.
type Input struct {
	Filename string
	Body     io.Reader
	Path     string
	// Plot sends the program to the plotter after the artifacts are written.
	Plot bool
	// Percent overrides the contour selection when non-zero. Out of range
	// values are clamped to [1,100].
	Percent float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the job metrics sink.
func WithMetrics(jm metrics.JobMetrics) Option {
	return func(m *Manager) {
		if jm != nil {
			m.metrics = jm
		}
	}
}

// WithDevice enables plotting through opener.
func WithDevice(opener device.Opener, cfg device.Config, opts ...device.Option) Option {
	return func(m *Manager) {
		m.opener = opener
		m.deviceCfg = cfg
		m.deviceOpts = opts
	}
}

// Manager runs one worker goroutine per job.
type Manager struct {
	registry  *Registry
	pipeline  *pipeline.Pipeline
	uploadDir string
	outputDir string

	opener     device.Opener
	deviceCfg  device.Config
	deviceOpts []device.Option
	deviceSlot chan struct{} // one plotter session at a time

	log     *slog.Logger
	metrics metrics.JobMetrics
	now     func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewManager creates a Manager storing uploads in uploadDir and artifacts in
// a per-job directory under outputDir.
func NewManager(reg *Registry, p *pipeline.Pipeline, uploadDir, outputDir string, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		registry:   reg,
		pipeline:   p,
		uploadDir:  uploadDir,
		outputDir:  outputDir,
		deviceSlot: make(chan struct{}, 1),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    metrics.Nop{},
		now:        time.Now,
		ctx:        ctx,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PlotterEnabled reports whether jobs may ask for a plotter transfer.
func (m *Manager) PlotterEnabled() bool { return m.opener != nil }

// Submit registers a queued job and starts processing it in the background.
// The job outlives ctx; use Cancel to stop it.
func (m *Manager) Submit(ctx context.Context, in Input) (string, error) {
	const op = "jobs.Submit"

	filename := SanitizeFilename(in.Filename)
	if filename == "" && in.Path != "" {
		filename = SanitizeFilename(filepath.Base(in.Path))
	}
	if !hdimage.IsAllowed(filename) {
		return "", errs.Newf(errs.Input, op, "file type not allowed: %q", in.Filename)
	}
	if in.Plot && !m.PlotterEnabled() {
		return "", errs.Newf(errs.Input, op, "no plotter configured")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.New(errs.Canceled, op, err)
	}

	id := uuid.NewString()
	inputPath := in.Path
	if in.Body != nil {
		if err := os.MkdirAll(m.uploadDir, 0o755); err != nil {
			return "", errs.New(errs.Internal, op, fmt.Errorf("failed to create upload directory: %w", err))
		}
		inputPath = filepath.Join(m.uploadDir, id+"_"+filename)
		if err := pipeline.WriteFile(inputPath, func(w io.Writer) error {
			_, err := io.Copy(w, in.Body)
			return err
		}); err != nil {
			return "", errs.New(errs.Internal, op, err)
		}
	}
	if inputPath == "" {
		return "", errs.Newf(errs.Input, op, "no picture provided")
	}

	job := newJob(id, filename, inputPath, in.Plot, m.now())
	jobCtx, cancel := context.WithCancel(m.ctx)
	job.cancel = cancel
	if err := m.registry.Put(job); err != nil {
		cancel()
		return "", errs.New(errs.Internal, op, err)
	}
	m.metrics.IncJobsSubmitted()
	m.log.Info("job queued", "job_id", id, "filename", filename, "plot", in.Plot)

	params := m.pipeline.Params()
	if in.Percent != 0 {
		params = params.WithSelection(in.Percent)
	}

	m.wg.Add(1)
	go m.run(jobCtx, job, m.pipeline.WithParams(params))
	return id, nil
}

func (m *Manager) run(ctx context.Context, job *Job, p *pipeline.Pipeline) {
	defer m.wg.Done()
	defer job.cancel()

	if err := job.start(); err != nil {
		return
	}

	res, err := p.Run(ctx, job.inputPath, filepath.Join(m.outputDir, job.id), func(_ pipeline.Stage, pct int) {
		job.advance(pct)
	})
	if err != nil {
		m.finish(job, err)
		return
	}
	job.record(res)

	if job.plot {
		if err := m.transfer(ctx, job, res.Program); err != nil {
			m.finish(job, err)
			return
		}
		job.advance(TransferCheckpoint)
	}

	m.finish(job, nil)
}

// transfer sends the program to the plotter. Only one session is open at a
// time; other jobs wait for the slot.
func (m *Manager) transfer(ctx context.Context, job *Job, prog *toolpath.Program) error {
	const op = "jobs.transfer"

	select {
	case m.deviceSlot <- struct{}{}:
	case <-ctx.Done():
		return errs.New(errs.Canceled, op, ctx.Err())
	}
	defer func() { <-m.deviceSlot }()

	opts := make([]device.Option, 0, len(m.deviceOpts)+1)
	opts = append(opts, m.deviceOpts...)
	opts = append(opts, device.WithLogger(m.log.With("job_id", job.id)))
	sess, err := device.Open(ctx, m.opener, m.deviceCfg, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	report, err := sess.SendProgram(ctx, prog.String())
	job.recordTransfer(report.Total, report.Acked)
	return err
}

func (m *Manager) finish(job *Job, err error) {
	if err == nil {
		if job.complete(m.now()) == nil {
			m.metrics.IncJobsFinished(string(StatusCompleted))
			m.log.Info("job completed", "job_id", job.id)
		}
		return
	}
	if job.fail(err, m.now()) == nil {
		m.metrics.IncJobsFinished(string(StatusFailed))
		m.log.Error("job failed", "job_id", job.id, "kind", errs.KindOf(err), "error", err)
	}
}

// Get returns a snapshot of the job with the given id.
func (m *Manager) Get(id string) (Snapshot, error) {
	job, ok := m.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return job.Snapshot(), nil
}

// List returns every job, oldest first.
func (m *Manager) List() []Snapshot {
	return m.registry.List()
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	job, ok := m.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	select {
	case <-job.Done():
		return job.Snapshot(), nil
	case <-ctx.Done():
		return job.Snapshot(), ctx.Err()
	}
}

// Cancel stops a running job. The job fails with kind Canceled and any
// plotter session it holds is released.
func (m *Manager) Cancel(id string) error {
	job, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if job.Snapshot().Status.Terminal() {
		return ErrTerminal
	}
	job.cancel()
	return nil
}

// Program regenerates the motion program of a completed job for a different
// selection percentage without reprocessing the picture.
func (m *Manager) Program(id string, percent float64) (*toolpath.Program, error) {
	selected, frame, err := m.reselect(id, percent)
	if err != nil {
		return nil, err
	}
	return m.pipeline.Program(selected, frame)
}

// Coordinates returns the contours of a completed job for a selection
// percentage.
func (m *Manager) Coordinates(id string, percent float64) ([]contour.Contour, error) {
	selected, _, err := m.reselect(id, percent)
	return selected, err
}

func (m *Manager) reselect(id string, percent float64) ([]contour.Contour, pipeline.Frame, error) {
	job, ok := m.registry.Get(id)
	if !ok {
		return nil, pipeline.Frame{}, ErrNotFound
	}
	set, frame, err := job.selection()
	if err != nil {
		return nil, pipeline.Frame{}, err
	}
	if percent == 0 {
		percent = set.Percent()
	}
	return set.Selection(percent), frame, nil
}

// Close cancels every running job and waits for the workers to exit.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.TrimLeft(name, ".")
}
