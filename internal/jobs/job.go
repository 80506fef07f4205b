// Package jobs tracks submitted pictures from upload to finished artifacts.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/errs"
	"hydrawlics/internal/pipeline"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrNotReady = errors.New("job not completed yet")
	ErrTerminal = errors.New("job already finished")
)

// Status is the lifecycle stage of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure is the recorded cause of a failed job.
type Failure struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Results points at the artifacts of a completed job.
type Results struct {
	RenderPath      string `json:"-"`
	ProgramPath     string `json:"-"`
	CoordinatesPath string `json:"-"`
	Contours        int    `json:"contours"`
	Selected        int    `json:"selected"`
}

// Transfer summarizes the plotter upload of a job.
type Transfer struct {
	Lines int `json:"lines"`
	Acked int `json:"acked"`
}

// Snapshot is a consistent copy of a job's state.
type Snapshot struct {
	ID               string     `json:"job_id"`
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	InputPath        string     `json:"-"`
	Plot             bool       `json:"plot"`
	Results          *Results   `json:"results,omitempty"`
	Transfer         *Transfer  `json:"transfer,omitempty"`
	Error            *Failure   `json:"error,omitempty"`
}

// Job is one submitted picture. Only its worker goroutine mutates it;
// everybody else reads through Snapshot.
type Job struct {
	mu sync.RWMutex

	id               string
	status           Status
	progress         int
	createdAt        time.Time
	completedAt      time.Time
	originalFilename string
	inputPath        string
	plot             bool
	results          *Results
	transfer         *Transfer
	failure          *Failure

	// Kept for re-selection after completion.
	contours *contour.Set
	frame    pipeline.Frame

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(id, filename, inputPath string, plot bool, now time.Time) *Job {
	return &Job{
		id:               id,
		status:           StatusQueued,
		createdAt:        now,
		originalFilename: filename,
		inputPath:        inputPath,
		plot:             plot,
		cancel:           func() {},
		done:             make(chan struct{}),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot copies the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:               j.id,
		Status:           j.status,
		Progress:         j.progress,
		CreatedAt:        j.createdAt,
		OriginalFilename: j.originalFilename,
		InputPath:        j.inputPath,
		Plot:             j.plot,
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	if j.results != nil {
		r := *j.results
		s.Results = &r
	}
	if j.transfer != nil {
		t := *j.transfer
		s.Transfer = &t
	}
	if j.failure != nil {
		f := *j.failure
		s.Error = &f
	}
	return s
}

func (j *Job) start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return ErrTerminal
	}
	j.status = StatusProcessing
	return nil
}

// advance raises the progress of a processing job. Progress never decreases.
func (j *Job) advance(percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusProcessing || percent <= j.progress {
		return
	}
	j.progress = min(percent, 100)
}

func (j *Job) record(res *pipeline.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = &Results{
		RenderPath:      res.Artifacts.RenderPath,
		ProgramPath:     res.Artifacts.ProgramPath,
		CoordinatesPath: res.Artifacts.CoordinatesPath,
		Contours:        res.Contours.Len(),
		Selected:        len(res.Contours.Selected()),
	}
	j.contours = res.Contours
	j.frame = res.Frame
}

func (j *Job) recordTransfer(lines, acked int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transfer = &Transfer{Lines: lines, Acked: acked}
}

func (j *Job) complete(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return ErrTerminal
	}
	j.status = StatusCompleted
	j.progress = 100
	j.completedAt = now
	close(j.done)
	return nil
}

func (j *Job) fail(err error, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return ErrTerminal
	}
	j.status = StatusFailed
	j.failure = &Failure{Kind: errs.KindOf(err), Message: err.Error()}
	j.completedAt = now
	close(j.done)
	return nil
}

// selection returns the cached contour set of a completed job.
func (j *Job) selection() (*contour.Set, pipeline.Frame, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.status != StatusCompleted || j.contours == nil {
		return nil, pipeline.Frame{}, ErrNotReady
	}
	return j.contours, j.frame, nil
}
