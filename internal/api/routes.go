package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/errs"
	hdimage "hydrawlics/internal/image"
	"hydrawlics/internal/jobs"
	"hydrawlics/internal/version"
)

// Config holds what the routes need besides the job manager.
type Config struct {
	Log            *slog.Logger
	Jobs           *jobs.Manager
	MaxUploadBytes int64
	AllowedOrigin  string
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
}

// New builds the HTTP handler for the API.
func New(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	app := NewApp(log, Logger(log), Errors(log), Panics())

	app.HandlerFunc(http.MethodGet, "/ping", ping)
	app.HandlerFunc(http.MethodGet, "/config", configInfo(cfg))
	app.HandlerFunc(http.MethodPost, "/upload", upload(cfg))
	app.HandlerFunc(http.MethodGet, "/jobs", list(cfg))
	app.HandlerFunc(http.MethodGet, "/jobs/{id}/status", status(cfg))
	app.HandlerFunc(http.MethodGet, "/jobs/{id}/download", download(cfg))
	app.HandlerFunc(http.MethodGet, "/jobs/{id}/program", program(cfg))
	app.HandlerFunc(http.MethodGet, "/jobs/{id}/coordinates", coordinates(cfg))
	app.HandlerFunc(http.MethodDelete, "/jobs/{id}", cancel(cfg))
	if cfg.Metrics != nil {
		app.Handle(http.MethodGet, "/metrics", cfg.Metrics)
	}

	return CORS(cfg.AllowedOrigin, app)
}

type text string

func (t text) Encode() ([]byte, string, error) {
	return []byte(t), "text/plain; charset=utf-8", nil
}

func ping(context.Context, *http.Request) Encoder {
	return jsonResponse{value: "pong!"}
}

type configResponse struct {
	AllowedExtensions []string `json:"allowed_extensions"`
	MaxUploadBytes    int64    `json:"max_upload_bytes"`
	PlotterEnabled    bool     `json:"plotter_enabled"`
	Version           string   `json:"version"`
}

func configInfo(cfg Config) HandlerFunc {
	return func(context.Context, *http.Request) Encoder {
		return jsonResponse{value: configResponse{
			AllowedExtensions: hdimage.AllowedExtensions(),
			MaxUploadBytes:    cfg.MaxUploadBytes,
			PlotterEnabled:    cfg.Jobs.PlotterEnabled(),
			Version:           version.Version,
		}}
	}
}

type uploadResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

func upload(cfg Config) HandlerFunc {
	return func(ctx context.Context, r *http.Request) Encoder {
		if cfg.MaxUploadBytes > 0 {
			if r.ContentLength > cfg.MaxUploadBytes {
				return newError(http.StatusRequestEntityTooLarge, "File too large")
			}
			r.Body = http.MaxBytesReader(nil, r.Body, cfg.MaxUploadBytes)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return newError(http.StatusRequestEntityTooLarge, "File too large")
			}
			return newError(http.StatusBadRequest, "No file provided")
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			return newError(http.StatusBadRequest, "No file provided")
		}
		defer file.Close()

		if header.Filename == "" {
			return newError(http.StatusBadRequest, "No file selected")
		}
		if !hdimage.IsAllowed(jobs.SanitizeFilename(header.Filename)) {
			return newError(http.StatusBadRequest, "File type not allowed")
		}

		in := jobs.Input{Filename: header.Filename, Body: file}
		if v := r.FormValue("plot"); v != "" {
			plot, err := strconv.ParseBool(v)
			if err != nil {
				return newError(http.StatusBadRequest, "Invalid plot flag")
			}
			in.Plot = plot
		}
		if v := r.FormValue("percent"); v != "" {
			percent, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(percent) {
				return newError(http.StatusBadRequest, "Invalid percent")
			}
			in.Percent = percent
		}

		id, err := cfg.Jobs.Submit(ctx, in)
		if err != nil {
			return fromError(err)
		}

		return jsonResponse{status: http.StatusAccepted, value: uploadResponse{
			JobID:   id,
			Status:  jobs.StatusQueued,
			Message: "Image uploaded successfully, processing started",
		}}
	}
}

func list(cfg Config) HandlerFunc {
	return func(context.Context, *http.Request) Encoder {
		return jsonResponse{value: cfg.Jobs.List()}
	}
}

type statusResponse struct {
	jobs.Snapshot
	DownloadURL string `json:"download_url,omitempty"`
}

func status(cfg Config) HandlerFunc {
	return func(_ context.Context, r *http.Request) Encoder {
		snap, err := cfg.Jobs.Get(Param(r, "id"))
		if err != nil {
			return fromError(err)
		}

		resp := statusResponse{Snapshot: snap}
		if snap.Status == jobs.StatusCompleted {
			resp.DownloadURL = "/jobs/" + snap.ID + "/download"
		}
		return jsonResponse{value: resp}
	}
}

func download(cfg Config) HandlerFunc {
	return func(_ context.Context, r *http.Request) Encoder {
		snap, err := cfg.Jobs.Get(Param(r, "id"))
		if err != nil {
			return fromError(err)
		}
		if snap.Status != jobs.StatusCompleted || snap.Results == nil {
			return newError(http.StatusBadRequest, "Job not completed yet")
		}

		data, err := os.ReadFile(snap.Results.RenderPath)
		if err != nil {
			return newError(http.StatusNotFound, "Processed file not found")
		}

		name := strings.TrimSuffix(snap.OriginalFilename, filepath.Ext(snap.OriginalFilename))
		return attachment{
			name:        "edges_" + name + ".png",
			contentType: "image/png",
			data:        data,
		}
	}
}

// percentParam reads ?percent=. Zero means the job's own selection.
func percentParam(r *http.Request) (float64, error) {
	v := r.URL.Query().Get("percent")
	if v == "" {
		return 0, nil
	}
	percent, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(percent) {
		return 0, errs.New(errs.Input, "api.percent", fmt.Errorf("invalid percent %q", v))
	}
	return percent, nil
}

func program(cfg Config) HandlerFunc {
	return func(_ context.Context, r *http.Request) Encoder {
		percent, err := percentParam(r)
		if err != nil {
			return fromError(err)
		}

		prog, err := cfg.Jobs.Program(Param(r, "id"), percent)
		if err != nil {
			return fromError(err)
		}
		return text(prog.String())
	}
}

type csvBody []byte

func (c csvBody) Encode() ([]byte, string, error) {
	return c, "text/csv", nil
}

func coordinates(cfg Config) HandlerFunc {
	return func(_ context.Context, r *http.Request) Encoder {
		percent, err := percentParam(r)
		if err != nil {
			return fromError(err)
		}

		selected, err := cfg.Jobs.Coordinates(Param(r, "id"), percent)
		if err != nil {
			return fromError(err)
		}

		var buf bytes.Buffer
		if err := contour.WriteCSV(&buf, selected); err != nil {
			return fromError(err)
		}
		return csvBody(buf.Bytes())
	}
}

func cancel(cfg Config) HandlerFunc {
	return func(_ context.Context, r *http.Request) Encoder {
		id := Param(r, "id")
		if err := cfg.Jobs.Cancel(id); err != nil {
			return fromError(err)
		}
		return jsonResponse{status: http.StatusAccepted, value: map[string]string{
			"job_id": id,
			"status": "canceling",
		}}
	}
}
