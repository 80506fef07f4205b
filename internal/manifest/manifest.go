// Package manifest records how a job's artifacts were produced so an output
// directory can be inspected or replayed on its own.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/edge"
	"hydrawlics/internal/toolpath"
)

// FileName is the manifest's name inside an output directory.
const FileName = "manifest.json"

// CurrentVersion is written into new manifests.
const CurrentVersion = 1

// File describes one pipeline run.
type File struct {
	Version int       `json:"version"`
	Created time.Time `json:"created"`

	// Source picture. The path is relative to the manifest when possible.
	SourcePath string  `json:"source"`
	Format     string  `json:"format"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	DPI        float64 `json:"dpi,omitempty"`

	Settings Settings `json:"settings"`

	// Results
	Contours int `json:"contours"`
	Selected int `json:"selected"`
	Moves    int `json:"moves"`

	// Artifact paths, relative to the manifest
	RenderPath      string `json:"render"`
	ProgramPath     string `json:"program"`
	CoordinatesPath string `json:"coordinates"`
}

// Settings are the stage parameters the run used.
type Settings struct {
	Edge      edge.Thresholds    `json:"edge"`
	Contours  contour.Options    `json:"contours"`
	Toolpath  toolpath.Config    `json:"toolpath"`
	Placement toolpath.Placement `json:"placement"`
}

// New creates a manifest for a run started now.
func New(settings Settings) *File {
	return &File{
		Version:  CurrentVersion,
		Created:  time.Now().UTC(),
		Settings: settings,
	}
}

// Load reads a manifest file, or the manifest inside a directory.
func Load(path string) (*File, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m File
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version > CurrentVersion {
		return nil, fmt.Errorf("manifest version %d is newer than supported %d", m.Version, CurrentVersion)
	}

	return &m, nil
}

// Save writes the manifest to path.
func (m *File) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetSource records the source picture relative to the manifest at
// manifestPath.
func (m *File) SetSource(manifestPath, imagePath string) {
	m.SourcePath = relative(manifestPath, imagePath)
}

// SetArtifacts records the artifact paths relative to the manifest.
func (m *File) SetArtifacts(manifestPath, render, program, coordinates string) {
	m.RenderPath = relative(manifestPath, render)
	m.ProgramPath = relative(manifestPath, program)
	m.CoordinatesPath = relative(manifestPath, coordinates)
}

// Source returns the absolute path to the source picture.
func (m *File) Source(manifestPath string) string {
	return resolve(manifestPath, m.SourcePath)
}

// Program returns the absolute path to the motion program.
func (m *File) Program(manifestPath string) string {
	return resolve(manifestPath, m.ProgramPath)
}

// Render returns the absolute path to the rendered overlay.
func (m *File) Render(manifestPath string) string {
	return resolve(manifestPath, m.RenderPath)
}

// Coordinates returns the absolute path to the coordinate table.
func (m *File) Coordinates(manifestPath string) string {
	return resolve(manifestPath, m.CoordinatesPath)
}

func relative(manifestPath, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	dir, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return path
	}
	return rel
}

func resolve(manifestPath, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(manifestPath), path)
}
