// Package config loads the service settings from YAML and the environment.
package config

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"hydrawlics/internal/contour"
	"hydrawlics/internal/device"
	"hydrawlics/internal/edge"
	"hydrawlics/internal/pipeline"
	"hydrawlics/internal/toolpath"
	"hydrawlics/pkg/colorutil"
)

// EnvPrefix prefixes every environment override, e.g. HYDRAWLICS_DEVICE_PORT.
const EnvPrefix = "HYDRAWLICS"

var validate = validator.New()

// Server configures the HTTP API.
type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	AllowedOrigin   string        `mapstructure:"allowed_origin" yaml:"allowed_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// Storage names the directories for uploads and job artifacts.
type Storage struct {
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
}

// Logging selects the log level and handler.
type Logging struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Vision configures the OpenCV stages.
type Vision struct {
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance" yaml:"simplify_tolerance" validate:"gte=0"`
	// SimplifyMethod is approx_poly_dp (OpenCV) or douglas_peucker (pure Go).
	SimplifyMethod   string `mapstructure:"simplify_method" yaml:"simplify_method" validate:"oneof=approx_poly_dp douglas_peucker"`
	OutlineThickness int    `mapstructure:"outline_thickness" yaml:"outline_thickness" validate:"gt=0"`
	// OutlineColor is a palette name or "#rrggbb".
	OutlineColor string `mapstructure:"outline_color" yaml:"outline_color" validate:"required"`
}

// Config is the complete service configuration.
type Config struct {
	Server       Server             `mapstructure:"server" yaml:"server"`
	Storage      Storage            `mapstructure:"storage" yaml:"storage"`
	Logging      Logging            `mapstructure:"logging" yaml:"logging"`
	Edge         edge.Thresholds    `mapstructure:"edge" yaml:"edge"`
	Contours     contour.Options    `mapstructure:"contours" yaml:"contours"`
	Toolpath     toolpath.Config    `mapstructure:"toolpath" yaml:"toolpath"`
	Placement    toolpath.Placement `mapstructure:"placement" yaml:"placement"`
	ScaleFromDPI bool               `mapstructure:"scale_from_dpi" yaml:"scale_from_dpi"`
	Vision       Vision             `mapstructure:"vision" yaml:"vision"`
	// Device.Port left empty disables plotting.
	Device device.Config `mapstructure:"device" yaml:"device"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":5000",
			MaxUploadBytes:  16 << 20,
			AllowedOrigin:   "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{
			UploadDir: "uploads",
			OutputDir: "processed",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Edge:      edge.DefaultThresholds(),
		Contours:  contour.DefaultOptions(),
		Toolpath:  toolpath.DefaultConfig(),
		Placement: toolpath.DefaultPlacement(),
		Vision: Vision{
			SimplifyTolerance: 0.0005,
			SimplifyMethod:    "approx_poly_dp",
			OutlineThickness:  2,
			OutlineColor:      "magenta",
		},
		Device: device.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies
// HYDRAWLICS_* environment overrides. An empty path uses defaults and the
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	var defaults bytes.Buffer
	if err := WriteDefault(&defaults); err != nil {
		return Config{}, err
	}
	if err := v.ReadConfig(&defaults); err != nil {
		return Config{}, fmt.Errorf("failed to read default config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := contour.ParseSortKey(string(c.Contours.SortKey)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := colorutil.Parse(c.Vision.OutlineColor); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault writes the built-in configuration as YAML.
func WriteDefault(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// Pipeline returns the pipeline parameters.
func (c Config) Pipeline() pipeline.Params {
	return pipeline.Params{
		Edge:         c.Edge,
		Contours:     c.Contours,
		Toolpath:     c.Toolpath,
		Placement:    c.Placement,
		ScaleFromDPI: c.ScaleFromDPI,
	}
}

// PlotterEnabled reports whether a serial port is configured.
func (c Config) PlotterEnabled() bool {
	return c.Device.Port != ""
}

// OutlineColor returns the parsed overlay color, magenta if unparsable.
func (c Config) OutlineColor() color.RGBA {
	col, err := colorutil.Parse(c.Vision.OutlineColor)
	if err != nil {
		return colorutil.Magenta
	}
	return col
}

// LogLevel maps the configured level name to a slog level.
func (c Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
