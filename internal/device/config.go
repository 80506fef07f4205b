package device

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds the serial link parameters and the protocol's wait bounds.
type Config struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate" validate:"gt=0"`

	// SettleDelay is how long to wait after opening for the board to reset.
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"gt=0"`
	ReadinessWait  time.Duration `mapstructure:"readiness_wait" yaml:"readiness_wait" validate:"gt=0"`
	AckWait        time.Duration `mapstructure:"ack_wait" yaml:"ack_wait" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	// LineDelay is the minimum spacing between two program lines.
	LineDelay time.Duration `mapstructure:"line_delay" yaml:"line_delay" validate:"gte=0"`

	// SoftLimit triggers a warning when a single line gets close to the
	// plotter's receive buffer size.
	SoftLimit     int    `mapstructure:"soft_limit" yaml:"soft_limit" validate:"gt=0"`
	PeerBuffer    int    `mapstructure:"peer_buffer" yaml:"peer_buffer" validate:"gtefield=SoftLimit"`
	CommentMarker string `mapstructure:"comment_marker" yaml:"comment_marker" validate:"required"`
}

// DefaultConfig returns the settings the plotter firmware expects.
func DefaultConfig() Config {
	return Config{
		BaudRate:       115200,
		SettleDelay:    2 * time.Second,
		ConnectTimeout: 2 * time.Second,
		ReadinessWait:  120 * time.Second,
		AckWait:        10 * time.Second,
		PollInterval:   50 * time.Millisecond,
		LineDelay:      50 * time.Millisecond,
		SoftLimit:      4000,
		PeerBuffer:     8192,
		CommentMarker:  ";",
	}
}

// WithPort returns a copy of c that talks to port.
func (c Config) WithPort(port string) Config {
	c.Port = port
	return c
}

// Validate reports the first constraint c violates.
func (c Config) Validate() error {
	return validate.Struct(c)
}
