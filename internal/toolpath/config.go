// Package toolpath turns ordered contours into a pen-plotter motion program
// and reads such programs back.
package toolpath

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"hydrawlics/pkg/geometry"
)

var validate = validator.New()

// Config holds the pen heights and feed rates embedded in every program.
// ZSafe above ZCut is what separates pen-up from pen-down moves.
type Config struct {
	ZSafe  float64 `mapstructure:"z_safe" yaml:"z_safe" json:"z_safe" validate:"gtfield=ZCut"`
	ZCut   float64 `mapstructure:"z_cut" yaml:"z_cut" json:"z_cut"`
	FeedXY float64 `mapstructure:"feed_xy" yaml:"feed_xy" json:"feed_xy" validate:"gt=0"`
	FeedZ  float64 `mapstructure:"feed_z" yaml:"feed_z" json:"feed_z" validate:"gt=0"`
}

// DefaultConfig returns pen-up at 5, pen-down at 0.
func DefaultConfig() Config {
	return Config{
		ZSafe:  5,
		ZCut:   0,
		FeedXY: 1500,
		FeedZ:  300,
	}
}

// Validate checks the heights and feeds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid toolpath config: %w", err)
	}
	return nil
}

// Placement maps image pixel coordinates onto the plotter bed.
type Placement struct {
	Scale   float64 `mapstructure:"scale" yaml:"scale" json:"scale"` // bed units per pixel
	OffsetX float64 `mapstructure:"offset_x" yaml:"offset_x" json:"offset_x"`
	OffsetY float64 `mapstructure:"offset_y" yaml:"offset_y" json:"offset_y"`
	FlipY   bool    `mapstructure:"flip_y" yaml:"flip_y" json:"flip_y"` // image rows grow down, bed Y grows up
}

// DefaultPlacement leaves pixel coordinates unchanged.
func DefaultPlacement() Placement {
	return Placement{Scale: 1}
}

// Transform returns the pixel-to-bed transform for an image of the given
// height. A non-positive scale is treated as 1.
func (p Placement) Transform(imageHeight float64) geometry.AffineTransform {
	s := p.Scale
	if s <= 0 {
		s = 1
	}
	if p.FlipY {
		return geometry.Translation(p.OffsetX, p.OffsetY+s*imageHeight).Compose(geometry.Scale(s, -s))
	}
	return geometry.Translation(p.OffsetX, p.OffsetY).Compose(geometry.Scale(s, s))
}

// Place applies t to every path.
func Place(paths [][]geometry.Point2D, t geometry.AffineTransform) [][]geometry.Point2D {
	if t.IsIdentity() {
		return paths
	}
	placed := make([][]geometry.Point2D, len(paths))
	for i, p := range paths {
		placed[i] = t.ApplyAll(p)
	}
	return placed
}
