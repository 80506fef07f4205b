package colorutil

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"magenta", Magenta},
		{" Cyan ", Cyan},
		{"#ff00ff", Magenta},
		{"#F0F", Magenta},
		{"#102030", color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "purple", "#12345", "#gggggg", "ff00ff"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "#ff00ff", Hex(Magenta))
	c, err := Parse(Hex(color.RGBA{R: 1, G: 2, B: 3, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, c)
}
