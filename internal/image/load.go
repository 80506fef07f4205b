// Package image loads the pictures submitted for tracing.
package image

import (
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Source is a decoded input picture.
type Source struct {
	Path   string      // Original file path
	Format string      // Decoder that accepted the file
	Image  image.Image // Decoded pixels
	DPI    float64     // Resolution from TIFF metadata, 0 if unknown
}

// Load opens and decodes the picture at path.
func Load(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	src := &Source{Path: path, Format: format, Image: img}

	if format == "tiff" {
		if _, err := file.Seek(0, io.SeekStart); err == nil {
			if dpi, err := extractTIFFDPI(file); err == nil {
				src.DPI = dpi
			}
		}
	}

	return src, nil
}

// Width returns the image width in pixels.
func (s *Source) Width() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (s *Source) Height() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dy()
}

// MillimetresPerPixel converts the file's resolution into a drawing scale.
// It returns 0 when the resolution is unknown.
func (s *Source) MillimetresPerPixel() float64 {
	if s.DPI <= 0 {
		return 0
	}
	return 25.4 / s.DPI
}

// extractTIFFDPI reads the resolution tags of the first IFD.
func extractTIFFDPI(r io.ReadSeeker) (float64, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}

	var byteOrder binary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		byteOrder = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		byteOrder = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a valid TIFF file")
	}

	ifdOffset := byteOrder.Uint32(header[4:8])
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return 0, err
	}

	var numEntries uint16
	if err := binary.Read(r, byteOrder, &numEntries); err != nil {
		return 0, err
	}

	var xRes, yRes float64
	var resUnit uint16 = 2 // inches
	entry := make([]byte, 12)

	for i := uint16(0); i < numEntries; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return 0, err
		}

		tag := byteOrder.Uint16(entry[0:2])
		fieldType := byteOrder.Uint16(entry[2:4])

		switch tag {
		case 282: // XResolution
			if fieldType == 5 {
				xRes = readTIFFRational(r, int64(byteOrder.Uint32(entry[8:12])), byteOrder)
			}
		case 283: // YResolution
			if fieldType == 5 {
				yRes = readTIFFRational(r, int64(byteOrder.Uint32(entry[8:12])), byteOrder)
			}
		case 296: // ResolutionUnit
			if fieldType == 3 {
				resUnit = byteOrder.Uint16(entry[8:10])
			}
		}
	}

	dpi := xRes
	if dpi == 0 {
		dpi = yRes
	}
	if dpi == 0 {
		return 0, fmt.Errorf("no resolution tags found")
	}
	if resUnit == 3 { // centimetres
		dpi *= 2.54
	}
	return dpi, nil
}

// readTIFFRational reads a RATIONAL value and restores the read position.
func readTIFFRational(r io.ReadSeeker, offset int64, byteOrder binary.ByteOrder) float64 {
	current, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	defer r.Seek(current, io.SeekStart)

	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0
	}
	var num, denom uint32
	if err := binary.Read(r, byteOrder, &num); err != nil {
		return 0
	}
	if err := binary.Read(r, byteOrder, &denom); err != nil || denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// AllowedExtensions lists the upload extensions the decoders can handle.
func AllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff"}
}

// IsAllowed reports whether filename carries one of AllowedExtensions.
func IsAllowed(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range AllowedExtensions() {
		if ext == allowed {
			return true
		}
	}
	return false
}
