// Package contour filters, orders and selects traced outer boundaries.
package contour

import (
	"fmt"
	"strings"

	"hydrawlics/pkg/geometry"
)

// Contour is a closed, ordered boundary with derived area and perimeter.
// Contours are treated as immutable once built.
type Contour struct {
	Points    []geometry.Point2D `json:"points"`
	Area      float64            `json:"area"`
	Perimeter float64            `json:"perimeter"`
}

// New builds a contour and derives its area and perimeter.
func New(points []geometry.Point2D) Contour {
	return Contour{
		Points:    points,
		Area:      geometry.PolygonArea(points),
		Perimeter: geometry.Perimeter(points),
	}
}

// FromPaths builds one contour per point sequence.
func FromPaths(paths [][]geometry.Point2D) []Contour {
	contours := make([]Contour, 0, len(paths))
	for _, p := range paths {
		contours = append(contours, New(p))
	}
	return contours
}

// Paths returns the point sequences of the contours in order.
func Paths(contours []Contour) [][]geometry.Point2D {
	paths := make([][]geometry.Point2D, len(contours))
	for i, c := range contours {
		paths[i] = c.Points
	}
	return paths
}

// SortKey names the scalar contours are ordered by.
type SortKey string

const (
	ByArea      SortKey = "area"
	ByPerimeter SortKey = "perimeter"
)

// ParseSortKey accepts "area" or "perimeter" in any case.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case ByArea, "":
		return ByArea, nil
	case ByPerimeter:
		return ByPerimeter, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// Of returns the key's value for a contour.
func (k SortKey) Of(c Contour) float64 {
	if k == ByPerimeter {
		return c.Perimeter
	}
	return c.Area
}
