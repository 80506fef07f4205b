package contour

import (
	"math"
	"sort"
)

// Options configures contour processing.
type Options struct {
	MinArea          float64 `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	SortKey          SortKey `mapstructure:"sort_key" yaml:"sort_key" json:"sort_key"`
	SelectionPercent float64 `mapstructure:"selection_percent" yaml:"selection_percent" json:"selection_percent"`
}

// DefaultOptions keeps every contour, ordered by area.
func DefaultOptions() Options {
	return Options{
		MinArea:          0,
		SortKey:          ByArea,
		SelectionPercent: 100,
	}
}

// WithMinArea returns a copy of opts with a different area floor.
func (o Options) WithMinArea(minArea float64) Options {
	o.MinArea = minArea
	return o
}

// WithSortKey returns a copy of opts ordered by key.
func (o Options) WithSortKey(key SortKey) Options {
	o.SortKey = key
	return o
}

// WithSelection returns a copy of opts selecting percent of the contours.
func (o Options) WithSelection(percent float64) Options {
	o.SelectionPercent = percent
	return o
}

// ClampPercent forces a selection percentage into [1,100].
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 100
	}
	return math.Min(math.Max(p, 1), 100)
}

// Set is the filtered contour list sorted ascending by its key, plus the
// current selection. The full sorted list is kept so a different percentage
// can be selected without reprocessing.
type Set struct {
	key      SortKey
	all      []Contour
	percent  float64
	selected []Contour
}

// Process drops contours with area at or below opts.MinArea, sorts the rest
// ascending by opts.SortKey (ties keep tracing order) and selects
// opts.SelectionPercent of them, largest first.
func Process(raw []Contour, opts Options) *Set {
	minArea := math.Max(opts.MinArea, 0)
	key := opts.SortKey
	if key != ByPerimeter {
		key = ByArea
	}

	kept := make([]Contour, 0, len(raw))
	for _, c := range raw {
		if c.Area > minArea {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return key.Of(kept[i]) < key.Of(kept[j])
	})

	s := &Set{key: key, all: kept}
	s.Select(opts.SelectionPercent)
	return s
}

// Select keeps the n contours with the largest keys, where
// n = max(1, round(total * percent / 100)), and returns them in ascending
// order. The percentage is clamped to [1,100].
func (s *Set) Select(percent float64) []Contour {
	s.percent = ClampPercent(percent)
	s.selected = s.Selection(s.percent)
	return s.selected
}

// Selection computes the contours for percent without changing the set's
// current selection.
func (s *Set) Selection(percent float64) []Contour {
	percent = ClampPercent(percent)
	total := len(s.all)
	if percent >= 100 || total == 0 {
		return s.all
	}

	n := int(math.Round(float64(total) * percent / 100))
	if n < 1 {
		n = 1
	}
	return s.all[total-n:]
}

// Selected returns the current selection.
func (s *Set) Selected() []Contour { return s.selected }

// All returns every filtered contour in ascending key order.
func (s *Set) All() []Contour { return s.all }

// Key returns the sort key.
func (s *Set) Key() SortKey { return s.key }

// Percent returns the current selection percentage.
func (s *Set) Percent() float64 { return s.percent }

// Len returns the number of filtered contours.
func (s *Set) Len() int { return len(s.all) }

// Empty reports whether no contour survived filtering.
func (s *Set) Empty() bool { return len(s.all) == 0 }
