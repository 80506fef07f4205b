package toolpath

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"hydrawlics/pkg/geometry"
)

// CommentMarker starts a comment line in a program.
const CommentMarker = ";"

const headerTag = "hydrawlics"

// MoveKind distinguishes rapid positioning from linear interpolation.
type MoveKind int

const (
	Rapid  MoveKind = iota // G0
	Linear                 // G1
)

func (k MoveKind) code() string {
	if k == Linear {
		return "G1"
	}
	return "G0"
}

// Axis flags which words a move carries.
type Axis uint8

const (
	AxisX Axis = 1 << iota
	AxisY
	AxisZ
	AxisF
)

// Move is one program line.
type Move struct {
	Kind       MoveKind
	X, Y, Z, F float64
	Set        Axis
}

// Has reports whether the move carries every axis in a.
func (m Move) Has(a Axis) bool { return m.Set&a == a }

func (m Move) String() string {
	var b strings.Builder
	b.WriteString(m.Kind.code())
	word := func(letter byte, v float64) {
		b.WriteByte(' ')
		b.WriteByte(letter)
		b.WriteString(formatNumber(v))
	}
	if m.Has(AxisX) {
		word('X', m.X)
	}
	if m.Has(AxisY) {
		word('Y', m.Y)
	}
	if m.Has(AxisZ) {
		word('Z', m.Z)
	}
	if m.Has(AxisF) {
		word('F', m.F)
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Program is an ordered motion program plus the config it was built with.
type Program struct {
	Config Config
	Paths  [][]geometry.Point2D
	Moves  []Move
}

// Header returns the leading comment that records the config.
func (p *Program) Header() string {
	return fmt.Sprintf("%s %s z_safe=%s z_cut=%s feed_xy=%s feed_z=%s",
		CommentMarker, headerTag,
		formatNumber(p.Config.ZSafe), formatNumber(p.Config.ZCut),
		formatNumber(p.Config.FeedXY), formatNumber(p.Config.FeedZ))
}

// WriteTo writes the header and one line per move.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64

	c, err := fmt.Fprintln(bw, p.Header())
	n += int64(c)
	if err != nil {
		return n, err
	}
	for _, m := range p.Moves {
		c, err := fmt.Fprintln(bw, m.String())
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// String renders the program text.
func (p *Program) String() string {
	var b strings.Builder
	_, _ = p.WriteTo(&b)
	return b.String()
}

// Stats summarises a program.
type Stats struct {
	Paths        int
	Moves        int
	Plunges      int
	DrawLength   float64
	TravelLength float64
	// Extent is the bounding box of every drawn point on the bed.
	Extent geometry.Rect
}

// Stats walks the moves and measures pen-down and pen-up distances.
func (p *Program) Stats() Stats {
	s := Stats{Paths: len(p.Paths), Moves: len(p.Moves)}

	var pos geometry.Point2D
	var drawn []geometry.Point2D
	z := p.Config.ZSafe
	for _, m := range p.Moves {
		next := pos
		if m.Has(AxisX) {
			next.X = m.X
		}
		if m.Has(AxisY) {
			next.Y = m.Y
		}
		d := pos.Distance(next)
		if z <= p.Config.ZCut {
			s.DrawLength += d
		} else {
			s.TravelLength += d
		}
		pos = next
		if z <= p.Config.ZCut {
			drawn = append(drawn, pos)
		}

		if m.Has(AxisZ) {
			if m.Z <= p.Config.ZCut && z > p.Config.ZCut {
				s.Plunges++
			}
			z = m.Z
			if z <= p.Config.ZCut {
				drawn = append(drawn, pos)
			}
		}
	}
	s.Extent = geometry.BoundingBox(drawn)
	return s
}
