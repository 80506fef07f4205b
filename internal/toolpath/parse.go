package toolpath

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"hydrawlics/pkg/geometry"
)

// Parse reads a program written by Program.WriteTo. The header comment is
// required because it carries ZCut, which decides pen-down moves.
func Parse(r io.Reader) (*Program, error) {
	prog := &Program{}
	haveHeader := false

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, CommentMarker) {
			if cfg, ok, err := parseHeader(line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			} else if ok {
				prog.Config = cfg
				haveHeader = true
			}
			continue
		}

		m, err := parseMove(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		prog.Moves = append(prog.Moves, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	if !haveHeader {
		return nil, fmt.Errorf("missing %s header comment", headerTag)
	}

	prog.Paths = prog.PenDownPaths()
	return prog, nil
}

func parseHeader(line string) (Config, bool, error) {
	fields := strings.Fields(strings.TrimPrefix(line, CommentMarker))
	if len(fields) == 0 || fields[0] != headerTag {
		return Config{}, false, nil
	}

	var cfg Config
	targets := map[string]*float64{
		"z_safe":  &cfg.ZSafe,
		"z_cut":   &cfg.ZCut,
		"feed_xy": &cfg.FeedXY,
		"feed_z":  &cfg.FeedZ,
	}
	seen := 0
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		dst, known := targets[key]
		if !known {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, false, fmt.Errorf("header %s: %w", key, err)
		}
		*dst = v
		seen++
	}
	if seen != len(targets) {
		return Config{}, false, fmt.Errorf("header records %d of %d config values", seen, len(targets))
	}
	return cfg, true, nil
}

func parseMove(line string) (Move, error) {
	fields := strings.Fields(line)
	var m Move
	switch strings.ToUpper(fields[0]) {
	case "G0", "G00":
		m.Kind = Rapid
	case "G1", "G01":
		m.Kind = Linear
	default:
		return Move{}, fmt.Errorf("unsupported command %q", fields[0])
	}

	for _, word := range fields[1:] {
		if len(word) < 2 {
			return Move{}, fmt.Errorf("malformed word %q", word)
		}
		v, err := strconv.ParseFloat(word[1:], 64)
		if err != nil {
			return Move{}, fmt.Errorf("word %q: %w", word, err)
		}
		switch word[0] {
		case 'X', 'x':
			m.X, m.Set = v, m.Set|AxisX
		case 'Y', 'y':
			m.Y, m.Set = v, m.Set|AxisY
		case 'Z', 'z':
			m.Z, m.Set = v, m.Set|AxisZ
		case 'F', 'f':
			m.F, m.Set = v, m.Set|AxisF
		default:
			return Move{}, fmt.Errorf("unsupported word %q", word)
		}
	}
	return m, nil
}

// PenDownPaths rebuilds the drawn point sequences from the moves alone: a
// path starts where Z drops to ZCut or below and ends when Z rises above it.
func (p *Program) PenDownPaths() [][]geometry.Point2D {
	var (
		paths   [][]geometry.Point2D
		current []geometry.Point2D
		pos     geometry.Point2D
		down    bool
	)

	for _, m := range p.Moves {
		moved := false
		if m.Has(AxisX) {
			pos.X, moved = m.X, true
		}
		if m.Has(AxisY) {
			pos.Y, moved = m.Y, true
		}

		if m.Has(AxisZ) {
			nowDown := m.Z <= p.Config.ZCut
			switch {
			case nowDown && !down:
				current = []geometry.Point2D{pos}
			case !nowDown && down:
				paths = append(paths, current)
				current = nil
			case nowDown && moved:
				current = append(current, pos)
			}
			down = nowDown
			continue
		}

		if down && moved {
			current = append(current, pos)
		}
	}
	if down && current != nil {
		paths = append(paths, current)
	}
	return paths
}
