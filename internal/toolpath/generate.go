package toolpath

import (
	"hydrawlics/pkg/geometry"
)

// Generate emits, for each path in order, a rapid travel to its first point
// at ZSafe, a plunge to ZCut, a linear move to every later point and a
// retract to ZSafe. Single-point paths become a plunge/retract dot. Empty
// paths are skipped.
func Generate(paths [][]geometry.Point2D, cfg Config) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prog := &Program{Config: cfg}
	prog.Moves = append(prog.Moves, Move{Kind: Rapid, Z: cfg.ZSafe, Set: AxisZ})

	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		prog.Paths = append(prog.Paths, path)

		first := path[0]
		prog.Moves = append(prog.Moves,
			Move{Kind: Rapid, X: first.X, Y: first.Y, Set: AxisX | AxisY},
			Move{Kind: Linear, Z: cfg.ZCut, F: cfg.FeedZ, Set: AxisZ | AxisF},
		)
		for _, p := range path[1:] {
			prog.Moves = append(prog.Moves, Move{Kind: Linear, X: p.X, Y: p.Y, F: cfg.FeedXY, Set: AxisX | AxisY | AxisF})
		}
		prog.Moves = append(prog.Moves, Move{Kind: Linear, Z: cfg.ZSafe, F: cfg.FeedZ, Set: AxisZ | AxisF})
	}

	return prog, nil
}
