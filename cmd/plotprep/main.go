// Command plotprep runs the picture-to-program pipeline on one image and
// writes the overlay, program and coordinate table to a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"hydrawlics/internal/config"
	"hydrawlics/internal/pipeline"
	"hydrawlics/internal/vision"
)

func main() {
	imagePath := flag.String("image", "", "Path to picture (PNG, JPEG, GIF, BMP or TIFF)")
	outDir := flag.String("out", "out", "Directory for the generated artifacts")
	configPath := flag.String("config", "", "Path to YAML config file")
	percent := flag.Float64("percent", 0, "Keep the largest percent of contours (0 uses the config)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: plotprep -image <path> [-out dir] [-config file] [-percent 100]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	params := cfg.Pipeline()
	if *percent > 0 {
		params = params.WithSelection(*percent)
	}

	visionOpts := vision.DefaultOptions()
	visionOpts.SimplifyTolerance = cfg.Vision.SimplifyTolerance
	visionOpts.SimplifyMethod = vision.SimplifyMethod(cfg.Vision.SimplifyMethod)
	visionOpts.OutlineThickness = cfg.Vision.OutlineThickness
	visionOpts.OutlineColor = cfg.OutlineColor()

	p := pipeline.New(vision.New(visionOpts), params, pipeline.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Processing %s\n", *imagePath)
	fmt.Printf("  Edge thresholds: weak=%.2f strong=%.2f\n", params.Edge.WeakFraction, params.Edge.StrongFraction)
	fmt.Printf("  Selection: %.0f%% by %s, min area %.1f\n",
		params.Contours.SelectionPercent, params.Contours.SortKey, params.Contours.MinArea)

	result, err := p.Run(ctx, *imagePath, *outDir, func(stage pipeline.Stage, pct int) {
		fmt.Printf("  [%3d%%] %s\n", pct, stage)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		os.Exit(1)
	}

	stats := result.Program.Stats()
	fmt.Printf("\nContours: %d traced, %d selected\n", result.Contours.Len(), len(result.Contours.Selected()))
	fmt.Printf("Program:  %d moves, %d plunges, draw %.1f, travel %.1f\n",
		stats.Moves, stats.Plunges, stats.DrawLength, stats.TravelLength)
	fmt.Printf("Extent:   %.1f x %.1f at (%.1f, %.1f)\n",
		stats.Extent.Width, stats.Extent.Height, stats.Extent.X, stats.Extent.Y)
	fmt.Printf("\nWrote:\n  %s\n  %s\n  %s\n  %s\n",
		result.Artifacts.RenderPath, result.Artifacts.ProgramPath, result.Artifacts.CoordinatesPath, result.Artifacts.ManifestPath)
}
