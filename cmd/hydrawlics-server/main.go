// Command hydrawlics-server accepts pictures over HTTP, turns them into
// plotter programs and optionally streams them to a serial plotter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"hydrawlics/internal/api"
	"hydrawlics/internal/config"
	"hydrawlics/internal/device"
	"hydrawlics/internal/jobs"
	"hydrawlics/internal/metrics"
	"hydrawlics/internal/pipeline"
	"hydrawlics/internal/version"
	"hydrawlics/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	printConfig := flag.Bool("print-config", false, "Print the default config and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *printConfig {
		if err := config.WriteDefault(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	if err := run(log, cfg); err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(log *slog.Logger, cfg config.Config) error {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn("failed to set GOMAXPROCS", "error", err)
	}
	log.Info("startup", "version", version.String(), "GOMAXPROCS", runtime.GOMAXPROCS(0))

	m := metrics.New("hydrawlics", nil)

	visionOpts := vision.DefaultOptions()
	visionOpts.SimplifyTolerance = cfg.Vision.SimplifyTolerance
	visionOpts.SimplifyMethod = vision.SimplifyMethod(cfg.Vision.SimplifyMethod)
	visionOpts.OutlineThickness = cfg.Vision.OutlineThickness
	visionOpts.OutlineColor = cfg.OutlineColor()

	p := pipeline.New(vision.New(visionOpts), cfg.Pipeline(),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
	)

	opts := []jobs.Option{jobs.WithLogger(log), jobs.WithMetrics(m)}
	if cfg.PlotterEnabled() {
		opts = append(opts, jobs.WithDevice(device.SerialOpener{}, cfg.Device, device.WithMetrics(m)))
		log.Info("startup", "status", "plotter enabled", "port", cfg.Device.Port, "baud", cfg.Device.BaudRate)
	}

	manager := jobs.NewManager(jobs.NewRegistry(), p, cfg.Storage.UploadDir, cfg.Storage.OutputDir, opts...)
	defer manager.Close()

	srv := http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Config{
			Log:            log,
			Jobs:           manager,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			AllowedOrigin:  cfg.Server.AllowedOrigin,
			Metrics:        metrics.Handler(),
		}),
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("startup", "status", "api router started", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
