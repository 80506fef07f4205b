// Command plotsend streams a motion program file to a serial plotter, or
// lists the serial ports it can see.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"hydrawlics/internal/config"
	"hydrawlics/internal/device"
	"hydrawlics/internal/manifest"
)

func main() {
	programPath := flag.String("file", "", "Path to the .gcode program, or a job directory with a manifest")
	port := flag.String("port", "", "Serial port (overrides the config)")
	baud := flag.Int("baud", 0, "Baud rate (overrides the config)")
	configPath := flag.String("config", "", "Path to YAML config file")
	list := flag.Bool("list", false, "List serial ports and exit")
	flag.Parse()

	if *list {
		ports, err := device.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list ports: %v\n", err)
			os.Exit(1)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *programPath == "" {
		fmt.Println("Usage: plotsend -file <program.gcode> [-port /dev/ttyUSB0] [-baud 115200] | -list")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	devCfg := cfg.Device
	if *port != "" {
		devCfg = devCfg.WithPort(*port)
	}
	if *baud > 0 {
		devCfg.BaudRate = *baud
	}
	if devCfg.Port == "" {
		fmt.Fprintln(os.Stderr, "No serial port configured, use -port")
		os.Exit(1)
	}

	path, err := resolveProgram(*programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read manifest: %v\n", err)
		os.Exit(1)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read program: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Connecting to %s at %d baud...\n", devCfg.Port, devCfg.BaudRate)
	sess, err := device.Open(ctx, device.SerialOpener{}, devCfg, device.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Handshake failed: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	start := time.Now()
	report, err := sess.SendProgram(ctx, string(text))
	fmt.Printf("Sent %d/%d lines in %s\n", report.Acked, report.Total, time.Since(start).Round(time.Millisecond))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Transfer failed: %v\n", err)
		sess.Close()
		os.Exit(1)
	}
}

// resolveProgram maps a job directory or manifest file to its program.
func resolveProgram(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() && filepath.Ext(path) != ".json" {
		return path, nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		return "", err
	}
	manifestPath := path
	if fi.IsDir() {
		manifestPath = filepath.Join(path, manifest.FileName)
	}
	fmt.Printf("Program from %s: %d of %d contours, %d moves\n", manifestPath, m.Selected, m.Contours, m.Moves)
	return m.Program(manifestPath), nil
}
