package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/care/oviss/internal/address"
	"github.com/care/oviss/internal/archive"
	"github.com/care/oviss/internal/config"
	"github.com/care/oviss/internal/core"
	"github.com/care/oviss/internal/logger"
	"github.com/care/oviss/internal/stream"
	"github.com/care/oviss/internal/types"
	"github.com/care/oviss/internal/validate"
)

// Exit codes
const (
	exitColor      = 0
	exitFailed     = 1
	exitMonochrome = 2
)

func main() {
	configPath := flag.String("config", "config/oviss.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	channel := flag.Int("channel", 1, "Channel to probe (1-4)")
	slot := flag.Int("slot", 0, "Slot index within the run")
	date := flag.String("date", "", "Run date YYYY-MM-DD (default: today)")
	backend := flag.String("backend", "", "Override stream.backend: gstreamer, opencv, synthetic")
	outputDir := flag.String("output", "", "Directory to save the captured frame as JPEG (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	slog.SetDefault(logger.New(level, "text"))

	if err := config.LoadEnv(*envFile); err != nil {
		fail("failed to load env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	if *backend != "" {
		cfg.Stream.Backend = *backend
	}

	ch := types.Channel(*channel)
	if !ch.Valid() {
		fail("channel %d out of range 1..%d", *channel, types.MaxChannels)
	}

	runDate := time.Now()
	if *date != "" {
		runDate, err = time.ParseInLocation(time.DateOnly, *date, cfg.CaptureLocation())
		if err != nil {
			fail("invalid -date: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, closer, err := core.NewCredentialsProvider(cfg.Credentials)
	if err != nil {
		fail("failed to initialize credentials: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	creds, err := provider.Lookup(ctx, cfg.StoreID)
	if err != nil {
		fail("credentials lookup failed: %v", err)
	}

	gen := core.NewGenerator(cfg)
	windows := gen.Windows(runDate)
	if *slot < 0 || *slot >= len(windows) {
		fail("slot %d out of range 0..%d", *slot, len(windows)-1)
	}
	addr := types.StreamAddress{
		Channel: ch,
		Slot:    *slot,
		Window:  windows[*slot],
		URL:     gen.URL(creds, ch, windows[*slot]),
	}

	fmt.Printf("Probe configuration:\n")
	fmt.Printf("  Store:    %s\n", cfg.StoreID)
	fmt.Printf("  Backend:  %s\n", cfg.Stream.Backend)
	fmt.Printf("  Channel:  %d\n", ch)
	fmt.Printf("  Window:   %s - %s\n", addr.Window.Start.Format(time.RFC3339), addr.Window.End.Format(time.RFC3339))
	fmt.Printf("  Address:  %s\n", address.Redact(addr.URL))
	encoded, err := address.ParseWindow(addr.URL)
	if err != nil {
		fail("address does not carry its window: %v", err)
	}
	fmt.Printf("  Encoded:  %s - %s\n\n", encoded.Start.Format(time.RFC3339), encoded.End.Format(time.RFC3339))

	dialer, err := core.NewDialer(cfg.Stream)
	if err != nil {
		fail("failed to initialize stream backend: %v", err)
	}
	acq := stream.NewAcquirer(dialer, core.NewRetryConfig(cfg.Stream))

	start := time.Now()
	frame, ok := acq.Acquire(ctx, addr)
	st := acq.Stats()
	if !ok {
		fmt.Printf("No frame after %d attempts (%s)\n", st.Attempts, time.Since(start).Round(time.Millisecond))
		for _, c := range stream.Categories {
			if n := st.Errors[c]; n > 0 {
				fmt.Printf("  %-8s %d\n", c, n)
			}
		}
		os.Exit(exitFailed)
	}

	classifier := validate.NewColorClassifier(cfg.Validate.ColorThreshold)
	isColor := classifier.IsColor(frame)

	fmt.Printf("Frame acquired in %s after %d attempt(s)\n", time.Since(start).Round(time.Millisecond), st.Attempts)
	fmt.Printf("  Size:        %dx%d\n", frame.Width, frame.Height)
	fmt.Printf("  Trace ID:    %s\n", frame.TraceID)
	fmt.Printf("  Gray error:  %.3f (threshold %.3f)\n", validate.GrayRoundTripError(frame.Data), classifier.Threshold)
	fmt.Printf("  Colour:      %v\n", isColor)

	if *outputDir != "" {
		path, err := saveFrame(*outputDir, frame, *slot, cfg.Archive.JPEGQuality)
		if err != nil {
			fail("failed to save frame: %v", err)
		}
		fmt.Printf("  Saved:       %s\n", path)
	}

	if !isColor {
		os.Exit(exitMonochrome)
	}
	os.Exit(exitColor)
}

func saveFrame(dir string, frame *types.Frame, slot, quality int) (string, error) {
	img, err := archive.FrameImage(frame)
	if err != nil {
		return "", err
	}
	data, err := archive.EncodeJPEG(img, quality)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("ch%d_slot%03d_%s.jpg", frame.Channel, slot, frame.Timestamp.Format("20060102T1504")))
	return path, os.WriteFile(path, data, 0o644)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(exitFailed)
}
