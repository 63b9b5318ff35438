package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/care/oviss/internal/address"
	"github.com/care/oviss/internal/archive"
	"github.com/care/oviss/internal/config"
	"github.com/care/oviss/internal/credentials"
	"github.com/care/oviss/internal/stream"
	"github.com/care/oviss/internal/types"
)

// NewGenerator maps the capture and stream sections onto the address schedule
func NewGenerator(cfg *config.Config) *address.Generator {
	channels := make([]types.Channel, 0, len(cfg.Capture.Channels))
	for _, ch := range cfg.Capture.Channels {
		channels = append(channels, types.Channel(ch))
	}
	return address.NewGenerator(address.Config{
		Port:        cfg.Stream.Port,
		TrackSuffix: cfg.Stream.TrackSuffix,
		TrackWidth:  cfg.Stream.TrackWidth,
		Transport:   cfg.Stream.Transport,
		Channels:    channels,
		Slots:       cfg.Capture.Slots,
		StartHour:   cfg.Capture.StartHour,
		DaysBack:    cfg.Capture.DaysBack,
		Location:    cfg.CaptureLocation(),
		WallClock:   cfg.Capture.WallclockTimestamps,
	})
}

// NewDialer selects the acquisition backend
func NewDialer(cfg config.StreamConfig) (stream.Dialer, error) {
	res, err := types.ParseResolution(cfg.Resolution)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "gstreamer":
		return stream.NewGstDialer(stream.GstConfig{Resolution: res, LatencyMS: cfg.LatencyMS})

	case "opencv":
		return stream.OpenCVDialer{}, nil

	case "synthetic":
		w, h := res.Dimensions()
		d := stream.NewSyntheticDialer(w, h)
		p, err := stream.ParsePattern(cfg.Synthetic.Default)
		if err != nil {
			return nil, err
		}
		d.Default = p
		for ch, name := range cfg.Synthetic.Channels {
			p, err := stream.ParsePattern(name)
			if err != nil {
				return nil, err
			}
			d.Patterns[types.Channel(ch)] = p
		}
		slog.Warn("using synthetic stream backend, no recorder will be contacted")
		return d, nil

	default:
		return nil, fmt.Errorf("unknown stream backend %q", cfg.Backend)
	}
}

// NewRetryConfig maps the stream section onto acquisition bounds
func NewRetryConfig(cfg config.StreamConfig) stream.RetryConfig {
	return stream.RetryConfig{
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		SettleDelay: cfg.SettleDelay,
		ReadTimeout: cfg.ReadTimeout,
	}
}

// NewCredentialsProvider returns the configured provider and, for the sql
// source, the handle to close on shutdown
func NewCredentialsProvider(cfg config.CredentialsConfig) (credentials.Provider, io.Closer, error) {
	switch cfg.Source {
	case "static":
		return credentials.StaticProvider{Creds: credentials.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
			Host:     cfg.Host,
		}}, nil, nil

	case "env":
		return credentials.NewEnvProvider(cfg.EnvFile), nil, nil

	case "sql":
		p, err := credentials.NewSQLProvider(cfg.SQL.Driver, cfg.SQL.DSN, cfg.SQL.Query)
		if err != nil {
			return nil, nil, err
		}
		// a fresh sqlite file gets the default table
		if cfg.SQL.Query == "" && (cfg.SQL.Driver == "" || cfg.SQL.Driver == "sqlite3") {
			if err := p.EnsureSchema(context.Background()); err != nil {
				p.Close()
				return nil, nil, fmt.Errorf("failed to prepare credentials table: %w", err)
			}
		}
		return p, p, nil

	default:
		return nil, nil, fmt.Errorf("unknown credentials source %q", cfg.Source)
	}
}

// newArchiveWriter builds the filesystem writer with the optional S3 mirror
func newArchiveWriter(ctx context.Context, cfg *config.Config) (*archive.Writer, error) {
	var mirrors []archive.Sink
	if cfg.Archive.S3.Bucket != "" {
		s3sink, err := archive.NewS3Sink(ctx, cfg.Archive.S3.Bucket, cfg.Archive.S3.Region, cfg.Archive.S3.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 mirror: %w", err)
		}
		mirrors = append(mirrors, s3sink)
		slog.Info("archive mirror enabled", "bucket", cfg.Archive.S3.Bucket, "prefix", cfg.Archive.S3.Prefix)
	}

	return archive.NewWriter(archive.Config{
		StoreID:           cfg.StoreID,
		JPEGQuality:       cfg.Archive.JPEGQuality,
		PlaceholderWidth:  cfg.Archive.PlaceholderWidth,
		PlaceholderHeight: cfg.Archive.PlaceholderHeight,
	}, archive.FSSink{Root: cfg.Archive.Root}, mirrors...), nil
}

// swappableProvider lets a config reload replace the credentials source
// between runs
type swappableProvider struct {
	mu     sync.RWMutex
	p      credentials.Provider
	closer io.Closer
}

func (s *swappableProvider) Lookup(ctx context.Context, storeID string) (credentials.Credentials, error) {
	s.mu.RLock()
	p := s.p
	s.mu.RUnlock()
	return p.Lookup(ctx, storeID)
}

// swap installs a new provider and closes the previous one
func (s *swappableProvider) swap(p credentials.Provider, closer io.Closer) {
	s.mu.Lock()
	old := s.closer
	s.p, s.closer = p, closer
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("failed to close previous credentials source", "error", err)
		}
	}
}

func (s *swappableProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
