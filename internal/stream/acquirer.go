package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/care/oviss/internal/address"
	"github.com/care/oviss/internal/types"
)

// RetryConfig bounds one acquisition
type RetryConfig struct {
	MaxRetries  int           // attempts per address (default: 3)
	RetryDelay  time.Duration // wait between failed attempts (default: 2s)
	SettleDelay time.Duration // wait after every release (default: 500ms)
	ReadTimeout time.Duration // per-attempt open+read budget, 0 = none
}

// DefaultRetryConfig returns the default acquisition bounds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		SettleDelay: 500 * time.Millisecond,
		ReadTimeout: 15 * time.Second,
	}
}

// Stats are cumulative acquisition counters
type Stats struct {
	Attempts  uint64
	Frames    uint64
	Exhausted uint64
	Errors    map[ErrorCategory]uint64
}

// Acquirer pulls one frame per address with retries. Safe for concurrent use.
type Acquirer struct {
	dialer Dialer
	cfg    RetryConfig

	attempts  atomic.Uint64
	frames    atomic.Uint64
	exhausted atomic.Uint64
	errs      [ErrCategoryUnknown + 1]atomic.Uint64
}

// NewAcquirer creates an acquirer. Zero config fields take defaults, except
// SettleDelay and ReadTimeout which may be zero on purpose.
func NewAcquirer(dialer Dialer, cfg RetryConfig) *Acquirer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Acquirer{dialer: dialer, cfg: cfg}
}

// Acquire returns a frame for addr, or false once every attempt failed or
// ctx ended. It never returns an error; failures are logged per attempt.
// The frame carries the channel and the window start of addr.
func (a *Acquirer) Acquire(ctx context.Context, addr types.StreamAddress) (*types.Frame, bool) {
	redacted := address.Redact(addr.URL)

	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		frame, err := a.attempt(ctx, addr.URL)
		if err == nil {
			frame.Channel = addr.Channel
			frame.Timestamp = addr.Window.Start
			if frame.TraceID == "" {
				frame.TraceID = uuid.New().String()
			}
			a.frames.Add(1)

			slog.Debug("frame acquired",
				"channel", int(addr.Channel),
				"slot", addr.Slot,
				"attempt", attempt,
				"width", frame.Width,
				"height", frame.Height,
				"trace_id", frame.TraceID,
			)
			return frame, true
		}

		category := ClassifyError(err)
		a.errs[category].Add(1)

		slog.Warn("acquisition attempt failed",
			"address", redacted,
			"channel", int(addr.Channel),
			"slot", addr.Slot,
			"attempt", attempt,
			"max_retries", a.cfg.MaxRetries,
			"category", category.String(),
			"error", err,
		)

		if attempt < a.cfg.MaxRetries {
			if !sleep(ctx, a.cfg.RetryDelay) {
				return nil, false
			}
		}
	}

	a.exhausted.Add(1)
	slog.Warn("acquisition retries exhausted",
		"address", redacted,
		"channel", int(addr.Channel),
		"slot", addr.Slot,
		"max_retries", a.cfg.MaxRetries,
	)
	return nil, false
}

// attempt runs one scoped open/read. The source is released and the settle
// delay observed on every path out of this function.
func (a *Acquirer) attempt(ctx context.Context, url string) (frame *types.Frame, err error) {
	a.attempts.Add(1)

	src := a.dialer.Dial(url)
	defer func() {
		if rerr := src.Release(); rerr != nil {
			slog.Debug("source release failed", "error", rerr)
		}
		sleep(ctx, a.cfg.SettleDelay)
	}()
	defer func() {
		if r := recover(); r != nil {
			frame, err = nil, fmt.Errorf("source panic: %v", r)
		}
	}()

	attemptCtx := ctx
	if a.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, a.cfg.ReadTimeout)
		defer cancel()
	}

	if err := src.Open(attemptCtx); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	frame, err = src.Read(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if frame == nil || len(frame.Data) == 0 {
		return nil, ErrEmptyFrame
	}
	return frame, nil
}

// Stats returns a snapshot of the counters
func (a *Acquirer) Stats() Stats {
	s := Stats{
		Attempts:  a.attempts.Load(),
		Frames:    a.frames.Load(),
		Exhausted: a.exhausted.Load(),
		Errors:    make(map[ErrorCategory]uint64, len(Categories)),
	}
	for _, c := range Categories {
		s.Errors[c] = a.errs[c].Load()
	}
	return s
}

// sleep waits d or until ctx ends; it reports whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
