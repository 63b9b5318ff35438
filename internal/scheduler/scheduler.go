// Package scheduler fires a capture run once a day at a fixed wall-clock
// time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunFunc performs one run. Errors are logged; the schedule continues.
type RunFunc func(ctx context.Context) error

// Daily triggers RunFunc every day at Hour:Minute in Location
type Daily struct {
	run RunFunc

	mu     sync.RWMutex
	hour   int
	minute int
	loc    *time.Location
	paused bool
	next   time.Time

	reschedule chan struct{}

	// injectable for tests
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewDaily creates a daily scheduler
func NewDaily(hour, minute int, loc *time.Location, run RunFunc) (*Daily, error) {
	if err := checkClock(hour, minute); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		run:        run,
		hour:       hour,
		minute:     minute,
		loc:        loc,
		reschedule: make(chan struct{}, 1),
		now:        time.Now,
		after:      time.After,
	}, nil
}

func checkClock(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid schedule time %02d:%02d", hour, minute)
	}
	return nil
}

// NextAfter returns the first Hour:Minute strictly after t
func NextAfter(t time.Time, hour, minute int, loc *time.Location) time.Time {
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is cancelled, invoking the run function at each
// trigger. Runs execute on this goroutine, so a trigger that falls inside a
// long run is not doubled up.
func (d *Daily) Run(ctx context.Context) error {
	for {
		d.mu.Lock()
		next := NextAfter(d.now(), d.hour, d.minute, d.loc)
		d.next = next
		d.mu.Unlock()

		wait := next.Sub(d.now())
		slog.Info("next capture run scheduled", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return nil
		case <-d.reschedule:
			continue
		case <-d.after(wait):
		}

		if d.Paused() {
			slog.Info("scheduled capture run skipped, schedule paused")
			continue
		}

		slog.Info("scheduled capture run triggered")
		if err := d.run(ctx); err != nil {
			slog.Error("scheduled capture run failed", "error", err)
		}
	}
}

// SetClock changes the trigger time; the pending timer is recomputed
func (d *Daily) SetClock(hour, minute int, loc *time.Location) error {
	if err := checkClock(hour, minute); err != nil {
		return err
	}
	d.mu.Lock()
	d.hour, d.minute = hour, minute
	if loc != nil {
		d.loc = loc
	}
	d.mu.Unlock()

	select {
	case d.reschedule <- struct{}{}:
	default:
	}
	return nil
}

// Pause suppresses scheduled runs until Resume
func (d *Daily) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	slog.Info("schedule paused")
}

// Resume re-enables scheduled runs
func (d *Daily) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	slog.Info("schedule resumed")
}

// Paused reports whether scheduled runs are suppressed
func (d *Daily) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

// Next returns the pending trigger time, zero before Run
func (d *Daily) Next() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.next
}

// Clock returns the configured trigger time as HH:MM
func (d *Daily) Clock() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("%02d:%02d", d.hour, d.minute)
}
