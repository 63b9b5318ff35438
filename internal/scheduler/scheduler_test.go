package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextAfter(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 3, 15, 1, 0, 0, 0, loc),
			want: time.Date(2024, 3, 15, 4, 14, 0, 0, loc),
		},
		{
			name: "exactly at trigger goes to tomorrow",
			now:  time.Date(2024, 3, 15, 4, 14, 0, 0, loc),
			want: time.Date(2024, 3, 16, 4, 14, 0, 0, loc),
		},
		{
			name: "after trigger",
			now:  time.Date(2024, 3, 15, 9, 30, 0, 0, loc),
			want: time.Date(2024, 3, 16, 4, 14, 0, 0, loc),
		},
		{
			name: "month rollover",
			now:  time.Date(2024, 2, 29, 23, 0, 0, 0, loc),
			want: time.Date(2024, 3, 1, 4, 14, 0, 0, loc),
		},
		{
			name: "input in another zone",
			now:  time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC), // 03:30 local
			want: time.Date(2024, 3, 15, 4, 14, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextAfter(tt.now, 4, 14, loc)
			if !got.Equal(tt.want) {
				t.Errorf("NextAfter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDaily_InvalidClock(t *testing.T) {
	if _, err := NewDaily(24, 0, time.UTC, nil); err == nil {
		t.Error("expected error for hour 24")
	}
	if _, err := NewDaily(4, 60, time.UTC, nil); err == nil {
		t.Error("expected error for minute 60")
	}
}

// instantDaily returns a scheduler whose timers fire immediately
func instantDaily(t *testing.T, run RunFunc) *Daily {
	t.Helper()
	d, err := NewDaily(4, 14, time.UTC, run)
	if err != nil {
		t.Fatal(err)
	}
	d.now = func() time.Time { return time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC) }
	d.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return d
}

func TestDaily_RunsAtTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	d := instantDaily(t, func(context.Context) error {
		if runs.Add(1) == 3 {
			cancel()
		}
		return errors.New("credentials lookup failed")
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
	if want := time.Date(2024, 3, 15, 4, 14, 0, 0, time.UTC); !d.Next().Equal(want) {
		t.Errorf("Next = %v, want %v", d.Next(), want)
	}
}

func TestDaily_PauseSkipsRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var runs atomic.Int32
	d := instantDaily(t, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	d.after = func(time.Duration) <-chan time.Time { return time.After(5 * time.Millisecond) }
	d.Pause()
	if !d.Paused() {
		t.Fatal("Paused() = false after Pause")
	}

	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 0 {
		t.Errorf("paused scheduler ran %d times", runs.Load())
	}

	d.Resume()
	if d.Paused() {
		t.Error("Paused() = true after Resume")
	}
}

func TestDaily_SetClock(t *testing.T) {
	d, err := NewDaily(4, 14, time.UTC, func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SetClock(5, 30, nil); err != nil {
		t.Fatal(err)
	}
	if d.Clock() != "05:30" {
		t.Errorf("Clock = %q", d.Clock())
	}
	if err := d.SetClock(-1, 0, nil); err == nil {
		t.Error("expected error")
	}
	// second SetClock must not block on the pending reschedule signal
	if err := d.SetClock(6, 0, time.UTC); err != nil {
		t.Fatal(err)
	}
}
