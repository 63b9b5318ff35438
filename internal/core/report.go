package core

import (
	"maps"
	"time"

	"github.com/care/oviss/internal/types"
)

// RunReport summarises one capture pass
type RunReport struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	RunDate    time.Time `json:"run_date"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Slots           int            `json:"slots"`
	SlotsProcessed  int            `json:"slots_processed"`
	SlotsArchived   int            `json:"slots_archived"`
	Decisions       map[string]int `json:"decisions"`
	FramesArchived  int            `json:"frames_archived"`
	Placeholders    int            `json:"placeholders"`
	AcquireFailures int            `json:"acquire_failures"`
	Rejected        int            `json:"rejected_monochrome"`
	WriteErrors     int            `json:"write_errors"`

	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

// SlotResult is the outcome of one slot
type SlotResult struct {
	RunID           string
	Slot            int
	Window          types.CaptureWindow
	Outcome         types.ValidationOutcome
	Records         []types.ArchiveRecord
	AcquireFailures int
	Rejected        int
	Err             error
}

func newRunReport(storeID string, runDate time.Time, slots int) *RunReport {
	return &RunReport{
		ID:        newRunID(),
		StoreID:   storeID,
		RunDate:   runDate,
		StartedAt: time.Now(),
		Slots:     slots,
		Decisions: make(map[string]int, 4),
	}
}

func (r *RunReport) add(s SlotResult) {
	r.SlotsProcessed++
	r.Decisions[s.Outcome.Decision.String()]++
	if s.Outcome.Decision.Archived() {
		r.SlotsArchived++
	}
	r.AcquireFailures += s.AcquireFailures
	r.Rejected += s.Rejected
	for _, rec := range s.Records {
		if rec.Placeholder {
			r.Placeholders++
		} else {
			r.FramesArchived++
		}
	}
	if s.Err != nil {
		r.WriteErrors++
	}
}

func (r *RunReport) finish(err error) {
	r.FinishedAt = time.Now()
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns the elapsed run time, up to now for an active run
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run reached the end of the slot loop
func (r RunReport) Succeeded() bool {
	return r.Error == "" && !r.Cancelled && !r.FinishedAt.IsZero()
}

func (r *RunReport) clone() RunReport {
	c := *r
	c.Decisions = maps.Clone(r.Decisions)
	return c
}
