package core

import (
	"log/slog"

	"github.com/care/oviss/internal/emitter"
	"github.com/care/oviss/internal/metrics"
)

// metricsObserver feeds run progress into the Prometheus counters
type metricsObserver struct {
	m *metrics.Metrics
}

func (o metricsObserver) RunStarted(RunReport) {
	o.m.RunStarted()
}

func (o metricsObserver) SlotCompleted(s SlotResult) {
	var frames, placeholders int
	for _, rec := range s.Records {
		if rec.Placeholder {
			placeholders++
		} else {
			frames++
		}
	}
	o.m.SlotProcessed(s.Outcome.Decision.String(), frames, placeholders, s.AcquireFailures, s.Rejected, s.Err != nil)
}

func (o metricsObserver) RunFinished(r RunReport) {
	o.m.RunFinished(runResult(r), r.Duration(), r.FinishedAt)
}

func runResult(r RunReport) string {
	switch {
	case r.Error != "":
		return "failed"
	case r.Cancelled:
		return "cancelled"
	default:
		return "success"
	}
}

// eventPublisher is the emitter surface used for run events
type eventPublisher interface {
	Publish(eventType, runID string, data any) error
}

// eventObserver publishes run events over MQTT. Publish failures are logged
// at debug level; the broker being down never affects a run.
type eventObserver struct {
	pub eventPublisher
}

type slotEvent struct {
	Slot         int      `json:"slot"`
	WindowStart  string   `json:"window_start"`
	Retained     []int    `json:"retained"`
	Missing      []int    `json:"missing"`
	SkewSeconds  float64  `json:"skew_seconds"`
	Files        []string `json:"files"`
	Placeholders int      `json:"placeholders"`
	Error        string   `json:"error,omitempty"`
}

func (o eventObserver) RunStarted(r RunReport) {
	o.publish(emitter.EventRunStarted, r.ID, r)
}

func (o eventObserver) SlotCompleted(s SlotResult) {
	if !s.Outcome.Decision.Archived() {
		return
	}

	evt := slotEvent{
		Slot:        s.Slot,
		WindowStart: s.Window.Start.UTC().Format("2006-01-02T15:04:05Z"),
		SkewSeconds: s.Outcome.Skew.Seconds(),
	}
	for _, ch := range s.Outcome.Retained {
		evt.Retained = append(evt.Retained, int(ch))
	}
	for _, ch := range s.Outcome.Missing {
		evt.Missing = append(evt.Missing, int(ch))
	}
	for _, rec := range s.Records {
		evt.Files = append(evt.Files, rec.Path)
		if rec.Placeholder {
			evt.Placeholders++
		}
	}
	if s.Err != nil {
		evt.Error = s.Err.Error()
	}
	o.publish(emitter.EventSlotArchived, s.RunID, evt)
}

func (o eventObserver) RunFinished(r RunReport) {
	o.publish(emitter.EventRunFinished, r.ID, r)
}

func (o eventObserver) publish(eventType, runID string, data any) {
	if err := o.pub.Publish(eventType, runID, data); err != nil {
		slog.Debug("event not published", "type", eventType, "error", err)
	}
}
