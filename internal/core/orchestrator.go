package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/oviss/internal/address"
	"github.com/care/oviss/internal/archive"
	"github.com/care/oviss/internal/credentials"
	"github.com/care/oviss/internal/types"
	"github.com/care/oviss/internal/validate"
)

var (
	// ErrRunInProgress is returned when a run is triggered while another is active
	ErrRunInProgress = errors.New("capture run already in progress")
	// ErrCredentials wraps a failed recorder login lookup. It is the only
	// error that aborts a run before the slot loop.
	ErrCredentials = errors.New("credentials lookup failed")
)

// FrameAcquirer pulls one frame for an address
type FrameAcquirer interface {
	Acquire(ctx context.Context, addr types.StreamAddress) (*types.Frame, bool)
}

// Classifier decides whether a frame is genuine colour
type Classifier interface {
	IsColor(f *types.Frame) bool
}

// SlotWriter stores the images of an accepted slot
type SlotWriter interface {
	WriteSlot(ctx context.Context, entries []archive.Entry) ([]types.ArchiveRecord, error)
}

// Observer receives run progress. Calls are made from the run goroutine and
// must not block for long.
type Observer interface {
	RunStarted(report RunReport)
	SlotCompleted(result SlotResult)
	RunFinished(report RunReport)
}

// Deps holds the collaborators of an Orchestrator
type Deps struct {
	StoreID     string
	Credentials credentials.Provider
	Generator   *address.Generator
	Acquirer    FrameAcquirer
	Classifier  Classifier
	Sync        *validate.SyncChecker
	Writer      SlotWriter
	Observers   []Observer

	// Parallel acquires the channels of a slot concurrently
	Parallel bool
	// Now returns the run date. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator drives one full capture pass over every slot
type Orchestrator struct {
	deps Deps

	runMu sync.Mutex // held for the duration of a run

	mu      sync.RWMutex
	current *RunReport
	last    *RunReport
	cancel  context.CancelFunc
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sync == nil {
		deps.Sync = validate.NewSyncChecker(validate.DefaultMaxSkew)
	}
	if deps.Classifier == nil {
		deps.Classifier = validate.NewColorClassifier(validate.DefaultColorThreshold)
	}
	return &Orchestrator{deps: deps}
}

// RunOnce performs one capture pass for the current run date. It returns
// ErrRunInProgress if another pass is active and an error wrapping
// ErrCredentials if the recorder login cannot be resolved. Per-slot and
// per-channel failures are logged and counted in the report, never returned.
// A cancelled ctx stops the pass between slots; the partial report is
// returned with Cancelled set.
func (o *Orchestrator) RunOnce(ctx context.Context) (*RunReport, error) {
	if !o.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDate := o.deps.Now()
	report := newRunReport(o.deps.StoreID, runDate, o.deps.Generator.Slots())

	o.mu.Lock()
	o.current = report
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.current = nil
		o.cancel = nil
		o.last = report
		o.mu.Unlock()
	}()

	log := slog.With("run_id", report.ID, "store_id", o.deps.StoreID)

	creds, err := o.deps.Credentials.Lookup(ctx, o.deps.StoreID)
	if err == nil {
		err = creds.Validate()
	}
	if err != nil {
		err = fmt.Errorf("%w: store %s: %v", ErrCredentials, o.deps.StoreID, err)
		o.update(func() { report.finish(err) })
		log.Error("capture run aborted", "error", err)
		o.notifyFinished(*report)
		return report, err
	}

	addrs := o.deps.Generator.Generate(creds, runDate)
	o.notifyStarted(*report)

	log.Info("capture run started",
		"run_date", runDate.Format(time.DateOnly),
		"slots", report.Slots,
		"channels", o.deps.Generator.Channels())

	for slot := 0; slot < report.Slots; slot++ {
		if ctx.Err() != nil {
			o.update(func() { report.Cancelled = true })
			log.Warn("capture run cancelled", "slot", slot)
			break
		}

		result, ok := o.processSlot(ctx, report.ID, slot, addrs)
		if !ok {
			o.update(func() { report.Cancelled = true })
			log.Warn("capture run cancelled", "slot", slot)
			break
		}
		o.update(func() { report.add(result) })
		o.notifySlot(result)
	}

	o.update(func() { report.finish(nil) })
	log.Info("capture run finished",
		"slots_processed", report.SlotsProcessed,
		"slots_archived", report.SlotsArchived,
		"frames_archived", report.FramesArchived,
		"placeholders", report.Placeholders,
		"acquire_failures", report.AcquireFailures,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	o.notifyFinished(*report)
	return report, nil
}

// processSlot acquires, classifies, decides and archives one slot. It
// reports false when ctx ended during acquisition: a cancelled channel looks
// like a failed one, so the slot is dropped rather than archived.
func (o *Orchestrator) processSlot(ctx context.Context, runID string, slot int, addrs map[types.Channel][]types.StreamAddress) (SlotResult, bool) {
	channels := o.deps.Generator.Channels()
	frames := o.acquireSlot(ctx, slot, channels, addrs)
	if ctx.Err() != nil {
		return SlotResult{}, false
	}

	result := SlotResult{RunID: runID, Slot: slot}
	if len(channels) > 0 {
		result.Window = addrs[channels[0]][slot].Window
	}

	var retained []*types.Frame
	for i, f := range frames {
		if f == nil {
			result.AcquireFailures++
			continue
		}
		if !o.deps.Classifier.IsColor(f) {
			result.Rejected++
			slog.Debug("frame rejected as monochrome", "slot", slot, "channel", channels[i])
			continue
		}
		retained = append(retained, f)
	}

	result.Outcome = Decide(slot, retained, o.deps.Sync)
	log := slog.With("run_id", runID, "slot", slot)

	switch result.Outcome.Decision {
	case types.DecisionSkipEmpty:
		log.Debug("no valid frames")
		return result, true
	case types.DecisionSkipSingle:
		log.Info("only one valid frame, slot skipped", "channel", result.Outcome.Retained[0])
		return result, true
	case types.DecisionSkipIncoherent:
		log.Warn("frames not synchronized, slot skipped",
			"frames", len(retained),
			"skew", result.Outcome.Skew)
		return result, true
	}

	entries := SlotEntries(retained, result.Outcome.Missing)
	records, err := o.deps.Writer.WriteSlot(ctx, entries)
	result.Records = records
	if err != nil {
		result.Err = err
		log.Error("archive write failed", "error", err, "written", len(records))
	}
	return result, true
}

// acquireSlot returns one frame per channel in channel order, nil where
// acquisition failed. All channel outcomes are joined before returning.
func (o *Orchestrator) acquireSlot(ctx context.Context, slot int, channels []types.Channel, addrs map[types.Channel][]types.StreamAddress) []*types.Frame {
	frames := make([]*types.Frame, len(channels))

	acquire := func(i int) {
		addr := addrs[channels[i]][slot]
		if f, ok := o.deps.Acquirer.Acquire(ctx, addr); ok {
			frames[i] = f
		}
	}

	if !o.deps.Parallel {
		for i := range channels {
			acquire(i)
		}
		return frames
	}

	var wg sync.WaitGroup
	for i := range channels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acquire(i)
		}(i)
	}
	wg.Wait()
	return frames
}

// Decide computes the slot verdict from the retained colour frames, given in
// channel order. Missing is every recorder channel minus the retained ones,
// so an archived slot holds one file per channel even when only a subset is
// captured.
func Decide(slot int, retained []*types.Frame, checker *validate.SyncChecker) types.ValidationOutcome {
	out := types.ValidationOutcome{Slot: slot}

	have := make(map[types.Channel]bool, len(retained))
	timestamps := make([]time.Time, 0, len(retained))
	for _, f := range retained {
		out.Retained = append(out.Retained, f.Channel)
		have[f.Channel] = true
		timestamps = append(timestamps, f.Timestamp)
	}
	for _, ch := range types.AllChannels() {
		if !have[ch] {
			out.Missing = append(out.Missing, ch)
		}
	}

	switch len(retained) {
	case 0:
		out.Decision = types.DecisionSkipEmpty
		return out
	case 1:
		out.Decision = types.DecisionSkipSingle
		return out
	}

	out.Skew = validate.Skew(timestamps)
	out.Coherent = checker.Coherent(timestamps)
	if out.Coherent {
		out.Decision = types.DecisionArchive
	} else {
		out.Decision = types.DecisionSkipIncoherent
	}
	return out
}

// SlotEntries lists the retained frames followed by one placeholder per
// missing channel, all stamped with the first retained frame's timestamp.
func SlotEntries(retained []*types.Frame, missing []types.Channel) []archive.Entry {
	if len(retained) == 0 {
		return nil
	}
	ts := retained[0].Timestamp

	entries := make([]archive.Entry, 0, len(retained)+len(missing))
	for _, f := range retained {
		entries = append(entries, archive.Entry{Channel: f.Channel, Frame: f, Timestamp: f.Timestamp})
	}
	for _, ch := range missing {
		entries = append(entries, archive.Entry{Channel: ch, Timestamp: ts})
	}
	return entries
}

// Running reports whether a pass is active
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current != nil
}

// Current returns a snapshot of the active run, or nil
func (o *Orchestrator) Current() *RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return nil
	}
	r := o.current.clone()
	return &r
}

// LastRun returns the most recently finished run, or nil
func (o *Orchestrator) LastRun() *RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	r := o.last.clone()
	return &r
}

// Cancel stops the active run after its current slot. It reports whether a
// run was active.
func (o *Orchestrator) Cancel() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// update mutates the active report under the status lock
func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	fn()
	o.mu.Unlock()
}

func (o *Orchestrator) notifyStarted(r RunReport) {
	for _, obs := range o.deps.Observers {
		obs.RunStarted(r)
	}
}

func (o *Orchestrator) notifySlot(s SlotResult) {
	for _, obs := range o.deps.Observers {
		obs.SlotCompleted(s)
	}
}

func (o *Orchestrator) notifyFinished(r RunReport) {
	for _, obs := range o.deps.Observers {
		obs.RunFinished(r)
	}
}

func newRunID() string {
	return uuid.New().String()
}
