package types

import (
	"fmt"
	"time"
)

// Channel identifies one camera input on a recorder. Valid values are 1-4.
type Channel int

// MaxChannels is the number of channels a recorder exposes
const MaxChannels = 4

// AllChannels returns the full channel set in ascending order
func AllChannels() []Channel {
	chs := make([]Channel, 0, MaxChannels)
	for i := 1; i <= MaxChannels; i++ {
		chs = append(chs, Channel(i))
	}
	return chs
}

// Valid reports whether c is in 1..MaxChannels
func (c Channel) Valid() bool {
	return c >= 1 && c <= MaxChannels
}

// Track returns the recorder track code for the channel: the channel number
// zero-padded to width digits followed by suffix, e.g. "101" or "0101"
func (c Channel) Track(width int, suffix string) string {
	return fmt.Sprintf("%0*d%s", max(width, 1), int(c), suffix)
}

// String returns the decimal channel number
func (c Channel) String() string {
	return fmt.Sprintf("%d", int(c))
}

// CaptureWindow is a closed time interval requested from the recorder
type CaptureWindow struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start
func (w CaptureWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// StreamAddress is the fully qualified playback URL for one channel and slot
type StreamAddress struct {
	Channel Channel
	Slot    int
	Window  CaptureWindow
	URL     string
}

// Decision is the per-slot archive verdict
type Decision int

const (
	// DecisionSkipEmpty means no channel produced a colour frame
	DecisionSkipEmpty Decision = iota
	// DecisionSkipSingle means exactly one channel produced a colour frame
	DecisionSkipSingle
	// DecisionSkipIncoherent means frames were kept but their timestamps disagree
	DecisionSkipIncoherent
	// DecisionArchive means retained frames and placeholders are written
	DecisionArchive
)

// String returns the label used in logs and metrics
func (d Decision) String() string {
	switch d {
	case DecisionSkipEmpty:
		return "skip_empty"
	case DecisionSkipSingle:
		return "skip_single"
	case DecisionSkipIncoherent:
		return "skip_incoherent"
	case DecisionArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Archived reports whether the decision writes files
func (d Decision) Archived() bool {
	return d == DecisionArchive
}

// ValidationOutcome is the verdict computed for one slot
type ValidationOutcome struct {
	Slot     int
	Retained []Channel
	Missing  []Channel
	Coherent bool
	Skew     time.Duration
	Decision Decision
}

// ArchiveRecord describes one file written for a slot
type ArchiveRecord struct {
	Channel     Channel
	Path        string
	Placeholder bool
	Bytes       int
}
