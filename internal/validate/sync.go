package validate

import "time"

// DefaultMaxSkew is the widest spread of frame timestamps accepted in a slot
const DefaultMaxSkew = 180 * time.Second

// SyncChecker decides whether the frames of one slot belong together
type SyncChecker struct {
	MaxSkew time.Duration
}

// NewSyncChecker returns a checker; a non-positive skew selects DefaultMaxSkew
func NewSyncChecker(maxSkew time.Duration) *SyncChecker {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &SyncChecker{MaxSkew: maxSkew}
}

// Coherent checks timestamps against DefaultMaxSkew
func Coherent(timestamps []time.Time) bool {
	return NewSyncChecker(DefaultMaxSkew).Coherent(timestamps)
}

// Coherent reports whether max - min <= MaxSkew. An empty set is never
// coherent.
func (s *SyncChecker) Coherent(timestamps []time.Time) bool {
	if len(timestamps) == 0 {
		return false
	}
	return Skew(timestamps) <= s.MaxSkew
}

// Skew returns max - min of the timestamps, or zero when empty
func Skew(timestamps []time.Time) time.Duration {
	if len(timestamps) == 0 {
		return 0
	}
	lo, hi := timestamps[0], timestamps[0]
	for _, t := range timestamps[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return hi.Sub(lo)
}
