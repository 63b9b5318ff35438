// Package validate holds the per-frame and per-slot checks applied before a
// slot is archived.
package validate

import (
	"github.com/care/oviss/internal/types"
)

// DefaultColorThreshold is the mean round-trip error, on an 8-bit scale,
// above which a frame counts as colour.
const DefaultColorThreshold = 1.0

// ColorClassifier separates genuine colour frames from monochrome or IR
// frames delivered as three identical channels.
type ColorClassifier struct {
	Threshold float64
}

// NewColorClassifier returns a classifier; a non-positive threshold selects
// DefaultColorThreshold.
func NewColorClassifier(threshold float64) *ColorClassifier {
	if threshold <= 0 {
		threshold = DefaultColorThreshold
	}
	return &ColorClassifier{Threshold: threshold}
}

// IsColor classifies with DefaultColorThreshold
func IsColor(f *types.Frame) bool {
	return NewColorClassifier(DefaultColorThreshold).IsColor(f)
}

// IsColor reports whether the frame survives a gray round trip with a mean
// absolute error above the threshold. Nil, non-RGB and malformed frames are
// never colour.
func (c *ColorClassifier) IsColor(f *types.Frame) bool {
	if f == nil || f.Channels != 3 || !f.Valid() {
		return false
	}
	return GrayRoundTripError(f.Data) > c.Threshold
}

// GrayRoundTripError converts packed RGB to luminance, expands it back to
// three equal samples and returns the mean absolute difference per sample.
func GrayRoundTripError(rgb []byte) float64 {
	if len(rgb) < 3 {
		return 0
	}

	var sum uint64
	n := len(rgb) - len(rgb)%3
	for i := 0; i < n; i += 3 {
		r, g, b := int(rgb[i]), int(rgb[i+1]), int(rgb[i+2])
		y := luma(r, g, b)
		sum += uint64(absDiff(r, y) + absDiff(g, y) + absDiff(b, y))
	}
	return float64(sum) / float64(n)
}

// luma is the BT.601 weighting in 14-bit fixed point, rounded
func luma(r, g, b int) int {
	return (r*4899 + g*9617 + b*1868 + 8192) >> 14
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
