package types

import (
	"fmt"
	"time"
)

// Frame represents a single decoded still pulled from a stream
type Frame struct {
	// Channel is the camera channel the frame was acquired from
	Channel Channel
	// Timestamp is the start of the capture window the frame was requested
	// for, never the wall clock at decode time
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Channels is the number of samples per pixel (3 for RGB)
	Channels int
	// Data contains the pixel data (packed RGB, row-major)
	Data []byte
	// TraceID is a unique identifier for following a frame through the logs
	TraceID string
}

// Valid reports whether the buffer size matches the declared geometry
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 {
		return false
	}
	return len(f.Data) == f.Width*f.Height*f.Channels
}

// Resolution represents supported decode resolutions
type Resolution int

const (
	// Res480p represents 640x480 resolution (VGA)
	Res480p Resolution = iota
	// Res720p represents 1280x720 resolution (HD)
	Res720p
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
)

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	default:
		return 1280, 720
	}
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	default:
		return "unknown"
	}
}

// ParseResolution maps "480p", "720p" or "1080p" to a Resolution
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "480p":
		return Res480p, nil
	case "720p":
		return Res720p, nil
	case "1080p":
		return Res1080p, nil
	default:
		return Res720p, fmt.Errorf("invalid resolution %q (must be 480p, 720p or 1080p)", s)
	}
}
