package stream

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/care/oviss/internal/types"
)

// Pattern selects what a synthetic channel produces
type Pattern string

const (
	PatternColor Pattern = "color"
	PatternGray  Pattern = "gray"
	PatternFail  Pattern = "fail"
	PatternEmpty Pattern = "empty"
)

// ParsePattern validates a pattern name
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case PatternColor, PatternGray, PatternFail, PatternEmpty:
		return p, nil
	default:
		return "", fmt.Errorf("unknown synthetic pattern %q", s)
	}
}

// SyntheticDialer produces in-process frames without a recorder. The
// channel is read back from the track code in the address.
type SyntheticDialer struct {
	Width    int
	Height   int
	Default  Pattern
	Patterns map[types.Channel]Pattern
}

// NewSyntheticDialer returns a dialer producing colour frames on every channel
func NewSyntheticDialer(width, height int) *SyntheticDialer {
	return &SyntheticDialer{
		Width:    width,
		Height:   height,
		Default:  PatternColor,
		Patterns: make(map[types.Channel]Pattern),
	}
}

var trackPattern = regexp.MustCompile(`tracks\?[a-z]+/0*(\d)`)

// Dial implements Dialer
func (d *SyntheticDialer) Dial(url string) Source {
	p := d.Default
	if m := trackPattern.FindStringSubmatch(url); m != nil {
		n, _ := strconv.Atoi(m[1])
		if cp, ok := d.Patterns[types.Channel(n)]; ok {
			p = cp
		}
	}
	return &syntheticSource{width: d.Width, height: d.Height, pattern: p}
}

type syntheticSource struct {
	width   int
	height  int
	pattern Pattern
	open    bool
}

func (s *syntheticSource) Open(ctx context.Context) error {
	if s.pattern == PatternFail {
		return fmt.Errorf("could not connect: synthetic failure")
	}
	s.open = true
	return ctx.Err()
}

func (s *syntheticSource) Read(ctx context.Context) (*types.Frame, error) {
	if !s.open {
		return nil, fmt.Errorf("source not opened")
	}
	if s.pattern == PatternEmpty {
		return nil, ErrEmptyFrame
	}

	data := make([]byte, s.width*s.height*3)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			i := (y*s.width + x) * 3
			if s.pattern == PatternGray {
				v := byte(x * 255 / max(s.width-1, 1))
				data[i], data[i+1], data[i+2] = v, v, v
				continue
			}
			data[i] = byte(x * 255 / max(s.width-1, 1))
			data[i+1] = byte(y * 255 / max(s.height-1, 1))
			data[i+2] = 128
		}
	}

	return &types.Frame{
		Width:    s.width,
		Height:   s.height,
		Channels: 3,
		Data:     data,
		TraceID:  uuid.New().String(),
	}, nil
}

func (s *syntheticSource) Release() error {
	s.open = false
	return nil
}
