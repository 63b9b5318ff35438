// Package address builds the time-indexed playback URLs requested from the
// recorder, one per channel and capture slot.
package address

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/care/oviss/internal/credentials"
	"github.com/care/oviss/internal/types"
)

// TimestampLayout is the recorder's playback time format. The trailing Z is
// literal.
const TimestampLayout = "20060102T150405Z"

// Config controls the shape of the generated schedule
type Config struct {
	Port        int
	TrackSuffix string
	TrackWidth  int    // zero-padded digits of the channel number in the track code
	Transport   string // query token placed before the track, "tcp" by default
	Channels    []types.Channel
	Slots       int // windows per channel
	StartHour   int // hour of day of the first window
	DaysBack    int // days subtracted from the run date
	Window      time.Duration
	Location    *time.Location
	// WallClock renders local wall-clock time followed by a literal Z
	// instead of converting to UTC.
	WallClock bool
}

// DefaultConfig returns the recorder defaults: four channels, 990 one-minute
// windows from 06:00, eleven days back.
func DefaultConfig() Config {
	return Config{
		Port:        8554,
		TrackSuffix: "01",
		TrackWidth:  1,
		Transport:   "tcp",
		Channels:    types.AllChannels(),
		Slots:       990,
		StartHour:   6,
		DaysBack:    11,
		Window:      time.Minute,
		Location:    time.UTC,
	}
}

// Generator produces stream addresses for a run
type Generator struct {
	cfg Config
}

// NewGenerator creates a generator, filling zero fields from DefaultConfig
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.TrackWidth <= 0 {
		cfg.TrackWidth = def.TrackWidth
	}
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.Slots <= 0 {
		cfg.Slots = def.Slots
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Generator{cfg: cfg}
}

// Slots returns the number of windows generated per channel
func (g *Generator) Slots() int {
	return g.cfg.Slots
}

// Channels returns the configured channel set
func (g *Generator) Channels() []types.Channel {
	return g.cfg.Channels
}

// FirstWindowStart returns StartHour:00 on (runDate - DaysBack) in the
// generator's location.
func (g *Generator) FirstWindowStart(runDate time.Time) time.Time {
	d := runDate.In(g.cfg.Location)
	return time.Date(d.Year(), d.Month(), d.Day()-g.cfg.DaysBack, g.cfg.StartHour, 0, 0, 0, g.cfg.Location)
}

// Windows returns the contiguous capture windows for runDate
func (g *Generator) Windows(runDate time.Time) []types.CaptureWindow {
	base := g.FirstWindowStart(runDate)
	windows := make([]types.CaptureWindow, g.cfg.Slots)
	for i := range windows {
		start := base.Add(time.Duration(i) * g.cfg.Window)
		windows[i] = types.CaptureWindow{Start: start, End: start.Add(g.cfg.Window)}
	}
	return windows
}

// Generate returns, for each channel, one address per slot ordered by slot
func (g *Generator) Generate(creds credentials.Credentials, runDate time.Time) map[types.Channel][]types.StreamAddress {
	windows := g.Windows(runDate)
	out := make(map[types.Channel][]types.StreamAddress, len(g.cfg.Channels))

	for _, ch := range g.cfg.Channels {
		addrs := make([]types.StreamAddress, len(windows))
		for slot, w := range windows {
			addrs[slot] = types.StreamAddress{
				Channel: ch,
				Slot:    slot,
				Window:  w,
				URL:     g.URL(creds, ch, w),
			}
		}
		out[ch] = addrs
	}
	return out
}

// URL formats the playback address for one channel and window
func (g *Generator) URL(creds credentials.Credentials, ch types.Channel, w types.CaptureWindow) string {
	userinfo := url.UserPassword(creds.Username, creds.Password).String()
	return fmt.Sprintf("rtsp://%s@%s:%d/streaming/tracks?%s/%s?starttime=%s&endtime=%s",
		userinfo,
		creds.Host,
		g.cfg.Port,
		g.cfg.Transport,
		ch.Track(g.cfg.TrackWidth, g.cfg.TrackSuffix),
		g.format(w.Start),
		g.format(w.End),
	)
}

func (g *Generator) format(t time.Time) string {
	if g.cfg.WallClock {
		return t.In(g.cfg.Location).Format(TimestampLayout)
	}
	return t.UTC().Format(TimestampLayout)
}

var windowPattern = regexp.MustCompile(`starttime=(\d{8}T\d{6}Z)&endtime=(\d{8}T\d{6}Z)`)

// ParseWindow recovers the capture window encoded in an address. Times are
// returned in UTC.
func ParseWindow(rawURL string) (types.CaptureWindow, error) {
	m := windowPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return types.CaptureWindow{}, fmt.Errorf("no starttime/endtime in address")
	}
	start, err := time.Parse(TimestampLayout, m[1])
	if err != nil {
		return types.CaptureWindow{}, fmt.Errorf("invalid starttime: %w", err)
	}
	end, err := time.Parse(TimestampLayout, m[2])
	if err != nil {
		return types.CaptureWindow{}, fmt.Errorf("invalid endtime: %w", err)
	}
	return types.CaptureWindow{Start: start, End: end}, nil
}

var userinfoPattern = regexp.MustCompile(`^(rtsp://[^:@/]*):[^@]*@`)

// Redact masks the password of an rtsp address for logging
func Redact(rawURL string) string {
	return userinfoPattern.ReplaceAllString(rawURL, "${1}:xxxxx@")
}
