package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
store_id: "70144481"
credentials:
  source: static
  username: admin
  password: secret
  host: 10.0.0.5
`

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, minimal)

	if cfg.Capture.Slots != 990 || cfg.Capture.StartHour != 6 || cfg.Capture.DaysBack != 11 {
		t.Errorf("capture defaults: %+v", cfg.Capture)
	}
	if len(cfg.Capture.Channels) != 4 {
		t.Errorf("channels: got %v", cfg.Capture.Channels)
	}
	if !cfg.Capture.ParallelChannels {
		t.Error("parallel_channels should default to true")
	}
	if cfg.Stream.MaxRetries != 3 || cfg.Stream.RetryDelay != 2*time.Second {
		t.Errorf("retry defaults: %+v", cfg.Stream)
	}
	if cfg.Stream.SettleDelay != 500*time.Millisecond {
		t.Errorf("settle_delay: got %v", cfg.Stream.SettleDelay)
	}
	if cfg.Validate.MaxSkew != 180*time.Second || cfg.Validate.ColorThreshold != 1.0 {
		t.Errorf("validate defaults: %+v", cfg.Validate)
	}
	if cfg.Archive.PlaceholderWidth != 640 || cfg.Archive.PlaceholderHeight != 480 {
		t.Errorf("placeholder defaults: %+v", cfg.Archive)
	}
	if h, m := cfg.ScheduleClock(); h != 4 || m != 14 {
		t.Errorf("schedule: got %02d:%02d", h, m)
	}
	if cfg.MQTT.Topics.Control != "care/oviss/control/70144481" {
		t.Errorf("control topic: got %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Responses != "care/oviss/control/70144481/responses" {
		t.Errorf("responses topic: got %q", cfg.MQTT.Topics.Responses)
	}
	if cfg.MQTTEnabled() {
		t.Error("mqtt should be disabled without a broker")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg := loadFromString(t, minimal+`
capture:
  channels: [1, 3]
  timezone: UTC
  parallel_channels: false
  wallclock_timestamps: true
stream:
  backend: synthetic
  track_width: 2
  settle_delay: 0s
  retry_delay: 250ms
  synthetic:
    channels:
      3: gray
archive:
  root: /data/snapshots
  s3:
    bucket: snapshots
schedule:
  at: "23:05"
  timezone: UTC
`)

	if len(cfg.Capture.Channels) != 2 || cfg.Capture.Channels[1] != 3 {
		t.Errorf("channels: got %v", cfg.Capture.Channels)
	}
	if cfg.Capture.ParallelChannels || !cfg.Capture.WallclockTimestamps {
		t.Errorf("capture flags: %+v", cfg.Capture)
	}
	if cfg.CaptureLocation() != time.UTC {
		t.Errorf("capture location: %v", cfg.CaptureLocation())
	}
	if cfg.Stream.SettleDelay != 0 || cfg.Stream.RetryDelay != 250*time.Millisecond {
		t.Errorf("delays: %+v", cfg.Stream)
	}
	if cfg.Stream.TrackWidth != 2 {
		t.Errorf("track width: got %d", cfg.Stream.TrackWidth)
	}
	if cfg.Stream.Synthetic.Channels[3] != "gray" {
		t.Errorf("synthetic: %+v", cfg.Stream.Synthetic)
	}
	if h, m := cfg.ScheduleClock(); h != 23 || m != 5 {
		t.Errorf("schedule: got %02d:%02d", h, m)
	}
	if cfg.Archive.S3.Bucket != "snapshots" {
		t.Errorf("s3 bucket: got %q", cfg.Archive.S3.Bucket)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("OVISS_TEST_PASSWORD", "from-env")
	cfg := loadFromString(t, `
store_id: s1
credentials:
  source: static
  username: admin
  password: ${OVISS_TEST_PASSWORD}
  host: 10.0.0.5
`)
	if cfg.Credentials.Password != "from-env" {
		t.Errorf("password: got %q", cfg.Credentials.Password)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing store", "credentials: {source: env}", "store_id is required"},
		{"channel out of range", minimal + "capture: {channels: [1, 5]}", "out of range"},
		{"duplicate channel", minimal + "capture: {channels: [2, 2]}", "listed twice"},
		{"bad backend", minimal + "stream: {backend: vlc}", "stream.backend"},
		{"zero retries", minimal + "stream: {max_retries: 0}", "max_retries"},
		{"wide track", minimal + "stream: {track_width: 5}", "track_width"},
		{"bad schedule", minimal + "schedule: {at: '25:99'}", "schedule.at"},
		{"static without host", "store_id: s\ncredentials: {source: static, username: a, password: b}", "static source"},
		{"sql without dsn", "store_id: s\ncredentials: {source: sql}", "dsn"},
		{"bad quality", minimal + "archive: {jpeg_quality: 101}", "jpeg_quality"},
		{"bad timezone", minimal + "capture: {timezone: Mars/Olympus}", "capture.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadStringErr(t, tt.yaml)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OVISS_TEST_DOTENV=42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OVISS_TEST_DOTENV", "")
	os.Unsetenv("OVISS_TEST_DOTENV")

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := GetEnvInt("OVISS_TEST_DOTENV", 0); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnv("OVISS_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q", got)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oviss.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	updated := minimal + "schedule: {at: '05:30'}\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if h, m := c.ScheduleClock(); h == 5 && m == 30 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
