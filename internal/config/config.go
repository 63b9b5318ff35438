package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete snapshot service configuration
type Config struct {
	StoreID         string            `yaml:"store_id"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Capture         CaptureConfig     `yaml:"capture"`
	Stream          StreamConfig      `yaml:"stream"`
	Validate        ValidateConfig    `yaml:"validate"`
	Archive         ArchiveConfig     `yaml:"archive"`
	Credentials     CredentialsConfig `yaml:"credentials"`
	Schedule        ScheduleConfig    `yaml:"schedule"`
	HTTP            HTTPConfig        `yaml:"http"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Log             LogConfig         `yaml:"log"`
}

// CaptureConfig describes which windows are requested from the recorder
type CaptureConfig struct {
	Channels            []int  `yaml:"channels"`
	Slots               int    `yaml:"slots"`      // one-minute windows per channel
	StartHour           int    `yaml:"start_hour"` // hour of the first window
	DaysBack            int    `yaml:"days_back"`
	Timezone            string `yaml:"timezone"`
	ParallelChannels    bool   `yaml:"parallel_channels"`
	WallclockTimestamps bool   `yaml:"wallclock_timestamps"` // local time with a literal Z
}

// StreamConfig contains acquisition settings
type StreamConfig struct {
	Backend     string          `yaml:"backend"` // gstreamer, opencv, synthetic
	Port        int             `yaml:"port"`
	TrackSuffix string          `yaml:"track_suffix"`
	TrackWidth  int             `yaml:"track_width"` // 2 renders channel 1 as "0101"
	Transport   string          `yaml:"transport"`
	MaxRetries  int             `yaml:"max_retries"`
	RetryDelay  time.Duration   `yaml:"retry_delay"`
	SettleDelay time.Duration   `yaml:"settle_delay"`
	ReadTimeout time.Duration   `yaml:"read_timeout"`
	Resolution  string          `yaml:"resolution"` // 480p, 720p, 1080p
	LatencyMS   int             `yaml:"latency_ms"`
	Synthetic   SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig selects the frame pattern of the synthetic backend
type SyntheticConfig struct {
	Default  string         `yaml:"default"`  // color, gray, fail, empty
	Channels map[int]string `yaml:"channels"` // per-channel override
}

// ValidateConfig contains the slot acceptance thresholds
type ValidateConfig struct {
	ColorThreshold float64       `yaml:"color_threshold"`
	MaxSkew        time.Duration `yaml:"max_skew"`
}

// ArchiveConfig contains output settings
type ArchiveConfig struct {
	Root              string   `yaml:"root"`
	JPEGQuality       int      `yaml:"jpeg_quality"`
	PlaceholderWidth  int      `yaml:"placeholder_width"`
	PlaceholderHeight int      `yaml:"placeholder_height"`
	S3                S3Config `yaml:"s3"`
}

// S3Config enables an optional bucket mirror when Bucket is set
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// CredentialsConfig selects where the recorder login comes from
type CredentialsConfig struct {
	Source   string    `yaml:"source"` // static, env, sql
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	Host     string    `yaml:"host"`
	EnvFile  string    `yaml:"env_file"`
	SQL      SQLConfig `yaml:"sql"`
}

// SQLConfig contains the credential database settings
type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
}

// ScheduleConfig contains the daily trigger
type ScheduleConfig struct {
	At         string `yaml:"at"` // HH:MM
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// HTTPConfig contains the status server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Events    string `yaml:"events"`
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads a YAML configuration file, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ShutdownTimeout: 10 * time.Second,
		Capture: CaptureConfig{
			Channels:         []int{1, 2, 3, 4},
			Slots:            990,
			StartHour:        6,
			DaysBack:         11,
			Timezone:         "UTC",
			ParallelChannels: true,
		},
		Stream: StreamConfig{
			Backend:     "gstreamer",
			Port:        8554,
			TrackSuffix: "01",
			TrackWidth:  1,
			Transport:   "tcp",
			MaxRetries:  3,
			RetryDelay:  2 * time.Second,
			SettleDelay: 500 * time.Millisecond,
			ReadTimeout: 15 * time.Second,
			Resolution:  "720p",
			LatencyMS:   200,
			Synthetic:   SyntheticConfig{Default: "color"},
		},
		Validate: ValidateConfig{
			ColorThreshold: 1.0,
			MaxSkew:        180 * time.Second,
		},
		Archive: ArchiveConfig{
			Root:              "/mnt/Cams",
			JPEGQuality:       95,
			PlaceholderWidth:  640,
			PlaceholderHeight: 480,
		},
		Credentials: CredentialsConfig{
			Source: "static",
			SQL:    SQLConfig{Driver: "sqlite3"},
		},
		Schedule: ScheduleConfig{
			At:       "04:14",
			Timezone: "Local",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// CaptureLocation returns the time zone windows are computed in
func (c *Config) CaptureLocation() *time.Location {
	loc, err := time.LoadLocation(c.Capture.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScheduleLocation returns the time zone of the daily trigger
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ScheduleClock returns the hour and minute of the daily trigger
func (c *Config) ScheduleClock() (hour, minute int) {
	t, err := time.Parse("15:04", c.Schedule.At)
	if err != nil {
		return 4, 14
	}
	return t.Hour(), t.Minute()
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
