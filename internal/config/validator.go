package config

import (
	"fmt"
	"regexp"
	"time"
)

var storeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks the configuration and fills derived defaults
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.StoreID == "" {
		return fmt.Errorf("store_id is required")
	}
	if !storeIDPattern.MatchString(cfg.StoreID) {
		return fmt.Errorf("store_id must match pattern [A-Za-z0-9_-]+")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}
	if err := validateStream(&cfg.Stream); err != nil {
		return err
	}

	if cfg.Validate.ColorThreshold <= 0 {
		return fmt.Errorf("validate.color_threshold must be > 0")
	}
	if cfg.Validate.MaxSkew <= 0 {
		return fmt.Errorf("validate.max_skew must be > 0")
	}

	if cfg.Archive.Root == "" {
		return fmt.Errorf("archive.root is required")
	}
	if cfg.Archive.JPEGQuality < 1 || cfg.Archive.JPEGQuality > 100 {
		return fmt.Errorf("archive.jpeg_quality must be in 1..100")
	}
	if cfg.Archive.PlaceholderWidth <= 0 || cfg.Archive.PlaceholderHeight <= 0 {
		return fmt.Errorf("archive placeholder size must be > 0")
	}

	if err := validateCredentials(&cfg.Credentials); err != nil {
		return err
	}

	if _, err := time.Parse("15:04", cfg.Schedule.At); err != nil {
		return fmt.Errorf("schedule.at must be HH:MM, got %q", cfg.Schedule.At)
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}

	validateMQTT(cfg)

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("capture.channels must not be empty")
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch < 1 || ch > 4 {
			return fmt.Errorf("capture.channels: channel %d out of range 1..4", ch)
		}
		if seen[ch] {
			return fmt.Errorf("capture.channels: channel %d listed twice", ch)
		}
		seen[ch] = true
	}
	if c.Slots <= 0 {
		return fmt.Errorf("capture.slots must be > 0")
	}
	if c.StartHour < 0 || c.StartHour > 23 {
		return fmt.Errorf("capture.start_hour must be in 0..23")
	}
	if c.DaysBack < 0 {
		return fmt.Errorf("capture.days_back must be >= 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("capture.timezone: %w", err)
	}
	return nil
}

func validateStream(s *StreamConfig) error {
	switch s.Backend {
	case "gstreamer", "opencv", "synthetic":
	default:
		return fmt.Errorf("stream.backend %q unknown (must be gstreamer, opencv or synthetic)", s.Backend)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("stream.port must be in 1..65535")
	}
	if s.TrackWidth < 0 || s.TrackWidth > 4 {
		return fmt.Errorf("stream.track_width must be in 0..4")
	}
	if s.TrackWidth == 0 {
		s.TrackWidth = 1
	}
	if s.Transport == "" {
		s.Transport = "tcp"
	}
	if s.MaxRetries <= 0 {
		return fmt.Errorf("stream.max_retries must be > 0")
	}
	if s.RetryDelay < 0 || s.SettleDelay < 0 || s.ReadTimeout < 0 {
		return fmt.Errorf("stream delays must be >= 0")
	}
	switch s.Resolution {
	case "480p", "720p", "1080p":
	default:
		return fmt.Errorf("stream.resolution %q unknown (must be 480p, 720p or 1080p)", s.Resolution)
	}
	for ch, p := range s.Synthetic.Channels {
		if !validPattern(p) {
			return fmt.Errorf("stream.synthetic.channels[%d]: unknown pattern %q", ch, p)
		}
	}
	if s.Synthetic.Default == "" {
		s.Synthetic.Default = "color"
	}
	if !validPattern(s.Synthetic.Default) {
		return fmt.Errorf("stream.synthetic.default: unknown pattern %q", s.Synthetic.Default)
	}
	return nil
}

func validPattern(p string) bool {
	switch p {
	case "color", "gray", "fail", "empty":
		return true
	}
	return false
}

func validateCredentials(c *CredentialsConfig) error {
	switch c.Source {
	case "static":
		if c.Username == "" || c.Password == "" || c.Host == "" {
			return fmt.Errorf("credentials: static source requires username, password and host")
		}
	case "env":
	case "sql":
		if c.SQL.DSN == "" {
			return fmt.Errorf("credentials.sql.dsn is required for the sql source")
		}
		if c.SQL.Driver == "" {
			c.SQL.Driver = "sqlite3"
		}
	default:
		return fmt.Errorf("credentials.source %q unknown (must be static, env or sql)", c.Source)
	}
	return nil
}

func validateMQTT(cfg *Config) {
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = fmt.Sprintf("oviss-%s", cfg.StoreID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("care/oviss/events/%s", cfg.StoreID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("care/oviss/control/%s", cfg.StoreID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = cfg.MQTT.Topics.Control + "/responses"
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"events":  1,
		}
	}
}
