package config

// Config is the full daemon configuration. YAML and JSON files are
// both accepted; YAML is coerced to JSON before strict decoding, so
// unknown keys are rejected in either format.
type Config struct {
	// Timezone names the IANA zone used for day boundaries and
	// TimeMap rules. Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server"`
	Schedule ScheduleConfig `json:"schedule"`

	Calendar *CalendarConfig `json:"calendar,omitempty"`
	Notify   *NotifyConfig   `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ServerConfig controls the HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token.
type ServerConfig struct {
	Listen string `json:"listen"` // default: "127.0.0.1:8090"
	Token  string `json:"token,omitempty"`

	// ReschedulePerMin rate-limits manual reschedule triggers.
	// Zero keeps the default of 6 per minute.
	ReschedulePerMin int `json:"reschedule_per_min,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleConfig controls when scheduling runs happen and how far
// they look ahead.
type ScheduleConfig struct {
	// HorizonDays seeds the stored horizon setting on first start.
	// The live value is managed through the settings API.
	HorizonDays int `json:"horizon_days,omitempty"`

	// Cron triggers periodic reruns (standard 5-field spec).
	// Empty disables the periodic trigger; mutations and the API
	// still trigger runs.
	Cron string `json:"cron,omitempty"`
}

// CalendarConfig lists external ICS subscriptions whose events are
// treated as busy time.
type CalendarConfig struct {
	CacheDir string       `json:"cache_dir,omitempty"`
	Feeds    []FeedConfig `json:"feeds"`
}

type FeedConfig struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NotifyConfig controls the optional run-summary notifier.
type NotifyConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
