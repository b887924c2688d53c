package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
timezone: Europe/Berlin
logging:
  level: debug
  console: true
storage:
  path: ./data/test.db
  busy_timeout: 5s
server:
  listen: 127.0.0.1:9000
  token: secret
  reschedule_per_min: 3
schedule:
  horizon_days: 21
  cron: "*/30 * * * *"
calendar:
  cache_dir: ./var/cache
  feeds:
    - id: team
      url: https://example.com/team.ics
notify:
  telegram:
    enabled: true
    token: bot-token
    chat_id: 42
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Timezone != "Europe/Berlin" {
		t.Fatalf("timezone = %q", cfg.Timezone)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/test.db" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" || cfg.Server.Token != "secret" || cfg.Server.ReschedulePerMin != 3 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Schedule.HorizonDays != 21 || cfg.Schedule.Cron != "*/30 * * * *" {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Calendar == nil || len(cfg.Calendar.Feeds) != 1 || cfg.Calendar.Feeds[0].ID != "team" {
		t.Fatalf("calendar = %+v", cfg.Calendar)
	}
	if cfg.Notify == nil || cfg.Notify.Telegram == nil || cfg.Notify.Telegram.ChatID != 42 {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.json",
		`{"server": {"listen": "127.0.0.1:9001"}, "schedule": {"horizon_days": 7}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9001" || cfg.Schedule.HorizonDays != 7 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, file, content string
	}{
		{"yaml", "config.yaml", "server:\n  listen: 127.0.0.1:9000\n  port: 9000\n"},
		{"json", "config.json", `{"serverr": {}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfigFile(t, tt.file, tt.content))
			if _, err := m.Parse(); err == nil {
				t.Fatalf("unknown key accepted")
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.json", `{"server": {}} {"server": {}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("trailing document accepted")
	}
}

func TestLoadAndGet(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfigFile(t, "config.yaml", "server:\n  listen: 127.0.0.1:9002\n"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Fatalf("listen default = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("storage path default = %q, want %q", cfg.Storage.Path, DefaultStoragePath)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"negative reschedule rate", func(c *Config) { c.Server.ReschedulePerMin = -1 }},
		{"bad duration", func(c *Config) { c.Server.ReadTimeout = "fast" }},
		{"negative duration", func(c *Config) { c.Storage.BusyTimeout = "-2s" }},
		{"horizon too small", func(c *Config) { c.Schedule.HorizonDays = -1 }},
		{"horizon too large", func(c *Config) { c.Schedule.HorizonDays = 91 }},
		{"feed without id", func(c *Config) {
			c.Calendar = &CalendarConfig{Feeds: []FeedConfig{{URL: "https://x"}}}
		}},
		{"feed without url", func(c *Config) {
			c.Calendar = &CalendarConfig{Feeds: []FeedConfig{{ID: "a"}}}
		}},
		{"duplicate feed id", func(c *Config) {
			c.Calendar = &CalendarConfig{Feeds: []FeedConfig{
				{ID: "a", URL: "https://x"}, {ID: "a", URL: "https://y"},
			}}
		}},
		{"telegram enabled without token", func(c *Config) {
			c.Notify = &NotifyConfig{Telegram: &TelegramConfig{Enabled: true, ChatID: 1}}
		}},
		{"telegram enabled without chat id", func(c *Config) {
			c.Notify = &NotifyConfig{Telegram: &TelegramConfig{Enabled: true, Token: "x"}}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate accepted a bad config")
			}
		})
	}
}

func TestValidateAcceptsDisabledTelegram(t *testing.T) {
	t.Parallel()

	cfg := &Config{Notify: &NotifyConfig{Telegram: &TelegramConfig{Enabled: false}}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled telegram must not require credentials: %v", err)
	}
}

func TestValidateHorizonUnset(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Schedule.HorizonDays = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero horizon (unset) rejected: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"empty means zero", "", 0, false},
		{"whitespace means zero", "  ", 0, false},
		{"plain", "5s", 5 * time.Second, false},
		{"composite", "1m30s", 90 * time.Second, false},
		{"negative", "-1s", 0, true},
		{"garbage", "soon", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("test.field", tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	if d, err := ParseDurationOrDefault("test.field", "", 10*time.Second); err != nil || d != 10*time.Second {
		t.Fatalf("ParseDurationOrDefault empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("test.field", "3s", 10*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("ParseDurationOrDefault set = %v, %v", d, err)
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	cfg := &Config{Timezone: "Europe/Berlin"}
	if got := cfg.Location(); got.String() != "Europe/Berlin" {
		t.Fatalf("Location = %v", got)
	}
	if got := (&Config{}).Location(); got != time.Local {
		t.Fatalf("empty timezone must resolve to local, got %v", got)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	newCfg := &Config{
		Timezone: "UTC",
		Logging:  LoggingConfig{Level: "debug"},
		Server:   ServerConfig{Listen: "127.0.0.1:9000", Token: "secret"},
		Calendar: &CalendarConfig{Feeds: []FeedConfig{{ID: "a", URL: "https://x"}}},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"calendar", "logging", "server", "timezone"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected structured attrs")
	}

	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}

	// Nil configs are treated as empty.
	if changed, _ := SummarizeChange(nil, nil); len(changed) != 0 {
		t.Fatalf("nil configs reported changes: %v", changed)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("subscriber got %p, want %p", got, cfg)
		}
	default:
		t.Fatalf("publish did not reach the subscriber")
	}

	// A full buffer drops the stale entry, never blocks.
	m.publish(&Config{Timezone: "UTC"})
	latest := &Config{Timezone: "Europe/Berlin"}
	m.publish(latest)
	select {
	case got := <-ch:
		if got != latest {
			t.Fatalf("subscriber got stale config %+v", got)
		}
	default:
		t.Fatalf("latest config missing after overflow")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed by Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(&Config{})
}
