package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultListen      = "127.0.0.1:8090"
	DefaultStoragePath = "./timeblock.db"

	minHorizonDays = 1
	maxHorizonDays = 90
)

// Validate checks cross-field constraints and fills defaults in place.
// It is used both at startup and as the reload validator, so a bad
// edit never replaces a running config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ReschedulePerMin < 0 {
		return fmt.Errorf("server.reschedule_per_min: must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}

	if h := c.Schedule.HorizonDays; h != 0 && (h < minHorizonDays || h > maxHorizonDays) {
		return fmt.Errorf("schedule.horizon_days: must be between %d and %d", minHorizonDays, maxHorizonDays)
	}

	if c.Calendar != nil {
		seen := make(map[string]struct{}, len(c.Calendar.Feeds))
		for i, f := range c.Calendar.Feeds {
			if strings.TrimSpace(f.ID) == "" {
				return fmt.Errorf("calendar.feeds[%d]: id is required", i)
			}
			if strings.TrimSpace(f.URL) == "" {
				return fmt.Errorf("calendar.feeds[%d]: url is required", i)
			}
			if _, dup := seen[f.ID]; dup {
				return fmt.Errorf("calendar.feeds[%d]: duplicate id %q", i, f.ID)
			}
			seen[f.ID] = struct{}{}
		}
	}

	if c.Notify != nil && c.Notify.Telegram != nil && c.Notify.Telegram.Enabled {
		tg := c.Notify.Telegram
		if strings.TrimSpace(tg.Token) == "" {
			return fmt.Errorf("notify.telegram: token is required when enabled")
		}
		if tg.ChatID == 0 {
			return fmt.Errorf("notify.telegram: chat_id is required when enabled")
		}
		if _, err := ParseDurationField("notify.telegram.poll_timeout", tg.PollTimeout); err != nil {
			return err
		}
	}

	return nil
}

// ParseDurationField parses an optional Go duration string. Empty
// means zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Location resolves the configured timezone. Validate must have
// accepted the config first.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
