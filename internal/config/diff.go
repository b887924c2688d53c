package config

import (
	"reflect"
	"sort"
	"strings"

	"timeblock/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (server token, telegram
// token) are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", newCfg.Timezone))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.listen", newCfg.Server.Listen),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
			logx.Int("server.reschedule_per_min", newCfg.Server.ReschedulePerMin),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Int("schedule.horizon_days", newCfg.Schedule.HorizonDays),
			logx.Bool("schedule.cron_set", strings.TrimSpace(newCfg.Schedule.Cron) != ""),
		)
	}

	if !calendarEqual(oldCfg.Calendar, newCfg.Calendar) {
		changed = append(changed, "calendar")
		n := 0
		if newCfg.Calendar != nil {
			n = len(newCfg.Calendar.Feeds)
		}
		attrs = append(attrs, logx.Int("calendar.feed_count", n))
	}

	if !notifyEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		enabled := newCfg.Notify != nil && newCfg.Notify.Telegram != nil && newCfg.Notify.Telegram.Enabled
		attrs = append(attrs, logx.Bool("notify.telegram_enabled", enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

func calendarEqual(a, b *CalendarConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.CacheDir == b.CacheDir && reflect.DeepEqual(a.Feeds, b.Feeds)
}

func notifyEqual(a, b *NotifyConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if (a.Telegram == nil) != (b.Telegram == nil) {
		return false
	}
	if a.Telegram == nil {
		return true
	}
	return *a.Telegram == *b.Telegram
}
