package model

import (
	"errors"
	"fmt"
	"time"
)

// Frequency tags the recurrence variant. Each frequency carries only
// the fields relevant to it; Validate enforces the variant shape.
type Frequency string

const (
	FreqNone    Frequency = "none"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// MonthMode selects between "day of month" and "nth weekday" for
// monthly rules.
type MonthMode string

const (
	MonthOnDay     MonthMode = "day"
	MonthOnWeekday MonthMode = "weekday"
)

// Recurrence is an RRULE-equivalent descriptor.
//
// Variant fields by Freq:
//   - none:    nothing else
//   - daily:   Interval
//   - weekly:  Interval, Weekdays
//   - monthly: Interval, MonthMode + (MonthDay | WeekOrdinal+OrdinalWeekday)
//   - yearly:  Interval
//
// End condition: Until (on date) or Count (after N occurrences); both
// zero means the rule never ends on its own and is clipped by the
// horizon.
type Recurrence struct {
	Freq     Frequency `json:"freq"`
	Interval int       `json:"interval,omitempty"`

	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	MonthMode      MonthMode    `json:"monthMode,omitempty"`
	MonthDay       int          `json:"monthDay,omitempty"`
	WeekOrdinal    int          `json:"weekOrdinal,omitempty"` // 1..4, -1 = last
	OrdinalWeekday time.Weekday `json:"ordinalWeekday,omitempty"`

	Until *time.Time `json:"until,omitempty"`
	Count int        `json:"count,omitempty"`
}

// None is the non-repeating descriptor.
func None() Recurrence { return Recurrence{Freq: FreqNone} }

// IsNone reports whether the task does not repeat. An empty Freq is
// treated as none so zero-valued tasks behave sensibly.
func (r Recurrence) IsNone() bool {
	return r.Freq == FreqNone || r.Freq == ""
}

// Validate checks the variant shape. The scheduler itself treats an
// invalid rule as none instead of failing the run; this is the
// edit-time gate.
func (r Recurrence) Validate() error {
	if r.IsNone() {
		return nil
	}
	if r.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %d", r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("count must be >= 0, got %d", r.Count)
	}
	if r.Until != nil && r.Count > 0 {
		return errors.New("until and count are mutually exclusive")
	}
	switch r.Freq {
	case FreqDaily, FreqYearly:
	case FreqWeekly:
		if len(r.Weekdays) == 0 {
			return errors.New("weekly rule requires at least one weekday")
		}
		for _, wd := range r.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("invalid weekday %d", wd)
			}
		}
	case FreqMonthly:
		switch r.MonthMode {
		case MonthOnDay:
			if r.MonthDay < 1 || r.MonthDay > 31 {
				return fmt.Errorf("monthDay must be in [1,31], got %d", r.MonthDay)
			}
		case MonthOnWeekday:
			if r.WeekOrdinal == 0 || r.WeekOrdinal > 4 || r.WeekOrdinal < -1 {
				return fmt.Errorf("weekOrdinal must be 1..4 or -1, got %d", r.WeekOrdinal)
			}
			if r.OrdinalWeekday < time.Sunday || r.OrdinalWeekday > time.Saturday {
				return fmt.Errorf("invalid ordinal weekday %d", r.OrdinalWeekday)
			}
		default:
			return fmt.Errorf("monthly rule requires monthMode, got %q", r.MonthMode)
		}
	default:
		return fmt.Errorf("unknown frequency %q", r.Freq)
	}
	return nil
}
