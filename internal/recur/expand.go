// Package recur expands task recurrence descriptors into concrete
// occurrence dates inside a planning horizon.
package recur

import (
	"time"

	"github.com/teambition/rrule-go"

	"timeblock/internal/model"
)

// maxOccurrences is a safety cap so a pathological rule can never
// produce an unbounded expansion.
const maxOccurrences = 1000

// Expand produces the ordered, de-duplicated occurrence dates for a
// recurrence rule inside [horizonStart, horizonEnd], as local midnights
// in anchor's location.
//
//   - A none rule yields exactly the anchor date, when it falls inside
//     the window.
//   - Repeating rules step forward from the anchor date using the
//     rule's frequency and interval, stopping at the rule's own end
//     condition or the horizon end, whichever comes first.
//   - Dates present in completed (DayKey form) are skipped: completion
//     is recorded per calendar day, not per exact timestamp.
//
// An invalid rule degrades to none; the expander never fails.
// Ordering is strictly ascending, which the scheduler relies on to
// place earlier occurrences first.
func Expand(rule model.Recurrence, anchor, horizonStart, horizonEnd time.Time, completed []string) []time.Time {
	if horizonEnd.Before(horizonStart) {
		return nil
	}
	if err := rule.Validate(); err != nil {
		rule = model.None()
	}

	loc := anchor.Location()
	anchorDay := dayStart(anchor)
	done := make(map[string]struct{}, len(completed))
	for _, k := range completed {
		done[k] = struct{}{}
	}

	if rule.IsNone() {
		if anchorDay.Before(dayStart(horizonStart)) || anchorDay.After(horizonEnd) {
			return nil
		}
		if _, ok := done[model.DayKey(anchorDay)]; ok {
			return nil
		}
		return []time.Time{anchorDay}
	}

	r, err := toRRule(rule, anchorDay)
	if err != nil {
		return nil
	}

	// Between is inclusive on both ends here; candidates arrive in
	// ascending order already.
	candidates := r.Between(dayStart(horizonStart), horizonEnd, true)

	out := make([]time.Time, 0, len(candidates))
	var lastKey string
	for _, c := range candidates {
		if len(out) >= maxOccurrences {
			break
		}
		day := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, loc)
		key := model.DayKey(day)
		if key == lastKey {
			continue
		}
		lastKey = key
		if _, ok := done[key]; ok {
			continue
		}
		out = append(out, day)
	}
	return out
}

// toRRule lowers the tagged descriptor into an rrule. The anchor day is
// the rule's DTSTART.
func toRRule(rule model.Recurrence, anchorDay time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  anchorDay,
		Interval: rule.Interval,
		Wkst:     rrule.MO,
	}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}
	if rule.Until != nil {
		opt.Until = dayEnd(*rule.Until)
	}
	if rule.Count > 0 {
		opt.Count = rule.Count
	}

	switch rule.Freq {
	case model.FreqDaily:
		opt.Freq = rrule.DAILY
	case model.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range rule.Weekdays {
			opt.Byweekday = append(opt.Byweekday, toRRuleWeekday(wd))
		}
	case model.FreqMonthly:
		opt.Freq = rrule.MONTHLY
		switch rule.MonthMode {
		case model.MonthOnDay:
			opt.Bymonthday = []int{rule.MonthDay}
		case model.MonthOnWeekday:
			wd := toRRuleWeekday(rule.OrdinalWeekday)
			opt.Byweekday = []rrule.Weekday{wd.Nth(rule.WeekOrdinal)}
		}
	case model.FreqYearly:
		opt.Freq = rrule.YEARLY
	}

	return rrule.NewRRule(opt)
}

func toRRuleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
