package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeMap is a named weekly availability template.
type TimeMap struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Color string        `json:"color,omitempty"`
	Rules []TimeMapRule `json:"rules"`
}

// TimeMapRule is one weekly window: [StartMin, EndMin) minutes of day
// on the given weekday.
type TimeMapRule struct {
	Weekday  time.Weekday `json:"weekday"`
	StartMin int          `json:"startMin"`
	EndMin   int          `json:"endMin"`
}

const minutesPerDay = 24 * 60

// Validate enforces the edit-time invariants: sane minute ranges and
// no overlapping rules on the same weekday.
func (m *TimeMap) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("timemap id is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("timemap name is required")
	}
	byDay := map[time.Weekday][]TimeMapRule{}
	for i, r := range m.Rules {
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return fmt.Errorf("rule %d: invalid weekday %d", i, r.Weekday)
		}
		if r.StartMin < 0 || r.EndMin > minutesPerDay || r.StartMin >= r.EndMin {
			return fmt.Errorf("rule %d: invalid window [%d,%d)", i, r.StartMin, r.EndMin)
		}
		byDay[r.Weekday] = append(byDay[r.Weekday], r)
	}
	for wd, rules := range byDay {
		sort.Slice(rules, func(i, j int) bool { return rules[i].StartMin < rules[j].StartMin })
		for i := 1; i < len(rules); i++ {
			if rules[i].StartMin < rules[i-1].EndMin {
				return fmt.Errorf("overlapping rules on %s: [%d,%d) and [%d,%d)",
					wd, rules[i-1].StartMin, rules[i-1].EndMin, rules[i].StartMin, rules[i].EndMin)
			}
		}
	}
	return nil
}

// BusyInterval is an externally committed block sourced from a
// connected calendar. Read-only to the engine; always wins over a task
// placement.
type BusyInterval struct {
	CalendarID string    `json:"calendarId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}
