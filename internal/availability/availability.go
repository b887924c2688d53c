// Package availability turns weekly TimeMap templates into concrete
// placeable free intervals for a day, minus everything already
// committed: blocks placed earlier in the same scheduling run and
// externally synced busy intervals.
package availability

import (
	"sort"
	"time"

	"timeblock/internal/interval"
	"timeblock/internal/model"
)

// Slot is one placeable free interval attributed to the TimeMap whose
// rule produced it.
type Slot struct {
	interval.Span
	TimeMapID string
}

// Builder instantiates TimeMap rules onto concrete dates.
type Builder struct {
	maps map[string]model.TimeMap
}

func NewBuilder(maps []model.TimeMap) *Builder {
	b := &Builder{maps: make(map[string]model.TimeMap, len(maps))}
	for _, m := range maps {
		b.maps[m.ID] = m
	}
	return b
}

// Has reports whether the TimeMap id is known.
func (b *Builder) Has(id string) bool {
	_, ok := b.maps[id]
	return ok
}

// SlotsForDay instantiates every rule of the given TimeMaps whose
// weekday matches day, subtracts the busy spans, and returns the
// remaining free slots sorted by start time.
//
// When windows of two permitted TimeMaps overlap, the overlap is
// attributed to the lexicographically smaller TimeMap id so the result
// is deterministic regardless of input order. Zero-length results are
// dropped; an empty result is a valid, common outcome (fully busy day).
func (b *Builder) SlotsForDay(ids []string, day time.Time, busy []interval.Span) []Slot {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var (
		slots   []Slot
		claimed []interval.Span
	)
	for _, id := range sorted {
		tm, ok := b.maps[id]
		if !ok {
			continue
		}
		spans := instantiate(tm, day)
		// Regions already claimed by an earlier TimeMap are not offered twice.
		spans = interval.Subtract(spans, claimed)
		claimed = interval.Normalize(append(claimed, spans...))
		for _, s := range interval.Subtract(spans, busy) {
			slots = append(slots, Slot{Span: s, TimeMapID: id})
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start.Equal(slots[j].Start) {
			return slots[i].TimeMapID < slots[j].TimeMapID
		}
		return slots[i].Start.Before(slots[j].Start)
	})
	return slots
}

// instantiate maps the TimeMap's rules for day's weekday onto absolute
// spans for that date.
func instantiate(tm model.TimeMap, day time.Time) []interval.Span {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var out []interval.Span
	for _, r := range tm.Rules {
		if r.Weekday != day.Weekday() {
			continue
		}
		out = append(out, interval.Span{
			Start: midnight.Add(time.Duration(r.StartMin) * time.Minute),
			End:   midnight.Add(time.Duration(r.EndMin) * time.Minute),
		})
	}
	return interval.Normalize(out)
}

// Arena is the per-run mutable busy set: external calendar intervals
// plus every block committed so far in this run. It is owned by one
// orchestrator invocation and discarded at run end.
type Arena struct {
	busy []interval.Span
}

func NewArena(external []model.BusyInterval) *Arena {
	spans := make([]interval.Span, 0, len(external))
	for _, b := range external {
		spans = append(spans, interval.Span{Start: b.Start, End: b.End})
	}
	return &Arena{busy: interval.Normalize(spans)}
}

// Commit records a placed block so later tasks in the same run see it
// as busy.
func (a *Arena) Commit(s interval.Span) {
	if s.Empty() {
		return
	}
	a.busy = interval.Normalize(append(a.busy, s))
}

// BusyWithin returns the busy spans overlapping the given window.
func (a *Arena) BusyWithin(window interval.Span) []interval.Span {
	var out []interval.Span
	for _, b := range a.busy {
		if b.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out
}
