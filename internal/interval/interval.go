// Package interval implements half-open time interval arithmetic used
// by availability computation and placement. All operations treat
// intervals as [Start, End) and drop zero-length results.
package interval

import (
	"sort"
	"time"
)

// Span is one half-open interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the span has no extent.
func (s Span) Empty() bool { return !s.Start.Before(s.End) }

// Duration returns End-Start (zero for empty spans).
func (s Span) Duration() time.Duration {
	if s.Empty() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Minutes returns the span length in whole minutes.
func (s Span) Minutes() int { return int(s.Duration() / time.Minute) }

// Overlaps reports whether the two half-open spans intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Clip returns the part of s inside window (possibly empty).
func (s Span) Clip(window Span) Span {
	out := s
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out
}

// Normalize sorts spans by start time, merges overlapping or touching
// spans, and drops empty ones. The input is not modified.
func Normalize(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	cp := make([]Span, 0, len(spans))
	for _, s := range spans {
		if !s.Empty() {
			cp = append(cp, s)
		}
	}
	if len(cp) == 0 {
		return nil
	}
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].Start.Equal(cp[j].Start) {
			return cp[i].End.Before(cp[j].End)
		}
		return cp[i].Start.Before(cp[j].Start)
	})
	out := cp[:1]
	for _, s := range cp[1:] {
		last := &out[len(out)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Subtract removes busy spans from free spans using interval splitting:
// a free span wholly inside a busy one is removed, a partial overlap
// truncates one or both ends, and a busy span strictly inside a free
// one splits it in two. Both inputs may be unsorted; the result is
// sorted, non-overlapping, and free of empty spans.
func Subtract(free, busy []Span) []Span {
	cur := Normalize(free)
	if len(cur) == 0 {
		return nil
	}
	for _, b := range Normalize(busy) {
		if b.Empty() {
			continue
		}
		next := make([]Span, 0, len(cur)+1)
		for _, f := range cur {
			if !f.Overlaps(b) {
				next = append(next, f)
				continue
			}
			if f.Start.Before(b.Start) {
				next = append(next, Span{Start: f.Start, End: b.Start})
			}
			if b.End.Before(f.End) {
				next = append(next, Span{Start: b.End, End: f.End})
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}

// TotalMinutes sums the lengths of all spans in whole minutes.
func TotalMinutes(spans []Span) int {
	total := 0
	for _, s := range spans {
		total += s.Minutes()
	}
	return total
}
