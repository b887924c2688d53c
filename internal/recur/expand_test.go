package recur

import (
	"testing"
	"time"

	"timeblock/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func equalDays(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func TestExpand(t *testing.T) {
	t.Parallel()

	// 2026-01-05 is a Monday.
	anchor := date(2026, time.January, 5)

	tests := []struct {
		name         string
		rule         model.Recurrence
		anchor       time.Time
		horizonStart time.Time
		horizonEnd   time.Time
		completed    []string
		want         []time.Time
	}{
		{
			name:         "none inside window",
			rule:         model.None(),
			anchor:       anchor.Add(9 * time.Hour),
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			want:         []time.Time{anchor},
		},
		{
			name:         "none before window",
			rule:         model.None(),
			anchor:       date(2026, time.January, 2),
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			want:         nil,
		},
		{
			name:         "none after window",
			rule:         model.None(),
			anchor:       date(2026, time.February, 1),
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			want:         nil,
		},
		{
			name:         "none completed",
			rule:         model.None(),
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			completed:    []string{"2026-01-05"},
			want:         nil,
		},
		{
			name:         "daily every second day",
			rule:         model.Recurrence{Freq: model.FreqDaily, Interval: 2},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 6),
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 7),
				date(2026, time.January, 9),
				date(2026, time.January, 11),
			},
		},
		{
			name: "weekly monday and wednesday",
			rule: model.Recurrence{
				Freq:     model.FreqWeekly,
				Weekdays: []time.Weekday{time.Monday, time.Wednesday},
			},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 7),
				date(2026, time.January, 12),
				date(2026, time.January, 14),
				date(2026, time.January, 19),
			},
		},
		{
			name:         "count limits expansion",
			rule:         model.Recurrence{Freq: model.FreqDaily, Count: 3},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 30),
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 6),
				date(2026, time.January, 7),
			},
		},
		{
			name: "until clips on its own day inclusively",
			rule: func() model.Recurrence {
				until := date(2026, time.January, 7)
				return model.Recurrence{Freq: model.FreqDaily, Until: &until}
			}(),
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 30),
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 6),
				date(2026, time.January, 7),
			},
		},
		{
			name:         "completed days skipped",
			rule:         model.Recurrence{Freq: model.FreqDaily},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 3),
			completed:    []string{"2026-01-06", "2026-01-08"},
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 7),
			},
		},
		{
			name: "monthly on day",
			rule: model.Recurrence{
				Freq:      model.FreqMonthly,
				MonthMode: model.MonthOnDay,
				MonthDay:  15,
			},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   date(2026, time.March, 31),
			want: []time.Time{
				date(2026, time.January, 15),
				date(2026, time.February, 15),
				date(2026, time.March, 15),
			},
		},
		{
			name: "monthly last friday",
			rule: model.Recurrence{
				Freq:           model.FreqMonthly,
				MonthMode:      model.MonthOnWeekday,
				WeekOrdinal:    -1,
				OrdinalWeekday: time.Friday,
			},
			anchor:       date(2026, time.January, 1),
			horizonStart: date(2026, time.January, 1),
			horizonEnd:   date(2026, time.February, 28),
			want: []time.Time{
				date(2026, time.January, 30),
				date(2026, time.February, 27),
			},
		},
		{
			name:         "anchor before horizon start",
			rule:         model.Recurrence{Freq: model.FreqDaily},
			anchor:       date(2026, time.January, 1),
			horizonStart: date(2026, time.January, 5),
			horizonEnd:   date(2026, time.January, 7),
			want: []time.Time{
				date(2026, time.January, 5),
				date(2026, time.January, 6),
				date(2026, time.January, 7),
			},
		},
		{
			name:         "invalid rule degrades to none",
			rule:         model.Recurrence{Freq: model.FreqWeekly},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, 14),
			want:         []time.Time{anchor},
		},
		{
			name:         "inverted horizon",
			rule:         model.Recurrence{Freq: model.FreqDaily},
			anchor:       anchor,
			horizonStart: anchor,
			horizonEnd:   anchor.AddDate(0, 0, -1),
			want:         nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Expand(tt.rule, tt.anchor, tt.horizonStart, tt.horizonEnd, tt.completed)
			if !equalDays(got, tt.want) {
				t.Fatalf("Expand = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandReturnsMidnights(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, time.January, 5, 17, 45, 0, 0, time.UTC)
	got := Expand(model.Recurrence{Freq: model.FreqDaily}, anchor, anchor, anchor.AddDate(0, 0, 2), nil)
	if len(got) == 0 {
		t.Fatalf("no occurrences")
	}
	for _, d := range got {
		if d.Hour() != 0 || d.Minute() != 0 || d.Second() != 0 {
			t.Fatalf("occurrence %v is not a local midnight", d)
		}
	}
}

func TestExpandOrderingAscending(t *testing.T) {
	t.Parallel()

	anchor := date(2026, time.January, 5)
	got := Expand(model.Recurrence{
		Freq:     model.FreqWeekly,
		Weekdays: []time.Weekday{time.Friday, time.Monday, time.Wednesday},
	}, anchor, anchor, anchor.AddDate(0, 0, 21), nil)
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Fatalf("occurrences not strictly ascending: %v then %v", got[i-1], got[i])
		}
	}
}
