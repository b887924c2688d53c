package layout

import (
	"testing"
	"time"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(min int) time.Time { return day.Add(time.Duration(min) * time.Minute) }

func ev(id string, startMin, endMin int) Event {
	return Event{ID: id, Kind: "task", Start: at(startMin), End: at(endMin)}
}

func TestAssign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []Event
		// want maps event id to (column, columnCount).
		want map[string][2]int
	}{
		{
			name: "empty",
			in:   nil,
			want: map[string][2]int{},
		},
		{
			name: "single event",
			in:   []Event{ev("a", 540, 600)},
			want: map[string][2]int{"a": {0, 1}},
		},
		{
			name: "disjoint events share column zero",
			in:   []Event{ev("a", 540, 600), ev("b", 600, 660), ev("c", 720, 780)},
			want: map[string][2]int{"a": {0, 1}, "b": {0, 1}, "c": {0, 1}},
		},
		{
			name: "two overlapping split into two columns",
			in:   []Event{ev("a", 540, 660), ev("b", 600, 720)},
			want: map[string][2]int{"a": {0, 2}, "b": {1, 2}},
		},
		{
			name: "chain forms one cluster",
			// a overlaps b, b overlaps c, but a and c are disjoint: first
			// fit reuses column 0 for c.
			in:   []Event{ev("a", 540, 630), ev("b", 600, 690), ev("c", 660, 750)},
			want: map[string][2]int{"a": {0, 2}, "b": {1, 2}, "c": {0, 2}},
		},
		{
			name: "triple overlap needs three columns",
			in:   []Event{ev("a", 540, 720), ev("b", 570, 690), ev("c", 600, 660)},
			want: map[string][2]int{"a": {0, 3}, "b": {1, 3}, "c": {2, 3}},
		},
		{
			name: "separate clusters count independently",
			in: []Event{
				ev("a", 540, 660), ev("b", 600, 660), // cluster of two
				ev("c", 720, 780), // lone event
			},
			want: map[string][2]int{"a": {0, 2}, "b": {1, 2}, "c": {0, 1}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Assign(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for _, e := range got {
				w, ok := tt.want[e.ID]
				if !ok {
					t.Fatalf("unexpected event %q in output", e.ID)
				}
				if e.Column != w[0] || e.ColumnCount != w[1] {
					t.Fatalf("event %q column=%d count=%d, want column=%d count=%d",
						e.ID, e.Column, e.ColumnCount, w[0], w[1])
				}
			}
		})
	}
}

func TestAssignDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []Event{ev("b", 600, 720), ev("a", 540, 660)}
	Assign(in)
	if in[0].ID != "b" || in[0].Column != 0 || in[0].ColumnCount != 0 {
		t.Fatalf("Assign mutated its input: %+v", in[0])
	}
}

func TestAssignDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Identical spans sort by id, so the column assignment is stable
	// regardless of input order.
	first := Assign([]Event{ev("b", 540, 600), ev("a", 540, 600)})
	second := Assign([]Event{ev("a", 540, 600), ev("b", 540, 600)})
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Column != second[i].Column {
			t.Fatalf("tie-break unstable: %+v vs %+v", first[i], second[i])
		}
	}
	if first[0].ID != "a" || first[0].Column != 0 {
		t.Fatalf("identical spans must order by id: %+v", first)
	}
}
