// Package layout computes day-column placement for rendering: events
// that overlap in time are grouped into clusters and packed into the
// fewest columns (first-fit), so a renderer can draw them side by side
// with proportional widths. Pure layout; it never mutates scheduling
// data.
package layout

import (
	"sort"
	"time"
)

// Event is one renderable block of a day.
type Event struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"` // "task" or "busy"
	Title string    `json:"title,omitempty"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Column and ColumnCount are filled by Assign.
	Column      int `json:"column"`
	ColumnCount int `json:"columnCount"`
}

// Assign sorts events by (start, end), groups consecutive overlapping
// events into clusters, and within each cluster gives every event the
// first column whose previously assigned end is at or before the
// event's start. Every event in a cluster receives the cluster's total
// column count.
func Assign(events []Event) []Event {
	if len(events) == 0 {
		return nil
	}
	out := append([]Event(nil), events...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			if out[i].End.Equal(out[j].End) {
				return out[i].ID < out[j].ID
			}
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})

	clusterStart := 0
	clusterEnd := out[0].End
	for i := 1; i <= len(out); i++ {
		if i < len(out) && out[i].Start.Before(clusterEnd) {
			if out[i].End.After(clusterEnd) {
				clusterEnd = out[i].End
			}
			continue
		}
		packCluster(out[clusterStart:i])
		if i < len(out) {
			clusterStart = i
			clusterEnd = out[i].End
		}
	}
	return out
}

// packCluster assigns columns within one overlap cluster using
// first-fit interval coloring.
func packCluster(cluster []Event) {
	var columnEnds []time.Time
	for i := range cluster {
		placed := false
		for col, end := range columnEnds {
			if !cluster[i].Start.Before(end) {
				cluster[i].Column = col
				columnEnds[col] = cluster[i].End
				placed = true
				break
			}
		}
		if !placed {
			cluster[i].Column = len(columnEnds)
			columnEnds = append(columnEnds, cluster[i].End)
		}
	}
	for i := range cluster {
		cluster[i].ColumnCount = len(columnEnds)
	}
}
