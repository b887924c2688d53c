package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"timeblock/pkg/logx"
)

func icsBody(lines ...string) []byte {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//timeblockd tests//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestParseICS(t *testing.T) {
	t.Parallel()

	body := icsBody(
		"BEGIN:VEVENT",
		"UID:meeting-1",
		"DTSTART:20260302T100000Z",
		"DTEND:20260302T110000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:allday-1",
		"DTSTART;VALUE=DATE:20260305",
		"DTEND;VALUE=DATE:20260306",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART:20260302T120000Z",
		"DTEND:20260302T130000Z",
		"END:VEVENT", // no UID: skipped
		"BEGIN:VEVENT",
		"UID:weekly-1",
		"DTSTART:20260302T090000Z",
		"DTEND:20260302T100000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20260304T090000Z",
		"END:VEVENT",
	)

	events, err := parseICS(body, time.UTC)
	if err != nil {
		t.Fatalf("parseICS: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (UID-less entry skipped)", len(events))
	}

	byUID := map[string]event{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	m := byUID["meeting-1"]
	if m.AllDay {
		t.Fatalf("timed event flagged all-day")
	}
	if !m.Start.Equal(utc(2026, 3, 2, 10, 0)) || !m.End.Equal(utc(2026, 3, 2, 11, 0)) {
		t.Fatalf("meeting span = [%v, %v)", m.Start, m.End)
	}

	a := byUID["allday-1"]
	if !a.AllDay {
		t.Fatalf("date-valued event not flagged all-day")
	}
	if !a.Start.Equal(utc(2026, 3, 5, 0, 0)) || !a.End.Equal(utc(2026, 3, 6, 0, 0)) {
		t.Fatalf("all-day span = [%v, %v), want the full local day", a.Start, a.End)
	}

	w := byUID["weekly-1"]
	if w.RawRule != "FREQ=DAILY;COUNT=5" {
		t.Fatalf("RawRule = %q", w.RawRule)
	}
	if len(w.ExDates) != 1 || !w.ExDates[0].Equal(utc(2026, 3, 4, 9, 0)) {
		t.Fatalf("ExDates = %v", w.ExDates)
	}
}

func TestParseICSEmptyBody(t *testing.T) {
	t.Parallel()

	if _, err := parseICS(nil, time.UTC); err == nil {
		t.Fatalf("empty body accepted")
	}
}

func TestParseICSTime(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		name string
		v    string
		loc  *time.Location
		want time.Time
	}{
		{"utc datetime", "20260302T100000Z", berlin, utc(2026, 3, 2, 10, 0)},
		{"local datetime", "20260302T100000", berlin, time.Date(2026, 3, 2, 10, 0, 0, 0, berlin)},
		{"date", "20260302", berlin, time.Date(2026, 3, 2, 0, 0, 0, 0, berlin)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseICSTime(tt.v, tt.loc)
			if err != nil {
				t.Fatalf("parseICSTime(%q): %v", tt.v, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("parseICSTime(%q) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}

	if _, err := parseICSTime("not-a-time", time.UTC); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestExpandSingleEvent(t *testing.T) {
	t.Parallel()

	svc := &Service{loc: time.UTC, log: logx.Nop()}
	ev := event{UID: "m", Start: utc(2026, 3, 2, 10, 0), End: utc(2026, 3, 2, 11, 0)}

	tests := []struct {
		name             string
		timeMin, timeMax time.Time
		want             int
	}{
		{"inside window", utc(2026, 3, 1, 0, 0), utc(2026, 3, 8, 0, 0), 1},
		{"before window", utc(2026, 3, 3, 0, 0), utc(2026, 3, 8, 0, 0), 0},
		{"after window", utc(2026, 2, 1, 0, 0), utc(2026, 3, 2, 10, 0), 0},
		{"straddles window start", utc(2026, 3, 2, 10, 30), utc(2026, 3, 8, 0, 0), 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := svc.expand(ev, tt.timeMin, tt.timeMax)
			if len(got) != tt.want {
				t.Fatalf("expand = %v, want %d spans", got, tt.want)
			}
		})
	}
}

func TestExpandRecurring(t *testing.T) {
	t.Parallel()

	svc := &Service{loc: time.UTC, log: logx.Nop()}
	ev := event{
		UID:     "daily",
		Start:   utc(2026, 3, 2, 9, 0),
		End:     utc(2026, 3, 2, 10, 0),
		RawRule: "FREQ=DAILY;COUNT=5",
	}

	got := svc.expand(ev, utc(2026, 3, 3, 0, 0), utc(2026, 3, 5, 0, 0))
	if len(got) != 2 {
		t.Fatalf("expand = %v, want the Mar 3 and Mar 4 instances", got)
	}
	if !got[0][0].Equal(utc(2026, 3, 3, 9, 0)) || !got[1][0].Equal(utc(2026, 3, 4, 9, 0)) {
		t.Fatalf("instance starts = %v, %v", got[0][0], got[1][0])
	}

	// An excluded date drops exactly that instance.
	ev.ExDates = []time.Time{utc(2026, 3, 4, 9, 0)}
	got = svc.expand(ev, utc(2026, 3, 3, 0, 0), utc(2026, 3, 5, 0, 0))
	if len(got) != 1 || !got[0][0].Equal(utc(2026, 3, 3, 9, 0)) {
		t.Fatalf("expand with exdate = %v, want only Mar 3", got)
	}
}

func TestExpandRecurringOverlapsWindowStart(t *testing.T) {
	t.Parallel()

	svc := &Service{loc: time.UTC, log: logx.Nop()}
	ev := event{
		UID:     "long",
		Start:   utc(2026, 3, 2, 9, 0),
		End:     utc(2026, 3, 2, 11, 0),
		RawRule: "FREQ=DAILY;COUNT=3",
	}

	// The Mar 3 instance starts at 09:00, before the window, but still
	// overlaps it and must be kept.
	got := svc.expand(ev, utc(2026, 3, 3, 10, 0), utc(2026, 3, 4, 0, 0))
	if len(got) != 1 {
		t.Fatalf("expand = %v, want the overlapping Mar 3 instance", got)
	}
	if !got[0][0].Equal(utc(2026, 3, 3, 9, 0)) || !got[0][1].Equal(utc(2026, 3, 3, 11, 0)) {
		t.Fatalf("instance = %v", got[0])
	}
}

func TestExpandBadRuleFallsBackToSingle(t *testing.T) {
	t.Parallel()

	svc := &Service{loc: time.UTC, log: logx.Nop()}
	ev := event{
		UID:     "bad",
		Start:   utc(2026, 3, 2, 9, 0),
		End:     utc(2026, 3, 2, 10, 0),
		RawRule: "FREQ=SOMETIMES",
	}
	got := svc.expand(ev, utc(2026, 3, 1, 0, 0), utc(2026, 3, 8, 0, 0))
	if len(got) != 1 || !got[0][0].Equal(ev.Start) {
		t.Fatalf("expand = %v, want the single base instance", got)
	}
}

func TestListBusyIntervals(t *testing.T) {
	t.Parallel()

	body := icsBody(
		"BEGIN:VEVENT",
		"UID:late",
		"DTSTART:20260303T140000Z",
		"DTEND:20260303T150000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:early",
		"DTSTART:20260302T100000Z",
		"DTEND:20260302T110000Z",
		"END:VEVENT",
	)

	var requests, conditional int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()

	svc := New(
		[]Feed{{ID: "team", URL: srv.URL}, {ID: "down", URL: down.URL}},
		t.TempDir(), time.UTC, logx.Nop(),
	)
	ctx := context.Background()

	got, err := svc.ListBusyIntervals(ctx, utc(2026, 3, 1, 0, 0), utc(2026, 3, 8, 0, 0))
	if err != nil {
		t.Fatalf("ListBusyIntervals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d intervals, want 2 (failing feed skipped)", len(got))
	}
	if !got[0].Start.Equal(utc(2026, 3, 2, 10, 0)) || !got[1].Start.Equal(utc(2026, 3, 3, 14, 0)) {
		t.Fatalf("intervals not sorted by start: %v", got)
	}
	for _, b := range got {
		if b.CalendarID != "team" {
			t.Fatalf("CalendarID = %q, want team", b.CalendarID)
		}
	}

	// The second sweep revalidates with the stored ETag and serves the
	// cached body on 304.
	again, err := svc.ListBusyIntervals(ctx, utc(2026, 3, 1, 0, 0), utc(2026, 3, 8, 0, 0))
	if err != nil {
		t.Fatalf("second ListBusyIntervals: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("cached sweep returned %d intervals, want 2", len(again))
	}
	if conditional != 1 {
		t.Fatalf("conditional requests = %d, want 1", conditional)
	}
	if requests != 2 {
		t.Fatalf("total requests to healthy feed = %d, want 2", requests)
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"https://example.com/private/token.ics", "https://example.com/..."},
		{"https://example.com", "https://example.com/..."},
		{"nonsense", "(redacted)"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Fatalf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
