package calendar

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// event is the normalized form of a VEVENT, reduced to what busy
// computation needs.
type event struct {
	UID     string
	Start   time.Time
	End     time.Time
	AllDay  bool
	RawRule string
	ExDates []time.Time
}

// parseICS parses one ICS payload. Malformed VEVENTs are skipped so a
// single broken entry does not discard the whole feed.
func parseICS(body []byte, loc *time.Location) ([]event, error) {
	if len(body) == 0 {
		return nil, errors.New("calendar: empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (event, error) {
	var out event

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional; a zero-length event still blocks nothing,
		// but all-day handling below may widen it.
		end = start
	}
	out.Start = start
	out.End = end

	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.AllDay = true
		}
	}
	if out.AllDay {
		// All-day entries block the full local day.
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		out.Start = day
		out.End = day.Add(24 * time.Hour)
		if end.After(start.Add(24 * time.Hour)) {
			// Multi-day all-day block.
			last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
			out.End = last
		}
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		out.RawRule = rr.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, terr := parseICSTime(part, loc); terr == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// parseICSTime handles the basic DATE, local DATE-TIME and UTC
// DATE-TIME forms that appear in EXDATE values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
