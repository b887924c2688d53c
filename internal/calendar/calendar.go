// Package calendar turns ICS subscription feeds into read-only busy
// intervals for the scheduling engine. Feeds are fetched with HTTP
// conditional requests and a disk cache; a feed that fails is skipped
// for the run rather than failing busy computation.
package calendar

import (
	"context"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"timeblock/internal/model"
	"timeblock/pkg/logx"
)

// Caps a pathological RRULE from flooding one run.
const maxOccurrencesPerEvent = 1000

// Service implements the engine's busy-interval source.
type Service struct {
	feeds   []Feed
	fetcher *fetcher
	loc     *time.Location
	log     logx.Logger
}

func New(feeds []Feed, cacheDir string, loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		feeds:   feeds,
		fetcher: newFetcher(cacheDir, log),
		loc:     loc,
		log:     log,
	}
}

// ListBusyIntervals fetches every configured feed and expands its
// events into concrete intervals overlapping [timeMin, timeMax).
// Per-feed failures are logged and skipped.
func (s *Service) ListBusyIntervals(ctx context.Context, timeMin, timeMax time.Time) ([]model.BusyInterval, error) {
	out := make([]model.BusyInterval, 0)

	for _, feed := range s.feeds {
		res, err := s.fetcher.fetch(ctx, feed)
		if err != nil {
			s.log.Warn("feed fetch failed, skipping",
				logx.String("feed", feed.ID), logx.String("url", redactURL(feed.URL)), logx.Err(err))
			continue
		}
		events, err := parseICS(res.body, s.loc)
		if err != nil {
			s.log.Warn("feed parse failed, skipping",
				logx.String("feed", feed.ID), logx.Err(err))
			continue
		}

		n := 0
		for _, ev := range events {
			spans := s.expand(ev, timeMin, timeMax)
			for _, sp := range spans {
				out = append(out, model.BusyInterval{
					CalendarID: feed.ID,
					Start:      sp[0],
					End:        sp[1],
				})
			}
			n += len(spans)
		}
		s.log.Debug("feed expanded",
			logx.String("feed", feed.ID),
			logx.Int("events", len(events)),
			logx.Int("intervals", n),
			logx.Bool("from_cache", res.fromCache))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].End.Before(out[j].End)
	})
	return out, nil
}

// expand yields the [start, end) pairs of one event inside the window.
func (s *Service) expand(ev event, timeMin, timeMax time.Time) [][2]time.Time {
	if ev.RawRule == "" {
		if ev.End.After(timeMin) && ev.Start.Before(timeMax) {
			return [][2]time.Time{{ev.Start.In(s.loc), ev.End.In(s.loc)}}
		}
		return nil
	}

	r, err := rrule.StrToRRule(ev.RawRule)
	if err != nil {
		s.log.Warn("bad RRULE, treating event as single",
			logx.String("uid", ev.UID), logx.Err(err))
		if ev.End.After(timeMin) && ev.Start.Before(timeMax) {
			return [][2]time.Time{{ev.Start.In(s.loc), ev.End.In(s.loc)}}
		}
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the query start so instances that began before the window
	// but still overlap it are kept.
	starts := set.Between(timeMin.Add(-dur).In(ev.Start.Location()), timeMax.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
		s.log.Warn("recurrence expansion capped", logx.String("uid", ev.UID))
	}

	out := make([][2]time.Time, 0, len(starts))
	for _, st := range starts {
		en := st.Add(dur)
		if !en.After(timeMin) || !st.Before(timeMax) {
			continue
		}
		out = append(out, [2]time.Time{st.In(s.loc), en.In(s.loc)})
	}
	return out
}
