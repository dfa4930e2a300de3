package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/store"
)

// ShowFromSpec converts a YAML show definition into its stored form.
func ShowFromSpec(spec config.ShowSpec) (*store.ScheduledShow, error) {
	days := make([]time.Weekday, 0, len(spec.Days))
	for _, name := range spec.Days {
		day, err := config.ParseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("show %q: %w", spec.ID, err)
		}
		days = append(days, day)
	}

	startDate, err := time.Parse("2006-01-02", spec.StartDate)
	if err != nil {
		return nil, fmt.Errorf("show %q: invalid start_date: %w", spec.ID, err)
	}
	endDate, err := time.Parse("2006-01-02", spec.EndDate)
	if err != nil {
		return nil, fmt.Errorf("show %q: invalid end_date: %w", spec.ID, err)
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &store.ScheduledShow{
		ID:        id,
		Name:      spec.Name,
		HostFirst: spec.HostFirst,
		HostLast:  spec.HostLast,
		Days:      days,
		StartDate: startDate,
		EndDate:   endDate,
		StartTime: spec.StartTime,
		EndTime:   spec.EndTime,
	}, nil
}

// SeedShows writes every configured show into the store. Existing
// entries with the same ID are overwritten so config edits take effect
// on restart.
func SeedShows(st store.Store, specs []config.ShowSpec, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, spec := range specs {
		show, err := ShowFromSpec(spec)
		if err != nil {
			return err
		}
		if err := st.PutShow(show); err != nil {
			return fmt.Errorf("failed to store show %q: %w", show.ID, err)
		}
		logger.Info("show scheduled",
			slog.String("show_id", show.ID),
			slog.String("name", show.DisplayName()),
		)
	}
	return nil
}

// parseClock parses a "15:04" time of day into hour and minute.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// showDuration returns the on-air length of a show. An end time at or
// before the start time means the show runs across midnight.
func showDuration(show *store.ScheduledShow) (time.Duration, error) {
	sh, sm, err := parseClock(show.StartTime)
	if err != nil {
		return 0, err
	}
	eh, em, err := parseClock(show.EndTime)
	if err != nil {
		return 0, err
	}
	start := time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute
	end := time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute
	if end <= start {
		end += 24 * time.Hour
	}
	return end - start, nil
}

// airingAt reports whether the show is on air at the given moment,
// including the tail of a cross-midnight airing that started the
// previous day.
func airingAt(show *store.ScheduledShow, now time.Time) bool {
	dur, err := showDuration(show)
	if err != nil {
		return false
	}
	sh, sm, _ := parseClock(show.StartTime)

	// A show can only be on air if it started today or yesterday.
	for _, dayOffset := range []int{0, -1} {
		day := now.AddDate(0, 0, dayOffset)
		if !weekdayScheduled(show, day.Weekday()) {
			continue
		}
		if !dateInWindow(show, day) {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, now.Location())
		if !now.Before(start) && now.Before(start.Add(dur)) {
			return true
		}
	}
	return false
}

func weekdayScheduled(show *store.ScheduledShow, day time.Weekday) bool {
	for _, d := range show.Days {
		if d == day {
			return true
		}
	}
	return false
}

// dateInWindow reports whether the calendar day falls inside the show's
// start/end date range. Both bounds are inclusive.
func dateInWindow(show *store.ScheduledShow, day time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	s := time.Date(show.StartDate.Year(), show.StartDate.Month(), show.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(show.EndDate.Year(), show.EndDate.Month(), show.EndDate.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(s) && !d.After(e)
}

// StoreShowSource resolves the currently airing show from the schedule
// store. Satisfies the probe service's show lookup.
type StoreShowSource struct {
	store store.Store
}

// NewStoreShowSource builds a show source backed by the given store.
func NewStoreShowSource(st store.Store) *StoreShowSource {
	return &StoreShowSource{store: st}
}

// CurrentShow returns the show airing at the given moment, or nil when
// the air is unscheduled. When definitions overlap the first match in
// store order wins.
func (s *StoreShowSource) CurrentShow(now time.Time) (*store.ScheduledShow, error) {
	shows, err := s.store.ListShows()
	if err != nil {
		return nil, err
	}
	for _, show := range shows {
		if airingAt(show, now) {
			return show, nil
		}
	}
	return nil, nil
}
