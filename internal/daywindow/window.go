// Package daywindow computes the instant range covered by one civil day in a
// fixed timezone. Every "once per day" rule in the kiosk goes through it, so
// the timezone used to compute a window is the one used to stamp and display
// records.
package daywindow

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DateLayout is the civil date format accepted by Parse and returned by Date.
const DateLayout = "2006-01-02"

// DefaultTimezone is the club's civil timezone.
const DefaultTimezone = "Asia/Seoul"

// Window is one civil day: local midnight up to, not including, the next
// local midnight.
type Window struct {
	start time.Time
	next  time.Time
}

// ForDate returns the window of the given civil date in loc.
func ForDate(year int, month time.Month, day int, loc *time.Location) Window {
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	// time.Date normalises overflowed days, so this is DST-safe.
	next := time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, loc)
	return Window{start: start, next: next}
}

// ForInstant returns the window of the civil day that contains t in loc.
func ForInstant(t time.Time, loc *time.Location) Window {
	local := t.In(loc)
	return ForDate(local.Year(), local.Month(), local.Day(), loc)
}

// Parse reads a YYYY-MM-DD civil date and returns its window in loc.
func Parse(date string, loc *time.Location) (Window, error) {
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return ForDate(d.Year(), d.Month(), d.Day(), loc), nil
}

// Start is local 00:00:00.000 of the day.
func (w Window) Start() time.Time { return w.start }

// End is local 23:59:59.999 of the day, the inclusive upper bound.
func (w Window) End() time.Time { return w.next.Add(-time.Millisecond) }

// Next is the exclusive upper bound used by storage range queries.
func (w Window) Next() time.Time { return w.next }

// Location of the window.
func (w Window) Location() *time.Location { return w.start.Location() }

// Contains reports whether t falls within the civil day.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.next)
}

// Date formats the civil date as YYYY-MM-DD.
func (w Window) Date() string { return w.start.Format(DateLayout) }

// Following returns the window of the next civil day.
func (w Window) Following() Window {
	return ForInstant(w.next, w.Location())
}

// IsZero reports whether w was never initialised.
func (w Window) IsZero() bool { return w.start.IsZero() }

func (w Window) String() string {
	return fmt.Sprintf("%s [%s, %s]", w.Date(), w.start.Format(time.RFC3339Nano), w.End().Format(time.RFC3339Nano))
}

// LoadLocation resolves a timezone name, falling back to DefaultTimezone when
// name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
