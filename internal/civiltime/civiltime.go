// Package civiltime anchors device timestamps and day buckets to one fixed
// civil timezone, independent of the host process timezone.
package civiltime

import (
	"strings"
	"time"
)

// DefaultZone is the reference timezone devices report local time in.
const DefaultZone = "Africa/Cairo"

// Layout is the naive wall-clock format devices send.
const Layout = "2006-01-02 15:04:05"

// DateLayout is used for civil day keys.
const DateLayout = "2006-01-02"

// Window is the inclusive [Start, End] range of a civil day.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Normalizer converts device timestamps into instants in a fixed location.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// New creates a normalizer for the given location. A nil now uses time.Now.
func New(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: loc, now: now}
}

// Load resolves a zone name and builds a normalizer for it.
func Load(zone string, now func() time.Time) (*Normalizer, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return New(loc, now), nil
}

// Location returns the reference location.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Now returns the current instant in the reference location.
func (n *Normalizer) Now() time.Time { return n.now().In(n.loc) }

// Normalize interprets raw as wall-clock time in the reference location.
// Empty or unparseable input yields Now rather than an error so a scan is
// never dropped for a bad clock string.
func (n *Normalizer) Normalize(raw string) time.Time {
	t, ok := n.Parse(raw)
	if !ok {
		return n.Now()
	}
	return t
}

// Parse is the strict form of Normalize.
func (n *Normalizer) Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{Layout, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, n.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayBounds returns 00:00:00.000 and 23:59:59.999 of t's civil day.
func (n *Normalizer) DayBounds(t time.Time) Window {
	local := t.In(n.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, n.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, int(999*time.Millisecond), n.loc)
	return Window{Start: start, End: end}
}

// ParseDay parses a YYYY-MM-DD civil date into its window.
func (n *Normalizer) ParseDay(date string) (Window, error) {
	t, err := time.ParseInLocation(DateLayout, date, n.loc)
	if err != nil {
		return Window{}, err
	}
	return n.DayBounds(t), nil
}

// MinuteOfDay returns hour*60+minute of t in the reference location.
func (n *Normalizer) MinuteOfDay(t time.Time) int {
	local := t.In(n.loc)
	return local.Hour()*60 + local.Minute()
}
