package pattern

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
)

// Recurrence classes. A pattern is either one of these tokens or an
// 8-digit calendar date (YYYYMMDD) naming a single day.
const (
	Daily    = "daily"
	Weekdays = "weekdays"
	Weekend  = "weekend"
)

var weekdayTokens = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// IsSpecific reports whether p encodes a single calendar date.
func IsSpecific(p string) bool {
	if len(p) != 8 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Valid reports whether p is a parseable pattern.
func Valid(p string) bool {
	if IsSpecific(p) {
		_, err := time.Parse("20060102", p)
		return err == nil
	}
	switch p {
	case Daily, Weekdays, Weekend:
		return true
	}
	_, ok := weekdayTokens[p]
	return ok
}

// ParseDate decodes an 8-digit specific pattern to midnight in loc.
func ParseDate(p string, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation("20060102", p, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Matches reports whether a calendar day with the given weekday satisfies
// the recurrence class p. Unknown patterns match every day, mirroring the
// permissive behavior the importer relies on.
func Matches(p string, wd time.Weekday) bool {
	switch p {
	case Daily:
		return true
	case Weekdays:
		return wd >= time.Monday && wd <= time.Friday
	case Weekend:
		return wd == time.Saturday || wd == time.Sunday
	}
	if target, ok := weekdayTokens[p]; ok {
		return wd == target
	}
	return true
}

// Resolver finds the next calendar date matching a pattern.
type Resolver struct {
	logger *logrus.Logger
}

func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// NextMatchingDate returns the first calendar day at or after from (after
// from when includeFrom is false) whose weekday satisfies the pattern,
// searching up to the bounded horizon. For a specific pattern it returns
// the encoded date itself, or false when that date has already elapsed.
// The returned time is midnight in from's location.
func (r *Resolver) NextMatchingDate(p string, from time.Time, includeFrom bool) (time.Time, bool) {
	day := truncateToDay(from)

	if IsSpecific(p) {
		target, ok := ParseDate(p, from.Location())
		if !ok {
			return time.Time{}, false
		}
		if target.Before(day) {
			return time.Time{}, false
		}
		return target, true
	}

	start := day
	if !includeFrom {
		start = start.AddDate(0, 0, 1)
	}

	for i := 0; i < constants.PatternSearchHorizonDays; i++ {
		candidate := start.AddDate(0, 0, i)
		if Matches(p, candidate.Weekday()) {
			return candidate, true
		}
	}

	// Every valid class recurs within 7 days, so reaching this point means
	// the pattern table and the scan disagree. Fall back rather than fail.
	fallback := start.AddDate(0, 0, 1)
	if !includeFrom {
		fallback = start.AddDate(0, 0, constants.MissedSlotPushDays)
	}
	r.logger.WithFields(logrus.Fields{
		"pattern":  p,
		"from":     from.Format("2006-01-02"),
		"fallback": fallback.Format("2006-01-02"),
	}).Warn("No matching date within search horizon, using fallback")
	return fallback, true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
