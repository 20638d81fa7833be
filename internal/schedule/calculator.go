package schedule

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/pattern"
)

// Calculator turns a message's pattern, base time and jitter window into a
// concrete next dispatch instant. The clock and randomness source are
// injected so tests can pin both.
type Calculator struct {
	resolver *pattern.Resolver
	logger   *logrus.Logger
	loc      *time.Location
	now      func() time.Time
	rng      *rand.Rand
}

func NewCalculator(resolver *pattern.Resolver, logger *logrus.Logger, loc *time.Location) *Calculator {
	return &Calculator{
		resolver: resolver,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the wall clock. Test hook.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// WithRand overrides the jitter source. Test hook.
func (c *Calculator) WithRand(rng *rand.Rand) *Calculator {
	c.rng = rng
	return c
}

// Location returns the calculator's scheduling timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the scheduling timezone.
func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}

// ComputeNext resolves the next dispatch instant for msg. The second return
// is false when the message has no future occurrence, which for a specific
// date pattern means the date has already elapsed.
func (c *Calculator) ComputeNext(msg *models.Message) (time.Time, bool) {
	now := c.Now()

	day, ok := c.resolver.NextMatchingDate(msg.DatePattern, now, true)
	if !ok {
		return time.Time{}, false
	}

	// The past-slot decision is made on the plain base time. Jitter is
	// applied only once the day is settled, so a random roll can neither
	// rescue an elapsed slot nor push a future one onto the next day.
	candidate := c.atBaseTime(day, msg.BaseTime)
	if !candidate.After(now) {
		if msg.Kind() == models.KindSpecific {
			// The single occurrence is in the past. Nothing left to schedule.
			return time.Time{}, false
		}
		// Today matched but the slot has passed, so search from tomorrow.
		day, ok = c.resolver.NextMatchingDate(msg.DatePattern, now, false)
		if !ok {
			return time.Time{}, false
		}
		candidate = c.atBaseTime(day, msg.BaseTime)
	}

	return c.applyJitter(candidate, msg.JitterMinutes), true
}

// ComputeNextAfter resolves the first occurrence at or after floor. Used
// after a successful dispatch to keep recurring messages at least a day
// apart regardless of jitter.
func (c *Calculator) ComputeNextAfter(msg *models.Message, floor time.Time) (time.Time, bool) {
	floor = floor.In(c.loc)

	day, ok := c.resolver.NextMatchingDate(msg.DatePattern, floor, true)
	if !ok {
		return time.Time{}, false
	}

	for i := 0; i < constants.PatternSearchHorizonDays; i++ {
		candidate := c.atBaseTime(day, msg.BaseTime)
		if !candidate.Before(floor) {
			return c.applyJitter(candidate, msg.JitterMinutes), true
		}
		if msg.Kind() == models.KindSpecific {
			return time.Time{}, false
		}
		day, ok = c.resolver.NextMatchingDate(msg.DatePattern, day.AddDate(0, 0, 1), true)
		if !ok {
			return time.Time{}, false
		}
	}

	return time.Time{}, false
}

// PostSuccessFloor is the earliest instant a recurring message may fire
// again after a successful dispatch.
func (c *Calculator) PostSuccessFloor() time.Time {
	return c.Now().Add(constants.PostSuccessFloorHours * time.Hour)
}

// PushToNextWeek moves a moderately late slot one week forward, keeping the
// original time of day and jitter spread.
func (c *Calculator) PushToNextWeek(scheduled time.Time) time.Time {
	return scheduled.AddDate(0, 0, constants.MissedSlotPushDays)
}

func (c *Calculator) atBaseTime(day time.Time, baseTime string) time.Time {
	var hour, minute int
	if _, err := fmt.Sscanf(baseTime, "%d:%d", &hour, &minute); err != nil {
		c.logger.WithFields(logrus.Fields{
			"baseTime": baseTime,
		}).Warn("Unparseable base time, defaulting to midnight")
		hour, minute = 0, 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, c.loc)
}

func (c *Calculator) applyJitter(t time.Time, jitterMinutes int) time.Time {
	if jitterMinutes <= 0 {
		return t
	}
	offset := (c.rng.Float64() - 0.5) * 2 * float64(jitterMinutes)
	return t.Add(time.Duration(offset * float64(time.Minute)))
}
