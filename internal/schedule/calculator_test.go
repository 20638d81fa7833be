package schedule

import (
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/pattern"
)

func testCalculator(t *testing.T, now time.Time) *Calculator {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	resolver := pattern.NewResolver(logger)
	return NewCalculator(resolver, logger, now.Location()).
		WithClock(func() time.Time { return now }).
		WithRand(rand.New(rand.NewSource(1)))
}

func mustLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func TestComputeNextRecurringToday(t *testing.T) {
	loc := mustLocation(t)
	// Wednesday morning, slot later the same day.
	now := time.Date(2026, 1, 14, 7, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "hello", BaseTime: "09:00", DatePattern: "daily"}
	next, ok := c.ComputeNext(msg)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 14, 9, 0, 0, 0, loc), next)
	assert.True(t, next.After(now))
}

func TestComputeNextRollsToTomorrowWhenSlotPassed(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "hello", BaseTime: "09:00", DatePattern: "daily"}
	next, ok := c.ComputeNext(msg)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, loc), next)
}

func TestComputeNextWeekdaysFromSaturday(t *testing.T) {
	loc := mustLocation(t)
	// 2026-01-10 is a Saturday.
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "standup", BaseTime: "09:00", DatePattern: "weekdays"}
	next, ok := c.ComputeNext(msg)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, loc), next, "should land on Monday 09:00")
}

func TestComputeNextSpecificPast(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "launch", BaseTime: "09:00", DatePattern: "20260113"}
	_, ok := c.ComputeNext(msg)
	assert.False(t, ok, "elapsed specific date has no next occurrence")

	// Same day with the base time already gone is also elapsed.
	msg.DatePattern = "20260114"
	_, ok = c.ComputeNext(msg)
	assert.False(t, ok)
}

func TestComputeNextSpecificFuture(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "launch", BaseTime: "15:00", DatePattern: "20260120"}
	next, ok := c.ComputeNext(msg)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 20, 15, 0, 0, 0, loc), next)
}

func TestComputeNextJitterStaysInWindow(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 7, 0, 0, 0, loc)
	base := time.Date(2026, 1, 14, 12, 0, 0, 0, loc)

	msg := &models.Message{Content: "hello", BaseTime: "12:00", JitterMinutes: 30, DatePattern: "daily"}
	for seed := int64(0); seed < 20; seed++ {
		c := testCalculator(t, now).WithRand(rand.New(rand.NewSource(seed)))
		next, ok := c.ComputeNext(msg)
		require.True(t, ok)
		diff := next.Sub(base)
		assert.LessOrEqual(t, diff, 30*time.Minute)
		assert.GreaterOrEqual(t, diff, -30*time.Minute)
	}
}

func TestComputeNextJitterDoesNotChangeTheDay(t *testing.T) {
	loc := mustLocation(t)
	// A minute before the slot. The day decision is made on the plain
	// base time, so no jitter roll may push the slot onto tomorrow.
	now := time.Date(2026, 1, 14, 8, 59, 0, 0, loc)

	msg := &models.Message{Content: "hello", BaseTime: "09:00", JitterMinutes: 30, DatePattern: "daily"}
	for seed := int64(0); seed < 20; seed++ {
		c := testCalculator(t, now).WithRand(rand.New(rand.NewSource(seed)))
		next, ok := c.ComputeNext(msg)
		require.True(t, ok)
		assert.Equal(t, 14, next.Day(), "jitter applies after the day is settled")
	}
}

func TestComputeNextAfterEnforcesFloor(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 9, 0, 30, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "hello", BaseTime: "09:00", DatePattern: "daily"}
	floor := c.PostSuccessFloor()
	next, ok := c.ComputeNextAfter(msg, floor)
	require.True(t, ok)
	assert.False(t, next.Before(floor), "next occurrence must respect the floor")
	assert.Equal(t, time.Date(2026, 1, 16, 9, 0, 0, 0, loc), next,
		"tomorrow 09:00 is inside the floor, so the day after is the first slot")
}

func TestComputeNextAfterSpecificInsideFloor(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 1, 14, 9, 0, 0, 0, loc)
	c := testCalculator(t, now)

	msg := &models.Message{Content: "launch", BaseTime: "10:00", DatePattern: "20260114"}
	_, ok := c.ComputeNextAfter(msg, c.PostSuccessFloor())
	assert.False(t, ok, "a specific date cannot move past its single occurrence")
}

func TestPushToNextWeek(t *testing.T) {
	loc := mustLocation(t)
	c := testCalculator(t, time.Date(2026, 1, 14, 9, 0, 0, 0, loc))

	scheduled := time.Date(2026, 1, 14, 6, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 1, 21, 6, 30, 0, 0, loc), c.PushToNextWeek(scheduled))
}
