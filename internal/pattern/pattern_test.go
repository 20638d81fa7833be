package pattern

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewResolver(logger)
}

func TestIsSpecific(t *testing.T) {
	assert.True(t, IsSpecific("20260115"))
	assert.False(t, IsSpecific("daily"))
	assert.False(t, IsSpecific("2026011"))
	assert.False(t, IsSpecific("202601155"))
	assert.False(t, IsSpecific("2026011a"))
}

func TestValid(t *testing.T) {
	valid := []string{"daily", "weekdays", "weekend", "monday", "sunday", "saturday", "20260115"}
	for _, p := range valid {
		assert.True(t, Valid(p), "expected %q to be valid", p)
	}

	invalid := []string{"", "everyday", "Monday", "20261340", "2026-01-15"}
	for _, p := range invalid {
		assert.False(t, Valid(p), "expected %q to be invalid", p)
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("daily", time.Sunday))
	assert.True(t, Matches("weekdays", time.Monday))
	assert.True(t, Matches("weekdays", time.Friday))
	assert.False(t, Matches("weekdays", time.Saturday))
	assert.True(t, Matches("weekend", time.Saturday))
	assert.True(t, Matches("weekend", time.Sunday))
	assert.False(t, Matches("weekend", time.Wednesday))
	assert.True(t, Matches("tuesday", time.Tuesday))
	assert.False(t, Matches("tuesday", time.Wednesday))
}

func TestNextMatchingDateRecurring(t *testing.T) {
	r := testResolver()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2026-01-10 is a Saturday.
	saturday := time.Date(2026, 1, 10, 15, 30, 0, 0, loc)

	next, ok := r.NextMatchingDate("weekdays", saturday, true)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, loc), next, "should land on Monday")

	next, ok = r.NextMatchingDate("daily", saturday, true)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, loc), next, "daily includes the start day")

	next, ok = r.NextMatchingDate("daily", saturday, false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 11, 0, 0, 0, 0, loc), next, "exclusive search starts tomorrow")

	next, ok = r.NextMatchingDate("saturday", saturday, false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 17, 0, 0, 0, 0, loc), next, "exclusive search skips to next week")
}

func TestNextMatchingDateSpecific(t *testing.T) {
	r := testResolver()
	loc := time.UTC
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, loc)

	next, ok := r.NextMatchingDate("20260115", now, true)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, loc), next)

	// Same day counts even though the clock has moved past midnight.
	next, ok = r.NextMatchingDate("20260110", now, true)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, loc), next)

	_, ok = r.NextMatchingDate("20260109", now, true)
	assert.False(t, ok, "elapsed specific dates have no next occurrence")
}
