package importer

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kukipiyo/PiyoXAssistant/internal/models"
)

func testImporter() *Importer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger)
}

func TestParseWithHeader(t *testing.T) {
	input := `content,base_time,jitter_minutes,date_pattern
good morning {DATE},07:30,10,daily
weekend post,10:00,0,weekend
launch announcement,12:00,,20260301
`
	result, err := testImporter().Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Zero(t, result.Skipped)
	require.Len(t, result.Messages, 3)

	first := result.Messages[0]
	assert.Equal(t, "good morning {DATE}", first.Content)
	assert.Equal(t, "07:30", first.BaseTime)
	assert.Equal(t, 10, first.JitterMinutes)
	assert.Equal(t, "daily", first.DatePattern)
	assert.Equal(t, models.StatusPending, first.Status)

	assert.Equal(t, 0, result.Messages[2].JitterMinutes, "empty jitter defaults to zero")
	assert.Equal(t, "20260301", result.Messages[2].DatePattern)
}

func TestParseWithoutHeader(t *testing.T) {
	input := "hello,09:00,5,monday\n"
	result, err := testImporter().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, "monday", result.Messages[0].DatePattern)
}

func TestParseNormalizesPatternCase(t *testing.T) {
	input := "hello,09:00,0,Weekdays\n"
	result, err := testImporter().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "weekdays", result.Messages[0].DatePattern)
}

func TestParseSkipsInvalidRows(t *testing.T) {
	input := `content,base_time,jitter_minutes,date_pattern
valid post,09:00,0,daily
,09:00,0,daily
bad time,27:00,0,daily
bad jitter,09:00,abc,daily
bad pattern,09:00,0,fortnightly
`
	result, err := testImporter().Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 4, result.Skipped)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "row 3")
}

func TestParseAllRowsInvalid(t *testing.T) {
	input := ",09:00,0,daily\n,10:00,0,daily\n"
	_, err := testImporter().Parse(strings.NewReader(input))
	assert.Error(t, err)
}

func TestParseEmptyInput(t *testing.T) {
	result, err := testImporter().Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Empty(t, result.Messages)
}
