package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/validation"
)

// Expected column order. A first row repeating these names is treated as
// a header and skipped.
var columns = []string{"content", "base_time", "jitter_minutes", "date_pattern"}

// Result reports what an import run produced.
type Result struct {
	Messages []*models.Message `json:"-"`
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Errors   []string          `json:"errors,omitempty"`
}

// Importer parses message lists uploaded as CSV.
type Importer struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Importer {
	return &Importer{logger: logger}
}

// Parse reads the whole CSV, validating each row. Invalid rows are
// reported and skipped rather than aborting the import; the caller
// decides whether a partial list is acceptable.
func (i *Importer) Parse(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &Result{}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to read CSV")
		}
		row++

		if row == 1 && isHeader(record) {
			continue
		}

		msg, err := parseRow(record)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", row, err))
			i.logger.WithFields(logrus.Fields{
				"row":   row,
				"error": err,
			}).Warn("Skipping invalid import row")
			continue
		}

		result.Messages = append(result.Messages, msg)
		result.Imported++
	}

	if result.Imported == 0 && result.Skipped > 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "no valid rows in import").
			WithContext("errors", result.Errors)
	}
	return result, nil
}

func parseRow(record []string) (*models.Message, error) {
	if len(record) < len(columns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(columns), len(record))
	}

	content, err := validation.ValidateContent(record[0])
	if err != nil {
		return nil, err
	}

	baseTime := strings.TrimSpace(record[1])
	if err := validation.ValidateBaseTime(baseTime); err != nil {
		return nil, err
	}

	jitterField := strings.TrimSpace(record[2])
	jitter := 0
	if jitterField != "" {
		jitter, err = strconv.Atoi(jitterField)
		if err != nil {
			return nil, fmt.Errorf("jitter_minutes is not a number: %q", jitterField)
		}
	}
	if err := validation.ValidateJitter(jitter); err != nil {
		return nil, err
	}

	patternField := strings.ToLower(strings.TrimSpace(record[3]))
	if err := validation.ValidateDatePattern(patternField); err != nil {
		return nil, err
	}

	return &models.Message{
		Content:       content,
		BaseTime:      baseTime,
		JitterMinutes: jitter,
		DatePattern:   patternField,
		Status:        models.StatusPending,
	}, nil
}

func isHeader(record []string) bool {
	if len(record) < len(columns) {
		return false
	}
	for i, name := range columns {
		if !strings.EqualFold(strings.TrimSpace(record[i]), name) {
			return false
		}
	}
	return true
}
