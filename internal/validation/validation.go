package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	"github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/pattern"
)

// ValidateContent validates message template text against the platform
// length limit. Length is counted in runes so multi-byte text is not
// penalized. Returns the trimmed content on success.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errors.NewValidationError("content", "content cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > constants.MaxContentLength {
		return "", errors.NewValidationError("content",
			fmt.Sprintf("content too long (max %d characters)", constants.MaxContentLength))
	}
	return trimmed, nil
}

// ValidateBaseTime validates an "HH:MM" time of day.
func ValidateBaseTime(baseTime string) error {
	if len(baseTime) != 5 || baseTime[2] != ':' {
		return errors.NewValidationError("baseTime", "time must be in HH:MM format")
	}
	hour, minute := 0, 0
	if _, err := fmt.Sscanf(baseTime, "%02d:%02d", &hour, &minute); err != nil {
		return errors.NewValidationError("baseTime", "time must be in HH:MM format")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return errors.NewValidationError("baseTime", "time out of range")
	}
	return nil
}

// ValidateJitter validates the symmetric random offset window.
func ValidateJitter(minutes int) error {
	if minutes < 0 || minutes > constants.MaxJitterMinutes {
		return errors.NewValidationError("jitterMinutes",
			fmt.Sprintf("jitter must be between 0 and %d minutes", constants.MaxJitterMinutes))
	}
	return nil
}

// ValidateDatePattern validates a date pattern: either an 8-digit calendar
// date or one of the recurrence classes.
func ValidateDatePattern(p string) error {
	if !pattern.Valid(p) {
		return errors.NewValidationError("datePattern",
			"pattern must be an 8-digit date or one of: daily, weekdays, weekend, sunday..saturday")
	}
	return nil
}

// ValidatePostponeMinutes validates a postponement duration.
func ValidatePostponeMinutes(minutes int) error {
	if minutes < constants.MinPostponeMinutes || minutes > constants.MaxPostponeMinutes {
		return errors.NewValidationError("minutes",
			fmt.Sprintf("postpone minutes must be between %d and %d",
				constants.MinPostponeMinutes, constants.MaxPostponeMinutes))
	}
	return nil
}
