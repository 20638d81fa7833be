package models

import (
	"time"
)

// Status represents the lifecycle state of a scheduled message.
type Status string

const (
	StatusPending            Status = "pending"
	StatusScheduled          Status = "scheduled"
	StatusDispatched         Status = "dispatched"
	StatusManuallyDispatched Status = "manuallyDispatched"
	StatusFailed             Status = "failed"
	StatusSkipped            Status = "skipped"
)

// ValidStatus reports whether s is one of the known message statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusScheduled, StatusDispatched,
		StatusManuallyDispatched, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// ScheduleKind distinguishes one-shot messages from recurring ones.
type ScheduleKind string

const (
	KindSpecific  ScheduleKind = "specific"
	KindRecurring ScheduleKind = "recurring"
)

// Message is a template text queued for delivery at a computed time.
//
// NextDispatchAt is non-nil only while the message is scheduled (or
// transiently during retry backoff). LastDispatchedAt is stamped on the
// first successful or manually confirmed dispatch and overwritten each
// time a recurring message dispatches again.
type Message struct {
	ID               int64      `json:"id" db:"id"`
	Content          string     `json:"content" db:"content"`
	BaseTime         string     `json:"baseTime" db:"base_time"`
	JitterMinutes    int        `json:"jitterMinutes" db:"jitter_minutes"`
	DatePattern      string     `json:"datePattern" db:"date_pattern"`
	Status           Status     `json:"status" db:"status"`
	NextDispatchAt   *time.Time `json:"nextDispatchAt,omitempty" db:"next_dispatch_at"`
	LastDispatchedAt *time.Time `json:"lastDispatchedAt,omitempty" db:"last_dispatched_at"`
}

// Kind derives the schedule kind from the date pattern: an 8-digit
// calendar date is one-shot, everything else recurs.
func (m *Message) Kind() ScheduleKind {
	if isEightDigits(m.DatePattern) {
		return KindSpecific
	}
	return KindRecurring
}

// Clone returns a deep copy so callers can hand messages across the
// owning service boundary without sharing pointers.
func (m *Message) Clone() *Message {
	c := *m
	if m.NextDispatchAt != nil {
		t := *m.NextDispatchAt
		c.NextDispatchAt = &t
	}
	if m.LastDispatchedAt != nil {
		t := *m.LastDispatchedAt
		c.LastDispatchedAt = &t
	}
	return &c
}

func isEightDigits(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
