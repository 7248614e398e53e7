package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RecurrenceFrequency string

const (
	RecurrenceDaily  RecurrenceFrequency = "daily"
	RecurrenceWeekly RecurrenceFrequency = "weekly"
)

// ClockLayout is the civil time-of-day format used by templates.
const ClockLayout = "15:04"

// RecurrenceRule selects the civil days a template applies to.
// Weekdays is ignored for daily rules.
type RecurrenceRule struct {
	Frequency RecurrenceFrequency `json:"frequency" validate:"required,oneof=daily weekly"`
	Weekdays  []time.Weekday      `json:"weekdays,omitempty" validate:"required_if=Frequency weekly,dive,min=0,max=6"`
}

// Matches reports whether the rule applies to the given weekday.
func (r RecurrenceRule) Matches(day time.Weekday) bool {
	if r.Frequency == RecurrenceDaily {
		return true
	}
	for _, wd := range r.Weekdays {
		if wd == day {
			return true
		}
	}
	return false
}

func (r RecurrenceRule) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RecurrenceRule) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// TemplateMetadata carries optional generation knobs.
type TemplateMetadata struct {
	BufferMinutes    int     `json:"buffer_minutes,omitempty" validate:"min=0,max=1440"`
	MaxAdvanceDays   int     `json:"max_advance_days,omitempty" validate:"min=0"`
	MinNoticeMinutes int     `json:"min_notice_minutes,omitempty" validate:"min=0"`
	Extra            JSONMap `json:"extra,omitempty"`
}

func (m TemplateMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *TemplateMetadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// AvailabilityTemplate is a professional's recurring weekly availability.
type AvailabilityTemplate struct {
	Base
	ProfessionalID  uuid.UUID        `db:"professional_id" json:"professional_id"`
	Title           string           `db:"title" json:"title"`
	Description     string           `db:"description" json:"description,omitempty"`
	Timezone        string           `db:"timezone" json:"timezone"`
	StartTime       string           `db:"start_time" json:"start_time"`
	EndTime         string           `db:"end_time" json:"end_time"`
	DurationMinutes int              `db:"duration_minutes" json:"duration_minutes"`
	Recurrence      RecurrenceRule   `db:"recurrence" json:"recurrence"`
	Active          bool             `db:"active" json:"active"`
	Metadata        TemplateMetadata `db:"metadata" json:"metadata"`
}

// Duration returns the slot length.
func (t *AvailabilityTemplate) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Step returns the distance between consecutive slot starts.
func (t *AvailabilityTemplate) Step() time.Duration {
	return time.Duration(t.DurationMinutes+t.Metadata.BufferMinutes) * time.Minute
}

func (t *AvailabilityTemplate) IsDeleted() bool {
	return t.DeletedAt != nil
}

type CreateTemplateRequest struct {
	ProfessionalID  uuid.UUID        `json:"professional_id" validate:"required"`
	Title           string           `json:"title" validate:"required,max=200"`
	Description     string           `json:"description" validate:"max=2000"`
	Timezone        string           `json:"timezone"`
	StartTime       string           `json:"start_time" validate:"required,clock"`
	EndTime         string           `json:"end_time" validate:"required,clock"`
	DurationMinutes int              `json:"duration_minutes" validate:"required,min=5,max=1440"`
	Recurrence      RecurrenceRule   `json:"recurrence" validate:"required"`
	Active          *bool            `json:"active"`
	Metadata        TemplateMetadata `json:"metadata"`
}

type UpdateTemplateRequest struct {
	Title           *string           `json:"title" validate:"omitempty,max=200"`
	Description     *string           `json:"description" validate:"omitempty,max=2000"`
	Timezone        *string           `json:"timezone"`
	StartTime       *string           `json:"start_time" validate:"omitempty,clock"`
	EndTime         *string           `json:"end_time" validate:"omitempty,clock"`
	DurationMinutes *int              `json:"duration_minutes" validate:"omitempty,min=5,max=1440"`
	Recurrence      *RecurrenceRule   `json:"recurrence"`
	Active          *bool             `json:"active"`
	Metadata        *TemplateMetadata `json:"metadata"`
}
