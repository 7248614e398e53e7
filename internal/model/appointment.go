package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Live reports whether the appointment still holds its slot.
func (s AppointmentStatus) Live() bool {
	return s == AppointmentStatusScheduled || s == AppointmentStatusConfirmed
}

type Appointment struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	ProfessionalID uuid.UUID         `db:"professional_id" json:"professional_id"`
	ClientID       uuid.UUID         `db:"client_id" json:"client_id"`
	SlotID         uuid.UUID         `db:"slot_id" json:"slot_id"`
	ScheduledStart time.Time         `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd   time.Time         `db:"scheduled_end" json:"scheduled_end"`
	Timezone       string            `db:"timezone" json:"timezone"`
	Status         AppointmentStatus `db:"status" json:"status"`
	Title          string            `db:"title" json:"title,omitempty"`
	Description    string            `db:"description" json:"description,omitempty"`
	Notes          string            `db:"notes" json:"notes,omitempty"`
	CancelReason   *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy    *uuid.UUID        `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.ScheduledStart, End: a.ScheduledEnd}
}

// Involves reports whether the user is a party to the appointment.
func (a *Appointment) Involves(userID uuid.UUID) bool {
	return a.ClientID == userID || a.ProfessionalID == userID
}

// BookingDetails is the free-form part of a booking request.
type BookingDetails struct {
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"max=2000"`
	Notes       string `json:"notes" validate:"max=1000"`
}

type BookingResult struct {
	Appointment *Appointment `json:"appointment"`
	Slot        *Slot        `json:"slot"`
}

type BookRequest struct {
	ClientID uuid.UUID `json:"client_id"`
	BookingDetails
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type UpdateAppointmentRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type AppointmentFilters struct {
	ProfessionalID *uuid.UUID
	ClientID       *uuid.UUID
	Status         AppointmentStatus
	From           *time.Time
	To             *time.Time
}
