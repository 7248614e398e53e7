// Package notification delivers booking events to users without blocking the booking path.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingCancelled     = "booking.cancelled"
	EventAppointmentUpdated   = "appointment.updated"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCompleted = "appointment.completed"
)

// Notifier sends one event to one user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error
}

// BookingEvent is the payload of every appointment lifecycle event.
type BookingEvent struct {
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	SlotID         uuid.UUID  `json:"slot_id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	ClientID       uuid.UUID  `json:"client_id"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Timezone       string     `json:"timezone"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Multi fans one notification out to several sinks.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, string, interface{}) error { return nil }
