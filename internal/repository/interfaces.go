package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
)

// All repository interfaces in one file
type (
	TemplateRepository interface {
		Create(ctx context.Context, template *model.AvailabilityTemplate) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilityTemplate, error)
		Update(ctx context.Context, template *model.AvailabilityTemplate) error
		// Delete is a soft delete; generated slots are left untouched.
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, professionalID uuid.UUID) ([]*model.AvailabilityTemplate, error)
	}

	// SlotRepository is the only writer of slot status.
	SlotRepository interface {
		// Materialize inserts the slots as available, silently skipping any
		// slot whose professional, template and start already exist.
		Materialize(ctx context.Context, slots []*model.Slot) ([]*model.Slot, error)
		Create(ctx context.Context, slot *model.Slot) error
		Get(ctx context.Context, id uuid.UUID) (*model.Slot, error)
		// GetForUpdate reads the slot holding a row lock until the transaction ends.
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Slot, error)
		Query(ctx context.Context, filters model.SlotFilters) ([]*model.Slot, int, error)
		// TransitionStatus is a compare-and-swap on status. It fails with
		// StaleState when the stored status differs from expected.
		TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.SlotStatus, change model.SlotChange) (*model.Slot, error)
		// FindOverlapping returns live slots of the professional overlapping the interval.
		FindOverlapping(ctx context.Context, professionalID uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Slot, error)
		Stats(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) (*model.SlotStats, error)
	}

	// AppointmentRepository is the only writer of appointment status.
	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		List(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error)
		// FindOverlapping returns live appointments sharing the professional or
		// the client (when non-nil) that overlap the interval.
		FindOverlapping(ctx context.Context, professionalID uuid.UUID, clientID *uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Appointment, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filters model.AuditFilters) ([]*model.AuditLog, error)
	}

	// Repositories is the set of repositories bound to one connection or transaction.
	Repositories interface {
		Templates() TemplateRepository
		Slots() SlotRepository
		Appointments() AppointmentRepository
		Outbox() OutboxRepository
		Audit() AuditRepository
	}

	// Store opens read-committed transactions. fn's error rolls back every write made through tx.
	Store interface {
		Repositories
		WithTx(ctx context.Context, fn func(tx Repositories) error) error
	}
)
