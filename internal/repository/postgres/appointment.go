package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const appointmentColumns = `id, professional_id, client_id, slot_id, scheduled_start, scheduled_end,
	timezone, status, title, description, notes, cancel_reason, cancelled_by, cancelled_at,
	created_at, updated_at`

func appointmentOverlapError(err error) error {
	appErr := apperrors.Conflict("an overlapping appointment already exists", nil)
	appErr.Err = err
	return appErr
}

type appointmentRepository struct {
	db sqlx.ExtContext
}

func NewAppointmentRepository(db sqlx.ExtContext) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, professional_id, client_id, slot_id, scheduled_start, scheduled_end,
			timezone, status, title, description, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.ProfessionalID,
		a.ClientID,
		a.SlotID,
		a.ScheduledStart,
		a.ScheduledEnd,
		a.Timezone,
		a.Status,
		a.Title,
		a.Description,
		a.Notes,
		a.CreatedAt,
	)
	if isUniqueViolation(err) {
		appErr := apperrors.SlotUnavailable("slot already has a live appointment")
		appErr.Err = err
		return appErr
	}
	if isExclusionViolation(err) {
		return appointmentOverlapError(err)
	}
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var a model.Appointment
	if err := sqlx.GetContext(ctx, r.db, &a, query, id); err != nil {
		return nil, notFoundOr(err, "appointment", "get")
	}
	return &a, nil
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`

	var a model.Appointment
	if err := sqlx.GetContext(ctx, r.db, &a, query, id); err != nil {
		return nil, notFoundOr(err, "appointment", "lock")
	}
	return &a, nil
}

func (r *appointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	query := `
		UPDATE appointments
		SET scheduled_start = $1, scheduled_end = $2, status = $3, title = $4, description = $5,
			notes = $6, cancel_reason = $7, cancelled_by = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $11
	`
	a.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		a.ScheduledStart,
		a.ScheduledEnd,
		a.Status,
		a.Title,
		a.Description,
		a.Notes,
		a.CancelReason,
		a.CancelledBy,
		a.CancelledAt,
		a.UpdatedAt,
		a.ID,
	)
	if isExclusionViolation(err) {
		return appointmentOverlapError(err)
	}
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOneRow(result, "appointment")
}

func (r *appointmentRepository) List(ctx context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []interface{}

	if f.ProfessionalID != nil {
		args = append(args, *f.ProfessionalID)
		query += fmt.Sprintf(" AND professional_id = $%d", len(args))
	}
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND scheduled_start >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND scheduled_start < $%d", len(args))
	}
	query += " ORDER BY scheduled_start ASC"

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.db, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) FindOverlapping(ctx context.Context, professionalID uuid.UUID, clientID *uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		AND scheduled_start < $2
		AND scheduled_end > $1`
	args := []interface{}{interval.Start, interval.End, professionalID}

	if clientID != nil {
		args = append(args, *clientID)
		query += " AND (professional_id = $3 OR client_id = $4)"
	} else {
		query += " AND professional_id = $3"
	}
	if excludeID != nil {
		args = append(args, *excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	query += " ORDER BY scheduled_start ASC"

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.db, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find overlapping appointments: %w", err)
	}
	return appointments, nil
}
