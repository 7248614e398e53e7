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

const templateColumns = `id, professional_id, title, description, timezone, start_time, end_time,
	duration_minutes, recurrence, active, metadata, created_at, updated_at, deleted_at`

type templateRepository struct {
	db sqlx.ExtContext
}

func NewTemplateRepository(db sqlx.ExtContext) repository.TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) Create(ctx context.Context, t *model.AvailabilityTemplate) error {
	query := `
		INSERT INTO availability_templates (
			id, professional_id, title, description, timezone, start_time, end_time,
			duration_minutes, recurrence, active, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.ProfessionalID,
		t.Title,
		t.Description,
		t.Timezone,
		t.StartTime,
		t.EndTime,
		t.DurationMinutes,
		t.Recurrence,
		t.Active,
		t.Metadata,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilityTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM availability_templates WHERE id = $1 AND deleted_at IS NULL`

	var t model.AvailabilityTemplate
	if err := sqlx.GetContext(ctx, r.db, &t, query, id); err != nil {
		return nil, notFoundOr(err, "template", "get")
	}
	return &t, nil
}

func (r *templateRepository) Update(ctx context.Context, t *model.AvailabilityTemplate) error {
	query := `
		UPDATE availability_templates
		SET title = $1, description = $2, timezone = $3, start_time = $4, end_time = $5,
			duration_minutes = $6, recurrence = $7, active = $8, metadata = $9, updated_at = $10
		WHERE id = $11 AND deleted_at IS NULL
	`
	t.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		t.Title,
		t.Description,
		t.Timezone,
		t.StartTime,
		t.EndTime,
		t.DurationMinutes,
		t.Recurrence,
		t.Active,
		t.Metadata,
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return expectOneRow(result, "template")
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE availability_templates
		SET deleted_at = $1, active = false, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return expectOneRow(result, "template")
}

func (r *templateRepository) List(ctx context.Context, professionalID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM availability_templates
		WHERE professional_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`

	var templates []*model.AvailabilityTemplate
	if err := sqlx.SelectContext(ctx, r.db, &templates, query, professionalID); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectOneRow(result rowsAffected, resource string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}
