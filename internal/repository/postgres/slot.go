package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const slotColumns = `id, professional_id, template_id, start_time, end_time, local_start, local_end,
	timezone, status, booked_by, booked_at, metadata, created_at, updated_at`

type slotRepository struct {
	db sqlx.ExtContext
}

func NewSlotRepository(db sqlx.ExtContext) repository.SlotRepository {
	return &slotRepository{db: db}
}

func slotOverlapError(err error) error {
	appErr := apperrors.Conflict("slot overlaps an existing slot", nil)
	appErr.Err = err
	return appErr
}

func (r *slotRepository) Materialize(ctx context.Context, slots []*model.Slot) ([]*model.Slot, error) {
	query := `
		INSERT INTO slots (
			id, professional_id, template_id, start_time, end_time, local_start, local_end,
			timezone, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (professional_id, template_id, start_time) DO NOTHING
		RETURNING id
	`
	created := make([]*model.Slot, 0, len(slots))
	now := time.Now().UTC()

	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.Status = model.SlotStatusAvailable
		s.CreatedAt = now
		s.UpdatedAt = now

		var id uuid.UUID
		err := r.db.QueryRowxContext(ctx, query,
			s.ID,
			s.ProfessionalID,
			s.TemplateID,
			s.StartTime,
			s.EndTime,
			s.LocalStart,
			s.LocalEnd,
			s.Timezone,
			s.Status,
			s.Metadata,
			now,
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// duplicate of an existing slot
			continue
		case isExclusionViolation(err):
			return nil, slotOverlapError(err)
		case err != nil:
			return nil, fmt.Errorf("failed to materialize slot: %w", err)
		}
		created = append(created, s)
	}
	return created, nil
}

func (r *slotRepository) Create(ctx context.Context, s *model.Slot) error {
	query := `
		INSERT INTO slots (
			id, professional_id, template_id, start_time, end_time, local_start, local_end,
			timezone, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = model.SlotStatusAvailable
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.ProfessionalID,
		s.TemplateID,
		s.StartTime,
		s.EndTime,
		s.LocalStart,
		s.LocalEnd,
		s.Timezone,
		s.Status,
		s.Metadata,
		s.CreatedAt,
	)
	if isExclusionViolation(err) {
		return slotOverlapError(err)
	}
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	var s model.Slot
	if err := sqlx.GetContext(ctx, r.db, &s, query, id); err != nil {
		return nil, notFoundOr(err, "slot", "get")
	}
	return &s, nil
}

func (r *slotRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1 FOR UPDATE`

	var s model.Slot
	if err := sqlx.GetContext(ctx, r.db, &s, query, id); err != nil {
		return nil, notFoundOr(err, "slot", "lock")
	}
	return &s, nil
}

func buildSlotWhere(f model.SlotFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ProfessionalID != nil {
		add("professional_id = $%d", *f.ProfessionalID)
	}
	if f.TemplateID != nil {
		add("template_id = $%d", *f.TemplateID)
	}
	if f.From != nil {
		add("start_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("start_time < $%d", *f.To)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *slotRepository) Query(ctx context.Context, filters model.SlotFilters) ([]*model.Slot, int, error) {
	where, args := buildSlotWhere(filters)

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COUNT(*) FROM slots`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count slots: %w", err)
	}

	page := filters.Pagination.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM slots%s ORDER BY start_time ASC, id ASC LIMIT $%d OFFSET $%d`,
		slotColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PageSize, page.Offset())

	slots := []*model.Slot{}
	if err := sqlx.SelectContext(ctx, r.db, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query slots: %w", err)
	}
	return slots, total, nil
}

// TransitionStatus only touches the row while it still has the expected status.
func (r *slotRepository) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.SlotStatus, change model.SlotChange) (*model.Slot, error) {
	query := `
		UPDATE slots
		SET status = $3, booked_by = $4, booked_at = $5, updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING ` + slotColumns

	var bookedBy *uuid.UUID
	var bookedAt *time.Time
	if next == model.SlotStatusBooked {
		at := change.At.UTC()
		bookedBy = change.Actor
		bookedAt = &at
	}

	var s model.Slot
	err := sqlx.GetContext(ctx, r.db, &s, query, id, expected, next, bookedBy, bookedAt, time.Now().UTC())
	switch {
	case err == nil:
		return &s, nil
	case isExclusionViolation(err):
		return nil, slotOverlapError(err)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to transition slot: %w", err)
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("failed to check slot: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFound("slot", nil)
	}
	return nil, apperrors.StaleState("slot")
}

func (r *slotRepository) FindOverlapping(ctx context.Context, professionalID uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Slot, error) {
	query := `SELECT ` + slotColumns + `
		FROM slots
		WHERE professional_id = $1
		AND status IN ('available', 'booked')
		AND start_time < $3
		AND end_time > $2`
	args := []interface{}{professionalID, interval.Start, interval.End}

	if excludeID != nil {
		query += " AND id <> $4"
		args = append(args, *excludeID)
	}
	query += " ORDER BY start_time ASC"

	var slots []*model.Slot
	if err := sqlx.SelectContext(ctx, r.db, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find overlapping slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) Stats(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) (*model.SlotStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'cancelled') AS total,
			COUNT(*) FILTER (WHERE status = 'booked') AS booked,
			COUNT(*) FILTER (WHERE status = 'available') AS available
		FROM slots
		WHERE professional_id = $1`
	args := []interface{}{professionalID}

	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND start_time < $%d", len(args))
	}

	var row struct {
		Total     int `db:"total"`
		Booked    int `db:"booked"`
		Available int `db:"available"`
	}
	if err := sqlx.GetContext(ctx, r.db, &row, query, args...); err != nil {
		return nil, fmt.Errorf("failed to compute slot stats: %w", err)
	}
	return model.NewSlotStats(row.Total, row.Booked, row.Available), nil
}
