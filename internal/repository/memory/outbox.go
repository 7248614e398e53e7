package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

type outboxRepository struct {
	run runner
	now func() time.Time
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	return r.run(func(st *state) error {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		now := r.now().UTC()
		event.Status = model.OutboxStatusPending
		event.CreatedAt = now
		event.UpdatedAt = now
		st.outbox[event.ID] = *event
		return nil
	})
}

// GetPendingEventsWithLock returns due events oldest first.
func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	err := r.run(func(st *state) error {
		now := r.now()
		for _, e := range st.outbox {
			if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
				continue
			}
			if e.RetryAt != nil && e.RetryAt.After(now) {
				continue
			}
			e := e
			out = append(out, &e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	return r.run(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok {
			return apperrors.NotFound("outbox event", nil)
		}
		now := r.now().UTC()
		e.Status = status
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		e.UpdatedAt = now
		if status == model.OutboxStatusRetry {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		}
		st.outbox[id] = e
		return nil
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for id, e := range st.outbox {
			if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
				delete(st.outbox, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type auditRepository struct {
	run runner
	now func() time.Time
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	return r.run(func(st *state) error {
		if log.ID == uuid.Nil {
			log.ID = uuid.New()
		}
		if log.CreatedAt.IsZero() {
			log.CreatedAt = r.now().UTC()
		}
		st.audit = append(st.audit, *log)
		return nil
	})
}

// List returns matching entries newest first.
func (r *auditRepository) List(ctx context.Context, f model.AuditFilters) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	err := r.run(func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			l := st.audit[i]
			if f.UserID != nil && l.UserID != *f.UserID {
				continue
			}
			if f.EntityType != "" && l.EntityType != f.EntityType {
				continue
			}
			if f.EntityID != nil && l.EntityID != *f.EntityID {
				continue
			}
			out = append(out, &l)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}
