package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

type templateRepository struct {
	run runner
	now func() time.Time
}

func (r *templateRepository) Create(ctx context.Context, t *model.AvailabilityTemplate) error {
	return r.run(func(st *state) error {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		now := r.now().UTC()
		t.CreatedAt = now
		t.UpdatedAt = now
		st.templates[t.ID] = *t
		return nil
	})
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilityTemplate, error) {
	var out *model.AvailabilityTemplate
	err := r.run(func(st *state) error {
		t, ok := st.templates[id]
		if !ok || t.DeletedAt != nil {
			return apperrors.NotFound("template", nil)
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *templateRepository) Update(ctx context.Context, t *model.AvailabilityTemplate) error {
	return r.run(func(st *state) error {
		existing, ok := st.templates[t.ID]
		if !ok || existing.DeletedAt != nil {
			return apperrors.NotFound("template", nil)
		}
		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = r.now().UTC()
		st.templates[t.ID] = *t
		return nil
	})
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.run(func(st *state) error {
		t, ok := st.templates[id]
		if !ok || t.DeletedAt != nil {
			return apperrors.NotFound("template", nil)
		}
		now := r.now().UTC()
		t.DeletedAt = &now
		t.Active = false
		t.UpdatedAt = now
		st.templates[id] = t
		return nil
	})
}

func (r *templateRepository) List(ctx context.Context, professionalID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	var out []*model.AvailabilityTemplate
	err := r.run(func(st *state) error {
		for _, t := range st.templates {
			if t.ProfessionalID != professionalID || t.DeletedAt != nil {
				continue
			}
			t := t
			out = append(out, &t)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
