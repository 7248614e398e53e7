package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

type slotRepository struct {
	run runner
	now func() time.Time
}

func keyOf(s *model.Slot) slotKey {
	k := slotKey{professionalID: s.ProfessionalID, start: s.StartTime.UnixNano()}
	if s.TemplateID != nil {
		k.templateID = *s.TemplateID
	}
	return k
}

func cloneSlot(s model.Slot) *model.Slot {
	s.TemplateID = copyUUID(s.TemplateID)
	s.BookedBy = copyUUID(s.BookedBy)
	s.BookedAt = copyTime(s.BookedAt)
	return &s
}

// liveOverlap mirrors the exclusion constraint on live slot ranges.
func liveOverlap(st *state, s *model.Slot) *model.Slot {
	for _, other := range st.slots {
		if other.ID == s.ID || other.ProfessionalID != s.ProfessionalID || !other.Status.Live() {
			continue
		}
		if other.Interval().Overlaps(s.Interval()) {
			return cloneSlot(other)
		}
	}
	return nil
}

func overlapConflict(s *model.Slot) error {
	return apperrors.Conflict("slot overlaps an existing slot", []model.Conflict{{
		EntityType: model.EntitySlot,
		ID:         s.ID,
		Start:      s.StartTime,
		End:        s.EndTime,
		Status:     string(s.Status),
	}})
}

func (r *slotRepository) insert(st *state, s *model.Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = model.SlotStatusAvailable
	}
	if s.Status.Live() {
		if other := liveOverlap(st, s); other != nil {
			return overlapConflict(other)
		}
	}
	now := r.now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	st.slots[s.ID] = *cloneSlot(*s)
	if s.TemplateID != nil {
		st.slotKeys[keyOf(s)] = s.ID
	}
	return nil
}

func (r *slotRepository) Materialize(ctx context.Context, slots []*model.Slot) ([]*model.Slot, error) {
	var created []*model.Slot
	err := r.run(func(st *state) error {
		for _, s := range slots {
			if s.TemplateID != nil {
				if _, dup := st.slotKeys[keyOf(s)]; dup {
					continue
				}
			}
			s.Status = model.SlotStatusAvailable
			if err := r.insert(st, s); err != nil {
				return err
			}
			created = append(created, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *slotRepository) Create(ctx context.Context, s *model.Slot) error {
	return r.run(func(st *state) error {
		return r.insert(st, s)
	})
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	var out *model.Slot
	err := r.run(func(st *state) error {
		s, ok := st.slots[id]
		if !ok {
			return apperrors.NotFound("slot", nil)
		}
		out = cloneSlot(s)
		return nil
	})
	return out, err
}

// GetForUpdate is Get: transactions already hold the store mutex.
func (r *slotRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	return r.Get(ctx, id)
}

func matchesSlot(s *model.Slot, f model.SlotFilters) bool {
	if f.ProfessionalID != nil && s.ProfessionalID != *f.ProfessionalID {
		return false
	}
	if f.TemplateID != nil && (s.TemplateID == nil || *s.TemplateID != *f.TemplateID) {
		return false
	}
	if f.From != nil && s.StartTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !s.StartTime.Before(*f.To) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortSlots(slots []*model.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID.String() < slots[j].ID.String()
	})
}

func (r *slotRepository) Query(ctx context.Context, filters model.SlotFilters) ([]*model.Slot, int, error) {
	var matched []*model.Slot
	err := r.run(func(st *state) error {
		for _, s := range st.slots {
			if matchesSlot(&s, filters) {
				matched = append(matched, cloneSlot(s))
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortSlots(matched)

	total := len(matched)
	page := filters.Pagination.Normalize()
	start := page.Offset()
	if start < 0 || start >= total {
		return []*model.Slot{}, total, nil
	}
	end := min(start+page.PageSize, total)
	return matched[start:end], total, nil
}

func (r *slotRepository) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.SlotStatus, change model.SlotChange) (*model.Slot, error) {
	var out *model.Slot
	err := r.run(func(st *state) error {
		s, ok := st.slots[id]
		if !ok {
			return apperrors.NotFound("slot", nil)
		}
		if s.Status != expected {
			return apperrors.StaleState("slot")
		}
		if next.Live() && !expected.Live() {
			if other := liveOverlap(st, &s); other != nil {
				return overlapConflict(other)
			}
		}
		s.Status = next
		if next == model.SlotStatusBooked {
			at := change.At.UTC()
			s.BookedBy = copyUUID(change.Actor)
			s.BookedAt = &at
		} else {
			s.BookedBy = nil
			s.BookedAt = nil
		}
		s.UpdatedAt = r.now().UTC()
		st.slots[id] = s
		out = cloneSlot(s)
		return nil
	})
	return out, err
}

func (r *slotRepository) FindOverlapping(ctx context.Context, professionalID uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Slot, error) {
	var out []*model.Slot
	err := r.run(func(st *state) error {
		for _, s := range st.slots {
			if s.ProfessionalID != professionalID || !s.Status.Live() {
				continue
			}
			if excludeID != nil && s.ID == *excludeID {
				continue
			}
			if s.Interval().Overlaps(interval) {
				out = append(out, cloneSlot(s))
			}
		}
		return nil
	})
	sortSlots(out)
	return out, err
}

func (r *slotRepository) Stats(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) (*model.SlotStats, error) {
	var total, booked, available int
	f := model.SlotFilters{ProfessionalID: &professionalID, From: from, To: to}
	err := r.run(func(st *state) error {
		for _, s := range st.slots {
			if !matchesSlot(&s, f) || s.Status == model.SlotStatusCancelled {
				continue
			}
			total++
			switch s.Status {
			case model.SlotStatusBooked:
				booked++
			case model.SlotStatusAvailable:
				available++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.NewSlotStats(total, booked, available), nil
}
