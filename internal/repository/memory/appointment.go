package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

type appointmentRepository struct {
	run runner
	now func() time.Time
}

func cloneAppointment(a model.Appointment) *model.Appointment {
	if a.CancelReason != nil {
		reason := *a.CancelReason
		a.CancelReason = &reason
	}
	a.CancelledBy = copyUUID(a.CancelledBy)
	a.CancelledAt = copyTime(a.CancelledAt)
	return &a
}

func (r *appointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	return r.run(func(st *state) error {
		// one live appointment per slot, like the partial unique index
		for _, other := range st.appointments {
			if other.SlotID == a.SlotID && other.Status.Live() {
				return apperrors.SlotUnavailable("slot already has a live appointment")
			}
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		now := r.now().UTC()
		a.CreatedAt = now
		a.UpdatedAt = now
		st.appointments[a.ID] = *cloneAppointment(*a)
		return nil
	})
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var out *model.Appointment
	err := r.run(func(st *state) error {
		a, ok := st.appointments[id]
		if !ok {
			return apperrors.NotFound("appointment", nil)
		}
		out = cloneAppointment(a)
		return nil
	})
	return out, err
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.Get(ctx, id)
}

func (r *appointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	return r.run(func(st *state) error {
		existing, ok := st.appointments[a.ID]
		if !ok {
			return apperrors.NotFound("appointment", nil)
		}
		a.CreatedAt = existing.CreatedAt
		a.UpdatedAt = r.now().UTC()
		st.appointments[a.ID] = *cloneAppointment(*a)
		return nil
	})
}

func (r *appointmentRepository) List(ctx context.Context, f model.AppointmentFilters) ([]*model.Appointment, error) {
	var out []*model.Appointment
	err := r.run(func(st *state) error {
		for _, a := range st.appointments {
			if f.ProfessionalID != nil && a.ProfessionalID != *f.ProfessionalID {
				continue
			}
			if f.ClientID != nil && a.ClientID != *f.ClientID {
				continue
			}
			if f.Status != "" && a.Status != f.Status {
				continue
			}
			if f.From != nil && a.ScheduledStart.Before(*f.From) {
				continue
			}
			if f.To != nil && !a.ScheduledStart.Before(*f.To) {
				continue
			}
			out = append(out, cloneAppointment(a))
		}
		return nil
	})
	sortAppointments(out)
	return out, err
}

func (r *appointmentRepository) FindOverlapping(ctx context.Context, professionalID uuid.UUID, clientID *uuid.UUID, interval model.Interval, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	var out []*model.Appointment
	err := r.run(func(st *state) error {
		for _, a := range st.appointments {
			if !a.Status.Live() {
				continue
			}
			if excludeID != nil && a.ID == *excludeID {
				continue
			}
			shared := a.ProfessionalID == professionalID || (clientID != nil && a.ClientID == *clientID)
			if shared && a.Interval().Overlaps(interval) {
				out = append(out, cloneAppointment(a))
			}
		}
		return nil
	})
	sortAppointments(out)
	return out, err
}

func sortAppointments(list []*model.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ScheduledStart.Equal(list[j].ScheduledStart) {
			return list[i].ScheduledStart.Before(list[j].ScheduledStart)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}
