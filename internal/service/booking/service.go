// Package booking arbitrates concurrent bookings and keeps slots and
// appointments consistent through cancel and reschedule.
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwalitptl/booking-engine/internal/conflict"
	"github.com/jwalitptl/booking-engine/internal/lock"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	"github.com/jwalitptl/booking-engine/internal/service/notification"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/validator"
)

type Service struct {
	store    repository.Store
	locker   lock.Locker
	auditor  *audit.Service
	notifier notification.Notifier
	validate *validator.Validator
	metrics  *metrics.Metrics
	logger   *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store repository.Store, locker lock.Locker, auditor *audit.Service, notifier notification.Notifier, m *metrics.Metrics, log *logger.Logger) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		store:    store,
		locker:   locker,
		auditor:  auditor,
		notifier: notifier,
		validate: validator.New(),
		metrics:  m,
		logger:   log,
		tracer:   otel.Tracer("github.com/jwalitptl/booking-engine/internal/service/booking"),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for booking and cancellation timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperrors.CodeOf(err))
}

// Book reserves the slot for the client. At most one concurrent call per
// slot succeeds; the others fail with SlotUnavailable or LockTimeout.
// The client defaults to the actor; only admins book on behalf of someone else.
func (s *Service) Book(ctx context.Context, actor model.Actor, slotID uuid.UUID, req *model.BookRequest) (result *model.BookingResult, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("slot.id", slotID.String()),
		attribute.String("actor.id", actor.ID.String()),
	))
	started := time.Now()
	defer func() {
		s.metrics.BookingAttempts.WithLabelValues(outcome(err)).Inc()
		s.metrics.BookingLatency.Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	if req == nil {
		req = &model.BookRequest{}
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	clientID := actor.ID
	if req.ClientID != uuid.Nil && req.ClientID != actor.ID {
		if actor.Role != model.RoleAdmin {
			return nil, apperrors.Forbidden("cannot book on behalf of another client")
		}
		clientID = req.ClientID
	}

	// fail fast without queueing on the lock
	current, err := s.store.Slots().Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.SlotStatusAvailable {
		return nil, apperrors.SlotUnavailable("slot is " + string(current.Status))
	}

	release, err := s.locker.Acquire(ctx, lock.SlotKey(slotID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	var appointment *model.Appointment
	var booked *model.Slot
	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		sl, err := tx.Slots().GetForUpdate(txCtx, slotID)
		if err != nil {
			return err
		}
		if sl.Status != model.SlotStatusAvailable {
			return apperrors.SlotUnavailable("slot is " + string(sl.Status))
		}

		res, err := conflict.New(tx).Check(txCtx, conflict.Candidate{
			ProfessionalID: sl.ProfessionalID,
			ClientID:       &clientID,
			Interval:       sl.Interval(),
		}, model.EntityAppointment)
		if err != nil {
			return err
		}
		if !res.Valid {
			return apperrors.Conflict("an overlapping appointment already exists", res.Conflicts)
		}

		now := s.now().UTC()
		booked, err = tx.Slots().TransitionStatus(txCtx, slotID, model.SlotStatusAvailable, model.SlotStatusBooked, model.SlotChange{Actor: &clientID, At: now})
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrStaleState) {
				return apperrors.SlotUnavailable("slot was booked concurrently")
			}
			return err
		}

		appointment = &model.Appointment{
			ProfessionalID: sl.ProfessionalID,
			ClientID:       clientID,
			SlotID:         sl.ID,
			ScheduledStart: sl.StartTime,
			ScheduledEnd:   sl.EndTime,
			Timezone:       sl.Timezone,
			Status:         model.AppointmentStatusScheduled,
			Title:          req.Title,
			Description:    req.Description,
			Notes:          req.Notes,
		}
		if err := tx.Appointments().Create(txCtx, appointment); err != nil {
			return err
		}

		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, model.AuditActionBook, model.AuditEntityAppointment, appointment.ID, &audit.LogOptions{
			Changes:  appointment,
			Metadata: map[string]string{"slot_id": slotID.String()},
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("appointment.id", appointment.ID.String()))
	s.notify(ctx, notification.EventBookingConfirmed, appointment, actor.ID)
	return &model.BookingResult{Appointment: appointment, Slot: booked}, nil
}

// Cancel cancels a live appointment and reopens its slot in one transaction.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, reason string) (cancelled *model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.authorizedLive(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.SlotKey(current.SlotID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		a, err := tx.Appointments().GetForUpdate(txCtx, appointmentID)
		if err != nil {
			return err
		}
		if !a.Status.Live() {
			return apperrors.InvalidState("appointment is " + string(a.Status))
		}
		from := a.Status

		now := s.now().UTC()
		a.Status = model.AppointmentStatusCancelled
		a.CancelledBy = &actor.ID
		a.CancelledAt = &now
		if reason != "" {
			a.CancelReason = &reason
		}
		if err := tx.Appointments().Update(txCtx, a); err != nil {
			return err
		}

		if _, err := tx.Slots().TransitionStatus(txCtx, a.SlotID, model.SlotStatusBooked, model.SlotStatusAvailable, model.SlotChange{At: now}); err != nil {
			if apperrors.HasCode(err, apperrors.ErrStaleState) {
				return apperrors.Internal(err)
			}
			return err
		}

		cancelled = a
		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, model.AuditActionCancel, model.AuditEntityAppointment, a.ID, &audit.LogOptions{
			Changes:  audit.Transition{From: string(from), To: string(a.Status)},
			Metadata: map[string]string{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Cancellations.Inc()
	s.notify(ctx, notification.EventBookingCancelled, cancelled, actor.ID)
	return cancelled, nil
}

// Update moves a live appointment to a new interval. The slot it was booked
// through is unchanged. A conflicting interval mutates nothing.
func (s *Service) Update(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, req *model.UpdateAppointmentRequest) (updated *model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Update", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID.String()),
	))
	defer func() {
		s.metrics.Reschedules.WithLabelValues(outcome(err)).Inc()
		endSpan(span, err)
	}()

	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	iv := model.Interval{Start: req.StartTime.UTC(), End: req.EndTime.UTC()}
	if !iv.Valid() {
		return nil, apperrors.InvalidRange("start must be before end")
	}

	current, err := s.authorizedLive(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}
	candidate := conflict.Candidate{
		ID:             &current.ID,
		ProfessionalID: current.ProfessionalID,
		ClientID:       &current.ClientID,
		Interval:       iv,
	}
	if err := checkAppointmentConflicts(ctx, s.store, candidate); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.SlotKey(current.SlotID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		a, err := tx.Appointments().GetForUpdate(txCtx, appointmentID)
		if err != nil {
			return err
		}
		if !a.Status.Live() {
			return apperrors.InvalidState("appointment is " + string(a.Status))
		}
		if err := checkAppointmentConflicts(txCtx, tx, candidate); err != nil {
			return err
		}

		previous := a.Interval()
		a.ScheduledStart = iv.Start
		a.ScheduledEnd = iv.End
		if err := tx.Appointments().Update(txCtx, a); err != nil {
			return err
		}
		updated = a
		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, model.AuditActionUpdate, model.AuditEntityAppointment, a.ID, &audit.LogOptions{
			Changes: map[string]model.Interval{"from": previous, "to": iv},
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.EventAppointmentUpdated, updated, actor.ID)
	return updated, nil
}

func checkAppointmentConflicts(ctx context.Context, repos repository.Repositories, c conflict.Candidate) error {
	res, err := conflict.New(repos).Check(ctx, c, model.EntityAppointment)
	if err != nil {
		return err
	}
	if !res.Valid {
		return apperrors.Conflict("the new time overlaps existing appointments", res.Conflicts)
	}
	return nil
}

// Confirm is done by the professional on a scheduled appointment.
func (s *Service) Confirm(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	return s.advance(ctx, actor, appointmentID, model.AppointmentStatusConfirmed, model.AuditActionConfirm, notification.EventAppointmentConfirmed,
		model.AppointmentStatusScheduled)
}

// Complete closes an appointment. The slot stays booked.
func (s *Service) Complete(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	return s.advance(ctx, actor, appointmentID, model.AppointmentStatusCompleted, model.AuditActionComplete, notification.EventAppointmentCompleted,
		model.AppointmentStatusScheduled, model.AppointmentStatusConfirmed)
}

func (s *Service) advance(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, next model.AppointmentStatus, action, event string, from ...model.AppointmentStatus) (*model.Appointment, error) {
	var advanced *model.Appointment
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		a, err := tx.Appointments().GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if actor.ID != a.ProfessionalID {
			return apperrors.Forbidden("only the professional can " + action + " an appointment")
		}
		allowed := false
		for _, st := range from {
			allowed = allowed || a.Status == st
		}
		if !allowed {
			return apperrors.InvalidState("appointment is " + string(a.Status))
		}

		prev := a.Status
		a.Status = next
		if err := tx.Appointments().Update(ctx, a); err != nil {
			return err
		}
		advanced = a
		return s.auditor.WithRepo(tx.Audit()).Log(ctx, actor.ID, action, model.AuditEntityAppointment, a.ID, &audit.LogOptions{
			Changes: audit.Transition{From: string(prev), To: string(next)},
		})
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, event, advanced, actor.ID)
	return advanced, nil
}

// Get returns the appointment to one of its parties.
func (s *Service) Get(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	a, err := s.store.Appointments().Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.Involves(actor.ID) {
		return nil, apperrors.Forbidden("not a party to this appointment")
	}
	return a, nil
}

// List scopes non-admin callers to their own appointments.
func (s *Service) List(ctx context.Context, actor model.Actor, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleProfessional:
		filters.ProfessionalID = &actor.ID
	default:
		filters.ClientID = &actor.ID
	}
	if filters.From != nil && filters.To != nil && !filters.From.Before(*filters.To) {
		return nil, apperrors.InvalidRange("from must be before to")
	}
	list, err := s.store.Appointments().List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return list, nil
}

func (s *Service) authorizedLive(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	a, err := s.store.Appointments().Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.Involves(actor.ID) {
		return nil, apperrors.Forbidden("only the client or the professional may change this appointment")
	}
	if !a.Status.Live() {
		return nil, apperrors.InvalidState("appointment is " + string(a.Status))
	}
	return a, nil
}

// notify tells both parties. Failures are logged and never reach the caller.
func (s *Service) notify(ctx context.Context, eventType string, a *model.Appointment, actorID uuid.UUID) {
	event := notification.BookingEvent{
		AppointmentID:  a.ID,
		SlotID:         a.SlotID,
		ProfessionalID: a.ProfessionalID,
		ClientID:       a.ClientID,
		Start:          a.ScheduledStart,
		End:            a.ScheduledEnd,
		Timezone:       a.Timezone,
		Status:         string(a.Status),
		ActorID:        &actorID,
		OccurredAt:     s.now().UTC(),
	}
	if a.CancelReason != nil {
		event.Reason = *a.CancelReason
	}

	ctx = context.WithoutCancel(ctx)
	for _, userID := range []uuid.UUID{a.ClientID, a.ProfessionalID} {
		if err := s.notifier.Notify(ctx, userID, eventType, event); err != nil {
			s.logger.Warn("notification not delivered",
				"event_type", eventType,
				"appointment_id", a.ID.String(),
				"user_id", userID.String(),
				"error", err.Error(),
			)
		}
	}
}
