// Package memory is an in-process repository.Store for single-instance
// deployments and tests. Transactions work on a copy of the state that
// replaces the live state on commit, and hold the store mutex throughout,
// so they are fully serialized.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
)

type slotKey struct {
	professionalID uuid.UUID
	templateID     uuid.UUID
	start          int64
}

type state struct {
	templates    map[uuid.UUID]model.AvailabilityTemplate
	slots        map[uuid.UUID]model.Slot
	slotKeys     map[slotKey]uuid.UUID
	appointments map[uuid.UUID]model.Appointment
	outbox       map[uuid.UUID]model.OutboxEvent
	audit        []model.AuditLog
}

func newState() *state {
	return &state{
		templates:    make(map[uuid.UUID]model.AvailabilityTemplate),
		slots:        make(map[uuid.UUID]model.Slot),
		slotKeys:     make(map[slotKey]uuid.UUID),
		appointments: make(map[uuid.UUID]model.Appointment),
		outbox:       make(map[uuid.UUID]model.OutboxEvent),
	}
}

// clone copies the maps. Stored values are never mutated in place, so
// sharing pointer fields between the copies is safe.
func (s *state) clone() *state {
	c := &state{
		templates:    make(map[uuid.UUID]model.AvailabilityTemplate, len(s.templates)),
		slots:        make(map[uuid.UUID]model.Slot, len(s.slots)),
		slotKeys:     make(map[slotKey]uuid.UUID, len(s.slotKeys)),
		appointments: make(map[uuid.UUID]model.Appointment, len(s.appointments)),
		outbox:       make(map[uuid.UUID]model.OutboxEvent, len(s.outbox)),
		audit:        append([]model.AuditLog(nil), s.audit...),
	}
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.slotKeys {
		c.slotKeys[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

type runner func(fn func(st *state) error) error

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
	repos
}

type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.repos = repos{run: s.locked, now: s.now}
	return s
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	tx := repos{
		run: func(f func(st *state) error) error { return f(draft) },
		now: s.now,
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = draft
	return nil
}

// repos binds the repositories to either the live state or a transaction draft.
type repos struct {
	run runner
	now func() time.Time
}

func (r repos) Templates() repository.TemplateRepository {
	return &templateRepository{run: r.run, now: r.now}
}

func (r repos) Slots() repository.SlotRepository {
	return &slotRepository{run: r.run, now: r.now}
}

func (r repos) Appointments() repository.AppointmentRepository {
	return &appointmentRepository{run: r.run, now: r.now}
}

func (r repos) Outbox() repository.OutboxRepository {
	return &outboxRepository{run: r.run, now: r.now}
}

func (r repos) Audit() repository.AuditRepository {
	return &auditRepository{run: r.run, now: r.now}
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
