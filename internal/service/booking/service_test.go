package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-engine/internal/lock"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/internal/repository/memory"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
)

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	userID    uuid.UUID
	eventType string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, eventType string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID: userID, eventType: eventType})
	return nil
}

func (r *recordingNotifier) events() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	notifier *recordingNotifier
	pro      model.Actor
	client   model.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(memory.WithClock(func() time.Time { return clock }))
	return newFixture(store, store, lock.NewLocalLocker(5*time.Second))
}

func newFixture(mem *memory.Store, store repository.Store, locker lock.Locker) *fixture {
	n := &recordingNotifier{}
	svc := NewService(store, locker, audit.NewService(mem.Audit()), n, metrics.NewNop(), logger.Nop()).
		WithClock(func() time.Time { return clock })
	return &fixture{
		store:    mem,
		svc:      svc,
		notifier: n,
		pro:      model.Actor{ID: uuid.New(), Role: model.RoleProfessional},
		client:   model.Actor{ID: uuid.New(), Role: model.RoleClient},
	}
}

func (f *fixture) slot(t *testing.T, professionalID uuid.UUID, start time.Time, d time.Duration) *model.Slot {
	t.Helper()
	s := &model.Slot{
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        start.Add(d),
		Timezone:       "UTC",
		Status:         model.SlotStatusAvailable,
	}
	require.NoError(t, f.store.Slots().Create(context.Background(), s))
	return s
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestBookSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)

	res, err := f.svc.Book(ctx, f.client, s.ID, &model.BookRequest{BookingDetails: model.BookingDetails{Title: "Checkup"}})
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusScheduled, res.Appointment.Status)
	assert.Equal(t, f.client.ID, res.Appointment.ClientID)
	assert.Equal(t, f.pro.ID, res.Appointment.ProfessionalID)
	assert.Equal(t, s.StartTime, res.Appointment.ScheduledStart)
	assert.Equal(t, s.EndTime, res.Appointment.ScheduledEnd)
	assert.Equal(t, "Checkup", res.Appointment.Title)

	assert.Equal(t, model.SlotStatusBooked, res.Slot.Status)
	assert.Equal(t, f.client.ID, *res.Slot.BookedBy)
	assert.Equal(t, clock, *res.Slot.BookedAt)

	assert.ElementsMatch(t, []sent{
		{userID: f.client.ID, eventType: "booking.confirmed"},
		{userID: f.pro.ID, eventType: "booking.confirmed"},
	}, f.notifier.events())

	logs, err := f.store.Audit().List(ctx, model.AuditFilters{EntityID: &res.Appointment.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionBook, logs[0].Action)
}

func TestConcurrentBookingsHaveOneWinner(t *testing.T) {
	f := setup(t)
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)

	const attempts = 25
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	clients := make([]uuid.UUID, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		clients[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Book(context.Background(), model.Actor{ID: clients[i], Role: model.RoleClient}, s.ID, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	var winner uuid.UUID
	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			winner = clients[i]
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.ErrSlotUnavailable), "unexpected error: %v", err)
	}
	require.Equal(t, 1, successes)

	booked, err := f.store.Slots().Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, booked.Status)
	assert.Equal(t, winner, *booked.BookedBy)

	live, err := f.store.Appointments().List(context.Background(), model.AppointmentFilters{ProfessionalID: &f.pro.ID})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, winner, live[0].ClientID)
}

type failingStore struct {
	*memory.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Repositories) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	repository.Repositories
}

func (t failingTx) Appointments() repository.AppointmentRepository {
	return failingAppointments{t.Repositories.Appointments()}
}

type failingAppointments struct {
	repository.AppointmentRepository
}

func (failingAppointments) Create(context.Context, *model.Appointment) error {
	return errors.New("insert failed")
}

func TestBookRollsBackWhenAppointmentInsertFails(t *testing.T) {
	mem := memory.New(memory.WithClock(func() time.Time { return clock }))
	f := newFixture(mem, failingStore{mem}, lock.NewLocalLocker(time.Second))
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)

	_, err := f.svc.Book(context.Background(), f.client, s.ID, nil)
	require.EqualError(t, err, "insert failed")

	after, err := mem.Slots().Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, after.Status)
	assert.Nil(t, after.BookedBy)
	assert.Nil(t, after.BookedAt)

	list, err := mem.Appointments().List(context.Background(), model.AppointmentFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.notifier.events())
}

type timeoutLocker struct{}

func (timeoutLocker) Acquire(_ context.Context, key string) (lock.Release, error) {
	return nil, apperrors.LockTimeout(key, lock.ErrTimeout)
}

func TestBookReportsLockTimeout(t *testing.T) {
	mem := memory.New()
	f := newFixture(mem, mem, timeoutLocker{})
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)

	_, err := f.svc.Book(context.Background(), f.client, s.ID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLockTimeout))

	after, err := mem.Slots().Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, after.Status)
}

func TestBookRejectsUnavailableSlots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.client, uuid.New(), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	blocked := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	_, err = f.store.Slots().TransitionStatus(ctx, blocked.ID, model.SlotStatusAvailable, model.SlotStatusBlocked, model.SlotChange{})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.client, blocked.ID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSlotUnavailable))

	other := f.slot(t, f.pro.ID, at(11, 0), time.Hour)
	_, err = f.svc.Book(ctx, f.client, other.ID, &model.BookRequest{ClientID: uuid.New()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}

func TestBookRejectsClientDoubleBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	otherPro := uuid.New()
	first := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	overlapping := f.slot(t, otherPro, at(9, 30), time.Hour)

	_, err := f.svc.Book(ctx, f.client, first.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.client, overlapping.ID, nil)
	require.True(t, apperrors.HasCode(err, apperrors.ErrConflict))

	after, err := f.store.Slots().Get(ctx, overlapping.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, after.Status)
}

func TestCancelReopensSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	res, err := f.svc.Book(ctx, f.client, s.ID, nil)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, f.client, res.Appointment.ID, "sick")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	assert.Equal(t, "sick", *cancelled.CancelReason)
	assert.Equal(t, f.client.ID, *cancelled.CancelledBy)

	reopened, err := f.store.Slots().Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, reopened.Status)
	assert.Nil(t, reopened.BookedBy)
	assert.Nil(t, reopened.BookedAt)

	other := model.Actor{ID: uuid.New(), Role: model.RoleClient}
	_, err = f.svc.Book(ctx, other, s.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.client, res.Appointment.ID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))
}

func TestCancelRequiresAParty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	res, err := f.svc.Book(ctx, f.client, s.ID, nil)
	require.NoError(t, err)

	stranger := model.Actor{ID: uuid.New(), Role: model.RoleClient}
	_, err = f.svc.Cancel(ctx, stranger, res.Appointment.ID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = f.svc.Get(ctx, stranger, res.Appointment.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = f.svc.Cancel(ctx, f.pro, res.Appointment.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.client, uuid.New(), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestRejectedUpdateChangesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	morning := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	noon := f.slot(t, f.pro.ID, at(11, 0), time.Hour)

	a, err := f.svc.Book(ctx, f.client, morning.ID, nil)
	require.NoError(t, err)
	b, err := f.svc.Book(ctx, f.client, noon.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.client, a.Appointment.ID, &model.UpdateAppointmentRequest{StartTime: at(11, 30), EndTime: at(12, 30)})
	require.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	appErr, _ := apperrors.AsAppError(err)
	conflicts, ok := appErr.Details.([]model.Conflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, b.Appointment.ID, conflicts[0].ID)

	gotA, err := f.svc.Get(ctx, f.client, a.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), gotA.ScheduledStart)
	gotB, err := f.svc.Get(ctx, f.client, b.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), gotB.ScheduledStart)
}

func TestUpdateMovesAppointment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	res, err := f.svc.Book(ctx, f.client, s.ID, nil)
	require.NoError(t, err)

	// overlapping its own current interval is fine
	moved, err := f.svc.Update(ctx, f.client, res.Appointment.ID, &model.UpdateAppointmentRequest{StartTime: at(9, 30), EndTime: at(10, 30)})
	require.NoError(t, err)
	assert.Equal(t, at(9, 30), moved.ScheduledStart)
	assert.Equal(t, s.ID, moved.SlotID)

	_, err = f.svc.Update(ctx, f.client, res.Appointment.ID, &model.UpdateAppointmentRequest{StartTime: at(10, 0), EndTime: at(10, 0)})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRange))

	_, err = f.svc.Cancel(ctx, f.client, res.Appointment.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.client, res.Appointment.ID, &model.UpdateAppointmentRequest{StartTime: at(13, 0), EndTime: at(14, 0)})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	var types []string
	for _, e := range f.notifier.events() {
		if e.userID == f.client.ID {
			types = append(types, e.eventType)
		}
	}
	assert.Equal(t, []string{"booking.confirmed", "appointment.updated", "booking.cancelled"}, types)
}

func TestConfirmAndComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	s := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	res, err := f.svc.Book(ctx, f.client, s.ID, nil)
	require.NoError(t, err)
	id := res.Appointment.ID

	_, err = f.svc.Confirm(ctx, f.client, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	confirmed, err := f.svc.Confirm(ctx, f.pro, id)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)

	_, err = f.svc.Confirm(ctx, f.pro, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	completed, err := f.svc.Complete(ctx, f.pro, id)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, completed.Status)

	_, err = f.svc.Cancel(ctx, f.client, id, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	sl, err := f.store.Slots().Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, sl.Status)
}

func TestListScopesToCaller(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other := model.Actor{ID: uuid.New(), Role: model.RoleClient}
	first := f.slot(t, f.pro.ID, at(9, 0), time.Hour)
	second := f.slot(t, f.pro.ID, at(10, 0), time.Hour)

	_, err := f.svc.Book(ctx, f.client, first.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, other, second.ID, nil)
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, f.client, model.AppointmentFilters{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].SlotID)

	all, err := f.svc.List(ctx, f.pro, model.AppointmentFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
