package slot

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-engine/internal/lock"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository/memory"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
)

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	svc   *Service
	pro   model.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	now := func() time.Time { return clock }
	store := memory.New(memory.WithClock(now))
	svc := NewService(store, lock.NewLocalLocker(time.Second), audit.NewService(store.Audit()), metrics.NewNop(), logger.Nop(), Config{}).
		WithClock(now)
	return &fixture{
		store: store,
		svc:   svc,
		pro:   model.Actor{ID: uuid.New(), Role: model.RoleProfessional},
	}
}

func (f *fixture) template(t *testing.T, start, end string, minutes int, mutate ...func(*model.AvailabilityTemplate)) *model.AvailabilityTemplate {
	t.Helper()
	tmpl := &model.AvailabilityTemplate{
		ProfessionalID:  f.pro.ID,
		Title:           "Consultations",
		Timezone:        "America/New_York",
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: minutes,
		Recurrence:      model.RecurrenceRule{Frequency: model.RecurrenceDaily},
		Active:          true,
	}
	for _, m := range mutate {
		m(tmpl)
	}
	require.NoError(t, f.store.Templates().Create(context.Background(), tmpl))
	return tmpl
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerateTwoHourWindowIntoHourSlots(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t, "09:00", "11:00", 60)

	res, err := f.svc.Generate(context.Background(), f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	require.Len(t, res.Created, 2)

	first := res.Created[0]
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), first.StartTime)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), first.EndTime)
	assert.Equal(t, "2026-03-02T09:00:00", first.LocalStart)
	assert.Equal(t, model.SlotStatusAvailable, first.Status)
	assert.Equal(t, tmpl.ID, *first.TemplateID)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), res.Created[1].StartTime)

	logs, err := f.store.Audit().List(context.Background(), model.AuditFilters{EntityID: &tmpl.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionGenerate, logs[0].Action)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t, "09:00", "11:00", 60)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 4))
	require.NoError(t, err)

	again, err := f.svc.Generate(ctx, f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 4))
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, 6, again.Duplicates)
	assert.Zero(t, again.Skipped)

	page, err := f.svc.Query(ctx, model.SlotFilters{ProfessionalID: &f.pro.ID})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
}

func TestGenerateSkipsIntervalsOverlappingOtherTemplates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	morning := f.template(t, "09:00", "11:00", 60)
	overlapping := f.template(t, "09:30", "12:00", 30)

	_, err := f.svc.Generate(ctx, f.pro, morning.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)

	res, err := f.svc.Generate(ctx, f.pro, overlapping.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	// 09:30-11:00 collides, 11:00-12:00 is free
	assert.Len(t, res.Created, 2)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, res.Conflicts, 2)
}

func TestGenerateRejectsUnusableTemplates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	deleted := f.template(t, "09:00", "11:00", 60)
	require.NoError(t, f.store.Templates().Delete(ctx, deleted.ID))
	_, err := f.svc.Generate(ctx, f.pro, deleted.ID, date(2026, 3, 2), date(2026, 3, 2))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	inactive := f.template(t, "09:00", "11:00", 60, func(tm *model.AvailabilityTemplate) { tm.Active = false })
	_, err = f.svc.Generate(ctx, f.pro, inactive.ID, date(2026, 3, 2), date(2026, 3, 2))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	active := f.template(t, "09:00", "11:00", 60)
	stranger := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	_, err = f.svc.Generate(ctx, stranger, active.ID, date(2026, 3, 2), date(2026, 3, 2))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = f.svc.Generate(ctx, f.pro, active.ID, date(2026, 3, 5), date(2026, 3, 2))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRange))
}

func TestGenerateHonoursNoticeAndAdvanceWindows(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t, "09:00", "11:00", 60, func(tm *model.AvailabilityTemplate) {
		tm.Timezone = "UTC"
		tm.Metadata.MinNoticeMinutes = 24 * 60
		tm.Metadata.MaxAdvanceDays = 3
	})

	// clock is 2026-03-01 12:00 UTC: the 1st and 2nd fall inside the notice
	// window and the 5th is beyond the advance window.
	res, err := f.svc.Generate(context.Background(), f.pro, tmpl.ID, date(2026, 3, 1), date(2026, 3, 5))
	require.NoError(t, err)

	var starts []time.Time
	for _, s := range res.Created {
		starts = append(starts, s.StartTime)
	}
	assert.Equal(t, []time.Time{
		time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}, starts)
	assert.Equal(t, 6, res.Skipped)
}

func TestSlotLifecycleTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tmpl := f.template(t, "09:00", "10:00", 60)
	res, err := f.svc.Generate(ctx, f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	id := res.Created[0].ID

	blocked, err := f.svc.Block(ctx, f.pro, id)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBlocked, blocked.Status)

	_, err = f.svc.Block(ctx, f.pro, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	unblocked, err := f.svc.Unblock(ctx, f.pro, id)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, unblocked.Status)

	cancelled, err := f.svc.Cancel(ctx, f.pro, id)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusCancelled, cancelled.Status)

	_, err = f.svc.Unblock(ctx, f.pro, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	stranger := model.Actor{ID: uuid.New(), Role: model.RoleClient}
	_, err = f.svc.Block(ctx, stranger, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}

func TestCancelledSlotsFreeTheirInterval(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	req := &model.CreateSlotRequest{ProfessionalID: f.pro.ID, StartTime: start, EndTime: start.Add(time.Hour), Timezone: "UTC"}

	first, err := f.svc.CreateStandalone(ctx, f.pro, req)
	require.NoError(t, err)
	assert.Nil(t, first.TemplateID)
	assert.Equal(t, "2026-03-02T09:00:00", first.LocalStart)

	_, err = f.svc.CreateStandalone(ctx, f.pro, req)
	require.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	appErr, _ := apperrors.AsAppError(err)
	conflicts, ok := appErr.Details.([]model.Conflict)
	require.True(t, ok)
	assert.Equal(t, first.ID, conflicts[0].ID)

	_, err = f.svc.Cancel(ctx, f.pro, first.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateStandalone(ctx, f.pro, req)
	assert.NoError(t, err)
}

func TestCreateStandaloneFallsBackToDefaultTimezone(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	sl, err := f.svc.CreateStandalone(context.Background(), f.pro, &model.CreateSlotRequest{
		ProfessionalID: f.pro.ID,
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		Timezone:       "Mars/Olympus_Mons",
	})
	require.NoError(t, err)
	assert.Equal(t, "UTC", sl.Timezone)
}

func TestStatsAndQuery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tmpl := f.template(t, "09:00", "13:00", 60)
	res, err := f.svc.Generate(ctx, f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	require.Len(t, res.Created, 4)

	_, err = f.store.Slots().TransitionStatus(ctx, res.Created[0].ID, model.SlotStatusAvailable, model.SlotStatusBooked, model.SlotChange{Actor: &f.pro.ID, At: clock})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.pro, res.Created[3].ID)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, f.pro.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, &model.SlotStats{TotalSlots: 3, BookedSlots: 1, AvailableSlots: 2, UtilizationRate: 0.3333}, stats)

	from, to := clock.AddDate(0, 0, 2), clock
	_, err = f.svc.Stats(ctx, f.pro.ID, &from, &to)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRange))

	page, err := f.svc.Query(ctx, model.SlotFilters{
		ProfessionalID: &f.pro.ID,
		Statuses:       []model.SlotStatus{model.SlotStatusAvailable},
		Pagination:     model.Pagination{Page: 1, PageSize: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Slots, 1)

	_, err = f.svc.Query(ctx, model.SlotFilters{Statuses: []model.SlotStatus{"gone"}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
}

func TestQueryHugePageReturnsEmpty(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tmpl := f.template(t, "09:00", "11:00", 60)
	_, err := f.svc.Generate(ctx, f.pro, tmpl.ID, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)

	page, err := f.svc.Query(ctx, model.SlotFilters{
		ProfessionalID: &f.pro.ID,
		Pagination:     model.Pagination{Page: math.MaxInt64/model.MaxPageSize + 2, PageSize: model.MaxPageSize},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Empty(t, page.Slots)
	assert.Equal(t, model.MaxPage, page.Page)
}

func TestCheckConflictsIsHalfOpen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_, err := f.svc.CreateStandalone(ctx, f.pro, &model.CreateSlotRequest{ProfessionalID: f.pro.ID, StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)

	touching, err := f.svc.CheckConflicts(ctx, &model.ConflictCheckRequest{
		ProfessionalID: f.pro.ID,
		StartTime:      start.Add(time.Hour),
		EndTime:        start.Add(2 * time.Hour),
		EntityType:     model.EntitySlot,
	})
	require.NoError(t, err)
	assert.True(t, touching.Valid)

	overlapping, err := f.svc.CheckConflicts(ctx, &model.ConflictCheckRequest{
		ProfessionalID: f.pro.ID,
		StartTime:      start.Add(59 * time.Minute),
		EndTime:        start.Add(2 * time.Hour),
		EntityType:     model.EntitySlot,
	})
	require.NoError(t, err)
	assert.False(t, overlapping.Valid)
	assert.Len(t, overlapping.Conflicts, 1)
}
