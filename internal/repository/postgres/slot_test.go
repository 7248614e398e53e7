package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

var slotColumnNames = []string{
	"id", "professional_id", "template_id", "start_time", "end_time", "local_start", "local_end",
	"timezone", "status", "booked_by", "booked_at", "metadata", "created_at", "updated_at",
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestTransitionStatusBooksWhenExpectedMatches(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)

	id, prof, client := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE slots")).
		WithArgs(id.String(), "available", "booked", client.String(), at, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(slotColumnNames).AddRow(
			id.String(), prof.String(), nil, start, start.Add(time.Hour), "2024-05-06T09:00:00", "2024-05-06T10:00:00",
			"UTC", "booked", client.String(), at, []byte("{}"), at, at,
		))

	slot, err := repo.TransitionStatus(context.Background(), id, model.SlotStatusAvailable, model.SlotStatusBooked,
		model.SlotChange{Actor: &client, At: at})
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, slot.Status)
	require.NotNil(t, slot.BookedBy)
	assert.Equal(t, client, *slot.BookedBy)
	assert.Nil(t, slot.TemplateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusReportsStaleState(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE slots")).
		WillReturnRows(sqlmock.NewRows(slotColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.TransitionStatus(context.Background(), id, model.SlotStatusAvailable, model.SlotStatusBooked, model.SlotChange{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrStaleState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusReportsMissingSlot(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE slots")).
		WillReturnRows(sqlmock.NewRows(slotColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.TransitionStatus(context.Background(), uuid.New(), model.SlotStatusBooked, model.SlotStatusAvailable, model.SlotChange{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestTransitionStatusMapsExclusionViolation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE slots")).
		WillReturnError(&pq.Error{Code: pqExclusionViolation})

	_, err := repo.TransitionStatus(context.Background(), uuid.New(), model.SlotStatusBlocked, model.SlotStatusAvailable, model.SlotChange{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
}

func TestMaterializeSkipsConflictingInserts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)

	prof, tpl := uuid.New(), uuid.New()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	slots := []*model.Slot{
		{ProfessionalID: prof, TemplateID: &tpl, StartTime: start, EndTime: start.Add(time.Hour), Timezone: "UTC"},
		{ProfessionalID: prof, TemplateID: &tpl, StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour), Timezone: "UTC"},
	}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (professional_id, template_id, start_time) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (professional_id, template_id, start_time) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	created, err := repo.Materialize(context.Background(), slots)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, start, created[0].StartTime)
	assert.Equal(t, model.SlotStatusAvailable, created[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBuildsFiltersAndPagination(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)
	prof := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM slots WHERE professional_id = $1 AND status = ANY($2)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(75))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $3 OFFSET $4")).
		WithArgs(prof.String(), sqlmock.AnyArg(), 25, 25).
		WillReturnRows(sqlmock.NewRows(slotColumnNames))

	slots, total, err := repo.Query(context.Background(), model.SlotFilters{
		ProfessionalID: &prof,
		Statuses:       []model.SlotStatus{model.SlotStatusAvailable},
		Pagination:     model.Pagination{Page: 2, PageSize: 25},
	})
	require.NoError(t, err)
	assert.Equal(t, 75, total)
	assert.Empty(t, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsComputesUtilization(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSlotRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER")).
		WillReturnRows(sqlmock.NewRows([]string{"total", "booked", "available"}).AddRow(8, 2, 5))

	stats, err := repo.Stats(context.Background(), uuid.New(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.TotalSlots)
	assert.Equal(t, 2, stats.BookedSlots)
	assert.Equal(t, 5, stats.AvailableSlots)
	assert.Equal(t, 0.25, stats.UtilizationRate)
}

func TestCreateAppointmentMapsUniqueViolation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAppointmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appointments")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := repo.Create(context.Background(), &model.Appointment{SlotID: uuid.New(), Status: model.AppointmentStatusScheduled})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSlotUnavailable))
}

func TestAppointmentWritesMapExclusionViolation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAppointmentRepository(db)
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	a := &model.Appointment{
		ProfessionalID: uuid.New(),
		ClientID:       uuid.New(),
		SlotID:         uuid.New(),
		ScheduledStart: start,
		ScheduledEnd:   start.Add(time.Hour),
		Status:         model.AppointmentStatusScheduled,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appointments")).
		WillReturnError(&pq.Error{Code: pqExclusionViolation, Constraint: "appointments_client_no_overlap"})
	err := repo.Create(context.Background(), a)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))

	a.ID = uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appointments")).
		WillReturnError(&pq.Error{Code: pqExclusionViolation, Constraint: "appointments_professional_no_overlap"})
	err = repo.Update(context.Background(), a)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOverlappingAppointmentsMatchesClient(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAppointmentRepository(db)
	prof, client, self := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("(professional_id = $3 OR client_id = $4) AND id <> $5")).
		WithArgs(start, start.Add(time.Hour), prof.String(), client.String(), self.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindOverlapping(context.Background(), prof, &client, model.Interval{Start: start, End: start.Add(time.Hour)}, &self)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(tx repository.Repositories) error {
		if err := tx.Audit().Create(context.Background(), &model.AuditLog{Action: model.AuditActionBook}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE availability_templates")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx repository.Repositories) error {
		return tx.Templates().Delete(context.Background(), uuid.New())
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
