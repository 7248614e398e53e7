package template

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository/memory"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
)

func newService(defaultTZ string) (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, audit.NewService(store.Audit()), defaultTZ, logger.Nop()), store
}

func createRequest(professionalID uuid.UUID) *model.CreateTemplateRequest {
	return &model.CreateTemplateRequest{
		ProfessionalID:  professionalID,
		Title:           "Mornings",
		Timezone:        "Europe/Berlin",
		StartTime:       "09:00",
		EndTime:         "11:00",
		DurationMinutes: 60,
		Recurrence:      model.RecurrenceRule{Frequency: model.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday, time.Wednesday}},
	}
}

func TestCreateTemplate(t *testing.T) {
	svc, store := newService("")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}

	tmpl, err := svc.Create(context.Background(), pro, createRequest(pro.ID))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tmpl.ID)
	assert.Equal(t, "Europe/Berlin", tmpl.Timezone)
	assert.True(t, tmpl.Active)

	logs, err := store.Audit().List(context.Background(), model.AuditFilters{EntityID: &tmpl.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionCreate, logs[0].Action)
}

func TestCreateTemplateFallsBackToConfiguredTimezone(t *testing.T) {
	svc, _ := newService("America/Chicago")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}

	req := createRequest(pro.ID)
	req.Timezone = "Not/AZone"
	tmpl, err := svc.Create(context.Background(), pro, req)
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", tmpl.Timezone)

	req.Timezone = ""
	tmpl, err = svc.Create(context.Background(), pro, req)
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", tmpl.Timezone)
}

func TestCreateTemplateValidation(t *testing.T) {
	svc, _ := newService("")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.CreateTemplateRequest)
		code   apperrors.ErrorCode
	}{
		{"end before start", func(r *model.CreateTemplateRequest) { r.StartTime, r.EndTime = "11:00", "09:00" }, apperrors.ErrInvalidRange},
		{"duration exceeds window", func(r *model.CreateTemplateRequest) { r.DurationMinutes = 180 }, apperrors.ErrInvalidRange},
		{"malformed clock", func(r *model.CreateTemplateRequest) { r.StartTime = "9am" }, apperrors.ErrValidation},
		{"weekly without weekdays", func(r *model.CreateTemplateRequest) { r.Recurrence.Weekdays = nil }, apperrors.ErrValidation},
		{"missing title", func(r *model.CreateTemplateRequest) { r.Title = "" }, apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest(pro.ID)
			tt.mutate(req)
			_, err := svc.Create(ctx, pro, req)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestCreateTemplateForAnotherProfessional(t *testing.T) {
	svc, _ := newService("")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	_, err := svc.Create(context.Background(), pro, createRequest(uuid.New()))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = svc.Create(context.Background(), admin, createRequest(pro.ID))
	assert.NoError(t, err)
}

func TestUpdateTemplate(t *testing.T) {
	svc, _ := newService("")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	ctx := context.Background()
	tmpl, err := svc.Create(ctx, pro, createRequest(pro.ID))
	require.NoError(t, err)

	end, active := "12:00", false
	updated, err := svc.Update(ctx, pro, tmpl.ID, &model.UpdateTemplateRequest{EndTime: &end, Active: &active})
	require.NoError(t, err)
	assert.Equal(t, "12:00", updated.EndTime)
	assert.False(t, updated.Active)
	assert.Equal(t, "09:00", updated.StartTime)

	tooLong := 240
	_, err = svc.Update(ctx, pro, tmpl.ID, &model.UpdateTemplateRequest{DurationMinutes: &tooLong})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRange))

	got, err := svc.Get(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.DurationMinutes)
}

func TestDeleteTemplateIsSoft(t *testing.T) {
	svc, store := newService("")
	pro := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	ctx := context.Background()
	tmpl, err := svc.Create(ctx, pro, createRequest(pro.ID))
	require.NoError(t, err)

	other := model.Actor{ID: uuid.New(), Role: model.RoleProfessional}
	assert.True(t, apperrors.HasCode(svc.Delete(ctx, other, tmpl.ID), apperrors.ErrForbidden))

	require.NoError(t, svc.Delete(ctx, pro, tmpl.ID))
	_, err = svc.Get(ctx, tmpl.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
	assert.True(t, apperrors.HasCode(svc.Delete(ctx, pro, tmpl.ID), apperrors.ErrNotFound))

	list, err := svc.List(ctx, pro.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	logs, err := store.Audit().List(ctx, model.AuditFilters{EntityID: &tmpl.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
