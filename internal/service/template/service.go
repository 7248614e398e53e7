package template

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	"github.com/jwalitptl/booking-engine/internal/service/authz"
	"github.com/jwalitptl/booking-engine/internal/timezone"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/validator"
)

type Service struct {
	store           repository.Store
	auditor         *audit.Service
	validate        *validator.Validator
	logger          *logger.Logger
	defaultTimezone string
}

func NewService(store repository.Store, auditor *audit.Service, defaultTimezone string, log *logger.Logger) *Service {
	if defaultTimezone == "" {
		defaultTimezone = timezone.DefaultTimezone
	}
	return &Service{
		store:           store,
		auditor:         auditor,
		validate:        validator.New(),
		logger:          log,
		defaultTimezone: defaultTimezone,
	}
}

// resolveTimezone falls back to the configured default for unknown identifiers.
func (s *Service) resolveTimezone(tz string) string {
	name, _, ok := timezone.Resolve(tz, s.defaultTimezone)
	if !ok {
		s.logger.Warn("unknown template timezone, using default", "timezone", tz, "default", name)
	}
	return name
}

// checkWindow enforces start < end and that at least one slot fits.
func checkWindow(t *model.AvailabilityTemplate) error {
	start, err := timezone.ParseClock(t.StartTime)
	if err != nil {
		return apperrors.BadRequest("invalid start time", err)
	}
	end, err := timezone.ParseClock(t.EndTime)
	if err != nil {
		return apperrors.BadRequest("invalid end time", err)
	}
	if start >= end {
		return apperrors.InvalidRange("template start time must be before end time")
	}
	if t.DurationMinutes <= 0 || t.DurationMinutes > end-start {
		return apperrors.InvalidRange(fmt.Sprintf("duration of %d minutes does not fit the daily window", t.DurationMinutes))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor model.Actor, req *model.CreateTemplateRequest) (*model.AvailabilityTemplate, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	if !authz.ActsFor(actor, req.ProfessionalID) {
		return nil, apperrors.Forbidden("templates can only be created for yourself")
	}

	t := &model.AvailabilityTemplate{
		ProfessionalID:  req.ProfessionalID,
		Title:           req.Title,
		Description:     req.Description,
		Timezone:        s.resolveTimezone(req.Timezone),
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		Recurrence:      req.Recurrence,
		Active:          req.Active == nil || *req.Active,
		Metadata:        req.Metadata,
	}
	if err := checkWindow(t); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if err := tx.Templates().Create(ctx, t); err != nil {
			return apperrors.Internal(err)
		}
		return s.auditor.WithRepo(tx.Audit()).Log(ctx, actor.ID, model.AuditActionCreate, model.AuditEntityTemplate, t.ID, &audit.LogOptions{Changes: t})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get hides soft-deleted templates.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilityTemplate, error) {
	return s.store.Templates().Get(ctx, id)
}

func (s *Service) List(ctx context.Context, professionalID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	templates, err := s.store.Templates().List(ctx, professionalID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return templates, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateTemplateRequest) (*model.AvailabilityTemplate, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	var updated *model.AvailabilityTemplate
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := tx.Templates().Get(ctx, id)
		if err != nil {
			return err
		}
		if t.IsDeleted() {
			return apperrors.NotFound("template", nil)
		}
		if !authz.ActsFor(actor, t.ProfessionalID) {
			return apperrors.Forbidden("template belongs to another professional")
		}

		applyUpdate(t, req)
		if req.Timezone != nil {
			t.Timezone = s.resolveTimezone(*req.Timezone)
		}
		if err := checkWindow(t); err != nil {
			return err
		}
		if err := tx.Templates().Update(ctx, t); err != nil {
			return err
		}
		updated = t
		return s.auditor.WithRepo(tx.Audit()).Log(ctx, actor.ID, model.AuditActionUpdate, model.AuditEntityTemplate, t.ID, &audit.LogOptions{Changes: req})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyUpdate(t *model.AvailabilityTemplate, req *model.UpdateTemplateRequest) {
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.StartTime != nil {
		t.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		t.EndTime = *req.EndTime
	}
	if req.DurationMinutes != nil {
		t.DurationMinutes = *req.DurationMinutes
	}
	if req.Recurrence != nil {
		t.Recurrence = *req.Recurrence
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if req.Metadata != nil {
		t.Metadata = *req.Metadata
	}
}

// Delete soft-deletes the template. Slots already generated from it stay untouched.
func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	return s.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := tx.Templates().Get(ctx, id)
		if err != nil {
			return err
		}
		if t.IsDeleted() {
			return apperrors.NotFound("template", nil)
		}
		if !authz.ActsFor(actor, t.ProfessionalID) {
			return apperrors.Forbidden("template belongs to another professional")
		}
		if err := tx.Templates().Delete(ctx, id); err != nil {
			return err
		}
		return s.auditor.WithRepo(tx.Audit()).Log(ctx, actor.ID, model.AuditActionDelete, model.AuditEntityTemplate, id, nil)
	})
}
