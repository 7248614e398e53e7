// Package slot generates slots from templates and manages their lifecycle
// outside of booking.
package slot

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
	"github.com/jwalitptl/booking-engine/internal/recurrence"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	"github.com/jwalitptl/booking-engine/internal/service/authz"
	"github.com/jwalitptl/booking-engine/internal/timezone"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/validator"
)

type Config struct {
	MaxSpanDays     int
	DefaultTimezone string
}

type Service struct {
	store           repository.Store
	locker          lock.Locker
	expander        *recurrence.Expander
	auditor         *audit.Service
	validate        *validator.Validator
	metrics         *metrics.Metrics
	logger          *logger.Logger
	tracer          trace.Tracer
	defaultTimezone string
	now             func() time.Time
}

func NewService(store repository.Store, locker lock.Locker, auditor *audit.Service, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = timezone.DefaultTimezone
	}
	return &Service{
		store:           store,
		locker:          locker,
		expander:        recurrence.NewExpander(cfg.MaxSpanDays),
		auditor:         auditor,
		validate:        validator.New(),
		metrics:         m,
		logger:          log,
		tracer:          otel.Tracer("github.com/jwalitptl/booking-engine/internal/service/slot"),
		defaultTimezone: cfg.DefaultTimezone,
		now:             time.Now,
	}
}

// WithClock overrides the clock used for notice and advance windows.
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

// Generate materializes the template's intervals for the inclusive civil date
// range. Running it twice over the same range creates nothing new. Candidates
// overlapping live slots of the professional are skipped and reported.
func (s *Service) Generate(ctx context.Context, actor model.Actor, templateID uuid.UUID, startDate, endDate time.Time) (result *model.GenerateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "slot.Generate", trace.WithAttributes(
		attribute.String("template.id", templateID.String()),
		attribute.String("range.start", startDate.Format(time.DateOnly)),
		attribute.String("range.end", endDate.Format(time.DateOnly)),
	))
	defer func() { endSpan(span, err) }()

	t, err := s.store.Templates().Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted() {
		return nil, apperrors.NotFound("template", nil)
	}
	if !t.Active {
		return nil, apperrors.InvalidState("template is inactive")
	}
	if !authz.ActsFor(actor, t.ProfessionalID) {
		return nil, apperrors.Forbidden("template belongs to another professional")
	}

	seq, err := s.expander.Expand(t, startDate, endDate)
	if err != nil {
		return nil, err
	}

	result = &model.GenerateResult{TemplateID: t.ID, Created: []*model.Slot{}}
	candidates := s.withinBookingWindow(t, seq, result)
	if len(candidates) == 0 {
		return result, nil
	}

	release, err := s.locker.Acquire(ctx, lock.GenerationKey(t.ProfessionalID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		window := model.Interval{Start: candidates[0].Start, End: candidates[len(candidates)-1].End}
		live, err := tx.Slots().FindOverlapping(txCtx, t.ProfessionalID, window, nil)
		if err != nil {
			return apperrors.Internal(err)
		}

		fresh, existing := splitDuplicates(t.ID, candidates, live)
		result.Duplicates = len(candidates) - len(fresh)

		kept, rejected := conflict.FilterCandidates(existing, fresh)
		result.Skipped += len(rejected)
		result.Conflicts = conflictsWith(live, rejected)

		slots := make([]*model.Slot, 0, len(kept))
		for _, iv := range kept {
			slots = append(slots, newSlot(t.ProfessionalID, &t.ID, t.Timezone, seq.Location(), iv))
		}
		created, err := tx.Slots().Materialize(txCtx, slots)
		if err != nil {
			return err
		}
		result.Duplicates += len(kept) - len(created)
		result.Created = created

		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, model.AuditActionGenerate, model.AuditEntityTemplate, t.ID, &audit.LogOptions{
			Metadata: map[string]interface{}{
				"range_start": startDate.Format(time.DateOnly),
				"range_end":   endDate.Format(time.DateOnly),
				"created":     len(created),
				"duplicates":  result.Duplicates,
				"skipped":     result.Skipped,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SlotsGenerated.WithLabelValues("created").Add(float64(len(result.Created)))
	s.metrics.SlotsGenerated.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	s.metrics.SlotsGenerated.WithLabelValues("skipped").Add(float64(result.Skipped))
	span.SetAttributes(attribute.Int("slots.created", len(result.Created)))

	s.logger.Info("slots generated",
		"template_id", t.ID.String(),
		"created", len(result.Created),
		"duplicates", result.Duplicates,
		"skipped", result.Skipped,
	)
	return result, nil
}

// withinBookingWindow drops intervals violating the template's minimum notice
// or maximum advance, counting them as skipped.
func (s *Service) withinBookingWindow(t *model.AvailabilityTemplate, seq *recurrence.Sequence, result *model.GenerateResult) []model.Interval {
	now := s.now().UTC()
	var earliest, latest time.Time
	if t.Metadata.MinNoticeMinutes > 0 {
		earliest = now.Add(time.Duration(t.Metadata.MinNoticeMinutes) * time.Minute)
	}
	if t.Metadata.MaxAdvanceDays > 0 {
		latest = now.AddDate(0, 0, t.Metadata.MaxAdvanceDays)
	}

	var out []model.Interval
	for iv := range seq.All() {
		if !earliest.IsZero() && iv.Start.Before(earliest) {
			result.Skipped++
			continue
		}
		if !latest.IsZero() && iv.Start.After(latest) {
			result.Skipped++
			continue
		}
		out = append(out, iv)
	}
	return out
}

// splitDuplicates separates candidates already materialized from this
// template and returns the intervals of the other live slots.
func splitDuplicates(templateID uuid.UUID, candidates []model.Interval, live []*model.Slot) (fresh, existing []model.Interval) {
	own := make(map[int64]bool)
	for _, sl := range live {
		if sl.TemplateID != nil && *sl.TemplateID == templateID {
			own[sl.StartTime.UnixNano()] = true
		}
		existing = append(existing, sl.Interval())
	}
	for _, c := range candidates {
		if own[c.Start.UnixNano()] {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, existing
}

func conflictsWith(live []*model.Slot, rejected []model.Interval) []model.Conflict {
	var out []model.Conflict
	seen := make(map[uuid.UUID]bool)
	for _, iv := range rejected {
		for _, sl := range live {
			if seen[sl.ID] || !sl.Interval().Overlaps(iv) {
				continue
			}
			seen[sl.ID] = true
			out = append(out, model.Conflict{
				EntityType: model.EntitySlot,
				ID:         sl.ID,
				Start:      sl.StartTime,
				End:        sl.EndTime,
				Status:     string(sl.Status),
			})
		}
	}
	return out
}

func newSlot(professionalID uuid.UUID, templateID *uuid.UUID, tz string, loc *time.Location, iv model.Interval) *model.Slot {
	return &model.Slot{
		ProfessionalID: professionalID,
		TemplateID:     templateID,
		StartTime:      iv.Start.UTC(),
		EndTime:        iv.End.UTC(),
		LocalStart:     iv.Start.In(loc).Format(timezone.CivilLayout),
		LocalEnd:       iv.End.In(loc).Format(timezone.CivilLayout),
		Timezone:       tz,
		Status:         model.SlotStatusAvailable,
	}
}

// CreateStandalone adds a slot outside any template after checking it against
// the professional's live slots.
func (s *Service) CreateStandalone(ctx context.Context, actor model.Actor, req *model.CreateSlotRequest) (*model.Slot, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	if !authz.ActsFor(actor, req.ProfessionalID) {
		return nil, apperrors.Forbidden("slots can only be created for yourself")
	}
	iv := model.Interval{Start: req.StartTime.UTC(), End: req.EndTime.UTC()}
	if !iv.Valid() {
		return nil, apperrors.InvalidRange("start must be before end")
	}
	tz, loc, _ := timezone.Resolve(req.Timezone, s.defaultTimezone)

	release, err := s.locker.Acquire(ctx, lock.GenerationKey(req.ProfessionalID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	sl := newSlot(req.ProfessionalID, nil, tz, loc, iv)
	sl.Metadata = req.Metadata
	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		res, err := conflict.New(tx).Check(txCtx, conflict.Candidate{ProfessionalID: req.ProfessionalID, Interval: iv}, model.EntitySlot)
		if err != nil {
			return err
		}
		if !res.Valid {
			return apperrors.Conflict("slot overlaps an existing slot", res.Conflicts)
		}
		if err := tx.Slots().Create(txCtx, sl); err != nil {
			return err
		}
		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, model.AuditActionCreate, model.AuditEntitySlot, sl.ID, &audit.LogOptions{Changes: sl})
	})
	if err != nil {
		return nil, err
	}
	return sl, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	return s.store.Slots().Get(ctx, id)
}

func (s *Service) Query(ctx context.Context, filters model.SlotFilters) (*model.SlotPage, error) {
	if filters.From != nil && filters.To != nil && !filters.From.Before(*filters.To) {
		return nil, apperrors.InvalidRange("from must be before to")
	}
	for _, st := range filters.Statuses {
		if !st.Valid() {
			return nil, apperrors.BadRequest("unknown slot status "+string(st), nil)
		}
	}
	filters.Pagination = filters.Pagination.Normalize()

	slots, total, err := s.store.Slots().Query(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &model.SlotPage{
		Slots:    slots,
		Total:    total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	}, nil
}

// Stats counts the professional's non-cancelled slots starting in [from, to).
func (s *Service) Stats(ctx context.Context, professionalID uuid.UUID, from, to *time.Time) (*model.SlotStats, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, apperrors.InvalidRange("from must be before to")
	}
	stats, err := s.store.Slots().Stats(ctx, professionalID, from, to)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return stats, nil
}

func (s *Service) CheckConflicts(ctx context.Context, req *model.ConflictCheckRequest) (*model.ConflictResult, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}
	return conflict.New(s.store).Check(ctx, conflict.Candidate{
		ID:             req.ID,
		ProfessionalID: req.ProfessionalID,
		ClientID:       req.ClientID,
		Interval:       model.Interval{Start: req.StartTime.UTC(), End: req.EndTime.UTC()},
	}, req.EntityType)
}

func (s *Service) Block(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Slot, error) {
	return s.transition(ctx, actor, id, model.SlotStatusBlocked, model.AuditActionBlock, model.SlotStatusAvailable)
}

func (s *Service) Unblock(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Slot, error) {
	return s.transition(ctx, actor, id, model.SlotStatusAvailable, model.AuditActionUnblock, model.SlotStatusBlocked)
}

// Cancel retires an unbooked slot. Booked slots are released by cancelling their appointment.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Slot, error) {
	return s.transition(ctx, actor, id, model.SlotStatusCancelled, model.AuditActionCancel, model.SlotStatusAvailable, model.SlotStatusBlocked)
}

func (s *Service) transition(ctx context.Context, actor model.Actor, id uuid.UUID, next model.SlotStatus, action string, from ...model.SlotStatus) (updated *model.Slot, err error) {
	ctx, span := s.tracer.Start(ctx, "slot.Transition", trace.WithAttributes(
		attribute.String("slot.id", id.String()),
		attribute.String("slot.next_status", string(next)),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.store.Slots().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.ActsFor(actor, current.ProfessionalID) {
		return nil, apperrors.Forbidden("slot belongs to another professional")
	}

	release, err := s.locker.Acquire(ctx, lock.SlotKey(id.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	var prev model.SlotStatus
	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithTx(txCtx, func(tx repository.Repositories) error {
		sl, err := tx.Slots().GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		prev = sl.Status
		if !statusIn(prev, from) || !prev.CanTransition(next) {
			return apperrors.InvalidState("slot is " + string(prev))
		}
		updated, err = tx.Slots().TransitionStatus(txCtx, id, prev, next, model.SlotChange{At: s.now()})
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrStaleState) {
				return apperrors.InvalidState("slot changed concurrently")
			}
			return err
		}
		return s.auditor.WithRepo(tx.Audit()).Log(txCtx, actor.ID, action, model.AuditEntitySlot, id, &audit.LogOptions{
			Changes: audit.Transition{From: string(prev), To: string(next)},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SlotTransitions.WithLabelValues(string(prev), string(next)).Inc()
	return updated, nil
}

func statusIn(s model.SlotStatus, set []model.SlotStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
