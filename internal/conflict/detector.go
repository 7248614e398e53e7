// Package conflict finds live slots and appointments overlapping a candidate interval.
package conflict

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

// Candidate is the interval being checked. ID, when set, is excluded from the result.
type Candidate struct {
	ID             *uuid.UUID
	ProfessionalID uuid.UUID
	ClientID       *uuid.UUID
	Interval       model.Interval
}

type Detector struct {
	repos repository.Repositories
}

// New binds a detector to repos, which may be a transaction.
func New(repos repository.Repositories) *Detector {
	return &Detector{repos: repos}
}

// Check reports every live entity of the given type overlapping the candidate.
// Slots are matched by professional. Appointments are matched by professional or client.
func (d *Detector) Check(ctx context.Context, c Candidate, entityType model.EntityType) (*model.ConflictResult, error) {
	if !c.Interval.Valid() {
		return nil, apperrors.InvalidRange("start must be before end")
	}

	var conflicts []model.Conflict
	switch entityType {
	case model.EntitySlot:
		slots, err := d.repos.Slots().FindOverlapping(ctx, c.ProfessionalID, c.Interval, c.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		for _, s := range slots {
			conflicts = append(conflicts, model.Conflict{
				EntityType: model.EntitySlot,
				ID:         s.ID,
				Start:      s.StartTime,
				End:        s.EndTime,
				Status:     string(s.Status),
			})
		}
	case model.EntityAppointment:
		appointments, err := d.repos.Appointments().FindOverlapping(ctx, c.ProfessionalID, c.ClientID, c.Interval, c.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		for _, a := range appointments {
			conflicts = append(conflicts, model.Conflict{
				EntityType: model.EntityAppointment,
				ID:         a.ID,
				Start:      a.ScheduledStart,
				End:        a.ScheduledEnd,
				Status:     string(a.Status),
			})
		}
	default:
		return nil, apperrors.BadRequest("unknown entity type "+string(entityType), nil)
	}

	return Result(conflicts), nil
}

// Result wraps conflicts so that Valid is true exactly when there are none.
func Result(conflicts []model.Conflict) *model.ConflictResult {
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	return &model.ConflictResult{Valid: len(conflicts) == 0, Conflicts: conflicts}
}

// FilterCandidates splits candidates into those overlapping none of existing and
// the rest. Order is preserved in both outputs.
func FilterCandidates(existing, candidates []model.Interval) (kept, rejected []model.Interval) {
	sorted := slices.Clone(existing)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	// maxEnd[i] is the latest end among sorted[:i+1].
	maxEnd := make([]time.Time, len(sorted))
	for i, iv := range sorted {
		maxEnd[i] = iv.End
		if i > 0 && maxEnd[i-1].After(iv.End) {
			maxEnd[i] = maxEnd[i-1]
		}
	}

	for _, c := range candidates {
		// n existing intervals start before c ends
		n := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Start.Before(c.End) })
		if n > 0 && maxEnd[n-1].After(c.Start) {
			rejected = append(rejected, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, rejected
}
