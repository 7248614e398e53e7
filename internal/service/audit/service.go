package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/repository"
)

type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithRepo returns a service writing through repo, typically a transaction's audit repository.
func (s *Service) WithRepo(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: s.now}
}

type LogOptions struct {
	Changes  interface{}
	Metadata interface{}
}

// Log creates an audit log entry
func (s *Service) Log(ctx context.Context, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) error {
	var changes, metadata json.RawMessage
	var err error

	if opts != nil {
		if opts.Changes != nil {
			if changes, err = json.Marshal(opts.Changes); err != nil {
				return fmt.Errorf("failed to marshal audit changes: %w", err)
			}
		}
		if opts.Metadata != nil {
			if metadata, err = json.Marshal(opts.Metadata); err != nil {
				return fmt.Errorf("failed to marshal audit metadata: %w", err)
			}
		}
	}

	log := &model.AuditLog{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    changes,
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
	}
	return s.repo.Create(ctx, log)
}

func (s *Service) List(ctx context.Context, filters model.AuditFilters) ([]*model.AuditLog, error) {
	if filters.Limit <= 0 || filters.Limit > model.MaxPageSize {
		filters.Limit = model.DefaultPageSize
	}
	return s.repo.List(ctx, filters)
}

// Transition is the changes payload recorded for a status change.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}
