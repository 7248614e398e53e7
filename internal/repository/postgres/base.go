package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/booking-engine/internal/repository"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

// Store binds every repository to one *sqlx.DB and opens transactions on it.
type Store struct {
	db *sqlx.DB
	repos
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, repos: repos{db: db}}
}

// GetDB returns the database instance
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx executes fn within a read-committed transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(repos{db: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repos works over either *sqlx.DB or *sqlx.Tx.
type repos struct {
	db sqlx.ExtContext
}

func (r repos) Templates() repository.TemplateRepository {
	return NewTemplateRepository(r.db)
}

func (r repos) Slots() repository.SlotRepository {
	return NewSlotRepository(r.db)
}

func (r repos) Appointments() repository.AppointmentRepository {
	return NewAppointmentRepository(r.db)
}

func (r repos) Outbox() repository.OutboxRepository {
	return NewOutboxRepository(r.db)
}

func (r repos) Audit() repository.AuditRepository {
	return NewAuditRepository(r.db)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

func isExclusionViolation(err error) bool {
	return pqCode(err) == pqExclusionViolation
}

func notFoundOr(err error, resource, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	return fmt.Errorf("failed to %s %s: %w", action, resource, err)
}
