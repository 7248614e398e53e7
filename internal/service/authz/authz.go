// Package authz decides which roles may perform which engine actions.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

type Action string

const (
	ActionTemplatesWrite Action = "templates:write"
	ActionSlotsGenerate  Action = "slots:generate"
	ActionSlotsWrite     Action = "slots:write"
	ActionBookingsCreate Action = "bookings:create"
	ActionBookingsUpdate Action = "bookings:update"
	ActionBookingsCancel Action = "bookings:cancel"
	ActionStatsRead      Action = "stats:read"
	ActionAuditRead      Action = "audit:read"
)

type Authorizer interface {
	Permitted(ctx context.Context, actor model.Actor, action Action) (bool, error)
}

// RolePolicy grants each action to a fixed set of roles.
type RolePolicy map[Action][]model.Role

func DefaultPolicy() RolePolicy {
	staff := []model.Role{model.RoleProfessional, model.RoleAdmin}
	everyone := []model.Role{model.RoleClient, model.RoleProfessional, model.RoleAdmin}
	return RolePolicy{
		ActionTemplatesWrite: staff,
		ActionSlotsGenerate:  staff,
		ActionSlotsWrite:     staff,
		ActionBookingsCreate: everyone,
		ActionBookingsUpdate: everyone,
		ActionBookingsCancel: everyone,
		ActionStatsRead:      staff,
		ActionAuditRead:      {model.RoleAdmin},
	}
}

func (p RolePolicy) Permitted(_ context.Context, actor model.Actor, action Action) (bool, error) {
	roles, ok := p[action]
	if !ok {
		return false, fmt.Errorf("unknown action %q", action)
	}
	for _, r := range roles {
		if r == actor.Role {
			return true, nil
		}
	}
	return false, nil
}

// Require returns Forbidden unless actor may perform action.
func Require(ctx context.Context, a Authorizer, actor model.Actor, action Action) error {
	ok, err := a.Permitted(ctx, actor, action)
	if err != nil {
		return apperrors.Internal(err)
	}
	if !ok {
		return apperrors.Forbidden(fmt.Sprintf("%s may not %s", actor.Role, action))
	}
	return nil
}

// ActsFor reports whether actor may act on behalf of ownerID: the owner itself or an admin.
func ActsFor(actor model.Actor, ownerID uuid.UUID) bool {
	return actor.Role == model.RoleAdmin || actor.ID == ownerID
}
