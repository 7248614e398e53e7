package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id" db:"entity_id"`
	Changes    json.RawMessage `json:"changes,omitempty" db:"changes"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	AuditActionCreate   = "create"
	AuditActionUpdate   = "update"
	AuditActionDelete   = "delete"
	AuditActionBook     = "book"
	AuditActionCancel   = "cancel"
	AuditActionConfirm  = "confirm"
	AuditActionComplete = "complete"
	AuditActionGenerate = "generate"
	AuditActionBlock    = "block"
	AuditActionUnblock  = "unblock"

	AuditEntityTemplate    = "availability_template"
	AuditEntitySlot        = "slot"
	AuditEntityAppointment = "appointment"
)

type AuditFilters struct {
	UserID     *uuid.UUID
	EntityType string
	EntityID   *uuid.UUID
	Limit      int
}
