package model

import (
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntitySlot        EntityType = "slot"
	EntityAppointment EntityType = "appointment"
)

// Conflict describes one existing entity overlapping a candidate interval.
type Conflict struct {
	EntityType EntityType `json:"entity_type"`
	ID         uuid.UUID  `json:"id"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Status     string     `json:"status"`
}

type ConflictResult struct {
	Valid     bool       `json:"valid"`
	Conflicts []Conflict `json:"conflicts"`
}

type ConflictCheckRequest struct {
	ID             *uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID  `json:"professional_id" validate:"required"`
	ClientID       *uuid.UUID `json:"client_id"`
	StartTime      time.Time  `json:"start_time" validate:"required"`
	EndTime        time.Time  `json:"end_time" validate:"required"`
	EntityType     EntityType `json:"entity_type" validate:"required,oneof=slot appointment"`
}
