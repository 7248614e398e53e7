package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBlocked   SlotStatus = "blocked"
	SlotStatusCancelled SlotStatus = "cancelled"
)

var slotTransitions = map[SlotStatus][]SlotStatus{
	SlotStatusAvailable: {SlotStatusBooked, SlotStatusBlocked, SlotStatusCancelled},
	SlotStatusBooked:    {SlotStatusAvailable},
	SlotStatusBlocked:   {SlotStatusAvailable, SlotStatusCancelled},
}

// CanTransition reports whether a slot may move from one status to another.
// Cancelled is terminal.
func (s SlotStatus) CanTransition(next SlotStatus) bool {
	for _, allowed := range slotTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Live reports whether the slot occupies the professional's calendar.
func (s SlotStatus) Live() bool {
	return s == SlotStatusAvailable || s == SlotStatusBooked
}

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusBooked, SlotStatusBlocked, SlotStatusCancelled:
		return true
	}
	return false
}

// Slot is a concrete bookable interval materialized from a template or created standalone.
type Slot struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ProfessionalID uuid.UUID  `db:"professional_id" json:"professional_id"`
	TemplateID     *uuid.UUID `db:"template_id" json:"template_id,omitempty"`
	StartTime      time.Time  `db:"start_time" json:"start_time"`
	EndTime        time.Time  `db:"end_time" json:"end_time"`
	LocalStart     string     `db:"local_start" json:"local_start"`
	LocalEnd       string     `db:"local_end" json:"local_end"`
	Timezone       string     `db:"timezone" json:"timezone"`
	Status         SlotStatus `db:"status" json:"status"`
	BookedBy       *uuid.UUID `db:"booked_by" json:"booked_by,omitempty"`
	BookedAt       *time.Time `db:"booked_at" json:"booked_at,omitempty"`
	Metadata       JSONMap    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (s *Slot) Interval() Interval {
	return Interval{Start: s.StartTime, End: s.EndTime}
}

// SlotChange is applied together with a status transition.
// Actor and At populate booked_by/booked_at when the target is booked.
type SlotChange struct {
	Actor *uuid.UUID
	At    time.Time
}

type SlotFilters struct {
	ProfessionalID *uuid.UUID
	TemplateID     *uuid.UUID
	From           *time.Time
	To             *time.Time
	Statuses       []SlotStatus
	Pagination
}

type SlotPage struct {
	Slots    []*Slot `json:"slots"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

type SlotStats struct {
	TotalSlots      int     `json:"totalSlots"`
	BookedSlots     int     `json:"bookedSlots"`
	AvailableSlots  int     `json:"availableSlots"`
	UtilizationRate float64 `json:"utilizationRate"`
}

// GenerateResult summarizes one materialization run.
type GenerateResult struct {
	TemplateID uuid.UUID  `json:"template_id"`
	Created    []*Slot    `json:"created"`
	Duplicates int        `json:"duplicates"`
	Skipped    int        `json:"skipped"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
}

type CreateSlotRequest struct {
	ProfessionalID uuid.UUID `json:"professional_id" validate:"required"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Timezone       string    `json:"timezone"`
	Metadata       JSONMap   `json:"metadata"`
}

// NewSlotStats derives the utilization rate as booked over total non-cancelled slots.
func NewSlotStats(total, booked, available int) *SlotStats {
	stats := &SlotStats{
		TotalSlots:     total,
		BookedSlots:    booked,
		AvailableSlots: available,
	}
	if total > 0 {
		stats.UtilizationRate = math.Round(float64(booked)/float64(total)*10000) / 10000
	}
	return stats
}
