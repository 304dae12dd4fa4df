package models

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// SlotStatus is the lifecycle state of a parking slot.
type SlotStatus string

// Slot status constants
const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotReserved  SlotStatus = "RESERVED"
	SlotOccupied  SlotStatus = "OCCUPIED"
)

// SlotStatuses lists every valid status.
var SlotStatuses = []SlotStatus{SlotAvailable, SlotReserved, SlotOccupied}

// Valid reports whether s is one of the three known statuses.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotReserved, SlotOccupied:
		return true
	}
	return false
}

// Slot represents one bookable unit within a lot.
// ReservedBy and ReservationExpiry are set only while Status is RESERVED.
type Slot struct {
	ID                string      `json:"id"`
	LotID             string      `json:"lot_id"`
	Code              string      `json:"code"`
	Status            SlotStatus  `json:"status"`
	ReservedBy        null.String `json:"reserved_by"`
	ReservationExpiry null.Time   `json:"reservation_expiry"`
	Version           int64       `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// HoldExpired reports whether the slot is RESERVED with a hold that lapsed at or before now.
func (s *Slot) HoldExpired(now time.Time) bool {
	return s.Status == SlotReserved && s.ReservationExpiry.Valid && !s.ReservationExpiry.Time.After(now)
}

// Effective returns the slot as readers should see it at now: an expired hold reads as AVAILABLE.
func (s Slot) Effective(now time.Time) Slot {
	if s.HoldExpired(now) {
		s.Status = SlotAvailable
		s.ReservedBy = null.String{}
		s.ReservationExpiry = null.Time{}
	}
	return s
}

// SlotGuard selects which current states a conditional update may act on.
// A slot matches when its status is in Statuses, or when ExpiredAt is set and the
// slot holds a reservation that expired at or before ExpiredAt.
type SlotGuard struct {
	Statuses  []SlotStatus
	ExpiredAt null.Time
}

// SlotTransition is the target state written by a conditional update.
type SlotTransition struct {
	Status            SlotStatus
	ReservedBy        null.String
	ReservationExpiry null.Time
	At                time.Time
}

// NewSlot describes a slot to be inserted by bulk creation.
type NewSlot struct {
	Code   string     `json:"code"`
	Status SlotStatus `json:"status,omitempty"`
}
