package parking

import (
	"github.com/parking-reservation/backend/internal/storage/models"
)

// SlotEvent describes an observable slot status change.
type SlotEvent struct {
	SlotID     string            `json:"slot_id"`
	LotID      string            `json:"lot_id"`
	Code       string            `json:"code"`
	Status     models.SlotStatus `json:"status"`
	ReservedBy string            `json:"reserved_by,omitempty"`
	// Version is the slot's version after the change; observers use it to
	// discard events that arrive out of order.
	Version int64 `json:"version"`
}

// LotEvent describes a change to a lot's definition or slot population.
type LotEvent struct {
	LotID          string `json:"lot_id"`
	Name           string `json:"name,omitempty"`
	Capacity       int    `json:"capacity"`
	TotalSlots     int    `json:"total_slots"`
	AvailableSlots int    `json:"available_slots"`
	// RemovedSlots lists the slots a shrink deleted.
	RemovedSlots []string `json:"removed_slots,omitempty"`
	Deleted      bool     `json:"deleted,omitempty"`
}

// Notifier receives change events after they are committed.
// Implementations must not block the caller.
//
// SlotUpdated reports a status transition of an existing slot. Slots created or
// removed by the reconciler do not produce slot events; each such change is
// reported as one LotUpdated carrying the new counts and any removed slot ids.
type Notifier interface {
	SlotUpdated(SlotEvent)
	LotUpdated(LotEvent)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) SlotUpdated(SlotEvent) {}
func (NopNotifier) LotUpdated(LotEvent)   {}

// NewSlotEvent builds the event for the given post-change slot.
func NewSlotEvent(slot *models.Slot) SlotEvent {
	return SlotEvent{
		SlotID:     slot.ID,
		LotID:      slot.LotID,
		Code:       slot.Code,
		Status:     slot.Status,
		ReservedBy: slot.ReservedBy.String,
		Version:    slot.Version,
	}
}
