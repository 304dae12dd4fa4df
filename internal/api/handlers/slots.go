package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/parking-reservation/backend/internal/api/middleware"
	"github.com/parking-reservation/backend/internal/auth"
	"github.com/parking-reservation/backend/internal/storage/models"
)

// AddSlotsRequest is the body of a bulk slot creation.
type AddSlotsRequest struct {
	Slots []models.NewSlot `json:"slots"`
}

// UpdateSlotRequest is the body of an admin status change.
type UpdateSlotRequest struct {
	Status models.SlotStatus `json:"status"`
}

// ListLotSlots returns the slots of a lot in code order.
func ListLotSlots(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slots, err := svc.Engine.ListSlots(r.Context(), mux.Vars(r)["lotId"])
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		if slots == nil {
			slots = []models.Slot{}
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

// AddSlots appends slots with explicit codes to a lot.
func AddSlots(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddSlotsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		created, err := svc.Reconciler.AddSlots(r.Context(), mux.Vars(r)["lotId"], req.Slots)
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// GetSlot returns a single slot.
func GetSlot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := svc.Engine.GetSlot(r.Context(), mux.Vars(r)["slotId"])
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}

// BookSlot reserves an AVAILABLE slot for the caller.
func BookSlot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id == nil {
			middleware.WriteError(w, http.StatusUnauthorized, middleware.ErrUnauthorized, "Authentication required")
			return
		}

		slot, err := svc.Engine.BookSlot(r.Context(), mux.Vars(r)["slotId"], id.ID)
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}

// OccupySlot marks a slot OCCUPIED.
func OccupySlot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := svc.Engine.OccupySlot(r.Context(), mux.Vars(r)["slotId"])
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}

// ClearSlot returns a slot to AVAILABLE.
func ClearSlot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := svc.Engine.ClearSlot(r.Context(), mux.Vars(r)["slotId"])
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}

// UpdateSlotStatus sets a slot's status directly.
func UpdateSlotStatus(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var actor string
		if id := auth.FromContext(r.Context()); id != nil {
			actor = id.ID
		}

		slot, err := svc.Engine.SetSlotStatus(r.Context(), mux.Vars(r)["slotId"], req.Status, actor)
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, slot)
	}
}
