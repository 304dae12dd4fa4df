package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/storage/models"
)

// UpdateLotResponse is returned after a lot update.
type UpdateLotResponse struct {
	Message string `json:"message"`
	parking.ResizeResult
}

// ListLots returns every lot with its slot counts.
func ListLots(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lots, err := svc.Reconciler.ListLots(r.Context())
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		if lots == nil {
			lots = []models.LotWithCounts{}
		}
		writeJSON(w, http.StatusOK, lots)
	}
}

// GetLot returns a single lot with its slot counts.
func GetLot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lot, err := svc.Reconciler.GetLot(r.Context(), mux.Vars(r)["lotId"])
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, lot)
	}
}

// CreateLot creates a lot and one AVAILABLE slot per unit of capacity.
func CreateLot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req parking.LotInput
		if !decodeJSON(w, r, &req) {
			return
		}

		lot, err := svc.Reconciler.CreateLot(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusCreated, models.LotWithCounts{
			Lot:            *lot,
			TotalSlots:     lot.Capacity,
			AvailableSlots: lot.Capacity,
		})
	}
}

// UpdateLot renames a lot and reconciles its slots to a new capacity.
func UpdateLot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req parking.LotUpdate
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.Reconciler.ResizeLot(r.Context(), mux.Vars(r)["lotId"], req)
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, UpdateLotResponse{Message: "Lot updated", ResizeResult: *res})
	}
}

// DeleteLot removes a lot and all of its slots unless a slot is occupied.
func DeleteLot(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reconciler.DeleteLot(r.Context(), mux.Vars(r)["lotId"]); err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Parking lot deleted successfully"})
	}
}
