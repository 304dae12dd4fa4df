package handlers

import (
	"net/http"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// Statistics returns per-lot and overall occupancy for the admin dashboard.
func Statistics(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Reconciler.Statistics(r.Context())
		if err != nil {
			writeServiceError(w, r, svc.logger(), err)
			return
		}
		if stats.Lots == nil {
			stats.Lots = []models.LotStatistics{}
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
