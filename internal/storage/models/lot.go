// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Lot represents a parking facility with a target slot capacity.
type Lot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Capacity    int       `json:"capacity"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SlotCounts summarizes the slot population of a lot.
// Available includes reservations whose hold has expired.
type SlotCounts struct {
	Total     int `json:"total_slots"`
	Available int `json:"available_slots"`
	Reserved  int `json:"reserved_slots"`
	Occupied  int `json:"occupied_slots"`
}

// LotWithCounts is a lot together with its current slot counts for list views.
type LotWithCounts struct {
	Lot
	TotalSlots     int `json:"total_slots"`
	AvailableSlots int `json:"available_slots"`
}

// LotStatistics is the per-lot occupancy breakdown used by the admin dashboard.
type LotStatistics struct {
	LotID               string `json:"lot_id"`
	LotName             string `json:"lot_name"`
	TotalSlots          int    `json:"total_slots"`
	OccupiedSlots       int    `json:"occupied_slots"`
	ReservedSlots       int    `json:"reserved_slots"`
	AvailableSlots      int    `json:"available_slots"`
	OccupancyPercentage int    `json:"occupancy_percentage"`
}

// OverallStatistics aggregates occupancy across every lot.
type OverallStatistics struct {
	TotalSlots          int `json:"total_slots"`
	TotalOccupied       int `json:"total_occupied"`
	TotalReserved       int `json:"total_reserved"`
	TotalAvailable      int `json:"total_available"`
	OccupancyPercentage int `json:"occupancy_percentage"`
}

// Statistics is the full admin statistics report.
type Statistics struct {
	Lots    []LotStatistics   `json:"lot_statistics"`
	Overall OverallStatistics `json:"overall_statistics"`
}

// OccupancyPercentage returns occupied/total rounded to the nearest percent.
func OccupancyPercentage(occupied, total int) int {
	if total <= 0 {
		return 0
	}
	return (occupied*100 + total/2) / total
}
