package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// LotRepository provides data access for parking lots.
type LotRepository struct {
	BaseRepository
}

// NewLotRepository creates a new lot repository.
func NewLotRepository(q Queryable) *LotRepository {
	return &LotRepository{
		BaseRepository: NewBaseRepository(q),
	}
}

// InsertLot inserts a new lot, assigning its ID and timestamps.
func (r *LotRepository) InsertLot(ctx context.Context, lot *models.Lot) error {
	lot.ID = GenerateID()
	lot.CreatedAt = r.Now()
	lot.UpdatedAt = lot.CreatedAt

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO lots (id, name, capacity, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, lot.ID, lot.Name, lot.Capacity, lot.Description, lot.CreatedAt, lot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting lot: %w", err)
	}

	return nil
}

// GetLot retrieves a lot by its ID. It returns nil, nil when the lot does not exist.
func (r *LotRepository) GetLot(ctx context.Context, id string) (*models.Lot, error) {
	lot := &models.Lot{}

	err := r.Q().QueryRowContext(ctx, `
		SELECT id, name, capacity, description, created_at, updated_at
		FROM lots WHERE id = ?
	`, id).Scan(
		&lot.ID, &lot.Name, &lot.Capacity, &lot.Description, &lot.CreatedAt, &lot.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying lot: %w", err)
	}

	return lot, nil
}

// ListLotsWithCounts retrieves every lot with its total and available slot counts.
// Reservations that expired at or before now count as available.
func (r *LotRepository) ListLotsWithCounts(ctx context.Context, now time.Time) ([]models.LotWithCounts, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT l.id, l.name, l.capacity, l.description, l.created_at, l.updated_at,
		       COUNT(s.id),
		       COALESCE(SUM(CASE
		           WHEN s.status = 'AVAILABLE' THEN 1
		           WHEN s.status = 'RESERVED' AND s.reservation_expiry <= ? THEN 1
		           ELSE 0 END), 0)
		FROM lots l
		LEFT JOIN slots s ON s.lot_id = l.id
		GROUP BY l.id
		ORDER BY l.created_at, l.name
	`, now)
	if err != nil {
		return nil, fmt.Errorf("querying lots: %w", err)
	}
	defer rows.Close()

	lots := []models.LotWithCounts{}
	for rows.Next() {
		var l models.LotWithCounts
		if err := rows.Scan(
			&l.ID, &l.Name, &l.Capacity, &l.Description, &l.CreatedAt, &l.UpdatedAt,
			&l.TotalSlots, &l.AvailableSlots,
		); err != nil {
			return nil, fmt.Errorf("scanning lot: %w", err)
		}
		lots = append(lots, l)
	}

	return lots, rows.Err()
}

// UpdateLot writes the lot's name, capacity and description.
func (r *LotRepository) UpdateLot(ctx context.Context, lot *models.Lot) error {
	lot.UpdatedAt = r.Now()

	result, err := r.Q().ExecContext(ctx, `
		UPDATE lots SET name = ?, capacity = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, lot.Name, lot.Capacity, lot.Description, lot.UpdatedAt, lot.ID)
	if err != nil {
		return fmt.Errorf("updating lot: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
	}

	return nil
}

// DeleteLot removes a lot by ID. Owned slots must be removed first.
func (r *LotRepository) DeleteLot(ctx context.Context, id string) error {
	result, err := r.Q().ExecContext(ctx, "DELETE FROM lots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting lot: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}

	return nil
}

// Statistics computes per-lot and overall occupancy as of now.
func (r *LotRepository) Statistics(ctx context.Context, now time.Time) (*models.Statistics, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT l.id, l.name,
		       COUNT(s.id),
		       COALESCE(SUM(CASE WHEN s.status = 'OCCUPIED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN s.status = 'RESERVED' AND s.reservation_expiry > ? THEN 1 ELSE 0 END), 0)
		FROM lots l
		LEFT JOIN slots s ON s.lot_id = l.id
		GROUP BY l.id
		ORDER BY l.created_at, l.name
	`, now)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	stats := &models.Statistics{Lots: []models.LotStatistics{}}
	for rows.Next() {
		var ls models.LotStatistics
		if err := rows.Scan(&ls.LotID, &ls.LotName, &ls.TotalSlots, &ls.OccupiedSlots, &ls.ReservedSlots); err != nil {
			return nil, fmt.Errorf("scanning statistics: %w", err)
		}
		ls.AvailableSlots = ls.TotalSlots - ls.OccupiedSlots - ls.ReservedSlots
		ls.OccupancyPercentage = models.OccupancyPercentage(ls.OccupiedSlots, ls.TotalSlots)
		stats.Lots = append(stats.Lots, ls)

		stats.Overall.TotalSlots += ls.TotalSlots
		stats.Overall.TotalOccupied += ls.OccupiedSlots
		stats.Overall.TotalReserved += ls.ReservedSlots
		stats.Overall.TotalAvailable += ls.AvailableSlots
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Overall.OccupancyPercentage = models.OccupancyPercentage(stats.Overall.TotalOccupied, stats.Overall.TotalSlots)
	return stats, nil
}
