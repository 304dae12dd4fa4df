package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/parking-reservation/backend/internal/storage/models"
)

const slotColumns = `id, lot_id, code, status, reserved_by, reservation_expiry, version, created_at, updated_at`

// SlotRepository provides data access for parking slots.
type SlotRepository struct {
	BaseRepository
}

// NewSlotRepository creates a new slot repository.
func NewSlotRepository(q Queryable) *SlotRepository {
	return &SlotRepository{
		BaseRepository: NewBaseRepository(q),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner, slot *models.Slot) error {
	return row.Scan(
		&slot.ID, &slot.LotID, &slot.Code, &slot.Status,
		&slot.ReservedBy, &slot.ReservationExpiry, &slot.Version,
		&slot.CreatedAt, &slot.UpdatedAt,
	)
}

// InsertSlots inserts slots in order, assigning IDs, versions and timestamps.
// Slots inserted together get strictly increasing creation times so that
// creation order survives a round trip through the database.
func (r *SlotRepository) InsertSlots(ctx context.Context, slots []models.Slot) error {
	now := r.Now()
	for i := range slots {
		s := &slots[i]
		s.ID = GenerateID()
		s.Version = 1
		s.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		s.UpdatedAt = s.CreatedAt
		if s.Status == "" {
			s.Status = models.SlotAvailable
		}

		_, err := r.Q().ExecContext(ctx, `
			INSERT INTO slots (`+slotColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			s.ID, s.LotID, s.Code, s.Status, s.ReservedBy, s.ReservationExpiry,
			s.Version, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting slot %s: %w", s.Code, err)
		}
	}

	return nil
}

// GetSlot retrieves a slot by its ID. It returns nil, nil when the slot does not exist.
func (r *SlotRepository) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	slot := &models.Slot{}

	err := scanSlot(r.Q().QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id), slot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying slot: %w", err)
	}

	return slot, nil
}

// ListSlotsByLot retrieves all slots of a lot in creation order.
func (r *SlotRepository) ListSlotsByLot(ctx context.Context, lotID string) ([]models.Slot, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE lot_id = ?
		ORDER BY created_at, rowid
	`, lotID)
	if err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	defer rows.Close()

	return scanSlots(rows)
}

// ListExpiredReservations retrieves RESERVED slots whose hold expired at or before now.
func (r *SlotRepository) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Slot, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.Q().QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'RESERVED' AND reservation_expiry <= ?
		ORDER BY reservation_expiry
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired reservations: %w", err)
	}
	defer rows.Close()

	return scanSlots(rows)
}

func scanSlots(rows *sql.Rows) ([]models.Slot, error) {
	slots := []models.Slot{}
	for rows.Next() {
		var slot models.Slot
		if err := scanSlot(rows, &slot); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// CountSlots returns the slot counts of a lot as of now.
func (r *SlotRepository) CountSlots(ctx context.Context, lotID string, now time.Time) (models.SlotCounts, error) {
	var c models.SlotCounts

	err := r.Q().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE
		           WHEN status = 'AVAILABLE' THEN 1
		           WHEN status = 'RESERVED' AND reservation_expiry <= ? THEN 1
		           ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'RESERVED' AND reservation_expiry > ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'OCCUPIED' THEN 1 ELSE 0 END), 0)
		FROM slots WHERE lot_id = ?
	`, now, now, lotID).Scan(&c.Total, &c.Available, &c.Reserved, &c.Occupied)
	if err != nil {
		return c, fmt.Errorf("counting slots: %w", err)
	}

	return c, nil
}

// UpdateSlotStatus writes t to the slot only if its current state satisfies guard.
// The check and the write are one UPDATE statement; a slot that does not match
// yields ErrGuardMismatch and is left untouched. The updated row is returned.
func (r *SlotRepository) UpdateSlotStatus(ctx context.Context, id string, guard models.SlotGuard, t models.SlotTransition) (*models.Slot, error) {
	var conds []string
	args := []any{t.Status, t.ReservedBy, t.ReservationExpiry, t.At, id}

	if len(guard.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(guard.Statuses))+")")
		for _, s := range guard.Statuses {
			args = append(args, s)
		}
	}
	if guard.ExpiredAt.Valid {
		conds = append(conds, "(status = 'RESERVED' AND reservation_expiry <= ?)")
		args = append(args, guard.ExpiredAt)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("updating slot %s: empty guard", id)
	}

	result, err := r.Q().ExecContext(ctx, `
		UPDATE slots SET
			status = ?, reserved_by = ?, reservation_expiry = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND (`+strings.Join(conds, " OR ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating slot status: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, ErrGuardMismatch
	}

	slot, err := r.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}

	return slot, nil
}

// DeleteAvailableSlots deletes the given slots, skipping any that are not AVAILABLE
// as of now. A reservation whose hold lapsed at or before now counts as AVAILABLE.
// It returns the number of rows removed.
func (r *SlotRepository) DeleteAvailableSlots(ctx context.Context, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := r.Q().ExecContext(ctx, `
		DELETE FROM slots
		WHERE (status = 'AVAILABLE' OR (status = 'RESERVED' AND reservation_expiry <= ?))
		  AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting slots: %w", err)
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// DeleteSlotsByLot deletes every slot of a lot and returns how many were removed.
func (r *SlotRepository) DeleteSlotsByLot(ctx context.Context, lotID string) (int, error) {
	result, err := r.Q().ExecContext(ctx, "DELETE FROM slots WHERE lot_id = ?", lotID)
	if err != nil {
		return 0, fmt.Errorf("deleting lot slots: %w", err)
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}
