// Package parking implements the slot lifecycle engine and the lot capacity reconciler.
//
// The package owns the rules; persistence and change delivery are collaborators
// reached through the Store and Notifier interfaces declared here.
package parking

import (
	"context"
	"errors"
	"time"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// ErrGuardMismatch is returned by SlotStore.UpdateSlotStatus when the slot's
// current state does not satisfy the guard. It never escapes the package.
var ErrGuardMismatch = errors.New("slot state changed")

// LotStore persists lot records.
type LotStore interface {
	InsertLot(ctx context.Context, lot *models.Lot) error
	// GetLot returns nil, nil when the lot does not exist.
	GetLot(ctx context.Context, id string) (*models.Lot, error)
	ListLotsWithCounts(ctx context.Context, now time.Time) ([]models.LotWithCounts, error)
	UpdateLot(ctx context.Context, lot *models.Lot) error
	DeleteLot(ctx context.Context, id string) error
	Statistics(ctx context.Context, now time.Time) (*models.Statistics, error)
}

// SlotStore persists slot records.
type SlotStore interface {
	InsertSlots(ctx context.Context, slots []models.Slot) error
	// GetSlot returns nil, nil when the slot does not exist.
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
	ListSlotsByLot(ctx context.Context, lotID string) ([]models.Slot, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Slot, error)
	CountSlots(ctx context.Context, lotID string, now time.Time) (models.SlotCounts, error)
	// UpdateSlotStatus must check the guard and write the transition atomically,
	// returning a guard-mismatch error when the slot's current state does not match.
	UpdateSlotStatus(ctx context.Context, id string, guard models.SlotGuard, t models.SlotTransition) (*models.Slot, error)
	DeleteAvailableSlots(ctx context.Context, ids []string, now time.Time) (int, error)
	DeleteSlotsByLot(ctx context.Context, lotID string) (int, error)
}

// Store is the persistence port used by the engine and the reconciler.
type Store interface {
	LotStore
	SlotStore
	// Atomic runs fn inside a single transaction.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
