package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/storage/models"
)

// Store bundles the lot and slot repositories over a single connection or transaction.
// It implements parking.Store.
type Store struct {
	*LotRepository
	*SlotRepository

	db *DB
	tx *sql.Tx
}

var _ parking.Store = (*Store)(nil)

// NewStore creates a store bound to the database connection pool.
func NewStore(db *DB) *Store {
	return &Store{
		LotRepository:  NewLotRepository(db),
		SlotRepository: NewSlotRepository(db),
		db:             db,
	}
}

func (s *Store) bind(tx *sql.Tx) *Store {
	return &Store{
		LotRepository:  NewLotRepository(tx),
		SlotRepository: NewSlotRepository(tx),
		db:             s.db,
		tx:             tx,
	}
}

// Atomic runs fn against a store bound to one transaction. The transaction commits
// when fn returns nil and rolls back otherwise. Calls on a store that is already
// inside a transaction join it.
func (s *Store) Atomic(ctx context.Context, fn func(tx parking.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(s.bind(tx))
	})
}

// UpdateSlotStatus applies a guarded status write and reads the row back inside
// one transaction, so the returned slot is exactly the state that was written.
func (s *Store) UpdateSlotStatus(ctx context.Context, id string, guard models.SlotGuard, t models.SlotTransition) (*models.Slot, error) {
	if s.tx != nil {
		return s.SlotRepository.UpdateSlotStatus(ctx, id, guard, t)
	}

	var slot *models.Slot
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		slot, err = NewSlotRepository(tx).UpdateSlotStatus(ctx, id, guard, t)
		return err
	})
	return slot, err
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}
