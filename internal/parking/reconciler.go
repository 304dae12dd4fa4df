package parking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// MaxCapacity bounds the capacity of a single lot.
const MaxCapacity = 10000

// LotInput describes a lot to create.
type LotInput struct {
	Name        string  `json:"name"`
	Capacity    int     `json:"capacity"`
	Description *string `json:"description,omitempty"`
}

// LotUpdate describes changes to a lot. Nil fields are left as they are.
type LotUpdate struct {
	Name        *string `json:"name,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ResizeResult is a lot after an update together with its slot counts.
type ResizeResult struct {
	Lot            *models.Lot `json:"lot"`
	TotalSlots     int         `json:"total_slots"`
	AvailableSlots int         `json:"available_slots"`
}

// Reconciler keeps each lot's slot population aligned with its capacity.
// Changes to one lot are serialized and applied in a single transaction.
type Reconciler struct {
	store    Store
	notifier Notifier
	opts     options
	locks    *lotLocks
}

// NewReconciler creates a capacity reconciler over store that announces changes to notifier.
func NewReconciler(store Store, notifier Notifier, opts ...Option) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Reconciler{
		store:    store,
		notifier: notifier,
		opts:     buildOptions(opts),
		locks:    newLotLocks(),
	}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validation("name is required")
	}
	return name, nil
}

func validateCapacity(capacity int) error {
	if capacity < 0 || capacity > MaxCapacity {
		return validation("capacity must be between 0 and %d", MaxCapacity)
	}
	return nil
}

// CreateLot creates a lot and its capacity worth of AVAILABLE slots coded
// "<first word of name>-<i>".
func (r *Reconciler) CreateLot(ctx context.Context, in LotInput) (*models.Lot, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateCapacity(in.Capacity); err != nil {
		return nil, err
	}

	lot := &models.Lot{
		Name:        name,
		Capacity:    in.Capacity,
		Description: in.Description,
	}

	err = r.store.Atomic(ctx, func(tx Store) error {
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}
		prefix := firstToken(name)
		slots := make([]models.Slot, 0, in.Capacity)
		for i := 1; i <= in.Capacity; i++ {
			slots = append(slots, models.Slot{
				LotID:  lot.ID,
				Code:   slotCode(prefix, i),
				Status: models.SlotAvailable,
			})
		}
		return tx.InsertSlots(ctx, slots)
	})
	if err != nil {
		return nil, fmt.Errorf("creating lot: %w", err)
	}

	r.opts.logger.Info("parking.lot.created", "lot_id", lot.ID, "name", lot.Name, "capacity", lot.Capacity)
	r.notifier.LotUpdated(LotEvent{
		LotID:          lot.ID,
		Name:           lot.Name,
		Capacity:       lot.Capacity,
		TotalSlots:     lot.Capacity,
		AvailableSlots: lot.Capacity,
	})
	return lot, nil
}

// ResizeLot applies name and description changes, then reconciles the slot
// population with the new capacity. Growing appends "<sanitized name>-<i>" slots.
// Shrinking removes AVAILABLE slots, highest index first; when there are not
// enough of them it fails with a *CapacityConflictError and leaves slots and
// capacity untouched. Name and description changes persist either way.
func (r *Reconciler) ResizeLot(ctx context.Context, lotID string, upd LotUpdate) (*ResizeResult, error) {
	var name string
	if upd.Name != nil {
		n, err := validateName(*upd.Name)
		if err != nil {
			return nil, err
		}
		name = n
	}
	if upd.Capacity != nil {
		if err := validateCapacity(*upd.Capacity); err != nil {
			return nil, err
		}
	}

	unlock := r.locks.lock(lotID)
	defer unlock()

	lot, err := r.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("getting lot: %w", err)
	}
	if lot == nil {
		return nil, notFound("lot", lotID)
	}

	if upd.Name != nil || upd.Description != nil {
		if upd.Name != nil {
			lot.Name = name
		}
		if upd.Description != nil {
			lot.Description = upd.Description
		}
		if err := r.store.UpdateLot(ctx, lot); err != nil {
			return nil, fmt.Errorf("updating lot: %w", err)
		}
	}

	var removed []string
	if upd.Capacity != nil {
		if removed, err = r.reconcile(ctx, lot, *upd.Capacity); err != nil {
			var cce *CapacityConflictError
			if errors.As(err, &cce) {
				r.opts.metrics.CapacityConflict()
				r.opts.logger.Warn("parking.lot.capacity_conflict", "lot_id", lotID,
					"required", cce.Required, "available", cce.Available)
				if upd.Name != nil || upd.Description != nil {
					r.announceLot(ctx, lot)
				}
				return nil, err
			}
			return nil, fmt.Errorf("resizing lot: %w", err)
		}
	}

	counts, err := r.store.CountSlots(ctx, lotID, r.opts.now())
	if err != nil {
		return nil, fmt.Errorf("counting slots: %w", err)
	}

	r.opts.logger.Info("parking.lot.updated", "lot_id", lot.ID, "capacity", lot.Capacity,
		"total_slots", counts.Total, "slots_removed", len(removed))
	ev := lotEvent(lot, counts)
	ev.RemovedSlots = removed
	r.notifier.LotUpdated(ev)
	return &ResizeResult{
		Lot:            lot,
		TotalSlots:     counts.Total,
		AvailableSlots: counts.Available,
	}, nil
}

// reconcile grows or shrinks the slot set of lot to capacity and commits the
// capacity in the same transaction. lot.Capacity is updated only on success.
// It returns the ids of the slots a shrink removed.
func (r *Reconciler) reconcile(ctx context.Context, lot *models.Lot, capacity int) ([]string, error) {
	now := r.opts.now()
	updated := *lot
	var removed []string

	err := r.store.Atomic(ctx, func(tx Store) error {
		slots, err := tx.ListSlotsByLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		current := len(slots)

		switch {
		case capacity > current:
			prefix := sanitizedPrefix(lot.Name)
			grown := make([]models.Slot, 0, capacity-current)
			for i := current + 1; i <= capacity; i++ {
				grown = append(grown, models.Slot{
					LotID:  lot.ID,
					Code:   slotCode(prefix, i),
					Status: models.SlotAvailable,
				})
			}
			if err := tx.InsertSlots(ctx, grown); err != nil {
				return err
			}

		case capacity < current:
			need := current - capacity
			candidates := shrinkCandidates(slots, need, now)
			if len(candidates) < need {
				return &CapacityConflictError{LotID: lot.ID, Required: need, Available: len(candidates)}
			}
			ids := make([]string, len(candidates))
			for i, s := range candidates {
				ids[i] = s.ID
			}
			deleted, err := tx.DeleteAvailableSlots(ctx, ids, now)
			if err != nil {
				return err
			}
			if deleted != need {
				return &CapacityConflictError{LotID: lot.ID, Required: need, Available: deleted}
			}
			removed = ids
		}

		updated.Capacity = capacity
		return tx.UpdateLot(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}

	*lot = updated
	return removed, nil
}

// DeleteLot removes a lot and all of its slots. It fails with ErrConflict while
// any slot is OCCUPIED; RESERVED slots do not block deletion.
func (r *Reconciler) DeleteLot(ctx context.Context, lotID string) error {
	unlock := r.locks.lock(lotID)
	defer unlock()

	var removed int
	err := r.store.Atomic(ctx, func(tx Store) error {
		lot, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return notFound("lot", lotID)
		}

		counts, err := tx.CountSlots(ctx, lotID, r.opts.now())
		if err != nil {
			return err
		}
		if counts.Occupied > 0 {
			return fmt.Errorf("lot %s has %d occupied slots: %w", lotID, counts.Occupied, ErrConflict)
		}

		if removed, err = tx.DeleteSlotsByLot(ctx, lotID); err != nil {
			return err
		}
		return tx.DeleteLot(ctx, lotID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("deleting lot: %w", err)
	}

	r.opts.logger.Info("parking.lot.deleted", "lot_id", lotID, "slots_removed", removed)
	r.notifier.LotUpdated(LotEvent{LotID: lotID, Deleted: true})
	return nil
}

// AddSlots appends slots with explicit codes to a lot and grows its capacity by
// the number added. New slots may start AVAILABLE or OCCUPIED.
func (r *Reconciler) AddSlots(ctx context.Context, lotID string, in []models.NewSlot) ([]models.Slot, error) {
	if len(in) == 0 {
		return nil, validation("at least one slot is required")
	}

	seen := make(map[string]bool, len(in))
	slots := make([]models.Slot, 0, len(in))
	for _, ns := range in {
		code := strings.TrimSpace(ns.Code)
		if code == "" {
			return nil, validation("slot code is required")
		}
		if seen[code] {
			return nil, validation("duplicate slot code %q", code)
		}
		seen[code] = true

		status := ns.Status
		if status == "" {
			status = models.SlotAvailable
		}
		if status != models.SlotAvailable && status != models.SlotOccupied {
			return nil, fmt.Errorf("new slot %s with status %q: %w", code, status, ErrInvalidStatus)
		}
		slots = append(slots, models.Slot{LotID: lotID, Code: code, Status: status})
	}

	unlock := r.locks.lock(lotID)
	defer unlock()

	var lot *models.Lot
	err := r.store.Atomic(ctx, func(tx Store) error {
		var err error
		lot, err = tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return notFound("lot", lotID)
		}
		if lot.Capacity+len(slots) > MaxCapacity {
			return validation("capacity must be between 0 and %d", MaxCapacity)
		}

		existing, err := tx.ListSlotsByLot(ctx, lotID)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if seen[s.Code] {
				return fmt.Errorf("slot code %s already exists in lot: %w", s.Code, ErrConflict)
			}
		}

		if err := tx.InsertSlots(ctx, slots); err != nil {
			return err
		}
		lot.Capacity += len(slots)
		return tx.UpdateLot(ctx, lot)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("adding slots: %w", err)
	}

	r.opts.logger.Info("parking.lot.slots_added", "lot_id", lotID, "count", len(slots), "capacity", lot.Capacity)
	r.announceLot(ctx, lot)
	return slots, nil
}

// ListLots returns every lot with its total and available slot counts.
func (r *Reconciler) ListLots(ctx context.Context) ([]models.LotWithCounts, error) {
	lots, err := r.store.ListLotsWithCounts(ctx, r.opts.now())
	if err != nil {
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	return lots, nil
}

// GetLot returns one lot with its slot counts.
func (r *Reconciler) GetLot(ctx context.Context, lotID string) (*models.LotWithCounts, error) {
	lot, err := r.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("getting lot: %w", err)
	}
	if lot == nil {
		return nil, notFound("lot", lotID)
	}

	counts, err := r.store.CountSlots(ctx, lotID, r.opts.now())
	if err != nil {
		return nil, fmt.Errorf("counting slots: %w", err)
	}

	return &models.LotWithCounts{
		Lot:            *lot,
		TotalSlots:     counts.Total,
		AvailableSlots: counts.Available,
	}, nil
}

// Statistics returns per-lot and overall occupancy.
func (r *Reconciler) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats, err := r.store.Statistics(ctx, r.opts.now())
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	return stats, nil
}

func (r *Reconciler) announceLot(ctx context.Context, lot *models.Lot) {
	counts, err := r.store.CountSlots(ctx, lot.ID, r.opts.now())
	if err != nil {
		r.opts.logger.Warn("parking.lot.count_failed", "lot_id", lot.ID, "error", err)
		return
	}
	r.notifier.LotUpdated(lotEvent(lot, counts))
}

func lotEvent(lot *models.Lot, counts models.SlotCounts) LotEvent {
	return LotEvent{
		LotID:          lot.ID,
		Name:           lot.Name,
		Capacity:       lot.Capacity,
		TotalSlots:     counts.Total,
		AvailableSlots: counts.Available,
	}
}
