package parking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// expirySweepBatch bounds how many lapsed holds one sweep reverts.
const expirySweepBatch = 500

// Engine applies slot state transitions. Every transition is one guarded write,
// so concurrent callers racing on the same slot see exactly one winner.
type Engine struct {
	store    Store
	notifier Notifier
	opts     options
}

// NewEngine creates a lifecycle engine over store that announces changes to notifier.
func NewEngine(store Store, notifier Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		opts:     buildOptions(opts),
	}
}

// HoldDuration returns how long a booking holds a slot.
func (e *Engine) HoldDuration() time.Duration {
	return e.opts.hold
}

// BookSlot reserves an AVAILABLE slot for identityID. A reservation whose hold
// has lapsed counts as AVAILABLE.
func (e *Engine) BookSlot(ctx context.Context, slotID, identityID string) (*models.Slot, error) {
	if identityID == "" {
		return nil, validation("identity is required to book a slot")
	}

	now := e.opts.now()
	slot, err := e.store.UpdateSlotStatus(ctx, slotID,
		models.SlotGuard{
			Statuses:  []models.SlotStatus{models.SlotAvailable},
			ExpiredAt: null.TimeFrom(now),
		},
		models.SlotTransition{
			Status:            models.SlotReserved,
			ReservedBy:        null.StringFrom(identityID),
			ReservationExpiry: null.TimeFrom(now.Add(e.opts.hold)),
			At:                now,
		},
	)
	if errors.Is(err, ErrGuardMismatch) {
		current, err := e.current(ctx, slotID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("slot %s is %s: %w", current.Code, current.Status, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("booking slot: %w", err)
	}

	e.opts.logger.Info("parking.slot.booked", "slot_id", slot.ID, "lot_id", slot.LotID, "identity", identityID)
	e.emit(slot)
	return slot, nil
}

// OccupySlot marks an AVAILABLE or RESERVED slot as OCCUPIED and drops any hold.
func (e *Engine) OccupySlot(ctx context.Context, slotID string) (*models.Slot, error) {
	now := e.opts.now()
	slot, err := e.store.UpdateSlotStatus(ctx, slotID,
		models.SlotGuard{Statuses: []models.SlotStatus{models.SlotAvailable, models.SlotReserved}},
		models.SlotTransition{Status: models.SlotOccupied, At: now},
	)
	if errors.Is(err, ErrGuardMismatch) {
		current, err := e.current(ctx, slotID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("slot %s is already %s: %w", current.Code, current.Status, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("occupying slot: %w", err)
	}

	e.opts.logger.Info("parking.slot.occupied", "slot_id", slot.ID, "lot_id", slot.LotID)
	e.emit(slot)
	return slot, nil
}

// SetSlotStatus overrides a slot's status. Setting RESERVED records actorID as
// the holder with a fresh hold. Setting the status the slot already has changes
// nothing and announces nothing.
func (e *Engine) SetSlotStatus(ctx context.Context, slotID string, status models.SlotStatus, actorID string) (*models.Slot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}
	if status == models.SlotReserved && actorID == "" {
		return nil, validation("actor is required to reserve a slot")
	}

	now := e.opts.now()
	current, err := e.current(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if view := current.Effective(now); view.Status == status {
		return &view, nil
	}

	guard := models.SlotGuard{}
	for _, s := range models.SlotStatuses {
		if s != status {
			guard.Statuses = append(guard.Statuses, s)
		}
	}
	t := models.SlotTransition{Status: status, At: now}
	if status == models.SlotReserved {
		guard.ExpiredAt = null.TimeFrom(now)
		t.ReservedBy = null.StringFrom(actorID)
		t.ReservationExpiry = null.TimeFrom(now.Add(e.opts.hold))
	}

	slot, err := e.store.UpdateSlotStatus(ctx, slotID, guard, t)
	if errors.Is(err, ErrGuardMismatch) {
		// Someone else moved the slot to the requested status first.
		current, err := e.current(ctx, slotID)
		if err != nil {
			return nil, err
		}
		view := current.Effective(now)
		return &view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("setting slot status: %w", err)
	}

	e.opts.logger.Info("parking.slot.status_set", "slot_id", slot.ID, "lot_id", slot.LotID,
		"from", current.Status, "to", slot.Status, "actor", actorID)
	e.emit(slot)
	return slot, nil
}

// ClearSlot releases a RESERVED or OCCUPIED slot. Clearing an AVAILABLE slot
// succeeds without changing it.
func (e *Engine) ClearSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	now := e.opts.now()
	slot, err := e.store.UpdateSlotStatus(ctx, slotID,
		models.SlotGuard{Statuses: []models.SlotStatus{models.SlotReserved, models.SlotOccupied}},
		models.SlotTransition{Status: models.SlotAvailable, At: now},
	)
	if errors.Is(err, ErrGuardMismatch) {
		return e.current(ctx, slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("clearing slot: %w", err)
	}

	e.opts.logger.Info("parking.slot.cleared", "slot_id", slot.ID, "lot_id", slot.LotID)
	e.emit(slot)
	return slot, nil
}

// GetSlot returns a slot as of now.
func (e *Engine) GetSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	slot, err := e.current(ctx, slotID)
	if err != nil {
		return nil, err
	}
	view := slot.Effective(e.opts.now())
	return &view, nil
}

// ListSlots returns every slot of a lot as of now, ordered by code.
func (e *Engine) ListSlots(ctx context.Context, lotID string) ([]models.Slot, error) {
	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("getting lot: %w", err)
	}
	if lot == nil {
		return nil, notFound("lot", lotID)
	}

	slots, err := e.store.ListSlotsByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}

	now := e.opts.now()
	for i := range slots {
		slots[i] = slots[i].Effective(now)
	}
	sortNatural(slots)
	return slots, nil
}

// ExpireReservations reverts RESERVED slots whose hold has lapsed to AVAILABLE
// and returns how many it reverted. A slot rebooked or cleared concurrently is skipped.
func (e *Engine) ExpireReservations(ctx context.Context) (int, error) {
	now := e.opts.now()
	expired, err := e.store.ListExpiredReservations(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}

	reverted := 0
	for _, s := range expired {
		if err := ctx.Err(); err != nil {
			return reverted, err
		}

		slot, err := e.store.UpdateSlotStatus(ctx, s.ID,
			models.SlotGuard{ExpiredAt: null.TimeFrom(now)},
			models.SlotTransition{Status: models.SlotAvailable, At: now},
		)
		if errors.Is(err, ErrGuardMismatch) {
			continue
		}
		if err != nil {
			return reverted, fmt.Errorf("expiring slot %s: %w", s.ID, err)
		}

		reverted++
		e.opts.logger.Info("parking.reservation.expired", "slot_id", slot.ID, "lot_id", slot.LotID,
			"reserved_by", s.ReservedBy.String)
		e.emit(slot)
	}

	if reverted > 0 {
		e.opts.metrics.ReservationsExpired(reverted)
	}
	return reverted, nil
}

func (e *Engine) current(ctx context.Context, slotID string) (*models.Slot, error) {
	slot, err := e.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("getting slot: %w", err)
	}
	if slot == nil {
		return nil, notFound("slot", slotID)
	}
	return slot, nil
}

func (e *Engine) emit(slot *models.Slot) {
	e.opts.metrics.SlotTransitioned(slot.Status)
	e.notifier.SlotUpdated(NewSlotEvent(slot))
}
