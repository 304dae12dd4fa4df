package parking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/storage/models"
)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestCreateLotDerivesCodesFromFirstWord(t *testing.T) {
	h := newHarness(t)
	lot := h.createLot(t, "Mall A", 3)

	if lot.ID == "" || lot.Capacity != 3 || lot.Name != "Mall A" {
		t.Fatalf("unexpected lot %+v", lot)
	}
	slots := h.slots(t, lot.ID)
	if got, want := codes(slots), []string{"Mall-1", "Mall-2", "Mall-3"}; !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, s := range slots {
		if s.Status != models.SlotAvailable {
			t.Fatalf("expected AVAILABLE, got %s for %s", s.Status, s.Code)
		}
	}

	events := h.notifier.lotEvents()
	if len(events) != 1 || events[0].LotID != lot.ID || events[0].TotalSlots != 3 {
		t.Fatalf("unexpected lot events %+v", events)
	}
}

func TestCreateLotValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []parking.LotInput{
		{Name: "   ", Capacity: 1},
		{Name: "Depot", Capacity: -1},
		{Name: "Depot", Capacity: parking.MaxCapacity + 1},
	}
	for _, in := range cases {
		if _, err := h.reconciler.CreateLot(ctx, in); !errors.Is(err, parking.ErrValidation) {
			t.Fatalf("input %+v: expected ErrValidation, got %v", in, err)
		}
	}

	lot, err := h.reconciler.CreateLot(ctx, parking.LotInput{Name: "Empty", Capacity: 0})
	if err != nil {
		t.Fatalf("create empty lot: %v", err)
	}
	if n := len(h.slots(t, lot.ID)); n != 0 {
		t.Fatalf("expected no slots, got %d", n)
	}
}

func TestMallLifecycleScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Mall A", 3)
	slot := h.slotByCode(t, lot.ID, "Mall-2")

	booked, err := h.engine.BookSlot(ctx, slot.ID, "user-1")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if booked.Status != models.SlotReserved || booked.ReservedBy.String != "user-1" {
		t.Fatalf("unexpected booked slot %+v", booked)
	}

	occupied, err := h.engine.OccupySlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if occupied.Status != models.SlotOccupied {
		t.Fatalf("expected OCCUPIED, got %s", occupied.Status)
	}

	if err := h.reconciler.DeleteLot(ctx, lot.ID); !errors.Is(err, parking.ErrConflict) {
		t.Fatalf("expected ErrConflict deleting lot with occupied slot, got %v", err)
	}

	cleared, err := h.engine.ClearSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Status != models.SlotAvailable {
		t.Fatalf("expected AVAILABLE, got %s", cleared.Status)
	}

	if err := h.reconciler.DeleteLot(ctx, lot.ID); err != nil {
		t.Fatalf("delete lot: %v", err)
	}
	remaining, err := h.store.ListSlotsByLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 slots, got %d", len(remaining))
	}
	if _, err := h.reconciler.GetLot(ctx, lot.ID); !errors.Is(err, parking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	events := h.notifier.lotEvents()
	if last := events[len(events)-1]; !last.Deleted || last.LotID != lot.ID {
		t.Fatalf("expected lot deleted event, got %+v", last)
	}
}

func TestShrinkScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 5)
	for _, code := range []string{"Depot-1", "Depot-2"} {
		if _, err := h.engine.OccupySlot(ctx, h.slotByCode(t, lot.ID, code).ID); err != nil {
			t.Fatalf("occupy %s: %v", code, err)
		}
	}

	res, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(2)})
	if err != nil {
		t.Fatalf("shrink to 2: %v", err)
	}
	if res.Lot.Capacity != 2 || res.TotalSlots != 2 || res.AvailableSlots != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	slots := h.slots(t, lot.ID)
	if got, want := codes(slots), []string{"Depot-1", "Depot-2"}; !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, s := range slots {
		if s.Status != models.SlotOccupied {
			t.Fatalf("expected remaining slots OCCUPIED, got %s", s.Status)
		}
	}

	_, err = h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(1)})
	if !errors.Is(err, parking.ErrCapacityConflict) {
		t.Fatalf("expected ErrCapacityConflict, got %v", err)
	}
	var cce *parking.CapacityConflictError
	if !errors.As(err, &cce) || cce.Required != 1 || cce.Available != 0 {
		t.Fatalf("unexpected conflict detail %+v", cce)
	}
	if h.metrics.conflicts != 1 {
		t.Fatalf("expected 1 conflict metric, got %d", h.metrics.conflicts)
	}

	got, err := h.reconciler.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.Capacity != 2 || got.TotalSlots != 2 {
		t.Fatalf("expected capacity and slots unchanged, got %+v", got)
	}
}

func TestShrinkRemovesHighestIndexFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 5)
	if _, err := h.engine.OccupySlot(ctx, h.slotByCode(t, lot.ID, "Depot-5").ID); err != nil {
		t.Fatalf("occupy: %v", err)
	}

	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(3)}); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if got, want := codes(h.slots(t, lot.ID)), []string{"Depot-1", "Depot-2", "Depot-5"}; !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestShrinkPrefersIndexedSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 2)

	if _, err := h.reconciler.AddSlots(ctx, lot.ID, []models.NewSlot{{Code: "VIP"}, {Code: "Ramp"}}); err != nil {
		t.Fatalf("add slots: %v", err)
	}
	res, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(1)})
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if res.TotalSlots != 1 {
		t.Fatalf("expected 1 slot, got %d", res.TotalSlots)
	}
	// Both indexed slots go first, then the most recently created unindexed one.
	if got, want := codes(h.slots(t, lot.ID)), []string{"VIP"}; !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestShrinkCountsExpiredHoldsAsAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 2)
	if _, err := h.engine.OccupySlot(ctx, h.slotByCode(t, lot.ID, "Depot-1").ID); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if _, err := h.engine.BookSlot(ctx, h.slotByCode(t, lot.ID, "Depot-2").ID, "user-1"); err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(1)}); !errors.Is(err, parking.ErrCapacityConflict) {
		t.Fatalf("expected ErrCapacityConflict while hold is live, got %v", err)
	}

	h.clock.Advance(parking.DefaultHoldDuration + time.Minute)
	res, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(1)})
	if err != nil {
		t.Fatalf("shrink after expiry: %v", err)
	}
	if res.TotalSlots != 1 || res.Lot.Capacity != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGrowUsesSanitizedName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Mall A", 2)

	res, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(4)})
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if res.TotalSlots != 4 || res.AvailableSlots != 4 || res.Lot.Capacity != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	slots, err := h.store.ListSlotsByLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got, want := codes(slots), []string{"Mall-1", "Mall-2", "MallA-3", "MallA-4"}; !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestResizeAppliesNameEvenWhenShrinkFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 1)
	if _, err := h.engine.OccupySlot(ctx, h.slotByCode(t, lot.ID, "Depot-1").ID); err != nil {
		t.Fatalf("occupy: %v", err)
	}

	_, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{
		Name:        strPtr("North Depot"),
		Description: strPtr("level 2"),
		Capacity:    intPtr(0),
	})
	if !errors.Is(err, parking.ErrCapacityConflict) {
		t.Fatalf("expected ErrCapacityConflict, got %v", err)
	}

	got, err := h.reconciler.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.Name != "North Depot" || got.Description == nil || *got.Description != "level 2" {
		t.Fatalf("expected name and description applied, got %+v", got.Lot)
	}
	if got.Capacity != 1 || got.TotalSlots != 1 {
		t.Fatalf("expected capacity unchanged, got %+v", got)
	}
}

func TestResizeWithoutCapacityKeepsSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 2)

	res, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Name: strPtr("Renamed")})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if res.Lot.Name != "Renamed" || res.Lot.Capacity != 2 || res.TotalSlots != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := h.reconciler.ResizeLot(ctx, "missing", parking.LotUpdate{Capacity: intPtr(1)}); !errors.Is(err, parking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(-3)}); !errors.Is(err, parking.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Name: strPtr(" ")}); !errors.Is(err, parking.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentResizesKeepCountEqualToCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 10)

	targets := []int{3, 7, 1, 9, 4, 6, 2, 8}
	var wg sync.WaitGroup
	errs := make(chan error, len(targets))
	for _, n := range targets {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(n)}); err != nil {
				errs <- err
			}
		}(n)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("resize: %v", err)
	}

	got, err := h.reconciler.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.TotalSlots != got.Capacity {
		t.Fatalf("slot count %d does not match capacity %d", got.TotalSlots, got.Capacity)
	}
}

func TestDeleteLotIgnoresReservedSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 2)
	if _, err := h.engine.BookSlot(ctx, h.slotByCode(t, lot.ID, "Depot-1").ID, "user-1"); err != nil {
		t.Fatalf("book: %v", err)
	}

	if err := h.reconciler.DeleteLot(ctx, lot.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.reconciler.DeleteLot(ctx, lot.ID); !errors.Is(err, parking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 1)

	added, err := h.reconciler.AddSlots(ctx, lot.ID, []models.NewSlot{
		{Code: "EV-1"},
		{Code: "EV-2", Status: models.SlotOccupied},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(added) != 2 || added[0].ID == "" || added[1].Status != models.SlotOccupied {
		t.Fatalf("unexpected slots %+v", added)
	}

	got, err := h.reconciler.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if got.Capacity != 3 || got.TotalSlots != 3 || got.AvailableSlots != 2 {
		t.Fatalf("unexpected lot %+v", got)
	}

	if _, err := h.reconciler.AddSlots(ctx, lot.ID, []models.NewSlot{{Code: "EV-1"}}); !errors.Is(err, parking.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate code, got %v", err)
	}
	if _, err := h.reconciler.AddSlots(ctx, lot.ID, []models.NewSlot{{Code: "X", Status: models.SlotReserved}}); !errors.Is(err, parking.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := h.reconciler.AddSlots(ctx, lot.ID, nil); !errors.Is(err, parking.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := h.reconciler.AddSlots(ctx, "missing", []models.NewSlot{{Code: "X"}}); !errors.Is(err, parking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStructuralChangesAnnounceLotEventsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lot := h.createLot(t, "Depot", 3)
	removable := []string{h.slotByCode(t, lot.ID, "Depot-3").ID, h.slotByCode(t, lot.ID, "Depot-2").ID}

	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(4)}); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if _, err := h.reconciler.AddSlots(ctx, lot.ID, []models.NewSlot{{Code: "EV-1"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Shrinking 5 -> 2 removes Depot-4, Depot-3, Depot-2 and keeps EV-1.
	if _, err := h.reconciler.ResizeLot(ctx, lot.ID, parking.LotUpdate{Capacity: intPtr(2)}); err != nil {
		t.Fatalf("shrink: %v", err)
	}

	if n := len(h.notifier.slotEvents()); n != 0 {
		t.Fatalf("expected no slot events for structural changes, got %d", n)
	}
	events := h.notifier.lotEvents()
	if len(events) != 4 {
		t.Fatalf("expected 4 lot events, got %d", len(events))
	}
	for _, ev := range events[:3] {
		if len(ev.RemovedSlots) != 0 {
			t.Fatalf("unexpected removed slots %+v", ev)
		}
	}
	shrink := events[3]
	if shrink.TotalSlots != 2 || len(shrink.RemovedSlots) != 3 {
		t.Fatalf("unexpected shrink event %+v", shrink)
	}
	got := map[string]bool{}
	for _, id := range shrink.RemovedSlots {
		got[id] = true
	}
	for _, id := range removable {
		if !got[id] {
			t.Fatalf("expected %s in removed slots %v", id, shrink.RemovedSlots)
		}
	}
}

func TestListLotsAndStatistics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	north := h.createLot(t, "North", 4)
	south := h.createLot(t, "South", 2)

	if _, err := h.engine.OccupySlot(ctx, h.slotByCode(t, north.ID, "North-1").ID); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if _, err := h.engine.BookSlot(ctx, h.slotByCode(t, north.ID, "North-2").ID, "user-1"); err != nil {
		t.Fatalf("book: %v", err)
	}

	lots, err := h.reconciler.ListLots(ctx)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(lots))
	}
	byID := map[string]models.LotWithCounts{}
	for _, l := range lots {
		byID[l.ID] = l
	}
	if l := byID[north.ID]; l.TotalSlots != 4 || l.AvailableSlots != 2 {
		t.Fatalf("unexpected north counts %+v", l)
	}
	if l := byID[south.ID]; l.TotalSlots != 2 || l.AvailableSlots != 2 {
		t.Fatalf("unexpected south counts %+v", l)
	}

	stats, err := h.reconciler.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Overall.TotalSlots != 6 || stats.Overall.TotalOccupied != 1 || stats.Overall.TotalReserved != 1 || stats.Overall.TotalAvailable != 4 {
		t.Fatalf("unexpected overall %+v", stats.Overall)
	}
	if stats.Overall.OccupancyPercentage != 17 {
		t.Fatalf("expected 17%% occupancy, got %d", stats.Overall.OccupancyPercentage)
	}

	h.clock.Advance(parking.DefaultHoldDuration)
	lots, err = h.reconciler.ListLots(ctx)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	for _, l := range lots {
		if l.ID == north.ID && l.AvailableSlots != 3 {
			t.Fatalf("expected expired hold counted available, got %d", l.AvailableSlots)
		}
	}
}
