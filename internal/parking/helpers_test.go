package parking_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/storage"
	"github.com/parking-reservation/backend/internal/storage/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	slots []parking.SlotEvent
	lots  []parking.LotEvent
}

func (n *recordingNotifier) SlotUpdated(ev parking.SlotEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slots = append(n.slots, ev)
}

func (n *recordingNotifier) LotUpdated(ev parking.LotEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lots = append(n.lots, ev)
}

func (n *recordingNotifier) slotEvents() []parking.SlotEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]parking.SlotEvent(nil), n.slots...)
}

func (n *recordingNotifier) lotEvents() []parking.LotEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]parking.LotEvent(nil), n.lots...)
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions map[models.SlotStatus]int
	conflicts   int
	expired     int
}

func (m *countingMetrics) SlotTransitioned(s models.SlotStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitions == nil {
		m.transitions = map[models.SlotStatus]int{}
	}
	m.transitions[s]++
}

func (m *countingMetrics) CapacityConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) ReservationsExpired(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += n
}

type harness struct {
	store      *storage.Store
	clock      *fakeClock
	notifier   *recordingNotifier
	metrics    *countingMetrics
	engine     *parking.Engine
	reconciler *parking.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "parking.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(context.Background(), db, pslog.NoopLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &harness{
		store:    storage.NewStore(db),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
	}
	opts := []parking.Option{
		parking.WithClock(h.clock.Now),
		parking.WithLogger(pslog.NoopLogger()),
		parking.WithMetrics(h.metrics),
	}
	h.engine = parking.NewEngine(h.store, h.notifier, opts...)
	h.reconciler = parking.NewReconciler(h.store, h.notifier, opts...)
	return h
}

func (h *harness) createLot(t *testing.T, name string, capacity int) *models.Lot {
	t.Helper()
	lot, err := h.reconciler.CreateLot(context.Background(), parking.LotInput{Name: name, Capacity: capacity})
	if err != nil {
		t.Fatalf("create lot %q: %v", name, err)
	}
	return lot
}

func (h *harness) slots(t *testing.T, lotID string) []models.Slot {
	t.Helper()
	slots, err := h.engine.ListSlots(context.Background(), lotID)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	return slots
}

func (h *harness) slotByCode(t *testing.T, lotID, code string) models.Slot {
	t.Helper()
	for _, s := range h.slots(t, lotID) {
		if s.Code == code {
			return s
		}
	}
	t.Fatalf("slot %s not found in lot %s", code, lotID)
	return models.Slot{}
}

func codes(slots []models.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Code
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
