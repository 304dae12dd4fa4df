package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parking-reservation/backend/internal/parking"
	"github.com/parking-reservation/backend/internal/storage/models"
)

type recorder struct {
	mu    sync.Mutex
	slots []parking.SlotEvent
	lots  []parking.LotEvent
}

func (r *recorder) SlotUpdated(ev parking.SlotEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = append(r.slots, ev)
}

func (r *recorder) LotUpdated(ev parking.LotEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lots = append(r.lots, ev)
}

func (r *recorder) slotIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.slots))
	for i, ev := range r.slots {
		out[i] = ev.SlotID
	}
	return out
}

// memBus fans every published payload out to all subscribers, the sender included,
// the way a Redis channel does.
type memBus struct {
	mu   sync.Mutex
	subs []chan *redis.Message
	fail bool
}

func (b *memBus) subscribe() <-chan *redis.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *redis.Message, 16)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *memBus) publish(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("connection reset")
	}
	for _, ch := range b.subs {
		ch <- &redis.Message{Channel: "parking:events", Payload: string(data)}
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoopRelaysBetweenInstances(t *testing.T) {
	bus := &memBus{}
	localA, localB := &recorder{}, &recorder{}
	a := New(nil, "parking:events", localA, WithOrigin("node-a"))
	b := New(nil, "parking:events", localB, WithOrigin("node-b"))
	inA, inB := bus.subscribe(), bus.subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- a.loop(ctx, inA, bus.publish) }()
	go func() { errs <- b.loop(ctx, inB, bus.publish) }()

	a.SlotUpdated(parking.SlotEvent{SlotID: "s1", LotID: "l1", Status: models.SlotReserved, Version: 2})
	waitFor(t, "node-b to receive s1", func() bool { return len(localB.slotIDs()) == 1 })

	b.SlotUpdated(parking.SlotEvent{SlotID: "s2", LotID: "l1", Status: models.SlotOccupied, Version: 3})
	waitFor(t, "node-a to receive s2", func() bool { return len(localA.slotIDs()) == 2 })

	// Each node sees its own event once, delivered locally, and the peer's once.
	time.Sleep(20 * time.Millisecond)
	if got := localA.slotIDs(); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("node-a events %v", got)
	}
	if got := localB.slotIDs(); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("node-b events %v", got)
	}

	cancel()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("loop returned %v", err)
		}
	}
}

func TestLoopSurvivesPublishFailure(t *testing.T) {
	bus := &memBus{fail: true}
	r := New(nil, "parking:events", &recorder{}, WithOrigin("node-a"))
	incoming := make(chan *redis.Message, 1)

	errs := make(chan error, 1)
	go func() { errs <- r.loop(context.Background(), incoming, bus.publish) }()

	r.SlotUpdated(parking.SlotEvent{SlotID: "s1"})
	waitFor(t, "outbox drained", func() bool { return len(r.outbox) == 0 })

	close(incoming)
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected error when the subscription closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not return after subscription closed")
	}
}

func TestLocalDeliveryAndOutbox(t *testing.T) {
	local := &recorder{}
	r := New(nil, "parking:events", local, WithOrigin("node-a"))

	r.SlotUpdated(parking.SlotEvent{SlotID: "s1", LotID: "l1", Status: models.SlotReserved, Version: 2})
	r.LotUpdated(parking.LotEvent{LotID: "l1", Capacity: 3})

	if len(local.slots) != 1 || len(local.lots) != 1 {
		t.Fatalf("expected local delivery, got %d slot / %d lot events", len(local.slots), len(local.lots))
	}
	if len(r.outbox) != 2 {
		t.Fatalf("expected 2 queued envelopes, got %d", len(r.outbox))
	}

	var env Envelope
	if err := json.Unmarshal(<-r.outbox, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Origin != "node-a" || env.Kind != KindSlot {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var ev parking.SlotEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.SlotID != "s1" || ev.Version != 2 || ev.Status != models.SlotReserved {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestOutboxFullDrops(t *testing.T) {
	local := &recorder{}
	r := New(nil, "c", local, WithOutboxSize(1))
	r.SlotUpdated(parking.SlotEvent{SlotID: "s1"})
	r.SlotUpdated(parking.SlotEvent{SlotID: "s2"})

	if len(local.slots) != 2 {
		t.Fatalf("local delivery must not depend on the outbox, got %d", len(local.slots))
	}
	if len(r.outbox) != 1 {
		t.Fatalf("expected outbox capped at 1, got %d", len(r.outbox))
	}
}

func TestHandleForwardsRemoteEvents(t *testing.T) {
	local := &recorder{}
	a := New(nil, "c", local, WithOrigin("node-a"))
	b := New(nil, "c", parking.NopNotifier{}, WithOrigin("node-b"))

	slotMsg, err := b.encode(KindSlot, parking.SlotEvent{SlotID: "s9", LotID: "l1", Version: 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	lotMsg, err := b.encode(KindLot, parking.LotEvent{LotID: "l1", Deleted: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	own, err := a.encode(KindSlot, parking.SlotEvent{SlotID: "mine"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, msg := range [][]byte{slotMsg, lotMsg, own} {
		if err := a.handle(msg); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if len(local.slots) != 1 || local.slots[0].SlotID != "s9" || local.slots[0].Version != 5 {
		t.Fatalf("unexpected slot events %+v", local.slots)
	}
	if len(local.lots) != 1 || !local.lots[0].Deleted {
		t.Fatalf("unexpected lot events %+v", local.lots)
	}
	if len(a.outbox) != 0 {
		t.Fatal("remote events must not be republished")
	}
}

func TestHandleRejectsMalformed(t *testing.T) {
	r := New(nil, "c", &recorder{}, WithOrigin("node-a"))
	for name, payload := range map[string]string{
		"not json":     "{",
		"unknown kind": `{"origin":"x","kind":"gate","event":{}}`,
		"bad event":    `{"origin":"x","kind":"slot","event":"nope"}`,
	} {
		if err := r.handle([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRunWithoutClient(t *testing.T) {
	r := New(nil, "c", nil)
	if err := r.Run(t.Context()); err == nil {
		t.Fatal("expected error without redis client")
	}
	if r.Origin() == "" {
		t.Fatal("expected generated origin")
	}
}
