package websocket

import (
	"github.com/parking-reservation/backend/internal/parking"
)

// EventBroadcaster turns parking change events into WebSocket messages.
// It implements parking.Notifier.
type EventBroadcaster struct {
	hub *Hub
}

var _ parking.Notifier = (*EventBroadcaster)(nil)

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// SlotUpdated sends a slot-updated event to the lot's subscribers.
func (b *EventBroadcaster) SlotUpdated(ev parking.SlotEvent) {
	b.publish(Envelope{LotID: ev.LotID, SlotID: ev.SlotID, Version: ev.Version}, NewMessage(TypeSlotUpdated, ev))
}

// LotUpdated sends a lot-updated or lot-deleted event to the lot's subscribers.
func (b *EventBroadcaster) LotUpdated(ev parking.LotEvent) {
	if ev.Deleted {
		b.publish(Envelope{LotID: ev.LotID, Forget: true}, NewMessage(TypeLotDeleted, LotDeletedPayload{LotID: ev.LotID}))
		return
	}
	b.publish(Envelope{LotID: ev.LotID, ForgetSlots: ev.RemovedSlots}, NewMessage(TypeLotUpdated, ev))
}

func (b *EventBroadcaster) publish(env Envelope, msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.hub.logger.Error("ws.event.encode_failed", "type", msg.Type, "error", err)
		return
	}
	env.Data = data
	b.hub.Publish(env)
}
