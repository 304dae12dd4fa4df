// Package relay fans parking change events out to other server instances over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/parking"
)

// Event kinds carried in a relayed envelope.
const (
	KindSlot = "slot"
	KindLot  = "lot"
)

const (
	defaultOutbox         = 1024
	defaultPublishTimeout = 2 * time.Second
)

// Envelope is the JSON document published on the channel.
type Envelope struct {
	Origin string          `json:"origin"`
	Kind   string          `json:"kind"`
	Event  json.RawMessage `json:"event"`
}

// Relay implements parking.Notifier. Events are delivered to the local
// notifier immediately and queued for publication; events published by other
// instances are delivered to the local notifier by Run.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
	local   parking.Notifier
	logger  pslog.Logger
	timeout time.Duration
	outbox  chan []byte
}

var _ parking.Notifier = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger pslog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOrigin overrides the random instance id stamped on published envelopes.
func WithOrigin(origin string) Option {
	return func(r *Relay) {
		if origin != "" {
			r.origin = origin
		}
	}
}

// WithOutboxSize bounds the number of events waiting to be published.
func WithOutboxSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.outbox = make(chan []byte, n)
		}
	}
}

// New creates a relay publishing on channel and delivering to local.
func New(rdb *redis.Client, channel string, local parking.Notifier, opts ...Option) *Relay {
	if local == nil {
		local = parking.NopNotifier{}
	}
	r := &Relay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  pslog.NoopLogger(),
		timeout: defaultPublishTimeout,
		outbox:  make(chan []byte, defaultOutbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin returns the instance id of this relay.
func (r *Relay) Origin() string {
	return r.origin
}

// SlotUpdated delivers ev locally and queues it for other instances.
func (r *Relay) SlotUpdated(ev parking.SlotEvent) {
	r.local.SlotUpdated(ev)
	r.enqueue(KindSlot, ev)
}

// LotUpdated delivers ev locally and queues it for other instances.
func (r *Relay) LotUpdated(ev parking.LotEvent) {
	r.local.LotUpdated(ev)
	r.enqueue(KindLot, ev)
}

func (r *Relay) enqueue(kind string, ev any) {
	data, err := r.encode(kind, ev)
	if err != nil {
		r.logger.Error("relay.encode_failed", "kind", kind, "error", err)
		return
	}
	select {
	case r.outbox <- data:
	default:
		r.logger.Warn("relay.outbox_full", "kind", kind)
	}
}

func (r *Relay) encode(kind string, ev any) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Origin: r.origin, Kind: kind, Event: raw})
}

// Run subscribes to the channel and publishes queued events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.rdb == nil {
		return errors.New("relay: redis client is nil")
	}

	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("relay.subscribed", "channel", r.channel, "origin", r.origin)

	return r.loop(ctx, sub.Channel(), r.publish)
}

// publishFunc sends one encoded envelope to the other instances.
type publishFunc func(ctx context.Context, data []byte) error

// loop publishes queued events and delivers incoming messages until ctx is
// done or incoming is closed.
func (r *Relay) loop(ctx context.Context, incoming <-chan *redis.Message, publish publishFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case data := <-r.outbox:
			if err := publish(ctx, data); err != nil {
				r.logger.Warn("relay.publish_failed", "channel", r.channel, "error", err)
			}

		case msg, ok := <-incoming:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			if err := r.handle([]byte(msg.Payload)); err != nil {
				r.logger.Warn("relay.message_dropped", "error", err)
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

// handle delivers an envelope from another instance to the local notifier.
// Envelopes this relay published itself are ignored.
func (r *Relay) handle(payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Origin == r.origin {
		return nil
	}

	switch env.Kind {
	case KindSlot:
		var ev parking.SlotEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			return fmt.Errorf("decoding slot event: %w", err)
		}
		r.local.SlotUpdated(ev)
	case KindLot:
		var ev parking.LotEvent
		if err := json.Unmarshal(env.Event, &ev); err != nil {
			return fmt.Errorf("decoding lot event: %w", err)
		}
		r.local.LotUpdated(ev)
	default:
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return nil
}
