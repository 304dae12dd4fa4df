// Package metrics exposes Prometheus collectors for the parking backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parking-reservation/backend/internal/storage/models"
)

// Collector owns a private registry and the application's collectors.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	capacityConflicts prometheus.Counter
	expired           prometheus.Counter
	dropped           prometheus.Counter
	wsClients         prometheus.Gauge
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_slot_transitions_total",
			Help: "Slot status changes, labelled by the status entered.",
		}, []string{"status"}),
		capacityConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_capacity_conflicts_total",
			Help: "Capacity reductions rejected for lack of AVAILABLE slots.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_reservations_expired_total",
			Help: "Reservations reverted to AVAILABLE by the expiry sweep.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_notifications_dropped_total",
			Help: "Change notifications dropped under backpressure.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parking_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.transitions,
		c.capacityConflicts,
		c.expired,
		c.dropped,
		c.wsClients,
	)
	for _, s := range models.SlotStatuses {
		c.transitions.WithLabelValues(string(s))
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SlotTransitioned counts a slot entering status.
func (c *Collector) SlotTransitioned(status models.SlotStatus) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(status)).Inc()
}

// CapacityConflict counts a shrink rejected for lack of AVAILABLE slots.
func (c *Collector) CapacityConflict() {
	if c == nil {
		return
	}
	c.capacityConflicts.Inc()
}

// ReservationsExpired adds n lapsed holds reverted by the expiry sweep.
func (c *Collector) ReservationsExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.expired.Add(float64(n))
}

// NotificationDropped counts an event the hub could not deliver.
func (c *Collector) NotificationDropped() {
	if c == nil {
		return
	}
	c.dropped.Inc()
}

// ClientsConnected records the current number of WebSocket clients.
func (c *Collector) ClientsConnected(n int) {
	if c == nil {
		return
	}
	c.wsClients.Set(float64(n))
}
