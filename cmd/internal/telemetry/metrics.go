// Package telemetry owns the Prometheus collectors exported on /metrics.
//
// A *Metrics is nil-safe: every recording method is a no-op on a nil
// receiver so components can be built without metrics in tests.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tearoom"

// Metrics groups every collector of the service on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	authEvents *prometheus.CounterVec

	wsConnections prometheus.Gauge
	wsClosed      *prometheus.CounterVec
	wsRejects     *prometheus.CounterVec
	wsDelivered   prometheus.Counter
	wsDropped     *prometheus.CounterVec

	orderEvents *prometheus.CounterVec
	busMessages *prometheus.CounterVec
}

// New builds the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Session manager operations by outcome.",
		}, []string{"op", "outcome"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime connections.",
		}),
		wsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_closed_total",
			Help:      "Closed realtime connections by reason.",
		}, []string{"reason"}),
		wsRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rejected_total",
			Help:      "Realtime handshakes rejected before upgrade.",
		}, []string{"reason"}),
		wsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_enqueued_total",
			Help:      "Events enqueued to realtime connections.",
		}),
		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_dropped_total",
			Help:      "Events dropped by the backpressure policy.",
		}, []string{"policy"}),
		orderEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_events_total",
			Help:      "Order lifecycle events published.",
		}, []string{"type"}),
		busMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Event bus traffic by direction and result.",
		}, []string{"bus", "direction", "result"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.authEvents,
		m.wsConnections,
		m.wsClosed,
		m.wsRejects,
		m.wsDelivered,
		m.wsDropped,
		m.orderEvents,
		m.busMessages,
	)
	return m
}

// Registry exposes the private registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterPool exports pgxpool connection gauges.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) error {
	if m == nil || pool == nil {
		return nil
	}
	return m.reg.Register(newPoolCollector(pool))
}

// Middleware counts and times requests by chi route pattern so that ids in
// paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// AuthEvent records a session manager outcome.
func (m *Metrics) AuthEvent(op, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(op, outcome).Inc()
}

// WSOpened records an admitted realtime connection.
func (m *Metrics) WSOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// WSClosed records a finished realtime connection.
func (m *Metrics) WSClosed(reason string) {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
	m.wsClosed.WithLabelValues(reason).Inc()
}

// WSRejected records a handshake refused before upgrade.
func (m *Metrics) WSRejected(reason string) {
	if m == nil {
		return
	}
	m.wsRejects.WithLabelValues(reason).Inc()
}

// EventsEnqueued records n successful per-connection enqueues.
func (m *Metrics) EventsEnqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wsDelivered.Add(float64(n))
}

// EventDropped records a backpressure drop or slow-consumer eviction.
func (m *Metrics) EventDropped(policy string) {
	if m == nil {
		return
	}
	m.wsDropped.WithLabelValues(policy).Inc()
}

// OrderEvent records a published order event.
func (m *Metrics) OrderEvent(kind string) {
	if m == nil {
		return
	}
	m.orderEvents.WithLabelValues(kind).Inc()
}

// BusMessage records event bus traffic.
func (m *Metrics) BusMessage(bus, direction, result string) {
	if m == nil {
		return
	}
	m.busMessages.WithLabelValues(bus, direction, result).Inc()
}
