package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsecho"

// Collectors holds every metric the echo server exports.
type Collectors struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures prometheus.Counter
	SessionsClosed    *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	ProbesTracked     prometheus.Counter
	SequencesMissed   prometheus.Counter
}

// New creates collectors on a fresh registry, including Go runtime and
// process metrics.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open WebSocket sessions",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total WebSocket sessions established",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total upgrade requests that failed the WebSocket handshake",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed, by reason",
		}, []string{"reason"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Total frames received, by kind",
		}, []string{"kind"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Total frames sent, by kind",
		}, []string{"kind"}),
		ProbesTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "probes_total",
			Help:      "Total probe messages fed to sequence trackers",
		}),
		SequencesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "sequences_missed_total",
			Help:      "Total sequence numbers recorded as missed",
		}),
	}

	c.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		c.ConnectionsActive,
		c.ConnectionsTotal,
		c.HandshakeFailures,
		c.SessionsClosed,
		c.FramesReceived,
		c.FramesSent,
		c.ProbesTracked,
		c.SequencesMissed,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// TrackOpenTrackers exports the live tracker count read from fn.
func (c *Collectors) TrackOpenTrackers(fn func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "open",
		Help:      "Number of registered sequence trackers",
	}, func() float64 { return float64(fn()) }))
}

// TrackReportQueue exports report queue depth and drops read from fn.
func (c *Collectors) TrackReportQueue(fn func() (depth int, dropped int64)) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "queue_depth",
			Help:      "Session reports waiting to be written",
		}, func() float64 {
			depth, _ := fn()
			return float64(depth)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "dropped_total",
			Help:      "Session reports evicted from a full queue",
		}, func() float64 {
			_, dropped := fn()
			return float64(dropped)
		}),
	)
}

// ConnectionOpened records an established session.
func (c *Collectors) ConnectionOpened() {
	c.ConnectionsTotal.Inc()
	c.ConnectionsActive.Inc()
}

// ConnectionClosed records a finished session.
func (c *Collectors) ConnectionClosed(reason string) {
	c.ConnectionsActive.Dec()
	c.SessionsClosed.WithLabelValues(reason).Inc()
}

// HandshakeFailed records a failed upgrade.
func (c *Collectors) HandshakeFailed() {
	c.HandshakeFailures.Inc()
}

// FrameReceived records an inbound frame.
func (c *Collectors) FrameReceived(kind string) {
	c.FramesReceived.WithLabelValues(kind).Inc()
}

// FrameSent records an outbound frame.
func (c *Collectors) FrameSent(kind string) {
	c.FramesSent.WithLabelValues(kind).Inc()
}

// ProbeTracked records a probe and the sequences it revealed as missed.
func (c *Collectors) ProbeTracked(missed uint64) {
	c.ProbesTracked.Inc()
	if missed > 0 {
		c.SequencesMissed.Add(float64(missed))
	}
}
