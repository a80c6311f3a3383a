// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	MessageLatency   prometheus.Histogram
	BidsAccepted     prometheus.Counter
	BidsRejected     *prometheus.CounterVec
	AuctionsFinished prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of online players",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live auction rooms",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped by the per-session rate limiter",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		BidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_accepted_total",
			Help:      "Bids that replaced a room's ledger",
		}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_rejected_total",
			Help:      "Bids rejected, by reason",
		}, []string{"reason"}),
		AuctionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_finished_total",
			Help:      "Auctions closed by their timer",
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.MessagesReceived,
		m.MessagesDropped,
		m.MessageLatency,
		m.BidsAccepted,
		m.BidsRejected,
		m.AuctionsFinished,
	)

	return m
}

var publishOnce sync.Once

// Monitor methods are safe on a nil receiver so callers can run without metrics.
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	registry := prometheus.NewRegistry()
	return &Monitor{
		metrics:   NewMetrics(namespace, registry),
		registry:  registry,
		startTime: time.Now(),
	}
}

// Metrics exposes the collectors, mostly for tests.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves the monitor's registry in the prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds the metrics HTTP server; the caller runs and stops it.
func (m *Monitor) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	// 添加expvar指标, expvar names are process-global
	publishOnce.Do(func() {
		vars := expvar.NewMap("auction")
		vars.Set("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		vars.Set("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})
	mux.Handle("/debug/vars", expvar.Handler())

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func (m *Monitor) IncOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncMessagesDropped() {
	if m == nil {
		return
	}
	m.metrics.MessagesDropped.Inc()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncBidAccepted() {
	if m == nil {
		return
	}
	m.metrics.BidsAccepted.Inc()
}

func (m *Monitor) IncBidRejected(reason string) {
	if m == nil {
		return
	}
	m.metrics.BidsRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) IncAuctionsFinished() {
	if m == nil {
		return
	}
	m.metrics.AuctionsFinished.Inc()
}
