// Package metrics provides the Prometheus instrumentation surface for a
// lock table node, its replication link, and its proxy shard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelState    = "state"
	LabelAction   = "action"
	LabelStatus   = "status"
	LabelReason   = "reason"
	LabelRole     = "role"
	LabelShard    = "shard"
	LabelCodec    = "codec"
	LabelErr      = "err"
)

// Status constants for request outcomes.
const (
	StatusGranted = "granted"
	StatusQueued  = "queued"
	StatusDenied  = "denied"
)

// Reason constants for a released or dropped holder.
const (
	ReasonExplicit   = "explicit"
	ReasonExpiry     = "expiry"
	ReasonDisconnect = "disconnect"
	ReasonCallback   = "callback"
)

// Metrics holds every counter, gauge, and histogram a lock table node
// registers.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	repliesTotal    *prometheus.CounterVec
	lockCountGauge  *prometheus.GaugeVec
	queueDepthGauge *prometheus.GaugeVec

	grantWaitDuration *prometheus.HistogramVec
	holdDuration      *prometheus.HistogramVec

	replicationAckLatency prometheus.Histogram
	slaveCountGauge       prometheus.Gauge
	replicationDropTotal  prometheus.Counter

	connectionActiveGauge *prometheus.GaugeVec
	connectionTotal       *prometheus.CounterVec

	roleTransitionTotal *prometheus.CounterVec
	expiryTotal         *prometheus.CounterVec

	proxyShardQueueDepth *prometheus.GaugeVec
	proxyRetryTotal      *prometheus.CounterVec

	registered bool
}

// New creates and, if registry is non-nil, registers the full metric set.
// A nil registry is used in tests that want live counters without
// touching the default Prometheus registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "requests_total",
				Help:      "Total number of lock_state_req/lock_action_req messages received",
			},
			[]string{LabelState, LabelAction},
		),
		repliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "replies_total",
				Help:      "Total number of replies sent, by outcome",
			},
			[]string{LabelStatus},
		),
		lockCountGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "locks",
				Help:      "Current number of locks by compatibility state",
			},
			[]string{LabelState},
		),
		queueDepthGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "queue_depth",
				Help:      "Total waiters queued across all locks, by queue class",
			},
			[]string{"queue"},
		),
		grantWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "grant_wait_seconds",
				Help:      "Time a waiter spent queued before a grant or denial",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{LabelState},
		),
		holdDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "hold_duration_seconds",
				Help:      "Time a lock was held before release",
				Buckets:   []float64{0.01, 0.1, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{LabelState},
		),
		replicationAckLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "clusterlockd",
				Subsystem: "replication",
				Name:      "ack_latency_seconds",
				Help:      "Time from replicating an update to a slave until quorum ack",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		slaveCountGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clusterlockd",
				Subsystem: "replication",
				Name:      "slaves_attached",
				Help:      "Current number of attached slaves",
			},
		),
		replicationDropTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "replication",
				Name:      "quorum_miss_total",
				Help:      "Number of replicated updates never fully acknowledged before the holding client gave up",
			},
		),
		connectionActiveGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clusterlockd",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of active connections by peer role",
			},
			[]string{LabelRole},
		),
		connectionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "connections",
				Name:      "total",
				Help:      "Total connection lifecycle events",
			},
			[]string{LabelRole, "event"},
		),
		roleTransitionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "replication",
				Name:      "role_transitions_total",
				Help:      "Total role transitions, by new role",
			},
			[]string{LabelRole},
		),
		expiryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "locktable",
				Name:      "expiry_total",
				Help:      "Total holders moved to the expired-holder list",
			},
			[]string{LabelReason},
		),
		proxyShardQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clusterlockd",
				Subsystem: "ltpx",
				Name:      "shard_pending_requests",
				Help:      "Pending client requests awaiting reply, per shard",
			},
			[]string{LabelShard},
		),
		proxyRetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterlockd",
				Subsystem: "ltpx",
				Name:      "retry_total",
				Help:      "Total lost upstream connections, each followed by a reconnect",
			},
			[]string{LabelShard},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.requestsTotal,
			m.repliesTotal,
			m.lockCountGauge,
			m.queueDepthGauge,
			m.grantWaitDuration,
			m.holdDuration,
			m.replicationAckLatency,
			m.slaveCountGauge,
			m.replicationDropTotal,
			m.connectionActiveGauge,
			m.connectionTotal,
			m.roleTransitionTotal,
			m.expiryTotal,
			m.proxyShardQueueDepth,
			m.proxyRetryTotal,
		)
		m.registered = true
	}

	return m
}

// ObserveRequest records an incoming lock_state_req/lock_action_req.
func (m *Metrics) ObserveRequest(state, action string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(state, action).Inc()
}

// ObserveReply records a reply sent back to a client.
func (m *Metrics) ObserveReply(status string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(status).Inc()
}

// SetLockCount sets the current lock count for a compatibility state.
func (m *Metrics) SetLockCount(state string, count float64) {
	if m == nil {
		return
	}
	m.lockCountGauge.WithLabelValues(state).Set(count)
}

// SetQueueDepth sets the current waiter count for a queue class.
func (m *Metrics) SetQueueDepth(queue string, depth float64) {
	if m == nil {
		return
	}
	m.queueDepthGauge.WithLabelValues(queue).Set(depth)
}

// ObserveGrantWait records how long a waiter queued before its outcome.
func (m *Metrics) ObserveGrantWait(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.grantWaitDuration.WithLabelValues(state).Observe(d.Seconds())
}

// ObserveHoldDuration records how long a lock was held before release.
func (m *Metrics) ObserveHoldDuration(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.holdDuration.WithLabelValues(state).Observe(d.Seconds())
}

// ObserveReplicationAck records the time from sending a replicated update
// to reaching acknowledgement quorum.
func (m *Metrics) ObserveReplicationAck(d time.Duration) {
	if m == nil {
		return
	}
	m.replicationAckLatency.Observe(d.Seconds())
}

// SetSlaveCount sets the current number of attached slaves.
func (m *Metrics) SetSlaveCount(count float64) {
	if m == nil {
		return
	}
	m.slaveCountGauge.Set(count)
}

// ObserveReplicationQuorumMiss records a replicated update whose holder
// disconnected before quorum was reached.
func (m *Metrics) ObserveReplicationQuorumMiss() {
	if m == nil {
		return
	}
	m.replicationDropTotal.Inc()
}

// SetActiveConnections sets the active connection count for a role.
func (m *Metrics) SetActiveConnections(role string, count float64) {
	if m == nil {
		return
	}
	m.connectionActiveGauge.WithLabelValues(role).Set(count)
}

// ObserveConnectionEvent records a connect/disconnect event for a role.
func (m *Metrics) ObserveConnectionEvent(role, event string) {
	if m == nil {
		return
	}
	m.connectionTotal.WithLabelValues(role, event).Inc()
}

// ObserveRoleTransition records a transition into a new role.
func (m *Metrics) ObserveRoleTransition(role string) {
	if m == nil {
		return
	}
	m.roleTransitionTotal.WithLabelValues(role).Inc()
}

// ObserveExpiry records a holder moved to the expired-holder list.
func (m *Metrics) ObserveExpiry(reason string) {
	if m == nil {
		return
	}
	m.expiryTotal.WithLabelValues(reason).Inc()
}

// SetShardQueueDepth sets a proxy shard's pending-request depth.
func (m *Metrics) SetShardQueueDepth(shard string, depth float64) {
	if m == nil {
		return
	}
	m.proxyShardQueueDepth.WithLabelValues(shard).Set(depth)
}

// ObserveShardRetry records a lost upstream connection that the shard is
// about to redial.
func (m *Metrics) ObserveShardRetry(shard string) {
	if m == nil {
		return
	}
	m.proxyRetryTotal.WithLabelValues(shard).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.requestsTotal.Describe(ch)
	m.repliesTotal.Describe(ch)
	m.lockCountGauge.Describe(ch)
	m.queueDepthGauge.Describe(ch)
	m.grantWaitDuration.Describe(ch)
	m.holdDuration.Describe(ch)
	m.replicationAckLatency.Describe(ch)
	ch <- m.slaveCountGauge.Desc()
	ch <- m.replicationDropTotal.Desc()
	m.connectionActiveGauge.Describe(ch)
	m.connectionTotal.Describe(ch)
	m.roleTransitionTotal.Describe(ch)
	m.expiryTotal.Describe(ch)
	m.proxyShardQueueDepth.Describe(ch)
	m.proxyRetryTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.requestsTotal.Collect(ch)
	m.repliesTotal.Collect(ch)
	m.lockCountGauge.Collect(ch)
	m.queueDepthGauge.Collect(ch)
	m.grantWaitDuration.Collect(ch)
	m.holdDuration.Collect(ch)
	m.replicationAckLatency.Collect(ch)
	ch <- m.slaveCountGauge
	ch <- m.replicationDropTotal
	m.connectionActiveGauge.Collect(ch)
	m.connectionTotal.Collect(ch)
	m.roleTransitionTotal.Collect(ch)
	m.expiryTotal.Collect(ch)
	m.proxyShardQueueDepth.Collect(ch)
	m.proxyRetryTotal.Collect(ch)
}

var global *Metrics

// SetGlobal sets the package-level Metrics instance used by code that
// cannot easily thread a *Metrics through.
func SetGlobal(m *Metrics) { global = m }

// Global returns the package-level instance, or nil if SetGlobal was
// never called. Every method above is a nil-safe no-op.
func Global() *Metrics { return global }
