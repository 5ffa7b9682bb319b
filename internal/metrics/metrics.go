// Package metrics exposes Prometheus collectors for the broker's dispatch,
// queue and hub activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements the scheduler's Metrics interface on Prometheus
type Collector struct {
	dispatchesTotal  *prometheus.CounterVec
	queueWaitSeconds *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	activeDispatches *prometheus.GaugeVec
	hubSendsTotal    *prometheus.CounterVec
	wsClients        prometheus.Gauge
}

// NewCollector registers the broker collectors on the default registry
func NewCollector() *Collector {
	return &Collector{
		dispatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finger_dispatches_total",
				Help: "Total dispatches by target agent and terminal status",
			},
			[]string{"agent_id", "status"},
		),
		queueWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finger_dispatch_queue_wait_seconds",
				Help:    "Time dispatches spent waiting in the per-agent queue",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_id"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finger_dispatch_queue_depth",
				Help: "Queued dispatches per target agent",
			},
			[]string{"agent_id"},
		),
		activeDispatches: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finger_active_dispatches",
				Help: "In-flight dispatches per target agent",
			},
			[]string{"agent_id"},
		),
		hubSendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finger_hub_sends_total",
				Help: "Module hub sends by module and outcome",
			},
			[]string{"module_id", "status"},
		),
		wsClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "finger_ws_clients",
				Help: "Connected WebSocket clients",
			},
		),
	}
}

// ObserveDispatch counts a dispatch outcome
func (c *Collector) ObserveDispatch(agentID, status string) {
	c.dispatchesTotal.WithLabelValues(agentID, status).Inc()
}

// ObserveQueueWait records the queue wait for an admitted dispatch
func (c *Collector) ObserveQueueWait(agentID string, wait time.Duration) {
	c.queueWaitSeconds.WithLabelValues(agentID).Observe(wait.Seconds())
}

// SetQueueDepth updates the per-agent queue gauge
func (c *Collector) SetQueueDepth(agentID string, depth int) {
	c.queueDepth.WithLabelValues(agentID).Set(float64(depth))
}

// SetActiveDispatches updates the per-agent in-flight gauge
func (c *Collector) SetActiveDispatches(agentID string, active int) {
	c.activeDispatches.WithLabelValues(agentID).Set(float64(active))
}

// ObserveHubSend counts a module hub send outcome
func (c *Collector) ObserveHubSend(moduleID, status string) {
	c.hubSendsTotal.WithLabelValues(moduleID, status).Inc()
}

// SetWSClients updates the connected WebSocket client gauge
func (c *Collector) SetWSClients(n int) {
	c.wsClients.Set(float64(n))
}
