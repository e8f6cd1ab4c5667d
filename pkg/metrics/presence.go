package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canvas_collab"

var (
	// 当前活跃的画布会话数
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Number of live canvas sessions on this node.",
	})

	// 当前在线客户端数
	Clients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients",
		Help:      "Number of connected presence clients on this node.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Presence events published by canvas sessions.",
	}, []string{"type"})

	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_delivered_total",
		Help:      "Presence events delivered to subscribers after filtering.",
	}, []string{"type"})

	// 订阅者队列满被丢弃的事件
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber queue was full.",
	})

	Refusals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refusals_total",
		Help:      "Refused connection or token requests by reason.",
	}, []string{"reason"})

	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_evictions_total",
		Help:      "Clients evicted by the liveness sweep.",
	})

	LockChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_changes_total",
		Help:      "Field soft-lock acquisitions and releases.",
	}, []string{"op"})

	PermissionLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_lookups_total",
		Help:      "Permission cache lookups by result.",
	}, []string{"result"})
)

// Collectors 返回需要注册的指标，由 main 统一注册
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Sessions, Clients, EventsPublished, EventsDelivered, EventsDropped,
		Refusals, Evictions, LockChanges, PermissionLookups,
	}
}
