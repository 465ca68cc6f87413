package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "notecollab"

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Number of connected realtime clients.",
	})
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "rooms",
		Help:      "Number of live note rooms.",
	})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Client events handled, by event type.",
	}, []string{"event"})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "errors_total",
		Help:      "Error frames sent to clients, by message.",
	}, []string{"code"})
	droppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "dropped_frames_total",
		Help:      "Outbound frames dropped because a client send buffer was full.",
	}, []string{"event"})
	persistenceSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "persistence_seconds",
		Help:      "Latency of storage calls made while handling events.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

var knownEvents = map[string]struct{}{
	EventJoinRoom:     {},
	EventLeaveRoom:    {},
	EventTypingStart:  {},
	EventTypingStop:   {},
	EventSendMessage:  {},
	EventRequestEdit:  {},
	EventContentDelta: {},
	EventReleaseEdit:  {},
}

func eventLabel(event string) string {
	if _, ok := knownEvents[event]; ok {
		return event
	}
	return "unknown"
}
