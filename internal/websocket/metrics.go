package websocket

import (
	"chat-widget/internal/dto"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_widget_ws_connections",
			Help: "Current number of open realtime connections.",
		},
	)
	wsDials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_widget_ws_dials_total",
			Help: "Realtime dial attempts by result.",
		},
		[]string{"result"},
	)
	wsEventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_widget_ws_events_received_total",
			Help: "Realtime events received by event name.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsDials, wsEventsReceived)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func addDial(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	wsDials.WithLabelValues(result).Inc()
}

func addEvent(name string) {
	switch name {
	case dto.EventAgentConnected, dto.EventMessage, dto.EventAgentTyping,
		dto.EventAgentStopTyping, dto.EventAgentCompleted, dto.EventAgentsOnline:
	default:
		name = "unknown"
	}
	wsEventsReceived.WithLabelValues(name).Inc()
}
