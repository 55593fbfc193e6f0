package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mfeltner/homelink/internal/broker"
	"github.com/mfeltner/homelink/internal/version"
)

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()

	brokerConnected := 0
	brokerState := "unknown"
	if s.status != nil {
		st := s.status.State()
		brokerState = st.String()
		if st == broker.StateConnected {
			brokerConnected = 1
		}
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	labels := fmt.Sprintf(`home="%s",instance="%s",version="%s"`, s.homeName, hostname, version.Version)

	writeMetric("homelink_uptime_seconds", "gauge",
		"Number of seconds since the service started", uptime, labels)

	writeMetric("homelink_broker_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", brokerConnected, labels)

	writeMetric("homelink_devices_total", "gauge",
		"Number of devices in the state cache", s.cache.Len(), labels)

	writeMetric("homelink_commands_pending", "gauge",
		"Number of device commands awaiting confirmation", s.coord.PendingCount(), labels)

	writeMetric("homelink_alerts_active", "gauge",
		"Number of undismissed alerts", s.alerts.Len(), labels)

	writeMetric("homelink_ws_clients", "gauge",
		"Number of active WebSocket event subscribers", s.events.SubscriberCount(), labels)

	// Broker state as labeled info gauge
	fmt.Fprintf(w, "# HELP homelink_broker_state Current broker connection state\n")
	fmt.Fprintf(w, "# TYPE homelink_broker_state gauge\n")
	fmt.Fprintf(w, "homelink_broker_state{%s,state=%q} 1\n", labels, brokerState)
}
