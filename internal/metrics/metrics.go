// Package metrics exposes the bridge's Prometheus counters and gauges,
// mirroring the engine codebase's pkg/metrics but scoped to this bridge's
// own pipeline stages rather than a generic multi-gateway packet count.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesDecoded counts event decode attempts on payloads received off
	// the BLE link, labeled by outcome ("ok", "error").
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_frames_decoded_total",
		Help: "Frames decoded off the BLE link, by outcome.",
	}, []string{"outcome"})

	// CommandsSent counts commands issued through the multiplexer, labeled
	// by command type name and outcome ("success", "timeout", "error").
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvlink_commands_sent_total",
		Help: "Commands sent through the command multiplexer.",
	}, []string{"command", "outcome"})

	// DevicesReady gauges the number of entity_ready devices across all
	// tables.
	DevicesReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rvlink_devices_ready",
		Help: "Number of entity_ready devices currently tracked.",
	})

	// LinkState gauges the BLE link manager's current state as an integer
	// matching ble.State's ordering (Stopped=0 .. Running=4).
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rvlink_link_state",
		Help: "Current BLE link state (0=stopped 1=scanning 2=connecting 3=handshaking 4=running).",
	})

	// StatePublishes counts state publishes emitted by the publisher.
	StatePublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvlink_state_publishes_total",
		Help: "Device state messages published to MQTT.",
	})
)

// Server serves the Prometheus /metrics endpoint on its own HTTP listener.
type Server struct {
	srv *http.Server
}

// NewServer constructs a metrics Server bound to addr (e.g. ":9100") and
// serving endpoint (e.g. "/metrics").
func NewServer(addr, endpoint string) *Server {
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving in the background. Errors after a clean Stop are
// not reported.
func (s *Server) Start() {
	go func() {
		_ = s.srv.ListenAndServe()
	}()
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
