// Package status exposes an HTTP endpoint for health checks and Prometheus
// metrics describing the running relay: active connections, streams and
// per-stream subscriber counts.
package status

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the subset of *server.Registry the status endpoint needs. Kept
// as an interface so this package never imports server (which would create
// an import cycle, since server wires status in).
type Registry interface {
	StreamCount() int
	Snapshot() []StreamInfo
}

// StreamInfo mirrors server.StreamSnapshot without depending on that
// package's type directly.
type StreamInfo struct {
	Key         string
	Subscribers int
	VideoCodec  string
	AudioCodec  string
	StartTime   time.Time
}

var (
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtmp_relay",
		Name:      "streams_active",
		Help:      "Number of currently published streams.",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtmp_relay",
		Name:      "connections_active",
		Help:      "Number of currently open RTMP connections.",
	})

	subscribersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rtmp_relay",
		Name:      "stream_subscribers",
		Help:      "Number of subscribers on a given stream.",
	}, []string{"stream_key"})
)

// ConnectionCounter reports the current number of live connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Server serves /healthz and /metrics over HTTP.
type Server struct {
	addr   string
	reg    Registry
	conns  ConnectionCounter
	router *mux.Router
	srv    *http.Server
	start  time.Time
}

// New builds a status Server. listen is an address like "127.0.0.1:9090"; an
// empty address means the status endpoint is disabled (New returns nil).
func New(listen string, reg Registry, conns ConnectionCounter) *Server {
	if listen == "" {
		return nil
	}
	router := mux.NewRouter()
	s := &Server{
		addr:   listen,
		reg:    reg,
		conns:  conns,
		router: router,
		start:  time.Now(),
		srv: &http.Server{
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealthz)
	metrics := promhttp.Handler()
	router.Methods(http.MethodGet).Path("/metrics").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.refreshGauges()
		metrics.ServeHTTP(w, r)
	})
	return s
}

// ListenAndServe starts accepting connections. It blocks until the listener
// errors (typically due to Close being called on a prior net.Listener).
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(l)
}

// Close shuts down the status HTTP server.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.refreshGauges()

	streamCount := s.reg.StreamCount()
	connCount := 0
	if s.conns != nil {
		connCount = s.conns.ConnectionCount()
	}

	body := map[string]interface{}{
		"status":      "ok",
		"uptime_s":    int(time.Since(s.start).Seconds()),
		"streams":     streamCount,
		"connections": connCount,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// refreshGauges recomputes the Prometheus gauges from the registry snapshot
// on each scrape/healthcheck rather than on every media event, keeping the
// hot media path free of metrics bookkeeping.
func (s *Server) refreshGauges() {
	snap := s.reg.Snapshot()
	streamsActive.Set(float64(len(snap)))
	if s.conns != nil {
		connectionsActive.Set(float64(s.conns.ConnectionCount()))
	}
	subscribersActive.Reset()
	for _, info := range snap {
		subscribersActive.WithLabelValues(info.Key).Set(float64(info.Subscribers))
	}
}
