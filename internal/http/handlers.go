package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/socket"
)

// Pinger is anything /ready should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP face of the dispatch process: the socket endpoint plus
// a handful of operational and ingest routes.
type Server struct {
	Broker        *presence.Broker
	Geo           geo.Geo
	ETA           *eta.Estimator
	Ready         []Pinger
	NearbyRadiusM float64
	SocketOptions socket.Options

	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *mux.Router
}

type Options struct {
	Broker         *presence.Broker
	Geo            geo.Geo
	ETA            *eta.Estimator
	Ready          []Pinger
	NearbyRadiusM  float64
	SocketOptions  socket.Options
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ETA == nil {
		opts.ETA = &eta.Estimator{}
	}
	if opts.NearbyRadiusM <= 0 {
		opts.NearbyRadiusM = 5000
	}
	s := &Server{
		Broker:        opts.Broker,
		Geo:           opts.Geo,
		ETA:           opts.ETA,
		Ready:         opts.Ready,
		NearbyRadiusM: opts.NearbyRadiusM,
		SocketOptions: opts.SocketOptions,
		logger:        opts.Logger.With("component", "http"),
		upgrader:      socket.NewUpgrader(opts.AllowedOrigins),
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/presence/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	socket.Serve(w, r, &s.upgrader, s.SocketOptions, s.logger,
		func(c *socket.Client) { s.Broker.Connect(c) },
		s.Broker,
	)
}

// handleDriverLocation lets drivers without a socket report positions. The
// report goes through the same relay as driver:location.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if loc.DriverID == "" {
		http.Error(w, "driverId is required", http.StatusBadRequest)
		return
	}
	s.Broker.ReportLocation(loc)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, "lat and lng must be numbers", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	drivers, err := s.Geo.Nearby(r.Context(), lat, lng, s.NearbyRadiusM, limit)
	if err != nil {
		s.logger.Error("nearby drivers lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusServiceUnavailable)
		return
	}
	pickup := models.Location{Lat: lat, Lng: lng}
	for i := range drivers {
		from := models.Location{Lat: drivers[i].Lat, Lng: drivers[i].Lng}
		drivers[i].ETASeconds = s.ETA.Estimate(r.Context(), from, pickup)
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	stats, err := s.Broker.Stats(ctx)
	if err != nil {
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.Ready {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
