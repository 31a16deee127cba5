package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openoverlayrouter/oord/pkg/metrics"
	"github.com/openoverlayrouter/oord/pkg/netm"
)

// InterfaceLister provides the tracked interface set
type InterfaceLister interface {
	List() []netm.Interface
}

// Status represents the daemon's operational status
type Status struct {
	Healthy    bool                      `json:"healthy"`
	Ready      bool                      `json:"ready"`
	Backend    string                    `json:"backend"`
	Uptime     string                    `json:"uptime"`
	Interfaces map[string]netm.Interface `json:"interfaces"`
	StartTime  time.Time                 `json:"start_time"`
}

// Server provides health check, status and metrics endpoints
type Server struct {
	addr       string
	server     *http.Server
	logger     logr.Logger
	startTime  time.Time
	backend    string
	interfaces InterfaceLister

	mu    sync.RWMutex
	ready bool
}

// Config holds the health server configuration
type Config struct {
	Address    string
	Port       int
	Backend    string
	Interfaces InterfaceLister
	Logger     logr.Logger
}

// NewServer creates a new health check server
func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = 8082
	}

	addr := fmt.Sprintf("%s:%d", config.Address, config.Port)
	if config.Address == "" {
		addr = fmt.Sprintf(":%d", config.Port)
	}

	s := &Server{
		addr:       addr,
		logger:     config.Logger.WithName("health"),
		startTime:  time.Now(),
		backend:    config.Backend,
		interfaces: config.Interfaces,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the health check server
func (s *Server) Start() error {
	s.logger.Info("Starting health check server", "address", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err, "Health server error")
		}
	}()

	return nil
}

// Stop stops the health check server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.server.Shutdown(ctx)
}

// SetReady marks the daemon as ready
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// healthy holds when at least one tracked interface is up
func (s *Server) healthy(list []netm.Interface) bool {
	for _, iface := range list {
		if iface.Status == netm.StatusUp {
			return true
		}
	}
	return false
}

func (s *Server) list() []netm.Interface {
	if s.interfaces == nil {
		return nil
	}
	return s.interfaces.List()
}

// handleHealth handles /health and /healthz requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthy(s.list()) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\n")
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "unhealthy\n")
	}
}

// handleReady handles /ready and /readyz requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.isReady() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ready\n")
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready\n")
	}
}

// handleStatus handles /status requests
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	list := s.list()
	status := Status{
		Healthy:    s.healthy(list),
		Ready:      s.isReady(),
		Backend:    s.backend,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		StartTime:  s.startTime,
		Interfaces: make(map[string]netm.Interface, len(list)),
	}
	for _, iface := range list {
		status.Interfaces[iface.Name] = iface
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
