// Package server serves liveness and readiness probes for the daemon modes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/versiongc/versiongc/internal/logging"
)

// ReadinessChecker is a dependency that can report whether it is reachable.
type ReadinessChecker interface {
	// Name returns the name of the component for display in health status.
	Name() string

	// CheckReady returns nil if the component is ready.
	CheckReady(ctx context.Context) error
}

// HealthServer serves /healthz for liveness probes and /readyz for readiness
// probes.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	loops            map[string]*loopStatus
	staleAfter       time.Duration
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
}

// loopStatus tracks a background loop's last heartbeat.
type loopStatus struct {
	running   bool
	lastCheck time.Time
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status string                 `json:"status"`
	Loops  map[string]bool        `json:"loops,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Defaults.
const (
	DefaultReadinessTimeout = 5 * time.Second
	DefaultStaleAfter       = 2 * time.Minute
)

// NewHealthServer creates a HealthServer.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger,
		loops:            make(map[string]*loopStatus),
		staleAfter:       DefaultStaleAfter,
		readinessTimeout: DefaultReadinessTimeout,
	}
}

// Handler returns the probe handlers, for mounting on another mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	return mux
}

// RegisterReadinessCheck adds a dependency checked on every /readyz request.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the timeout for individual readiness checks.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// SetStaleAfter sets how long a loop may go without a heartbeat before
// /healthz reports it unhealthy.
func (h *HealthServer) SetStaleAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staleAfter = d
}

// RegisterLoop marks a background loop as running.
func (h *HealthServer) RegisterLoop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loops[name] = &loopStatus{running: true, lastCheck: time.Now()}
}

// Heartbeat records that a loop is still making progress.
func (h *HealthServer) Heartbeat(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.loops[name]; ok {
		s.lastCheck = time.Now()
	}
}

// UnregisterLoop marks a loop as stopped.
func (h *HealthServer) UnregisterLoop(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.loops[name]; ok {
		s.running = false
	}
}

// SetShuttingDown makes both probes return 503.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// Start listens on addr and serves the probes.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts down the health server.
func (h *HealthServer) Close() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(context.Context) HealthStatus { return h.CheckHealth() })
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.CheckReadiness)
}

func (h *HealthServer) respond(w http.ResponseWriter, r *http.Request, check func(context.Context) HealthStatus) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		json.NewEncoder(w).Encode(status)
	}
}

func shuttingDown() HealthStatus {
	return HealthStatus{
		Status: "shutting_down",
		Checks: map[string]CheckResult{"shutdown": {Healthy: false, Message: "process is shutting down"}},
	}
}

// CheckHealth returns the liveness status.
func (h *HealthServer) CheckHealth() HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	status := HealthStatus{
		Status: "ok",
		Loops:  make(map[string]bool),
		Checks: map[string]CheckResult{"shutdown": {Healthy: true, Message: "process is running"}},
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	allOK := true
	for name, s := range h.loops {
		ok := s.running && time.Since(s.lastCheck) < h.staleAfter
		status.Loops[name] = ok
		allOK = allOK && ok
	}
	if !allOK {
		status.Status = "degraded"
		status.Checks["loops"] = CheckResult{Healthy: false, Message: "one or more background loops are not running"}
	} else if len(h.loops) > 0 {
		status.Checks["loops"] = CheckResult{Healthy: true, Message: "all background loops are running"}
	}
	return status
}

// CheckReadiness runs every registered readiness check.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	status := HealthStatus{
		Status: "ok",
		Checks: map[string]CheckResult{"shutdown": {Healthy: true, Message: "process is running"}},
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.readinessChecks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = "not_ready"
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
		} else {
			status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
		}
	}
	return status
}
