package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// StatusProvider is the display query interface
type StatusProvider interface {
	Status() types.SystemStatus
}

// TaskScanner is the task registry as seen by /health
type TaskScanner interface {
	ScanHealth() bool
	Tasks() []registry.TaskRecord
}

// Options configures the HTTP listener
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HealthServer provides the status, health and metrics endpoints
type HealthServer struct {
	status StatusProvider
	tasks  TaskScanner
	events *events.Broker
	mux    *http.ServeMux
	server *http.Server
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewHealthServer creates the HTTP server. Either source may be nil.
func NewHealthServer(status StatusProvider, tasks TaskScanner) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		status: status,
		tasks:  tasks,
		mux:    mux,
		done:   make(chan struct{}),
		logger: log.WithComponent("api"),
	}

	// Register endpoints
	hs.handle("/health", http.HandlerFunc(hs.healthHandler))
	hs.handle("/ready", metrics.ReadyHandler())
	hs.handle("/live", metrics.LivenessHandler())
	hs.handle("/status", http.HandlerFunc(hs.statusHandler))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// WithEvents streams the broker's events on /events
func (hs *HealthServer) WithEvents(broker *events.Broker) *HealthServer {
	hs.events = broker
	hs.handle("/events", http.HandlerFunc(hs.eventsHandler))
	return hs
}

func (hs *HealthServer) handle(path string, h http.Handler) {
	hs.mux.Handle(path, Instrument(path, ReadOnly(h)))
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (hs *HealthServer) Start(opts Options) error {
	hs.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      hs.mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	hs.logger.Info().Str("addr", opts.Addr).Msg("HTTP server listening")
	if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open event streams and stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.once.Do(func() { close(hs.done) })
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// TaskResponse is one worker in the /health response
type TaskResponse struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Priority            int       `json:"priority"`
	Core                int       `json:"core"`
	StackHeadroom       int       `json:"stack_headroom"`
	MissedDeadlines     int       `json:"missed_deadlines"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	Healthy             bool      `json:"healthy"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	metrics.HealthStatus
	Tasks []TaskResponse `json:"tasks,omitempty"`
}

// healthHandler combines the component reports with a fresh registry scan
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{HealthStatus: metrics.GetHealth()}
	healthy := response.Status == "healthy"

	if hs.tasks != nil {
		if !hs.tasks.ScanHealth() {
			healthy = false
			response.Message = "one or more tasks unhealthy"
		}
		for _, rec := range hs.tasks.Tasks() {
			response.Tasks = append(response.Tasks, TaskResponse{
				Name:                rec.Config.Name,
				State:               string(rec.Health.State),
				Priority:            rec.Config.Priority,
				Core:                rec.Config.Core,
				StackHeadroom:       rec.Health.StackHeadroom,
				MissedDeadlines:     rec.Health.MissedDeadlines,
				ConsecutiveFailures: rec.Health.ConsecutiveFailures,
				LastHeartbeat:       rec.Health.LastHeartbeat,
				Healthy:             rec.Health.Healthy,
			})
		}
	}

	statusCode := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

// statusHandler serves the display query interface
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if hs.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, hs.status.Status())
}

// eventsHandler streams broker events as server-sent events until the
// client goes away or the server shuts down
func (hs *HealthServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	sub := hs.events.Subscribe()
	defer hs.events.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := rc.Flush(); err != nil {
		hs.logger.Warn().Err(err).Msg("Event stream not supported")
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-hs.done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				hs.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
