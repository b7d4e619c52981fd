// Package statusapi serves the local status API and streams sync reports
// over WebSocket.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/peteski22/samaysync/internal/cursor"
	syncer "github.com/peteski22/samaysync/internal/sync"
)

const shutdownTimeout = 5 * time.Second

var _ Scheduler = (*syncer.Scheduler)(nil)

// AuthChecker reports whether usable credentials are available. It is called
// on every status request, so implementations must not contact the network.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// CursorStore is the subset of the cursor store exposed over the API.
type CursorStore interface {
	All() []cursor.Cursor
	Get(bucketID string) (cursor.Cursor, bool)
	Reset(ctx context.Context, bucketID string) error
	Summary() cursor.Summary
}

// Scheduler controls background passes.
type Scheduler interface {
	Running() bool
	Start()
	Statistics() syncer.Statistics
	Stop() error
	Subscribe(fn func(*syncer.Report)) func()
	SyncNow(ctx context.Context) *syncer.Report
}

// Config holds the configuration for creating a Server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// AllowedOrigins are origin patterns accepted for WebSocket connections.
	AllowedOrigins []string

	// Auth reports authentication state.
	Auth AuthChecker

	// Cursors is the cursor store.
	Cursors CursorStore

	// DryRun is reported in the status view.
	DryRun bool

	// Interval is reported in the status view.
	Interval time.Duration

	// Logger is the structured logger for the server.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Scheduler runs and reports passes.
	Scheduler Scheduler
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Auth == nil {
		errs = append(errs, errors.New("auth checker is required"))
	}
	if c.Cursors == nil {
		errs = append(errs, errors.New("cursor store is required"))
	}
	if c.Scheduler == nil {
		errs = append(errs, errors.New("scheduler is required"))
	}
	return errors.Join(errs...)
}

// Server exposes sync status and control over HTTP.
type Server struct {
	addr           string
	allowedOrigins []string
	auth           AuthChecker
	cursors        CursorStore
	dryRun         bool
	hub            *hub
	interval       time.Duration
	listener       net.Listener
	logger         *slog.Logger
	scheduler      Scheduler
	server         *http.Server
	unsubscribe    func()
}

// Status is the combined status view.
//
//nolint:tagliatelle // Status API uses snake_case.
type Status struct {
	Authenticated   bool              `json:"authenticated"`
	Cursors         cursor.Summary    `json:"cursors"`
	DryRun          bool              `json:"dry_run"`
	IntervalSeconds float64           `json:"interval_seconds"`
	Running         bool              `json:"running"`
	Statistics      syncer.Statistics `json:"statistics"`
}

// New creates a Server and subscribes it to the scheduler's reports.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		addr:           cfg.Addr,
		allowedOrigins: cfg.AllowedOrigins,
		auth:           cfg.Auth,
		cursors:        cfg.Cursors,
		dryRun:         cfg.DryRun,
		hub:            newHub(logger, now),
		interval:       cfg.Interval,
		logger:         logger,
		scheduler:      cfg.Scheduler,
	}

	s.unsubscribe = cfg.Scheduler.Subscribe(func(r *syncer.Report) {
		s.hub.publish(MessageTypeReport, r)
	})

	return s, nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/sync-state", s.handleSyncState)
	mux.HandleFunc("GET /api/cursors/{bucket}", s.handleGetCursor)
	mux.HandleFunc("DELETE /api/cursors/{bucket}", s.handleResetCursor)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/sync-start", s.handleStart)
	mux.HandleFunc("POST /api/sync-stop", s.handleStop)
	mux.HandleFunc("GET /api/reports", s.handleReports)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("status API listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API stopped", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected report clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

// Shutdown stops the server and disconnects report clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	s.hub.close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Status{
		Authenticated:   s.auth.IsAuthenticated(r.Context()),
		Cursors:         s.cursors.Summary(),
		DryRun:          s.dryRun,
		IntervalSeconds: s.interval.Seconds(),
		Running:         s.scheduler.Running(),
		Statistics:      s.scheduler.Statistics(),
	})
}

func (s *Server) handleSyncState(w http.ResponseWriter, _ *http.Request) {
	all := s.cursors.All()
	states := make(map[string]cursor.Cursor, len(all))
	for _, c := range all {
		states[c.BucketID] = c
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	bucketID := r.PathValue("bucket")

	c, ok := s.cursors.Get(bucketID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no cursor for bucket %s", bucketID))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleResetCursor(w http.ResponseWriter, r *http.Request) {
	bucketID := r.PathValue("bucket")

	if err := s.cursors.Reset(r.Context(), bucketID); err != nil {
		s.logger.Error("failed to reset cursor", "bucket_id", bucketID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("cursor reset", "bucket_id", bucketID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// A client disconnect must not abandon a pass halfway through.
	report := s.scheduler.SyncNow(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.scheduler.Running()})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Stop(); err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.scheduler.Running()})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	data, err := json.Marshal(s.scheduler.Statistics())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encoding statistics")
		return
	}

	first := Message{Data: data, Timestamp: s.hub.now(), Type: MessageTypeStatistics}
	if !s.hub.add(conn, first) {
		return
	}
	s.hub.drain(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
