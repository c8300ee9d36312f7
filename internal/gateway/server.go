package gateway

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/session"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/gorilla/websocket"
)

// Sessions is the slice of the session manager the gateway drives.
type Sessions interface {
	CreateSession(ctx context.Context, participants []string, graphID string) (string, error)
	SubmitCommand(ctx context.Context, sessionID, participantID, text string, submittedAt time.Time) (*session.CommandAck, error)
	EndSession(ctx context.Context, sessionID string, status blackboard.SessionStatus, reason string) error
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Snapshot(ctx context.Context, sessionID string) (*session.Snapshot, error)
	ActiveCount() int
}

// Backend is the blackboard access the gateway needs for health checks and event streaming.
type Backend interface {
	eventbus.Store
	eventbus.Subscriber
	Ping(ctx context.Context) error
	InstanceName() string
}

// Server exposes sessions over HTTP and streams world events over WebSocket.
type Server struct {
	sessions Sessions
	backend  Backend
	server   *http.Server
	upgrader websocket.Upgrader

	// CommandWait bounds how long ?wait=true blocks for a command result
	CommandWait time.Duration

	// AllowedOrigins limits cross-origin callers; empty allows any origin
	AllowedOrigins []string
}

// New creates a gateway listening on addr once started.
func New(sessions Sessions, backend Backend, addr string) *Server {
	s := &Server{
		sessions:    sessions,
		backend:     backend,
		CommandWait: 30 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleSnapshot)
	mux.HandleFunc("POST /sessions/{id}/commands", s.handleCommand)
	mux.HandleFunc("POST /sessions/{id}/end", s.handleEnd)
	mux.HandleFunc("POST /sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	return s.withCORS(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	log.Printf("[Gateway] Listening on %s", ln.Addr())

	// Streams are hijacked connections that Shutdown does not wait for; tie them to ctx.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	log.Printf("[Gateway] Shutting down")
	return s.server.Shutdown(shutdownCtx)
}
