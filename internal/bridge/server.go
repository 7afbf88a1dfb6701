package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
	"wakelisten/internal/usecase"
)

const (
	defaultAddr  = "127.0.0.1:8765"
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

// Controller is the session surface exposed over HTTP.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Status() domain.Status
}

// Config holds the bridge HTTP server configuration.
type Config struct {
	Addr   string
	Logger logrus.FieldLogger
}

// Server exposes session status and controls over HTTP and streams session
// events to websocket clients.
type Server struct {
	ctrl     Controller
	hub      *Hub
	log      logrus.FieldLogger
	srv      *http.Server
	upgrader websocket.Upgrader

	// base outlives individual requests; activations started over HTTP
	// derive from it.
	base context.Context
}

type controlResponse struct {
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func NewServer(ctrl Controller, hub *Hub, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	s := &Server{
		ctrl: ctrl,
		hub:  hub,
		log:  cfg.Logger.WithField("component", "bridge"),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		base: context.Background(),
	}
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /session/start", s.handleStart)
	mux.HandleFunc("POST /session/stop", s.handleStop)
	mux.HandleFunc("GET /events", s.handleEvents)
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe serves until ctx is done, then shuts down and disconnects
// websocket clients.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	s.log.WithField("address", s.srv.Addr).Info("bridge listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("bridge shutdown error")
		}
	}()

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server error: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	err := s.ctrl.Start(s.base)
	resp := controlResponse{Status: s.ctrl.Status()}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Error = err.Error()
	switch {
	case errors.Is(err, usecase.ErrSessionAlreadyActive):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, usecase.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, resp)
	case errors.Is(err, usecase.ErrActivationCancelled):
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	resp := controlResponse{}
	if err := s.ctrl.Stop(); err != nil {
		resp.Error = err.Error()
	}
	resp.Status = s.ctrl.Status()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	snapshot, err := s.hub.encode(EventStatus, s.ctrl.Status())
	if err != nil {
		_ = conn.Close()
		return
	}
	c := s.hub.subscribe(snapshot)
	s.log.WithField("remote", r.RemoteAddr).Debug("bridge client connected")

	go s.readPump(conn, c)
	s.writePump(conn, c)
}

// readPump discards client frames and unsubscribes when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, c *client) {
	defer s.hub.unsubscribe(c)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.hub.unsubscribe(c)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.unsubscribe(c)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
