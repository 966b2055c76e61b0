// Package shellapi exposes the command surface to a GUI shell over a loopback
// HTTP API, with a websocket stream of notifications.
package shellapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"framesense/src/clipboard"
	"framesense/src/failure"
	"framesense/src/logutil"
	"framesense/src/orchestrator"
	"framesense/src/permission"
	"framesense/src/screenshot"
)

// AppName is returned by the health endpoint so clients can tell a framesense
// resident from another program on the port.
const AppName = "framesense"

const maxBody = 32 << 20

// Commands is the command surface served by the API.
type Commands interface {
	CheckPermissions() permission.Status
	RequestPermissions() bool
	OpenSystemPreferences() error
	CaptureScreenRegion(ctx context.Context, bounds screenshot.Bounds) (screenshot.Result, error)
	CopyToClipboard(ctx context.Context, p clipboard.Payload) error
	RegisterGlobalHotkey(combo string) (string, error)
	Hotkey() string
}

// Options wires a Server. Trigger and Status may be nil when no orchestrator runs.
type Options struct {
	Commands Commands
	Trigger  func() bool
	Status   func() orchestrator.Snapshot
	Hub      *Hub
}

// Server represents the HTTP API server.
type Server struct {
	router   *mux.Router
	commands Commands
	trigger  func() bool
	status   func() orchestrator.Snapshot
	hub      *Hub
	log      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		commands: opts.Commands,
		trigger:  opts.Trigger,
		status:   opts.Status,
		hub:      opts.Hub,
		log:      logutil.Component("shellapi"),
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	s.setupRoutes()
	return s
}

// Hub returns the notification stream served on /api/events.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.localOnly)

	api.HandleFunc("/permissions", s.handleCheckPermissions).Methods("GET")
	api.HandleFunc("/permissions/request", s.handleRequestPermissions).Methods("POST")
	api.HandleFunc("/permissions/settings", s.handleOpenSettings).Methods("POST")

	api.HandleFunc("/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/clipboard", s.handleClipboard).Methods("POST")
	api.HandleFunc("/hotkey", s.handleHotkey).Methods("POST")
	api.HandleFunc("/trigger", s.handleTrigger).Methods("POST")

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/events", s.hub.ServeWS)
}

// Serve handles connections on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	s.log.Info().Str("addr", lis.Addr().String()).Msg("shell API listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.hub.Close()
		_ = srv.Shutdown(shutCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// localOnly rejects requests a browser page on another origin could forge.
// Loopback origins (a GUI shell served from localhost) and clients that send
// no Origin at all are allowed. POST bodies must be declared as JSON, which a
// cross-origin form or fetch cannot do without a preflight.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !isLoopbackOrigin(origin) {
			s.log.Warn().Str("origin", origin).Str("path", r.URL.Path).Msg("foreign origin rejected")
			writeJSON(w, http.StatusForbidden, ErrorBody{Kind: failure.KindInvalidArgument, Message: "origin not allowed"})
			return
		}
		if r.Method == http.MethodPost {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeJSON(w, http.StatusUnsupportedMediaType, ErrorBody{Kind: failure.KindInvalidArgument, Message: "content type must be application/json"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleCheckPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.commands.CheckPermissions())
}

func (s *Server) handleRequestPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"granted": s.commands.RequestPermissions()})
}

func (s *Server) handleOpenSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.OpenSystemPreferences(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var bounds screenshot.Bounds
	if err := decode(r, &bounds); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.commands.CaptureScreenRegion(r.Context(), bounds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClipboard(w http.ResponseWriter, r *http.Request) {
	var p clipboard.Payload
	if err := decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.commands.CopyToClipboard(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHotkey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Combo string `json:"combo"`
	}
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, err)
		return
	}
	combo, err := s.commands.RegisterGlobalHotkey(req.Combo)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"combo": combo})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		s.writeError(w, failure.New(failure.KindInvalidArgument, "trigger", "no capture pipeline is running"))
		return
	}
	if !s.trigger() {
		writeJSON(w, http.StatusConflict, map[string]bool{"accepted": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// Status is the body of GET /api/status.
type Status struct {
	Hotkey       string                 `json:"hotkey"`
	Orchestrator *orchestrator.Snapshot `json:"orchestrator,omitempty"`
	Subscribers  int                    `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := Status{
		Hotkey:      s.commands.Hotkey(),
		Subscribers: s.hub.Len(),
	}
	if s.status != nil {
		snap := s.status()
		resp.Orchestrator = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": AppName})
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind failure.Kind) int {
	switch kind {
	case failure.KindPermission, failure.KindCaptureDenied:
		return http.StatusForbidden
	case failure.KindHotkeyConflict:
		return http.StatusConflict
	case failure.KindInvalidBounds, failure.KindInvalidArgument:
		return http.StatusBadRequest
	case failure.KindClipboardUnavailable:
		return http.StatusServiceUnavailable
	case failure.KindExternalLaunch:
		return http.StatusBadGateway
	case failure.KindCaptureTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	status := StatusFor(kind)
	if status >= 500 {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}
	writeJSON(w, status, ErrorBody{Kind: kind, Message: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// Wrapped so that an empty body still matches io.EOF.
		return failure.Wrap(failure.KindInvalidArgument, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
