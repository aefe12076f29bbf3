// Package server exposes the WebSocket surface of VoxRelay.
//
// Two endpoints carry all realtime traffic:
//
//	/v1/speak  — the speaker: binary frames are source PCM, text frames are
//	             JSON control commands (pause, resume, mute, unmute,
//	             setVolume, sessionEnded).
//	/v1/listen — a listener: receives binary frames of synthesized audio and
//	             JSON control frames; sends nothing.
//
// Both take sessionId and language query parameters. The speaker's language
// is the source language; a listener's is its target language.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxrelay/voxrelay/internal/app"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/pkg/transport"
)

// sessionIDPattern constrains session IDs to URL-safe slugs.
var sessionIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// languagePattern matches ISO 639-1 codes with an optional region subtag.
var languagePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Za-z]{2})?$`)

// Server is the realtime HTTP front end. Construct with New.
type Server struct {
	app *app.App
	hub *transport.Hub
	log *slog.Logger

	httpSrv *http.Server
}

// New creates a Server listening on addr once ListenAndServe is called.
func New(a *app.App, hub *transport.Hub, addr string) *Server {
	s := &Server{
		app: a,
		hub: hub,
		log: slog.Default(),
	}
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Handler returns the routed HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/speak", s.handleSpeak)
	mux.HandleFunc("GET /v1/listen", s.handleListen)
	return mux
}

// ListenAndServe blocks serving the realtime endpoints until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("realtime server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// sessionParams validates the common query parameters of both endpoints.
func sessionParams(r *http.Request) (sessionID, language string, err error) {
	sessionID = r.URL.Query().Get("sessionId")
	language = r.URL.Query().Get("language")
	if !sessionIDPattern.MatchString(sessionID) {
		return "", "", fmt.Errorf("invalid sessionId %q", sessionID)
	}
	if !languagePattern.MatchString(language) {
		return "", "", fmt.Errorf("invalid language %q", language)
	}
	return sessionID, language, nil
}

// handleSpeak upgrades the speaker connection and owns the session lifetime:
// the session ends when the speaker socket closes.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	sessionID, language, err := sessionParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("speaker upgrade failed", "session_id", sessionID, "err", err)
		return
	}

	speakerConnID := uuid.NewString()
	runner, err := s.app.StartSession(r.Context(), sessionID, language, speakerConnID)
	if err != nil {
		s.log.Warn("start session failed", "session_id", sessionID, "err", err)
		_ = ws.Close(websocket.StatusPolicyViolation, "session unavailable")
		return
	}
	// Teardown must survive the request context, which dies with the socket.
	defer func() {
		if err := s.app.EndSession(context.WithoutCancel(r.Context()), sessionID); err != nil {
			s.log.Warn("end session failed", "session_id", sessionID, "err", err)
		}
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	for {
		typ, data, err := ws.Read(r.Context())
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if err := runner.SendAudio(data); err != nil {
				s.log.Warn("audio forward failed", "session_id", sessionID, "err", err)
				return
			}
		case websocket.MessageText:
			var cmd app.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.log.Warn("bad command frame", "session_id", sessionID, "err", err)
				continue
			}
			cmd.SessionID = sessionID
			if err := s.app.HandleCommand(r.Context(), cmd); err != nil {
				s.log.Warn("command rejected", "session_id", sessionID,
					"command", cmd.Type, "err", err)
			}
			if cmd.Type == app.CmdSessionEnded {
				return
			}
		}
	}
}

// handleListen upgrades a listener connection, registers it with the hub, and
// holds it open until the peer goes away.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	sessionID, language, err := sessionParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.app.Registry().Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("listener upgrade failed", "session_id", sessionID, "err", err)
		return
	}

	connID := uuid.NewString()
	s.hub.Register(connID, ws)
	if err := s.app.AddListener(r.Context(), sessionID, connID, language); err != nil {
		s.log.Warn("listener join failed", "session_id", sessionID, "err", err)
		_ = s.hub.Disconnect(connID)
		return
	}
	defer func() {
		ctx := context.WithoutCancel(r.Context())
		// The session may already be gone when the speaker ended first.
		if err := s.app.RemoveListener(ctx, sessionID, connID); err != nil &&
			!errors.Is(err, registry.ErrSessionNotFound) {
			s.log.Debug("listener leave", "connection_id", connID, "err", err)
		}
		_ = s.hub.Disconnect(connID)
	}()

	// Listeners send nothing; reading detects close and discards strays.
	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			return
		}
	}
}
