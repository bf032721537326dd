package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"

	"cassino-live/internal/game"
	"cassino-live/internal/kv"
	"cassino-live/internal/logging"
	"cassino-live/internal/session"
	"cassino-live/internal/ws"
)

func newRouter(store kv.Store, mgr *session.Manager, engine *game.TurnTracker, wsServer *ws.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(apiLogMiddleware()).Get("/healthz", healthHandler(store))

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLogMiddleware())
		r.Post("/rooms/{room_id}/join", joinHandler(mgr, engine))
		r.Get("/rooms/{room_id}/outcome", outcomeHandler(mgr))
	})

	// The websocket upgrade stays outside the request logger; the
	// connection outlives the request.
	r.Get("/ws", wsServer.HandleWS)
	return r
}

func apiLogMiddleware() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:  slog.LevelInfo,
			Schema: httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				rc := chi.RouteContext(req.Context())
				route := req.URL.Path
				if rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("route", route),
				}
			},
		},
	)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store kv.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := store.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "kv": "down"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "kv": "up"})
	}
}

// joinHandler mints the session token for a player entering the room.
// Reconnects reuse the token; a second join for the same seat re-mints
// and invalidates nothing, since validation is signature-based.
func joinHandler(mgr *session.Manager, engine *game.TurnTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		var body struct {
			PlayerID   string `json:"player_id"`
			PlayerName string `json:"player_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if roomID == "" || body.PlayerID == "" {
			writeHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if _, err := mgr.Outcome(r.Context(), roomID); err == nil {
			writeHTTPError(w, http.StatusConflict, "room_closed")
			return
		} else if !errors.Is(err, session.ErrNotFound) {
			writeHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		raw, err := mgr.CreateSession(r.Context(), roomID, body.PlayerID, body.PlayerName, r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		engine.Seat(roomID, body.PlayerID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":     raw,
			"room_id":   roomID,
			"player_id": body.PlayerID,
		})
	}
}

func outcomeHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		out, err := mgr.Outcome(r.Context(), roomID)
		if errors.Is(err, session.ErrNotFound) {
			writeHTTPError(w, http.StatusNotFound, "outcome_not_found")
			return
		}
		if err != nil {
			writeHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func writeHTTPError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": code})
}
