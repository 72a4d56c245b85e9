// Package server assembles the kiosk HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"joinrecs/internal/attendance"
	"joinrecs/internal/roster"
	"joinrecs/internal/session"
)

type Deps struct {
	Roster     roster.Service
	Attendance attendance.Service
	Authority  *session.Authority
	Location   *time.Location
	Logger     zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter returns the kiosk routes. Admin routes sit behind the session
// authority; the service layer checks capabilities on each call.
func NewRouter(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	members := roster.NewHandler(deps.Roster)
	checkins := attendance.NewHandler(deps.Attendance)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(deps.Logger.With().Str("component", "http").Logger()))
	r.Use(requestIDLogger)
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/keepalive", keepalive(deps))
	r.Post("/checkin", checkins.HandleCheckIn)
	r.Get("/members/search", members.HandleSearch)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", deps.Authority.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(deps.Authority.Middleware)
			r.Use(session.RequireSession)

			r.Get("/log", checkins.HandleDailyLog)
			r.Delete("/log/{kind}/{id}", checkins.HandleDelete)
			r.Get("/members", members.HandleList)
			r.Post("/members", members.HandleAdd)
			r.Patch("/members/{id}/status", members.HandleUpdateStatus)
			r.Get("/members/{id}/history", members.HandleHistory)
		})
	})
	return r
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

type keepaliveResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Timezone  string    `json:"timezone"`
}

func keepalive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := keepaliveResponse{
			Success:   true,
			Message:   "database reachable",
			Timestamp: deps.Now().In(deps.Location),
			Timezone:  deps.Location.String(),
		}
		status := http.StatusOK
		if err := deps.Roster.Keepalive(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("keepalive query failed")
			resp.Success = false
			resp.Message = "database unreachable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
