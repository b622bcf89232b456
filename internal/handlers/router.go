package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docbrief/internal/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Routes struct {
	Search   *SearchHandler
	Index    *IndexHandler
	Meetings *MeetingHandler
	Auth     *middleware.Authenticator
	Limiter  *middleware.IPRateLimiter
	Store    Pinger
}

// NewRouter assembles the HTTP surface. Everything under /api requires a bearer token.
func NewRouter(rt Routes) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	if rt.Limiter != nil {
		api.Use(rt.Limiter.Middleware)
	}
	api.Use(rt.Auth.Middleware)

	api.HandleFunc("/index", rt.Index.HandleIndex).Methods(http.MethodPost)
	api.HandleFunc("/index", rt.Index.HandleClear).Methods(http.MethodDelete)
	api.HandleFunc("/index/status", rt.Index.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/search", rt.Search.HandleSearch).Methods(http.MethodPost)
	api.HandleFunc("/meetings", rt.Meetings.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/meetings/brief", rt.Meetings.HandleBrief).Methods(http.MethodPost)
	api.HandleFunc("/calendar/sync", rt.Meetings.HandleSync).Methods(http.MethodPost)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if rt.Store != nil {
			if err := rt.Store.Ping(r.Context()); err != nil {
				writeError(w, r, http.StatusServiceUnavailable, "Database unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
