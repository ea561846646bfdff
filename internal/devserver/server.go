// Package devserver is a small in-memory document server speaking the
// method-addressed RPC and websocket protocols the desk client uses. It
// backs local development and the integration tests.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/auth"
	"github.com/matthewbaird/desk/internal/event"
)

// Config holds server configuration.
type Config struct {
	Port    int
	Backend *Backend
	Hub     *Hub
	// Issuer signs and checks session tokens. Nil disables authentication.
	Issuer *auth.Issuer
	// Events, when set, is served at GET /api/events.
	Events *event.Recorder
}

// Handler assembles the routes.
func Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recovery)
	r.Use(Logging)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Issuer != nil {
		r.Post("/api/method/login", loginHandler(cfg.Issuer))
	}

	var pub event.Publisher
	if cfg.Hub != nil {
		pub = cfg.Hub
	}
	api := NewAPI(cfg.Backend, pub)
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Issuer))
		r.Post("/api/method/{method}", api.ServeMethod)
		if cfg.Hub != nil {
			r.Get("/socket", cfg.Hub.ServeHTTP)
		}
		if cfg.Events != nil {
			r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"message": cfg.Events.Events(r.URL.Query().Get("type"))})
			})
		}
	})
	return r
}

// loginHandler issues a token for the posted user. The dev server trusts
// the caller; there is no password check.
func loginHandler(iss *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			User  string   `json:"usr"`
			Roles []string `json:"roles"`
		}
		if err := decodeJSON(r, &req); err != nil || req.User == "" {
			writeError(w, "login", errBadRequest("usr is required"))
			return
		}
		token, err := iss.Issue(req.User, req.Roles)
		if err != nil {
			writeError(w, "login", err)
			return
		}
		glog.Infof("devserver: issued session for %s", req.User)
		writeJSON(w, http.StatusOK, map[string]any{"message": map[string]string{"token": token, "user": req.User}})
	}
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	glog.Infof("starting dev server on %s (%d doctypes)", addr, len(cfg.Backend.Registry().Names()))

	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
