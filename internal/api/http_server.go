// Package api is the local control surface of the sync agent.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eventnet/internal/client"
	"eventnet/internal/config"
	"eventnet/internal/logging"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the agent's state and operations over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	agent  *client.Agent
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, agent *client.Agent, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		agent:  agent,
		auth:   NewHTTPAuth(cfg),
		logger: logging.Component(logger, "http"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/v1/state", srv.handleState)

	mux.HandleFunc("POST /api/v1/actions", srv.handleAddAction)
	mux.HandleFunc("GET /api/v1/queue", srv.handleQueue)
	mux.HandleFunc("DELETE /api/v1/queue", srv.handleClearQueue)
	mux.HandleFunc("POST /api/v1/queue/process", srv.handleProcessQueue)
	mux.HandleFunc("DELETE /api/v1/queue/{id}", srv.handleDiscardAction)

	mux.HandleFunc("GET /api/v1/notifications", srv.handleNotifications)
	mux.HandleFunc("POST /api/v1/notifications", srv.handleAddNotification)
	mux.HandleFunc("POST /api/v1/notifications/read", srv.handleMarkAllRead)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", srv.handleMarkRead)
	mux.HandleFunc("DELETE /api/v1/notifications/{id}", srv.handleRemoveNotification)
	mux.HandleFunc("GET /api/v1/notifications/export", srv.handleExport)

	mux.HandleFunc("POST /api/v1/updates/acknowledge", srv.handleAcknowledgeUpdates)

	mux.HandleFunc("POST /api/v1/network", srv.handleNetwork)
	mux.HandleFunc("POST /api/v1/visibility", srv.handleVisibility)
	mux.HandleFunc("POST /api/v1/focus", srv.handleFocus)
	mux.HandleFunc("POST /api/v1/session/login", srv.handleLogin)
	mux.HandleFunc("POST /api/v1/session/logout", srv.handleLogout)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           loggingMiddleware(srv.logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("control API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
