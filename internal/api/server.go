// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api exposes the HTTP surface: game management, search
// triggering, task polling and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/api/handlers"
	"github.com/autobrr/gamerr/internal/domain"
	"github.com/autobrr/gamerr/internal/metrics"
	"github.com/autobrr/gamerr/internal/models"
)

// Deps carries everything the router needs.
type Deps struct {
	Config     *domain.Config
	Games      *models.GameStore
	Related    *models.RelatedReleaseStore
	Tasks      *models.SearchTaskStore
	Metadata   handlers.MetadataProvider
	Searcher   handlers.SearchTrigger
	Downloader handlers.DownloadClientChecker
	Metrics    *metrics.Manager
}

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the router and the listener.
func NewServer(deps Deps) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Route("/health", handlers.NewHealthHandler(deps.Downloader).Routes)
		r.Route("/games", handlers.NewGamesHandler(deps.Games, deps.Related, deps.Metadata, deps.Searcher).Routes)
		r.Route("/tasks", handlers.NewTasksHandler(deps.Tasks).Routes)
	})

	if deps.Config.MetricsEnabled && deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	addr := fmt.Sprintf("%s:%d", deps.Config.Host, deps.Config.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
