// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package httpapi exposes the local HTTP surface: the task collection view,
// submit and cancel, health and Prometheus metrics. It binds to loopback by
// default and is the integration point for frontends.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/models"
)

// shutdownGrace bounds graceful shutdown on context cancellation.
const shutdownGrace = 5 * time.Second

// TaskService is the engine surface the HTTP handlers need. Implemented by
// *engine.Engine.
type TaskService interface {
	Tasks() []models.Task
	Submit(ctx context.Context, uri string) (*models.Task, error)
	Cancel(ctx context.Context, id int64) error
}

// Server serves the local HTTP API.
type Server struct {
	cfg     config.HTTPConfig
	service TaskService
}

// NewServer creates the HTTP server for the given task service.
func NewServer(cfg config.HTTPConfig, service TaskService) *Server {
	return &Server{cfg: cfg, service: service}
}

// Routes builds the router. Split out for handler tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", s.handleTasks)
		r.Post("/tasks", s.handleSubmit)
		r.Delete("/tasks/{id}", s.handleCancel)
	})

	return r
}

// Serve runs the HTTP server until the context is canceled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Server) String() string {
	return "http-api"
}
