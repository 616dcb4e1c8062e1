// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package server exposes the observability and query surface over HTTP:
// health probes, Prometheus metrics, read-only record queries, and a
// manual collection trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedspine/feedspine/internal/engine"
	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/storage"
)

// Config tunes the HTTP server.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	collector *engine.Collector
	http      *http.Server
}

// New builds the server around a collector.
func New(cfg Config, collector *engine.Collector) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{collector: collector}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/records/{id}/sightings", s.handleGetSightings)
		r.Get("/stats", s.handleStats)
		r.Post("/collect", s.handleCollect)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts serving. Blocks until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	logging.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady probes the store with a cheap count so a wedged database
// flips readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.collector.Store().Count(r.Context(), storage.Filter{Limit: 1}); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.collector.Store().Query(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.collector.Store().Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetSightings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.collector.Store().Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	sightings, err := s.collector.Store().GetSightings(r.Context(), rec.NaturalKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"natural_key": rec.NaturalKey,
		"sightings":   sightings,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.collector.Store().Count(r.Context(), storage.Filter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"records": count,
		"feeds":   s.collector.Feeds(),
		"dedup":   s.collector.DedupStats(),
	})
}

// handleCollect runs a synchronous collection. Intended for manual and
// scripted triggering; scheduled runs go through the collector service.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	res, err := s.collector.Collect(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// filterFromQuery builds a storage filter from URL parameters.
func filterFromQuery(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		Source:     q.Get("source"),
		RecordType: q.Get("type"),
		OrderBy:    q.Get("order_by"),
	}
	if raw := q.Get("layer"); raw != "" {
		layer, err := model.ParseLayer(raw)
		if err != nil {
			return f, err
		}
		f.Layer = &layer
	}
	for param, dst := range map[string]**time.Time{
		"published_after":  &f.PublishedAfter,
		"published_before": &f.PublishedBefore,
		"captured_after":   &f.CapturedAfter,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s: %v", model.ErrConfig, param, err)
		}
		*dst = &ts
	}
	for param, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: %s: %q", model.ErrConfig, param, raw)
		}
		*dst = n
	}
	return f, nil
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondError(w, http.StatusInternalServerError, err)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug().Err(err).Msg("response encode failed")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
