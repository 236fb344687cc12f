// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ============================================================================
// SERVER
// ============================================================================

const shutdownGrace = 5 * time.Second

// Server binds the sync hub and the asset cache onto one listener.
//
// Routes:
//   - GET /sync    - websocket endpoint for peer sync traffic
//   - GET /healthz - liveness probe with version and client count
//   - everything else - caching asset proxy
type Server struct {
	addr   string
	hub    *Hub
	cache  *Cache
	logger *slog.Logger
	http   *http.Server
}

// Options configures a relay server.
type Options struct {
	// Addr is the listen address, host:port.
	Addr string

	// CacheDir is the root under which generation directories live.
	CacheDir string

	// CacheVersion names the active generation.
	CacheVersion string

	// Upstream is the asset origin the cache proxies, e.g.
	// http://localhost:3000. Empty disables the cache routes.
	Upstream string

	Logger *slog.Logger
}

// NewServer wires the hub and, when an upstream is configured, the cache.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{addr: opts.Addr, logger: logger}

	if opts.Upstream != "" {
		upstream, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream url: %w", err)
		}
		cache, err := NewCache(opts.CacheDir, opts.CacheVersion, upstream, logger)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}

	s.hub = NewHub(logger, func() {
		if s.cache != nil {
			s.cache.Activate()
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/sync", s.hub)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cache != nil {
		mux.Handle("/", s.cache)
	}

	s.http = &http.Server{Addr: opts.Addr, Handler: mux}
	return s, nil
}

// Hub exposes the sync hub, mainly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// Run activates the current cache generation, serves until ctx is
// cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	if s.cache != nil {
		s.cache.Activate()
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.logger.Info("relay listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	version := ""
	if s.cache != nil {
		version = s.cache.Version()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"cacheVersion": version,
		"clients":      s.hub.ClientCount(),
	})
}
