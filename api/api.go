// Copyright 2025 Bay LMS Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/settlement"
)

type Config struct {
	ListenAddress string
	Logger        *slog.Logger
	Database      *database.Database
	Evaluator     *eligibility.Evaluator
	Gateway       *settlement.Gateway
}

// Api is the REST surface over the projected read model and the
// settlement gateway
type Api struct {
	config     Config
	logger     *slog.Logger
	db         *database.Database
	evaluator  *eligibility.Evaluator
	gateway    *settlement.Gateway
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance
func New(cfg Config) *Api {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	return &Api{
		config:    cfg,
		logger:    logger,
		db:        cfg.Database,
		evaluator: cfg.Evaluator,
		gateway:   cfg.Gateway,
	}
}

// Start starts the HTTP server in a background goroutine
func (a *Api) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}

	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	if err := a.startServer(server); err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return err
	}

	a.logger.Info(
		"API listener started on " + a.config.ListenAddress,
	)

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		srv := a.httpServer
		a.httpServer = nil
		a.mu.Unlock()

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (a *Api) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	if srv != nil {
		a.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
	}
	return nil
}

// Routes builds the request multiplexer. Exposed for tests.
func (a *Api) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc(
		"GET /v1/cohorts/{cohortId}/stakes/{participant}",
		a.handleGetStake,
	)
	mux.HandleFunc(
		"GET /v1/cohorts/{cohortId}/submissions/{participant}",
		a.handleListSubmissions,
	)
	mux.HandleFunc(
		"GET /v1/cohorts/{cohortId}/eligibility/{participant}",
		a.handleEligibility,
	)
	mux.HandleFunc(
		"GET /v1/cohorts/{cohortId}/certificates/{participant}",
		a.handleGetCertificate,
	)
	mux.HandleFunc(
		"POST /v1/cohorts/{cohortId}/settlements/{participant}",
		a.handleSettlement,
	)
	mux.HandleFunc(
		"POST /v1/cohorts/{cohortId}/grades",
		a.handleGrade,
	)
	return mux
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine
func (a *Api) startServer(server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	return nil
}
