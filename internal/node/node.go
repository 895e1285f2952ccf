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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bay-lms/bayd"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func cohortSeeds(cfg *config.Config) ([]bayd.CohortSeed, error) {
	seeds := make([]bayd.CohortSeed, 0, len(cfg.Cohorts))
	for _, cohort := range cfg.Cohorts {
		row, err := cohort.Model()
		if err != nil {
			return nil, err
		}
		assignments := make([]*models.Assignment, 0, len(cohort.Assignments))
		for _, assignment := range cohort.Assignments {
			assignments = append(assignments, &models.Assignment{
				CohortID:     row.CohortID,
				AssignmentID: assignment.Id,
				Title:        assignment.Title,
				Deadline:     assignment.Deadline,
				Required:     assignment.Required,
			})
		}
		seeds = append(seeds, bayd.CohortSeed{
			Cohort:      row,
			Assignments: assignments,
		})
	}
	return seeds, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	// Parse poll interval
	var pollInterval time.Duration
	if cfg.PollInterval != "" {
		var err error
		pollInterval, err = time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval: %w", err)
		}
	}

	seeds, err := cohortSeeds(cfg)
	if err != nil {
		return fmt.Errorf("invalid cohort config: %w", err)
	}

	d, err := bayd.New(
		bayd.NewConfig(
			bayd.WithLogger(logger),
			bayd.WithDatabasePath(cfg.DatabasePath),
			bayd.WithLedgerEndpoint(cfg.LedgerEndpoint),
			bayd.WithApiListenAddress(cfg.ApiListenAddr),
			bayd.WithCohortSeeds(seeds),
			bayd.WithStartBlock(cfg.StartBlock),
			bayd.WithPollInterval(pollInterval),
			bayd.WithBatchSize(cfg.BatchSize),
			bayd.WithRecentBlockWindow(cfg.RecentBlockWindow),
			bayd.WithShutdownTimeout(shutdownTimeout),
			// Enable metrics with default prometheus registry
			bayd.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		fmt.Sprintf("serving prometheus metrics on :%d", cfg.MetricsPort),
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run daemon in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := d.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown daemon
		if err := d.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("daemon stopped")
			// Graceful cleanup
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := d.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("daemon error", "error", err)
		signalCtxStop()

		// Shutdown daemon resources
		if stopErr := d.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		// Cleanup on error
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}
