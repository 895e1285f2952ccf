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

package bayd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bay-lms/bayd/api"
	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/event"
	"github.com/bay-lms/bayd/ingest"
	"github.com/bay-lms/bayd/ledger"
	"github.com/bay-lms/bayd/projector"
	"github.com/bay-lms/bayd/settlement"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	ledgerClient  ledger.Client
	projector     *projector.Projector
	evaluator     *eligibility.Evaluator
	gateway       *settlement.Gateway
	ingestor      *ingest.Ingestor
	api           *api.Api
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Database returns the projection store. It is nil before Run has
// opened it
func (n *Node) Database() *database.Database {
	return n.db
}

func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Seed cohort configuration
	if err := n.seedCohorts(); err != nil {
		return fmt.Errorf("failed to seed cohort config: %w", err)
	}
	// Ledger client
	n.ledgerClient = n.config.ledgerClient
	if n.ledgerClient == nil {
		n.ledgerClient = ledger.NewRPCClient(ledger.RPCClientConfig{
			Endpoint:     n.config.ledgerEndpoint,
			Logger:       n.config.logger,
			PromRegistry: n.config.promRegistry,
		})
	}
	// Projection pipeline
	n.projector = projector.New(&projector.Config{
		Logger:       n.config.logger,
		Database:     n.db,
		EventBus:     n.eventBus,
		LedgerClient: n.ledgerClient,
		PromRegistry: n.config.promRegistry,
	})
	n.evaluator = eligibility.New(&eligibility.Config{
		Logger:   n.config.logger,
		Database: n.db,
	})
	n.gateway = settlement.New(&settlement.Config{
		Logger:       n.config.logger,
		Database:     n.db,
		Evaluator:    n.evaluator,
		LedgerClient: n.ledgerClient,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	n.ingestor = ingest.New(&ingest.Config{
		Logger:            n.config.logger,
		Database:          n.db,
		LedgerClient:      n.ledgerClient,
		EventBus:          n.eventBus,
		Projector:         n.projector,
		PromRegistry:      n.config.promRegistry,
		StartBlock:        n.config.startBlock,
		PollInterval:      n.config.pollInterval,
		BatchSize:         n.config.batchSize,
		RecentBlockWindow: n.config.recentBlockWindow,
	})
	if err := n.ingestor.Start(); err != nil {
		return fmt.Errorf("failed to start ingestor: %w", err)
	}
	// REST API
	n.api = api.New(api.Config{
		ListenAddress: n.config.apiListenAddress,
		Logger:        n.config.logger,
		Database:      n.db,
		Evaluator:     n.evaluator,
		Gateway:       n.gateway,
	})
	if err := n.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	// Wait for shutdown signal or a fatal ingest error
	select {
	case <-ctx.Done():
		return nil
	case err := <-n.ingestor.FatalChan():
		return fmt.Errorf("ingest: %w", err)
	case <-n.done:
		return nil
	}
}

func (n *Node) seedCohorts() error {
	for _, seed := range n.config.cohortSeeds {
		if err := n.db.UpsertCohort(seed.Cohort, nil); err != nil {
			return err
		}
		for _, assignment := range seed.Assignments {
			if err := n.db.UpsertAssignment(assignment, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain the ingest pipeline
	n.config.logger.Debug("shutdown phase 2: draining ingest")

	if n.ingestor != nil {
		if stopErr := n.ingestor.Stop(); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("ingestor shutdown: %w", stopErr),
			)
		}
	}

	// Phase 3: Flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
