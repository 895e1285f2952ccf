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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/event"
	"github.com/bay-lms/bayd/ledger"
	"github.com/bay-lms/bayd/projector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 500
	// defaultRecentBlockWindow is how many block hashes we remember for
	// reorg detection. Forks deeper than this are not detected.
	defaultRecentBlockWindow = 64

	backoffMin = 500 * time.Millisecond
	backoffMax = 30 * time.Second
)

type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	LedgerClient ledger.Client
	EventBus     *event.EventBus
	Projector    *projector.Projector
	PromRegistry prometheus.Registerer
	// StartBlock is the height to begin ingesting from on a fresh
	// database, typically the escrow contract deployment height
	StartBlock        uint64
	PollInterval      time.Duration
	BatchSize         uint64
	RecentBlockWindow uint64
}

// Ingestor polls the ledger for new blocks, hands their events to the
// projector in ledger order, and advances a durable watermark only after
// the whole batch was handed off. A restart therefore replays from the
// last fully processed block and relies on the projector's idempotency to
// absorb the overlap.
type Ingestor struct {
	logger            *slog.Logger
	db                *database.Database
	client            ledger.Client
	eventBus          *event.EventBus
	projector         *projector.Projector
	startBlock        uint64
	pollInterval      time.Duration
	batchSize         uint64
	recentBlockWindow uint64
	metrics           ingestMetrics

	ctx        context.Context
	cancel     context.CancelFunc
	doneChan   chan struct{}
	fatalChan  chan error
	startMutex sync.Mutex
	started    bool
}

type ingestMetrics struct {
	watermark   prometheus.Gauge
	eventsTotal prometheus.Counter
	reorgsTotal prometheus.Counter
}

func New(cfg *Config) *Ingestor {
	i := &Ingestor{
		logger:            cfg.Logger,
		db:                cfg.Database,
		client:            cfg.LedgerClient,
		eventBus:          cfg.EventBus,
		projector:         cfg.Projector,
		startBlock:        cfg.StartBlock,
		pollInterval:      cfg.PollInterval,
		batchSize:         cfg.BatchSize,
		recentBlockWindow: cfg.RecentBlockWindow,
		doneChan:          make(chan struct{}),
		fatalChan:         make(chan error, 1),
	}
	if i.logger == nil {
		i.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if i.pollInterval <= 0 {
		i.pollInterval = defaultPollInterval
	}
	if i.batchSize == 0 {
		i.batchSize = defaultBatchSize
	}
	if i.recentBlockWindow == 0 {
		i.recentBlockWindow = defaultRecentBlockWindow
	}
	registry := cfg.PromRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	promRegistry := promauto.With(registry)
	i.metrics.watermark = promRegistry.NewGauge(prometheus.GaugeOpts{
		Name: "bayd_ingest_watermark_height",
		Help: "height of the last fully processed block",
	})
	i.metrics.eventsTotal = promRegistry.NewCounter(prometheus.CounterOpts{
		Name: "bayd_ingest_events_total",
		Help: "total ledger events handed to the projector",
	})
	i.metrics.reorgsTotal = promRegistry.NewCounter(prometheus.CounterOpts{
		Name: "bayd_ingest_reorgs_total",
		Help: "total chain reorganizations detected",
	})
	return i
}

// Start launches the poll loop
func (i *Ingestor) Start() error {
	i.startMutex.Lock()
	defer i.startMutex.Unlock()
	if i.started {
		return errors.New("ingestor already started")
	}
	i.started = true
	i.ctx, i.cancel = context.WithCancel(context.Background())
	go i.run()
	return nil
}

// Stop shuts down the poll loop and waits for it to exit
func (i *Ingestor) Stop() error {
	i.startMutex.Lock()
	defer i.startMutex.Unlock()
	if !i.started {
		return nil
	}
	i.cancel()
	<-i.doneChan
	i.started = false
	return nil
}

// FatalChan delivers a non-recoverable ingest failure, such as an
// authentication rejection from the ledger endpoint
func (i *Ingestor) FatalChan() <-chan error {
	return i.fatalChan
}

func (i *Ingestor) run() {
	defer close(i.doneChan)
	backoff := backoffMin
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-i.ctx.Done():
			return
		case <-timer.C:
		}
		err := i.poll()
		if err == nil {
			backoff = backoffMin
			timer.Reset(i.pollInterval)
			continue
		}
		if i.ctx.Err() != nil {
			return
		}
		if !errors.Is(err, ledger.ErrTemporarilyUnavailable) &&
			!isStorageRetryable(err) {
			i.logger.Error(
				"ingest failed",
				"component", "ingest",
				"error", err,
			)
			i.fatalChan <- err
			return
		}
		i.logger.Warn(
			"ingest poll failed, backing off",
			"component", "ingest",
			"backoff", backoff.String(),
			"error", err,
		)
		timer.Reset(backoff)
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// isStorageRetryable reports whether a poll error is worth retrying
// rather than fatal. Projection storage errors are retried since the
// watermark has not advanced past the failed batch.
func isStorageRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!ledger.IsAuthFailure(err)
}

// watermark returns the last fully processed height, falling back to just
// below the configured start block on a fresh database
func (i *Ingestor) watermark() (uint64, error) {
	height, found, err := i.db.GetCheckpoint(
		models.CheckpointKeyWatermark,
		nil,
	)
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}
	if !found {
		if i.startBlock > 0 {
			return i.startBlock - 1, nil
		}
		return 0, nil
	}
	return height, nil
}

func (i *Ingestor) poll() error {
	watermark, err := i.watermark()
	if err != nil {
		return err
	}
	watermark, err = i.checkRollback(watermark)
	if err != nil {
		return err
	}
	tip, err := i.client.BlockNumber(i.ctx)
	if err != nil {
		return fmt.Errorf("query tip: %w", err)
	}
	for watermark < tip {
		if i.ctx.Err() != nil {
			return context.Canceled
		}
		toBlock := min(tip, watermark+i.batchSize)
		if err := i.ingestRange(watermark+1, toBlock); err != nil {
			return err
		}
		watermark = toBlock
	}
	return nil
}

func (i *Ingestor) ingestRange(fromBlock, toBlock uint64) error {
	events, err := i.client.Logs(i.ctx, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetch logs %d-%d: %w", fromBlock, toBlock, err)
	}
	for _, raw := range events {
		if err := i.projector.Apply(raw); err != nil {
			// Watermark untouched, the whole batch replays
			return fmt.Errorf("project: %w", err)
		}
		i.metrics.eventsTotal.Inc()
		if err := i.db.SetRecentBlock(
			raw.BlockNumber,
			raw.BlockHash,
			nil,
		); err != nil {
			return err
		}
	}
	// Remember the batch boundary hash even when the range was empty, so
	// reorg detection has something to compare against
	tipHash, err := i.client.BlockHash(i.ctx, toBlock)
	if err != nil {
		return fmt.Errorf("query block hash %d: %w", toBlock, err)
	}
	if err := i.db.SetRecentBlock(toBlock, tipHash, nil); err != nil {
		return err
	}
	if err := i.db.SetCheckpoint(
		models.CheckpointKeyWatermark,
		toBlock,
		nil,
	); err != nil {
		return err
	}
	i.metrics.watermark.Set(float64(toBlock))
	if toBlock > i.recentBlockWindow {
		if err := i.db.PruneRecentBlocksBelow(
			toBlock-i.recentBlockWindow,
			nil,
		); err != nil {
			return err
		}
	}
	i.logger.Debug(
		"ingested blocks",
		"component", "ingest",
		"from_block", fromBlock,
		"to_block", toBlock,
		"events", len(events),
	)
	return nil
}

// checkRollback compares remembered block hashes against the canonical
// chain and rewinds the watermark to the fork point on a mismatch.
// Re-emitted events above the fork are absorbed by the projector's
// idempotency key; rows whose deposits vanished entirely are cleaned up
// by the reconciliation sweep.
func (i *Ingestor) checkRollback(watermark uint64) (uint64, error) {
	if watermark == 0 {
		return watermark, nil
	}
	storedHash, err := i.db.GetRecentBlockHash(watermark, nil)
	if err != nil {
		return watermark, err
	}
	if storedHash == "" {
		return watermark, nil
	}
	canonicalHash, err := i.client.BlockHash(i.ctx, watermark)
	if err != nil {
		return watermark, fmt.Errorf(
			"query block hash %d: %w",
			watermark,
			err,
		)
	}
	if canonicalHash == storedHash {
		return watermark, nil
	}
	forkHeight, err := i.findForkHeight(watermark)
	if err != nil {
		return watermark, err
	}
	i.metrics.reorgsTotal.Inc()
	i.logger.Warn(
		"chain rollback detected",
		"component", "ingest",
		"old_tip", watermark,
		"fork_height", forkHeight,
	)
	if err := i.db.DeleteRecentBlocksAbove(forkHeight, nil); err != nil {
		return watermark, err
	}
	if err := i.db.SetCheckpoint(
		models.CheckpointKeyWatermark,
		forkHeight,
		nil,
	); err != nil {
		return watermark, err
	}
	i.metrics.watermark.Set(float64(forkHeight))
	if err := i.projector.Reconcile(i.ctx, forkHeight); err != nil {
		return forkHeight, err
	}
	if i.eventBus != nil {
		i.eventBus.Publish(
			event.RollbackEventType,
			event.NewEvent(
				event.RollbackEventType,
				event.RollbackEvent{
					ForkHeight:   forkHeight,
					OldTipHeight: watermark,
				},
			),
		)
	}
	return forkHeight, nil
}

// findForkHeight walks down from the mismatching height until a
// remembered hash matches the canonical chain again. Running out of
// remembered hashes means the fork is deeper than the retention window;
// ingestion resumes from there and operator review is advised.
func (i *Ingestor) findForkHeight(mismatchHeight uint64) (uint64, error) {
	for height := mismatchHeight; height > 0; height-- {
		storedHash, err := i.db.GetRecentBlockHash(height-1, nil)
		if err != nil {
			return 0, err
		}
		if storedHash == "" {
			i.logger.Warn(
				"rollback deeper than remembered blocks",
				"component", "ingest",
				"height", height-1,
			)
			return height - 1, nil
		}
		canonicalHash, err := i.client.BlockHash(i.ctx, height-1)
		if err != nil {
			return 0, fmt.Errorf(
				"query block hash %d: %w",
				height-1,
				err,
			)
		}
		if canonicalHash == storedHash {
			return height - 1, nil
		}
	}
	return 0, nil
}
