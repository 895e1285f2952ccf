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

package projector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/event"
	"github.com/bay-lms/bayd/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

// Invariant violations. These mark events that contradict already
// projected state; the event is recorded as skipped and processing
// continues.
var (
	ErrUnknownStake   = errors.New("no stake row for participant")
	ErrAlreadySettled = errors.New("stake already settled")
)

type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	EventBus     *event.EventBus
	LedgerClient ledger.Client
	PromRegistry prometheus.Registerer
}

// Projector applies decoded ledger events to the read model exactly once.
// Every application inserts the event identity into the processed-event
// log inside the same transaction as the mutation, so a crash between
// delivery and commit replays cleanly and a replayed identity no-ops.
type Projector struct {
	logger   *slog.Logger
	db       *database.Database
	eventBus *event.EventBus
	client   ledger.Client
	metrics  projectorMetrics

	// lockMutex guards lock acquisition; events for the same
	// (cohort, participant) pair apply strictly one at a time
	lockMutex sync.Mutex
	keyLocks  map[string]*sync.Mutex
}

type projectorMetrics struct {
	appliedTotal    *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	duplicatesTotal prometheus.Counter
	phantomsDeleted prometheus.Counter
}

func New(cfg *Config) *Projector {
	p := &Projector{
		logger:   cfg.Logger,
		db:       cfg.Database,
		eventBus: cfg.EventBus,
		client:   cfg.LedgerClient,
		keyLocks: map[string]*sync.Mutex{},
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	p.registerMetrics(cfg.PromRegistry)
	return p
}

func (p *Projector) registerMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	promRegistry := promauto.With(registry)
	p.metrics.appliedTotal = promRegistry.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bayd_projector_events_applied_total",
			Help: "total ledger events applied to the read model",
		},
		[]string{"event_name"},
	)
	p.metrics.skippedTotal = promRegistry.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bayd_projector_events_skipped_total",
			Help: "total ledger events recorded as skipped",
		},
		[]string{"event_name"},
	)
	p.metrics.duplicatesTotal = promRegistry.NewCounter(
		prometheus.CounterOpts{
			Name: "bayd_projector_events_duplicate_total",
			Help: "total redelivered ledger events absorbed as no-ops",
		},
	)
	p.metrics.phantomsDeleted = promRegistry.NewCounter(
		prometheus.CounterOpts{
			Name: "bayd_projector_phantom_stakes_deleted_total",
			Help: "total stake rows deleted by rollback reconciliation",
		},
	)
}

// lockFor returns the mutex serializing mutations for a single
// (cohort, participant) pair
func (p *Projector) lockFor(key string) *sync.Mutex {
	p.lockMutex.Lock()
	defer p.lockMutex.Unlock()
	lock, ok := p.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.keyLocks[key] = lock
	}
	return lock
}

func mutationKey(decoded ledger.Event) string {
	switch e := decoded.(type) {
	case ledger.DepositEvent:
		return e.CohortID.String() + "/" + e.Participant
	case ledger.RefundEvent:
		return e.CohortID.String() + "/" + e.Participant
	case ledger.SlashEvent:
		return e.CohortID.String() + "/" + e.Participant
	case ledger.AssignmentSubmittedEvent:
		return e.CohortID.String() + "/" + e.Participant
	case ledger.CertificateMintedEvent:
		return e.CohortID.String() + "/" + e.Participant
	default:
		return ""
	}
}

// Apply projects a single raw ledger event. Redelivered events and events
// that violate state-machine invariants return nil; only storage failures
// surface as errors, and those leave no processed-event entry so the
// caller can redeliver.
func (p *Projector) Apply(raw ledger.RawEvent) error {
	decoded, err := ledger.DecodeEvent(raw)
	if err != nil {
		p.logger.Warn(
			"skipping undecodable event",
			"component", "projector",
			"event_id", raw.SourceID(),
			"error", err,
		)
		return p.recordSkipped(raw, fmt.Sprintf("decode: %s", err))
	}

	lock := p.lockFor(mutationKey(decoded))
	lock.Lock()
	defer lock.Unlock()

	exists, err := p.db.ProcessedEventExists(raw.SourceID(), nil)
	if err != nil {
		return fmt.Errorf("check processed event: %w", err)
	}
	if exists {
		p.logger.Debug(
			"duplicate event",
			"component", "projector",
			"event_id", raw.SourceID(),
		)
		p.metrics.duplicatesTotal.Inc()
		return nil
	}

	txn := p.db.Transaction()
	if txn.Error != nil {
		return fmt.Errorf("begin transaction: %w", txn.Error)
	}
	err = p.applyMutation(raw, decoded, txn)
	if err == nil {
		err = p.db.RecordProcessedEvent(
			raw.SourceID(),
			raw.BlockNumber,
			models.ProcessedOutcomeApplied,
			"",
			txn,
		)
	}
	if err != nil {
		txn.Rollback()
		if errors.Is(err, ErrUnknownStake) ||
			errors.Is(err, ErrAlreadySettled) {
			p.logger.Warn(
				"skipping event that violates projected state",
				"component", "projector",
				"event_id", raw.SourceID(),
				"event_name", raw.Name,
				"error", err,
			)
			return p.recordSkipped(raw, err.Error())
		}
		if isUniqueViolation(err) {
			// Lost a race with another applier for the same identity
			p.metrics.duplicatesTotal.Inc()
			return nil
		}
		return fmt.Errorf("apply event %s: %w", raw.SourceID(), err)
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("commit event %s: %w", raw.SourceID(), err)
	}

	p.metrics.appliedTotal.WithLabelValues(raw.Name).Inc()
	p.logger.Debug(
		"applied event",
		"component", "projector",
		"event_id", raw.SourceID(),
		"event_name", raw.Name,
		"block_number", raw.BlockNumber,
	)
	if p.eventBus != nil {
		p.eventBus.Publish(
			event.LedgerEventType,
			event.NewEvent(
				event.LedgerEventType,
				event.LedgerEvent{Raw: raw, Decoded: decoded},
			),
		)
	}
	return nil
}

func (p *Projector) applyMutation(
	raw ledger.RawEvent,
	decoded ledger.Event,
	txn *gorm.DB,
) error {
	switch e := decoded.(type) {
	case ledger.DepositEvent:
		return p.applyDeposit(raw, e, txn)
	case ledger.RefundEvent:
		return p.applySettlement(
			raw,
			e.CohortID,
			e.Participant,
			e.Amount,
			0,
			models.StakeStatusRefunded,
			txn,
		)
	case ledger.SlashEvent:
		return p.applySettlement(
			raw,
			e.CohortID,
			e.Participant,
			e.Amount,
			e.SlashAmount,
			models.StakeStatusSlashed,
			txn,
		)
	case ledger.AssignmentSubmittedEvent:
		return p.applySubmission(raw, e, txn)
	case ledger.CertificateMintedEvent:
		return p.applyCertificate(raw, e, txn)
	default:
		return fmt.Errorf("unhandled event type %T", decoded)
	}
}

func (p *Projector) applyDeposit(
	raw ledger.RawEvent,
	e ledger.DepositEvent,
	txn *gorm.DB,
) error {
	stake, err := p.db.GetStake(e.CohortID.Bytes(), e.Participant, txn)
	if err != nil {
		return err
	}
	if stake == nil {
		err = p.db.CreateStake(
			&models.StakeRecord{
				CohortID:     e.CohortID.Bytes(),
				Participant:  e.Participant,
				Amount:       e.Amount,
				LastEventID:  raw.SourceID(),
				DepositBlock: raw.BlockNumber,
			},
			txn,
		)
		if err != nil {
			return err
		}
	} else {
		ok, err := p.db.TopUpStake(
			e.CohortID.Bytes(),
			e.Participant,
			e.Amount,
			raw.SourceID(),
			txn,
		)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf(
				"%w: deposit after %s settlement",
				ErrAlreadySettled,
				stake.Status,
			)
		}
	}
	return p.db.RecordEscrowEvent(
		&models.EscrowEvent{
			EventID:     raw.SourceID(),
			Kind:        "deposit",
			CohortID:    e.CohortID.Bytes(),
			Participant: e.Participant,
			Amount:      e.Amount,
			TxHash:      raw.TxHash,
			BlockNumber: raw.BlockNumber,
			BlockTime:   raw.BlockTimestamp,
		},
		txn,
	)
}

func (p *Projector) applySettlement(
	raw ledger.RawEvent,
	cohortId ledger.CohortID,
	participant string,
	amount uint64,
	slashAmount uint64,
	terminalStatus string,
	txn *gorm.DB,
) error {
	ok, err := p.db.SettleStake(
		cohortId.Bytes(),
		participant,
		terminalStatus,
		raw.BlockTimestamp,
		raw.SourceID(),
		txn,
	)
	if err != nil {
		return err
	}
	if !ok {
		stake, err := p.db.GetStake(cohortId.Bytes(), participant, txn)
		if err != nil {
			return err
		}
		if stake == nil {
			return fmt.Errorf(
				"%w: %s for %s in cohort %s",
				ErrUnknownStake,
				terminalStatus,
				participant,
				cohortId,
			)
		}
		return fmt.Errorf(
			"%w: %s after %s",
			ErrAlreadySettled,
			terminalStatus,
			stake.Status,
		)
	}
	kind := "refund"
	if terminalStatus == models.StakeStatusSlashed {
		kind = "slash"
	}
	if terminalStatus == models.StakeStatusRefunded {
		// A self-refund only settles for participants who met their
		// cohort's requirements, so the refund is as authoritative a
		// completion signal as an on-ledger mint
		if err := p.issueCertificate(raw, cohortId, participant, txn); err != nil {
			return err
		}
	}
	return p.db.RecordEscrowEvent(
		&models.EscrowEvent{
			EventID:     raw.SourceID(),
			Kind:        kind,
			CohortID:    cohortId.Bytes(),
			Participant: participant,
			Amount:      amount,
			SlashAmount: slashAmount,
			TxHash:      raw.TxHash,
			BlockNumber: raw.BlockNumber,
			BlockTime:   raw.BlockTimestamp,
		},
		txn,
	)
}

// issueCertificate records the completion certificate when a refund is
// projected. Whichever of the refund path and the mint-event path runs
// first creates the row; the other detects it and no-ops.
func (p *Projector) issueCertificate(
	raw ledger.RawEvent,
	cohortId ledger.CohortID,
	participant string,
	txn *gorm.DB,
) error {
	cert := &models.CertificateRecord{
		CohortID:    cohortId.Bytes(),
		Participant: participant,
		IssuedAt:    raw.BlockTimestamp,
	}
	cohort, err := p.db.GetCohort(cohortId.Bytes(), txn)
	if err != nil {
		return err
	}
	if cohort != nil {
		cert.Name = cohort.Name
	}
	created, err := p.db.CreateCertificateIfAbsent(cert, txn)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug(
			"certificate already recorded",
			"component", "projector",
			"event_id", raw.SourceID(),
		)
	}
	return nil
}

func (p *Projector) applySubmission(
	raw ledger.RawEvent,
	e ledger.AssignmentSubmittedEvent,
	txn *gorm.DB,
) error {
	isLate := false
	assignment, err := p.db.GetAssignment(
		e.CohortID.Bytes(),
		e.AssignmentID,
		txn,
	)
	if err != nil {
		return err
	}
	if assignment != nil && !assignment.Deadline.IsZero() {
		isLate = raw.BlockTimestamp.After(assignment.Deadline)
	}
	return p.db.UpsertSubmission(
		e.CohortID.Bytes(),
		e.AssignmentID,
		e.Participant,
		e.CidHash,
		e.Links,
		raw.BlockTimestamp,
		isLate,
		txn,
	)
}

func (p *Projector) applyCertificate(
	raw ledger.RawEvent,
	e ledger.CertificateMintedEvent,
	txn *gorm.DB,
) error {
	created, err := p.db.CreateCertificateIfAbsent(
		&models.CertificateRecord{
			CohortID:    e.CohortID.Bytes(),
			Participant: e.Participant,
			TokenID:     e.TokenID,
			URI:         e.URI,
			IssuedAt:    raw.BlockTimestamp,
		},
		txn,
	)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug(
			"certificate already recorded",
			"component", "projector",
			"event_id", raw.SourceID(),
		)
	}
	return nil
}

// recordSkipped writes a skipped entry for the event identity in its own
// transaction so a redelivery of the same bad event stays a no-op
func (p *Projector) recordSkipped(raw ledger.RawEvent, note string) error {
	if len(note) > 255 {
		note = note[:255]
	}
	err := p.db.RecordProcessedEvent(
		raw.SourceID(),
		raw.BlockNumber,
		models.ProcessedOutcomeSkipped,
		note,
		nil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	p.metrics.skippedTotal.WithLabelValues(raw.Name).Inc()
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
