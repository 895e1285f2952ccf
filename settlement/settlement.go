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

package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/event"
	"github.com/bay-lms/bayd/ledger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business errors surfaced to callers. The API layer maps these onto
// HTTP statuses.
var (
	ErrNoStake        = errors.New("no stake deposited")
	ErrNotEligible    = errors.New("requirements not satisfied")
	ErrAlreadySettled = errors.New("stake already settled")
	ErrInFlight       = errors.New("settlement already in flight")
)

type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	Evaluator    *eligibility.Evaluator
	LedgerClient ledger.Client
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// Gateway submits refund and slash transactions to the ledger. It checks
// the local read model and then the authoritative ledger state before
// submitting, but the escrow contract remains the serialization point:
// whichever settlement lands first on the ledger wins, and the loser's
// submission reverts. Nothing here marks a stake settled locally; that
// happens only when the confirming event arrives through the stream.
type Gateway struct {
	logger    *slog.Logger
	db        *database.Database
	evaluator *eligibility.Evaluator
	client    ledger.Client
	eventBus  *event.EventBus
	metrics   gatewayMetrics

	// inFlight prevents this daemon from submitting twice for the same
	// pair while the first transaction is unconfirmed
	inFlightMutex sync.Mutex
	inFlight      map[string]struct{}
}

type gatewayMetrics struct {
	submissionsTotal *prometheus.CounterVec
}

func New(cfg *Config) *Gateway {
	g := &Gateway{
		logger:    cfg.Logger,
		db:        cfg.Database,
		evaluator: cfg.Evaluator,
		client:    cfg.LedgerClient,
		eventBus:  cfg.EventBus,
		inFlight:  map[string]struct{}{},
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	registry := cfg.PromRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	g.metrics.submissionsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bayd_settlement_submissions_total",
			Help: "total settlement transactions submitted to the ledger",
		},
		[]string{"kind", "outcome"},
	)
	return g
}

func (g *Gateway) acquire(key string) bool {
	g.inFlightMutex.Lock()
	defer g.inFlightMutex.Unlock()
	if _, exists := g.inFlight[key]; exists {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *Gateway) release(key string) {
	g.inFlightMutex.Lock()
	defer g.inFlightMutex.Unlock()
	delete(g.inFlight, key)
}

// RequestRefund validates refund eligibility and submits a self-refund
// transaction for the participant's stake. The returned handle identifies
// the unconfirmed transaction; the stake flips to refunded only when the
// Refund event is projected.
func (g *Gateway) RequestRefund(
	ctx context.Context,
	cohortId ledger.CohortID,
	participant string,
) (ledger.TxHandle, error) {
	// Correlation ID tying together the log entries for this request
	requestId := uuid.NewString()
	participant = ledger.NormalizeAddress(participant)
	key := cohortId.String() + "/" + participant
	if !g.acquire(key) {
		return ledger.TxHandle{}, ErrInFlight
	}
	defer g.release(key)

	result, err := g.evaluator.EvaluateRefund(cohortId, participant)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("evaluate eligibility: %w", err)
	}
	if !result.Eligible {
		if result.Reason == eligibility.ReasonNoStake {
			return ledger.TxHandle{}, ErrNoStake
		}
		if strings.HasPrefix(
			result.Reason,
			eligibility.ReasonStakeSettled,
		) {
			return ledger.TxHandle{}, ErrAlreadySettled
		}
		return ledger.TxHandle{}, fmt.Errorf(
			"%w: %s",
			ErrNotEligible,
			ineligibleDetail(result),
		)
	}

	if err := g.checkLedgerState(ctx, cohortId, participant); err != nil {
		g.metrics.submissionsTotal.WithLabelValues("refund", "rejected").Inc()
		return ledger.TxHandle{}, err
	}

	handle, err := g.client.SubmitRefund(ctx, cohortId, participant)
	if err != nil {
		return ledger.TxHandle{}, g.submitFailure(
			"refund", requestId, cohortId, participant, err,
		)
	}
	g.submitSuccess("refund", requestId, cohortId, participant, handle)
	return handle, nil
}

// RequestSlash submits a slash transaction forfeiting the given basis
// points of the participant's stake. Slashing is an operator decision, so
// completion requirements are not consulted; only a live deposited stake
// is required.
func (g *Gateway) RequestSlash(
	ctx context.Context,
	cohortId ledger.CohortID,
	participant string,
	bps uint64,
) (ledger.TxHandle, error) {
	requestId := uuid.NewString()
	if bps > 10000 {
		return ledger.TxHandle{}, fmt.Errorf(
			"slash basis points out of range: %d",
			bps,
		)
	}
	participant = ledger.NormalizeAddress(participant)
	key := cohortId.String() + "/" + participant
	if !g.acquire(key) {
		return ledger.TxHandle{}, ErrInFlight
	}
	defer g.release(key)

	stake, err := g.db.GetStake(cohortId.Bytes(), participant, nil)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("lookup stake: %w", err)
	}
	if stake == nil {
		return ledger.TxHandle{}, ErrNoStake
	}
	if stake.Terminal() {
		return ledger.TxHandle{}, ErrAlreadySettled
	}

	if err := g.checkLedgerState(ctx, cohortId, participant); err != nil {
		g.metrics.submissionsTotal.WithLabelValues("slash", "rejected").Inc()
		return ledger.TxHandle{}, err
	}

	handle, err := g.client.SubmitSlash(ctx, cohortId, participant, bps)
	if err != nil {
		return ledger.TxHandle{}, g.submitFailure(
			"slash", requestId, cohortId, participant, err,
		)
	}
	g.submitSuccess("slash", requestId, cohortId, participant, handle)
	return handle, nil
}

// checkLedgerState re-checks the authoritative stake state just before
// submission. The local read model can lag the ledger, so a stake that
// looks live locally may already be settled.
func (g *Gateway) checkLedgerState(
	ctx context.Context,
	cohortId ledger.CohortID,
	participant string,
) error {
	state, err := g.client.GetStake(ctx, cohortId, participant)
	if err != nil {
		return fmt.Errorf("query ledger stake: %w", err)
	}
	if state.Settled {
		return ErrAlreadySettled
	}
	if state.Amount == 0 {
		return ErrNoStake
	}
	return nil
}

func (g *Gateway) submitFailure(
	kind string,
	requestId string,
	cohortId ledger.CohortID,
	participant string,
	err error,
) error {
	if isAlreadySettledRevert(err) {
		// Lost the race at the contract; the winning settlement's event
		// will arrive through the stream
		g.metrics.submissionsTotal.WithLabelValues(kind, "reverted").Inc()
		g.logger.Info(
			"settlement lost race at ledger",
			"component", "settlement",
			"request_id", requestId,
			"kind", kind,
			"cohort_id", cohortId.String(),
			"participant", participant,
		)
		return ErrAlreadySettled
	}
	g.metrics.submissionsTotal.WithLabelValues(kind, "error").Inc()
	return fmt.Errorf("submit %s: %w", kind, err)
}

func (g *Gateway) submitSuccess(
	kind string,
	requestId string,
	cohortId ledger.CohortID,
	participant string,
	handle ledger.TxHandle,
) {
	g.metrics.submissionsTotal.WithLabelValues(kind, "submitted").Inc()
	g.logger.Info(
		"submitted settlement transaction",
		"component", "settlement",
		"request_id", requestId,
		"kind", kind,
		"cohort_id", cohortId.String(),
		"participant", participant,
		"tx_hash", handle.TxHash,
	)
	if g.eventBus != nil {
		g.eventBus.Publish(
			event.SettlementSubmittedEventType,
			event.NewEvent(
				event.SettlementSubmittedEventType,
				event.SettlementSubmittedEvent{
					CohortID:    cohortId,
					Participant: participant,
					TxHash:      handle.TxHash,
					Kind:        kind,
				},
			),
		)
	}
}

// ineligibleDetail summarizes the unmet requirements for error messages
func ineligibleDetail(result eligibility.Result) string {
	if result.Reason != "" {
		return result.Reason
	}
	unmet := []string{}
	for _, requirement := range result.Requirements {
		if requirement.Satisfied {
			continue
		}
		unmet = append(unmet, fmt.Sprintf(
			"assignment %d: %s",
			requirement.AssignmentID,
			requirement.Reason,
		))
	}
	return strings.Join(unmet, "; ")
}

func isAlreadySettledRevert(err error) bool {
	return err != nil &&
		strings.Contains(err.Error(), "execution reverted") &&
		strings.Contains(err.Error(), "already settled")
}
