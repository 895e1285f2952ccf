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
	"context"
	"fmt"

	"github.com/bay-lms/bayd/ledger"
)

// Reconcile removes stake rows whose originating deposit sat above the
// fork point of a rollback and no longer exists on the canonical chain.
// Deposits that survived the reorg under a different transaction hash are
// re-emitted by the ingestor and re-projected under their new identity;
// this sweep only handles rows the ledger no longer backs at all.
// Processed-event entries for orphaned identities are left in place, since
// those identities can never recur.
func (p *Projector) Reconcile(ctx context.Context, forkHeight uint64) error {
	if p.client == nil {
		return fmt.Errorf("reconcile: no ledger client configured")
	}
	stakes, err := p.db.GetStakesDepositedAbove(forkHeight, nil)
	if err != nil {
		return fmt.Errorf("reconcile: list stakes: %w", err)
	}
	for _, stake := range stakes {
		cohortId, err := ledger.CohortIDFromBytes(stake.CohortID)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		state, err := p.client.GetStake(ctx, cohortId, stake.Participant)
		if err != nil {
			return fmt.Errorf(
				"reconcile: query stake %s/%s: %w",
				cohortId,
				stake.Participant,
				err,
			)
		}
		if state.Amount > 0 || state.Settled {
			if state.Amount != stake.Amount {
				// The re-emitted canonical deposit will correct this row
				p.logger.Warn(
					"stake amount differs from ledger after rollback",
					"component", "projector",
					"cohort_id", cohortId.String(),
					"participant", stake.Participant,
					"local_amount", stake.Amount,
					"ledger_amount", state.Amount,
				)
			}
			continue
		}
		lock := p.lockFor(cohortId.String() + "/" + stake.Participant)
		lock.Lock()
		err = p.db.DeleteStake(cohortId.Bytes(), stake.Participant, nil)
		lock.Unlock()
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		p.metrics.phantomsDeleted.Inc()
		p.logger.Info(
			"deleted stake forked out by rollback",
			"component", "projector",
			"cohort_id", cohortId.String(),
			"participant", stake.Participant,
			"deposit_block", stake.DepositBlock,
			"fork_height", forkHeight,
		)
	}
	return nil
}
