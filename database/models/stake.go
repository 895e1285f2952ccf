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

package models

import "time"

// Stake status values. Deposited is the only non-terminal state; a stake
// moves to exactly one of Refunded or Slashed and never transitions out
// of a terminal state.
const (
	StakeStatusDeposited = "deposited"
	StakeStatusRefunded  = "refunded"
	StakeStatusSlashed   = "slashed"
)

// StakeRecord is the projection of a single participant's escrowed
// deposit within a cohort. One row per (cohort, participant).
type StakeRecord struct {
	ID          uint   `gorm:"primarykey"`
	CohortID    []byte `gorm:"size:32;not null;uniqueIndex:idx_stake_cohort_participant"`
	Participant string `gorm:"size:64;not null;uniqueIndex:idx_stake_cohort_participant"`
	Amount      uint64 `gorm:"not null"`
	Status      string `gorm:"size:16;not null;index"`
	// LastEventID is the ledger event identity that last mutated this row
	LastEventID string `gorm:"size:80"`
	// DepositBlock is the height of the originating deposit event, kept
	// for rollback reconciliation
	DepositBlock uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SettledAt    *time.Time
}

func (StakeRecord) TableName() string {
	return "stake"
}

// Terminal returns true once the stake has reached a settled state
func (s *StakeRecord) Terminal() bool {
	return s.Status == StakeStatusRefunded || s.Status == StakeStatusSlashed
}
