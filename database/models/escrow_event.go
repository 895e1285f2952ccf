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

// EscrowEvent is the per-event history row mirroring the raw
// deposit/refund/slash entries from the ledger, kept for dashboards and
// audit. Business state lives in StakeRecord, not here.
type EscrowEvent struct {
	ID          uint   `gorm:"primarykey"`
	EventID     string `gorm:"size:80;uniqueIndex;not null"`
	Kind        string `gorm:"size:16;not null;index"`
	CohortID    []byte `gorm:"size:32;index"`
	Participant string `gorm:"size:64;index"`
	Amount      uint64
	// SlashAmount is the forfeited portion; zero except for slash events
	SlashAmount uint64
	TxHash      string `gorm:"size:80"`
	BlockNumber uint64
	BlockTime   time.Time
	CreatedAt   time.Time
}

func (EscrowEvent) TableName() string {
	return "escrow_event"
}
