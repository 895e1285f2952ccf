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

// Processed event outcomes
const (
	ProcessedOutcomeApplied = "applied"
	ProcessedOutcomeSkipped = "skipped"
)

// ProcessedEvent is the append-only log of ledger event identities that
// have already been applied (or deliberately skipped). The unique index
// on EventID is what turns at-least-once delivery into exactly-once
// application.
type ProcessedEvent struct {
	ID uint `gorm:"primarykey"`
	// EventID is "{transactionHash}-{logIndex}"
	EventID     string `gorm:"size:80;uniqueIndex;not null"`
	BlockNumber uint64 `gorm:"index"`
	Outcome     string `gorm:"size:16;not null"`
	// Note records why a skipped event was not applied, for operator review
	Note      string `gorm:"size:255"`
	CreatedAt time.Time
}

func (ProcessedEvent) TableName() string {
	return "processed_event"
}
