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

package database

import (
	"errors"
	"fmt"

	"github.com/bay-lms/bayd/database/models"
	"gorm.io/gorm"
)

// ProcessedEventExists reports whether the given ledger event identity
// has already been applied or skipped
func (d *Database) ProcessedEventExists(
	eventId string,
	txn *gorm.DB,
) (bool, error) {
	if txn == nil {
		txn = d.DB()
	}
	entry := &models.ProcessedEvent{}
	result := txn.Where("event_id = ?", eventId).First(entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	return true, nil
}

// RecordProcessedEvent appends the event identity to the processed-event
// log. The unique index on event_id rejects duplicates; the caller treats
// that rejection as "already applied".
func (d *Database) RecordProcessedEvent(
	eventId string,
	blockNumber uint64,
	outcome string,
	note string,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	entry := &models.ProcessedEvent{
		EventID:     eventId,
		BlockNumber: blockNumber,
		Outcome:     outcome,
		Note:        note,
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("record processed event: %w", err)
	}
	return nil
}

// GetProcessedEvent returns the processed-event entry for an identity, or
// nil if none exists
func (d *Database) GetProcessedEvent(
	eventId string,
	txn *gorm.DB,
) (*models.ProcessedEvent, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.ProcessedEvent{}
	result := txn.Where("event_id = ?", eventId).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// RecordEscrowEvent appends a deposit/refund/slash history row. Duplicate
// event identities are ignored so replays stay idempotent.
func (d *Database) RecordEscrowEvent(
	evt *models.EscrowEvent,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	existing := &models.EscrowEvent{}
	result := db.Where("event_id = ?", evt.EventID).First(existing)
	if result.Error == nil {
		return nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup escrow event: %w", result.Error)
	}
	if err := db.Create(evt).Error; err != nil {
		return fmt.Errorf("record escrow event: %w", err)
	}
	return nil
}
