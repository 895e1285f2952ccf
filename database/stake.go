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
	"time"

	"github.com/bay-lms/bayd/database/models"
	"gorm.io/gorm"
)

// GetStake returns the stake row for a (cohort, participant) pair, or nil
// if none exists
func (d *Database) GetStake(
	cohortId []byte,
	participant string,
	txn *gorm.DB,
) (*models.StakeRecord, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.StakeRecord{}
	result := txn.Where(
		"cohort_id = ? AND participant = ?",
		cohortId,
		participant,
	).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// CreateStake inserts a new stake row in the Deposited state
func (d *Database) CreateStake(
	stake *models.StakeRecord,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	stake.Status = models.StakeStatusDeposited
	if err := db.Create(stake).Error; err != nil {
		return fmt.Errorf("create stake: %w", err)
	}
	return nil
}

// TopUpStake increases the amount of a still-deposited stake. The guard on
// status makes concurrent settlement and top-up mutually exclusive.
func (d *Database) TopUpStake(
	cohortId []byte,
	participant string,
	addAmount uint64,
	eventId string,
	txn *gorm.DB,
) (bool, error) {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.StakeRecord{}).
		Where(
			"cohort_id = ? AND participant = ? AND status = ?",
			cohortId,
			participant,
			models.StakeStatusDeposited,
		).
		Updates(map[string]any{
			"amount":        gorm.Expr("amount + ?", addAmount),
			"last_event_id": eventId,
		})
	if result.Error != nil {
		return false, fmt.Errorf("top up stake: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SettleStake transitions a stake from Deposited to the given terminal
// status using a compare-and-set on the current status, so concurrent
// refund and slash attempts for the same stake cannot both succeed.
// Returns false when no still-deposited row matched.
func (d *Database) SettleStake(
	cohortId []byte,
	participant string,
	terminalStatus string,
	settledAt time.Time,
	eventId string,
	txn *gorm.DB,
) (bool, error) {
	if terminalStatus != models.StakeStatusRefunded &&
		terminalStatus != models.StakeStatusSlashed {
		return false, fmt.Errorf(
			"invalid terminal stake status: %s",
			terminalStatus,
		)
	}
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.StakeRecord{}).
		Where(
			"cohort_id = ? AND participant = ? AND status = ?",
			cohortId,
			participant,
			models.StakeStatusDeposited,
		).
		Updates(map[string]any{
			"status":        terminalStatus,
			"settled_at":    settledAt,
			"last_event_id": eventId,
		})
	if result.Error != nil {
		return false, fmt.Errorf("settle stake: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetStakesDepositedAbove returns still-deposited stakes whose originating
// deposit landed above the given height. Used by rollback reconciliation
// to find rows whose deposit may have been forked out.
func (d *Database) GetStakesDepositedAbove(
	height uint64,
	txn *gorm.DB,
) ([]models.StakeRecord, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := []models.StakeRecord{}
	result := txn.Where(
		"deposit_block > ? AND status = ?",
		height,
		models.StakeStatusDeposited,
	).Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// DeleteStake removes a stake row. Only rollback reconciliation does
// this, and only for stakes the ledger no longer knows about.
func (d *Database) DeleteStake(
	cohortId []byte,
	participant string,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Where(
		"cohort_id = ? AND participant = ?",
		cohortId,
		participant,
	).Delete(&models.StakeRecord{})
	if result.Error != nil {
		return fmt.Errorf("delete stake: %w", result.Error)
	}
	return nil
}
