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

// GetCheckpoint returns the height stored under a checkpoint key. Returns
// (0, false, nil) when the checkpoint has never been written.
func (d *Database) GetCheckpoint(
	key string,
	txn *gorm.DB,
) (uint64, bool, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.Checkpoint{}
	result := txn.Where("key = ?", key).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, result.Error
	}
	return ret.Height, true, nil
}

// SetCheckpoint stores the height under a checkpoint key
func (d *Database) SetCheckpoint(
	key string,
	height uint64,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	checkpoint := &models.Checkpoint{}
	result := db.FirstOrCreate(checkpoint, models.Checkpoint{Key: key})
	if result.Error != nil {
		return fmt.Errorf("find or create checkpoint: %w", result.Error)
	}
	if err := db.Model(checkpoint).Update("height", height).Error; err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	return nil
}

// GetRecentBlockHash returns the hash remembered for a height, or empty
// string if the height is outside the retained window
func (d *Database) GetRecentBlockHash(
	height uint64,
	txn *gorm.DB,
) (string, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.RecentBlock{}
	result := txn.Where("height = ?", height).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return ret.Hash, nil
}

// SetRecentBlock remembers the hash observed at a height, replacing any
// hash stored for the same height by a discarded fork
func (d *Database) SetRecentBlock(
	height uint64,
	hash string,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	blk := &models.RecentBlock{}
	result := db.FirstOrCreate(blk, models.RecentBlock{Height: height})
	if result.Error != nil {
		return fmt.Errorf("find or create recent block: %w", result.Error)
	}
	if err := db.Model(blk).Update("hash", hash).Error; err != nil {
		return fmt.Errorf("update recent block: %w", err)
	}
	return nil
}

// DeleteRecentBlocksAbove drops remembered hashes above the fork height
// after a rollback
func (d *Database) DeleteRecentBlocksAbove(
	height uint64,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Where("height > ?", height).Delete(&models.RecentBlock{})
	if result.Error != nil {
		return fmt.Errorf("delete recent blocks: %w", result.Error)
	}
	return nil
}

// PruneRecentBlocksBelow trims remembered hashes below the retention
// window
func (d *Database) PruneRecentBlocksBelow(
	height uint64,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Where("height < ?", height).Delete(&models.RecentBlock{})
	if result.Error != nil {
		return fmt.Errorf("prune recent blocks: %w", result.Error)
	}
	return nil
}
