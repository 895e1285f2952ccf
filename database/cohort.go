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

// GetCohort returns the cohort configuration row, or nil if none exists
func (d *Database) GetCohort(
	cohortId []byte,
	txn *gorm.DB,
) (*models.Cohort, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.Cohort{}
	result := txn.Where("cohort_id = ?", cohortId).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// UpsertCohort creates or updates a cohort configuration row keyed by the
// on-ledger cohort identifier
func (d *Database) UpsertCohort(
	cohort *models.Cohort,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	existing := &models.Cohort{}
	result := db.Where("cohort_id = ?", cohort.CohortID).First(existing)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup cohort: %w", result.Error)
		}
		if cohort.MinPassRateBps == 0 {
			cohort.MinPassRateBps = models.DefaultMinPassRateBps
		}
		if err := db.Create(cohort).Error; err != nil {
			return fmt.Errorf("create cohort: %w", err)
		}
		return nil
	}
	updates := map[string]any{
		"name":           cohort.Name,
		"track":          cohort.Track,
		"deposit_amount": cohort.DepositAmount,
		"start_at":       cohort.StartAt,
		"end_at":         cohort.EndAt,
		"graded":         cohort.Graded,
		"active":         cohort.Active,
	}
	if cohort.MinPassRateBps > 0 {
		updates["min_pass_rate_bps"] = cohort.MinPassRateBps
	}
	if err := db.Model(existing).Updates(updates).Error; err != nil {
		return fmt.Errorf("update cohort: %w", err)
	}
	return nil
}

// GetAssignment returns a single assignment row, or nil if none exists
func (d *Database) GetAssignment(
	cohortId []byte,
	assignmentId uint64,
	txn *gorm.DB,
) (*models.Assignment, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.Assignment{}
	result := txn.Where(
		"cohort_id = ? AND assignment_id = ?",
		cohortId,
		assignmentId,
	).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// UpsertAssignment creates or updates an assignment row keyed by
// (cohort, assignment)
func (d *Database) UpsertAssignment(
	assignment *models.Assignment,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	existing := &models.Assignment{}
	result := db.Where(
		"cohort_id = ? AND assignment_id = ?",
		assignment.CohortID,
		assignment.AssignmentID,
	).First(existing)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup assignment: %w", result.Error)
		}
		if err := db.Create(assignment).Error; err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		return nil
	}
	updates := map[string]any{
		"title":    assignment.Title,
		"deadline": assignment.Deadline,
		"required": assignment.Required,
	}
	if err := db.Model(existing).Updates(updates).Error; err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

// ListRequiredAssignments returns the required-assignment set for a
// cohort, ordered by assignment ID
func (d *Database) ListRequiredAssignments(
	cohortId []byte,
	txn *gorm.DB,
) ([]models.Assignment, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := []models.Assignment{}
	result := txn.Where(
		"cohort_id = ? AND required = ?",
		cohortId,
		true,
	).Order("assignment_id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
