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

// GetSubmission returns the submission row for the business key, or nil
// if none exists
func (d *Database) GetSubmission(
	cohortId []byte,
	assignmentId uint64,
	participant string,
	txn *gorm.DB,
) (*models.SubmissionRecord, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.SubmissionRecord{}
	result := txn.Where(
		"cohort_id = ? AND assignment_id = ? AND participant = ?",
		cohortId,
		assignmentId,
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

// UpsertSubmission creates or updates the submission row keyed by
// (cohort, assignment, participant). A resubmission replaces the content
// fields and resets grading, since the graded artifact no longer exists.
func (d *Database) UpsertSubmission(
	cohortId []byte,
	assignmentId uint64,
	participant string,
	cidHash string,
	links []string,
	submittedAt time.Time,
	isLate bool,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	submission := &models.SubmissionRecord{}
	result := db.Where(
		"cohort_id = ? AND assignment_id = ? AND participant = ?",
		cohortId,
		assignmentId,
		participant,
	).First(submission)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup submission: %w", result.Error)
		}
		submission = &models.SubmissionRecord{
			CohortID:     cohortId,
			AssignmentID: assignmentId,
			Participant:  participant,
			CidHash:      cidHash,
			SubmittedAt:  submittedAt,
			IsLate:       isLate,
			Status:       models.SubmissionStatusSubmitted,
		}
		if err := submission.SetLinkList(links); err != nil {
			return fmt.Errorf("encode submission links: %w", err)
		}
		if err := db.Create(submission).Error; err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		return nil
	}
	if err := submission.SetLinkList(links); err != nil {
		return fmt.Errorf("encode submission links: %w", err)
	}
	updates := map[string]any{
		"cid_hash":     cidHash,
		"links":        submission.Links,
		"submitted_at": submittedAt,
		"is_late":      isLate,
		"status":       models.SubmissionStatusSubmitted,
		"score":        nil,
		"passed":       false,
	}
	if err := db.Model(submission).Updates(updates).Error; err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return nil
}

// SetSubmissionGrade records the grading outcome for an existing
// submission. Returns false when no submission row exists for the key.
func (d *Database) SetSubmissionGrade(
	cohortId []byte,
	assignmentId uint64,
	participant string,
	score int,
	passed bool,
	txn *gorm.DB,
) (bool, error) {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.SubmissionRecord{}).
		Where(
			"cohort_id = ? AND assignment_id = ? AND participant = ?",
			cohortId,
			assignmentId,
			participant,
		).
		Updates(map[string]any{
			"status": models.SubmissionStatusGraded,
			"score":  score,
			"passed": passed,
		})
	if result.Error != nil {
		return false, fmt.Errorf("set submission grade: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListSubmissions returns all submissions for a participant within a
// cohort, ordered by assignment
func (d *Database) ListSubmissions(
	cohortId []byte,
	participant string,
	txn *gorm.DB,
) ([]models.SubmissionRecord, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := []models.SubmissionRecord{}
	result := txn.Where(
		"cohort_id = ? AND participant = ?",
		cohortId,
		participant,
	).Order("assignment_id").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
