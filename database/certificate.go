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

// GetCertificate returns the certificate row for a (cohort, participant)
// pair, or nil if none exists
func (d *Database) GetCertificate(
	cohortId []byte,
	participant string,
	txn *gorm.DB,
) (*models.CertificateRecord, error) {
	if txn == nil {
		txn = d.DB()
	}
	ret := &models.CertificateRecord{}
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

// CreateCertificateIfAbsent creates the certificate row for the pair
// unless one already exists. Issuance is monotonic: both the mint-event
// path and the refund-projection path call this, and whichever runs
// second no-ops. Returns true when a row was created.
func (d *Database) CreateCertificateIfAbsent(
	cert *models.CertificateRecord,
	txn *gorm.DB,
) (bool, error) {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	existing := &models.CertificateRecord{}
	result := db.Where(
		"cohort_id = ? AND participant = ?",
		cert.CohortID,
		cert.Participant,
	).First(existing)
	if result.Error == nil {
		return false, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup certificate: %w", result.Error)
	}
	cert.Status = models.CertificateStatusIssued
	if err := db.Create(cert).Error; err != nil {
		return false, fmt.Errorf("create certificate: %w", err)
	}
	return true, nil
}

// SetCertificateStatus flips the certificate status between issued and
// revoked. Revocation never deletes the row.
func (d *Database) SetCertificateStatus(
	cohortId []byte,
	participant string,
	status string,
	txn *gorm.DB,
) (bool, error) {
	if status != models.CertificateStatusIssued &&
		status != models.CertificateStatusRevoked {
		return false, fmt.Errorf("invalid certificate status: %s", status)
	}
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.CertificateRecord{}).
		Where(
			"cohort_id = ? AND participant = ?",
			cohortId,
			participant,
		).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("set certificate status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
