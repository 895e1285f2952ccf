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

// Certificate status values. Revocation is a status flip, never a
// deletion.
const (
	CertificateStatusIssued  = "issued"
	CertificateStatusRevoked = "revoked"
)

// CertificateRecord is the projection of a completion certificate. One
// row per (cohort, participant); issuance is monotonic.
type CertificateRecord struct {
	ID          uint   `gorm:"primarykey"`
	CohortID    []byte `gorm:"size:32;not null;uniqueIndex:idx_certificate_key"`
	Participant string `gorm:"size:64;not null;uniqueIndex:idx_certificate_key"`
	TokenID     uint64
	Name        string `gorm:"size:255"`
	URI         string `gorm:"size:255"`
	Status      string `gorm:"size:16;not null"`
	IssuedAt    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CertificateRecord) TableName() string {
	return "certificate"
}
