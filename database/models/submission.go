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

import (
	"encoding/json"
	"time"
)

// Submission status values
const (
	SubmissionStatusSubmitted = "submitted"
	SubmissionStatusGraded    = "graded"
)

// SubmissionRecord is the projection of an assignment submission. The
// business key is (cohort, assignment, participant): a resubmission
// updates the existing row rather than creating a new one.
type SubmissionRecord struct {
	ID           uint   `gorm:"primarykey"`
	CohortID     []byte `gorm:"size:32;not null;uniqueIndex:idx_submission_key"`
	AssignmentID uint64 `gorm:"not null;uniqueIndex:idx_submission_key"`
	Participant  string `gorm:"size:64;not null;uniqueIndex:idx_submission_key"`
	CidHash      string `gorm:"size:80"`
	// Links holds the JSON-encoded ordered list of submission links
	Links       string `gorm:"type:text"`
	SubmittedAt time.Time
	IsLate      bool
	Status      string `gorm:"size:16;not null"`
	Score       *int
	Passed      bool `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SubmissionRecord) TableName() string {
	return "submission"
}

// LinkList decodes the stored submission links
func (s *SubmissionRecord) LinkList() []string {
	if s.Links == "" {
		return nil
	}
	var ret []string
	if err := json.Unmarshal([]byte(s.Links), &ret); err != nil {
		return nil
	}
	return ret
}

// SetLinkList encodes and stores the submission links
func (s *SubmissionRecord) SetLinkList(links []string) error {
	if links == nil {
		links = []string{}
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return err
	}
	s.Links = string(raw)
	return nil
}
