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

// DefaultMinPassRateBps is the cohort pass threshold used when none is
// configured (70%)
const DefaultMinPassRateBps = 7000

// Cohort is the configuration for a single time-boxed learning program
// instance. Written at startup from daemon configuration or by the
// operator surface, read by the eligibility evaluator.
type Cohort struct {
	ID            uint   `gorm:"primarykey"`
	CohortID      []byte `gorm:"size:32;uniqueIndex;not null"`
	Name          string `gorm:"size:255"`
	Track         string `gorm:"size:32"`
	DepositAmount uint64
	StartAt       time.Time
	EndAt         time.Time
	// MinPassRateBps is the pass threshold in basis points
	MinPassRateBps uint
	// Graded selects per-assignment grading; ungraded cohorts treat any
	// submission as satisfying the requirement
	Graded    bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Cohort) TableName() string {
	return "cohort"
}

// Assignment is a single assignment within a cohort. Deadlines live here
// as external configuration; late detection compares submission time
// against Deadline.
type Assignment struct {
	ID           uint   `gorm:"primarykey"`
	CohortID     []byte `gorm:"size:32;not null;uniqueIndex:idx_assignment_key"`
	AssignmentID uint64 `gorm:"not null;uniqueIndex:idx_assignment_key"`
	Title        string `gorm:"size:255"`
	Deadline     time.Time
	Required     bool `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Assignment) TableName() string {
	return "assignment"
}
