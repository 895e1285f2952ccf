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

package eligibility

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/ledger"
)

// Requirement is the evaluation of a single required assignment for one
// participant
type Requirement struct {
	AssignmentID uint64 `json:"assignmentId"`
	Title        string `json:"title"`
	Satisfied    bool   `json:"satisfied"`
	// Reason names the unmet condition when Satisfied is false
	Reason string `json:"reason,omitempty"`
}

// Result is a point-in-time refund-eligibility evaluation. It is only
// advisory: the settlement gateway re-checks against the ledger before
// submitting anything.
type Result struct {
	CohortID     string        `json:"cohortId"`
	Participant  string        `json:"participant"`
	Eligible     bool          `json:"eligible"`
	Reason       string        `json:"reason,omitempty"`
	Requirements []Requirement `json:"requirements,omitempty"`
}

// Unmet-condition reasons
const (
	ReasonNoStake        = "no stake deposited"
	ReasonStakeSettled   = "stake already settled"
	ReasonUnknownCohort  = "cohort not configured"
	ReasonNoRequirements = "no required assignments configured"
	ReasonNotSubmitted   = "not submitted"
	ReasonNotGraded      = "not graded"
	ReasonFailed         = "below pass threshold"
)

type Config struct {
	Logger   *slog.Logger
	Database *database.Database
}

// Evaluator decides refund eligibility from the projected read model. An
// evaluation can flip from ineligible to eligible as grades land, but once
// all requirements are satisfied nothing in the model can unsatisfy them:
// grading is monotonic and submissions reset their own grade only until
// regraded.
type Evaluator struct {
	logger *slog.Logger
	db     *database.Database
}

func New(cfg *Config) *Evaluator {
	e := &Evaluator{
		logger: cfg.Logger,
		db:     cfg.Database,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return e
}

// EvaluateRefund evaluates whether the participant currently satisfies all
// conditions for a self-refund of their cohort stake
func (e *Evaluator) EvaluateRefund(
	cohortId ledger.CohortID,
	participant string,
) (Result, error) {
	participant = ledger.NormalizeAddress(participant)
	ret := Result{
		CohortID:    cohortId.String(),
		Participant: participant,
	}

	stake, err := e.db.GetStake(cohortId.Bytes(), participant, nil)
	if err != nil {
		return ret, fmt.Errorf("lookup stake: %w", err)
	}
	if stake == nil {
		ret.Reason = ReasonNoStake
		return ret, nil
	}
	if stake.Terminal() {
		ret.Reason = fmt.Sprintf("%s (%s)", ReasonStakeSettled, stake.Status)
		return ret, nil
	}

	cohort, err := e.db.GetCohort(cohortId.Bytes(), nil)
	if err != nil {
		return ret, fmt.Errorf("lookup cohort: %w", err)
	}
	if cohort == nil {
		ret.Reason = ReasonUnknownCohort
		return ret, nil
	}

	required, err := e.db.ListRequiredAssignments(cohortId.Bytes(), nil)
	if err != nil {
		return ret, fmt.Errorf("list required assignments: %w", err)
	}
	// An unconfigured requirement set never auto-completes a cohort
	if len(required) == 0 {
		ret.Reason = ReasonNoRequirements
		return ret, nil
	}

	ret.Eligible = true
	for _, assignment := range required {
		requirement, err := e.evaluateRequirement(
			cohort,
			assignment,
			participant,
		)
		if err != nil {
			return ret, err
		}
		if !requirement.Satisfied {
			ret.Eligible = false
		}
		ret.Requirements = append(ret.Requirements, requirement)
	}
	return ret, nil
}

func (e *Evaluator) evaluateRequirement(
	cohort *models.Cohort,
	assignment models.Assignment,
	participant string,
) (Requirement, error) {
	ret := Requirement{
		AssignmentID: assignment.AssignmentID,
		Title:        assignment.Title,
	}
	submission, err := e.db.GetSubmission(
		assignment.CohortID,
		assignment.AssignmentID,
		participant,
		nil,
	)
	if err != nil {
		return ret, fmt.Errorf(
			"lookup submission for assignment %d: %w",
			assignment.AssignmentID,
			err,
		)
	}
	if submission == nil {
		ret.Reason = ReasonNotSubmitted
		return ret, nil
	}
	if !cohort.Graded {
		// Ungraded cohorts accept any submission
		ret.Satisfied = true
		return ret, nil
	}
	if submission.Status != models.SubmissionStatusGraded {
		ret.Reason = ReasonNotGraded
		return ret, nil
	}
	if !submission.Passed {
		ret.Reason = ReasonFailed
		return ret, nil
	}
	ret.Satisfied = true
	return ret, nil
}

// PassesThreshold reports whether a 0-100 score meets the cohort's pass
// threshold expressed in basis points
func PassesThreshold(score int, minPassRateBps uint) bool {
	if score < 0 {
		return false
	}
	return uint(score)*100 >= minPassRateBps
}
