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

package eligibility_test

import (
	"testing"
	"time"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testParticipant = "0xabcd000000000000000000000000000000000001"

func testCohortId(t *testing.T, b byte) ledger.CohortID {
	t.Helper()
	var raw [32]byte
	raw[0] = b
	cohortId, err := ledger.CohortIDFromBytes(raw[:])
	require.NoError(t, err)
	return cohortId
}

func testEnv(t *testing.T) (*eligibility.Evaluator, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return eligibility.New(&eligibility.Config{Database: db}), db
}

func seedCohort(
	t *testing.T,
	db *database.Database,
	cohortId ledger.CohortID,
	graded bool,
	requiredAssignments ...uint64,
) {
	t.Helper()
	require.NoError(t, db.UpsertCohort(&models.Cohort{
		CohortID: cohortId.Bytes(),
		Name:     "Test Cohort",
		Graded:   graded,
		Active:   true,
	}, nil))
	for _, id := range requiredAssignments {
		require.NoError(t, db.UpsertAssignment(&models.Assignment{
			CohortID:     cohortId.Bytes(),
			AssignmentID: id,
			Title:        "Assignment",
			Required:     true,
		}, nil))
	}
}

func seedStake(
	t *testing.T,
	db *database.Database,
	cohortId ledger.CohortID,
) {
	t.Helper()
	require.NoError(t, db.CreateStake(&models.StakeRecord{
		CohortID:     cohortId.Bytes(),
		Participant:  testParticipant,
		Amount:       100,
		LastEventID:  "0xaaa-0",
		DepositBlock: 10,
	}, nil))
}

func submit(
	t *testing.T,
	db *database.Database,
	cohortId ledger.CohortID,
	assignmentId uint64,
) {
	t.Helper()
	require.NoError(t, db.UpsertSubmission(
		cohortId.Bytes(),
		assignmentId,
		testParticipant,
		"0xcid",
		[]string{"https://github.com/x"},
		time.Now().UTC(),
		false,
		nil,
	))
}

func TestNoStake(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedCohort(t, db, cohortId, true, 1)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonNoStake, result.Reason)
}

func TestSettledStake(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x02)
	seedCohort(t, db, cohortId, true, 1)
	seedStake(t, db, cohortId)
	ok, err := db.SettleStake(
		cohortId.Bytes(),
		testParticipant,
		models.StakeStatusSlashed,
		time.Now().UTC(),
		"0xbbb-0",
		nil,
	)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Contains(t, result.Reason, eligibility.ReasonStakeSettled)
	assert.Contains(t, result.Reason, models.StakeStatusSlashed)
}

func TestEmptyRequirementSet(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x03)
	// Cohort configured but no required assignments
	seedCohort(t, db, cohortId, true)
	seedStake(t, db, cohortId)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(
		t,
		result.Eligible,
		"unconfigured requirements must not auto-complete a cohort",
	)
	assert.Equal(t, eligibility.ReasonNoRequirements, result.Reason)
}

func TestUnknownCohort(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x04)
	seedStake(t, db, cohortId)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonUnknownCohort, result.Reason)
}

func TestGradedCohortProgression(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x05)
	seedCohort(t, db, cohortId, true, 1, 2)
	seedStake(t, db, cohortId)

	// Nothing submitted
	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	require.Len(t, result.Requirements, 2)
	assert.Equal(t, eligibility.ReasonNotSubmitted, result.Requirements[0].Reason)

	// Submitted but ungraded
	submit(t, db, cohortId, 1)
	submit(t, db, cohortId, 2)
	result, err = e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonNotGraded, result.Requirements[0].Reason)

	// One passed, one failed
	ok, err := db.SetSubmissionGrade(
		cohortId.Bytes(), 1, testParticipant, 85, true, nil,
	)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.SetSubmissionGrade(
		cohortId.Bytes(), 2, testParticipant, 40, false, nil,
	)
	require.NoError(t, err)
	require.True(t, ok)
	result, err = e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.True(t, result.Requirements[0].Satisfied)
	assert.Equal(t, eligibility.ReasonFailed, result.Requirements[1].Reason)

	// Regrade after resubmission flips to eligible
	submit(t, db, cohortId, 2)
	ok, err = db.SetSubmissionGrade(
		cohortId.Bytes(), 2, testParticipant, 75, true, nil,
	)
	require.NoError(t, err)
	require.True(t, ok)
	result, err = e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.True(t, result.Eligible)
	for _, requirement := range result.Requirements {
		assert.True(t, requirement.Satisfied)
	}
}

func TestUngradedCohortAcceptsAnySubmission(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x06)
	seedCohort(t, db, cohortId, false, 1)
	seedStake(t, db, cohortId)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.False(t, result.Eligible)

	submit(t, db, cohortId, 1)
	result, err = e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.True(t, result.Eligible, "ungraded cohorts require only submission")
}

func TestOptionalAssignmentsIgnored(t *testing.T) {
	e, db := testEnv(t)
	cohortId := testCohortId(t, 0x07)
	seedCohort(t, db, cohortId, true, 1)
	require.NoError(t, db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId.Bytes(),
		AssignmentID: 2,
		Title:        "Bonus",
		Required:     false,
	}, nil))
	seedStake(t, db, cohortId)

	submit(t, db, cohortId, 1)
	ok, err := db.SetSubmissionGrade(
		cohortId.Bytes(), 1, testParticipant, 90, true, nil,
	)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := e.EvaluateRefund(cohortId, testParticipant)
	require.NoError(t, err)
	assert.True(t, result.Eligible, "optional assignments must not gate refunds")
	require.Len(t, result.Requirements, 1)
}

func TestPassesThreshold(t *testing.T) {
	assert.True(t, eligibility.PassesThreshold(70, 7000))
	assert.True(t, eligibility.PassesThreshold(100, 7000))
	assert.False(t, eligibility.PassesThreshold(69, 7000))
	assert.False(t, eligibility.PassesThreshold(-1, 0))
	assert.True(t, eligibility.PassesThreshold(0, 0))
}
