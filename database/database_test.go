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

package database_test

import (
	"testing"
	"time"

	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func testCohortId(b byte) []byte {
	ret := make([]byte, 32)
	ret[0] = b
	return ret
}

func TestStakeLifecycle(t *testing.T) {
	db := testDatabase(t)
	cohortId := testCohortId(0x01)
	participant := "0xabcd000000000000000000000000000000000001"

	// No stake yet
	stake, err := db.GetStake(cohortId, participant, nil)
	require.NoError(t, err)
	assert.Nil(t, stake)

	// Create
	err = db.CreateStake(&models.StakeRecord{
		CohortID:     cohortId,
		Participant:  participant,
		Amount:       100,
		LastEventID:  "0xaaa-0",
		DepositBlock: 10,
	}, nil)
	require.NoError(t, err)

	stake, err = db.GetStake(cohortId, participant, nil)
	require.NoError(t, err)
	require.NotNil(t, stake)
	assert.Equal(t, uint64(100), stake.Amount)
	assert.Equal(t, models.StakeStatusDeposited, stake.Status)
	assert.False(t, stake.Terminal())

	// Top up
	ok, err := db.TopUpStake(cohortId, participant, 50, "0xbbb-0", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	stake, err = db.GetStake(cohortId, participant, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), stake.Amount)

	// Settle
	settledAt := time.Now().UTC()
	ok, err = db.SettleStake(
		cohortId,
		participant,
		models.StakeStatusRefunded,
		settledAt,
		"0xccc-0",
		nil,
	)
	require.NoError(t, err)
	assert.True(t, ok)
	stake, err = db.GetStake(cohortId, participant, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StakeStatusRefunded, stake.Status)
	require.NotNil(t, stake.SettledAt)
	assert.True(t, stake.Terminal())

	// Second settlement attempt must not match any row
	ok, err = db.SettleStake(
		cohortId,
		participant,
		models.StakeStatusSlashed,
		time.Now().UTC(),
		"0xddd-0",
		nil,
	)
	require.NoError(t, err)
	assert.False(t, ok, "terminal stake must not transition again")

	// Top-up after settlement must not match either
	ok, err = db.TopUpStake(cohortId, participant, 1, "0xeee-0", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmissionUpsert(t *testing.T) {
	db := testDatabase(t)
	cohortId := testCohortId(0x02)
	participant := "0xabcd000000000000000000000000000000000002"
	submittedAt := time.Now().UTC().Truncate(time.Second)

	err := db.UpsertSubmission(
		cohortId,
		1,
		participant,
		"0xcid1",
		[]string{"https://github.com/x"},
		submittedAt,
		false,
		nil,
	)
	require.NoError(t, err)

	// Grade it
	ok, err := db.SetSubmissionGrade(cohortId, 1, participant, 85, true, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	sub, err := db.GetSubmission(cohortId, 1, participant, nil)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubmissionStatusGraded, sub.Status)
	require.NotNil(t, sub.Score)
	assert.Equal(t, 85, *sub.Score)
	assert.True(t, sub.Passed)

	// Resubmission updates the same row and resets grading
	err = db.UpsertSubmission(
		cohortId,
		1,
		participant,
		"0xcid2",
		[]string{"https://github.com/x", "https://notion.so/y"},
		submittedAt.Add(time.Hour),
		true,
		nil,
	)
	require.NoError(t, err)

	subs, err := db.ListSubmissions(cohortId, participant, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1, "resubmission must update, not duplicate")
	assert.Equal(t, "0xcid2", subs[0].CidHash)
	assert.Equal(t, models.SubmissionStatusSubmitted, subs[0].Status)
	assert.False(t, subs[0].Passed)
	assert.True(t, subs[0].IsLate)
	assert.Equal(
		t,
		[]string{"https://github.com/x", "https://notion.so/y"},
		subs[0].LinkList(),
	)

	// Grading an unknown key affects nothing
	ok, err = db.SetSubmissionGrade(cohortId, 99, participant, 50, false, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCertificateMonotonicIssuance(t *testing.T) {
	db := testDatabase(t)
	cohortId := testCohortId(0x03)
	participant := "0xabcd000000000000000000000000000000000003"

	created, err := db.CreateCertificateIfAbsent(&models.CertificateRecord{
		CohortID:    cohortId,
		Participant: participant,
		TokenID:     7,
		Name:        "Bay Certificate #7",
		IssuedAt:    time.Now().UTC(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, created)

	// Second creation path no-ops
	created, err = db.CreateCertificateIfAbsent(&models.CertificateRecord{
		CohortID:    cohortId,
		Participant: participant,
		TokenID:     8,
	}, nil)
	require.NoError(t, err)
	assert.False(t, created)

	cert, err := db.GetCertificate(cohortId, participant, nil)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, uint64(7), cert.TokenID)
	assert.Equal(t, models.CertificateStatusIssued, cert.Status)

	// Revocation is a status flip
	ok, err := db.SetCertificateStatus(
		cohortId,
		participant,
		models.CertificateStatusRevoked,
		nil,
	)
	require.NoError(t, err)
	assert.True(t, ok)
	cert, err = db.GetCertificate(cohortId, participant, nil)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, models.CertificateStatusRevoked, cert.Status)
}

func TestProcessedEventLog(t *testing.T) {
	db := testDatabase(t)

	exists, err := db.ProcessedEventExists("0xaaa-0", nil)
	require.NoError(t, err)
	assert.False(t, exists)

	err = db.RecordProcessedEvent(
		"0xaaa-0",
		12,
		models.ProcessedOutcomeApplied,
		"",
		nil,
	)
	require.NoError(t, err)

	exists, err = db.ProcessedEventExists("0xaaa-0", nil)
	require.NoError(t, err)
	assert.True(t, exists)

	// Duplicate insert violates the unique index
	err = db.RecordProcessedEvent(
		"0xaaa-0",
		12,
		models.ProcessedOutcomeApplied,
		"",
		nil,
	)
	require.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := testDatabase(t)

	_, found, err := db.GetCheckpoint(models.CheckpointKeyWatermark, nil)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(
		t,
		db.SetCheckpoint(models.CheckpointKeyWatermark, 42, nil),
	)
	height, found, err := db.GetCheckpoint(models.CheckpointKeyWatermark, nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(42), height)

	// Overwrite
	require.NoError(
		t,
		db.SetCheckpoint(models.CheckpointKeyWatermark, 43, nil),
	)
	height, _, err = db.GetCheckpoint(models.CheckpointKeyWatermark, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), height)
}

func TestRecentBlocks(t *testing.T) {
	db := testDatabase(t)

	require.NoError(t, db.SetRecentBlock(10, "0xblock10", nil))
	require.NoError(t, db.SetRecentBlock(11, "0xblock11", nil))
	require.NoError(t, db.SetRecentBlock(12, "0xblock12", nil))

	hash, err := db.GetRecentBlockHash(11, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xblock11", hash)

	// Fork replaces the hash at the same height
	require.NoError(t, db.SetRecentBlock(11, "0xblock11b", nil))
	hash, err = db.GetRecentBlockHash(11, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xblock11b", hash)

	require.NoError(t, db.DeleteRecentBlocksAbove(10, nil))
	hash, err = db.GetRecentBlockHash(12, nil)
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, db.PruneRecentBlocksBelow(11, nil))
	hash, err = db.GetRecentBlockHash(10, nil)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestCohortConfig(t *testing.T) {
	db := testDatabase(t)
	cohortId := testCohortId(0x04)

	require.NoError(t, db.UpsertCohort(&models.Cohort{
		CohortID: cohortId,
		Name:     "Bay Cohort 4",
		Track:    "development",
		Graded:   true,
		Active:   true,
	}, nil))

	cohort, err := db.GetCohort(cohortId, nil)
	require.NoError(t, err)
	require.NotNil(t, cohort)
	assert.Equal(
		t,
		uint(models.DefaultMinPassRateBps),
		cohort.MinPassRateBps,
		"pass threshold should default to 70%",
	)

	require.NoError(t, db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId,
		AssignmentID: 1,
		Title:        "Week 1",
		Required:     true,
	}, nil))
	require.NoError(t, db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId,
		AssignmentID: 2,
		Title:        "Week 2",
		Required:     false,
	}, nil))

	required, err := db.ListRequiredAssignments(cohortId, nil)
	require.NoError(t, err)
	require.Len(t, required, 1)
	assert.Equal(t, uint64(1), required[0].AssignmentID)
}
