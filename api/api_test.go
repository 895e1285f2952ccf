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

package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bay-lms/bayd/api"
	"github.com/bay-lms/bayd/database"
	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/ledger"
	"github.com/bay-lms/bayd/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testParticipant = "0xabcd000000000000000000000000000000000001"

type testEnv struct {
	handler http.Handler
	db      *database.Database
	client  *ledger.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	client := ledger.NewMockClient()
	evaluator := eligibility.New(&eligibility.Config{Database: db})
	gateway := settlement.New(&settlement.Config{
		Database:     db,
		Evaluator:    evaluator,
		LedgerClient: client,
	})
	a := api.New(api.Config{
		Database:  db,
		Evaluator: evaluator,
		Gateway:   gateway,
	})
	return &testEnv{
		handler: a.Routes(),
		db:      db,
		client:  client,
	}
}

func testCohortId(t *testing.T, b byte) ledger.CohortID {
	t.Helper()
	var raw [32]byte
	raw[0] = b
	cohortId, err := ledger.CohortIDFromBytes(raw[:])
	require.NoError(t, err)
	return cohortId
}

func (env *testEnv) request(
	t *testing.T,
	method string,
	path string,
	body string,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// seedEligible sets up a cohort with one required graded assignment and a
// deposited, passing stake for the test participant
func seedEligible(
	t *testing.T,
	env *testEnv,
	cohortId ledger.CohortID,
) {
	t.Helper()
	require.NoError(t, env.db.UpsertCohort(&models.Cohort{
		CohortID: cohortId.Bytes(),
		Name:     "Test Cohort",
		Graded:   true,
		Active:   true,
	}, nil))
	require.NoError(t, env.db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId.Bytes(),
		AssignmentID: 1,
		Title:        "Week 1",
		Required:     true,
	}, nil))
	require.NoError(t, env.db.CreateStake(&models.StakeRecord{
		CohortID:     cohortId.Bytes(),
		Participant:  testParticipant,
		Amount:       100,
		LastEventID:  "0xaaa-0",
		DepositBlock: 10,
	}, nil))
	require.NoError(t, env.db.UpsertSubmission(
		cohortId.Bytes(),
		1,
		testParticipant,
		"0xcid",
		[]string{"https://github.com/x"},
		time.Now().UTC(),
		false,
		nil,
	))
	ok, err := env.db.SetSubmissionGrade(
		cohortId.Bytes(), 1, testParticipant, 90, true, nil,
	)
	require.NoError(t, err)
	require.True(t, ok)
	env.client.SetStake(
		cohortId,
		testParticipant,
		ledger.StakeState{Amount: 100},
	)
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.RootResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "bayd", resp.Name)
	assert.NotEmpty(t, resp.Version)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(
		t,
		env.db.SetCheckpoint(models.CheckpointKeyWatermark, 42, nil),
	)
	rec := env.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.HealthResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.IsHealthy)
	assert.Equal(t, uint64(42), resp.Watermark)
}

func TestGetStake(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/stakes/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.StakeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, cohortId.String(), resp.CohortID)
	assert.Equal(t, testParticipant, resp.Participant)
	assert.Equal(t, uint64(100), resp.Amount)
	assert.Equal(t, models.StakeStatusDeposited, resp.Status)
	assert.Equal(t, uint64(10), resp.DepositBlock)
}

func TestGetStakeNotFound(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)

	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/stakes/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStakeMalformedCohort(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/not-a-cohort/stakes/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStakeNormalizesParticipant(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	// Mixed-case checksum form resolves to the same stake row
	mixed := "0xABCD000000000000000000000000000000000001"
	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/stakes/"+mixed,
		"",
	)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListSubmissions(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/submissions/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []api.SubmissionResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, uint64(1), resp[0].AssignmentID)
	assert.Equal(t, "0xcid", resp[0].CidHash)
	assert.Equal(t, []string{"https://github.com/x"}, resp[0].Links)
	assert.True(t, resp[0].Passed)
}

func TestEligibility(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/eligibility/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp eligibility.Result
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Eligible)
	require.Len(t, resp.Requirements, 1)
	assert.True(t, resp.Requirements[0].Satisfied)
}

func TestGetCertificate(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)

	rec := env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/certificates/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusNotFound, rec.Code)

	created, err := env.db.CreateCertificateIfAbsent(
		&models.CertificateRecord{
			CohortID:    cohortId.Bytes(),
			Participant: testParticipant,
			TokenID:     7,
			URI:         "ipfs://cert",
			Status:      models.CertificateStatusIssued,
			IssuedAt:    time.Now().UTC(),
		},
		nil,
	)
	require.NoError(t, err)
	require.True(t, created)

	rec = env.request(
		t,
		http.MethodGet,
		"/v1/cohorts/"+cohortId.String()+"/certificates/"+testParticipant,
		"",
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.CertificateResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, uint64(7), resp.TokenID)
	assert.Equal(t, models.CertificateStatusIssued, resp.Status)
}

func TestSettlementRefund(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"refund"}`,
	)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp api.SettlementResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.TxHash)
	assert.Equal(t, "refund", resp.Action)
	assert.Equal(t, "submitted", resp.Status)

	// The ledger now reports the stake settled, so a second request
	// conflicts
	rec = env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"refund"}`,
	)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettlementNotEligible(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)
	// A second required assignment without a submission blocks the refund
	require.NoError(t, env.db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId.Bytes(),
		AssignmentID: 2,
		Title:        "Week 2",
		Required:     true,
	}, nil))

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"refund"}`,
	)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Message, "assignment 2")
}

func TestSettlementNoStake(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"refund"}`,
	)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettlementUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"confiscate"}`,
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettlementSlash(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/settlements/"+testParticipant,
		`{"action":"slash","slash_bps":5000}`,
	)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp api.SettlementResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "slash", resp.Action)
	assert.NotEmpty(t, resp.TxHash)
}

func TestGrade(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)
	// Fresh submission on a second assignment to grade via the API
	require.NoError(t, env.db.UpsertAssignment(&models.Assignment{
		CohortID:     cohortId.Bytes(),
		AssignmentID: 2,
		Title:        "Week 2",
		Required:     true,
	}, nil))
	require.NoError(t, env.db.UpsertSubmission(
		cohortId.Bytes(),
		2,
		testParticipant,
		"0xcid2",
		nil,
		time.Now().UTC(),
		false,
		nil,
	))

	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/grades",
		`{"assignment_id":2,"participant":"`+testParticipant+`","score":85}`,
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.GradeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, uint64(2), resp.AssignmentID)
	assert.Equal(t, 85, resp.Score)
	assert.True(t, resp.Passed)
}

func TestGradeBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)
	require.NoError(t, env.db.UpsertSubmission(
		cohortId.Bytes(),
		1,
		testParticipant,
		"0xcid3",
		nil,
		time.Now().UTC(),
		false,
		nil,
	))

	// Default pass threshold is 70
	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/grades",
		`{"assignment_id":1,"participant":"`+testParticipant+`","score":69}`,
	)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.GradeResponse
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Passed)
}

func TestGradeValidation(t *testing.T) {
	env := newTestEnv(t)
	cohortId := testCohortId(t, 0x01)
	seedEligible(t, env, cohortId)

	// Score out of range
	rec := env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/grades",
		`{"assignment_id":1,"participant":"`+testParticipant+`","score":120}`,
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unconfigured cohort
	other := testCohortId(t, 0x02)
	rec = env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+other.String()+"/grades",
		`{"assignment_id":1,"participant":"`+testParticipant+`","score":80}`,
	)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// No submission to grade
	rec = env.request(
		t,
		http.MethodPost,
		"/v1/cohorts/"+cohortId.String()+"/grades",
		`{"assignment_id":9,"participant":"`+testParticipant+`","score":80}`,
	)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
