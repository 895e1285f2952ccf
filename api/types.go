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

package api

import "time"

// ErrorResponse is the error body returned by all endpoints
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// RootResponse is the API metadata returned at the root path
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HealthResponse reports daemon liveness and ingest progress
type HealthResponse struct {
	IsHealthy bool   `json:"is_healthy"`
	Watermark uint64 `json:"watermark"`
}

// StakeResponse is the projected stake state for one participant
type StakeResponse struct {
	CohortID     string     `json:"cohort_id"`
	Participant  string     `json:"participant"`
	Amount       uint64     `json:"amount"`
	Status       string     `json:"status"`
	DepositBlock uint64     `json:"deposit_block"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	LastEventID  string     `json:"last_event_id"`
}

// SubmissionResponse is one projected assignment submission
type SubmissionResponse struct {
	AssignmentID uint64    `json:"assignment_id"`
	CidHash      string    `json:"cid_hash"`
	Links        []string  `json:"links"`
	SubmittedAt  time.Time `json:"submitted_at"`
	IsLate       bool      `json:"is_late"`
	Status       string    `json:"status"`
	Score        *int      `json:"score,omitempty"`
	Passed       bool      `json:"passed"`
}

// CertificateResponse is the projected completion certificate
type CertificateResponse struct {
	CohortID    string    `json:"cohort_id"`
	Participant string    `json:"participant"`
	TokenID     uint64    `json:"token_id"`
	URI         string    `json:"uri"`
	Status      string    `json:"status"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Settlement actions accepted by the settlements endpoint
const (
	SettlementActionRefund = "refund"
	SettlementActionSlash  = "slash"
)

// SettlementRequest selects the settlement action to submit. SlashBps is
// only consulted for slash actions and defaults to the whole stake.
type SettlementRequest struct {
	Action   string  `json:"action"`
	SlashBps *uint64 `json:"slash_bps,omitempty"`
}

// SettlementResponse acknowledges a submitted settlement transaction.
// Submission is not confirmation: the stake status changes only once the
// settlement event is observed on the ledger.
type SettlementResponse struct {
	TxHash string `json:"tx_hash"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// GradeRequest records the grading outcome for one submission. Passed is
// derived from the score and the cohort's pass threshold.
type GradeRequest struct {
	AssignmentID uint64 `json:"assignment_id"`
	Participant  string `json:"participant"`
	Score        int    `json:"score"`
}

// GradeResponse echoes the recorded grade
type GradeResponse struct {
	AssignmentID uint64 `json:"assignment_id"`
	Participant  string `json:"participant"`
	Score        int    `json:"score"`
	Passed       bool   `json:"passed"`
}
