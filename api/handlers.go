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

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/eligibility"
	"github.com/bay-lms/bayd/internal/version"
	"github.com/bay-lms/bayd/ledger"
	"github.com/bay-lms/bayd/settlement"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// pathCohortId parses the cohortId path segment, writing a 400 response
// on failure
func pathCohortId(
	w http.ResponseWriter,
	r *http.Request,
) (ledger.CohortID, bool) {
	cohortId, err := ledger.ParseCohortID(r.PathValue("cohortId"))
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"malformed cohort ID",
		)
		return ledger.CohortID{}, false
	}
	return cohortId, true
}

func pathParticipant(r *http.Request) string {
	return ledger.NormalizeAddress(r.PathValue("participant"))
}

// handleRoot handles GET / and returns API metadata
func (a *Api) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Name:    "bayd",
		Version: version.GetVersionString(),
	})
}

// handleHealth handles GET /health
func (a *Api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	watermark, _, err := a.db.GetCheckpoint(
		models.CheckpointKeyWatermark,
		nil,
	)
	if err != nil {
		a.logger.Error(
			"failed to read watermark",
			"error", err,
		)
		writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: false})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
		Watermark: watermark,
	})
}

// handleGetStake handles
// GET /v1/cohorts/{cohortId}/stakes/{participant}
func (a *Api) handleGetStake(w http.ResponseWriter, r *http.Request) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	participant := pathParticipant(r)
	stake, err := a.db.GetStake(cohortId.Bytes(), participant, nil)
	if err != nil {
		a.logger.Error(
			"failed to get stake",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to retrieve stake",
		)
		return
	}
	if stake == nil {
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			"no stake for participant",
		)
		return
	}
	writeJSON(w, http.StatusOK, StakeResponse{
		CohortID:     cohortId.String(),
		Participant:  stake.Participant,
		Amount:       stake.Amount,
		Status:       stake.Status,
		DepositBlock: stake.DepositBlock,
		SettledAt:    stake.SettledAt,
		LastEventID:  stake.LastEventID,
	})
}

// handleListSubmissions handles
// GET /v1/cohorts/{cohortId}/submissions/{participant}
func (a *Api) handleListSubmissions(
	w http.ResponseWriter,
	r *http.Request,
) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	participant := pathParticipant(r)
	submissions, err := a.db.ListSubmissions(
		cohortId.Bytes(),
		participant,
		nil,
	)
	if err != nil {
		a.logger.Error(
			"failed to list submissions",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to retrieve submissions",
		)
		return
	}
	ret := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		ret = append(ret, SubmissionResponse{
			AssignmentID: submission.AssignmentID,
			CidHash:      submission.CidHash,
			Links:        submission.LinkList(),
			SubmittedAt:  submission.SubmittedAt,
			IsLate:       submission.IsLate,
			Status:       submission.Status,
			Score:        submission.Score,
			Passed:       submission.Passed,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleEligibility handles
// GET /v1/cohorts/{cohortId}/eligibility/{participant}
func (a *Api) handleEligibility(w http.ResponseWriter, r *http.Request) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	result, err := a.evaluator.EvaluateRefund(cohortId, pathParticipant(r))
	if err != nil {
		a.logger.Error(
			"failed to evaluate eligibility",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to evaluate eligibility",
		)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetCertificate handles
// GET /v1/cohorts/{cohortId}/certificates/{participant}
func (a *Api) handleGetCertificate(
	w http.ResponseWriter,
	r *http.Request,
) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	cert, err := a.db.GetCertificate(
		cohortId.Bytes(),
		pathParticipant(r),
		nil,
	)
	if err != nil {
		a.logger.Error(
			"failed to get certificate",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to retrieve certificate",
		)
		return
	}
	if cert == nil {
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			"no certificate for participant",
		)
		return
	}
	writeJSON(w, http.StatusOK, CertificateResponse{
		CohortID:    cohortId.String(),
		Participant: cert.Participant,
		TokenID:     cert.TokenID,
		URI:         cert.URI,
		Status:      cert.Status,
		IssuedAt:    cert.IssuedAt,
	})
}

// handleSettlement handles
// POST /v1/cohorts/{cohortId}/settlements/{participant}
func (a *Api) handleSettlement(w http.ResponseWriter, r *http.Request) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	participant := pathParticipant(r)
	var req SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"malformed request body",
		)
		return
	}
	var handle ledger.TxHandle
	var err error
	switch req.Action {
	case SettlementActionRefund:
		handle, err = a.gateway.RequestRefund(
			r.Context(),
			cohortId,
			participant,
		)
	case SettlementActionSlash:
		bps := uint64(10000)
		if req.SlashBps != nil {
			bps = *req.SlashBps
		}
		handle, err = a.gateway.RequestSlash(
			r.Context(),
			cohortId,
			participant,
			bps,
		)
	default:
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"unknown settlement action",
		)
		return
	}
	if err != nil {
		a.writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SettlementResponse{
		TxHash: handle.TxHash,
		Action: req.Action,
		Status: "submitted",
	})
}

// writeSettlementError maps gateway business errors onto HTTP statuses
func (a *Api) writeSettlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrNoStake):
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			err.Error(),
		)
	case errors.Is(err, settlement.ErrNotEligible):
		writeError(
			w,
			http.StatusUnprocessableEntity,
			"Unprocessable Entity",
			err.Error(),
		)
	case errors.Is(err, settlement.ErrAlreadySettled),
		errors.Is(err, settlement.ErrInFlight):
		writeError(
			w,
			http.StatusConflict,
			"Conflict",
			err.Error(),
		)
	case errors.Is(err, ledger.ErrTemporarilyUnavailable):
		writeError(
			w,
			http.StatusServiceUnavailable,
			"Service Unavailable",
			"ledger temporarily unavailable",
		)
	default:
		a.logger.Error(
			"settlement request failed",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"settlement request failed",
		)
	}
}

// handleGrade handles POST /v1/cohorts/{cohortId}/grades
func (a *Api) handleGrade(w http.ResponseWriter, r *http.Request) {
	cohortId, ok := pathCohortId(w, r)
	if !ok {
		return
	}
	var req GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"malformed request body",
		)
		return
	}
	if req.Score < 0 || req.Score > 100 {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"score must be between 0 and 100",
		)
		return
	}
	cohort, err := a.db.GetCohort(cohortId.Bytes(), nil)
	if err != nil {
		a.logger.Error(
			"failed to get cohort",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to retrieve cohort",
		)
		return
	}
	if cohort == nil {
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			"cohort not configured",
		)
		return
	}
	participant := ledger.NormalizeAddress(req.Participant)
	passed := eligibility.PassesThreshold(req.Score, cohort.MinPassRateBps)
	found, err := a.db.SetSubmissionGrade(
		cohortId.Bytes(),
		req.AssignmentID,
		participant,
		req.Score,
		passed,
		nil,
	)
	if err != nil {
		a.logger.Error(
			"failed to record grade",
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to record grade",
		)
		return
	}
	if !found {
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			"no submission for assignment and participant",
		)
		return
	}
	writeJSON(w, http.StatusOK, GradeResponse{
		AssignmentID: req.AssignmentID,
		Participant:  participant,
		Score:        req.Score,
		Passed:       passed,
	})
}
