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

package ledger_test

import (
	"strings"
	"testing"

	"github.com/bay-lms/bayd/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCohortHex = "0x11" + strings.Repeat("00", 31)

func TestDecodeDeposit(t *testing.T) {
	raw := ledger.RawEvent{
		TxHash:   "0xabc",
		LogIndex: 3,
		Name:     ledger.EventNameDeposit,
		Fields: map[string]any{
			"cohortId": testCohortHex,
			"user":     "0xAbCd000000000000000000000000000000000001",
			// JSON numbers decode as float64
			"amount": float64(100),
		},
	}
	evt, err := ledger.DecodeEvent(raw)
	require.NoError(t, err)
	deposit, ok := evt.(ledger.DepositEvent)
	require.True(t, ok, "expected DepositEvent, got %T", evt)
	assert.Equal(t, uint64(100), deposit.Amount)
	assert.Equal(
		t,
		"0xabcd000000000000000000000000000000000001",
		deposit.Participant,
		"participant address should be normalized",
	)
	assert.Equal(t, "0xabc-3", raw.SourceID())
}

func TestDecodeSlash(t *testing.T) {
	raw := ledger.RawEvent{
		TxHash:   "0xdef",
		LogIndex: 0,
		Name:     ledger.EventNameSlash,
		Fields: map[string]any{
			"cohortId":    testCohortHex,
			"user":        "0xabcd000000000000000000000000000000000001",
			"amount":      uint64(100),
			"slashAmount": uint64(30),
		},
	}
	evt, err := ledger.DecodeEvent(raw)
	require.NoError(t, err)
	slash, ok := evt.(ledger.SlashEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(100), slash.Amount)
	assert.Equal(t, uint64(30), slash.SlashAmount)
}

func TestDecodeAssignmentSubmitted(t *testing.T) {
	raw := ledger.RawEvent{
		TxHash:   "0x123",
		LogIndex: 1,
		Name:     ledger.EventNameAssignmentSubmitted,
		Fields: map[string]any{
			"cohortId":     testCohortHex,
			"assignmentId": float64(2),
			"student":      "0xABCD000000000000000000000000000000000001",
			"cidHash":      "0xcid",
			"links":        []any{"https://github.com/x", "https://notion.so/y"},
		},
	}
	evt, err := ledger.DecodeEvent(raw)
	require.NoError(t, err)
	sub, ok := evt.(ledger.AssignmentSubmittedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(2), sub.AssignmentID)
	assert.Len(t, sub.Links, 2)
}

func TestDecodeMissingField(t *testing.T) {
	raw := ledger.RawEvent{
		TxHash:   "0xabc",
		LogIndex: 0,
		Name:     ledger.EventNameDeposit,
		Fields: map[string]any{
			"cohortId": testCohortHex,
			"user":     "0xabcd000000000000000000000000000000000001",
		},
	}
	_, err := ledger.DecodeEvent(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := ledger.DecodeEvent(ledger.RawEvent{Name: "Bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event name")
}

func TestParseCohortID(t *testing.T) {
	cohortId, err := ledger.ParseCohortID(testCohortHex)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(testCohortHex), cohortId.String())

	_, err = ledger.ParseCohortID("0x1234")
	require.Error(t, err)

	roundTrip, err := ledger.CohortIDFromBytes(cohortId.Bytes())
	require.NoError(t, err)
	assert.Equal(t, cohortId, roundTrip)
}
