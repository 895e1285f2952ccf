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

package ledger

import (
	"fmt"
	"time"
)

// Event names as emitted by the contracts
const (
	EventNameDeposit             = "Deposit"
	EventNameRefund              = "Refund"
	EventNameSlash               = "Slash"
	EventNameAssignmentSubmitted = "AssignmentSubmitted"
	EventNameCertificateMinted   = "CertificateMinted"
)

// RawEvent is a single decoded log entry from the event stream. Fields
// holds the ABI-decoded event arguments keyed by parameter name.
type RawEvent struct {
	TxHash         string
	LogIndex       uint
	BlockNumber    uint64
	BlockHash      string
	BlockTimestamp time.Time
	Name           string
	Fields         map[string]any
}

// SourceID returns the unique event identity used for exactly-once
// application: transaction hash plus log index
func (r RawEvent) SourceID() string {
	return fmt.Sprintf("%s-%d", r.TxHash, r.LogIndex)
}

// Event is the closed set of typed domain events decoded at the ingest
// boundary. Untyped field maps never travel past DecodeEvent.
type Event interface {
	isLedgerEvent()
}

type DepositEvent struct {
	CohortID    CohortID
	Participant string
	Amount      uint64
}

type RefundEvent struct {
	CohortID    CohortID
	Participant string
	Amount      uint64
}

type SlashEvent struct {
	CohortID    CohortID
	Participant string
	Amount      uint64
	SlashAmount uint64
}

type AssignmentSubmittedEvent struct {
	CohortID     CohortID
	AssignmentID uint64
	Participant  string
	CidHash      string
	Links        []string
}

type CertificateMintedEvent struct {
	CohortID    CohortID
	Participant string
	TokenID     uint64
	URI         string
}

func (DepositEvent) isLedgerEvent()             {}
func (RefundEvent) isLedgerEvent()              {}
func (SlashEvent) isLedgerEvent()               {}
func (AssignmentSubmittedEvent) isLedgerEvent() {}
func (CertificateMintedEvent) isLedgerEvent()   {}

// DecodeEvent converts a raw log entry into its typed domain event. An
// unknown event name or a missing/mistyped field is a decode error, never
// a silently dropped event.
func DecodeEvent(raw RawEvent) (Event, error) {
	switch raw.Name {
	case EventNameDeposit:
		cohortId, err := fieldCohortID(raw, "cohortId")
		if err != nil {
			return nil, err
		}
		participant, err := fieldAddress(raw, "user")
		if err != nil {
			return nil, err
		}
		amount, err := fieldUint(raw, "amount")
		if err != nil {
			return nil, err
		}
		return DepositEvent{
			CohortID:    cohortId,
			Participant: participant,
			Amount:      amount,
		}, nil
	case EventNameRefund:
		cohortId, err := fieldCohortID(raw, "cohortId")
		if err != nil {
			return nil, err
		}
		participant, err := fieldAddress(raw, "user")
		if err != nil {
			return nil, err
		}
		amount, err := fieldUint(raw, "amount")
		if err != nil {
			return nil, err
		}
		return RefundEvent{
			CohortID:    cohortId,
			Participant: participant,
			Amount:      amount,
		}, nil
	case EventNameSlash:
		cohortId, err := fieldCohortID(raw, "cohortId")
		if err != nil {
			return nil, err
		}
		participant, err := fieldAddress(raw, "user")
		if err != nil {
			return nil, err
		}
		amount, err := fieldUint(raw, "amount")
		if err != nil {
			return nil, err
		}
		slashAmount, err := fieldUint(raw, "slashAmount")
		if err != nil {
			return nil, err
		}
		return SlashEvent{
			CohortID:    cohortId,
			Participant: participant,
			Amount:      amount,
			SlashAmount: slashAmount,
		}, nil
	case EventNameAssignmentSubmitted:
		cohortId, err := fieldCohortID(raw, "cohortId")
		if err != nil {
			return nil, err
		}
		assignmentId, err := fieldUint(raw, "assignmentId")
		if err != nil {
			return nil, err
		}
		participant, err := fieldAddress(raw, "student")
		if err != nil {
			return nil, err
		}
		cidHash, err := fieldString(raw, "cidHash")
		if err != nil {
			return nil, err
		}
		links, err := fieldStringSlice(raw, "links")
		if err != nil {
			return nil, err
		}
		return AssignmentSubmittedEvent{
			CohortID:     cohortId,
			AssignmentID: assignmentId,
			Participant:  participant,
			CidHash:      cidHash,
			Links:        links,
		}, nil
	case EventNameCertificateMinted:
		cohortId, err := fieldCohortID(raw, "cohortId")
		if err != nil {
			return nil, err
		}
		participant, err := fieldAddress(raw, "to")
		if err != nil {
			return nil, err
		}
		tokenId, err := fieldUint(raw, "tokenId")
		if err != nil {
			return nil, err
		}
		uri, err := fieldString(raw, "uri")
		if err != nil {
			return nil, err
		}
		return CertificateMintedEvent{
			CohortID:    cohortId,
			Participant: participant,
			TokenID:     tokenId,
			URI:         uri,
		}, nil
	default:
		return nil, fmt.Errorf("unknown event name: %s", raw.Name)
	}
}

func fieldCohortID(raw RawEvent, name string) (CohortID, error) {
	s, err := fieldString(raw, name)
	if err != nil {
		return CohortID{}, err
	}
	cohortId, err := ParseCohortID(s)
	if err != nil {
		return CohortID{}, fmt.Errorf(
			"%s event %s: field %q: %w",
			raw.Name,
			raw.SourceID(),
			name,
			err,
		)
	}
	return cohortId, nil
}

func fieldAddress(raw RawEvent, name string) (string, error) {
	s, err := fieldString(raw, name)
	if err != nil {
		return "", err
	}
	return NormalizeAddress(s), nil
}

func fieldString(raw RawEvent, name string) (string, error) {
	val, ok := raw.Fields[name]
	if !ok {
		return "", fmt.Errorf(
			"%s event %s: missing field %q",
			raw.Name,
			raw.SourceID(),
			name,
		)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf(
			"%s event %s: field %q: expected string, got %T",
			raw.Name,
			raw.SourceID(),
			name,
			val,
		)
	}
	return s, nil
}

func fieldUint(raw RawEvent, name string) (uint64, error) {
	val, ok := raw.Fields[name]
	if !ok {
		return 0, fmt.Errorf(
			"%s event %s: missing field %q",
			raw.Name,
			raw.SourceID(),
			name,
		)
	}
	switch v := val.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf(
				"%s event %s: field %q: negative value %d",
				raw.Name,
				raw.SourceID(),
				name,
				v,
			)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf(
				"%s event %s: field %q: negative value %d",
				raw.Name,
				raw.SourceID(),
				name,
				v,
			)
		}
		return uint64(v), nil
	case float64:
		// JSON numbers decode as float64
		if v < 0 {
			return 0, fmt.Errorf(
				"%s event %s: field %q: negative value %f",
				raw.Name,
				raw.SourceID(),
				name,
				v,
			)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf(
			"%s event %s: field %q: expected unsigned integer, got %T",
			raw.Name,
			raw.SourceID(),
			name,
			val,
		)
	}
}

func fieldStringSlice(raw RawEvent, name string) ([]string, error) {
	val, ok := raw.Fields[name]
	if !ok {
		return nil, fmt.Errorf(
			"%s event %s: missing field %q",
			raw.Name,
			raw.SourceID(),
			name,
		)
	}
	switch v := val.(type) {
	case []string:
		return v, nil
	case []any:
		ret := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf(
					"%s event %s: field %q: expected string element, got %T",
					raw.Name,
					raw.SourceID(),
					name,
					item,
				)
			}
			ret = append(ret, s)
		}
		return ret, nil
	default:
		return nil, fmt.Errorf(
			"%s event %s: field %q: expected string list, got %T",
			raw.Name,
			raw.SourceID(),
			name,
			val,
		)
	}
}
