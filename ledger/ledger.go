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
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrTemporarilyUnavailable is returned when the ledger endpoint could not
// be reached within the configured retry budget.
var ErrTemporarilyUnavailable = errors.New("ledger temporarily unavailable")

// CohortID is the opaque 32-byte cohort identifier used by the escrow
// contracts.
type CohortID [32]byte

// ParseCohortID parses a 0x-prefixed hex string into a CohortID
func ParseCohortID(s string) (CohortID, error) {
	var ret CohortID
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("malformed cohort ID: %w", err)
	}
	if len(raw) != len(ret) {
		return ret, fmt.Errorf(
			"malformed cohort ID: expected %d bytes, got %d",
			len(ret),
			len(raw),
		)
	}
	copy(ret[:], raw)
	return ret, nil
}

func (c CohortID) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

// Bytes returns the raw identifier for storage
func (c CohortID) Bytes() []byte {
	ret := make([]byte, len(c))
	copy(ret, c[:])
	return ret
}

// CohortIDFromBytes builds a CohortID from a stored raw identifier
func CohortIDFromBytes(raw []byte) (CohortID, error) {
	var ret CohortID
	if len(raw) != len(ret) {
		return ret, fmt.Errorf(
			"malformed cohort ID: expected %d bytes, got %d",
			len(ret),
			len(raw),
		)
	}
	copy(ret[:], raw)
	return ret, nil
}

// NormalizeAddress lower-cases a participant account address so that the
// same account always projects onto the same rows regardless of the mixed
// case checksum form used on the wire
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// StakeState is the authoritative on-ledger view of a single stake, as
// reported by the escrow contract's getStake query
type StakeState struct {
	Amount  uint64
	Settled bool
}

// TxHandle identifies a submitted but not yet confirmed ledger transaction.
// Confirmation is only ever observed through the event stream.
type TxHandle struct {
	TxHash string
}

// Client is the narrow interface to the external ledger. Reads are point
// queries, writes are fire-and-forget transaction submissions whose
// ordering and finality the caller does not control.
type Client interface {
	// BlockNumber returns the current chain tip height
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockHash returns the canonical block hash at the given height
	BlockHash(ctx context.Context, height uint64) (string, error)
	// Logs returns all escrow/registry/certificate events emitted in the
	// given inclusive block range, in ledger order (block number, then
	// transaction index, then log index)
	Logs(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error)
	// GetStake returns the authoritative stake state for the pair
	GetStake(
		ctx context.Context,
		cohortId CohortID,
		participant string,
	) (StakeState, error)
	// SubmitRefund submits a self-refund transaction for the pair
	SubmitRefund(
		ctx context.Context,
		cohortId CohortID,
		participant string,
	) (TxHandle, error)
	// SubmitSlash submits a slash transaction forfeiting the given basis
	// points of the stake to the treasury
	SubmitSlash(
		ctx context.Context,
		cohortId CohortID,
		participant string,
		bps uint64,
	) (TxHandle, error)
}

// TxSigner signs raw transaction payloads on behalf of the daemon. Key
// management is delegated to the implementation.
type TxSigner interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Address() string
}
