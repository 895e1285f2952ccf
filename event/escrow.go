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

package event

import "github.com/bay-lms/bayd/ledger"

// LedgerEventType is the event type for ledger log entries that were
// decoded and applied (or skipped) by the projector
const LedgerEventType = EventType("ledger.event")

// LedgerEvent carries a decoded ledger event together with its raw log
// entry for consumers that need block/transaction context
type LedgerEvent struct {
	Raw     ledger.RawEvent
	Decoded ledger.Event
}

// RollbackEventType is the event type for chain reorgs detected by the
// ingestor
const RollbackEventType = EventType("ledger.rollback")

// RollbackEvent is emitted when a previously observed block is no longer
// canonical. Blocks above ForkHeight are re-emitted from the canonical
// chain and absorbed by the projector's idempotency key.
type RollbackEvent struct {
	// ForkHeight is the highest block height still canonical
	ForkHeight uint64
	// OldTipHeight is the watermark before the rewind
	OldTipHeight uint64
}

// SettlementSubmittedEventType is the event type for refund/slash
// transactions submitted by the settlement gateway. Confirmation arrives
// separately through the event stream.
const SettlementSubmittedEventType = EventType("settlement.submitted")

type SettlementSubmittedEvent struct {
	CohortID    ledger.CohortID
	Participant string
	TxHash      string
	Kind        string // "refund" or "slash"
}
