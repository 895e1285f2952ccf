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
	"fmt"
	"sync"
)

// MockBlock is a scripted block for the mock ledger
type MockBlock struct {
	Height uint64
	Hash   string
	Events []RawEvent
}

// MockClient is an in-memory Client implementation for tests. Blocks can
// be appended or replaced (simulating a reorg) while an ingestor is
// polling.
type MockClient struct {
	mu             sync.Mutex
	blocks         map[uint64]MockBlock
	tip            uint64
	stakes         map[string]StakeState
	refunds        []string
	slashes        []string
	nextTxSeq      uint64
	getStakeErr    error
	logsErrs       int
	submitHookFunc func()
}

// NewMockClient creates an empty mock ledger
func NewMockClient() *MockClient {
	return &MockClient{
		blocks: make(map[uint64]MockBlock),
		stakes: make(map[string]StakeState),
	}
}

func stakeKey(cohortId CohortID, participant string) string {
	return cohortId.String() + "-" + NormalizeAddress(participant)
}

// AddBlock appends or replaces the block at the given height and advances
// the tip if needed. Replacing an existing height models a fork.
func (m *MockClient) AddBlock(blk MockBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[blk.Height] = blk
	if blk.Height > m.tip {
		m.tip = blk.Height
	}
}

// SetStake sets the authoritative stake state for a pair
func (m *MockClient) SetStake(
	cohortId CohortID,
	participant string,
	state StakeState,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[stakeKey(cohortId, participant)] = state
}

// FailLogs makes the next n Logs calls fail with a transport error
func (m *MockClient) FailLogs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logsErrs = n
}

// SetGetStakeError makes GetStake return the given error
func (m *MockClient) SetGetStakeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStakeErr = err
}

// SetSubmitHook installs a callback invoked while holding the mock's lock
// just before a refund/slash submission is recorded. Used to widen race
// windows in tests.
func (m *MockClient) SetSubmitHook(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitHookFunc = f
}

// Refunds returns recorded refund submissions as "cohort-participant" keys
func (m *MockClient) Refunds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, len(m.refunds))
	copy(ret, m.refunds)
	return ret
}

// Slashes returns recorded slash submissions as "cohort-participant" keys
func (m *MockClient) Slashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, len(m.slashes))
	copy(ret, m.slashes)
	return ret
}

func (m *MockClient) BlockNumber(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tip, nil
}

func (m *MockClient) BlockHash(
	_ context.Context,
	height uint64,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blk, ok := m.blocks[height]
	if !ok {
		return "", fmt.Errorf("no block at height %d", height)
	}
	return blk.Hash, nil
}

func (m *MockClient) Logs(
	_ context.Context,
	fromBlock, toBlock uint64,
) ([]RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logsErrs > 0 {
		m.logsErrs--
		return nil, fmt.Errorf(
			"%w: mock transport failure",
			ErrTemporarilyUnavailable,
		)
	}
	var ret []RawEvent
	for height := fromBlock; height <= toBlock; height++ {
		blk, ok := m.blocks[height]
		if !ok {
			continue
		}
		ret = append(ret, blk.Events...)
	}
	return ret, nil
}

func (m *MockClient) GetStake(
	_ context.Context,
	cohortId CohortID,
	participant string,
) (StakeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getStakeErr != nil {
		return StakeState{}, m.getStakeErr
	}
	return m.stakes[stakeKey(cohortId, participant)], nil
}

func (m *MockClient) SubmitRefund(
	_ context.Context,
	cohortId CohortID,
	participant string,
) (TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitHookFunc != nil {
		m.submitHookFunc()
	}
	key := stakeKey(cohortId, participant)
	state := m.stakes[key]
	// The contract is the authoritative serialization point: a second
	// settlement attempt reverts
	if state.Settled {
		return TxHandle{}, fmt.Errorf("execution reverted: already settled")
	}
	m.refunds = append(m.refunds, key)
	state.Settled = true
	m.stakes[key] = state
	m.nextTxSeq++
	return TxHandle{
		TxHash: fmt.Sprintf("0xmock%08d", m.nextTxSeq),
	}, nil
}

func (m *MockClient) SubmitSlash(
	_ context.Context,
	cohortId CohortID,
	participant string,
	_ uint64,
) (TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitHookFunc != nil {
		m.submitHookFunc()
	}
	key := stakeKey(cohortId, participant)
	state := m.stakes[key]
	if state.Settled {
		return TxHandle{}, fmt.Errorf("execution reverted: already settled")
	}
	m.slashes = append(m.slashes, key)
	state.Settled = true
	m.stakes[key] = state
	m.nextTxSeq++
	return TxHandle{
		TxHash: fmt.Sprintf("0xmock%08d", m.nextTxSeq),
	}, nil
}
