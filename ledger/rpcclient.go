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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Retry backoff constants for transient RPC failures
const (
	rpcBackoffMin = 100 * time.Millisecond
	rpcBackoffMax = 5 * time.Second
	rpcMaxRetries = 5
)

const defaultRequestTimeout = 15 * time.Second

// RPCClientConfig configures an RPCClient
type RPCClientConfig struct {
	Endpoint       string
	Signer         TxSigner
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	RequestTimeout time.Duration
}

// RPCClient talks JSON-RPC over HTTP to the ledger gateway. Event
// arguments arrive pre-decoded from the gateway, so no ABI handling
// happens on this side of the boundary.
type RPCClient struct {
	config     RPCClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *rpcMetrics
	lastReqId  atomic.Uint64
}

type rpcMetrics struct {
	requestsTotal *prometheus.CounterVec
	retriesTotal  prometheus.Counter
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	Id      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Id     uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsAuthFailure reports whether an error is an authentication rejection
// from the ledger gateway. These never resolve by retrying.
func IsAuthFailure(err error) bool {
	var rpcErr *rpcError
	return errors.As(err, &rpcErr) &&
		(rpcErr.Code == http.StatusUnauthorized ||
			rpcErr.Code == http.StatusForbidden)
}

// NewRPCClient creates a ledger client for the given gateway endpoint
func NewRPCClient(cfg RPCClientConfig) *RPCClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	c := &RPCClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: cfg.Logger.With("component", "ledger"),
	}
	if cfg.PromRegistry != nil {
		c.metrics = &rpcMetrics{
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bayd_ledger_rpc_requests_total",
					Help: "Total ledger RPC requests by method and outcome",
				},
				[]string{"method", "outcome"},
			),
			retriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bayd_ledger_rpc_retries_total",
					Help: "Total ledger RPC retry attempts",
				},
			),
		}
		cfg.PromRegistry.MustRegister(
			c.metrics.requestsTotal,
			c.metrics.retriesTotal,
		)
	}
	return c
}

// call performs a single JSON-RPC request with bounded exponential backoff
// on transport errors. RPC-level errors are not retried: the gateway has
// answered, retrying without new facts will not change the outcome.
func (c *RPCClient) call(
	ctx context.Context,
	method string,
	result any,
	params ...any,
) error {
	if params == nil {
		params = []any{}
	}
	reqBody, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      c.lastReqId.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= rpcMaxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.retriesTotal.Inc()
			}
			backoff := min(rpcBackoffMin<<(attempt-1), rpcBackoffMax)
			c.logger.Debug(
				"retrying ledger rpc call",
				"method", method,
				"attempt", attempt,
				"backoff", backoff,
			)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		var rpcErr *rpcError
		lastErr = c.doRequest(ctx, method, reqBody, result)
		if lastErr == nil {
			if c.metrics != nil {
				c.metrics.requestsTotal.WithLabelValues(method, "ok").Inc()
			}
			return nil
		}
		if errors.As(lastErr, &rpcErr) || errors.Is(lastErr, context.Canceled) {
			if c.metrics != nil {
				c.metrics.requestsTotal.WithLabelValues(method, "error").Inc()
			}
			return lastErr
		}
	}
	if c.metrics != nil {
		c.metrics.requestsTotal.WithLabelValues(method, "unavailable").Inc()
	}
	return fmt.Errorf("%w: %s: %w", ErrTemporarilyUnavailable, method, lastErr)
}

func (c *RPCClient) doRequest(
	ctx context.Context,
	method string,
	reqBody []byte,
	result any,
) error {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.Endpoint,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc transport: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		// Auth failures are fatal, not transient
		return &rpcError{
			Code:    resp.StatusCode,
			Message: "authentication failure",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// BlockNumber returns the current chain tip height
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "bay_blockNumber", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// BlockHash returns the canonical block hash at the given height
func (c *RPCClient) BlockHash(
	ctx context.Context,
	height uint64,
) (string, error) {
	var hash string
	if err := c.call(ctx, "bay_getBlockHash", &hash, height); err != nil {
		return "", err
	}
	return hash, nil
}

type rpcLogEntry struct {
	TxHash         string         `json:"transactionHash"`
	LogIndex       uint           `json:"logIndex"`
	BlockNumber    uint64         `json:"blockNumber"`
	BlockHash      string         `json:"blockHash"`
	BlockTimestamp int64          `json:"blockTimestamp"`
	EventName      string         `json:"eventName"`
	DecodedFields  map[string]any `json:"decodedFields"`
}

// Logs returns events for the given inclusive block range in ledger order
func (c *RPCClient) Logs(
	ctx context.Context,
	fromBlock, toBlock uint64,
) ([]RawEvent, error) {
	var entries []rpcLogEntry
	if err := c.call(ctx, "bay_getLogs", &entries, fromBlock, toBlock); err != nil {
		return nil, err
	}
	ret := make([]RawEvent, 0, len(entries))
	for _, entry := range entries {
		ret = append(ret, RawEvent{
			TxHash:         entry.TxHash,
			LogIndex:       entry.LogIndex,
			BlockNumber:    entry.BlockNumber,
			BlockHash:      entry.BlockHash,
			BlockTimestamp: time.Unix(entry.BlockTimestamp, 0).UTC(),
			Name:           entry.EventName,
			Fields:         entry.DecodedFields,
		})
	}
	return ret, nil
}

type rpcStakeResult struct {
	Amount  uint64 `json:"amount"`
	Settled bool   `json:"settled"`
}

// GetStake returns the authoritative stake state for the pair
func (c *RPCClient) GetStake(
	ctx context.Context,
	cohortId CohortID,
	participant string,
) (StakeState, error) {
	var result rpcStakeResult
	err := c.call(
		ctx,
		"bay_getStake",
		&result,
		cohortId.String(),
		NormalizeAddress(participant),
	)
	if err != nil {
		return StakeState{}, err
	}
	return StakeState{
		Amount:  result.Amount,
		Settled: result.Settled,
	}, nil
}

type rpcTxResult struct {
	TxHash string `json:"txHash"`
}

// SubmitRefund submits a self-refund transaction. The returned handle does
// not imply confirmation.
func (c *RPCClient) SubmitRefund(
	ctx context.Context,
	cohortId CohortID,
	participant string,
) (TxHandle, error) {
	return c.submitCommand(ctx, "bay_selfRefund", []any{
		cohortId.String(),
		NormalizeAddress(participant),
	})
}

// SubmitSlash submits a slash transaction forfeiting the given basis
// points of the stake
func (c *RPCClient) SubmitSlash(
	ctx context.Context,
	cohortId CohortID,
	participant string,
	bps uint64,
) (TxHandle, error) {
	return c.submitCommand(ctx, "bay_slash", []any{
		cohortId.String(),
		NormalizeAddress(participant),
		bps,
	})
}

func (c *RPCClient) submitCommand(
	ctx context.Context,
	method string,
	params []any,
) (TxHandle, error) {
	if c.config.Signer != nil {
		// The gateway expects the submitter's signature over the serialized
		// command parameters. Key handling lives entirely in the signer.
		payload, err := json.Marshal(params)
		if err != nil {
			return TxHandle{}, fmt.Errorf("marshal command payload: %w", err)
		}
		sig, err := c.config.Signer.Sign(ctx, payload)
		if err != nil {
			return TxHandle{}, fmt.Errorf("sign command: %w", err)
		}
		params = append(params, map[string]any{
			"from":      c.config.Signer.Address(),
			"signature": fmt.Sprintf("0x%x", sig),
		})
	}
	var result rpcTxResult
	if err := c.call(ctx, method, &result, params...); err != nil {
		return TxHandle{}, err
	}
	return TxHandle{TxHash: result.TxHash}, nil
}
