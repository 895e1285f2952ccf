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

package bayd

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// CohortSeed is operator-supplied cohort and assignment configuration
// loaded into the projection store at startup
type CohortSeed struct {
	Cohort      *models.Cohort
	Assignments []*models.Assignment
}

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledgerClient      ledger.Client
	dataDir           string
	ledgerEndpoint    string
	apiListenAddress  string
	cohortSeeds       []CohortSeed
	startBlock        uint64
	batchSize         uint64
	recentBlockWindow uint64
	pollInterval      time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

func (n *Node) configValidate() error {
	if n.config.ledgerEndpoint == "" && n.config.ledgerClient == nil {
		return errors.New("no ledger endpoint or client configured")
	}
	for _, seed := range n.config.cohortSeeds {
		if seed.Cohort == nil {
			return errors.New("cohort seed without cohort row")
		}
		if len(seed.Cohort.CohortID) != 32 {
			return errors.New("cohort seed with malformed cohort id")
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the daemon config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new bayd config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. This
// defaults to an in-memory database
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLedgerEndpoint specifies the JSON-RPC URL of the ledger gateway
func WithLedgerEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerEndpoint = endpoint
	}
}

// WithLedgerClient specifies a pre-built ledger client, overriding
// WithLedgerEndpoint. This is mostly useful for testing against a mock
func WithLedgerClient(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerClient = client
	}
}

// WithApiListenAddress specifies the listen address for the REST API
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithCohortSeeds specifies cohort configuration to load into the
// projection store at startup
func WithCohortSeeds(seeds []CohortSeed) ConfigOptionFunc {
	return func(c *Config) {
		c.cohortSeeds = seeds
	}
}

// WithStartBlock specifies the escrow contract deployment height, where
// ingestion begins on a fresh database
func WithStartBlock(height uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.startBlock = height
	}
}

// WithPollInterval specifies how often the ingestor polls the ledger for
// new blocks
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithBatchSize specifies the maximum block range per event query
func WithBatchSize(size uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.batchSize = size
	}
}

// WithRecentBlockWindow specifies how many recent block hashes are retained
// for rollback detection
func WithRecentBlockWindow(window uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.recentBlockWindow = window
	}
}

// WithPrometheusRegistry specifies a prometheus registry for metrics
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. Traces are sent via OTLP-over-HTTP by default,
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for
// [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also disables OTLP output
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
