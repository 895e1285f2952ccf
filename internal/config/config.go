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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bay-lms/bayd/database/models"
	"github.com/bay-lms/bayd/ledger"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "bayd.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	// LedgerEndpoint is the JSON-RPC URL of the ledger gateway
	LedgerEndpoint  string `yaml:"ledgerEndpoint"                   split_words:"true"`
	DatabasePath    string `yaml:"databasePath"                     split_words:"true"`
	ApiListenAddr   string `yaml:"apiListenAddr"   envconfig:"API_LISTEN_ADDR"`
	MetricsPort     uint   `yaml:"metricsPort"                      split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout"                  split_words:"true"`
	// StartBlock is the escrow contract deployment height; ingestion on a
	// fresh database begins here
	StartBlock        uint64 `yaml:"startBlock"        split_words:"true"`
	PollInterval      string `yaml:"pollInterval"      split_words:"true"`
	BatchSize         uint64 `yaml:"batchSize"         split_words:"true"`
	RecentBlockWindow uint64 `yaml:"recentBlockWindow" split_words:"true"`
	// Cohorts is the operator-maintained cohort and assignment
	// configuration seeded into the projection store at startup
	Cohorts []CohortConfig `yaml:"cohorts" ignored:"true"`
}

// CohortConfig describes one cohort in the daemon configuration file
type CohortConfig struct {
	Id            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Track         string             `yaml:"track"`
	DepositAmount uint64             `yaml:"depositAmount"`
	StartAt       time.Time          `yaml:"startAt"`
	EndAt         time.Time          `yaml:"endAt"`
	MinPassRate   uint               `yaml:"minPassRateBps"`
	Graded        bool               `yaml:"graded"`
	Active        bool               `yaml:"active"`
	Assignments   []AssignmentConfig `yaml:"assignments"`
}

// AssignmentConfig describes one assignment within a cohort
type AssignmentConfig struct {
	Id       uint64    `yaml:"id"`
	Title    string    `yaml:"title"`
	Deadline time.Time `yaml:"deadline"`
	Required bool      `yaml:"required"`
}

// CohortID parses the configured cohort identifier
func (c CohortConfig) CohortID() (ledger.CohortID, error) {
	return ledger.ParseCohortID(c.Id)
}

// Model converts the config entry into its projection row
func (c CohortConfig) Model() (*models.Cohort, error) {
	cohortId, err := c.CohortID()
	if err != nil {
		return nil, fmt.Errorf("cohort %q: %w", c.Name, err)
	}
	minPassRate := c.MinPassRate
	if minPassRate == 0 {
		minPassRate = models.DefaultMinPassRateBps
	}
	if minPassRate > 10000 {
		return nil, fmt.Errorf(
			"cohort %q: minPassRateBps %d out of range",
			c.Name,
			minPassRate,
		)
	}
	return &models.Cohort{
		CohortID:       cohortId.Bytes(),
		Name:           c.Name,
		Track:          c.Track,
		DepositAmount:  c.DepositAmount,
		StartAt:        c.StartAt,
		EndAt:          c.EndAt,
		MinPassRateBps: minPassRate,
		Graded:         c.Graded,
		Active:         c.Active,
	}, nil
}

var globalConfig = &Config{
	LedgerEndpoint:  "http://localhost:8545",
	DatabasePath:    ".bayd",
	ApiListenAddr:   ":8080",
	MetricsPort:     12798,
	ShutdownTimeout: DefaultShutdownTimeout,
	PollInterval:    "5s",
	BatchSize:       500,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.bayd/bayd.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".bayd", "bayd.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/bayd/bayd.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/bayd/bayd.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("bayd", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := globalConfig.validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func (c *Config) validate() error {
	if c.LedgerEndpoint == "" {
		return fmt.Errorf("ledgerEndpoint is required")
	}
	if _, err := time.ParseDuration(c.PollInterval); err != nil {
		return fmt.Errorf("invalid pollInterval: %w", err)
	}
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdownTimeout: %w", err)
	}
	seen := map[string]string{}
	for _, cohort := range c.Cohorts {
		cohortId, err := cohort.CohortID()
		if err != nil {
			return fmt.Errorf("cohort %q: %w", cohort.Name, err)
		}
		if prev, ok := seen[cohortId.String()]; ok {
			return fmt.Errorf(
				"cohorts %q and %q share the same id",
				prev,
				cohort.Name,
			)
		}
		seen[cohortId.String()] = cohort.Name
		assignmentIds := map[uint64]bool{}
		for _, assignment := range cohort.Assignments {
			if assignmentIds[assignment.Id] {
				return fmt.Errorf(
					"cohort %q: duplicate assignment id %d",
					cohort.Name,
					assignment.Id,
				)
			}
			assignmentIds[assignment.Id] = true
		}
	}
	return nil
}

func GetConfig() *Config {
	return globalConfig
}
