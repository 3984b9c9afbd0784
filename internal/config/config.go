package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/eigerco/trustbond/internal/bonding"
	"github.com/eigerco/trustbond/internal/common"
	"github.com/eigerco/trustbond/internal/emissions"
	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/escrow"
	"github.com/eigerco/trustbond/internal/safemath"
	"github.com/eigerco/trustbond/internal/utilization"
)

// Config holds all daemon configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Admin struct {
		Address string `yaml:"address"`
		// Token authenticates admin requests to the API.
		Token string `yaml:"token"`
	} `yaml:"admin"`
	Emissions struct {
		StartTimestamp        uint64 `yaml:"start_timestamp"`
		EpochLength           uint64 `yaml:"epoch_length"`
		BaseEmissionsPerEpoch string `yaml:"base_emissions_per_epoch"`
		CliffIntervalEpochs   uint64 `yaml:"cliff_interval_epochs"`
		RetentionFactorBps    uint64 `yaml:"retention_factor_bps"`
	} `yaml:"emissions"`
	Escrow struct {
		MaxTime            uint64 `yaml:"max_time"`
		MinTime            uint64 `yaml:"min_time"`
		MaxCheckpointSteps int    `yaml:"max_checkpoint_steps"`
	} `yaml:"escrow"`
	Utilization utilization.Floors `yaml:"utilization"`
	Store       struct {
		Path    string `yaml:"path"`
		CacheMB int64  `yaml:"cache_mb"`
	} `yaml:"store"`
	API struct {
		Listen      string   `yaml:"listen"`
		CORSOrigins []string `yaml:"cors_origins"`
		// RateLimit is requests per second per client, 0 disables limiting.
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"api"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Scheduler struct {
		CheckpointCron string `yaml:"checkpoint_cron"`
		// MaxRuns bounds the checkpoint calls per tick.
		MaxRuns int `yaml:"max_runs"`
	} `yaml:"scheduler"`
	Treasury struct {
		// InitialBalance funds an empty treasury on first start.
		InitialBalance string `yaml:"initial_balance"`
	} `yaml:"treasury"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TRUSTBOND_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TRUSTBOND_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("TRUSTBOND_ADMIN_ADDRESS"); v != "" {
		c.Admin.Address = v
	}
	if v := os.Getenv("TRUSTBOND_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("TRUSTBOND_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TRUSTBOND_API_LISTEN"); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv("TRUSTBOND_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("TRUSTBOND_CHECKPOINT_CRON"); v != "" {
		c.Scheduler.CheckpointCron = v
	}
	if v := os.Getenv("TRUSTBOND_EMISSIONS_START"); v != "" {
		ts, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TRUSTBOND_EMISSIONS_START: %w", err)
		}
		c.Emissions.StartTimestamp = ts
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Emissions.EpochLength == 0 {
		c.Emissions.EpochLength = epochtime.Week
	}
	if c.Emissions.CliffIntervalEpochs == 0 {
		c.Emissions.CliffIntervalEpochs = 52
	}
	if c.Emissions.RetentionFactorBps == 0 {
		c.Emissions.RetentionFactorBps = 9_000
	}
	if c.Emissions.BaseEmissionsPerEpoch == "" {
		c.Emissions.BaseEmissionsPerEpoch = "0"
	}
	defaults := escrow.DefaultParams()
	if c.Escrow.MaxTime == 0 {
		c.Escrow.MaxTime = defaults.MaxTime
	}
	if c.Escrow.MinTime == 0 {
		c.Escrow.MinTime = defaults.MinTime
	}
	if c.Escrow.MaxCheckpointSteps == 0 {
		c.Escrow.MaxCheckpointSteps = defaults.MaxCheckpointSteps
	}
	floors := utilization.DefaultFloors()
	if c.Utilization.SystemBps == 0 {
		c.Utilization.SystemBps = floors.SystemBps
	}
	if c.Utilization.PersonalBps == 0 {
		c.Utilization.PersonalBps = floors.PersonalBps
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/trustbond"
	}
	if c.Store.CacheMB == 0 {
		c.Store.CacheMB = 64
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = 20
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}
	if c.Scheduler.CheckpointCron == "" {
		c.Scheduler.CheckpointCron = "@every 1m"
	}
	if c.Scheduler.MaxRuns == 0 {
		c.Scheduler.MaxRuns = 16
	}
}

// Validate checks that all required fields are set and in range.
func (c *Config) Validate() error {
	if c.Admin.Address == "" {
		return errors.New("admin.address is required")
	}
	if _, err := common.ParseAddress(c.Admin.Address); err != nil {
		return fmt.Errorf("admin.address: %w", err)
	}
	if c.Admin.Token == "" {
		return errors.New("admin.token is required")
	}
	if c.Emissions.StartTimestamp == 0 {
		return errors.New("emissions.start_timestamp is required")
	}
	if _, err := safemath.ParseAmount(c.Emissions.BaseEmissionsPerEpoch); err != nil {
		return fmt.Errorf("emissions.base_emissions_per_epoch: %w", err)
	}
	if _, err := c.InitialTreasuryBalance(); err != nil {
		return err
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must not be negative")
	}
	if c.Scheduler.MaxRuns < 0 {
		return errors.New("scheduler.max_runs must not be negative")
	}
	params, err := c.EngineParams()
	if err != nil {
		return err
	}
	if err := params.Emissions.Validate(); err != nil {
		return fmt.Errorf("emissions: %w", err)
	}
	if err := params.Escrow.Validate(); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	if err := params.Floors.Validate(); err != nil {
		return fmt.Errorf("utilization: %w", err)
	}
	return nil
}

// EngineParams converts the config into engine parameters.
func (c *Config) EngineParams() (bonding.Params, error) {
	admin, err := common.ParseAddress(c.Admin.Address)
	if err != nil {
		return bonding.Params{}, fmt.Errorf("admin.address: %w", err)
	}
	em, err := c.EmissionsParams()
	if err != nil {
		return bonding.Params{}, err
	}
	return bonding.Params{
		Admin:     admin,
		Emissions: em,
		Escrow: escrow.Params{
			MaxTime:            c.Escrow.MaxTime,
			MinTime:            c.Escrow.MinTime,
			MaxCheckpointSteps: c.Escrow.MaxCheckpointSteps,
		},
		Floors: c.Utilization,
	}, nil
}

// EmissionsParams converts the emissions section alone.
func (c *Config) EmissionsParams() (emissions.Params, error) {
	base, err := safemath.ParseAmount(c.Emissions.BaseEmissionsPerEpoch)
	if err != nil {
		return emissions.Params{}, fmt.Errorf("emissions.base_emissions_per_epoch: %w", err)
	}
	return emissions.Params{
		StartTimestamp:        c.Emissions.StartTimestamp,
		EpochLength:           c.Emissions.EpochLength,
		BaseEmissionsPerEpoch: *base,
		CliffIntervalEpochs:   c.Emissions.CliffIntervalEpochs,
		RetentionFactor:       c.Emissions.RetentionFactorBps,
	}, nil
}

// InitialTreasuryBalance parses treasury.initial_balance, zero when unset.
func (c *Config) InitialTreasuryBalance() (*uint256.Int, error) {
	if c.Treasury.InitialBalance == "" {
		return new(uint256.Int), nil
	}
	v, err := safemath.ParseAmount(c.Treasury.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("treasury.initial_balance: %w", err)
	}
	return v, nil
}
