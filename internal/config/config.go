// Package config loads the sniper's YAML configuration and serves per-event snapshots of it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"pumpsniper/internal/discovery"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/solana"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// RPC holds node endpoints and the watched program.
type RPC struct {
	HTTPEndpoint string `yaml:"http_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	ProgramID    string `yaml:"program_id"`
	Commitment   string `yaml:"commitment"`
}

// Trade holds the per-event trading parameters.
type Trade struct {
	Mode           string          `yaml:"mode"` // single | multi
	AmountPerTrade decimal.Decimal `yaml:"amount_per_trade"`
	SellDelay      time.Duration   `yaml:"sell_delay"` // 0 disables the scheduled sell
	SellPercentage decimal.Decimal `yaml:"sell_percentage"`
	SlippageBps    int             `yaml:"slippage_bps"`
	PriorityFee    decimal.Decimal `yaml:"priority_fee"` // compute unit price multiplier
}

// Monitor tunes the log stream monitor.
type Monitor struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxRetries     int           `yaml:"max_retries"` // 0 = retry while running
}

// Executor tunes transaction building and sending.
type Executor struct {
	ComputeUnits    uint32        `yaml:"compute_units"`
	UnitPrice       uint64        `yaml:"unit_price"`
	MaxSellAttempts int           `yaml:"max_sell_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	TransientPause  time.Duration `yaml:"transient_pause"`
	SkipPreflight   bool          `yaml:"skip_preflight"`
}

// Redis configures the optional redis-backed allow-list.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Config is the root of config.yaml.
type Config struct {
	RPC       RPC      `yaml:"rpc"`
	Trade     Trade    `yaml:"trade"`
	Contracts []string `yaml:"contracts"` // allow-list of mints; empty accepts all
	Monitor   Monitor  `yaml:"monitor"`
	Executor  Executor `yaml:"executor"`
	Redis     Redis    `yaml:"redis"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		RPC: RPC{
			HTTPEndpoint: "https://api.mainnet-beta.solana.com",
			WSEndpoint:   "wss://api.mainnet-beta.solana.com",
			ProgramID:    discovery.PumpFun,
			Commitment:   string(solana.CommitmentProcessed),
		},
		Trade: Trade{
			Mode:           string(domain.RunModeSingle),
			AmountPerTrade: decimal.RequireFromString("0.01"),
			SellPercentage: decimal.NewFromInt(100),
			SlippageBps:    500,
			PriorityFee:    decimal.NewFromInt(1),
		},
		Monitor: Monitor{
			ReconnectDelay: 5 * time.Second,
		},
		Executor: Executor{
			ComputeUnits:    100_000,
			UnitPrice:       333_333,
			MaxSellAttempts: 3,
			RetryBackoff:    500 * time.Millisecond,
			TransientPause:  2 * time.Second,
			SkipPreflight:   true,
		},
		Redis: Redis{
			Key: "pumpsniper:contracts",
		},
	}
}

// Load reads path on top of Default and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it to path atomically.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Validate checks field ranges. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	if !domain.RunMode(c.Trade.Mode).IsValid() {
		problems = append(problems, fmt.Sprintf("trade.mode %q must be single or multi", c.Trade.Mode))
	}
	if c.Trade.AmountPerTrade.Sign() <= 0 {
		problems = append(problems, "trade.amount_per_trade must be positive")
	}
	if c.Trade.SellDelay < 0 {
		problems = append(problems, "trade.sell_delay must not be negative")
	}
	if c.Trade.SellPercentage.Sign() <= 0 || c.Trade.SellPercentage.GreaterThan(decimal.NewFromInt(100)) {
		problems = append(problems, "trade.sell_percentage must be in (0, 100]")
	}
	if c.Trade.SlippageBps < 0 || c.Trade.SlippageBps > 10_000 {
		problems = append(problems, "trade.slippage_bps must be in [0, 10000]")
	}
	if c.Trade.PriorityFee.Sign() <= 0 {
		problems = append(problems, "trade.priority_fee must be positive")
	}
	if c.RPC.ProgramID == "" {
		problems = append(problems, "rpc.program_id is required")
	}
	if !solana.Commitment(c.RPC.Commitment).Valid() {
		problems = append(problems, fmt.Sprintf("rpc.commitment %q is not a commitment level", c.RPC.Commitment))
	}
	if c.Monitor.MaxRetries < 0 {
		problems = append(problems, "monitor.max_retries must not be negative")
	}
	for _, mint := range c.Contracts {
		if _, err := solana.DecodeAddress(mint); err != nil {
			problems = append(problems, fmt.Sprintf("contracts: %v", err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// TradeConfig converts the trade section into its domain form.
func (c *Config) TradeConfig() domain.TradeConfig {
	return domain.TradeConfig{
		Mode:           domain.RunMode(c.Trade.Mode),
		AmountPerTrade: c.Trade.AmountPerTrade,
		SellDelay:      c.Trade.SellDelay,
		SellPercentage: c.Trade.SellPercentage,
		SlippageBps:    c.Trade.SlippageBps,
		PriorityFee:    c.Trade.PriorityFee,
	}
}

// Environment overrides.
const (
	EnvRPCURL     = "PUMPSNIPER_RPC_URL"
	EnvWSURL      = "PUMPSNIPER_WS_URL"
	EnvProgramID  = "PUMPSNIPER_PROGRAM_ID"
	EnvCommitment = "PUMPSNIPER_COMMITMENT"
	EnvRedisAddr  = "PUMPSNIPER_REDIS_ADDR"
	EnvRedisDB    = "PUMPSNIPER_REDIS_DB"
)

// ApplyEnv overrides endpoint and redis settings from lookup (os.LookupEnv in production).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvRPCURL, &cfg.RPC.HTTPEndpoint)
	set(EnvWSURL, &cfg.RPC.WSEndpoint)
	set(EnvProgramID, &cfg.RPC.ProgramID)
	set(EnvCommitment, &cfg.RPC.Commitment)
	set(EnvRedisAddr, &cfg.Redis.Addr)

	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvRedisDB, v, err)
		}
		cfg.Redis.DB = db
	}
	return nil
}
