// Package config loads the tracker's settings from YAML, .env and EVE_*
// environment variables, and turns them into engine and client settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

// Config holds application settings.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Database   DatabaseConfig     `yaml:"database"`
	ESI        ESIConfig          `yaml:"esi"`
	Log        LogConfig          `yaml:"log"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Trade      TradeConfig        `yaml:"trade"`
	SourceHub  string             `yaml:"source_hub" validate:"required"`
	Hubs       []HubConfig        `yaml:"hubs" validate:"min=2,unique=Name,dive"`
	Shipping   ShippingConfig     `yaml:"shipping"`
	Allocation map[string]float64 `yaml:"allocation" validate:"dive,gte=0"`
	Optimizer  OptimizerConfig    `yaml:"optimizer"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // sqlite file, or ":memory:"
}

type ESIConfig struct {
	BaseURL        string  `yaml:"base_url" validate:"required,url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" validate:"gt=0"`
	Burst          int     `yaml:"burst" validate:"gt=0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gt=0"`
	MaxConcurrency int     `yaml:"max_concurrency" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TradeConfig holds the fee model and scan defaults. Percentages are 0-100.
type TradeConfig struct {
	SalesTaxPercent   float64     `yaml:"sales_tax_percent" validate:"gte=0,lte=100"`
	BrokerFeePercent  float64     `yaml:"broker_fee_percent" validate:"gte=0,lte=100"`
	Skills            SkillConfig `yaml:"skills"`
	CargoCapacity     float64     `yaml:"cargo_capacity" validate:"gt=0"`
	ResultLimit       int         `yaml:"result_limit" validate:"gt=0"`
	LiquidityDays     int         `yaml:"liquidity_days" validate:"gte=-1"` // -1 disables the liquidity filter
	LookupConcurrency int         `yaml:"lookup_concurrency" validate:"gt=0"`
}

type SkillConfig struct {
	Accounting      int     `yaml:"accounting" validate:"gte=0,lte=5"`
	BrokerRelations int     `yaml:"broker_relations" validate:"gte=0,lte=5"`
	FactionStanding float64 `yaml:"faction_standing" validate:"gte=-10,lte=10"`
	CorpStanding    float64 `yaml:"corp_standing" validate:"gte=-10,lte=10"`
}

// HubConfig is one trade hub. Jumps is the route length from the source hub.
type HubConfig struct {
	Name       string   `yaml:"name" validate:"required"`
	SystemName string   `yaml:"system_name"`
	StationID  int64    `yaml:"station_id" validate:"gt=0"`
	RegionID   int32    `yaml:"region_id" validate:"gt=0"`
	Jumps      int      `yaml:"jumps" validate:"gte=0"`
	Transport  *float64 `yaml:"transport_cost,omitempty" validate:"omitempty,gte=0"` // overrides jumps × cost per jump
}

type ShippingConfig struct {
	CostPerJump float64 `yaml:"cost_per_jump" validate:"gte=0"`
}

type OptimizerConfig struct {
	DefaultStrategy   string  `yaml:"default_strategy" validate:"oneof=greedy optimal hybrid"`
	TimeBudgetSeconds float64 `yaml:"time_budget_seconds" validate:"gt=0"`
	MaxCandidates     int     `yaml:"max_candidates" validate:"gt=0"`
}

// Default returns a Config with sensible defaults: the five empire hubs with
// Jita as the source.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: "127.0.0.1:13370"},
		Database: DatabaseConfig{Path: "tracker.db"},
		ESI: ESIConfig{
			BaseURL:        esi.DefaultBaseURL,
			RequestsPerSec: 100,
			Burst:          20,
			TimeoutSeconds: 30,
			MaxConcurrency: 50,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Trade: TradeConfig{
			SalesTaxPercent:   engine.DefaultSalesTaxRate * 100,
			BrokerFeePercent:  engine.DefaultBrokerFeeRate * 100,
			CargoCapacity:     engine.DefaultCargoCapacity,
			ResultLimit:       engine.DefaultResultLimit,
			LiquidityDays:     engine.DefaultLiquidityDays,
			LookupConcurrency: engine.DefaultLookupConcurrency,
		},
		SourceHub: "jita",
		Hubs: []HubConfig{
			{Name: "jita", SystemName: "Jita", StationID: 60003760, RegionID: 10000002},
			{Name: "amarr", SystemName: "Amarr", StationID: 60008494, RegionID: 10000043, Jumps: 45},
			{Name: "dodixie", SystemName: "Dodixie", StationID: 60011866, RegionID: 10000032, Jumps: 15},
			{Name: "hek", SystemName: "Hek", StationID: 60005686, RegionID: 10000042, Jumps: 20},
			{Name: "rens", SystemName: "Rens", StationID: 60004588, RegionID: 10000030, Jumps: 26},
		},
		Shipping:   ShippingConfig{CostPerJump: 1_000_000},
		Allocation: engine.DefaultHubAllocation(),
		Optimizer: OptimizerConfig{
			DefaultStrategy:   engine.StrategyGreedy,
			TimeBudgetSeconds: engine.DefaultOptimalTimeBudget.Seconds(),
			MaxCandidates:     engine.DefaultOptimalMaxCandidates,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then .env
// and EVE_* environment overrides, fills unset values from Default and
// validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overwrites values from EVE_* variables when present.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"EVE_SERVER_ADDR":      &cfg.Server.Addr,
		"EVE_DB_PATH":          &cfg.Database.Path,
		"EVE_ESI_BASE_URL":     &cfg.ESI.BaseURL,
		"EVE_LOG_LEVEL":        &cfg.Log.Level,
		"EVE_LOG_FORMAT":       &cfg.Log.Format,
		"EVE_SOURCE_HUB":       &cfg.SourceHub,
		"EVE_DEFAULT_STRATEGY": &cfg.Optimizer.DefaultStrategy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"EVE_CARGO_CAPACITY":     &cfg.Trade.CargoCapacity,
		"EVE_COST_PER_JUMP":      &cfg.Shipping.CostPerJump,
		"EVE_OPTIMIZER_BUDGET_S": &cfg.Optimizer.TimeBudgetSeconds,
		"EVE_ESI_REQUESTS_PER_S": &cfg.ESI.RequestsPerSec,
	}
	for key, dst := range floats {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = f
	}

	if v := os.Getenv("EVE_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: EVE_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}

// setDefaults fills every unset value from Default. Hubs and allocation are
// replaced as a whole, never merged.
func setDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = d.Database.Path
	}
	if cfg.ESI.BaseURL == "" {
		cfg.ESI.BaseURL = d.ESI.BaseURL
	}
	if cfg.ESI.RequestsPerSec <= 0 {
		cfg.ESI.RequestsPerSec = d.ESI.RequestsPerSec
	}
	if cfg.ESI.Burst <= 0 {
		cfg.ESI.Burst = d.ESI.Burst
	}
	if cfg.ESI.TimeoutSeconds <= 0 {
		cfg.ESI.TimeoutSeconds = d.ESI.TimeoutSeconds
	}
	if cfg.ESI.MaxConcurrency <= 0 {
		cfg.ESI.MaxConcurrency = d.ESI.MaxConcurrency
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.Trade.SalesTaxPercent == 0 && cfg.Trade.BrokerFeePercent == 0 {
		cfg.Trade.SalesTaxPercent = d.Trade.SalesTaxPercent
		cfg.Trade.BrokerFeePercent = d.Trade.BrokerFeePercent
	}
	if cfg.Trade.CargoCapacity <= 0 {
		cfg.Trade.CargoCapacity = d.Trade.CargoCapacity
	}
	if cfg.Trade.ResultLimit <= 0 {
		cfg.Trade.ResultLimit = d.Trade.ResultLimit
	}
	if cfg.Trade.LiquidityDays == 0 {
		cfg.Trade.LiquidityDays = d.Trade.LiquidityDays
	}
	if cfg.Trade.LookupConcurrency <= 0 {
		cfg.Trade.LookupConcurrency = d.Trade.LookupConcurrency
	}
	if cfg.SourceHub == "" {
		cfg.SourceHub = d.SourceHub
	}
	if len(cfg.Hubs) == 0 {
		cfg.Hubs = d.Hubs
	}
	if cfg.Shipping.CostPerJump == 0 {
		cfg.Shipping.CostPerJump = d.Shipping.CostPerJump
	}
	if len(cfg.Allocation) == 0 {
		cfg.Allocation = d.Allocation
	}
	if cfg.Optimizer.DefaultStrategy == "" {
		cfg.Optimizer.DefaultStrategy = d.Optimizer.DefaultStrategy
	}
	if cfg.Optimizer.TimeBudgetSeconds <= 0 {
		cfg.Optimizer.TimeBudgetSeconds = d.Optimizer.TimeBudgetSeconds
	}
	if cfg.Optimizer.MaxCandidates <= 0 {
		cfg.Optimizer.MaxCandidates = d.Optimizer.MaxCandidates
	}
	for i := range cfg.Hubs {
		cfg.Hubs[i].Name = strings.ToLower(strings.TrimSpace(cfg.Hubs[i].Name))
	}
	cfg.SourceHub = strings.ToLower(strings.TrimSpace(cfg.SourceHub))
}

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks field rules, then that the source hub and every allocation
// key name a configured hub.
func (c *Config) Validate() error {
	if err := NewValidator().Validate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, ok := c.hub(c.SourceHub); !ok {
		return fmt.Errorf("%w: source hub %q is not in hubs", ErrInvalid, c.SourceHub)
	}
	for name := range c.Allocation {
		if _, ok := c.hub(name); !ok {
			return fmt.Errorf("%w: allocation hub %q is not in hubs", ErrInvalid, name)
		}
		if name == c.SourceHub {
			return fmt.Errorf("%w: allocation names the source hub %q", ErrInvalid, name)
		}
	}
	return nil
}

func (c *Config) hub(name string) (HubConfig, bool) {
	for _, h := range c.Hubs {
		if h.Name == strings.ToLower(name) {
			return h, true
		}
	}
	return HubConfig{}, false
}

// TransportCost is the cost of one shipment from the source hub to hub.
func (c *Config) TransportCost(h HubConfig) decimal.Decimal {
	if h.Transport != nil {
		return decimal.NewFromFloat(*h.Transport)
	}
	return decimal.NewFromFloat(c.Shipping.CostPerJump).Mul(decimal.NewFromInt(int64(h.Jumps)))
}

// HubDefinitions lists the configured hubs for the hub directory.
func (c *Config) HubDefinitions() []engine.HubDefinition {
	out := make([]engine.HubDefinition, len(c.Hubs))
	for i, h := range c.Hubs {
		out[i] = engine.HubDefinition{Name: h.Name, SystemName: h.SystemName, StationID: h.StationID, RegionID: h.RegionID}
	}
	return out
}

// EngineSettings builds the read-only settings the core runs with.
func (c *Config) EngineSettings() engine.Settings {
	transport := make(map[string]decimal.Decimal, len(c.Hubs))
	for _, h := range c.Hubs {
		if h.Name != c.SourceHub {
			transport[h.Name] = c.TransportCost(h)
		}
	}
	allocation := make(map[string]float64, len(c.Allocation))
	for k, v := range c.Allocation {
		allocation[strings.ToLower(k)] = v
	}
	return engine.Settings{
		Taxes: engine.TaxDefaults{
			SalesTaxRate:  c.Trade.SalesTaxPercent / 100,
			BrokerFeeRate: c.Trade.BrokerFeePercent / 100,
		},
		Skills: engine.TaxSkills{
			Accounting:      c.Trade.Skills.Accounting,
			BrokerRelations: c.Trade.Skills.BrokerRelations,
			FactionStanding: c.Trade.Skills.FactionStanding,
			CorpStanding:    c.Trade.Skills.CorpStanding,
		},
		CargoCapacity:        c.Trade.CargoCapacity,
		ResultLimit:          c.Trade.ResultLimit,
		LiquidityDays:        max(c.Trade.LiquidityDays, 0),
		HubTransportCost:     transport,
		DefaultAllocation:    allocation,
		DefaultStrategy:      c.Optimizer.DefaultStrategy,
		OptimalTimeBudget:    time.Duration(c.Optimizer.TimeBudgetSeconds * float64(time.Second)),
		OptimalMaxCandidates: c.Optimizer.MaxCandidates,
		LookupConcurrency:    c.Trade.LookupConcurrency,
	}
}

// ESIOptions builds the ESI client options.
func (c *Config) ESIOptions() esi.Options {
	return esi.Options{
		BaseURL:        c.ESI.BaseURL,
		RequestsPerSec: c.ESI.RequestsPerSec,
		Burst:          c.ESI.Burst,
		Timeout:        time.Duration(c.ESI.TimeoutSeconds) * time.Second,
		MaxConcurrency: c.ESI.MaxConcurrency,
	}
}
