package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCargoCapacity is the container size in m³ (a freighter load).
	DefaultCargoCapacity = 60000.0
	// DefaultResultLimit caps opportunity lists when the caller sets no limit.
	DefaultResultLimit = 50
	// DefaultSalesTaxRate and DefaultBrokerFeeRate are fractions (2.25 %).
	DefaultSalesTaxRate  = 0.0225
	DefaultBrokerFeeRate = 0.0225
	// DefaultLiquidityDays is the staleness window of the liquidity pre-filter.
	DefaultLiquidityDays = 7
	// DefaultOptimalTimeBudget bounds the exhaustive packing search.
	DefaultOptimalTimeBudget = 60 * time.Second
	// DefaultOptimalMaxCandidates bounds the branching of the exhaustive search.
	DefaultOptimalMaxCandidates = 50
	// DefaultLookupConcurrency bounds concurrent station/item lookups.
	DefaultLookupConcurrency = 16
)

// Settings is the read-only configuration the core runs with. It is built once
// from config and passed to the analyzer, allocator and strategies.
type Settings struct {
	Taxes         TaxDefaults
	Skills        TaxSkills
	CargoCapacity float64
	ResultLimit   int
	LiquidityDays int // 0 disables the liquidity pre-filter

	// HubTransportCost is the fixed cost of one shipment from the source hub to
	// each destination hub (jumps × cost per jump, precomputed).
	HubTransportCost map[string]decimal.Decimal
	// DefaultAllocation splits capital across destination hubs.
	DefaultAllocation map[string]float64
	// DefaultStrategy packs cycle allocations.
	DefaultStrategy string

	OptimalTimeBudget    time.Duration
	OptimalMaxCandidates int
	LookupConcurrency    int
}

// DefaultSettings returns Settings with the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Taxes:         TaxDefaults{SalesTaxRate: DefaultSalesTaxRate, BrokerFeeRate: DefaultBrokerFeeRate},
		CargoCapacity: DefaultCargoCapacity,
		ResultLimit:   DefaultResultLimit,
		LiquidityDays: DefaultLiquidityDays,
		HubTransportCost: map[string]decimal.Decimal{
			"amarr":   decimal.NewFromInt(45_000_000),
			"dodixie": decimal.NewFromInt(15_000_000),
			"hek":     decimal.NewFromInt(20_000_000),
			"rens":    decimal.NewFromInt(26_000_000),
		},
		DefaultAllocation: DefaultHubAllocation(),
		DefaultStrategy:   StrategyGreedy,

		OptimalTimeBudget:    DefaultOptimalTimeBudget,
		OptimalMaxCandidates: DefaultOptimalMaxCandidates,
		LookupConcurrency:    DefaultLookupConcurrency,
	}
}

// DefaultHubAllocation is the capital split used when a cycle request has none.
func DefaultHubAllocation() map[string]float64 {
	return map[string]float64{
		"amarr":   0.5,
		"dodixie": 0.3,
		"hek":     0.1,
		"rens":    0.1,
	}
}

// withDefaults fills zero fields so a partially-built Settings is usable.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.CargoCapacity <= 0 {
		s.CargoCapacity = d.CargoCapacity
	}
	if s.ResultLimit <= 0 {
		s.ResultLimit = d.ResultLimit
	}
	if s.Taxes == (TaxDefaults{}) {
		s.Taxes = d.Taxes
	}
	if s.HubTransportCost == nil {
		s.HubTransportCost = d.HubTransportCost
	}
	if s.DefaultAllocation == nil {
		s.DefaultAllocation = d.DefaultAllocation
	}
	if s.DefaultStrategy == "" {
		s.DefaultStrategy = d.DefaultStrategy
	}
	if s.OptimalTimeBudget <= 0 {
		s.OptimalTimeBudget = d.OptimalTimeBudget
	}
	if s.OptimalMaxCandidates <= 0 {
		s.OptimalMaxCandidates = d.OptimalMaxCandidates
	}
	if s.LookupConcurrency <= 0 {
		s.LookupConcurrency = d.LookupConcurrency
	}
	return s
}
