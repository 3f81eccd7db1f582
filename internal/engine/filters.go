package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SortKey names the metric opportunities are ranked by.
type SortKey string

const (
	SortByProfit          SortKey = "profit"
	SortByMargin          SortKey = "margin"
	SortByProfitPerVolume SortKey = "profitPerVolume"
	SortByROI             SortKey = "roi"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ArbitrageFilters narrows and orders an opportunity list. Nil pointer fields
// are not applied. Defaults: SortBy=profit, Order=desc, Limit=Settings.ResultLimit (50).
type ArbitrageFilters struct {
	MinProfit          *decimal.Decimal `json:"min_profit,omitempty"`
	MinMarginPercent   *float64         `json:"min_margin_percent,omitempty"`
	MaxCargoVolume     *float64         `json:"max_cargo_volume,omitempty"`
	MaxInvestment      *decimal.Decimal `json:"max_investment,omitempty"`
	MinProfitPerVolume *float64         `json:"min_profit_per_volume,omitempty"`
	ExcludeHighRisk    bool             `json:"exclude_high_risk,omitempty"`

	// Hub-name filters; ignored by the route-specific variant.
	SourceHubs      []string `json:"source_hubs,omitempty"`
	DestinationHubs []string `json:"destination_hubs,omitempty"`

	// CargoCapacity overrides Settings.CargoCapacity for the logistics block.
	CargoCapacity *float64 `json:"cargo_capacity,omitempty"`

	SortBy SortKey   `json:"sort_by,omitempty" validate:"omitempty,oneof=profit margin profitPerVolume roi"`
	Order  SortOrder `json:"order,omitempty" validate:"omitempty,oneof=asc desc"`
	Limit  int       `json:"limit,omitempty" validate:"gte=0"`
}

// Float64 and Decimal are helpers for building filters.
func Float64(v float64) *float64 { return &v }

func Decimal(v decimal.Decimal) *decimal.Decimal { return &v }

// matches reports whether opp passes every set predicate.
func (f *ArbitrageFilters) matches(opp *ArbitrageOpportunity) bool {
	if f == nil {
		return true
	}
	if f.MinProfit != nil && opp.Profit.NetProfit.LessThan(*f.MinProfit) {
		return false
	}
	if f.MinMarginPercent != nil && opp.Profit.GrossMarginPercent < *f.MinMarginPercent {
		return false
	}
	if f.MaxCargoVolume != nil && opp.Logistics.TotalVolume > *f.MaxCargoVolume {
		return false
	}
	if f.MaxInvestment != nil && opp.Costs.TotalCost.GreaterThan(*f.MaxInvestment) {
		return false
	}
	if f.MinProfitPerVolume != nil && opp.Profit.ProfitPerVolume < *f.MinProfitPerVolume {
		return false
	}
	if f.ExcludeHighRisk && opp.Meta.Confidence == ConfidenceLow {
		return false
	}
	return true
}

func (f *ArbitrageFilters) sortKey() SortKey {
	if f == nil || f.SortBy == "" {
		return SortByProfit
	}
	return f.SortBy
}

func (f *ArbitrageFilters) ascending() bool {
	return f != nil && f.Order == SortAsc
}

func (f *ArbitrageFilters) limit(def int) int {
	if f == nil || f.Limit <= 0 {
		return def
	}
	return f.Limit
}

func (f *ArbitrageFilters) capacity(def float64) float64 {
	if f == nil || f.CargoCapacity == nil || *f.CargoCapacity <= 0 {
		return def
	}
	return *f.CargoCapacity
}

// compareBy returns -1/0/1 comparing a and b on key.
func compareBy(key SortKey, a, b *ArbitrageOpportunity) int {
	switch key {
	case SortByMargin:
		return cmpFloat(a.Profit.GrossMarginPercent, b.Profit.GrossMarginPercent)
	case SortByProfitPerVolume:
		return cmpFloat(a.Profit.ProfitPerVolume, b.Profit.ProfitPerVolume)
	case SortByROI:
		return cmpFloat(a.Profit.ROI, b.Profit.ROI)
	default:
		return a.Profit.NetProfit.Cmp(b.Profit.NetProfit)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// sortAndLimit orders opps by the filter's key and truncates to its limit.
// Ties fall back to (type, source, destination) so equal inputs always produce
// the same order. Truncation happens strictly after sorting.
func sortAndLimit(opps []ArbitrageOpportunity, f *ArbitrageFilters, defLimit int) []ArbitrageOpportunity {
	key := f.sortKey()
	asc := f.ascending()
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := &opps[i], &opps[j]
		if c := compareBy(key, a, b); c != 0 {
			if asc {
				return c < 0
			}
			return c > 0
		}
		if a.TypeID != b.TypeID {
			return a.TypeID < b.TypeID
		}
		if a.Buy.LocationID != b.Buy.LocationID {
			return a.Buy.LocationID < b.Buy.LocationID
		}
		if a.Sell.LocationID != b.Sell.LocationID {
			return a.Sell.LocationID < b.Sell.LocationID
		}
		if a.Buy.OrderID != b.Buy.OrderID {
			return a.Buy.OrderID < b.Buy.OrderID
		}
		return a.Sell.OrderID < b.Sell.OrderID
	})

	if n := f.limit(defLimit); len(opps) > n {
		opps = opps[:n]
	}
	return opps
}
