package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// HubSide is one end of a cross-region trade: where we buy (take a sell order)
// or where we sell (post a competitive sell order against Volume units).
type HubSide struct {
	OrderID     int64           `json:"order_id"`
	LocationID  int64           `json:"location_id"`
	StationName string          `json:"station_name"`
	SystemID    int32           `json:"system_id"`
	RegionID    int32           `json:"region_id"`
	RegionName  string          `json:"region_name"`
	Price       decimal.Decimal `json:"price"`
	Volume      int64           `json:"volume"`
	Issued      time.Time       `json:"issued"`
}

// ProfitAnalysis summarizes how good a trade is.
type ProfitAnalysis struct {
	GrossMargin        decimal.Decimal `json:"gross_margin"` // per unit, sell − buy
	GrossMarginPercent float64         `json:"gross_margin_percent"`
	NetProfit          decimal.Decimal `json:"net_profit"`
	NetProfitPercent   float64         `json:"net_profit_percent"` // of gross revenue
	ProfitPerVolume    float64         `json:"profit_per_volume"`  // ISK per m³
	ROI                float64         `json:"roi"`                // % of total cost
}

// CostBreakdown holds the precise fee model of a trade.
type CostBreakdown struct {
	BuyPrice      decimal.Decimal `json:"buy_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	SalesTax      decimal.Decimal `json:"sales_tax"`
	BuyBrokerFee  decimal.Decimal `json:"buy_broker_fee"`
	SellBrokerFee decimal.Decimal `json:"sell_broker_fee"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	GrossRevenue  decimal.Decimal `json:"gross_revenue"`
}

// OpportunityMeta carries when and how confidently an opportunity was computed.
type OpportunityMeta struct {
	ComputedAt        time.Time  `json:"computed_at"`
	BuyOrderAgeHours  float64    `json:"buy_order_age_hours"`
	SellOrderAgeHours float64    `json:"sell_order_age_hours"`
	SpreadPercent     float64    `json:"spread_percent"` // of the destination price
	Confidence        Confidence `json:"confidence"`
}

// ArbitrageOpportunity is a profitable cross-region spread for one item: buy from
// a sell order in one region, ship, list below a pricier sell order in another.
type ArbitrageOpportunity struct {
	TypeID       int32                `json:"type_id"`
	TypeName     string               `json:"type_name"`
	ItemVolume   float64              `json:"item_volume"`
	Quantity     int64                `json:"quantity"`
	WeeklyVolume int64                `json:"weekly_volume"` // destination region, 0 = unknown
	Buy          HubSide              `json:"buy"`
	Sell         HubSide              `json:"sell"`
	Profit       ProfitAnalysis       `json:"profit"`
	Costs        CostBreakdown        `json:"costs"`
	Logistics    LogisticsCalculation `json:"logistics"`
	Meta         OpportunityMeta      `json:"meta"`
}

// PackedItem is one opportunity placed into a shipment by a packing strategy.
type PackedItem struct {
	Opportunity    *ArbitrageOpportunity `json:"opportunity"`
	Shipment       int                   `json:"shipment"` // 0-based shipment index
	Quantity       int64                 `json:"quantity"`
	TotalCost      decimal.Decimal       `json:"total_cost"`
	TotalCargo     float64               `json:"total_cargo"`
	Profit         decimal.Decimal       `json:"profit"`          // before transport
	TransportShare decimal.Decimal       `json:"transport_share"` // this item's share of its shipment's transport cost
	NetProfit      decimal.Decimal       `json:"net_profit"`      // after transport
}

// Shipment is one container load.
type Shipment struct {
	Index         int             `json:"index"`
	Items         int             `json:"items"`
	Cargo         float64         `json:"cargo"`
	Cost          decimal.Decimal `json:"cost"`
	TransportCost decimal.Decimal `json:"transport_cost"`
	NetProfit     decimal.Decimal `json:"net_profit"`
}

// SearchStats reports how an exhaustive search spent its time budget.
type SearchStats struct {
	Nodes          int64   `json:"nodes"`
	Pruned         int64   `json:"pruned"`
	TimedOut       bool    `json:"timed_out"`
	BudgetFraction float64 `json:"budget_fraction"` // elapsed / time budget
}

// PackingResult is the output of one packing strategy.
type PackingResult struct {
	Algorithm        string          `json:"algorithm"`
	Items            []PackedItem    `json:"items"`
	Shipments        []Shipment      `json:"shipments"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalTransport   decimal.Decimal `json:"total_transport"`
	TotalProfit      decimal.Decimal `json:"total_profit"` // after transport
	TotalCargo       float64         `json:"total_cargo"`
	CargoUtilization float64         `json:"cargo_utilization"` // % of booked shipment space
	ExecutionTime    time.Duration   `json:"execution_time"`
	Search           *SearchStats    `json:"search,omitempty"`
}

// ExecutionMillis is the wall-clock time in (fractional) milliseconds.
func (r PackingResult) ExecutionMillis() float64 {
	return float64(r.ExecutionTime) / float64(time.Millisecond)
}

// CycleAllocation is the plan for one destination hub.
type CycleAllocation struct {
	Hub                string          `json:"hub"`
	StationID          int64           `json:"station_id"`
	Percentage         float64         `json:"percentage"`
	Capital            decimal.Decimal `json:"capital"`
	TransportCost      decimal.Decimal `json:"transport_cost"` // per shipment
	MaxShipments       int64           `json:"max_shipments"`
	OpportunitiesFound int             `json:"opportunities_found"`
	Packing            PackingResult   `json:"packing"`
}

// CycleSummary aggregates all hubs of a plan.
type CycleSummary struct {
	TotalCapital       decimal.Decimal `json:"total_capital"`
	AllocatedCapital   decimal.Decimal `json:"allocated_capital"`
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalProfit        decimal.Decimal `json:"total_profit"`
	TotalTransportCost decimal.Decimal `json:"total_transport_cost"`
	TotalShipments     int             `json:"total_shipments"`
	TotalItems         int             `json:"total_items"`
	OpportunitiesFound int             `json:"opportunities_found"`
	AverageMarginPct   float64         `json:"average_margin_percent"` // before the liquidity floor and per-hub cap
	ExpectedROI        float64         `json:"expected_roi"`
}

// CyclePlan is the full output of a capital allocation run.
type CyclePlan struct {
	ID          string            `json:"id,omitempty"` // set once persisted
	SourceHub   string            `json:"source_hub"`
	Strategy    string            `json:"strategy"`
	CreatedAt   time.Time         `json:"created_at"`
	Allocations []CycleAllocation `json:"allocations"`
	Summary     CycleSummary      `json:"summary"`
}
