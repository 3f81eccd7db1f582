package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// CycleFilters narrow the opportunities each hub's packer sees.
type CycleFilters struct {
	MinMarginPercent *float64 `json:"min_margin_percent,omitempty"`
	// MinLiquidity is the minimum destination weekly volume; 0 disables it.
	MinLiquidity int64 `json:"min_liquidity,omitempty" validate:"gte=0"`
	// MaxItemsPerHub caps the opportunities handed to the packer; 0 uses the result limit.
	MaxItemsPerHub int `json:"max_items_per_hub,omitempty" validate:"gte=0"`
}

// CycleRequest asks for one trading cycle plan.
type CycleRequest struct {
	SourceHub    string             `json:"source_hub" validate:"required"`
	TotalCapital decimal.Decimal    `json:"total_capital"`
	Allocation   map[string]float64 `json:"allocation,omitempty"` // hub -> fraction, not required to sum to 1
	Filters      CycleFilters       `json:"filters"`
	Strategy     string             `json:"strategy,omitempty"`
}

// Allocator splits capital across destination hubs and packs each hub's share.
type Allocator struct {
	analyzer *Analyzer
	registry *Registry
	settings Settings
}

// NewAllocator creates an allocator on top of an analyzer and a strategy registry.
func NewAllocator(analyzer *Analyzer, registry *Registry) *Allocator {
	return &Allocator{analyzer: analyzer, registry: registry, settings: analyzer.Settings()}
}

// hubPlan carries margin totals over everything the engine found for the hub,
// before the liquidity floor and the per-hub cap.
type hubPlan struct {
	alloc      CycleAllocation
	marginSum  float64
	considered int
}

// PlanCycle fetches one snapshot covering the source and every destination hub,
// then plans each hub concurrently. Allocations are ordered by hub name.
func (al *Allocator) PlanCycle(ctx context.Context, req CycleRequest) (*CyclePlan, error) {
	start := time.Now()

	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = al.settings.DefaultStrategy
	}
	strategy, err := al.registry.Get(strategyName)
	if err != nil {
		return nil, err
	}

	split := req.Allocation
	if len(split) == 0 {
		split = al.settings.DefaultAllocation
	}
	names := make([]string, 0, len(split))
	for n := range split {
		names = append(names, n)
	}
	sort.Strings(names)

	hubs, err := al.analyzer.ResolveHubs(ctx, append([]string{req.SourceHub}, names...))
	if err != nil {
		return nil, err
	}
	source, dests := hubs[0], hubs[1:]

	orders, err := al.snapshot(ctx, hubs)
	if err != nil {
		return nil, err
	}

	plans := make([]hubPlan, len(dests))
	g, gctx := errgroup.WithContext(ctx)
	for i, hub := range dests {
		g.Go(func() error {
			p, err := al.planHub(gctx, orders, source, hub, split[names[i]], req, strategy)
			if err != nil {
				return fmt.Errorf("hub %s: %w", hub.Name, err)
			}
			plans[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := &CyclePlan{
		SourceHub:   source.Name,
		Strategy:    strategy.Name(),
		CreatedAt:   al.analyzer.now(),
		Allocations: make([]CycleAllocation, 0, len(plans)),
		Summary:     summarize(req.TotalCapital, plans),
	}
	for _, p := range plans {
		plan.Allocations = append(plan.Allocations, p.alloc)
	}

	metrics.ObserveCyclePlan(len(plans), time.Since(start))
	logger.Info("PLAN", fmt.Sprintf("%s cycle from %s: %d hubs, %d items, profit %s ISK",
		plan.Strategy, plan.SourceHub, len(plans), plan.Summary.TotalItems, plan.Summary.TotalProfit.StringFixed(2)))
	return plan, nil
}

func (al *Allocator) snapshot(ctx context.Context, hubs []HubDefinition) ([]esi.MarketOrder, error) {
	snapshots := al.analyzer.deps.Snapshots
	if snapshots == nil {
		return nil, ErrNoSnapshotProvider
	}
	types, err := al.analyzer.liquidTypes(ctx)
	if err != nil {
		return nil, err
	}
	locs := make([]esi.TrackedLocation, 0, len(hubs))
	for _, h := range hubs {
		locs = append(locs, esi.TrackedLocation{LocationID: h.StationID, RegionID: h.RegionID})
	}
	orders, err := snapshots.FetchOrders(ctx, locs, types)
	if err != nil {
		return nil, fmt.Errorf("%w: cycle: %w", ErrSnapshotUnavailable, err)
	}
	return orders, nil
}

func (al *Allocator) planHub(ctx context.Context, orders []esi.MarketOrder, source, hub HubDefinition, pct float64, req CycleRequest, strategy PackingStrategy) (hubPlan, error) {
	filters := &ArbitrageFilters{
		MinMarginPercent: req.Filters.MinMarginPercent,
		Limit:            math.MaxInt32,
	}
	scope := pairScope{sources: stationSet(source.StationID), destinations: stationSet(hub.StationID)}
	opps, err := al.analyzer.run(ctx, "cycle", orders, scope, filters, false)
	if err != nil {
		return hubPlan{}, err
	}
	var marginSum float64
	for i := range opps {
		marginSum += opps[i].Profit.GrossMarginPercent
	}
	considered := len(opps)
	opps = limitCycleOpportunities(opps, req.Filters, al.settings.ResultLimit)

	capital := req.TotalCapital.Mul(decimal.NewFromFloat(pct))
	transport, ok := al.settings.HubTransportCost[hub.Name]
	if !ok {
		logger.Warn("PLAN", "no transport cost configured, using 0", "hub", hub.Name)
		transport = decimal.Zero
	}
	var maxShipments int64
	if transport.IsPositive() {
		maxShipments = capital.Div(transport).Floor().IntPart()
	}

	packing := strategy.Pack(ctx, PackingInput{
		Opportunities: opps,
		Budget:        capital,
		TransportCost: transport,
		CargoCapacity: al.settings.CargoCapacity,
	})

	return hubPlan{marginSum: marginSum, considered: considered, alloc: CycleAllocation{
		Hub:                hub.Name,
		StationID:          hub.StationID,
		Percentage:         pct,
		Capital:            capital,
		TransportCost:      transport,
		MaxShipments:       maxShipments,
		OpportunitiesFound: len(opps),
		Packing:            packing,
	}}, nil
}

// limitCycleOpportunities applies the liquidity floor, then the per-hub cap.
func limitCycleOpportunities(opps []ArbitrageOpportunity, f CycleFilters, defLimit int) []ArbitrageOpportunity {
	if f.MinLiquidity > 0 {
		kept := opps[:0]
		for _, o := range opps {
			if o.WeeklyVolume >= f.MinLiquidity {
				kept = append(kept, o)
			}
		}
		opps = kept
	}
	limit := f.MaxItemsPerHub
	if limit <= 0 {
		limit = defLimit
	}
	if len(opps) > limit {
		opps = opps[:limit]
	}
	return opps
}

func summarize(total decimal.Decimal, plans []hubPlan) CycleSummary {
	s := CycleSummary{
		TotalCapital:       total,
		AllocatedCapital:   decimal.Zero,
		TotalValue:         decimal.Zero,
		TotalProfit:        decimal.Zero,
		TotalTransportCost: decimal.Zero,
	}
	var marginSum float64
	var considered int
	for _, p := range plans {
		a := p.alloc
		s.AllocatedCapital = s.AllocatedCapital.Add(a.Capital)
		s.TotalValue = s.TotalValue.Add(a.Packing.TotalCost)
		s.TotalProfit = s.TotalProfit.Add(a.Packing.TotalProfit)
		s.TotalTransportCost = s.TotalTransportCost.Add(a.Packing.TotalTransport)
		s.TotalShipments += len(a.Packing.Shipments)
		s.TotalItems += len(a.Packing.Items)
		s.OpportunitiesFound += a.OpportunitiesFound
		marginSum += p.marginSum
		considered += p.considered
	}
	if considered > 0 {
		s.AverageMarginPct = marginSum / float64(considered)
	}
	if spent := s.TotalValue.Add(s.TotalTransportCost); spent.IsPositive() {
		s.ExpectedROI = s.TotalProfit.Div(spent).InexactFloat64() * 100
	}
	return s
}
