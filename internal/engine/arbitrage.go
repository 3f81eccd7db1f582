package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

// Collaborators are the external lookups the analyzer reads from. Stations and
// Items are required; the rest are optional and their features switch off when nil.
type Collaborators struct {
	Stations  StationResolver
	Items     ItemCatalog
	Liquidity LiquidityFilter
	Hubs      HubDirectory
	Snapshots SnapshotProvider
	Stats     TradeStatsProvider
}

// Analyzer finds cross-region sell/sell spreads in a market snapshot.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	settings Settings
	taxes    TaxCalculation
	deps     Collaborators
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. Zero settings fields take their defaults.
func NewAnalyzer(settings Settings, deps Collaborators) *Analyzer {
	settings = settings.withDefaults()
	return &Analyzer{
		settings: settings,
		taxes:    CalculateTaxes(settings.Skills, settings.Taxes),
		deps:     deps,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for order ages and timestamps.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	cp := *a
	cp.now = now
	return &cp
}

// Settings returns the settings the analyzer runs with.
func (a *Analyzer) Settings() Settings { return a.settings }

// pairScope restricts which (source, destination) stations are paired.
// A nil set allows any station on that side.
type pairScope struct {
	sources      map[int64]bool
	destinations map[int64]bool
}

func (s pairScope) allows(src, dst int64) bool {
	if s.sources != nil && !s.sources[src] {
		return false
	}
	if s.destinations != nil && !s.destinations[dst] {
		return false
	}
	return true
}

func stationSet(ids ...int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// FindOpportunities runs the full cross-product search over orders. Hub-name
// filters, when set, restrict the source and destination stations.
func (a *Analyzer) FindOpportunities(ctx context.Context, orders []esi.MarketOrder, filters *ArbitrageFilters) ([]ArbitrageOpportunity, error) {
	var scope pairScope
	if filters != nil && len(filters.SourceHubs) > 0 {
		hubs, err := a.ResolveHubs(ctx, filters.SourceHubs)
		if err != nil {
			return nil, err
		}
		scope.sources = hubStations(hubs)
	}
	if filters != nil && len(filters.DestinationHubs) > 0 {
		hubs, err := a.ResolveHubs(ctx, filters.DestinationHubs)
		if err != nil {
			return nil, err
		}
		scope.destinations = hubStations(hubs)
	}
	return a.run(ctx, "all", orders, scope, filters, true)
}

// FindOpportunitiesFromHub restricts the search to pairs that buy at source and
// sell at one of destinations.
func (a *Analyzer) FindOpportunitiesFromHub(ctx context.Context, orders []esi.MarketOrder, source HubDefinition, destinations []HubDefinition, filters *ArbitrageFilters) ([]ArbitrageOpportunity, error) {
	scope := pairScope{
		sources:      stationSet(source.StationID),
		destinations: hubStations(destinations),
	}
	return a.run(ctx, "hub", orders, scope, filters, true)
}

// FindOpportunitiesForRoute restricts the search to one explicit station pair.
// Hub-name filters are ignored.
func (a *Analyzer) FindOpportunitiesForRoute(ctx context.Context, orders []esi.MarketOrder, sourceStationID, destinationStationID int64, filters *ArbitrageFilters) ([]ArbitrageOpportunity, error) {
	scope := pairScope{
		sources:      stationSet(sourceStationID),
		destinations: stationSet(destinationStationID),
	}
	return a.run(ctx, "route", orders, scope, filters, true)
}

// FindOpportunitiesForHubPair resolves two hub names, fetches their current
// orders and runs the route search between them. Snapshot failures are
// returned so callers can tell an unavailable market from an empty one.
func (a *Analyzer) FindOpportunitiesForHubPair(ctx context.Context, source, destination string, filters *ArbitrageFilters) ([]ArbitrageOpportunity, error) {
	if a.deps.Snapshots == nil {
		return nil, ErrNoSnapshotProvider
	}
	hubs, err := a.ResolveHubs(ctx, []string{source, destination})
	if err != nil {
		return nil, err
	}
	src, dst := hubs[0], hubs[1]

	types, err := a.liquidTypes(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := a.deps.Snapshots.FetchOrders(ctx, []esi.TrackedLocation{
		{LocationID: src.StationID, RegionID: src.RegionID},
		{LocationID: dst.StationID, RegionID: dst.RegionID},
	}, types)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s: %w", ErrSnapshotUnavailable, src.Name, dst.Name, err)
	}

	scope := pairScope{sources: stationSet(src.StationID), destinations: stationSet(dst.StationID)}
	return a.run(ctx, "hub-pair", orders, scope, filters, false)
}

// ResolveHubs looks up hub definitions by case-insensitive name, in the order given.
func (a *Analyzer) ResolveHubs(ctx context.Context, names []string) ([]HubDefinition, error) {
	if a.deps.Hubs == nil {
		return nil, fmt.Errorf("%w: no hub directory configured", ErrUnknownHub)
	}
	defs, err := a.deps.Hubs.GetHubDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hubs: %w", err)
	}
	byName := make(map[string]HubDefinition, len(defs))
	for _, h := range defs {
		byName[strings.ToLower(h.Name)] = h
	}
	out := make([]HubDefinition, 0, len(names))
	for _, n := range names {
		h, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownHub, n)
		}
		out = append(out, h)
	}
	return out, nil
}

func hubStations(hubs []HubDefinition) map[int64]bool {
	m := make(map[int64]bool, len(hubs))
	for _, h := range hubs {
		m[h.StationID] = true
	}
	return m
}

// liquidTypes returns the liquid type IDs, or nil when the filter is disabled
// or has no data yet (an empty history table must not hide the whole market).
func (a *Analyzer) liquidTypes(ctx context.Context) ([]int32, error) {
	if a.deps.Liquidity == nil || a.settings.LiquidityDays <= 0 {
		return nil, nil
	}
	ids, err := a.deps.Liquidity.GetLiquidItemIDs(ctx, a.settings.LiquidityDays)
	if err != nil {
		return nil, fmt.Errorf("liquid items: %w", err)
	}
	if len(ids) == 0 {
		logger.Warn("ENGINE", "liquidity filter has no trade history, analysing all types")
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// candidatePair is one profitable ordered pair before enrichment.
type candidatePair struct {
	src, dst esi.MarketOrder
}

// run is the shared search: liquidity filter, grouping, pairing, enrichment,
// filters, sort and limit.
func (a *Analyzer) run(ctx context.Context, variant string, orders []esi.MarketOrder, scope pairScope, filters *ArbitrageFilters, applyLiquidity bool) ([]ArbitrageOpportunity, error) {
	start := time.Now()

	if applyLiquidity {
		types, err := a.liquidTypes(ctx)
		if err != nil {
			return nil, err
		}
		if types != nil {
			orders = filterTypes(orders, types)
		}
	}

	byType := groupSellOrders(orders)
	typeIDs := make([]int32, 0, len(byType))
	for id := range byType {
		typeIDs = append(typeIDs, id)
	}
	sort.Slice(typeIDs, func(i, j int) bool { return typeIDs[i] < typeIDs[j] })

	pairs := make(map[int32][]candidatePair, len(typeIDs))
	for _, id := range typeIDs {
		if p := pairOrders(byType[id], scope); len(p) > 0 {
			pairs[id] = p
		}
	}
	if len(pairs) == 0 {
		metrics.ObserveScan(variant, time.Since(start), 0)
		return []ArbitrageOpportunity{}, nil
	}

	lk, err := a.prefetch(ctx, pairs)
	if err != nil {
		return nil, err
	}

	now := a.now()
	capacity := filters.capacity(a.settings.CargoCapacity)
	var out []ArbitrageOpportunity
	for _, id := range typeIDs {
		p, ok := pairs[id]
		if !ok {
			continue
		}
		opps, err := a.analyzeItem(id, p, lk, capacity, now)
		if err != nil {
			logger.Error("ENGINE", fmt.Sprintf("type %d dropped: %v", id, err))
			metrics.RecordItemFailure()
			continue
		}
		for i := range opps {
			if filters.matches(&opps[i]) {
				out = append(out, opps[i])
			}
		}
	}

	out = sortAndLimit(out, filters, a.settings.ResultLimit)
	if out == nil {
		out = []ArbitrageOpportunity{}
	}
	metrics.ObserveScan(variant, time.Since(start), len(out))
	logger.Debug("ENGINE", fmt.Sprintf("%s scan: %d orders, %d types paired, %d opportunities", variant, len(orders), len(pairs), len(out)))
	return out, nil
}

func filterTypes(orders []esi.MarketOrder, types []int32) []esi.MarketOrder {
	keep := make(map[int32]bool, len(types))
	for _, t := range types {
		keep[t] = true
	}
	out := make([]esi.MarketOrder, 0, len(orders))
	for _, o := range orders {
		if keep[o.TypeID] {
			out = append(out, o)
		}
	}
	return out
}

// groupSellOrders buckets sell orders by type. Buy orders play no part: the
// destination action is posting a competing sell order.
func groupSellOrders(orders []esi.MarketOrder) map[int32][]esi.MarketOrder {
	m := make(map[int32][]esi.MarketOrder)
	for _, o := range orders {
		if o.OrderType() != esi.OrderTypeSell || o.VolumeRemain <= 0 || o.Price <= 0 {
			continue
		}
		m[o.TypeID] = append(m[o.TypeID], o)
	}
	return m
}

// pairOrders compares every ordered pair of one type's sell orders. This is
// intentionally quadratic: hub count is small and every pair is checked.
func pairOrders(sells []esi.MarketOrder, scope pairScope) []candidatePair {
	var out []candidatePair
	for i := range sells {
		for j := range sells {
			if i == j {
				continue
			}
			src, dst := sells[i], sells[j]
			if src.RegionID == dst.RegionID || dst.Price <= src.Price {
				continue
			}
			if !scope.allows(src.LocationID, dst.LocationID) {
				continue
			}
			out = append(out, candidatePair{src: src, dst: dst})
		}
	}
	return out
}

type lookupResult[T any] struct {
	val *T
	err error
}

type statsKey struct {
	regionID int32
	typeID   int32
}

// lookups holds the prefetched collaborator answers for one run.
type lookups struct {
	stations map[int64]lookupResult[StationInfo]
	items    map[int32]lookupResult[ItemInfo]
	weekly   map[statsKey]int64
}

// prefetch resolves every distinct station, item and destination weekly volume
// concurrently. Individual lookup errors are kept per key; only a cancelled
// context fails the run, and lookups not yet started are skipped.
func (a *Analyzer) prefetch(ctx context.Context, pairs map[int32][]candidatePair) (*lookups, error) {
	locs := make(map[int64]bool)
	keys := make(map[statsKey]bool)
	for id, ps := range pairs {
		for _, p := range ps {
			locs[p.src.LocationID] = true
			locs[p.dst.LocationID] = true
			keys[statsKey{p.dst.RegionID, id}] = true
		}
	}

	lk := &lookups{
		stations: make(map[int64]lookupResult[StationInfo], len(locs)),
		items:    make(map[int32]lookupResult[ItemInfo], len(pairs)),
		weekly:   make(map[statsKey]int64, len(keys)),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.settings.LookupConcurrency)

	for loc := range locs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := guard(func() (*StationInfo, error) { return a.deps.Stations.ResolveStation(gctx, loc) })
			mu.Lock()
			lk.stations[loc] = lookupResult[StationInfo]{st, err}
			mu.Unlock()
			return nil
		})
	}
	for id := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it, err := guard(func() (*ItemInfo, error) { return a.deps.Items.GetItemInfo(gctx, id) })
			mu.Lock()
			lk.items[id] = lookupResult[ItemInfo]{it, err}
			mu.Unlock()
			return nil
		})
	}
	if a.deps.Stats != nil {
		for k := range keys {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := a.weeklyVolume(gctx, k)
				if err != nil {
					logger.Debug("ENGINE", fmt.Sprintf("weekly volume %d/%d: %v", k.regionID, k.typeID, err))
					return nil
				}
				mu.Lock()
				lk.weekly[k] = v
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lk, nil
}

// guard turns a collaborator panic into an error for the item it belongs to.
func guard[T any](fn func() (*T, error)) (v *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// weeklyVolume is best effort: failures leave the volume unknown.
func (a *Analyzer) weeklyVolume(ctx context.Context, k statsKey) (v int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("panic: %v", r)
		}
	}()
	return a.deps.Stats.WeeklyVolume(ctx, k.regionID, k.typeID)
}

// analyzeItem builds every opportunity of one type. A panic is turned into an
// error so one bad item never aborts the run.
func (a *Analyzer) analyzeItem(typeID int32, pairs []candidatePair, lk *lookups, capacity float64, now time.Time) (opps []ArbitrageOpportunity, err error) {
	defer func() {
		if r := recover(); r != nil {
			opps, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	item := lk.items[typeID]
	if item.err != nil {
		return nil, fmt.Errorf("item info: %w", item.err)
	}
	if item.val == nil || item.val.Volume <= 0 {
		logger.Debug("ENGINE", fmt.Sprintf("type %d skipped: no item volume", typeID))
		return nil, nil
	}

	for _, p := range pairs {
		src, dst := lk.stations[p.src.LocationID], lk.stations[p.dst.LocationID]
		if src.err != nil {
			return nil, fmt.Errorf("station %d: %w", p.src.LocationID, src.err)
		}
		if dst.err != nil {
			return nil, fmt.Errorf("station %d: %w", p.dst.LocationID, dst.err)
		}
		if src.val == nil || dst.val == nil {
			logger.Debug("ENGINE", fmt.Sprintf("type %d pair %d -> %d skipped: unresolved station",
				typeID, p.src.LocationID, p.dst.LocationID))
			continue
		}
		weekly := lk.weekly[statsKey{p.dst.RegionID, typeID}]
		opps = append(opps, a.buildOpportunity(item.val, p, src.val, dst.val, weekly, capacity, now))
	}
	return opps, nil
}

// buildOpportunity applies the fee, logistics and confidence models to a pair.
func (a *Analyzer) buildOpportunity(item *ItemInfo, p candidatePair, srcSt, dstSt *StationInfo, weekly int64, capacity float64, now time.Time) ArbitrageOpportunity {
	qty := int64(min(p.src.VolumeRemain, p.dst.VolumeRemain))
	q := decimal.NewFromInt(qty)

	buyPrice := decimal.NewFromFloat(p.src.Price)
	sellPrice := decimal.NewFromFloat(p.dst.Price)
	totalCost := buyPrice.Mul(q)
	grossRevenue := sellPrice.Mul(q)

	fees := applyFees(totalCost, grossRevenue, a.taxes)
	totalFees := fees.total()
	net := grossRevenue.Sub(totalCost).Sub(totalFees)
	margin := sellPrice.Sub(buyPrice)

	logistics := CalculateLogistics(item.Volume, qty, capacity)
	netF := net.InexactFloat64()
	marginF := margin.InexactFloat64()

	buyAge := p.src.AgeHours(now)
	sellAge := p.dst.AgeHours(now)

	return ArbitrageOpportunity{
		TypeID:       p.src.TypeID,
		TypeName:     item.Name,
		ItemVolume:   item.Volume,
		Quantity:     qty,
		WeeklyVolume: weekly,
		Buy:          hubSide(p.src, srcSt),
		Sell:         hubSide(p.dst, dstSt),
		Profit: ProfitAnalysis{
			GrossMargin:        margin,
			GrossMarginPercent: finite(ratio(marginF, p.src.Price) * 100),
			NetProfit:          net,
			NetProfitPercent:   finite(ratio(netF, grossRevenue.InexactFloat64()) * 100),
			ProfitPerVolume:    finite(ratio(netF, logistics.TotalVolume)),
			ROI:                finite(ratio(netF, totalCost.InexactFloat64()) * 100),
		},
		Costs: CostBreakdown{
			BuyPrice:      buyPrice,
			SellPrice:     sellPrice,
			SalesTax:      fees.SalesTax,
			BuyBrokerFee:  fees.BuyBrokerFee,
			SellBrokerFee: fees.SellBrokerFee,
			TotalFees:     totalFees,
			TotalCost:     totalCost,
			GrossRevenue:  grossRevenue,
		},
		Logistics: logistics,
		Meta: OpportunityMeta{
			ComputedAt:        now,
			BuyOrderAgeHours:  buyAge,
			SellOrderAgeHours: sellAge,
			SpreadPercent:     finite(ratio(marginF, p.dst.Price) * 100),
			Confidence: ClassifyConfidence(buyAge, sellAge, qty,
				int64(p.src.VolumeRemain), int64(p.dst.VolumeRemain)),
		},
	}
}

func hubSide(o esi.MarketOrder, st *StationInfo) HubSide {
	return HubSide{
		OrderID:     o.OrderID,
		LocationID:  o.LocationID,
		StationName: st.Name,
		SystemID:    o.SystemID,
		RegionID:    o.RegionID,
		RegionName:  st.RegionName,
		Price:       decimal.NewFromFloat(o.Price),
		Volume:      int64(o.VolumeRemain),
		Issued:      o.Issued,
	}
}

// ratio divides, returning 0 for a zero denominator.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// finite maps NaN and ±Inf to 0 so results always marshal to JSON.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
