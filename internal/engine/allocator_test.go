package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

// cycleMarket prices Tritanium (34) everywhere and Pyerite (35) in three hubs.
// From Jita, 34 is profitable to all four destinations and 35 only to Amarr.
func cycleMarket() []esi.MarketOrder {
	return []esi.MarketOrder{
		sellOrder(1, 34, jitaStation, forgeRegion, 100, 1000),
		sellOrder(2, 34, amarrStation, domainRegion, 150, 1000),
		sellOrder(3, 34, dodixieStation, sinqRegion, 130, 500),
		sellOrder(4, 34, hekStation, metropolisRegion, 120, 1000),
		sellOrder(5, 34, rensStation, heimatarRegion, 110, 1000),
		sellOrder(6, 35, jitaStation, forgeRegion, 1000, 100),
		sellOrder(7, 35, amarrStation, domainRegion, 1200, 100),
		sellOrder(8, 35, dodixieStation, sinqRegion, 900, 100),
	}
}

type cycleFixture struct {
	snapshots *fakeSnapshots
	stats     fakeStats
	settings  func(*Settings)
}

func (f cycleFixture) allocator() *Allocator {
	settings := DefaultSettings()
	if f.settings != nil {
		f.settings(&settings)
	}
	deps := Collaborators{
		Stations:  testStations(),
		Items:     &fakeItems{},
		Hubs:      fakeHubs(testHubs()),
	}
	if f.snapshots != nil {
		deps.Snapshots = f.snapshots
	}
	if f.stats != nil {
		deps.Stats = f.stats
	}
	a := NewAnalyzer(settings, deps).WithClock(func() time.Time { return testNow })
	return NewAllocator(a, DefaultRegistry(settings))
}

func hubNames(plan *CyclePlan) []string {
	out := make([]string, len(plan.Allocations))
	for i, a := range plan.Allocations {
		out[i] = a.Hub
	}
	return out
}

func allocationFor(t *testing.T, plan *CyclePlan, hub string) CycleAllocation {
	t.Helper()
	for _, a := range plan.Allocations {
		if a.Hub == hub {
			return a
		}
	}
	require.Failf(t, "missing allocation", "hub %s", hub)
	return CycleAllocation{}
}

func TestPlanCycle_DefaultSplit(t *testing.T) {
	snaps := &fakeSnapshots{orders: cycleMarket()}
	al := cycleFixture{snapshots: snaps}.allocator()

	plan, err := al.PlanCycle(context.Background(), CycleRequest{
		SourceHub:    "Jita",
		TotalCapital: decimal.NewFromInt(1_000_000_000),
	})
	require.NoError(t, err)

	assert.Equal(t, "jita", plan.SourceHub)
	assert.Equal(t, StrategyGreedy, plan.Strategy)
	assert.Equal(t, testNow, plan.CreatedAt)
	assert.Equal(t, []string{"amarr", "dodixie", "hek", "rens"}, hubNames(plan))

	assert.Equal(t, 1, snaps.calls, "one snapshot for the whole cycle")
	assert.Len(t, snaps.locations, 5)
	assert.Equal(t, jitaStation, snaps.locations[0].LocationID)

	wantCapital := map[string]string{"amarr": "500000000", "dodixie": "300000000", "hek": "100000000", "rens": "100000000"}
	wantShipments := map[string]int64{"amarr": 11, "dodixie": 20, "hek": 5, "rens": 3}
	wantFound := map[string]int{"amarr": 2, "dodixie": 1, "hek": 1, "rens": 1}
	for _, a := range plan.Allocations {
		assertDecimal(t, wantCapital[a.Hub], a.Capital)
		assert.Equal(t, wantShipments[a.Hub], a.MaxShipments, a.Hub)
		assert.Equal(t, wantFound[a.Hub], a.OpportunitiesFound, a.Hub)
	}

	s := plan.Summary
	assertDecimal(t, "1000000000", s.AllocatedCapital)
	assert.True(t, s.AllocatedCapital.Equal(s.TotalCapital))
	assert.Equal(t, 5, s.OpportunitiesFound)
	assert.InDelta(t, 26, s.AverageMarginPct, 1e-9)

	var items int
	profit := decimal.Zero
	for _, a := range plan.Allocations {
		items += len(a.Packing.Items)
		profit = profit.Add(a.Packing.TotalProfit)
		spent := a.Packing.TotalCost.Add(a.Packing.TotalTransport)
		assert.True(t, spent.LessThanOrEqual(a.Capital), "%s spends %s of %s", a.Hub, spent, a.Capital)
	}
	assert.Equal(t, items, s.TotalItems)
	assert.True(t, profit.Equal(s.TotalProfit))
}

func TestPlanCycle_PacksEachHub(t *testing.T) {
	al := cycleFixture{
		snapshots: &fakeSnapshots{orders: cycleMarket()},
		settings: func(s *Settings) {
			s.HubTransportCost = map[string]decimal.Decimal{"amarr": decimal.NewFromInt(1000)}
		},
	}.allocator()

	plan, err := al.PlanCycle(context.Background(), CycleRequest{
		SourceHub:    "jita",
		TotalCapital: decimal.NewFromInt(1_000_000_000),
		Allocation:   map[string]float64{"amarr": 1},
	})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)

	amarr := plan.Allocations[0]
	assert.Equal(t, int64(1_000_000), amarr.MaxShipments)
	require.Len(t, amarr.Packing.Shipments, 1)
	require.Len(t, amarr.Packing.Items, 2)
	// 100 × 191 + 1000 × 47.75 − 1000 transport
	assertDecimal(t, "65850", amarr.Packing.TotalProfit)
	assertDecimal(t, "65850", plan.Summary.TotalProfit)
	assertDecimal(t, "1000", plan.Summary.TotalTransportCost)
	assertDecimal(t, "200000", plan.Summary.TotalValue)
	assert.InDelta(t, 65850.0/201000*100, plan.Summary.ExpectedROI, 1e-9)
}

func TestPlanCycle_MissingTransportCostUsesZero(t *testing.T) {
	al := cycleFixture{
		snapshots: &fakeSnapshots{orders: cycleMarket()},
		settings:  func(s *Settings) { s.HubTransportCost = map[string]decimal.Decimal{} },
	}.allocator()

	plan, err := al.PlanCycle(context.Background(), CycleRequest{
		SourceHub:    "jita",
		TotalCapital: decimal.NewFromInt(1_000_000),
		Allocation:   map[string]float64{"hek": 1},
	})
	require.NoError(t, err)
	hek := allocationFor(t, plan, "hek")
	assert.True(t, hek.TransportCost.IsZero())
	assert.Zero(t, hek.MaxShipments)
	assert.NotEmpty(t, hek.Packing.Items)
}

func TestPlanCycle_Filters(t *testing.T) {
	market := cycleMarket()
	cheapAmarr := func(s *Settings) {
		s.HubTransportCost = map[string]decimal.Decimal{"amarr": decimal.NewFromInt(1000)}
	}

	t.Run("min margin", func(t *testing.T) {
		al := cycleFixture{snapshots: &fakeSnapshots{orders: market}}.allocator()
		plan, err := al.PlanCycle(context.Background(), CycleRequest{
			SourceHub:    "jita",
			TotalCapital: decimal.NewFromInt(1_000_000_000),
			Filters:      CycleFilters{MinMarginPercent: Float64(25)},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, plan.Summary.OpportunitiesFound)
		assert.Equal(t, 1, allocationFor(t, plan, "amarr").OpportunitiesFound)
		assert.Zero(t, allocationFor(t, plan, "hek").OpportunitiesFound)
	})

	t.Run("min liquidity", func(t *testing.T) {
		al := cycleFixture{
			snapshots: &fakeSnapshots{orders: market},
			stats:     fakeStats{34: 5000, 35: 10},
			settings:  cheapAmarr,
		}.allocator()
		plan, err := al.PlanCycle(context.Background(), CycleRequest{
			SourceHub:    "jita",
			TotalCapital: decimal.NewFromInt(1_000_000_000),
			Allocation:   map[string]float64{"amarr": 1},
			Filters:      CycleFilters{MinLiquidity: 100},
		})
		require.NoError(t, err)
		amarr := allocationFor(t, plan, "amarr")
		assert.Equal(t, 1, amarr.OpportunitiesFound)
		require.NotEmpty(t, amarr.Packing.Items)
		assert.Equal(t, int32(34), amarr.Packing.Items[0].Opportunity.TypeID)
	})

	t.Run("max items per hub keeps the most profitable", func(t *testing.T) {
		al := cycleFixture{snapshots: &fakeSnapshots{orders: market}, settings: cheapAmarr}.allocator()
		plan, err := al.PlanCycle(context.Background(), CycleRequest{
			SourceHub:    "jita",
			TotalCapital: decimal.NewFromInt(1_000_000_000),
			Allocation:   map[string]float64{"amarr": 1},
			Filters:      CycleFilters{MaxItemsPerHub: 1},
		})
		require.NoError(t, err)
		amarr := allocationFor(t, plan, "amarr")
		assert.Equal(t, 1, amarr.OpportunitiesFound)
		require.Len(t, amarr.Packing.Items, 1)
		assert.Equal(t, int32(34), amarr.Packing.Items[0].Opportunity.TypeID)
		assert.InDelta(t, 35, plan.Summary.AverageMarginPct, 1e-9, "both Amarr margins count")
	})
}

func TestPlanCycle_UnbalancedSplitIsAccepted(t *testing.T) {
	al := cycleFixture{snapshots: &fakeSnapshots{orders: cycleMarket()}}.allocator()
	plan, err := al.PlanCycle(context.Background(), CycleRequest{
		SourceHub:    "jita",
		TotalCapital: decimal.NewFromInt(1_000_000_000),
		Allocation:   map[string]float64{"amarr": 0.7, "dodixie": 0.7},
	})
	require.NoError(t, err)
	assertDecimal(t, "1400000000", plan.Summary.AllocatedCapital)
}

func TestPlanCycle_Errors(t *testing.T) {
	ctx := context.Background()
	capital := decimal.NewFromInt(1_000_000)

	t.Run("unknown destination", func(t *testing.T) {
		snaps := &fakeSnapshots{orders: cycleMarket()}
		al := cycleFixture{snapshots: snaps}.allocator()
		_, err := al.PlanCycle(ctx, CycleRequest{SourceHub: "jita", TotalCapital: capital, Allocation: map[string]float64{"nowhere": 1}})
		assert.ErrorIs(t, err, ErrUnknownHub)
		assert.Zero(t, snaps.calls)
	})

	t.Run("unknown source", func(t *testing.T) {
		al := cycleFixture{snapshots: &fakeSnapshots{}}.allocator()
		_, err := al.PlanCycle(ctx, CycleRequest{SourceHub: "perimeter", TotalCapital: capital})
		assert.ErrorIs(t, err, ErrUnknownHub)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		al := cycleFixture{snapshots: &fakeSnapshots{}}.allocator()
		_, err := al.PlanCycle(ctx, CycleRequest{SourceHub: "jita", TotalCapital: capital, Strategy: "random"})
		assert.ErrorIs(t, err, ErrUnknownStrategy)
	})

	t.Run("snapshot failure", func(t *testing.T) {
		boom := errors.New("esi unavailable")
		al := cycleFixture{snapshots: &fakeSnapshots{err: boom}}.allocator()
		_, err := al.PlanCycle(ctx, CycleRequest{SourceHub: "jita", TotalCapital: capital})
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, ErrSnapshotUnavailable)
	})

	t.Run("no snapshot provider", func(t *testing.T) {
		al := cycleFixture{}.allocator()
		_, err := al.PlanCycle(ctx, CycleRequest{SourceHub: "jita", TotalCapital: capital})
		assert.ErrorIs(t, err, ErrNoSnapshotProvider)
	})
}
