package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestFindOpportunities_TwoRegionExample(t *testing.T) {
	a := newTestAnalyzer(Collaborators{})
	orders := []esi.MarketOrder{
		sellOrder(1, 34, jitaStation, forgeRegion, 100, 50),
		sellOrder(2, 34, amarrStation, domainRegion, 150, 30),
	}

	opps, err := a.FindOpportunities(context.Background(), orders, nil)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	opp := opps[0]

	assert.Equal(t, int32(34), opp.TypeID)
	assert.Equal(t, int64(30), opp.Quantity)
	assert.Equal(t, jitaStation, opp.Buy.LocationID)
	assert.Equal(t, amarrStation, opp.Sell.LocationID)
	assert.Equal(t, "Jita trade hub", opp.Buy.StationName)
	assert.Equal(t, "Amarr region", opp.Sell.RegionName)

	assertDecimal(t, "3000", opp.Costs.TotalCost)
	assertDecimal(t, "4500", opp.Costs.GrossRevenue)
	assertDecimal(t, "67.5", opp.Costs.BuyBrokerFee)
	assertDecimal(t, "101.25", opp.Costs.SellBrokerFee)
	assertDecimal(t, "101.25", opp.Costs.SalesTax)
	assertDecimal(t, "270", opp.Costs.TotalFees)
	assertDecimal(t, "1230", opp.Profit.NetProfit)
	assertDecimal(t, "50", opp.Profit.GrossMargin)

	assert.InDelta(t, 50.0, opp.Profit.GrossMarginPercent, 1e-9)
	assert.InDelta(t, 27.3333, opp.Profit.NetProfitPercent, 1e-3)
	assert.InDelta(t, 41.0, opp.Profit.ROI, 1e-9)
	assert.InDelta(t, 41.0, opp.Profit.ProfitPerVolume, 1e-9)
	assert.InDelta(t, 33.3333, opp.Meta.SpreadPercent, 1e-3)

	assert.Equal(t, 30.0, opp.Logistics.TotalVolume)
	assert.Equal(t, int64(1), opp.Logistics.ShipmentsNeeded)
	assert.InDelta(t, 1.0, opp.Meta.BuyOrderAgeHours, 1e-9)
	assert.Equal(t, testNow, opp.Meta.ComputedAt)
	// The whole thinner book is consumed.
	assert.Equal(t, ConfidenceLow, opp.Meta.Confidence)
}

// marketGrid spreads types 1..8 over all five hubs plus a second Forge station.
func marketGrid() ([]esi.MarketOrder, fakeStations) {
	stations := testStations()
	const perimeter int64 = 1028000000
	stations[perimeter] = &StationInfo{LocationID: perimeter, Name: "Perimeter", RegionID: forgeRegion, RegionName: "The Forge"}

	locs := []struct {
		station int64
		region  int32
	}{
		{jitaStation, forgeRegion}, {perimeter, forgeRegion}, {amarrStation, domainRegion},
		{dodixieStation, sinqRegion}, {hekStation, metropolisRegion}, {rensStation, heimatarRegion},
	}

	var orders []esi.MarketOrder
	id := int64(1)
	for typeID := int32(1); typeID <= 8; typeID++ {
		for i, l := range locs {
			price := 100 + float64((int(typeID)*37+i*53)%97)
			volume := int32(10 + (int(typeID)*(i+1))%40)
			orders = append(orders, sellOrder(id, typeID, l.station, l.region, price, volume))
			id++
		}
	}
	return orders, stations
}

func TestFindOpportunities_PairInvariants(t *testing.T) {
	orders, stations := marketGrid()
	a := newTestAnalyzer(Collaborators{Stations: stations})

	opps, err := a.FindOpportunities(context.Background(), orders, &ArbitrageFilters{Limit: 10000})
	require.NoError(t, err)

	want := 0
	for _, src := range orders {
		for _, dst := range orders {
			if src.TypeID == dst.TypeID && src.RegionID != dst.RegionID && dst.Price > src.Price {
				want++
			}
		}
	}
	require.Equal(t, want, len(opps))

	for _, o := range opps {
		assert.True(t, o.Sell.Price.GreaterThan(o.Buy.Price))
		assert.NotEqual(t, o.Buy.RegionID, o.Sell.RegionID)

		net := o.Costs.GrossRevenue.Sub(o.Costs.TotalCost).
			Sub(o.Costs.SalesTax).Sub(o.Costs.BuyBrokerFee).Sub(o.Costs.SellBrokerFee)
		assert.True(t, net.Equal(o.Profit.NetProfit), "net profit identity for type %d", o.TypeID)
		assert.InDelta(t, o.Profit.NetProfit.InexactFloat64()/o.Logistics.TotalVolume, o.Profit.ProfitPerVolume, 1e-6)
	}
}

func TestFindOpportunities_SortAndLimit(t *testing.T) {
	orders, stations := marketGrid()
	a := newTestAnalyzer(Collaborators{Stations: stations})
	ctx := context.Background()

	all, err := a.FindOpportunities(ctx, orders, &ArbitrageFilters{Limit: 10000, SortBy: SortByProfit, Order: SortDesc})
	require.NoError(t, err)
	require.Greater(t, len(all), 5)

	top, err := a.FindOpportunities(ctx, orders, &ArbitrageFilters{Limit: 5, SortBy: SortByProfit, Order: SortDesc})
	require.NoError(t, err)
	require.Len(t, top, 5)
	assert.Equal(t, all[:5], top)

	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Profit.NetProfit.GreaterThan(all[i-1].Profit.NetProfit), "descending at %d", i)
	}

	def, err := a.FindOpportunities(ctx, orders, nil)
	require.NoError(t, err)
	assert.Len(t, def, min(len(all), DefaultResultLimit))
}

func TestFindOpportunities_Idempotent(t *testing.T) {
	orders, stations := marketGrid()
	a := newTestAnalyzer(Collaborators{Stations: stations})
	f := &ArbitrageFilters{SortBy: SortByROI, Limit: 20}

	first, err := a.FindOpportunities(context.Background(), orders, f)
	require.NoError(t, err)
	second, err := a.FindOpportunities(context.Background(), orders, f)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFindOpportunities_EmptySnapshot(t *testing.T) {
	a := newTestAnalyzer(Collaborators{})

	opps, err := a.FindOpportunities(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, opps)
	assert.Empty(t, opps)
}

func TestFindOpportunities_SkipsUnprofitableAndSameRegion(t *testing.T) {
	a := newTestAnalyzer(Collaborators{})
	orders := []esi.MarketOrder{
		sellOrder(1, 10, jitaStation, forgeRegion, 100, 10),
		sellOrder(2, 10, 1028000000, forgeRegion, 300, 10), // same region
		sellOrder(3, 11, jitaStation, forgeRegion, 100, 10),
		sellOrder(4, 11, amarrStation, domainRegion, 100, 10), // equal price
		{OrderID: 5, TypeID: 12, LocationID: jitaStation, RegionID: forgeRegion, Price: 10, VolumeRemain: 5},
		{OrderID: 6, TypeID: 12, LocationID: amarrStation, RegionID: domainRegion, Price: 50, VolumeRemain: 5, IsBuyOrder: true},
	}

	opps, err := a.FindOpportunities(context.Background(), orders, nil)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFindOpportunities_ResolutionGapsAndFailures(t *testing.T) {
	items := &fakeItems{
		unknown: map[int32]bool{2: true},
		items:   map[int32]*ItemInfo{3: {TypeID: 3, Name: "Weightless", Volume: 0}},
		errs:    map[int32]error{4: errors.New("db locked")},
		panics:  map[int32]bool{5: true},
	}
	a := newTestAnalyzer(Collaborators{Items: items})

	var orders []esi.MarketOrder
	for typeID := int32(1); typeID <= 5; typeID++ {
		orders = append(orders,
			sellOrder(int64(typeID)*10, typeID, jitaStation, forgeRegion, 100, 10),
			sellOrder(int64(typeID)*10+1, typeID, amarrStation, domainRegion, 200, 10),
		)
	}
	// Unresolvable destination: only that pair is dropped.
	orders = append(orders, sellOrder(99, 1, 99999999, 10000099, 500, 10))

	opps, err := a.FindOpportunities(context.Background(), orders, nil)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, int32(1), opps[0].TypeID)
	assert.Equal(t, amarrStation, opps[0].Sell.LocationID)
}

// profitLadder: three types with distinct profit, margin and ROI.
//
//	type 1: 10 × 100 -> 200   net 887.5  margin 100%  roi 88.75
//	type 2: 100 × 10 -> 12    net 123.5  margin 20%   roi 12.35
//	type 3: 5 × 1000 -> 1500  net 2050   margin 50%   roi 41
func profitLadder() []esi.MarketOrder {
	return []esi.MarketOrder{
		sellOrder(1, 1, jitaStation, forgeRegion, 100, 10),
		sellOrder(2, 1, amarrStation, domainRegion, 200, 10),
		sellOrder(3, 2, jitaStation, forgeRegion, 10, 100),
		sellOrder(4, 2, amarrStation, domainRegion, 12, 100),
		sellOrder(5, 3, jitaStation, forgeRegion, 1000, 5),
		sellOrder(6, 3, amarrStation, domainRegion, 1500, 5),
	}
}

func typeIDs(opps []ArbitrageOpportunity) []int32 {
	out := make([]int32, len(opps))
	for i, o := range opps {
		out[i] = o.TypeID
	}
	return out
}

func TestFindOpportunities_Filters(t *testing.T) {
	a := newTestAnalyzer(Collaborators{})
	orders := profitLadder()

	tests := []struct {
		name    string
		filters *ArbitrageFilters
		want    []int32
	}{
		{"default profit desc", nil, []int32{3, 1, 2}},
		{"min profit", &ArbitrageFilters{MinProfit: Decimal(dec("500"))}, []int32{3, 1}},
		{"max investment", &ArbitrageFilters{MaxInvestment: Decimal(dec("1000"))}, []int32{1, 2}},
		{"min margin", &ArbitrageFilters{MinMarginPercent: Float64(30)}, []int32{3, 1}},
		{"max cargo", &ArbitrageFilters{MaxCargoVolume: Float64(20)}, []int32{3, 1}},
		{"min profit per volume", &ArbitrageFilters{MinProfitPerVolume: Float64(50)}, []int32{3, 1}},
		{"margin asc", &ArbitrageFilters{SortBy: SortByMargin, Order: SortAsc}, []int32{2, 3, 1}},
		{"roi desc", &ArbitrageFilters{SortBy: SortByROI}, []int32{1, 3, 2}},
		{"profit per volume desc", &ArbitrageFilters{SortBy: SortByProfitPerVolume}, []int32{3, 1, 2}},
		{"limit after sort", &ArbitrageFilters{SortBy: SortByProfit, Order: SortAsc, Limit: 2}, []int32{2, 1}},
		// Every pair consumes the thinner book fully, so every pair is low confidence.
		{"exclude high risk", &ArbitrageFilters{ExcludeHighRisk: true}, []int32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opps, err := a.FindOpportunities(context.Background(), orders, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, typeIDs(opps))
		})
	}
}

func TestFindOpportunities_LiquidityAndWeeklyVolume(t *testing.T) {
	ctx := context.Background()

	a := newTestAnalyzer(Collaborators{
		Liquidity: fakeLiquidity{ids: []int32{3, 1}},
		Stats:     fakeStats{1: 40},
	})
	opps, err := a.FindOpportunities(ctx, profitLadder(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 1}, typeIDs(opps))
	assert.Equal(t, int64(40), opps[1].WeeklyVolume)
	assert.Zero(t, opps[0].WeeklyVolume)

	empty := newTestAnalyzer(Collaborators{Liquidity: fakeLiquidity{}})
	opps, err = empty.FindOpportunities(ctx, profitLadder(), nil)
	require.NoError(t, err)
	assert.Len(t, opps, 3, "an empty liquid set does not hide the market")

	failing := newTestAnalyzer(Collaborators{Liquidity: fakeLiquidity{err: errors.New("no table")}})
	_, err = failing.FindOpportunities(ctx, profitLadder(), nil)
	require.Error(t, err)
}

func TestFindOpportunities_HubScopes(t *testing.T) {
	orders, stations := marketGrid()
	a := newTestAnalyzer(Collaborators{Stations: stations})
	ctx := context.Background()

	opps, err := a.FindOpportunities(ctx, orders, &ArbitrageFilters{
		SourceHubs:      []string{"Jita"},
		DestinationHubs: []string{"amarr", "hek"},
		Limit:           1000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	for _, o := range opps {
		assert.Equal(t, jitaStation, o.Buy.LocationID)
		assert.Contains(t, []int64{amarrStation, hekStation}, o.Sell.LocationID)
	}

	_, err = a.FindOpportunities(ctx, orders, &ArbitrageFilters{SourceHubs: []string{"nowhere"}})
	assert.ErrorIs(t, err, ErrUnknownHub)

	hubs := testHubs()
	fromHub, err := a.FindOpportunitiesFromHub(ctx, orders, hubs[0], hubs[2:3], &ArbitrageFilters{Limit: 1000})
	require.NoError(t, err)
	for _, o := range fromHub {
		assert.Equal(t, jitaStation, o.Buy.LocationID)
		assert.Equal(t, dodixieStation, o.Sell.LocationID)
	}

	// Hub-name filters are ignored on an explicit route.
	route, err := a.FindOpportunitiesForRoute(ctx, orders, rensStation, amarrStation, &ArbitrageFilters{
		SourceHubs: []string{"nowhere"},
		Limit:      1000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, route)
	for _, o := range route {
		assert.Equal(t, rensStation, o.Buy.LocationID)
		assert.Equal(t, amarrStation, o.Sell.LocationID)
	}
}

func TestFindOpportunitiesForHubPair(t *testing.T) {
	ctx := context.Background()
	orders, stations := marketGrid()

	t.Run("fetches both hubs and pairs them", func(t *testing.T) {
		snap := &fakeSnapshots{orders: orders}
		a := newTestAnalyzer(Collaborators{
			Stations:  stations,
			Snapshots: snap,
			Liquidity: fakeLiquidity{ids: []int32{5, 1, 2}},
		})

		opps, err := a.FindOpportunitiesForHubPair(ctx, "jita", "Dodixie", &ArbitrageFilters{Limit: 1000})
		require.NoError(t, err)
		assert.Equal(t, 1, snap.calls)
		assert.Equal(t, []esi.TrackedLocation{
			{LocationID: jitaStation, RegionID: forgeRegion},
			{LocationID: dodixieStation, RegionID: sinqRegion},
		}, snap.locations)
		assert.Equal(t, []int32{1, 2, 5}, snap.types)

		for _, o := range opps {
			assert.Equal(t, jitaStation, o.Buy.LocationID)
			assert.Equal(t, dodixieStation, o.Sell.LocationID)
		}
	})

	t.Run("unknown hub", func(t *testing.T) {
		snap := &fakeSnapshots{}
		a := newTestAnalyzer(Collaborators{Snapshots: snap})
		_, err := a.FindOpportunitiesForHubPair(ctx, "jita", "perimeter", nil)
		assert.ErrorIs(t, err, ErrUnknownHub)
		assert.Zero(t, snap.calls)
	})

	t.Run("snapshot failure propagates", func(t *testing.T) {
		down := errors.New("esi down")
		a := newTestAnalyzer(Collaborators{Snapshots: &fakeSnapshots{err: down}})
		_, err := a.FindOpportunitiesForHubPair(ctx, "jita", "amarr", nil)
		assert.ErrorIs(t, err, down)
		assert.ErrorIs(t, err, ErrSnapshotUnavailable)
	})

	t.Run("no snapshot provider", func(t *testing.T) {
		a := newTestAnalyzer(Collaborators{})
		_, err := a.FindOpportunitiesForHubPair(ctx, "jita", "amarr", nil)
		assert.ErrorIs(t, err, ErrNoSnapshotProvider)
	})
}

type countingStations struct {
	fakeStations
	calls atomic.Int32
}

func (c *countingStations) ResolveStation(ctx context.Context, id int64) (*StationInfo, error) {
	c.calls.Add(1)
	return c.fakeStations.ResolveStation(ctx, id)
}

func TestPrefetch_CancelledContext(t *testing.T) {
	stations := &countingStations{fakeStations: testStations()}
	a := newTestAnalyzer(Collaborators{Stations: stations, Stats: fakeStats{34: 700}})
	pairs := map[int32][]candidatePair{
		34: {{
			src: sellOrder(1, 34, jitaStation, forgeRegion, 100, 10),
			dst: sellOrder(2, 34, amarrStation, domainRegion, 150, 10),
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lk, err := a.prefetch(ctx, pairs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, lk)
	assert.Zero(t, stations.calls.Load(), "no lookups after cancel")

	lk, err = a.prefetch(context.Background(), pairs)
	require.NoError(t, err)
	assert.Len(t, lk.stations, 2)
	assert.Equal(t, int64(700), lk.weekly[statsKey{domainRegion, 34}])
	assert.Equal(t, int32(2), stations.calls.Load())
}
