package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

// --- fixtures ---

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

const (
	jitaStation    int64 = 60003760
	amarrStation   int64 = 60008494
	dodixieStation int64 = 60011866
	hekStation     int64 = 60005686
	rensStation    int64 = 60004588

	forgeRegion      int32 = 10000002
	domainRegion     int32 = 10000043
	sinqRegion       int32 = 10000032
	metropolisRegion int32 = 10000042
	heimatarRegion   int32 = 10000030
)

func testHubs() []HubDefinition {
	return []HubDefinition{
		{Name: "jita", SystemName: "Jita", StationID: jitaStation, RegionID: forgeRegion},
		{Name: "amarr", SystemName: "Amarr", StationID: amarrStation, RegionID: domainRegion},
		{Name: "dodixie", SystemName: "Dodixie", StationID: dodixieStation, RegionID: sinqRegion},
		{Name: "hek", SystemName: "Hek", StationID: hekStation, RegionID: metropolisRegion},
		{Name: "rens", SystemName: "Rens", StationID: rensStation, RegionID: heimatarRegion},
	}
}

func testStations() fakeStations {
	m := fakeStations{}
	for _, h := range testHubs() {
		m[h.StationID] = &StationInfo{
			LocationID: h.StationID,
			Name:       h.SystemName + " trade hub",
			RegionID:   h.RegionID,
			RegionName: h.SystemName + " region",
		}
	}
	return m
}

func sellOrder(orderID int64, typeID int32, station int64, region int32, price float64, volume int32) esi.MarketOrder {
	return esi.MarketOrder{
		OrderID:      orderID,
		TypeID:       typeID,
		LocationID:   station,
		RegionID:     region,
		Price:        price,
		VolumeRemain: volume,
		Issued:       testNow.Add(-time.Hour),
	}
}

func newTestAnalyzer(deps Collaborators) *Analyzer {
	if deps.Stations == nil {
		deps.Stations = testStations()
	}
	if deps.Items == nil {
		deps.Items = &fakeItems{}
	}
	if deps.Hubs == nil {
		deps.Hubs = fakeHubs(testHubs())
	}
	return NewAnalyzer(DefaultSettings(), deps).WithClock(func() time.Time { return testNow })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- fakes ---

type fakeStations map[int64]*StationInfo

func (f fakeStations) ResolveStation(_ context.Context, id int64) (*StationInfo, error) {
	return f[id], nil
}

// fakeItems answers every type with a 1 m³ item unless told otherwise.
type fakeItems struct {
	items   map[int32]*ItemInfo
	errs    map[int32]error
	panics  map[int32]bool
	unknown map[int32]bool
}

func (f *fakeItems) GetItemInfo(_ context.Context, id int32) (*ItemInfo, error) {
	if f.panics[id] {
		panic("corrupt item row")
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	if f.unknown[id] {
		return nil, nil
	}
	if it, ok := f.items[id]; ok {
		return it, nil
	}
	return &ItemInfo{TypeID: id, Name: "Item", Volume: 1}, nil
}

type fakeHubs []HubDefinition

func (f fakeHubs) GetHubDefinitions(context.Context) ([]HubDefinition, error) {
	return f, nil
}

type fakeLiquidity struct {
	ids []int32
	err error
}

func (f fakeLiquidity) GetLiquidItemIDs(context.Context, int) ([]int32, error) {
	return f.ids, f.err
}

type fakeStats map[int32]int64

func (f fakeStats) WeeklyVolume(_ context.Context, _ int32, typeID int32) (int64, error) {
	return f[typeID], nil
}

type fakeSnapshots struct {
	orders []esi.MarketOrder
	err    error

	mu        sync.Mutex
	calls     int
	locations []esi.TrackedLocation
	types     []int32
}

func (f *fakeSnapshots) FetchOrders(_ context.Context, locs []esi.TrackedLocation, types []int32) ([]esi.MarketOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.locations = locs
	f.types = types
	return f.orders, f.err
}

// opportunity builds a packing candidate directly.
func opportunity(typeID int32, buy, sell string, volume float64, qty int64) ArbitrageOpportunity {
	return ArbitrageOpportunity{
		TypeID:     typeID,
		TypeName:   "Item",
		ItemVolume: volume,
		Quantity:   qty,
		Buy:        HubSide{LocationID: jitaStation, RegionID: forgeRegion, Price: dec(buy), Volume: qty},
		Sell:       HubSide{LocationID: amarrStation, RegionID: domainRegion, Price: dec(sell), Volume: qty},
	}
}
