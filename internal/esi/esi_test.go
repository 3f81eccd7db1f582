package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketOrder_UnmarshalJSON(t *testing.T) {
	raw := `{"order_id":1,"type_id":34,"location_id":60003760,"system_id":30000142,"price":4.5,"volume_remain":100000,"is_buy_order":false,"issued":"2025-01-15T10:00:00Z"}`
	var o MarketOrder
	require.NoError(t, json.Unmarshal([]byte(raw), &o))

	assert.Equal(t, int64(1), o.OrderID)
	assert.Equal(t, int32(34), o.TypeID)
	assert.Equal(t, int64(60003760), o.LocationID)
	assert.Equal(t, 4.5, o.Price)
	assert.Equal(t, int32(100000), o.VolumeRemain)
	assert.Equal(t, OrderTypeSell, o.OrderType())
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), o.Issued)
}

func TestMarketOrder_AgeHours(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	o := MarketOrder{Issued: now.Add(-3 * time.Hour)}
	assert.InDelta(t, 3.0, o.AgeHours(now), 1e-9)

	assert.Zero(t, MarketOrder{}.AgeHours(now), "zero issued time")
	assert.Zero(t, MarketOrder{Issued: now.Add(time.Hour)}.AgeHours(now), "future issued time")
}

func TestComputeMarketStats(t *testing.T) {
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{Date: "2025-01-14", Average: 110, Volume: 300},
		{Date: "2024-12-01", Average: 90, Volume: 9999},
		{Date: "2025-01-10", Average: 100, Volume: 400},
		{Date: "2025-01-12", Average: 105, Volume: 0},
	}

	stats := ComputeMarketStats(entries, now)
	assert.Equal(t, int64(700), stats.WeeklyVolume)
	assert.Equal(t, int64(100), stats.DailyVolume)
	assert.Equal(t, "2025-01-14", stats.LastTraded)
	assert.InDelta(t, 10.0, stats.PriceTrend, 1e-9)

	assert.Equal(t, MarketStats{}, ComputeMarketStats(nil, now))
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Options{BaseURL: srv.URL, RequestsPerSec: 1000, Burst: 100})
}

func TestFetchRegionOrders_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("X-Pages", "3")
		w.Header().Set("ETag", `"abc"`)
		fmt.Fprintf(w, `[{"order_id":%s,"type_id":34,"location_id":60003760,"price":5,"volume_remain":10}]`, page)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	orders, err := c.FetchRegionOrders(context.Background(), 10000002, OrderTypeAll)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	for _, o := range orders {
		assert.Equal(t, int32(10000002), o.RegionID)
	}
	assert.Equal(t, int64(1), orders[0].OrderID)
	assert.Equal(t, int64(3), orders[2].OrderID)
}

func TestFetchRegionOrders_UsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(time.RFC1123))
		fmt.Fprint(w, `[{"order_id":1,"type_id":34,"location_id":60003760,"price":5,"volume_remain":10}]`)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for i := 0; i < 3; i++ {
		_, err := c.FetchRegionOrders(context.Background(), 10000002, OrderTypeAll)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOrders_FiltersLocationsAndTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/markets/10000002/"):
			fmt.Fprint(w, `[
				{"order_id":1,"type_id":34,"location_id":60003760,"price":5,"volume_remain":10},
				{"order_id":2,"type_id":35,"location_id":60003760,"price":6,"volume_remain":10},
				{"order_id":3,"type_id":34,"location_id":60000001,"price":4,"volume_remain":10}
			]`)
		case strings.Contains(r.URL.Path, "/markets/10000043/"):
			fmt.Fprint(w, `[{"order_id":4,"type_id":34,"location_id":60008494,"price":7,"volume_remain":10}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	locs := []TrackedLocation{
		{LocationID: 60003760, RegionID: 10000002},
		{LocationID: 60008494, RegionID: 10000043},
	}

	orders, err := c.FetchOrders(context.Background(), locs, nil)
	require.NoError(t, err)
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID)
	}
	assert.ElementsMatch(t, []int64{1, 2, 4}, ids)

	c.orderCache = NewOrderCache()
	orders, err = c.FetchOrders(context.Background(), locs, []int32{34})
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, int32(34), o.TypeID)
	}
}

func TestFetchOrders_RegionFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.FetchOrders(context.Background(), []TrackedLocation{{LocationID: 1, RegionID: 2}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchOrders_Empty(t *testing.T) {
	c := NewClient(Options{})
	orders, err := c.FetchOrders(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
