package esi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Order types accepted by the ESI markets endpoint.
const (
	OrderTypeSell = "sell"
	OrderTypeBuy  = "buy"
	OrderTypeAll  = "all"
)

// perTypeFetchLimit is the largest type filter that is fetched type-by-type
// instead of downloading the full region book.
const perTypeFetchLimit = 20

// MarketOrder mirrors the ESI market order response.
type MarketOrder struct {
	OrderID      int64     `json:"order_id"`
	TypeID       int32     `json:"type_id"`
	LocationID   int64     `json:"location_id"`
	SystemID     int32     `json:"system_id"`
	Price        float64   `json:"price"`
	VolumeRemain int32     `json:"volume_remain"`
	IsBuyOrder   bool      `json:"is_buy_order"`
	Issued       time.Time `json:"issued"`
	RegionID     int32     `json:"-"` // set by us
}

// OrderType returns "buy" or "sell".
func (o MarketOrder) OrderType() string {
	if o.IsBuyOrder {
		return OrderTypeBuy
	}
	return OrderTypeSell
}

// AgeHours returns how long the order has been on the market as of now.
func (o MarketOrder) AgeHours(now time.Time) float64 {
	if o.Issued.IsZero() {
		return 0
	}
	h := now.Sub(o.Issued).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// TrackedLocation is a station whose orders are part of a snapshot.
type TrackedLocation struct {
	LocationID int64
	RegionID   int32
}

// FetchRegionOrdersByType fetches all market orders for a specific type in a region.
func (c *Client) FetchRegionOrdersByType(ctx context.Context, regionID int32, typeID int32) ([]MarketOrder, error) {
	url := fmt.Sprintf("%s/markets/%d/orders/?datasource=tranquility&order_type=all&type_id=%d",
		c.baseURL, regionID, typeID)

	orders, _, _, err := c.getPaginatedOrders(ctx, url, regionID)
	return orders, err
}

// FetchOrders returns the current orders at the given stations, optionally
// restricted to a set of type IDs. Regions are fetched concurrently; a failing
// region fails the whole snapshot so callers can tell "no data" from "no deals".
func (c *Client) FetchOrders(ctx context.Context, locations []TrackedLocation, typeFilter []int32) ([]MarketOrder, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	wanted := make(map[int64]bool, len(locations))
	regionSet := make(map[int32]bool)
	for _, loc := range locations {
		wanted[loc.LocationID] = true
		regionSet[loc.RegionID] = true
	}
	regions := make([]int32, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })

	var types map[int32]bool
	if len(typeFilter) > 0 {
		types = make(map[int32]bool, len(typeFilter))
		for _, t := range typeFilter {
			types[t] = true
		}
	}

	perRegion := make([][]MarketOrder, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, regionID := range regions {
		g.Go(func() error {
			orders, err := c.fetchRegionForSnapshot(gctx, regionID, typeFilter)
			if err != nil {
				return fmt.Errorf("region %d: %w", regionID, err)
			}
			kept := make([]MarketOrder, 0, len(orders))
			for _, o := range orders {
				if !wanted[o.LocationID] {
					continue
				}
				if types != nil && !types[o.TypeID] {
					continue
				}
				kept = append(kept, o)
			}
			perRegion[i] = kept
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []MarketOrder
	for _, orders := range perRegion {
		all = append(all, orders...)
	}
	return all, nil
}

// fetchRegionForSnapshot picks the cheapest way to get the orders a snapshot needs:
// a handful of per-type requests for small filters, the cached region book otherwise.
func (c *Client) fetchRegionForSnapshot(ctx context.Context, regionID int32, typeFilter []int32) ([]MarketOrder, error) {
	if len(typeFilter) == 0 || len(typeFilter) > perTypeFetchLimit {
		return c.FetchRegionOrders(ctx, regionID, OrderTypeAll)
	}

	perType := make([][]MarketOrder, len(typeFilter))
	g, gctx := errgroup.WithContext(ctx)
	for i, typeID := range typeFilter {
		g.Go(func() error {
			orders, err := c.FetchRegionOrdersByType(gctx, regionID, typeID)
			if err != nil {
				return err
			}
			perType[i] = orders
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []MarketOrder
	for _, orders := range perType {
		all = append(all, orders...)
	}
	return all, nil
}
