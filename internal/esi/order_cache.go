package esi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
)

type regionBook struct {
	orders  []MarketOrder
	etag    string // page 1 ETag
	expires time.Time
}

// OrderCache keeps the last order book fetched per region and order side,
// valid until the Expires time ESI sent with it.
type OrderCache struct {
	mu     sync.RWMutex
	books  map[string]*regionBook
	flight singleflight.Group
}

func NewOrderCache() *OrderCache {
	return &OrderCache{books: make(map[string]*regionBook)}
}

func bookKey(regionID int32, orderType string) string {
	return strconv.Itoa(int(regionID)) + "/" + orderType
}

// Get returns the cached book while it is fresh. A stale book reports a miss
// but still returns its ETag for revalidation.
func (oc *OrderCache) Get(regionID int32, orderType string) ([]MarketOrder, string, bool) {
	oc.mu.RLock()
	b := oc.books[bookKey(regionID, orderType)]
	oc.mu.RUnlock()
	switch {
	case b == nil:
		return nil, "", false
	case time.Now().After(b.expires):
		return nil, b.etag, false
	default:
		return b.orders, b.etag, true
	}
}

func (oc *OrderCache) Put(regionID int32, orderType string, orders []MarketOrder, etag string, expires time.Time) {
	oc.mu.Lock()
	oc.books[bookKey(regionID, orderType)] = &regionBook{orders: orders, etag: etag, expires: expires}
	oc.mu.Unlock()
}

// Touch moves a revalidated book's expiry forward.
func (oc *OrderCache) Touch(regionID int32, orderType string, expires time.Time) ([]MarketOrder, bool) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	b := oc.books[bookKey(regionID, orderType)]
	if b == nil {
		return nil, false
	}
	b.expires = expires
	return b.orders, true
}

// FetchRegionOrders returns every order of one side in a region. Fresh books
// come from memory, stale ones are revalidated with If-None-Match on page 1,
// and concurrent callers for the same book share one download.
func (c *Client) FetchRegionOrders(ctx context.Context, regionID int32, orderType string) ([]MarketOrder, error) {
	v, err, _ := c.orderCache.flight.Do(bookKey(regionID, orderType), func() (any, error) {
		return c.loadRegionBook(ctx, regionID, orderType)
	})
	if err != nil {
		return nil, err
	}
	return v.([]MarketOrder), nil
}

func (c *Client) loadRegionBook(ctx context.Context, regionID int32, orderType string) ([]MarketOrder, error) {
	cached, etag, fresh := c.orderCache.Get(regionID, orderType)
	if fresh {
		metrics.RecordOrderCache("hit")
		return cached, nil
	}

	url := fmt.Sprintf("%s/markets/%d/orders/?datasource=tranquility&order_type=%s", c.baseURL, regionID, orderType)
	if etag != "" {
		if expires, ok := c.notModified(ctx, url+"&page=1", etag); ok {
			if orders, ok := c.orderCache.Touch(regionID, orderType, expires); ok {
				metrics.RecordOrderCache("revalidated")
				return orders, nil
			}
		}
	}

	orders, newEtag, expires, err := c.getPaginatedOrders(ctx, url, regionID)
	if err != nil {
		return nil, err
	}
	c.orderCache.Put(regionID, orderType, orders, newEtag, expires)
	metrics.RecordOrderCache("miss")
	logger.Debug("ESI", "region book loaded", "region", regionID, "side", orderType,
		"orders", len(orders), "expires", expires.Format(time.TimeOnly))
	return orders, nil
}

// notModified reports whether ESI answered 304 for the ETag, with the new expiry.
func (c *Client) notModified(ctx context.Context, pageURL, etag string) (time.Time, bool) {
	resp, err := c.do(ctx, pageURL, etag)
	if err != nil {
		return time.Time{}, false
	}
	resp.Body.Close()
	return parseExpires(resp), resp.StatusCode == http.StatusNotModified
}
