package engine

import (
	"context"
	"errors"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
)

var (
	// ErrUnknownHub is returned when a caller names a hub that is not in the hub directory.
	ErrUnknownHub = errors.New("unknown trade hub")
	// ErrUnknownStrategy is returned when a packing strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown packing strategy")
	// ErrNoSnapshotProvider is returned by operations that must fetch orders themselves.
	ErrNoSnapshotProvider = errors.New("no market snapshot provider configured")
	// ErrSnapshotUnavailable wraps a failure of the snapshot provider itself.
	ErrSnapshotUnavailable = errors.New("market snapshot unavailable")
)

// StationInfo is the resolved metadata of a market location.
type StationInfo struct {
	LocationID int64  `json:"location_id"`
	Name       string `json:"name"`
	SystemID   int32  `json:"system_id"`
	RegionID   int32  `json:"region_id"`
	RegionName string `json:"region_name"`
}

// ItemInfo is the static metadata of a tradeable type.
type ItemInfo struct {
	TypeID int32   `json:"type_id"`
	Name   string  `json:"name"`
	Volume float64 `json:"volume"` // packaged m³ per unit
}

// HubDefinition is one of the known trade hubs.
type HubDefinition struct {
	Name       string `json:"name"` // lowercase key, e.g. "jita"
	SystemName string `json:"system_name"`
	StationID  int64  `json:"station_id"`
	RegionID   int32  `json:"region_id"`
}

// SnapshotProvider supplies the current orders at a set of stations.
type SnapshotProvider interface {
	FetchOrders(ctx context.Context, locations []esi.TrackedLocation, typeFilter []int32) ([]esi.MarketOrder, error)
}

// LiquidityFilter returns the types that traded within the last maxDaysStale days.
type LiquidityFilter interface {
	GetLiquidItemIDs(ctx context.Context, maxDaysStale int) ([]int32, error)
}

// StationResolver resolves a location to station/region metadata.
// A nil result with a nil error means "unknown": the candidate is skipped.
type StationResolver interface {
	ResolveStation(ctx context.Context, locationID int64) (*StationInfo, error)
}

// ItemCatalog resolves type metadata. A nil result means "unknown".
type ItemCatalog interface {
	GetItemInfo(ctx context.Context, typeID int32) (*ItemInfo, error)
}

// HubDirectory lists the tradable hubs.
type HubDirectory interface {
	GetHubDefinitions(ctx context.Context) ([]HubDefinition, error)
}

// TradeStatsProvider reports units traded over the last week for a type in a region.
type TradeStatsProvider interface {
	WeeklyVolume(ctx context.Context, regionID int32, typeID int32) (int64, error)
}

// CycleStore persists a finished plan. It is called by the outer layers after
// the core returns; the core itself never writes.
type CycleStore interface {
	SaveCycle(ctx context.Context, plan *CyclePlan) (string, error)
}
