package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
)

// Region is a row of the regions table.
type Region struct {
	ID   int32  `json:"region_id" yaml:"region_id"`
	Name string `json:"name" yaml:"name"`
}

// Station is a row of the stations table.
type Station struct {
	ID       int64  `json:"station_id" yaml:"station_id"`
	Name     string `json:"name" yaml:"name"`
	SystemID int32  `json:"system_id" yaml:"system_id"`
	RegionID int32  `json:"region_id" yaml:"region_id"`
}

// ResolveStation returns the station and its region name, or nil if unknown.
func (d *DB) ResolveStation(ctx context.Context, locationID int64) (*engine.StationInfo, error) {
	var s engine.StationInfo
	err := d.sql.QueryRowContext(ctx, `
		SELECT s.station_id, s.name, s.system_id, s.region_id, COALESCE(r.name, '')
		FROM stations s LEFT JOIN regions r ON r.region_id = s.region_id
		WHERE s.station_id = ?`, locationID,
	).Scan(&s.LocationID, &s.Name, &s.SystemID, &s.RegionID, &s.RegionName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve station %d: %w", locationID, err)
	}
	return &s, nil
}

// GetItemInfo returns the item's name and packaged volume, or nil if unknown.
func (d *DB) GetItemInfo(ctx context.Context, typeID int32) (*engine.ItemInfo, error) {
	var it engine.ItemInfo
	err := d.sql.QueryRowContext(ctx,
		"SELECT type_id, name, volume FROM items WHERE type_id = ?", typeID,
	).Scan(&it.TypeID, &it.Name, &it.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", typeID, err)
	}
	return &it, nil
}

// GetHubDefinitions lists the configured hubs in the order they were set.
func (d *DB) GetHubDefinitions(ctx context.Context) ([]engine.HubDefinition, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT name, system_name, station_id, region_id FROM hubs ORDER BY position, name")
	if err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	var hubs []engine.HubDefinition
	for rows.Next() {
		var h engine.HubDefinition
		if err := rows.Scan(&h.Name, &h.SystemName, &h.StationID, &h.RegionID); err != nil {
			return nil, fmt.Errorf("scan hub: %w", err)
		}
		hubs = append(hubs, h)
	}
	return hubs, rows.Err()
}

// SetHubs replaces the hub directory. Names are stored lowercase.
func (d *DB) SetHubs(ctx context.Context, hubs []engine.HubDefinition) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM hubs"); err != nil {
		return fmt.Errorf("clear hubs: %w", err)
	}
	for i, h := range hubs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO hubs (name, system_name, station_id, region_id, position) VALUES (?, ?, ?, ?, ?)",
			strings.ToLower(strings.TrimSpace(h.Name)), h.SystemName, h.StationID, h.RegionID, i,
		)
		if err != nil {
			return fmt.Errorf("insert hub %s: %w", h.Name, err)
		}
	}
	return tx.Commit()
}

// UpsertRegions inserts or renames regions.
func (d *DB) UpsertRegions(ctx context.Context, regions []Region) error {
	return d.upsert(ctx, `
		INSERT INTO regions (region_id, name) VALUES (?, ?)
		ON CONFLICT(region_id) DO UPDATE SET name = excluded.name`,
		len(regions), func(i int) []any { return []any{regions[i].ID, regions[i].Name} })
}

// UpsertStations inserts or updates stations.
func (d *DB) UpsertStations(ctx context.Context, stations []Station) error {
	return d.upsert(ctx, `
		INSERT INTO stations (station_id, name, system_id, region_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			system_id = excluded.system_id,
			region_id = excluded.region_id`,
		len(stations), func(i int) []any {
			s := stations[i]
			return []any{s.ID, s.Name, s.SystemID, s.RegionID}
		})
}

// UpsertItems inserts or updates item metadata.
func (d *DB) UpsertItems(ctx context.Context, items []engine.ItemInfo) error {
	return d.upsert(ctx, `
		INSERT INTO items (type_id, name, volume) VALUES (?, ?, ?)
		ON CONFLICT(type_id) DO UPDATE SET name = excluded.name, volume = excluded.volume`,
		len(items), func(i int) []any { return []any{items[i].TypeID, items[i].Name, items[i].Volume} })
}

// upsert runs one prepared statement n times in a transaction.
func (d *DB) upsert(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range n {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Collaborators returns the engine lookups backed by this database. snapshots
// may be nil for callers that pass orders in themselves.
func (d *DB) Collaborators(snapshots engine.SnapshotProvider) engine.Collaborators {
	return engine.Collaborators{
		Stations:  d,
		Items:     d,
		Liquidity: d,
		Hubs:      d,
		Snapshots: snapshots,
		Stats:     d,
	}
}
