package db

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
)

const (
	historyFreshness = 24 * time.Hour
	historyRetention = 90 // days
	metaRetention    = 30 // days
	syncConcurrency  = 8
)

// GetMarketHistory returns the stored history of a region/type pair if it was
// synced within historyFreshness.
func (d *DB) GetMarketHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, bool) {
	var synced string
	if d.sql.QueryRowContext(ctx,
		"SELECT updated_at FROM market_history_meta WHERE region_id = ? AND type_id = ?", regionID, typeID,
	).Scan(&synced) != nil {
		return nil, false
	}
	if at, err := time.Parse(time.RFC3339, synced); err != nil || time.Since(at) > historyFreshness {
		return nil, false
	}

	entries, err := d.historyRows(ctx, regionID, typeID, "")
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

func (d *DB) historyRows(ctx context.Context, regionID, typeID int32, since string) ([]esi.HistoryEntry, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT date, average, highest, lowest, volume, order_count FROM market_history
		 WHERE region_id=? AND type_id=? AND date >= ? ORDER BY date`,
		regionID, typeID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []esi.HistoryEntry
	for rows.Next() {
		var e esi.HistoryEntry
		if err := rows.Scan(&e.Date, &e.Average, &e.Highest, &e.Lowest, &e.Volume, &e.OrderCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetMarketHistory replaces the stored history of a region/type pair.
// Only entries from the last 90 days are kept.
func (d *DB) SetMarketHistory(ctx context.Context, regionID, typeID int32, entries []esi.HistoryEntry) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM market_history WHERE region_id=? AND type_id=?", regionID, typeID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO market_history (region_id, type_id, date, average, highest, lowest, volume, order_count) VALUES (?,?,?,?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -historyRetention).Format(time.DateOnly)
	for _, e := range entries {
		if e.Date < cutoff {
			continue
		}
		if _, err := stmt.ExecContext(ctx, regionID, typeID, e.Date, e.Average, e.Highest, e.Lowest, e.Volume, e.OrderCount); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO market_history_meta (region_id, type_id, updated_at) VALUES (?,?,?)",
		regionID, typeID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetLiquidItemIDs returns every type with traded volume in any region within
// the last maxDaysStale days, ascending.
func (d *DB) GetLiquidItemIDs(ctx context.Context, maxDaysStale int) ([]int32, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxDaysStale).Format(time.DateOnly)
	rows, err := d.sql.QueryContext(ctx,
		"SELECT DISTINCT type_id FROM market_history WHERE date >= ? AND volume > 0 ORDER BY type_id",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("liquid items: %w", err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WeeklyVolume is the number of units traded over the last 7 days. Unknown
// pairs report 0.
func (d *DB) WeeklyVolume(ctx context.Context, regionID, typeID int32) (int64, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -7).Format(time.DateOnly)
	entries, err := d.historyRows(ctx, regionID, typeID, since)
	if err != nil {
		return 0, fmt.Errorf("weekly volume %d/%d: %w", regionID, typeID, err)
	}
	return esi.ComputeMarketStats(entries, now).WeeklyVolume, nil
}

// HistoryFetcher downloads the daily history of a type in a region.
type HistoryFetcher interface {
	FetchMarketHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, error)
}

// SyncMarketHistory refreshes stale history for typeIDs in a region. Pairs
// fetched within the last day are skipped; single fetch failures are logged
// and do not stop the rest. It returns how many pairs were refreshed.
func (d *DB) SyncMarketHistory(ctx context.Context, fetcher HistoryFetcher, regionID int32, typeIDs []int32) (int, error) {
	refreshed := make([]bool, len(typeIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for i, typeID := range typeIDs {
		g.Go(func() error {
			if _, fresh := d.GetMarketHistory(gctx, regionID, typeID); fresh {
				return nil
			}
			entries, err := fetcher.FetchMarketHistory(gctx, regionID, typeID)
			if err != nil {
				logger.Warn("DB", "history fetch failed", "region", regionID, "type_id", typeID, "err", err)
				return nil
			}
			if err := d.SetMarketHistory(gctx, regionID, typeID, entries); err != nil {
				return fmt.Errorf("store history %d/%d: %w", regionID, typeID, err)
			}
			refreshed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range refreshed {
		if ok {
			n++
		}
	}
	return n, ctx.Err()
}

// CleanupOldHistory prunes daily rows past the retention window, metadata not
// refreshed for metaRetention days, and rows whose metadata is gone. Failures
// are logged; cleanup never blocks a caller.
func (d *DB) CleanupOldHistory(ctx context.Context) {
	now := time.Now().UTC()
	steps := []struct {
		what  string
		query string
		args  []any
	}{
		{"expired days", "DELETE FROM market_history WHERE date < ?",
			[]any{now.AddDate(0, 0, -historyRetention).Format(time.DateOnly)}},
		{"stale meta", "DELETE FROM market_history_meta WHERE updated_at < ?",
			[]any{now.AddDate(0, 0, -metaRetention).Format(time.RFC3339)}},
		{"orphans", `DELETE FROM market_history WHERE (region_id, type_id) NOT IN
			(SELECT region_id, type_id FROM market_history_meta)`, nil},
	}
	for _, st := range steps {
		res, err := d.sql.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			logger.Warn("DB", "history cleanup failed", "step", st.what, "err", err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			logger.Info("DB", "history cleanup", "step", st.what, "rows", n)
		}
	}
}
