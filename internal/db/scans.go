package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScanRecord represents one opportunity scan.
type ScanRecord struct {
	ID          int64           `json:"id"`
	Timestamp   string          `json:"timestamp"`
	Variant     string          `json:"variant"` // all, hub, hub-pair or route
	Scope       string          `json:"scope"`   // e.g. "jita -> amarr"
	Count       int             `json:"count"`
	TopProfit   decimal.Decimal `json:"top_profit"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	DurationMs  int64           `json:"duration_ms"`
	Params      json.RawMessage `json:"params"`
}

// InsertScan records a scan and returns its ID. params is stored as JSON.
func (d *DB) InsertScan(ctx context.Context, r ScanRecord, params any) (int64, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("encode scan params: %w", err)
	}
	if r.Timestamp == "" {
		r.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	result, err := d.sql.ExecContext(ctx,
		`INSERT INTO scan_history (timestamp, variant, scope, count, top_profit, total_profit, duration_ms, params_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Variant, r.Scope, r.Count, r.TopProfit.String(), r.TotalProfit.String(), r.DurationMs, string(paramsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	return result.LastInsertId()
}

// GetScans returns the last N scans (newest first).
func (d *DB) GetScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, timestamp, variant, scope, count, top_profit, total_profit, duration_ms, params_json
		 FROM scan_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	records := []ScanRecord{}
	for rows.Next() {
		var r ScanRecord
		var params string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Variant, &r.Scope, &r.Count, &r.TopProfit, &r.TotalProfit, &r.DurationMs, &params); err != nil {
			return nil, err
		}
		r.Params = json.RawMessage(params)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ClearScans deletes scans older than the given number of days.
func (d *DB) ClearScans(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)
	result, err := d.sql.ExecContext(ctx, "DELETE FROM scan_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
