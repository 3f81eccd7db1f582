package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
)

// CycleStatus is a stage of a trading cycle. Cycles only move forward.
type CycleStatus string

const (
	CyclePlanned   CycleStatus = "planned"
	CycleBuying    CycleStatus = "buying"
	CycleInTransit CycleStatus = "in_transit"
	CycleSelling   CycleStatus = "selling"
	CycleCompleted CycleStatus = "completed"
)

var cycleOrder = []CycleStatus{CyclePlanned, CycleBuying, CycleInTransit, CycleSelling, CycleCompleted}

var (
	ErrCycleNotFound     = errors.New("cycle not found")
	ErrInvalidTransition = errors.New("invalid cycle status transition")
)

// Next returns the status after s, or false for completed and unknown statuses.
func (s CycleStatus) Next() (CycleStatus, bool) {
	for i, st := range cycleOrder {
		if st == s && i+1 < len(cycleOrder) {
			return cycleOrder[i+1], true
		}
	}
	return "", false
}

// CycleRecord is the summary row of a saved cycle.
type CycleRecord struct {
	ID           string          `json:"id"`
	SourceHub    string          `json:"source_hub"`
	Strategy     string          `json:"strategy"`
	Status       CycleStatus     `json:"status"`
	TotalCapital decimal.Decimal `json:"total_capital"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	Items        int             `json:"items"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// StatusChange is one entry of a cycle's status log.
type StatusChange struct {
	Status    CycleStatus `json:"status"`
	ChangedAt string      `json:"changed_at"`
}

// CycleDetail is a saved cycle with its full plan and status log.
type CycleDetail struct {
	CycleRecord
	Plan    *engine.CyclePlan `json:"plan"`
	History []StatusChange    `json:"history"`
}

// SaveCycle stores a plan as a new cycle in the planned state and returns
// its id. The id is also written back to plan.ID.
func (d *DB) SaveCycle(ctx context.Context, plan *engine.CyclePlan) (string, error) {
	id := uuid.NewString()
	plan.ID = id
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (id, source_hub, strategy, status, total_capital, total_profit, items, plan_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, plan.SourceHub, plan.Strategy, CyclePlanned,
		plan.Summary.TotalCapital.String(), plan.Summary.TotalProfit.String(), plan.Summary.TotalItems,
		string(planJSON), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert cycle: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cycle_lines (cycle_id, hub, shipment, type_id, type_name, quantity, total_cost, net_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, a := range plan.Allocations {
		for _, it := range a.Packing.Items {
			_, err := stmt.ExecContext(ctx, id, a.Hub, it.Shipment, it.Opportunity.TypeID, it.Opportunity.TypeName,
				it.Quantity, it.TotalCost.String(), it.NetProfit.String())
			if err != nil {
				return "", fmt.Errorf("insert cycle line: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cycle_status_log (cycle_id, status, changed_at) VALUES (?, ?, ?)",
		id, CyclePlanned, now,
	); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

const cycleColumns = "id, source_hub, strategy, status, total_capital, total_profit, items, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (CycleRecord, error) {
	var r CycleRecord
	err := row.Scan(&r.ID, &r.SourceHub, &r.Strategy, &r.Status, &r.TotalCapital, &r.TotalProfit, &r.Items, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListCycles returns the last limit cycles, newest first.
func (d *DB) ListCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		"SELECT "+cycleColumns+" FROM cycles ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	out := []CycleRecord{}
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCycle loads one cycle with its plan and status log.
func (d *DB) GetCycle(ctx context.Context, id string) (*CycleDetail, error) {
	var planJSON string
	row := d.sql.QueryRowContext(ctx, "SELECT "+cycleColumns+", plan_json FROM cycles WHERE id = ?", id)
	var r CycleRecord
	err := row.Scan(&r.ID, &r.SourceHub, &r.Strategy, &r.Status, &r.TotalCapital, &r.TotalProfit, &r.Items, &r.CreatedAt, &r.UpdatedAt, &planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}

	detail := &CycleDetail{CycleRecord: r, Plan: &engine.CyclePlan{}}
	if err := json.Unmarshal([]byte(planJSON), detail.Plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", id, err)
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT status, changed_at FROM cycle_status_log WHERE cycle_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, fmt.Errorf("cycle history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.Status, &c.ChangedAt); err != nil {
			return nil, err
		}
		detail.History = append(detail.History, c)
	}
	return detail, rows.Err()
}

// AdvanceCycle moves a cycle to the next status. to may be empty to mean
// "the next one"; any other target must be exactly the next status.
func (d *DB) AdvanceCycle(ctx context.Context, id string, to CycleStatus) (*CycleRecord, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := scanCycle(tx.QueryRowContext(ctx, "SELECT "+cycleColumns+" FROM cycles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}

	next, ok := r.Status.Next()
	if !ok || (to != "" && to != next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, target(to, next))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, "UPDATE cycles SET status = ?, updated_at = ? WHERE id = ?", next, now, id); err != nil {
		return nil, fmt.Errorf("update cycle: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cycle_status_log (cycle_id, status, changed_at) VALUES (?, ?, ?)", id, next, now,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.Status, r.UpdatedAt = next, now
	return &r, nil
}

func target(to, next CycleStatus) CycleStatus {
	if to != "" {
		return to
	}
	return next
}
