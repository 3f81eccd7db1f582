package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
)

// DefaultFileName is used when no database path is configured.
const DefaultFileName = "tracker.db"

// DB is the tracker's SQLite store: reference data, market history,
// cycles and scan history.
type DB struct {
	sql *sql.DB
}

func defaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, DefaultFileName)
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// An empty path uses DefaultFileName in the working directory; ":memory:"
// gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path == "" {
		path = defaultPath()
	}
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite is single-writer, and an in-memory database lives in one connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", "opened", "path", path)
	return d, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// schemaMigration is one forward-only schema step. Versions are applied in
// order and recorded in schema_version.
type schemaMigration struct {
	version int
	name    string
	ddl     string
}

var migrations = []schemaMigration{
	{1, "reference data", `
		CREATE TABLE IF NOT EXISTS regions (
			region_id INTEGER PRIMARY KEY,
			name      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS stations (
			station_id INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			system_id  INTEGER NOT NULL DEFAULT 0,
			region_id  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stations_region ON stations(region_id);

		CREATE TABLE IF NOT EXISTS items (
			type_id INTEGER PRIMARY KEY,
			name    TEXT NOT NULL,
			volume  REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS hubs (
			name        TEXT PRIMARY KEY,
			system_name TEXT NOT NULL,
			station_id  INTEGER NOT NULL,
			region_id   INTEGER NOT NULL,
			position    INTEGER NOT NULL DEFAULT 0
		);
	`},
	{2, "market history", `
		CREATE TABLE IF NOT EXISTS market_history (
			region_id   INTEGER NOT NULL,
			type_id     INTEGER NOT NULL,
			date        TEXT NOT NULL,
			average     REAL,
			highest     REAL,
			lowest      REAL,
			volume      INTEGER,
			order_count INTEGER,
			PRIMARY KEY (region_id, type_id, date)
		);
		CREATE INDEX IF NOT EXISTS idx_market_history_date ON market_history(date);

		CREATE TABLE IF NOT EXISTS market_history_meta (
			region_id  INTEGER NOT NULL,
			type_id    INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (region_id, type_id)
		);
	`},
	{3, "cycles", `
		CREATE TABLE IF NOT EXISTS cycles (
			id            TEXT PRIMARY KEY,
			source_hub    TEXT NOT NULL,
			strategy      TEXT NOT NULL,
			status        TEXT NOT NULL,
			total_capital TEXT NOT NULL,
			total_profit  TEXT NOT NULL,
			items         INTEGER NOT NULL DEFAULT 0,
			plan_json     TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at DESC);

		CREATE TABLE IF NOT EXISTS cycle_lines (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id   TEXT NOT NULL REFERENCES cycles(id),
			hub        TEXT NOT NULL,
			shipment   INTEGER NOT NULL,
			type_id    INTEGER NOT NULL,
			type_name  TEXT,
			quantity   INTEGER NOT NULL,
			total_cost TEXT NOT NULL,
			net_profit TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_lines_cycle ON cycle_lines(cycle_id);

		CREATE TABLE IF NOT EXISTS cycle_status_log (
			cycle_id   TEXT NOT NULL REFERENCES cycles(id),
			status     TEXT NOT NULL,
			changed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_status_cycle ON cycle_status_log(cycle_id);
	`},
	{4, "scan history", `
		CREATE TABLE IF NOT EXISTS scan_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    TEXT NOT NULL,
			variant      TEXT NOT NULL,
			scope        TEXT NOT NULL,
			count        INTEGER NOT NULL,
			top_profit   TEXT NOT NULL,
			total_profit TEXT NOT NULL,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			params_json  TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_scan_history_ts ON scan_history(timestamp);
	`},
}

func (d *DB) migrate() error {
	if _, err := d.sql.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("schema_version: %w", err)
	}
	var current int
	if err := d.sql.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("schema_version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := d.apply(m); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.version, m.name, err)
		}
		logger.Info("DB", "schema migrated", "version", m.version, "step", m.name)
	}
	return nil
}

func (d *DB) apply(m schemaMigration) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.ddl); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return err
	}
	return tx.Commit()
}
