package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Compile-time interface check
var _ Storage = (*SQLiteStorage)(nil)

// SQLiteStorage implements Storage with a SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "topod.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return ss, nil
}

// Close closes the underlying database
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func (ss *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS networks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		root_address TEXT NOT NULL,
		root_credential_id TEXT,
		rescan_cron TEXT,
		last_scanned_at TIMESTAMP,
		device_count INTEGER NOT NULL DEFAULT 0,
		is_online INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS devices (
		mac TEXT PRIMARY KEY,
		network_id TEXT NOT NULL,
		parent_interface_id TEXT,
		upstream_interface TEXT,
		hostname TEXT,
		ip TEXT,
		vendor TEXT,
		model TEXT,
		serial_number TEXT,
		firmware_version TEXT,
		accessible INTEGER NOT NULL DEFAULT 0,
		open_ports TEXT,
		driver_name TEXT,
		comment TEXT,
		nomad INTEGER NOT NULL DEFAULT 0,
		previous_network_id TEXT,
		previous_network_name TEXT,
		last_seen TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_devices_network ON devices(network_id);

	CREATE TABLE IF NOT EXISTS device_macs (
		mac TEXT PRIMARY KEY,
		device_mac TEXT NOT NULL REFERENCES devices(mac) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_device_macs_device ON device_macs(device_mac);

	CREATE TABLE IF NOT EXISTS interfaces (
		id TEXT PRIMARY KEY,
		device_mac TEXT NOT NULL REFERENCES devices(mac) ON DELETE CASCADE,
		name TEXT NOT NULL,
		ip TEXT,
		mac TEXT,
		bridge TEXT,
		vlan_id INTEGER NOT NULL DEFAULT 0,
		poe_mode TEXT,
		poe_power_watts REAL NOT NULL DEFAULT 0,
		comment TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_interfaces_device ON interfaces(device_mac);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		network_id TEXT,
		username TEXT NOT NULL,
		password TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS matched_devices (
		credential_id TEXT NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
		mac TEXT NOT NULL,
		service TEXT NOT NULL,
		matched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (mac, service)
	);

	CREATE TABLE IF NOT EXISTS failed_credentials (
		credential_id TEXT NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
		mac TEXT NOT NULL,
		service TEXT NOT NULL,
		failed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (credential_id, mac, service)
	);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		network_id TEXT NOT NULL,
		status TEXT NOT NULL,
		root_address TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		device_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_scans_network ON scans(network_id);

	CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_scan_logs_scan ON scan_logs(scan_id);

	CREATE TABLE IF NOT EXISTS dhcp_leases (
		network_id TEXT NOT NULL,
		mac TEXT NOT NULL,
		ip TEXT,
		hostname TEXT,
		comment TEXT,
		seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (network_id, mac)
	);
	`

	_, err := ss.db.Exec(schema)
	return err
}
