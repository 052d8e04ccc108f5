package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"topod/internal/model"
)

// generateID creates a prefixed unique identifier, e.g. "scan-<uuid>"
func generateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// ListNetworks returns all networks, optionally filtered by name
func (ss *SQLiteStorage) ListNetworks(filter *model.NetworkFilter) ([]model.Network, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT id, name, root_address, root_credential_id, rescan_cron,
		       last_scanned_at, device_count, is_online, created_at, updated_at
		FROM networks
		WHERE 1=1
	`
	var args []interface{}

	if filter != nil && filter.Name != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Name+"%")
	}

	query += " ORDER BY name"

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying networks: %w", err)
	}
	defer rows.Close()

	var networks []model.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning network: %w", err)
		}
		networks = append(networks, *n)
	}

	return networks, rows.Err()
}

// GetNetwork retrieves a network by ID or name
func (ss *SQLiteStorage) GetNetwork(id string) (*model.Network, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT id, name, root_address, root_credential_id, rescan_cron,
		       last_scanned_at, device_count, is_online, created_at, updated_at
		FROM networks
		WHERE id = ? OR name = ?
	`, id, id)

	n, err := scanNetwork(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNetworkNotFound
		}
		return nil, err
	}
	return n, nil
}

// SaveNetwork inserts or updates a network
func (ss *SQLiteStorage) SaveNetwork(n *model.Network) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if n.ID == "" {
		n.ID = generateID("net")
		n.CreatedAt = time.Now()
	}
	n.UpdatedAt = time.Now()

	_, err := ss.db.Exec(`
		INSERT INTO networks (id, name, root_address, root_credential_id, rescan_cron,
		                      last_scanned_at, device_count, is_online, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_address = excluded.root_address,
			root_credential_id = excluded.root_credential_id,
			rescan_cron = excluded.rescan_cron,
			updated_at = excluded.updated_at
	`, n.ID, n.Name, n.RootAddress, nullString(n.RootCredentialID), nullString(n.RescanCron),
		nullTime(n.LastScannedAt), n.DeviceCount, boolToInt(n.IsOnline), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving network: %w", err)
	}
	return nil
}

// DeleteNetwork removes a network
func (ss *SQLiteStorage) DeleteNetwork(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec("DELETE FROM networks WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNetworkNotFound
	}
	return nil
}

// UpdateNetworkScanSummary updates only the scan-summary fields on a
// network. These fields are owned by the orchestrator.
func (ss *SQLiteStorage) UpdateNetworkScanSummary(id string, scannedAt time.Time, deviceCount int, online bool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec(`
		UPDATE networks
		SET last_scanned_at = ?, device_count = ?, is_online = ?, updated_at = ?
		WHERE id = ?
	`, scannedAt, deviceCount, boolToInt(online), time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating network scan summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNetworkNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNetwork(row rowScanner) (*model.Network, error) {
	var n model.Network
	var rootCred, rescanCron sql.NullString
	var lastScanned sql.NullTime
	var online int

	err := row.Scan(&n.ID, &n.Name, &n.RootAddress, &rootCred, &rescanCron,
		&lastScanned, &n.DeviceCount, &online, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if rootCred.Valid {
		n.RootCredentialID = rootCred.String
	}
	if rescanCron.Valid {
		n.RescanCron = rescanCron.String
	}
	if lastScanned.Valid {
		t := lastScanned.Time
		n.LastScannedAt = &t
	}
	n.IsOnline = online != 0

	return &n, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
