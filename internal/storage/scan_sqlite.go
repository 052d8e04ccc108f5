package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"topod/internal/model"
)

// CreateScan inserts a new scan record
func (ss *SQLiteStorage) CreateScan(s *model.Scan) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if s.ID == "" {
		s.ID = generateID("scan")
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := ss.db.Exec(`
		INSERT INTO scans (id, network_id, status, root_address, started_at,
		                   completed_at, device_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.NetworkID, s.Status, s.RootAddress, s.StartedAt,
		nullTime(s.CompletedAt), s.DeviceCount, nullString(s.ErrorMessage))
	if err != nil {
		return fmt.Errorf("creating scan: %w", err)
	}
	return nil
}

// UpdateScan updates the mutable fields of a scan record
func (ss *SQLiteStorage) UpdateScan(s *model.Scan) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec(`
		UPDATE scans
		SET status = ?, completed_at = ?, device_count = ?, error_message = ?
		WHERE id = ?
	`, s.Status, nullTime(s.CompletedAt), s.DeviceCount, nullString(s.ErrorMessage), s.ID)
	if err != nil {
		return fmt.Errorf("updating scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScanNotFound
	}
	return nil
}

// GetScan retrieves a scan by ID
func (ss *SQLiteStorage) GetScan(id string) (*model.Scan, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT id, network_id, status, root_address, started_at, completed_at,
		       device_count, error_message
		FROM scans WHERE id = ?
	`, id)

	s, err := scanScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetLatestScan returns the most recently started scan for a network
func (ss *SQLiteStorage) GetLatestScan(networkID string) (*model.Scan, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT id, network_id, status, root_address, started_at, completed_at,
		       device_count, error_message
		FROM scans WHERE network_id = ?
		ORDER BY started_at DESC LIMIT 1
	`, networkID)

	s, err := scanScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, err
	}
	return s, nil
}

// AppendScanLog appends one log line to a scan
func (ss *SQLiteStorage) AppendScanLog(l *model.ScanLog) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	res, err := ss.db.Exec(`
		INSERT INTO scan_logs (scan_id, level, message, created_at)
		VALUES (?, ?, ?, ?)
	`, l.ScanID, l.Level, l.Message, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending scan log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

// ListScanLogs returns the log lines of a scan in append order
func (ss *SQLiteStorage) ListScanLogs(scanID string) ([]model.ScanLog, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, scan_id, level, message, created_at
		FROM scan_logs WHERE scan_id = ? ORDER BY id
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("querying scan logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ScanLog
	for rows.Next() {
		var l model.ScanLog
		if err := rows.Scan(&l.ID, &l.ScanID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountScanLogs returns the number of log lines accumulated by a scan
func (ss *SQLiteStorage) CountScanLogs(scanID string) (int, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var count int
	err := ss.db.QueryRow(
		"SELECT COUNT(*) FROM scan_logs WHERE scan_id = ?", scanID).Scan(&count)
	return count, err
}

// ReplaceDhcpLeases replaces the lease table snapshot of a network
func (ss *SQLiteStorage) ReplaceDhcpLeases(networkID string, leases []model.DhcpLease) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM dhcp_leases WHERE network_id = ?", networkID); err != nil {
		return fmt.Errorf("clearing dhcp leases: %w", err)
	}

	now := time.Now()
	for _, lease := range leases {
		mac := normalizeMac(lease.Mac)
		if mac == "" {
			continue
		}
		seenAt := lease.SeenAt
		if seenAt.IsZero() {
			seenAt = now
		}
		_, err := tx.Exec(`
			INSERT INTO dhcp_leases (network_id, mac, ip, hostname, comment, seen_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(network_id, mac) DO UPDATE SET
				ip = excluded.ip,
				hostname = excluded.hostname,
				comment = excluded.comment,
				seen_at = excluded.seen_at
		`, networkID, mac, nullString(lease.IP), nullString(lease.Hostname),
			nullString(lease.Comment), seenAt)
		if err != nil {
			return fmt.Errorf("inserting dhcp lease: %w", err)
		}
	}

	return tx.Commit()
}

// FindDhcpLease looks up a lease by network and MAC
func (ss *SQLiteStorage) FindDhcpLease(networkID, mac string) (*model.DhcpLease, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var l model.DhcpLease
	var ip, hostname, comment sql.NullString
	err := ss.db.QueryRow(`
		SELECT network_id, mac, ip, hostname, comment, seen_at
		FROM dhcp_leases WHERE network_id = ? AND mac = ?
	`, networkID, normalizeMac(mac)).Scan(&l.NetworkID, &l.Mac, &ip, &hostname, &comment, &l.SeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if ip.Valid {
		l.IP = ip.String
	}
	if hostname.Valid {
		l.Hostname = hostname.String
	}
	if comment.Valid {
		l.Comment = comment.String
	}
	return &l, nil
}

func scanScan(row rowScanner) (*model.Scan, error) {
	var s model.Scan
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(&s.ID, &s.NetworkID, &s.Status, &s.RootAddress, &s.StartedAt,
		&completedAt, &s.DeviceCount, &errMsg)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if errMsg.Valid {
		s.ErrorMessage = errMsg.String
	}
	return &s, nil
}
