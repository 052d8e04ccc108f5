package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"topod/internal/model"
)

// ListCredentials returns credentials scoped to a network in insertion
// order. An empty networkID lists the global credentials.
func (ss *SQLiteStorage) ListCredentials(networkID string) ([]model.Credential, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if networkID == "" {
		rows, err = ss.db.Query(`
			SELECT id, network_id, username, password, created_at
			FROM credentials WHERE network_id IS NULL ORDER BY created_at, id`)
	} else {
		rows, err = ss.db.Query(`
			SELECT id, network_id, username, password, created_at
			FROM credentials WHERE network_id = ? ORDER BY created_at, id`, networkID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

// GetCredential retrieves a credential by ID
func (ss *SQLiteStorage) GetCredential(id string) (*model.Credential, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(
		"SELECT id, network_id, username, password, created_at FROM credentials WHERE id = ?", id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return c, nil
}

// SaveCredential inserts or updates a credential
func (ss *SQLiteStorage) SaveCredential(c *model.Credential) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if c.ID == "" {
		c.ID = generateID("cred")
		c.CreatedAt = time.Now()
	}

	_, err := ss.db.Exec(`
		INSERT INTO credentials (id, network_id, username, password, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			network_id = excluded.network_id,
			username = excluded.username,
			password = excluded.password
	`, c.ID, nullString(c.NetworkID), c.Username, c.Password, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a credential and its cache entries
func (ss *SQLiteStorage) DeleteCredential(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec("DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// GetMatchedDevice returns the positive-cache entry for a device+service
func (ss *SQLiteStorage) GetMatchedDevice(mac, service string) (*model.MatchedDevice, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var m model.MatchedDevice
	err := ss.db.QueryRow(`
		SELECT credential_id, mac, service, matched_at
		FROM matched_devices WHERE mac = ? AND service = ?
	`, normalizeMac(mac), service).Scan(&m.CredentialID, &m.Mac, &m.Service, &m.MatchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMatchedDevice records a successful credential match for a device
func (ss *SQLiteStorage) UpsertMatchedDevice(m *model.MatchedDevice) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if m.MatchedAt.IsZero() {
		m.MatchedAt = time.Now()
	}
	m.Mac = normalizeMac(m.Mac)

	_, err := ss.db.Exec(`
		INSERT INTO matched_devices (credential_id, mac, service, matched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mac, service) DO UPDATE SET
			credential_id = excluded.credential_id,
			matched_at = excluded.matched_at
	`, m.CredentialID, m.Mac, m.Service, m.MatchedAt)
	if err != nil {
		return fmt.Errorf("upserting matched device: %w", err)
	}
	return nil
}

// ListFailedCredentials returns the negative-cache entries for a device+service
func (ss *SQLiteStorage) ListFailedCredentials(mac, service string) ([]model.FailedCredential, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT credential_id, mac, service, failed_at
		FROM failed_credentials WHERE mac = ? AND service = ?
	`, normalizeMac(mac), service)
	if err != nil {
		return nil, fmt.Errorf("querying failed credentials: %w", err)
	}
	defer rows.Close()

	var failed []model.FailedCredential
	for rows.Next() {
		var f model.FailedCredential
		if err := rows.Scan(&f.CredentialID, &f.Mac, &f.Service, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scanning failed credential: %w", err)
		}
		failed = append(failed, f)
	}
	return failed, rows.Err()
}

// UpsertFailedCredential records a rejected credential for a device
func (ss *SQLiteStorage) UpsertFailedCredential(f *model.FailedCredential) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}
	f.Mac = normalizeMac(f.Mac)

	_, err := ss.db.Exec(`
		INSERT INTO failed_credentials (credential_id, mac, service, failed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(credential_id, mac, service) DO UPDATE SET
			failed_at = excluded.failed_at
	`, f.CredentialID, f.Mac, f.Service, f.FailedAt)
	if err != nil {
		return fmt.Errorf("upserting failed credential: %w", err)
	}
	return nil
}

// DeleteFailedCredential clears a stale negative-cache entry
func (ss *SQLiteStorage) DeleteFailedCredential(credentialID, mac, service string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	_, err := ss.db.Exec(`
		DELETE FROM failed_credentials
		WHERE credential_id = ? AND mac = ? AND service = ?
	`, credentialID, normalizeMac(mac), service)
	return err
}

func scanCredential(row rowScanner) (*model.Credential, error) {
	var c model.Credential
	var networkID sql.NullString

	err := row.Scan(&c.ID, &networkID, &c.Username, &c.Password, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if networkID.Valid {
		c.NetworkID = networkID.String
	}
	return &c, nil
}
