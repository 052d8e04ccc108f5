package model

import "time"

// CredentialService identifies the service a credential was validated for.
const CredentialServiceSSH = "ssh"

// MatchedDeviceTTL is how long a positive credential match is trusted
// before it must be re-verified.
const MatchedDeviceTTL = 30 * 24 * time.Hour

// Credential is a username/password pair, scoped to one network or
// global when NetworkID is empty.
type Credential struct {
	ID        string    `json:"id"`
	NetworkID string    `json:"network_id,omitempty"` // empty = global
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchedDevice records that a credential successfully authenticated
// against a device (positive cache).
type MatchedDevice struct {
	CredentialID string    `json:"credential_id"`
	Mac          string    `json:"mac"`
	Service      string    `json:"service"`
	MatchedAt    time.Time `json:"matched_at"`
}

// Fresh reports whether the match is still within the trust window.
func (m *MatchedDevice) Fresh(now time.Time) bool {
	return now.Sub(m.MatchedAt) < MatchedDeviceTTL
}

// FailedCredential records that a device rejected a credential
// (negative cache), so it is not retried until the device or credential
// changes.
type FailedCredential struct {
	CredentialID string    `json:"credential_id"`
	Mac          string    `json:"mac"`
	Service      string    `json:"service"`
	FailedAt     time.Time `json:"failed_at"`
}
