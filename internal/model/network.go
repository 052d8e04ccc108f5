package model

import "time"

// Network represents one managed network, rooted at the device the
// crawler starts from.
type Network struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	RootAddress      string     `json:"root_address"` // IP or hostname of the root device
	RootCredentialID string     `json:"root_credential_id,omitempty"`
	RescanCron       string     `json:"rescan_cron,omitempty"` // cron spec for scheduled rescans, empty = manual only
	LastScannedAt    *time.Time `json:"last_scanned_at,omitempty"`
	DeviceCount      int        `json:"device_count"`
	IsOnline         bool       `json:"is_online"` // root reachability at last scan
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NetworkFilter holds filter criteria for listing networks
type NetworkFilter struct {
	Name string // Filter by name (partial match)
}
