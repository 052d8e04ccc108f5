package storage

import (
	"errors"
	"time"

	"topod/internal/model"
)

var (
	ErrNetworkNotFound    = errors.New("network not found")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrScanNotFound       = errors.New("scan not found")
	ErrLeaseNotFound      = errors.New("dhcp lease not found")
	ErrMatchNotFound      = errors.New("credential match not found")
	ErrInvalidID          = errors.New("invalid ID")
)

// Storage is the narrow record-store interface the crawl engine works
// against. The engine is agnostic to the concrete backend.
type Storage interface {
	// Networks
	ListNetworks(filter *model.NetworkFilter) ([]model.Network, error)
	GetNetwork(id string) (*model.Network, error)
	SaveNetwork(n *model.Network) error
	DeleteNetwork(id string) error
	// UpdateNetworkScanSummary updates only the scan-summary fields the
	// orchestrator owns (lastScannedAt, deviceCount, isOnline).
	UpdateNetworkScanSummary(id string, scannedAt time.Time, deviceCount int, online bool) error

	// Devices
	GetDevice(mac string) (*model.Device, error)
	UpsertDevice(d *model.Device) error
	ListDevicesByNetwork(networkID string) ([]model.Device, error)
	SetDeviceComment(mac, comment string) error
	SetDeviceNomad(mac string, nomad bool) error
	// ResolvePrimaryMac maps a (possibly secondary) MAC to the primary MAC
	// of the owning device. Returns the input when no mapping exists.
	ResolvePrimaryMac(mac string) (string, error)
	ReplaceDeviceMacs(primaryMac string, macs []string) error

	// Interfaces
	ReplaceInterfaces(deviceMac string, ifaces []model.Interface) error
	ListInterfacesByDevice(deviceMac string) ([]model.Interface, error)
	ListInterfacesByNetwork(networkID string) ([]model.Interface, error)
	GetInterface(id string) (*model.Interface, error)

	// Credentials
	ListCredentials(networkID string) ([]model.Credential, error) // networkID "" lists globals
	GetCredential(id string) (*model.Credential, error)
	SaveCredential(c *model.Credential) error
	DeleteCredential(id string) error

	// Credential caches
	GetMatchedDevice(mac, service string) (*model.MatchedDevice, error)
	UpsertMatchedDevice(m *model.MatchedDevice) error
	ListFailedCredentials(mac, service string) ([]model.FailedCredential, error)
	UpsertFailedCredential(f *model.FailedCredential) error
	DeleteFailedCredential(credentialID, mac, service string) error

	// Scans
	CreateScan(s *model.Scan) error
	UpdateScan(s *model.Scan) error
	GetScan(id string) (*model.Scan, error)
	GetLatestScan(networkID string) (*model.Scan, error)
	AppendScanLog(l *model.ScanLog) error
	ListScanLogs(scanID string) ([]model.ScanLog, error)
	CountScanLogs(scanID string) (int, error)

	// DHCP leases
	ReplaceDhcpLeases(networkID string, leases []model.DhcpLease) error
	FindDhcpLease(networkID, mac string) (*model.DhcpLease, error)

	Close() error
}
