package driver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"topod/internal/model"
	"topod/internal/terminal"
)

// Neighbor discovery sources, in increasing order of trust.
const (
	SourceArpTable    = "arp-table"
	SourceDhcpLease   = "dhcp-lease"
	SourceBridgeTable = "bridge-host-table"
	SourceDiscovery   = "discovery-protocol"
)

// SourceRank orders neighbor sources for arbitration when two reports
// disagree about the same MAC. Higher is more trustworthy.
func SourceRank(source string) int {
	switch source {
	case SourceDiscovery:
		return 4
	case SourceBridgeTable:
		return 3
	case SourceDhcpLease:
		return 2
	case SourceArpTable:
		return 1
	default:
		return 0
	}
}

// InterfaceInfo is one normalized interface of a fetched device.
type InterfaceInfo struct {
	Name          string
	Mac           string
	IP            string
	Bridge        string
	VlanID        int
	PoeMode       string
	PoePowerWatts float64
	Comment       string
}

// Neighbor is one device seen by a fetched device, with the local
// interface it was observed on and the source the sighting came from.
type Neighbor struct {
	Mac            string
	IP             string
	Hostname       string
	Platform       string
	LocalInterface string
	Source         string
}

// Lease is one DHCP lease harvested from a device's lease table.
type Lease struct {
	Mac      string
	IP       string
	Hostname string
	Comment  string
}

// DeviceInfo is the normalized shape every driver produces. Fields a
// vendor does not expose stay zero-valued; partial results are normal.
type DeviceInfo struct {
	Hostname        string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	PrimaryMac      string
	// UpstreamInterface is the device's own port towards the network
	// root, when the device reports it (e.g. from its default route).
	UpstreamInterface string
	Interfaces        []InterfaceInfo
	Neighbors         []Neighbor
	Leases            []Lease
}

// Driver is one vendor CLI dialect: how to recognize it from
// identification text, and how to drive an interactive session into a
// normalized DeviceInfo. Drivers only fail when the session or transport
// fails; missing fields are not errors.
type Driver interface {
	Name() string

	// Identify returns a confidence score (0-100) that the given
	// identification text (transport banner plus any platform hint from
	// neighbor discovery) belongs to this dialect. 0 means no match.
	Identify(ident string) int

	// Fetch drives the session through login and command steps and
	// parses the output. The credential is needed because some dialects
	// require a shell-level login distinct from transport authentication.
	Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error)
}

// Registry holds the closed set of known drivers and picks one by
// identification text.
type Registry struct {
	mu      sync.RWMutex
	drivers []Driver
}

// NewRegistry returns a registry pre-loaded with all built-in drivers.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&RouterOS{})
	r.Register(&SwOS{})
	r.Register(&Zyxel{})
	r.Register(&EdgeOS{})
	r.Register(&UniFi{})
	r.Register(&RuckusUnleashed{})
	r.Register(&RuckusCLI{})
	r.Register(&Inteno{})
	r.Register(&Generic{})
	return r
}

// Register adds a driver to the registry.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, d)
}

// Resolve picks the driver with the highest identification confidence
// for the given text. The generic fallback matches everything at the
// lowest confidence, so Resolve never returns nil for non-empty input.
func (r *Registry) Resolve(ident string) (Driver, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Driver
	bestScore := 0
	for _, d := range r.drivers {
		if score := d.Identify(ident); score > bestScore {
			best = d
			bestScore = score
		}
	}
	return best, bestScore
}

// Names lists the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
