package model

import "time"

// Device represents one discovered device, keyed by its primary MAC
// address. Topology position (network, parent interface, upstream port) is
// current-state only and is overwritten on every scan that re-discovers the
// device.
type Device struct {
	Mac                 string    `json:"mac"`
	NetworkID           string    `json:"network_id"`
	ParentInterfaceID   string    `json:"parent_interface_id,omitempty"` // empty for the network root
	UpstreamInterface   string    `json:"upstream_interface,omitempty"`  // the device's own uplink port name
	Hostname            string    `json:"hostname,omitempty"`
	IP                  string    `json:"ip,omitempty"`
	Vendor              string    `json:"vendor,omitempty"`
	Model               string    `json:"model,omitempty"`
	SerialNumber        string    `json:"serial_number,omitempty"`
	FirmwareVersion     string    `json:"firmware_version,omitempty"`
	Accessible          bool      `json:"accessible"`
	OpenPorts           []int     `json:"open_ports,omitempty"`
	DriverName          string    `json:"driver_name,omitempty"`
	Comment             string    `json:"comment,omitempty"`
	Nomad               bool      `json:"nomad"` // exempt from moved-network warnings
	PreviousNetworkID   string    `json:"previous_network_id,omitempty"`
	PreviousNetworkName string    `json:"previous_network_name,omitempty"`
	LastSeen            time.Time `json:"last_seen"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DeviceMac maps a secondary MAC address (one physical device exposes
// one MAC per interface) back to the owning device's primary MAC.
type DeviceMac struct {
	Mac       string    `json:"mac"`
	DeviceMac string    `json:"device_mac"`
	CreatedAt time.Time `json:"created_at"`
}

// Interface represents one port or logical interface of a device.
// Interfaces are replaced wholesale on each successful scan of the device.
type Interface struct {
	ID            string  `json:"id"`
	DeviceMac     string  `json:"device_mac"`
	Name          string  `json:"name"`
	IP            string  `json:"ip,omitempty"`
	Mac           string  `json:"mac,omitempty"`
	Bridge        string  `json:"bridge,omitempty"`
	VlanID        int     `json:"vlan_id,omitempty"`
	PoeMode       string  `json:"poe_mode,omitempty"`
	PoePowerWatts float64 `json:"poe_power_watts,omitempty"`
	Comment       string  `json:"comment,omitempty"` // link description
}

// DhcpLease is a MAC to hostname/IP record harvested from the root
// device's DHCP table, used as a fallback identity source for devices that
// cannot be logged into.
type DhcpLease struct {
	NetworkID string    `json:"network_id"`
	Mac       string    `json:"mac"`
	IP        string    `json:"ip,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}
