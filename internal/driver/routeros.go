package driver

import (
	"context"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// RouterOS drives MikroTik RouterOS devices. RouterOS announces itself
// in the SSH protocol banner ("ROSSSH"), so identification is reliable
// before any login happens.
type RouterOS struct{}

func (d *RouterOS) Name() string { return "routeros" }

func (d *RouterOS) Identify(ident string) int {
	if containsFold(ident, "ROSSSH") {
		return 95
	}
	if containsFold(ident, "MikroTik") || containsFold(ident, "RouterOS") {
		return 80
	}
	return 0
}

// routerosPrompt matches "[admin@gw-main] >" and the variants newer
// releases print ("> " with trailing space, "/interface>" in submenus).
var routerosPrompt = terminal.Expects(`\[[^\]\n]+\] >\s*$`)

func (d *RouterOS) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: routerosPrompt},
		{Send: "/system identity print", Expect: routerosPrompt},
		{Send: "/system resource print", Expect: routerosPrompt},
		{Send: "/system routerboard print", Expect: routerosPrompt},
		{Send: "/interface print terse", Expect: routerosPrompt},
		{Send: "/ip address print terse", Expect: routerosPrompt},
		{Send: "/interface ethernet poe print terse", Expect: routerosPrompt},
		{Send: "/ip route print terse where dst-address=0.0.0.0/0", Expect: routerosPrompt},
		{Send: "/ip neighbor print terse", Expect: routerosPrompt},
		{Send: "/interface bridge host print terse where !local", Expect: routerosPrompt},
		{Send: "/ip dhcp-server lease print terse", Expect: routerosPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{Vendor: "MikroTik"}

	identity := parseColonPairs(out[1])
	info.Hostname = identity["name"]

	resource := parseColonPairs(out[2])
	info.Model = firstOf(resource, "board-name")
	if v := resource["version"]; v != "" {
		// "7.11.2 (stable)" -> "7.11.2"
		info.FirmwareVersion = strings.Fields(v)[0]
	}

	board := parseColonPairs(out[3])
	info.SerialNumber = board["serial-number"]
	if m := board["model"]; m != "" {
		info.Model = m
	}

	info.Interfaces = parseRouterosInterfaces(out[4], out[5], out[6])
	if len(info.Interfaces) > 0 {
		info.PrimaryMac = info.Interfaces[0].Mac
	}
	info.UpstreamInterface = parseRouterosDefaultRoute(out[7])
	info.Neighbors = parseRouterosNeighbors(out[8], out[9])
	info.Leases = parseRouterosLeases(out[10])
	return info, nil
}

// parseRouterosInterfaces merges "/interface print terse" with per
// interface addresses and PoE state. Slave flag and bridge membership
// are not visible in terse interface output; bridge assignment comes
// from the address table instead (addresses sit on the bridge).
func parseRouterosInterfaces(ifOut, addrOut, poeOut string) []InterfaceInfo {
	addrByIface := make(map[string]string)
	for _, line := range strings.Split(addrOut, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		if iface, addr := kv["interface"], kv["address"]; iface != "" && addr != "" {
			// keep the first address per interface
			if _, ok := addrByIface[iface]; !ok {
				addrByIface[iface] = strings.SplitN(addr, "/", 2)[0]
			}
		}
	}

	type poeState struct {
		mode  string
		watts float64
	}
	poeByIface := make(map[string]poeState)
	for _, line := range strings.Split(poeOut, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		if name := kv["name"]; name != "" {
			poeByIface[name] = poeState{
				mode:  kv["poe-out"],
				watts: parseWatts(kv["poe-out-power"]),
			}
		}
	}

	var ifaces []InterfaceInfo
	for _, line := range strings.Split(ifOut, "\n") {
		kv := parseTerse(line)
		if kv == nil || kv["name"] == "" {
			continue
		}
		ii := InterfaceInfo{
			Name:    kv["name"],
			Mac:     normalizeMac(kv["mac-address"]),
			IP:      addrByIface[kv["name"]],
			Comment: kv["comment"],
		}
		if poe, ok := poeByIface[kv["name"]]; ok {
			ii.PoeMode = poe.mode
			ii.PoePowerWatts = poe.watts
		}
		ifaces = append(ifaces, ii)
	}
	return ifaces
}

func parseRouterosDefaultRoute(out string) string {
	for _, line := range strings.Split(out, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		// "immediate-gw=10.0.0.1%ether1" carries the egress interface
		if gw := kv["immediate-gw"]; gw != "" {
			if i := strings.IndexByte(gw, '%'); i >= 0 {
				return gw[i+1:]
			}
		}
		if gw := kv["gateway"]; gw != "" {
			if i := strings.IndexByte(gw, '%'); i >= 0 {
				return gw[i+1:]
			}
		}
	}
	return ""
}

// parseRouterosNeighbors combines the MNDP/LLDP neighbor table with the
// bridge host table. Discovery entries carry identity and platform;
// bridge hosts only pin a MAC to a port.
func parseRouterosNeighbors(neighOut, bridgeOut string) []Neighbor {
	var neighbors []Neighbor
	seen := make(map[string]bool)

	for _, line := range strings.Split(neighOut, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		mac := normalizeMac(kv["mac-address"])
		if mac == "" {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Mac:            mac,
			IP:             kv["address"],
			Hostname:       kv["identity"],
			Platform:       firstOf(kv, "platform", "board"),
			LocalInterface: kv["interface"],
			Source:         SourceDiscovery,
		})
		seen[mac] = true
	}

	for _, line := range strings.Split(bridgeOut, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		mac := normalizeMac(kv["mac-address"])
		if mac == "" || seen[mac] {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Mac:            mac,
			LocalInterface: kv["on-interface"],
			Source:         SourceBridgeTable,
		})
		seen[mac] = true
	}
	return neighbors
}

func parseRouterosLeases(out string) []Lease {
	var leases []Lease
	for _, line := range strings.Split(out, "\n") {
		kv := parseTerse(line)
		if kv == nil {
			continue
		}
		mac := normalizeMac(kv["mac-address"])
		if mac == "" {
			continue
		}
		leases = append(leases, Lease{
			Mac:      mac,
			IP:       kv["address"],
			Hostname: kv["host-name"],
			Comment:  kv["comment"],
		})
	}
	return leases
}
