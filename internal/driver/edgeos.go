package driver

import (
	"context"
	"regexp"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// EdgeOS drives Ubiquiti EdgeRouter devices. The pre-auth SSH banner
// greets with "Welcome to EdgeOS", making identification unambiguous.
type EdgeOS struct{}

func (d *EdgeOS) Name() string { return "edgeos" }

func (d *EdgeOS) Identify(ident string) int {
	if containsFold(ident, "EdgeOS") {
		return 95
	}
	if containsFold(ident, "EdgeRouter") {
		return 80
	}
	return 0
}

// edgeosPrompt matches "user@hostname:~$" (Vyatta shell on a Debian base).
var edgeosPrompt = terminal.Expects(`[\w.-]+@[\w.-]+:[~\w/.-]*[$#]\s*$`)

func (d *EdgeOS) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: edgeosPrompt},
		{Send: "terminal length 0", Expect: edgeosPrompt},
		{Send: "show version", Expect: edgeosPrompt},
		{Send: "hostname", Expect: edgeosPrompt},
		{Send: "show interfaces", Expect: edgeosPrompt},
		{Send: "show lldp neighbors detail", Expect: edgeosPrompt},
		{Send: "show dhcp leases", Expect: edgeosPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{Vendor: "Ubiquiti"}

	version := parseColonPairs(out[2])
	info.FirmwareVersion = firstOf(version, "version")
	info.Model = firstOf(version, "hw model")
	info.SerialNumber = firstOf(version, "hw s/n", "hw serial number")

	info.Hostname = strings.TrimSpace(out[3])

	info.Interfaces = parseEdgeosInterfaces(out[4])
	if len(info.Interfaces) > 0 {
		info.PrimaryMac = info.Interfaces[0].Mac
	}
	info.Neighbors = parseEdgeosLldp(out[5])
	info.Leases = parseEdgeosLeases(out[6])
	return info, nil
}

// edgeosIfLine matches rows of "show interfaces":
//
//	eth0         192.168.1.1/24     u/u  WAN uplink
var edgeosIfLine = regexp.MustCompile(`^([a-z][\w./-]*)\s+(\S+)\s+([uAD])/([uAD])\s*(.*)$`)

func parseEdgeosInterfaces(out string) []InterfaceInfo {
	var ifaces []InterfaceInfo
	for _, line := range strings.Split(out, "\n") {
		m := edgeosIfLine.FindStringSubmatch(strings.TrimRight(line, " "))
		if m == nil {
			continue
		}
		ii := InterfaceInfo{Name: m[1], Comment: strings.TrimSpace(m[5])}
		if addr := m[2]; addr != "-" {
			ii.IP = strings.SplitN(addr, "/", 2)[0]
		}
		ifaces = append(ifaces, ii)
	}
	return ifaces
}

// parseEdgeosLldp reads "show lldp neighbors detail" blocks. Each block
// starts with "Interface:    eth1, via: LLDP" and carries ChassisID,
// SysName and SysDescr lines.
func parseEdgeosLldp(out string) []Neighbor {
	var neighbors []Neighbor
	var cur *Neighbor

	flush := func() {
		if cur != nil && cur.Mac != "" {
			neighbors = append(neighbors, *cur)
		}
		cur = nil
	}

	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Interface:"):
			flush()
			iface := strings.TrimSpace(strings.TrimPrefix(line, "Interface:"))
			iface = strings.SplitN(iface, ",", 2)[0]
			cur = &Neighbor{LocalInterface: iface, Source: SourceDiscovery}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "ChassisID:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "ChassisID:"))
			v = strings.TrimSpace(strings.TrimPrefix(v, "mac"))
			cur.Mac = normalizeMac(v)
		case strings.HasPrefix(line, "SysName:"):
			cur.Hostname = strings.TrimSpace(strings.TrimPrefix(line, "SysName:"))
		case strings.HasPrefix(line, "SysDescr:"):
			cur.Platform = strings.TrimSpace(strings.TrimPrefix(line, "SysDescr:"))
		case strings.HasPrefix(line, "MgmtIP:"):
			cur.IP = strings.TrimSpace(strings.TrimPrefix(line, "MgmtIP:"))
		}
	}
	flush()
	return neighbors
}

// edgeosLeaseLine matches rows of "show dhcp leases":
//
//	192.168.1.50   aa:bb:cc:dd:ee:ff  2026/09/02 10:00:00  LAN   printer
var edgeosLeaseLine = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+)\s+([0-9a-fA-F:]{17})\s+\S+ \S+\s+\S+\s*(.*)$`)

func parseEdgeosLeases(out string) []Lease {
	var leases []Lease
	for _, line := range strings.Split(out, "\n") {
		m := edgeosLeaseLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		mac := normalizeMac(m[2])
		if mac == "" {
			continue
		}
		leases = append(leases, Lease{
			Mac:      mac,
			IP:       m[1],
			Hostname: strings.TrimSpace(m[3]),
		})
	}
	return leases
}
