package driver

import (
	"context"
	"regexp"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// Inteno drives Inteno/IOPSYS CPE gateways, which run an OpenWrt
// derivative with board data behind the "db" tool.
type Inteno struct{}

func (d *Inteno) Name() string { return "inteno" }

func (d *Inteno) Identify(ident string) int {
	if containsFold(ident, "Inteno") || containsFold(ident, "iopsys") {
		return 85
	}
	return 0
}

var intenoPrompt = terminal.Expects(`^root@[\w.-]+:[~\w/.-]*#\s*$`)

func (d *Inteno) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: intenoPrompt},
		{Send: "cat /proc/sys/kernel/hostname", Expect: intenoPrompt},
		{Send: "cat /etc/openwrt_release", Expect: intenoPrompt},
		{Send: "db get hw.board.hardware", Expect: intenoPrompt},
		{Send: "db get hw.board.serialNumber", Expect: intenoPrompt},
		{Send: "cat /sys/class/net/br-lan/address", Expect: intenoPrompt},
		{Send: "brctl showmacs br-lan", Expect: intenoPrompt},
		{Send: "cat /tmp/dhcp.leases", Expect: intenoPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{
		Vendor:       "Inteno",
		Hostname:     strings.TrimSpace(out[1]),
		Model:        strings.TrimSpace(out[3]),
		SerialNumber: strings.TrimSpace(out[4]),
		PrimaryMac:   normalizeMac(out[5]),
	}
	release := parseColonPairs(strings.ReplaceAll(out[2], "=", ":"))
	info.FirmwareVersion = strings.Trim(firstOf(release, "distrib_release", "distrib_description"), `"`)

	info.Neighbors = parseBridgeMacs(out[6], "br-lan", info.PrimaryMac)
	info.Leases = parseDnsmasqLeases(out[7])
	if info.PrimaryMac != "" {
		info.Interfaces = []InterfaceInfo{{Name: "br-lan", Mac: info.PrimaryMac}}
	}
	return info, nil
}

// bridgeMacRow matches rows of "brctl showmacs":
//
//	port no  mac addr           is local?  ageing timer
//	  2      aa:bb:cc:dd:ee:ff  no         12.34
var bridgeMacRow = regexp.MustCompile(`^\d+\s+([0-9a-fA-F:]{17})\s+(yes|no)\b`)

func parseBridgeMacs(out, bridge, selfMac string) []Neighbor {
	var neighbors []Neighbor
	for _, line := range strings.Split(out, "\n") {
		m := bridgeMacRow.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[2] == "yes" {
			continue
		}
		mac := normalizeMac(m[1])
		if mac == "" || mac == selfMac {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Mac:            mac,
			LocalInterface: bridge,
			Source:         SourceBridgeTable,
		})
	}
	return neighbors
}

// parseDnsmasqLeases reads /tmp/dhcp.leases rows:
//
//	1756721000 aa:bb:cc:dd:ee:ff 192.168.1.50 printer 01:aa:bb:...
func parseDnsmasqLeases(out string) []Lease {
	var leases []Lease
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		mac := normalizeMac(fields[1])
		if mac == "" {
			continue
		}
		l := Lease{Mac: mac, IP: fields[2]}
		if fields[3] != "*" {
			l.Hostname = fields[3]
		}
		leases = append(leases, l)
	}
	return leases
}
