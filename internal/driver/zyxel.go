package driver

import (
	"context"
	"regexp"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// Zyxel drives Zyxel smart switches (GS1900 family CLI).
type Zyxel struct{}

func (d *Zyxel) Name() string { return "zyxel" }

func (d *Zyxel) Identify(ident string) int {
	if containsFold(ident, "Zyxel") || containsFold(ident, "ZyXEL") {
		return 85
	}
	if containsFold(ident, "GS1900") || containsFold(ident, "XGS1") {
		return 80
	}
	return 0
}

var zyxelPrompt = terminal.Expects(`^[\w()-]+#\s*$`)

func (d *Zyxel) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: zyxelPrompt},
		{Send: "show version", Expect: zyxelPrompt},
		{Send: "show system-information", Expect: zyxelPrompt},
		{Send: "show mac address-table", Expect: zyxelPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	version := parseColonPairs(out[1])
	system := parseColonPairs(out[2])

	info := &DeviceInfo{
		Vendor:          "Zyxel",
		FirmwareVersion: firstOf(version, "firmware version", "version"),
		Model:           firstOf(system, "model name", "product model"),
		Hostname:        firstOf(system, "system name", "host name"),
		SerialNumber:    firstOf(system, "serial number"),
		PrimaryMac:      normalizeMac(firstOf(system, "mac address", "base mac address")),
	}
	info.Neighbors = parseZyxelMacTable(out[3])
	return info, nil
}

// zyxelMacRow matches rows of "show mac address-table":
//
//	1     AA:BB:CC:DD:EE:FF   Dynamic   ge2
var zyxelMacRow = regexp.MustCompile(`^(\d+)\s+([0-9a-fA-F:-]{17})\s+(\w+)\s+(\S+)$`)

func parseZyxelMacTable(out string) []Neighbor {
	var neighbors []Neighbor
	for _, line := range strings.Split(out, "\n") {
		m := zyxelMacRow.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if !strings.EqualFold(m[3], "dynamic") {
			continue
		}
		mac := normalizeMac(m[2])
		if mac == "" {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			Mac:            mac,
			LocalInterface: m[4],
			Source:         SourceBridgeTable,
		})
	}
	return neighbors
}
