package driver

import (
	"context"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// UniFi drives Ubiquiti UniFi access points over their BusyBox shell.
// The banner gives nothing away (plain dropbear), so identification
// leans on platform hints from neighbor discovery.
type UniFi struct{}

func (d *UniFi) Name() string { return "unifi" }

func (d *UniFi) Identify(ident string) int {
	if containsFold(ident, "UniFi") {
		return 85
	}
	if containsFold(ident, "UAP") || containsFold(ident, "U6-") || containsFold(ident, "USW") {
		return 75
	}
	return 0
}

// unifiPrompt matches "US.v4.3.28#" / "BZ.v6.5.28#" style prompts.
var unifiPrompt = terminal.Expects(`^[A-Z]{2}\.v[\d.]+#\s*$`, `#\s*$`)

func (d *UniFi) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: unifiPrompt},
		{Send: "info", Expect: unifiPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	kv := parseColonPairs(out[1])
	info := &DeviceInfo{
		Vendor:          "Ubiquiti",
		Hostname:        kv["hostname"],
		Model:           kv["model"],
		FirmwareVersion: kv["version"],
		PrimaryMac:      normalizeMac(kv["mac address"]),
	}
	if mac, ip := info.PrimaryMac, kv["ip address"]; mac != "" {
		iface := InterfaceInfo{Name: "br0", Mac: mac}
		if ip != "" {
			iface.IP = strings.SplitN(ip, "/", 2)[0]
		}
		info.Interfaces = []InterfaceInfo{iface}
	}
	return info, nil
}
