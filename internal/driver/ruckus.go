package driver

import (
	"context"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// RuckusUnleashed drives the Unleashed controller CLI. The transport
// accepts any SSH credentials and the shell then runs its own login
// dialog, so the credential is replayed at shell level.
type RuckusUnleashed struct{}

func (d *RuckusUnleashed) Name() string { return "ruckus-unleashed" }

func (d *RuckusUnleashed) Identify(ident string) int {
	if containsFold(ident, "Unleashed") {
		return 90
	}
	if containsFold(ident, "Ruckus") {
		return 75
	}
	// The bare shell-level login dialog is shared with standalone APs;
	// match it weakly so a more specific hint wins.
	if containsFold(ident, "Please login") {
		return 40
	}
	return 0
}

var (
	ruckusLogin    = terminal.Expects(`Please login:\s*$`)
	ruckusPassword = terminal.Expects(`Password:\s*$`)
	ruckusEnable   = terminal.Expects(`ruckus#\s*$`)
	// The password step ends either at the shell prompt or back at the
	// login prompt when the credential is rejected.
	ruckusPostAuth = terminal.Expects(`ruckus>\s*$`, `Please login:\s*$`)
)

func (d *RuckusUnleashed) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: ruckusLogin},
		{Send: cred.Username, Expect: ruckusPassword},
		{Send: cred.Password, Expect: ruckusPostAuth, Hidden: true},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}
	if containsFold(out[2], "login incorrect") || containsFold(out[2], "Please login") {
		return nil, terminal.ErrAuthFailed
	}

	steps = []terminal.Step{
		{Send: "enable", Expect: ruckusEnable},
		{Send: "show sysinfo", Expect: ruckusEnable},
		{Send: "show ap all", Expect: ruckusEnable},
	}
	out, err = sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	sysinfo := parseColonPairs(out[1])
	info := &DeviceInfo{
		Vendor:          "Ruckus",
		Hostname:        sysinfo["name"],
		Model:           sysinfo["model"],
		SerialNumber:    sysinfo["serial number"],
		FirmwareVersion: sysinfo["version"],
		PrimaryMac:      normalizeMac(sysinfo["mac address"]),
	}
	info.Neighbors = parseRuckusAPs(out[2])
	return info, nil
}

// parseRuckusAPs reads the member-AP blocks of "show ap all". Each block
// repeats "Key= Value" pairs; a new "MAC Address=" line opens a block.
func parseRuckusAPs(out string) []Neighbor {
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
		sep := strings.IndexByte(line, '=')
		if sep <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		val := strings.TrimSpace(line[sep+1:])
		switch key {
		case "mac address":
			flush()
			cur = &Neighbor{
				Mac:      normalizeMac(val),
				Platform: "Ruckus AP",
				Source:   SourceDiscovery,
			}
		case "ip address":
			if cur != nil {
				cur.IP = val
			}
		case "device name":
			if cur != nil {
				cur.Hostname = val
			}
		case "model":
			if cur != nil && val != "" {
				cur.Platform = "Ruckus " + strings.ToUpper(val)
			}
		}
	}
	flush()
	return neighbors
}
