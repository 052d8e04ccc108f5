package driver

import (
	"context"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// RuckusCLI drives standalone Ruckus access points (rkscli shell). The
// login dialog looks like Unleashed's, so it matches that hint weaker
// and relies on the explicit "rkscli" marker when one is present.
type RuckusCLI struct{}

func (d *RuckusCLI) Name() string { return "rkscli" }

func (d *RuckusCLI) Identify(ident string) int {
	if containsFold(ident, "rkscli") {
		return 90
	}
	if containsFold(ident, "Please login") {
		return 30
	}
	return 0
}

var (
	rkscliLogin    = terminal.Expects(`Please login:\s*$`)
	rkscliPassword = terminal.Expects(`password\s*:\s*$`, `Password:\s*$`)
	rkscliPrompt   = terminal.Expects(`rkscli:\s*$`)
	rkscliPostAuth = terminal.Expects(`rkscli:\s*$`, `Please login:\s*$`)
)

func (d *RuckusCLI) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: rkscliLogin},
		{Send: cred.Username, Expect: rkscliPassword},
		{Send: cred.Password, Expect: rkscliPostAuth, Hidden: true},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}
	if containsFold(out[2], "login incorrect") || containsFold(out[2], "Please login") {
		return nil, terminal.ErrAuthFailed
	}

	steps = []terminal.Step{
		{Send: "get boarddata", Expect: rkscliPrompt},
		{Send: "get version", Expect: rkscliPrompt},
		{Send: "get device-name", Expect: rkscliPrompt},
		{Send: "get ipaddr wan", Expect: rkscliPrompt},
	}
	out, err = sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	board := parseColonPairs(out[0])
	version := parseColonPairs(out[1])
	name := parseColonPairs(out[2])
	addr := parseColonPairs(out[3])

	info := &DeviceInfo{
		Vendor:          "Ruckus",
		Model:           board["model"],
		SerialNumber:    firstOf(board, "serial#", "serial number"),
		FirmwareVersion: firstOf(version, "version", "software version"),
		Hostname:        firstOf(name, "device/system name", "device name"),
		PrimaryMac:      normalizeMac(firstOf(board, "base mac", "mac address")),
	}
	if ip := addr["ip address"]; ip != "" {
		info.Interfaces = []InterfaceInfo{{
			Name: "wan",
			IP:   strings.SplitN(ip, "/", 2)[0],
			Mac:  info.PrimaryMac,
		}}
	}
	return info, nil
}
