package driver

import (
	"context"
	"strings"

	"topod/internal/model"
	"topod/internal/terminal"
)

// Generic is the last-resort driver for unrecognized shells. It assumes
// a roughly POSIX environment and settles for a hostname and whatever
// else happens to work; commands that fail just yield empty fields.
type Generic struct{}

func (d *Generic) Name() string { return "generic" }

// Identify always matches at the floor so Resolve never comes up empty.
func (d *Generic) Identify(ident string) int { return 1 }

var genericPrompt = terminal.Expects(`[$#>%]\s*$`)

func (d *Generic) Fetch(ctx context.Context, sess *terminal.Session, cred model.Credential) (*DeviceInfo, error) {
	steps := []terminal.Step{
		{Expect: genericPrompt},
		{Send: "hostname", Expect: genericPrompt},
		{Send: "uname -a", Expect: genericPrompt},
	}
	out, err := sess.Run(ctx, steps, sess.Budget(len(steps)))
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{}
	if h := strings.TrimSpace(out[1]); h != "" && !strings.ContainsAny(h, " \t") {
		info.Hostname = h
	}
	if fields := strings.Fields(out[2]); len(fields) >= 3 && fields[0] != "" {
		// "Linux host 5.15.0 ..." -> OS name and kernel as a best-effort
		// firmware identifier
		info.FirmwareVersion = fields[0] + " " + fields[2]
		if info.Hostname == "" {
			info.Hostname = fields[1]
		}
	}
	return info, nil
}
