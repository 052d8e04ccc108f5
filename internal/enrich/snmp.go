// Package enrich gathers auxiliary facts about devices the terminal
// drivers cannot log into: SNMP system info, mDNS names and open
// management ports.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// System group OIDs (RFC 1213).
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"
)

// SNMPInfo is the system-group slice of a device that answers SNMP.
type SNMPInfo struct {
	Description string
	ObjectID    string
	Name        string
	Location    string
}

// SNMPClient queries one device for its system group.
type SNMPClient struct {
	Community string
	Timeout   time.Duration
}

// NewSNMPClient returns a client for the given v2c community.
func NewSNMPClient(community string, timeout time.Duration) *SNMPClient {
	if community == "" {
		community = "public"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SNMPClient{Community: community, Timeout: timeout}
}

// SystemInfo fetches the system group from ip via SNMP v2c. Devices
// without SNMP simply time out; the caller treats any error as "no
// enrichment available".
func (c *SNMPClient) SystemInfo(ctx context.Context, ip string) (*SNMPInfo, error) {
	g := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: c.Community,
		Version:   gosnmp.Version2c,
		Timeout:   c.Timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, err
	}
	defer g.Conn.Close()

	pkt, err := g.Get([]string{oidSysDescr, oidSysObjectID, oidSysName, oidSysLocation})
	if err != nil {
		return nil, err
	}

	info := &SNMPInfo{}
	for _, v := range pkt.Variables {
		val := pduString(v)
		switch v.Name {
		case oidSysDescr:
			info.Description = val
		case oidSysObjectID:
			info.ObjectID = val
		case oidSysName:
			info.Name = val
		case oidSysLocation:
			info.Location = val
		}
	}
	return info, nil
}

func pduString(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(val))
	case string:
		return strings.TrimSpace(val)
	default:
		return ""
	}
}
