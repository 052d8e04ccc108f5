package driver

import (
	"testing"
)

const routerosInterfaceOut = `0  R  name=ether1 default-name=ether1 type=ether mtu=1500 mac-address=DC:2C:6E:00:00:01
1  RS name=ether2 default-name=ether2 type=ether mtu=1500 mac-address=DC:2C:6E:00:00:02 comment=uplink-sw-floor1
2  R  name=bridge1 type=bridge mtu=1500 mac-address=DC:2C:6E:00:00:01`

const routerosAddressOut = `0   address=192.168.88.1/24 network=192.168.88.0 interface=bridge1 actual-interface=bridge1
1 D address=10.0.0.2/30 network=10.0.0.0 interface=ether1 actual-interface=ether1`

const routerosPoeOut = `0  name=ether2 poe-out=auto-on poe-priority=10 poe-out-power=6.5W`

const routerosNeighborOut = `0 interface=ether2 address=192.168.88.2 mac-address=DC:2C:6E:11:11:11 identity=sw-floor1 platform=MikroTik board=CRS326-24G-2S+ version=2.16
1 interface=bridge1 address=192.168.88.20 mac-address=78:8A:20:22:22:22 identity=ap-hall platform=UBNT version=4.3.28`

const routerosBridgeHostOut = `0   mac-address=DC:2C:6E:11:11:11 vid=1 on-interface=ether2 bridge=bridge1
1   mac-address=3C:84:6A:33:33:33 vid=1 on-interface=ether3 bridge=bridge1`

const routerosLeaseOut = `0   address=192.168.88.50 mac-address=3C:84:6A:33:33:33 host-name=printer server=defconf status=bound
1   address=192.168.88.51 mac-address=B8:27:EB:44:44:44 comment=heatpump server=defconf status=bound`

func TestRouterosIdentify(t *testing.T) {
	d := &RouterOS{}
	if got := d.Identify("SSH-2.0-ROSSSH"); got < 90 {
		t.Errorf("Identify(ROSSSH) = %d, want >= 90", got)
	}
	if got := d.Identify("SSH-2.0-OpenSSH_8.9"); got != 0 {
		t.Errorf("Identify(OpenSSH) = %d, want 0", got)
	}
}

func TestParseRouterosInterfaces(t *testing.T) {
	ifaces := parseRouterosInterfaces(routerosInterfaceOut, routerosAddressOut, routerosPoeOut)
	if len(ifaces) != 3 {
		t.Fatalf("got %d interfaces, want 3", len(ifaces))
	}

	ether1 := ifaces[0]
	if ether1.Name != "ether1" || ether1.Mac != "DC:2C:6E:00:00:01" {
		t.Errorf("ether1 = %+v", ether1)
	}
	if ether1.IP != "10.0.0.2" {
		t.Errorf("ether1.IP = %q, want stripped prefix length", ether1.IP)
	}

	ether2 := ifaces[1]
	if ether2.Comment != "uplink-sw-floor1" {
		t.Errorf("ether2.Comment = %q", ether2.Comment)
	}
	if ether2.PoeMode != "auto-on" || ether2.PoePowerWatts != 6.5 {
		t.Errorf("ether2 poe = %q/%v", ether2.PoeMode, ether2.PoePowerWatts)
	}

	if ifaces[2].IP != "192.168.88.1" {
		t.Errorf("bridge1.IP = %q", ifaces[2].IP)
	}
}

func TestParseRouterosNeighbors(t *testing.T) {
	neighbors := parseRouterosNeighbors(routerosNeighborOut, routerosBridgeHostOut)
	if len(neighbors) != 3 {
		t.Fatalf("got %d neighbors, want 3", len(neighbors))
	}

	sw := neighbors[0]
	if sw.Mac != "DC:2C:6E:11:11:11" || sw.Hostname != "sw-floor1" {
		t.Errorf("discovery neighbor = %+v", sw)
	}
	if sw.Source != SourceDiscovery || sw.LocalInterface != "ether2" {
		t.Errorf("discovery neighbor source/iface = %q/%q", sw.Source, sw.LocalInterface)
	}
	if sw.Platform != "MikroTik" {
		t.Errorf("Platform = %q", sw.Platform)
	}

	// The bridge host table repeats sw-floor1's MAC; the discovery entry
	// must win and the MAC must not appear twice.
	seen := map[string]int{}
	for _, n := range neighbors {
		seen[n.Mac]++
	}
	if seen["DC:2C:6E:11:11:11"] != 1 {
		t.Errorf("duplicate MAC across sources: %v", seen)
	}

	host := neighbors[2]
	if host.Mac != "3C:84:6A:33:33:33" || host.Source != SourceBridgeTable {
		t.Errorf("bridge host neighbor = %+v", host)
	}
	if host.LocalInterface != "ether3" {
		t.Errorf("bridge host iface = %q", host.LocalInterface)
	}
}

func TestParseRouterosLeases(t *testing.T) {
	leases := parseRouterosLeases(routerosLeaseOut)
	if len(leases) != 2 {
		t.Fatalf("got %d leases, want 2", len(leases))
	}
	if leases[0].Hostname != "printer" || leases[0].IP != "192.168.88.50" {
		t.Errorf("lease 0 = %+v", leases[0])
	}
	if leases[1].Comment != "heatpump" {
		t.Errorf("lease 1 = %+v", leases[1])
	}
}

func TestParseRouterosDefaultRoute(t *testing.T) {
	out := `0  As dst-address=0.0.0.0/0 routing-table=main gateway=10.0.0.1 immediate-gw=10.0.0.1%ether1 distance=1 scope=30 target-scope=10`
	if got := parseRouterosDefaultRoute(out); got != "ether1" {
		t.Errorf("parseRouterosDefaultRoute = %q, want ether1", got)
	}
	if got := parseRouterosDefaultRoute("no such item"); got != "" {
		t.Errorf("parseRouterosDefaultRoute on garbage = %q", got)
	}
}
