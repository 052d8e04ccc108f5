package topology

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"topod/internal/model"
)

func dev(mac, hostname, parentIfaceID string) model.Device {
	return model.Device{Mac: mac, NetworkID: "net-1", Hostname: hostname, ParentInterfaceID: parentIfaceID}
}

func iface(id, deviceMac, name string) model.Interface {
	return model.Interface{ID: id, DeviceMac: deviceMac, Name: name}
}

func TestBuildSimpleTree(t *testing.T) {
	// root -- ether2 --> switch -- ge5 --> printer
	//      \_ ether3 --> ap
	devices := []model.Device{
		dev("AA:00:00:00:00:01", "gw", ""),
		dev("AA:00:00:00:00:02", "sw-floor1", "if-gw-e2"),
		dev("AA:00:00:00:00:03", "printer", "if-sw-ge5"),
		dev("AA:00:00:00:00:04", "ap-hall", "if-gw-e3"),
	}
	ifaces := []model.Interface{
		iface("if-gw-e2", "AA:00:00:00:00:01", "ether2"),
		iface("if-gw-e3", "AA:00:00:00:00:01", "ether3"),
		iface("if-sw-ge5", "AA:00:00:00:00:02", "ge5"),
	}

	tree := Build(devices, ifaces)
	if len(tree.Roots) != 1 || len(tree.Orphans) != 0 {
		t.Fatalf("roots=%d orphans=%d", len(tree.Roots), len(tree.Orphans))
	}
	root := tree.Roots[0]
	if root.Device.Hostname != "gw" || len(root.Children) != 2 {
		t.Fatalf("root = %s with %d children", root.Device.Hostname, len(root.Children))
	}
	// children sorted by hostname
	if root.Children[0].Device.Hostname != "ap-hall" || root.Children[1].Device.Hostname != "sw-floor1" {
		t.Errorf("child order: %s, %s", root.Children[0].Device.Hostname, root.Children[1].Device.Hostname)
	}

	sw := root.Children[1]
	if sw.ViaInterface == nil || sw.ViaInterface.Name != "ether2" {
		t.Errorf("switch ViaInterface = %+v", sw.ViaInterface)
	}
	if len(sw.Children) != 1 || sw.Children[0].Device.Hostname != "printer" {
		t.Errorf("switch children = %+v", sw.Children)
	}
	if tree.DeviceCount() != 4 {
		t.Errorf("DeviceCount = %d", tree.DeviceCount())
	}
}

func TestBuildOrphanOnMissingInterface(t *testing.T) {
	devices := []model.Device{
		dev("AA:00:00:00:00:01", "gw", ""),
		dev("AA:00:00:00:00:02", "lost", "if-gone"),
	}
	tree := Build(devices, nil)
	if len(tree.Roots) != 1 || len(tree.Orphans) != 1 {
		t.Fatalf("roots=%d orphans=%d", len(tree.Roots), len(tree.Orphans))
	}
	if tree.Orphans[0].Device.Hostname != "lost" {
		t.Errorf("orphan = %s", tree.Orphans[0].Device.Hostname)
	}
}

func TestBuildBreaksCycle(t *testing.T) {
	// a and b claim each other as parent.
	devices := []model.Device{
		dev("AA:00:00:00:00:01", "gw", ""),
		dev("AA:00:00:00:00:02", "a", "if-b"),
		dev("AA:00:00:00:00:03", "b", "if-a"),
	}
	ifaces := []model.Interface{
		iface("if-a", "AA:00:00:00:00:02", "eth0"),
		iface("if-b", "AA:00:00:00:00:03", "eth0"),
	}
	tree := Build(devices, ifaces)
	if got := tree.DeviceCount(); got != 3 {
		t.Fatalf("DeviceCount = %d, want 3 (cycle members kept)", got)
	}
	if len(tree.Orphans) != 1 {
		t.Errorf("orphans = %d, want 1 cycle entry point", len(tree.Orphans))
	}
}

func TestFind(t *testing.T) {
	devices := []model.Device{
		dev("AA:00:00:00:00:01", "gw", ""),
		dev("AA:00:00:00:00:02", "sw", "if-gw-e2"),
	}
	ifaces := []model.Interface{iface("if-gw-e2", "AA:00:00:00:00:01", "ether2")}
	tree := Build(devices, ifaces)

	if n := tree.Find("AA:00:00:00:00:02"); n == nil || n.Device.Hostname != "sw" {
		t.Errorf("Find = %+v", n)
	}
	if n := tree.Find("FF:FF:FF:FF:FF:FF"); n != nil {
		t.Errorf("Find(unknown) = %+v, want nil", n)
	}
}

// Every device appears in the tree exactly once, no matter how the
// parent links are wired.
func TestBuildPlacesEveryDeviceOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "devices")

		var devices []model.Device
		var ifaces []model.Interface
		for i := 0; i < n; i++ {
			mac := fmt.Sprintf("AA:00:00:00:00:%02X", i)
			ifaces = append(ifaces, iface(fmt.Sprintf("if-%d", i), mac, "eth0"))
			devices = append(devices, dev(mac, fmt.Sprintf("host-%d", i), ""))
		}
		for i := range devices {
			// parent interface: none, a real one (possibly forming a
			// cycle or self-loop), or a dangling ID
			switch rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("link-%d", i)) {
			case 0:
				// root
			case 1, 2:
				j := rapid.IntRange(0, n-1).Draw(t, fmt.Sprintf("parent-%d", i))
				devices[i].ParentInterfaceID = fmt.Sprintf("if-%d", j)
			case 3:
				devices[i].ParentInterfaceID = "if-dangling"
			}
		}

		tree := Build(devices, ifaces)

		if got := tree.DeviceCount(); got != n {
			t.Fatalf("DeviceCount = %d, want %d", got, n)
		}
		seen := map[string]int{}
		var walk func(*Node)
		walk = func(node *Node) {
			seen[node.Device.Mac]++
			for _, c := range node.Children {
				walk(c)
			}
		}
		for _, r := range tree.Roots {
			walk(r)
		}
		for _, o := range tree.Orphans {
			walk(o)
		}
		for mac, count := range seen {
			if count != 1 {
				t.Fatalf("device %s appears %d times", mac, count)
			}
		}
	})
}
