// Package topology assembles the stored device records of a network
// into the attachment tree the records encode.
package topology

import (
	"sort"

	"topod/internal/model"
)

// Node is one device in the tree plus the interfaces it owns and the
// devices attached below it.
type Node struct {
	Device     model.Device      `json:"device"`
	Interfaces []model.Interface `json:"interfaces,omitempty"`
	// ViaInterface is the parent's interface this device hangs off,
	// when known.
	ViaInterface *model.Interface `json:"via_interface,omitempty"`
	Children     []*Node          `json:"children,omitempty"`
}

// Tree is the assembled topology of one network. Orphans are devices
// whose recorded parent interface no longer exists; they are kept at
// the top level next to the roots rather than silently dropped.
type Tree struct {
	Roots   []*Node `json:"roots"`
	Orphans []*Node `json:"orphans,omitempty"`
}

// Build assembles a tree from flat device and interface records. A
// device with no parent interface is a root. Attachment cycles can only
// come from corrupted records; each is broken at an arbitrary member,
// which becomes an orphan.
func Build(devices []model.Device, ifaces []model.Interface) *Tree {
	nodes := make(map[string]*Node, len(devices))
	for i := range devices {
		nodes[devices[i].Mac] = &Node{Device: devices[i]}
	}

	ifaceByID := make(map[string]*model.Interface, len(ifaces))
	for i := range ifaces {
		iface := &ifaces[i]
		ifaceByID[iface.ID] = iface
		if owner, ok := nodes[iface.DeviceMac]; ok {
			owner.Interfaces = append(owner.Interfaces, *iface)
		}
	}

	tree := &Tree{}
	parents := make(map[*Node]*Node, len(nodes))
	for _, node := range nodes {
		parentIfaceID := node.Device.ParentInterfaceID
		if parentIfaceID == "" {
			tree.Roots = append(tree.Roots, node)
			continue
		}
		iface, ok := ifaceByID[parentIfaceID]
		if !ok {
			tree.Orphans = append(tree.Orphans, node)
			continue
		}
		parent, ok := nodes[iface.DeviceMac]
		if !ok || parent == node {
			tree.Orphans = append(tree.Orphans, node)
			continue
		}
		node.ViaInterface = iface
		parents[node] = parent
		parent.Children = append(parent.Children, node)
	}

	// Break cycles: anything with a parent but unreachable from a root
	// or orphan sits on a loop of parent links.
	reached := make(map[*Node]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		if reached[n] {
			return
		}
		reached[n] = true
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range tree.Roots {
		walk(r)
	}
	for _, o := range tree.Orphans {
		walk(o)
	}
	for _, mac := range sortedMacs(nodes) {
		node := nodes[mac]
		if reached[node] {
			continue
		}
		removeChild(parents[node], node)
		node.ViaInterface = nil
		tree.Orphans = append(tree.Orphans, node)
		walk(node)
	}

	sortNodes(tree.Roots)
	sortNodes(tree.Orphans)
	for _, node := range nodes {
		sortNodes(node.Children)
		sort.Slice(node.Interfaces, func(i, j int) bool {
			return node.Interfaces[i].Name < node.Interfaces[j].Name
		})
	}
	return tree
}

func sortedMacs(nodes map[string]*Node) []string {
	macs := make([]string, 0, len(nodes))
	for mac := range nodes {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

func removeChild(parent, child *Node) {
	if parent == nil {
		return
	}
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Device, nodes[j].Device
		if a.Hostname != b.Hostname {
			return a.Hostname < b.Hostname
		}
		return a.Mac < b.Mac
	})
}

// DeviceCount reports the number of devices in the tree.
func (t *Tree) DeviceCount() int {
	n := 0
	var walk func(*Node)
	walk = func(node *Node) {
		n++
		for _, c := range node.Children {
			walk(c)
		}
	}
	for _, r := range t.Roots {
		walk(r)
	}
	for _, o := range t.Orphans {
		walk(o)
	}
	return n
}

// Find returns the node for a MAC, or nil.
func (t *Tree) Find(mac string) *Node {
	var found *Node
	var walk func(*Node)
	walk = func(node *Node) {
		if found != nil {
			return
		}
		if node.Device.Mac == mac {
			found = node
			return
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	for _, r := range t.Roots {
		walk(r)
	}
	for _, o := range t.Orphans {
		walk(o)
	}
	return found
}
