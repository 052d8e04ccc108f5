package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"topod/internal/driver"
	"topod/internal/events"
	"topod/internal/log"
	"topod/internal/model"
	"topod/internal/storage"
	"topod/internal/terminal"
)

// hostPort defaults a bare address to the SSH port.
func hostPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "22")
	}
	return addr
}

func (o *Orchestrator) runScan(ctx context.Context, r *run) {
	defer func() {
		o.mu.Lock()
		delete(o.running, r.network.ID)
		o.mu.Unlock()
	}()

	o.logf(r, model.ScanLogInfo, "scan started: network %q root %s", r.network.Name, r.network.RootAddress)
	o.publishStatus(r, model.ScanStatusRunning, "")

	done := make(chan struct{})
	defer close(done)

	// mDNS sweep runs alongside the crawl; names resolve by IP later.
	go func() {
		for ip, name := range o.mdns(ctx, o.opts.MDNSWindow) {
			r.mdnsMu.Lock()
			r.mdnsNames[ip] = name
			r.mdnsMu.Unlock()
		}
	}()

	// Periodic in-flight summaries for observers.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.hub.Publish(events.Event{
					Type:      events.TypeChannels,
					NetworkID: r.network.ID,
					ScanID:    r.scan.ID,
					Channels:  r.inflightSummary(),
				})
			case <-done:
				return
			}
		}
	}()

	r.wg.Add(1)
	r.items <- workItem{IP: r.network.RootAddress}
	go func() {
		r.wg.Wait()
		close(r.items)
	}()

	var workers sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range r.items {
				if !r.isStopped() {
					o.process(ctx, r, item)
				}
				r.wg.Done()
			}
		}()
	}
	workers.Wait()

	o.finishScan(r)
}

func (o *Orchestrator) finishScan(r *run) {
	r.mu.Lock()
	count := r.count
	rootUp := r.rootUp
	rootErr := r.rootErr
	r.mu.Unlock()

	status := model.ScanStatusCompleted
	errMsg := ""
	switch {
	case r.isStopped():
		status = model.ScanStatusStopped
	case !rootUp:
		status = model.ScanStatusFailed
		errMsg = rootErr
		if errMsg == "" {
			errMsg = "root device unreachable: " + r.network.RootAddress
		}
	}

	now := time.Now()
	r.scan.Status = status
	r.scan.CompletedAt = &now
	r.scan.DeviceCount = count
	r.scan.ErrorMessage = errMsg
	if err := o.store.UpdateScan(r.scan); err != nil {
		log.Error("scan record update failed", "scan", r.scan.ID, "error", err)
	}
	if err := o.store.UpdateNetworkScanSummary(r.network.ID, now, count, rootUp); err != nil {
		log.Error("network summary update failed", "network", r.network.ID, "error", err)
	}

	o.publishTopology(r)
	if errMsg != "" {
		o.logf(r, model.ScanLogError, "scan %s: %s", status, errMsg)
	} else {
		o.logf(r, model.ScanLogInfo, "scan %s: %d devices", status, count)
	}
	o.publishStatus(r, status, errMsg)
}

// process runs full discovery for one work item. Per-device failures
// are logged and recorded on the device itself; they never abort the
// scan.
func (o *Orchestrator) process(ctx context.Context, r *run, item workItem) {
	isRoot := item.Mac == "" && item.ParentInterfaceID == ""
	addr := item.IP

	if addr == "" {
		// A neighbor seen only in a bridge table has no address to
		// connect to; record what passive sources know.
		o.persistInaccessible(ctx, r, item, "no address")
		return
	}

	r.setInflight(addr, "probing")
	defer r.setInflight(addr, "")

	ident, probeErr := o.probe(ctx, hostPort(addr), o.opts.ConnectTimeout)
	if item.PlatformHint != "" {
		ident += "\nplatform: " + item.PlatformHint
	}

	drv, confidence := o.registry.Resolve(ident)
	if drv == nil {
		drv, confidence = o.registry.Resolve("unknown")
	}
	o.logf(r, model.ScanLogDebug, "%s: driver %s (confidence %d)", addr, drv.Name(), confidence)

	// Web-only devices are fetched over HTTP and need no SSH greeting.
	if hf, ok := drv.(driver.HTTPFetcher); ok {
		o.processHTTP(ctx, r, item, drv.Name(), hf, isRoot)
		return
	}

	if probeErr != nil {
		if isRoot {
			o.logf(r, model.ScanLogError, "root %s unreachable: %v", addr, probeErr)
			r.setRootErr(fmt.Sprintf("root device unreachable: %v", probeErr))
			return
		}
		o.persistInaccessible(ctx, r, item, probeErr.Error())
		return
	}

	candidates, err := o.resolver.CandidatesFor(r.network, item.Mac)
	if err != nil {
		o.logf(r, model.ScanLogError, "%s: credential lookup failed: %v", addr, err)
		if isRoot {
			r.setRootErr(fmt.Sprintf("credential lookup failed: %v", err))
			return
		}
		o.persistInaccessible(ctx, r, item, "credential lookup failed")
		return
	}
	if len(candidates) == 0 {
		if isRoot {
			r.setRootErr("no credentials to try against the root device")
			return
		}
		o.persistInaccessible(ctx, r, item, "no credentials to try")
		return
	}

	for _, cred := range candidates {
		if r.isStopped() && !isRoot {
			return
		}
		r.setInflight(addr, "logging in as "+cred.Username)

		t, err := o.dial(ctx, addr, cred.Username, cred.Password, o.opts.ConnectTimeout)
		if terminal.IsAuthFailure(err) {
			o.recordFailure(r, item.Mac, cred)
			continue
		}
		if err != nil {
			o.logf(r, model.ScanLogWarn, "%s: connect failed: %v", addr, err)
			if isRoot {
				r.setRootErr(fmt.Sprintf("root connect failed: %v", err))
				return
			}
			o.persistInaccessible(ctx, r, item, err.Error())
			return
		}

		r.setInflight(addr, "fetching via "+drv.Name())
		sess := terminal.Open(t, o.opts.CommandTimeout)
		info, ferr := drv.Fetch(ctx, sess, cred)
		sess.Close()

		if errors.Is(ferr, terminal.ErrAuthFailed) {
			// Shell-level login rejected the credential even though the
			// transport accepted it.
			o.recordFailure(r, item.Mac, cred)
			continue
		}
		if ferr != nil {
			o.logf(r, model.ScanLogWarn, "%s: fetch failed with %s: %v", addr, drv.Name(), ferr)
			if isRoot {
				r.setRootErr(fmt.Sprintf("root fetch failed: %v", ferr))
				return
			}
			o.persistInaccessible(ctx, r, item, ferr.Error())
			return
		}

		if cred.ID != "" {
			mac := info.PrimaryMac
			if mac == "" {
				mac = item.Mac
			}
			if mac != "" {
				o.resolver.RecordSuccess(mac, cred.ID)
			}
		}
		o.persistDevice(ctx, r, item, drv.Name(), info, isRoot)
		return
	}

	o.logf(r, model.ScanLogWarn, "%s: all credentials rejected", addr)
	if isRoot {
		r.setRootErr("root device rejected all credentials")
		return
	}
	o.persistInaccessible(ctx, r, item, "authentication failed")
}

func (o *Orchestrator) processHTTP(ctx context.Context, r *run, item workItem, drvName string, hf driver.HTTPFetcher, isRoot bool) {
	candidates, err := o.resolver.CandidatesFor(r.network, item.Mac)
	if err != nil || len(candidates) == 0 {
		candidates = []model.Credential{{}}
	}
	for _, cred := range candidates {
		info, ferr := hf.FetchHTTP(ctx, item.IP, cred)
		if errors.Is(ferr, terminal.ErrAuthFailed) {
			o.recordFailure(r, item.Mac, cred)
			continue
		}
		if ferr != nil {
			break
		}
		if cred.ID != "" && item.Mac != "" {
			o.resolver.RecordSuccess(item.Mac, cred.ID)
		}
		o.persistDevice(ctx, r, item, drvName, info, isRoot)
		return
	}
	if isRoot {
		r.setRootErr("root web fetch failed")
		return
	}
	o.persistInaccessible(ctx, r, item, "web fetch failed")
}

func (o *Orchestrator) recordFailure(r *run, mac string, cred model.Credential) {
	if cred.ID == "" || mac == "" {
		return
	}
	o.resolver.RecordFailure(mac, cred.ID)
}

// persistDevice stores a fully-fetched device, its interfaces and
// secondary MACs, then queues its neighbors.
func (o *Orchestrator) persistDevice(ctx context.Context, r *run, item workItem, drvName string, info *driver.DeviceInfo, isRoot bool) {
	mac := info.PrimaryMac
	if mac == "" {
		mac = item.Mac
	}
	if mac == "" {
		o.logf(r, model.ScanLogWarn, "%s: fetched but no MAC reported, cannot persist", item.IP)
		return
	}

	primary, err := o.store.ResolvePrimaryMac(mac)
	if err != nil {
		o.logf(r, model.ScanLogError, "%s: mac resolution failed: %v", item.IP, err)
		return
	}
	if isRoot {
		r.markVisited(primary, "")
	}

	hostname := info.Hostname
	if hostname == "" {
		hostname = item.HostnameHint
	}

	d := &model.Device{
		Mac:               primary,
		NetworkID:         r.network.ID,
		ParentInterfaceID: item.ParentInterfaceID,
		UpstreamInterface: info.UpstreamInterface,
		Hostname:          hostname,
		IP:                item.IP,
		Vendor:            info.Vendor,
		Model:             info.Model,
		SerialNumber:      info.SerialNumber,
		FirmwareVersion:   info.FirmwareVersion,
		Accessible:        true,
		DriverName:        drvName,
		LastSeen:          time.Now(),
	}
	o.applyMoveStamp(r, d, primary)

	if err := o.store.UpsertDevice(d); err != nil {
		o.logf(r, model.ScanLogError, "%s: persist failed: %v", item.IP, err)
		return
	}

	ifaces := make([]model.Interface, 0, len(info.Interfaces))
	for _, ii := range info.Interfaces {
		ifaces = append(ifaces, model.Interface{
			DeviceMac:     primary,
			Name:          ii.Name,
			IP:            ii.IP,
			Mac:           ii.Mac,
			Bridge:        ii.Bridge,
			VlanID:        ii.VlanID,
			PoeMode:       ii.PoeMode,
			PoePowerWatts: ii.PoePowerWatts,
			Comment:       ii.Comment,
		})
	}
	if len(ifaces) == 0 && len(info.Neighbors) > 0 {
		// Some dialects report bridge hosts or member APs without an
		// interface inventory; the neighbors still need a port to
		// attach to.
		ifaces = append(ifaces, model.Interface{DeviceMac: primary, Name: "bridge"})
	}
	if err := o.store.ReplaceInterfaces(primary, ifaces); err != nil {
		o.logf(r, model.ScanLogError, "%s: interface persist failed: %v", item.IP, err)
	}

	macs := []string{primary}
	for _, ii := range ifaces {
		if ii.Mac != "" && ii.Mac != primary {
			macs = append(macs, ii.Mac)
		}
	}
	if err := o.store.ReplaceDeviceMacs(primary, macs); err != nil {
		o.logf(r, model.ScanLogError, "%s: mac alias persist failed: %v", item.IP, err)
	}

	if isRoot {
		r.mu.Lock()
		r.rootUp = true
		r.mu.Unlock()
		if len(info.Leases) > 0 {
			leases := make([]model.DhcpLease, 0, len(info.Leases))
			now := time.Now()
			for _, l := range info.Leases {
				leases = append(leases, model.DhcpLease{
					NetworkID: r.network.ID,
					Mac:       l.Mac,
					IP:        l.IP,
					Hostname:  l.Hostname,
					Comment:   l.Comment,
					SeenAt:    now,
				})
			}
			if err := o.store.ReplaceDhcpLeases(r.network.ID, leases); err != nil {
				o.logf(r, model.ScanLogError, "dhcp lease persist failed: %v", err)
			}
		}
	}

	r.mu.Lock()
	r.count++
	r.mu.Unlock()

	o.logf(r, model.ScanLogInfo, "discovered %s (%s, %s) with %d interfaces, %d neighbors",
		hostname, primary, drvName, len(ifaces), len(info.Neighbors))
	o.publishTopology(r)

	o.enqueueNeighbors(r, primary, ifaces, info.Neighbors)
}

// enqueueNeighbors claims each reported neighbor in the visited set and
// queues the winners. A MAC claimed earlier stays attached where it was
// first discovered.
func (o *Orchestrator) enqueueNeighbors(r *run, parentMac string, ifaces []model.Interface, neighbors []driver.Neighbor) {
	ifaceByName := make(map[string]string, len(ifaces))
	firstIfaceID := ""
	for _, ii := range ifaces {
		if firstIfaceID == "" {
			firstIfaceID = ii.ID
		}
		ifaceByName[ii.Name] = ii.ID
	}

	for _, n := range neighbors {
		if n.Mac == "" {
			continue
		}
		primary, err := o.store.ResolvePrimaryMac(n.Mac)
		if err != nil {
			primary = n.Mac
		}
		if primary == parentMac {
			continue // a device's own secondary MAC is not a neighbor
		}

		parentIfaceID := ifaceByName[n.LocalInterface]
		if parentIfaceID == "" {
			// Discovery named a port we did not see in the interface
			// table; anchor under the first interface rather than
			// faking a second root.
			parentIfaceID = firstIfaceID
		}
		if parentIfaceID == "" {
			continue
		}

		if !r.markVisited(primary, parentIfaceID) {
			continue // first discovery won, do not re-crawl
		}

		item := workItem{
			Mac:               primary,
			IP:                n.IP,
			ParentInterfaceID: parentIfaceID,
			HostnameHint:      n.Hostname,
			PlatformHint:      n.Platform,
			Source:            n.Source,
		}
		r.wg.Add(1)
		select {
		case r.items <- item:
		default:
			// Queue full; hand off without blocking the worker.
			go func() { r.items <- item }()
		}
	}
}

// persistInaccessible records a device that could not be logged into,
// filled in from passive sources: the root's DHCP table, mDNS names,
// SNMP system info and an open-port probe.
func (o *Orchestrator) persistInaccessible(ctx context.Context, r *run, item workItem, reason string) {
	if item.Mac == "" {
		o.logf(r, model.ScanLogWarn, "%s: unreachable and unidentified (%s), skipping", item.IP, reason)
		return
	}

	primary, err := o.store.ResolvePrimaryMac(item.Mac)
	if err != nil {
		primary = item.Mac
	}

	hostname := item.HostnameHint
	ip := item.IP
	vendor := ""

	if lease, err := o.store.FindDhcpLease(r.network.ID, primary); err == nil {
		if hostname == "" {
			hostname = lease.Hostname
		}
		if ip == "" {
			ip = lease.IP
		}
	}

	var openPorts []int
	if ip != "" {
		r.setInflight(ip, "probing passively")
		defer r.setInflight(ip, "")

		r.mdnsMu.Lock()
		mdnsName, ok := r.mdnsNames[ip]
		r.mdnsMu.Unlock()
		if ok && hostname == "" {
			hostname = mdnsName.Hostname
		}

		if sysInfo, err := o.snmp(ctx, ip); err == nil {
			if hostname == "" {
				hostname = sysInfo.Name
			}
			if vendor == "" {
				vendor = sysInfo.Description
			}
		}

		openPorts = o.portProbe(ctx, ip)
	}

	d := &model.Device{
		Mac:               primary,
		NetworkID:         r.network.ID,
		ParentInterfaceID: item.ParentInterfaceID,
		Hostname:          hostname,
		IP:                ip,
		Vendor:            vendor,
		Accessible:        false,
		OpenPorts:         openPorts,
		LastSeen:          time.Now(),
	}
	o.applyMoveStamp(r, d, primary)

	if err := o.store.UpsertDevice(d); err != nil {
		o.logf(r, model.ScanLogError, "%s: persist failed: %v", primary, err)
		return
	}

	r.mu.Lock()
	r.count++
	r.mu.Unlock()

	o.logf(r, model.ScanLogWarn, "%s (%s) recorded as inaccessible: %s", primary, ip, reason)
	o.publishTopology(r)
}

// applyMoveStamp marks a device that last belonged to a different
// network, unless it is a nomad. Metadata only; never blocks persistence.
func (o *Orchestrator) applyMoveStamp(r *run, d *model.Device, primary string) {
	existing, err := o.store.GetDevice(primary)
	if err != nil {
		if !errors.Is(err, storage.ErrDeviceNotFound) {
			log.Warn("move check failed", "mac", primary, "error", err)
		}
		return
	}
	if existing.Nomad || existing.NetworkID == "" || existing.NetworkID == r.network.ID {
		return
	}
	d.PreviousNetworkID = existing.NetworkID
	d.PreviousNetworkName = existing.NetworkID
	if prev, err := o.store.GetNetwork(existing.NetworkID); err == nil {
		d.PreviousNetworkName = prev.Name
	}
	o.logf(r, model.ScanLogWarn, "device %s moved from network %q", primary, d.PreviousNetworkName)
}
