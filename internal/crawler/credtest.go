package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"topod/internal/model"
	"topod/internal/storage"
	"topod/internal/terminal"
)

// TestCredential tries one credential pair against one device and, on
// success, performs the same positive-cache and accessibility updates a
// normal crawl would. The fetched device info is returned for display.
func (o *Orchestrator) TestCredential(ctx context.Context, networkID, addr string, cred model.Credential) (*model.Device, error) {
	network, err := o.store.GetNetwork(networkID)
	if err != nil {
		return nil, err
	}

	ident, err := o.probe(ctx, hostPort(addr), o.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	drv, _ := o.registry.Resolve(ident)

	t, err := o.dial(ctx, addr, cred.Username, cred.Password, o.opts.ConnectTimeout)
	if err != nil {
		if terminal.IsAuthFailure(err) {
			if cred.ID != "" {
				// A known device lets the failure land in the negative
				// cache; an unknown one has no MAC to key it by.
				if d, derr := o.deviceByAddress(networkID, addr); derr == nil {
					o.resolver.RecordFailure(d.Mac, cred.ID)
				}
			}
			return nil, terminal.ErrAuthFailed
		}
		return nil, err
	}

	sess := terminal.Open(t, o.opts.CommandTimeout)
	info, ferr := drv.Fetch(ctx, sess, cred)
	sess.Close()
	if errors.Is(ferr, terminal.ErrAuthFailed) {
		return nil, terminal.ErrAuthFailed
	}
	if ferr != nil {
		return nil, fmt.Errorf("login succeeded but fetch failed: %w", ferr)
	}
	if info.PrimaryMac == "" {
		return nil, fmt.Errorf("device at %s reported no MAC address", addr)
	}

	primary, err := o.store.ResolvePrimaryMac(info.PrimaryMac)
	if err != nil {
		primary = info.PrimaryMac
	}
	if cred.ID != "" {
		o.resolver.RecordSuccess(primary, cred.ID)
	}

	d := &model.Device{
		Mac:             primary,
		NetworkID:       network.ID,
		Hostname:        info.Hostname,
		IP:              addr,
		Vendor:          info.Vendor,
		Model:           info.Model,
		SerialNumber:    info.SerialNumber,
		FirmwareVersion: info.FirmwareVersion,
		Accessible:      true,
		DriverName:      drv.Name(),
		LastSeen:        time.Now(),
	}
	if existing, err := o.store.GetDevice(primary); err == nil {
		// Keep the device's topology position; a credential test is not
		// a crawl.
		d.ParentInterfaceID = existing.ParentInterfaceID
		d.UpstreamInterface = existing.UpstreamInterface
	}
	if err := o.store.UpsertDevice(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (o *Orchestrator) deviceByAddress(networkID, addr string) (*model.Device, error) {
	devices, err := o.store.ListDevicesByNetwork(networkID)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].IP == addr {
			return &devices[i], nil
		}
	}
	return nil, storage.ErrDeviceNotFound
}
