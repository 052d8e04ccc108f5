package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"topod/internal/model"
)

const deviceColumns = `mac, network_id, parent_interface_id, upstream_interface, hostname, ip,
	vendor, model, serial_number, firmware_version, accessible, open_ports,
	driver_name, comment, nomad, previous_network_id, previous_network_name,
	last_seen, created_at, updated_at`

// GetDevice retrieves a device by its primary MAC address
func (ss *SQLiteStorage) GetDevice(mac string) (*model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(
		"SELECT "+deviceColumns+" FROM devices WHERE mac = ?", normalizeMac(mac))

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return d, nil
}

// UpsertDevice inserts or updates a device record. The topology position
// fields are overwritten; comment and nomad flag are preserved on update
// because they are operator-owned.
func (ss *SQLiteStorage) UpsertDevice(d *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	d.Mac = normalizeMac(d.Mac)
	if d.Mac == "" {
		return ErrInvalidID
	}

	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	openPorts, err := json.Marshal(d.OpenPorts)
	if err != nil {
		return fmt.Errorf("encoding open ports: %w", err)
	}

	_, err = ss.db.Exec(`
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			network_id = excluded.network_id,
			parent_interface_id = excluded.parent_interface_id,
			upstream_interface = excluded.upstream_interface,
			hostname = excluded.hostname,
			ip = excluded.ip,
			vendor = excluded.vendor,
			model = excluded.model,
			serial_number = excluded.serial_number,
			firmware_version = excluded.firmware_version,
			accessible = excluded.accessible,
			open_ports = excluded.open_ports,
			driver_name = excluded.driver_name,
			previous_network_id = excluded.previous_network_id,
			previous_network_name = excluded.previous_network_name,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`, d.Mac, d.NetworkID, nullString(d.ParentInterfaceID), nullString(d.UpstreamInterface),
		nullString(d.Hostname), nullString(d.IP), nullString(d.Vendor), nullString(d.Model),
		nullString(d.SerialNumber), nullString(d.FirmwareVersion), boolToInt(d.Accessible),
		string(openPorts), nullString(d.DriverName), nullString(d.Comment), boolToInt(d.Nomad),
		nullString(d.PreviousNetworkID), nullString(d.PreviousNetworkName),
		d.LastSeen, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// ListDevicesByNetwork returns all devices currently positioned in a network
func (ss *SQLiteStorage) ListDevicesByNetwork(networkID string) ([]model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(
		"SELECT "+deviceColumns+" FROM devices WHERE network_id = ? ORDER BY mac", networkID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// SetDeviceComment updates the operator comment on a device
func (ss *SQLiteStorage) SetDeviceComment(mac, comment string) error {
	return ss.updateDeviceField(mac, "comment", nullString(comment))
}

// SetDeviceNomad sets or clears the nomad flag on a device
func (ss *SQLiteStorage) SetDeviceNomad(mac string, nomad bool) error {
	return ss.updateDeviceField(mac, "nomad", boolToInt(nomad))
}

func (ss *SQLiteStorage) updateDeviceField(mac, column string, value interface{}) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec(
		"UPDATE devices SET "+column+" = ?, updated_at = ? WHERE mac = ?",
		value, time.Now(), normalizeMac(mac))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ResolvePrimaryMac maps a secondary MAC to the primary MAC of the
// owning device. Unknown MACs map to themselves.
func (ss *SQLiteStorage) ResolvePrimaryMac(mac string) (string, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	mac = normalizeMac(mac)
	var primary string
	err := ss.db.QueryRow(
		"SELECT device_mac FROM device_macs WHERE mac = ?", mac).Scan(&primary)
	if errors.Is(err, sql.ErrNoRows) {
		return mac, nil
	}
	if err != nil {
		return "", err
	}
	return primary, nil
}

// ReplaceDeviceMacs replaces the secondary MAC set of a device
func (ss *SQLiteStorage) ReplaceDeviceMacs(primaryMac string, macs []string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	primaryMac = normalizeMac(primaryMac)

	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM device_macs WHERE device_mac = ?", primaryMac); err != nil {
		return fmt.Errorf("clearing device macs: %w", err)
	}

	now := time.Now()
	for _, mac := range macs {
		mac = normalizeMac(mac)
		if mac == "" || mac == primaryMac {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO device_macs (mac, device_mac, created_at) VALUES (?, ?, ?)
			ON CONFLICT(mac) DO UPDATE SET device_mac = excluded.device_mac
		`, mac, primaryMac, now)
		if err != nil {
			return fmt.Errorf("inserting device mac: %w", err)
		}
	}

	return tx.Commit()
}

// ReplaceInterfaces replaces all interfaces of a device. Stale interfaces
// from a previous scan are not preserved.
func (ss *SQLiteStorage) ReplaceInterfaces(deviceMac string, ifaces []model.Interface) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	deviceMac = normalizeMac(deviceMac)

	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM interfaces WHERE device_mac = ?", deviceMac); err != nil {
		return fmt.Errorf("clearing interfaces: %w", err)
	}

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.ID == "" {
			iface.ID = generateID("if")
		}
		iface.DeviceMac = deviceMac
		_, err := tx.Exec(`
			INSERT INTO interfaces (id, device_mac, name, ip, mac, bridge, vlan_id,
			                        poe_mode, poe_power_watts, comment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, iface.ID, iface.DeviceMac, iface.Name, nullString(iface.IP),
			nullString(normalizeMac(iface.Mac)), nullString(iface.Bridge), iface.VlanID,
			nullString(iface.PoeMode), iface.PoePowerWatts, nullString(iface.Comment))
		if err != nil {
			return fmt.Errorf("inserting interface: %w", err)
		}
	}

	return tx.Commit()
}

// ListInterfacesByDevice returns the interfaces of one device
func (ss *SQLiteStorage) ListInterfacesByDevice(deviceMac string) ([]model.Interface, error) {
	return ss.listInterfaces(
		"SELECT id, device_mac, name, ip, mac, bridge, vlan_id, poe_mode, poe_power_watts, comment FROM interfaces WHERE device_mac = ? ORDER BY name",
		normalizeMac(deviceMac))
}

// ListInterfacesByNetwork returns all interfaces of devices in a network
func (ss *SQLiteStorage) ListInterfacesByNetwork(networkID string) ([]model.Interface, error) {
	return ss.listInterfaces(`
		SELECT i.id, i.device_mac, i.name, i.ip, i.mac, i.bridge, i.vlan_id, i.poe_mode, i.poe_power_watts, i.comment
		FROM interfaces i
		JOIN devices d ON d.mac = i.device_mac
		WHERE d.network_id = ?
		ORDER BY i.device_mac, i.name
	`, networkID)
}

// GetInterface retrieves one interface by ID
func (ss *SQLiteStorage) GetInterface(id string) (*model.Interface, error) {
	ifaces, err := ss.listInterfaces(
		"SELECT id, device_mac, name, ip, mac, bridge, vlan_id, poe_mode, poe_power_watts, comment FROM interfaces WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, ErrDeviceNotFound
	}
	return &ifaces[0], nil
}

func (ss *SQLiteStorage) listInterfaces(query string, args ...interface{}) ([]model.Interface, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying interfaces: %w", err)
	}
	defer rows.Close()

	var ifaces []model.Interface
	for rows.Next() {
		var iface model.Interface
		var ip, mac, bridge, poeMode, comment sql.NullString
		err := rows.Scan(&iface.ID, &iface.DeviceMac, &iface.Name, &ip, &mac, &bridge,
			&iface.VlanID, &poeMode, &iface.PoePowerWatts, &comment)
		if err != nil {
			return nil, fmt.Errorf("scanning interface: %w", err)
		}
		if ip.Valid {
			iface.IP = ip.String
		}
		if mac.Valid {
			iface.Mac = mac.String
		}
		if bridge.Valid {
			iface.Bridge = bridge.String
		}
		if poeMode.Valid {
			iface.PoeMode = poeMode.String
		}
		if comment.Valid {
			iface.Comment = comment.String
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, rows.Err()
}

func scanDevice(row rowScanner) (*model.Device, error) {
	var d model.Device
	var parentIface, upstream, hostname, ip, vendor, mdl sql.NullString
	var serial, firmware, openPortsJSON, driverName, comment sql.NullString
	var prevNetID, prevNetName sql.NullString
	var accessible, nomad int

	err := row.Scan(&d.Mac, &d.NetworkID, &parentIface, &upstream, &hostname, &ip,
		&vendor, &mdl, &serial, &firmware, &accessible, &openPortsJSON,
		&driverName, &comment, &nomad, &prevNetID, &prevNetName,
		&d.LastSeen, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if parentIface.Valid {
		d.ParentInterfaceID = parentIface.String
	}
	if upstream.Valid {
		d.UpstreamInterface = upstream.String
	}
	if hostname.Valid {
		d.Hostname = hostname.String
	}
	if ip.Valid {
		d.IP = ip.String
	}
	if vendor.Valid {
		d.Vendor = vendor.String
	}
	if mdl.Valid {
		d.Model = mdl.String
	}
	if serial.Valid {
		d.SerialNumber = serial.String
	}
	if firmware.Valid {
		d.FirmwareVersion = firmware.String
	}
	if driverName.Valid {
		d.DriverName = driverName.String
	}
	if comment.Valid {
		d.Comment = comment.String
	}
	if prevNetID.Valid {
		d.PreviousNetworkID = prevNetID.String
	}
	if prevNetName.Valid {
		d.PreviousNetworkName = prevNetName.String
	}
	d.Accessible = accessible != 0
	d.Nomad = nomad != 0

	if openPortsJSON.Valid && openPortsJSON.String != "" {
		json.Unmarshal([]byte(openPortsJSON.String), &d.OpenPorts)
	}

	return &d, nil
}

// normalizeMac uppercases a MAC address and strips surrounding space so
// lookups are stable regardless of the vendor's formatting.
func normalizeMac(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}
