package db

import (
	"context"
)

// HostHardware is one inventory row: an address and the hardware address
// last recorded for it.
type HostHardware struct {
	IPAddress  string `db:"ip_address"`
	MACAddress string `db:"mac_address"`
}

const (
	hardwareByIPQuery = `
		SELECT host(ip_address) AS ip_address, mac_address::text AS mac_address
		FROM hosts
		WHERE ip_address = $1::inet AND mac_address IS NOT NULL
		LIMIT 1`

	hardwareAllQuery = `
		SELECT host(ip_address) AS ip_address, mac_address::text AS mac_address
		FROM hosts
		WHERE mac_address IS NOT NULL
		ORDER BY ip_address`
)

// InventoryRepository reads hardware addresses from the hosts table.
type InventoryRepository struct {
	db *DB
}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository(db *DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// HardwareAddress returns the hardware address recorded for ip.
// found is false when the inventory has no entry.
func (r *InventoryRepository) HardwareAddress(ctx context.Context, ip string) (mac string, found bool, err error) {
	var rows []HostHardware
	if err := r.db.SelectContext(ctx, &rows, hardwareByIPQuery, ip); err != nil {
		return "", false, sanitizeDBError("hardware_address", err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].MACAddress, true, nil
}

// HardwareAddresses loads every address with a known hardware address.
func (r *InventoryRepository) HardwareAddresses(ctx context.Context) (map[string]string, error) {
	var rows []HostHardware
	if err := r.db.SelectContext(ctx, &rows, hardwareAllQuery); err != nil {
		return nil, sanitizeDBError("hardware_addresses", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.IPAddress] = row.MACAddress
	}
	return out, nil
}
