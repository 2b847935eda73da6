package annotate

import (
	"context"
)

// HardwareSource is the slice of the inventory repository this package needs.
type HardwareSource interface {
	HardwareAddress(ctx context.Context, ip string) (mac string, found bool, err error)
}

// Inventory annotates addresses with the hardware address recorded in the
// host inventory. Query failures are logged and treated as misses.
type Inventory struct {
	repo HardwareSource
}

// NewInventory wraps repo.
func NewInventory(repo HardwareSource) *Inventory {
	return &Inventory{repo: repo}
}

// Name implements Source.
func (i *Inventory) Name() string { return "inventory" }

// Lookup implements results.Lookup.
func (i *Inventory) Lookup(ctx context.Context, address string) (string, bool) {
	mac, found, err := i.repo.HardwareAddress(ctx, address)
	if err != nil {
		lookupLogger().WarnLookup("Inventory lookup failed", address, err)
		return "", false
	}
	if !found || mac == "" {
		return "", false
	}
	return mac, true
}
