package annotate

import (
	"fmt"

	"github.com/anstrom/certsweep/internal/config"
)

// FromConfig assembles a chain in fixed precedence: file, inventory, reverse
// DNS. inventory is only consulted when cfg.Inventory is set and may be nil
// otherwise.
func FromConfig(cfg config.LookupConfig, inventory HardwareSource, recorder Recorder) (*Chain, error) {
	var sources []Source

	if cfg.File != "" {
		static, err := LoadStatic(cfg.File)
		if err != nil {
			return nil, err
		}
		lookupLogger().Info("Loaded lookup file", "path", cfg.File, "entries", static.Len())
		sources = append(sources, static)
	}

	if cfg.Inventory {
		if inventory == nil {
			return nil, fmt.Errorf("inventory lookup enabled but no database is configured")
		}
		sources = append(sources, NewInventory(inventory))
	}

	if cfg.ReverseDNS {
		resolver, err := NewReverseDNS(cfg.DNSServer, cfg.DNSTimeout)
		if err != nil {
			return nil, err
		}
		lookupLogger().Info("Reverse DNS lookups enabled", "server", resolver.Server())
		sources = append(sources, resolver)
	}

	return NewChain(recorder, sources...), nil
}
