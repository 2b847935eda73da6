package annotate

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Static is an immutable in-memory address table.
type Static struct {
	entries map[string]string
}

// NewStatic copies entries into a Static source. Annotations are normalized.
func NewStatic(entries map[string]string) *Static {
	s := &Static{entries: make(map[string]string, len(entries))}
	for address, annotation := range entries {
		s.entries[address] = Normalize(annotation)
	}
	return s
}

// LoadStatic reads a YAML mapping of IPv4 address to annotation, e.g.
//
//	192.168.1.20: "AA-BB-CC-00-11-22"
//	192.168.1.31: lobby camera
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup file: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lookup file: %w", err)
	}

	for address := range raw {
		addr, err := netip.ParseAddr(address)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("lookup file %s: %q is not an IPv4 address", path, address)
		}
	}
	return NewStatic(raw), nil
}

// Name implements Source.
func (s *Static) Name() string { return "file" }

// Lookup implements results.Lookup.
func (s *Static) Lookup(_ context.Context, address string) (string, bool) {
	annotation, ok := s.entries[address]
	return annotation, ok
}

// Len returns the number of entries.
func (s *Static) Len() int { return len(s.entries) }
