// Package results turns classified hits into display rows: optional
// annotation, numeric address ordering and free-text filtering.
package results

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/certsweep/internal/sweep"
)

// Lookup maps an address to an opaque display annotation. Absent entries
// report false and the row is shown without one.
type Lookup interface {
	Lookup(ctx context.Context, address string) (string, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, address string) (string, bool)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, address string) (string, bool) {
	return f(ctx, address)
}

// Order is the display order of rows.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder accepts "asc" and "desc" in any case. Anything else, including
// the empty string, is ascending.
func ParseOrder(raw string) Order {
	if strings.EqualFold(strings.TrimSpace(raw), string(Descending)) {
		return Descending
	}
	return Ascending
}

// EnrichedResult is a classified hit ready for display.
type EnrichedResult struct {
	Address    string    `json:"address"`
	Port       int       `json:"port"`
	Classified bool      `json:"classified"`
	Reason     string    `json:"reason,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
	SortKey    uint32    `json:"sort_key"`
	URL        string    `json:"url"`
	FoundAt    time.Time `json:"found_at"`
}

// Display renders "address (annotation)", or the bare address when there is
// no annotation.
func (r EnrichedResult) Display() string {
	if r.Annotation == "" {
		return r.Address
	}
	return fmt.Sprintf("%s (%s)", r.Address, r.Annotation)
}

// Enrich pairs a hit with its annotation, sort key and open-action URL. A nil
// lookup yields no annotation.
func Enrich(ctx context.Context, hit sweep.Hit, lookup Lookup) EnrichedResult {
	result := EnrichedResult{
		Address:    hit.Address,
		Port:       hit.Port,
		Classified: hit.Classified,
		Reason:     hit.Reason,
		SortKey:    SortKey(hit.Address),
		URL:        URL(hit.Address, hit.Port),
		FoundAt:    hit.FoundAt,
	}
	if lookup != nil {
		if annotation, ok := lookup.Lookup(ctx, hit.Address); ok {
			result.Annotation = annotation
		}
	}
	return result
}

// EnrichAll enriches hits in order.
func EnrichAll(ctx context.Context, hits []sweep.Hit, lookup Lookup) []EnrichedResult {
	out := make([]EnrichedResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, Enrich(ctx, hit, lookup))
	}
	return out
}

// SortKey returns the big-endian integer value of a dotted-quad address.
// Anything that is not a valid IPv4 address sorts as 0.
func SortKey(address string) uint32 {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil || !addr.Is4() {
		return 0
	}
	octets := addr.As4()
	return binary.BigEndian.Uint32(octets[:])
}

// Sort orders rows in place by sort key. Rows with equal keys keep their
// arrival order.
func Sort(rows []EnrichedResult, order Order) {
	slices.SortStableFunc(rows, func(a, b EnrichedResult) int {
		if order == Descending {
			return cmp.Compare(b.SortKey, a.SortKey)
		}
		return cmp.Compare(a.SortKey, b.SortKey)
	})
}

// Filter keeps rows whose address, port or annotation contains query,
// ignoring case. An empty query keeps every row.
func Filter(rows []EnrichedResult, query string) []EnrichedResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return rows
	}

	filtered := make([]EnrichedResult, 0, len(rows))
	for _, row := range rows {
		if matches(row, query) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func matches(row EnrichedResult, query string) bool {
	fields := []string{row.Address, strconv.Itoa(row.Port), row.Annotation}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// URL is the open-action target for a row.
func URL(address string, port int) string {
	return "https://" + net.JoinHostPort(address, strconv.Itoa(port))
}
