// Package annotate provides address to annotation lookups for enriched
// results: a static YAML file, the host inventory database and reverse DNS.
// Sources are combined with Chain; the first source with an entry wins.
package annotate

import (
	"context"
	"strconv"
	"strings"

	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/results"
)

const (
	statusHit  = "hit"
	statusMiss = "miss"
)

// Source is a named lookup.
type Source interface {
	results.Lookup
	Name() string
}

// Recorder receives one observation per source consulted.
type Recorder interface {
	LookupCompleted(source, status string)
}

// Chain consults sources in order.
type Chain struct {
	sources  []Source
	recorder Recorder
}

var _ results.Lookup = (*Chain)(nil)

// NewChain builds a chain. recorder may be nil.
func NewChain(recorder Recorder, sources ...Source) *Chain {
	return &Chain{sources: sources, recorder: recorder}
}

// Len returns the number of sources.
func (c *Chain) Len() int { return len(c.sources) }

// Lookup returns the first annotation any source has for address.
func (c *Chain) Lookup(ctx context.Context, address string) (string, bool) {
	for _, source := range c.sources {
		if ctx.Err() != nil {
			return "", false
		}
		annotation, ok := source.Lookup(ctx, address)
		hit := ok && annotation != ""
		c.record(source.Name(), hit)
		if hit {
			return Normalize(annotation), true
		}
	}
	return "", false
}

func (c *Chain) record(source string, hit bool) {
	if c.recorder == nil {
		return
	}
	status := statusMiss
	if hit {
		status = statusHit
	}
	c.recorder.LookupCompleted(source, status)
}

// Normalize rewrites hardware addresses to lower-case colon form and trims
// everything else.
func Normalize(annotation string) string {
	annotation = strings.TrimSpace(annotation)
	if mac := NormalizeMAC(annotation); mac != "" {
		return mac
	}
	return annotation
}

// NormalizeMAC returns mac as six lower-case colon separated octets, or ""
// when mac is not a 48-bit hardware address. Colon, hyphen, Cisco dotted and
// bare hex forms are accepted.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))

	var parts []string
	switch {
	case strings.Count(mac, ":") == 5:
		parts = strings.Split(mac, ":")
	case strings.Count(mac, "-") == 5:
		parts = strings.Split(mac, "-")
	case strings.Count(mac, ".") == 2 && len(mac) == 14:
		parts = splitPairs(strings.ReplaceAll(mac, ".", ""))
	case len(mac) == 12:
		parts = splitPairs(mac)
	default:
		return ""
	}
	if len(parts) != 6 {
		return ""
	}

	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return ""
		}
		value, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return ""
		}
		parts[i] = strconv.FormatUint(value, 16)
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return strings.Join(parts, ":")
}

func splitPairs(hex string) []string {
	if len(hex) != 12 {
		return nil
	}
	parts := make([]string, 0, 6)
	for i := 0; i < len(hex); i += 2 {
		parts = append(parts, hex[i:i+2])
	}
	return parts
}

func lookupLogger() *logging.Logger {
	return logging.Default().WithComponent("annotate")
}
