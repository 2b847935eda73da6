// Package targets expands operator range expressions into IPv4 probe targets.
//
// Accepted forms, each octet being 1-3 decimal digits in [0,255]:
//
//	a.b.c          a.b.c.1 .. a.b.c.254
//	a.b.c.*        same as a.b.c
//	a.b.c.x/24     same as a.b.c (x is validated, then ignored)
//	a.b.c.d        the single address
//	a.b.c.d-e      a.b.c.d .. a.b.c.e inclusive
//	a.b.c.d-a.b.c.e  same, with the prefix repeated
//
// Ranges never leave the a.b.c prefix.
package targets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/certsweep/internal/errors"
)

const (
	firstHost = 1
	lastHost  = 254

	// MaxTargets is the size of the largest expansion, a.b.c.0-255.
	MaxTargets = 256
)

var (
	basePattern  = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	starPattern  = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.\*$`)
	cidrPattern  = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})/24$`)
	exactPattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	rangePattern = regexp.MustCompile(
		`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})-(?:(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.)?(\d{1,3})$`)
)

// ParseTargets expands spec into an ascending, duplicate-free list of
// dotted-quad addresses. It fails with an *errors.InputError and no partial
// list when spec matches no accepted form or holds an octet outside [0,255].
// The host octet of the a.b.c.x/24 form does not affect the expansion but
// must still be in [0,255], so "10.0.1.400/24" is rejected.
func ParseTargets(spec string) ([]string, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, errors.ErrInvalidRange(spec, "range expression is empty")
	}

	if m := basePattern.FindStringSubmatch(s); m != nil {
		return expandPrefix(spec, m[1:4], firstHost, lastHost, nil)
	}
	if m := starPattern.FindStringSubmatch(s); m != nil {
		return expandPrefix(spec, m[1:4], firstHost, lastHost, nil)
	}
	if m := cidrPattern.FindStringSubmatch(s); m != nil {
		return expandPrefix(spec, m[1:4], firstHost, lastHost, m[4:5])
	}
	if m := exactPattern.FindStringSubmatch(s); m != nil {
		last, err := octet(spec, m[4])
		if err != nil {
			return nil, err
		}
		return expandPrefix(spec, m[1:4], last, last, nil)
	}
	if m := rangePattern.FindStringSubmatch(s); m != nil {
		return parseRange(spec, m)
	}

	return nil, errors.ErrUnsupportedRange(spec)
}

func parseRange(spec string, m []string) ([]string, error) {
	prefix := m[1:4]
	if m[5] != "" {
		endPrefix := m[5:8]
		for i := range prefix {
			a, err := octet(spec, prefix[i])
			if err != nil {
				return nil, err
			}
			b, err := octet(spec, endPrefix[i])
			if err != nil {
				return nil, err
			}
			if a != b {
				return nil, errors.ErrInvalidRange(spec,
					"range start and end must share the same a.b.c prefix")
			}
		}
	}

	start, err := octet(spec, m[4])
	if err != nil {
		return nil, err
	}
	end, err := octet(spec, m[8])
	if err != nil {
		return nil, err
	}
	if start > end {
		return nil, errors.ErrInvalidRange(spec,
			fmt.Sprintf("range start %d is greater than end %d", start, end))
	}
	return expandPrefix(spec, prefix, start, end, nil)
}

// expandPrefix validates the prefix octets plus any extra ones, then
// generates prefix.from .. prefix.to.
func expandPrefix(spec string, prefix []string, from, to int, extra []string) ([]string, error) {
	parts := make([]int, 0, len(prefix))
	for _, raw := range prefix {
		v, err := octet(spec, raw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, v)
	}
	for _, raw := range extra {
		if _, err := octet(spec, raw); err != nil {
			return nil, err
		}
	}

	base := fmt.Sprintf("%d.%d.%d.", parts[0], parts[1], parts[2])
	out := make([]string, 0, to-from+1)
	for host := from; host <= to; host++ {
		out = append(out, base+strconv.Itoa(host))
	}
	return out, nil
}

func octet(spec, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > 255 {
		return 0, errors.ErrOctetOutOfRange(spec, raw)
	}
	return v, nil
}
