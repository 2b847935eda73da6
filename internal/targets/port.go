package targets

import (
	"strconv"
	"strings"

	"github.com/anstrom/certsweep/internal/errors"
)

// DefaultPort is probed when no usable port is given.
const DefaultPort = 443

// ParsePort parses an operator supplied port. Blank input silently selects
// DefaultPort. Non-numeric or out-of-range input also selects DefaultPort but
// returns a *errors.ConfigError warning alongside it; callers should report
// the warning and continue.
func ParsePort(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultPort, nil
	}

	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return DefaultPort, errors.ErrInvalidPort(raw, DefaultPort)
	}
	return port, nil
}
