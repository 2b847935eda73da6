// Package probe classifies a single address:port with a two-stage check: a
// bounded TCP connect, then an HTTPS request validated against the host trust
// store. Handshakes rejected during certificate or TLS negotiation are the
// detection signal. Network failures are folded into outcomes and never
// returned as errors.
package probe

//go:generate mockgen -source=probe.go -destination=mocks/mock_prober.go -package=mocks

import (
	"context"
	"time"
)

// Kind is the classification of one probe.
type Kind int

const (
	// KindUnreachable means the TCP connect failed.
	KindUnreachable Kind = iota
	// KindConnectedPlain means TLS and the HTTP exchange succeeded.
	KindConnectedPlain
	// KindClassified means the peer accepted TCP but failed certificate or
	// handshake validation.
	KindClassified
	// KindInconclusive covers resets, protocol errors and timeouts after connect.
	KindInconclusive
)

var kindNames = map[Kind]string{
	KindUnreachable:    "unreachable",
	KindConnectedPlain: "connected_plain",
	KindClassified:     "classified",
	KindInconclusive:   "inconclusive",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the immutable result of probing one target.
type Outcome struct {
	Address    string        `json:"address"`
	Port       int           `json:"port"`
	Kind       Kind          `json:"kind"`
	Classified bool          `json:"classified"`
	Reason     string        `json:"reason,omitempty"`
	Latency    time.Duration `json:"latency_ns"`

	// Err is the folded network error, kept for debug logging only.
	Err error `json:"-"`
}

// Prober probes one target. Implementations must honour ctx cancellation
// and must not block past their own timeouts.
type Prober interface {
	Probe(ctx context.Context, address string, port int) Outcome
}

func newOutcome(address string, port int, kind Kind, reason string, err error) Outcome {
	return Outcome{
		Address:    address,
		Port:       port,
		Kind:       kind,
		Classified: kind == KindClassified,
		Reason:     reason,
		Err:        err,
	}
}
