package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/certsweep/internal/errors"
)

const (
	DefaultTCPTimeout = 500 * time.Millisecond
	DefaultTLSTimeout = 1200 * time.Millisecond

	// bodyDrainLimit caps how much of a response is read before closing.
	bodyDrainLimit = 4096
)

// negotiationFailures are handshake errors crypto/tls reports without a
// dedicated type. Each means the peer speaks TLS but cannot agree on a
// standard negotiation.
var negotiationFailures = []string{
	"tls: server selected unsupported protocol version",
	"tls: no cipher suite supported",
	"tls: server chose an unconfigured cipher suite",
	"tls: no supported versions",
	"tls: handshake failure",
	"tls: unsupported certificate",
}

// Config configures a TLSProber.
type Config struct {
	TCPTimeout time.Duration
	TLSTimeout time.Duration

	// RootCAs overrides the host trust store. Nil uses the system roots.
	RootCAs *x509.CertPool
}

// TLSProber implements Prober with a raw TCP connect followed by an HTTPS GET /.
type TLSProber struct {
	config Config
	dialer *net.Dialer
	client *http.Client
}

// NewTLSProber creates a prober. Zero timeouts select the defaults.
func NewTLSProber(cfg Config) *TLSProber {
	if cfg.TCPTimeout <= 0 {
		cfg.TCPTimeout = DefaultTCPTimeout
	}
	if cfg.TLSTimeout <= 0 {
		cfg.TLSTimeout = DefaultTLSTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    cfg.RootCAs,
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout: cfg.TLSTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSTimeout,
		ResponseHeaderTimeout: cfg.TLSTimeout,
		DisableKeepAlives:     true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.TLSTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &TLSProber{
		config: cfg,
		dialer: &net.Dialer{Timeout: cfg.TCPTimeout},
		client: client,
	}
}

// Probe classifies address:port. It never returns an error: every failure
// maps to an Outcome kind.
func (p *TLSProber) Probe(ctx context.Context, address string, port int) Outcome {
	start := time.Now()
	hostPort := net.JoinHostPort(address, strconv.Itoa(port))

	outcome := p.probe(ctx, address, port, hostPort)
	outcome.Latency = time.Since(start)
	return outcome
}

func (p *TLSProber) probe(ctx context.Context, address string, port int, hostPort string) Outcome {
	if err := p.connect(ctx, hostPort); err != nil {
		return newOutcome(address, port, KindUnreachable, "tcp connect failed",
			errors.ErrHostUnreachable(hostPort, err))
	}

	err := p.exchange(ctx, hostPort)
	if err == nil {
		return newOutcome(address, port, KindConnectedPlain, "tls handshake succeeded", nil)
	}

	kind, reason := ClassifyTLSError(err)
	if kind == KindInconclusive {
		return newOutcome(address, port, kind, reason, errors.ErrProtocolAmbiguous(hostPort, err))
	}
	return newOutcome(address, port, kind, reason, err)
}

// connect performs the cheap reachability check.
func (p *TLSProber) connect(ctx context.Context, hostPort string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.TCPTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return err
	}
	return conn.Close()
}

// exchange performs GET / over TLS without following redirects.
func (p *TLSProber) exchange(ctx context.Context, hostPort string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.TLSTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+hostPort+"/", http.NoBody)
	if err != nil {
		return err
	}
	req.Close = true

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, bodyDrainLimit))
	return nil
}

// ClassifyTLSError maps a failed HTTPS exchange to KindClassified when the
// failure came from certificate or TLS negotiation, and KindInconclusive
// otherwise.
func ClassifyTLSError(err error) (Kind, string) {
	if err == nil {
		return KindConnectedPlain, "tls handshake succeeded"
	}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		rootsErr    x509.SystemRootsError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
	)

	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return KindInconclusive, "probe interrupted"
	case stderrors.As(err, &unknownAuth):
		return KindClassified, "certificate signed by unknown authority"
	case stderrors.As(err, &hostnameErr):
		return KindClassified, "certificate hostname mismatch"
	case stderrors.As(err, &invalidErr):
		return KindClassified, "certificate invalid"
	case stderrors.As(err, &rootsErr):
		// Local trust store fault, not the peer's.
		return KindInconclusive, "system roots unavailable"
	case stderrors.As(err, &verifyErr):
		return KindClassified, "certificate verification failed"
	case stderrors.As(err, &recordErr):
		// Peer answered, but not with TLS.
		return KindInconclusive, "not a tls record"
	case stderrors.As(err, &alertErr):
		return KindClassified, "handshake alert: " + alertErr.Error()
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindInconclusive, "tls timeout"
	}

	// crypto/tls reports alerts sent by the peer as an OpError with this op.
	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Op == "remote error" {
		return KindClassified, "peer rejected handshake: " + opErr.Err.Error()
	}

	msg := err.Error()
	for _, failure := range negotiationFailures {
		if strings.Contains(msg, failure) {
			return KindClassified, "handshake negotiation failed"
		}
	}
	return KindInconclusive, "tls exchange failed"
}
