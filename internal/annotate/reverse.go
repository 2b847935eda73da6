package annotate

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	resolvConf        = "/etc/resolv.conf"
	defaultDNSPort    = "53"
	defaultDNSTimeout = 2 * time.Second
)

// ReverseDNS annotates an address with its PTR name.
type ReverseDNS struct {
	client *dns.Client
	server string
}

// NewReverseDNS creates a PTR resolver against server ("host" or
// "host:port"). An empty server uses the first nameserver from
// /etc/resolv.conf.
func NewReverseDNS(server string, timeout time.Duration) (*ReverseDNS, error) {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}

	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read resolver configuration: %w", err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameservers in %s", resolvConf)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, defaultDNSPort)
	}

	return &ReverseDNS{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
	}, nil
}

// Server returns the resolver address in use.
func (r *ReverseDNS) Server() string { return r.server }

// Name implements Source.
func (r *ReverseDNS) Name() string { return "reverse_dns" }

// Lookup implements results.Lookup.
func (r *ReverseDNS) Lookup(ctx context.Context, address string) (string, bool) {
	name, err := dns.ReverseAddr(address)
	if err != nil {
		return "", false
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		lookupLogger().WarnLookup("PTR query failed", address, err, "server", r.server)
		return "", false
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", false
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), true
		}
	}
	return "", false
}
