// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/vibeos/vibeos/internal/fsutil"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

const defaultDNSPort = "53"

type (
	// NetworkStatus is the result of one diagnostics run.
	NetworkStatus struct {
		Reachable          bool
		Resolvable         bool
		ResolversRewritten bool
		Nameservers        []string
		// Err is a *NetworkUnavailableError when either probe failed.
		Err error
	}

	// DiagnosticsRunner probes the network once before strategies run.
	DiagnosticsRunner interface {
		Run(ctx context.Context) NetworkStatus
	}

	// Diagnostics probes raw connectivity and registry name resolution.
	Diagnostics struct {
		address    string
		host       string
		resolvConf string
		fallback   []string
		timeout    time.Duration
		dnsPort    string
		dialer     *net.Dialer
		logger     *slog.Logger
	}
)

// NewDiagnostics creates Diagnostics from the settings snapshot.
func NewDiagnostics(s Settings, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Diagnostics{
		address:    s.ConnectivityAddress,
		host:       s.RegistryHost,
		resolvConf: s.ResolvConf,
		fallback:   s.Resolvers(),
		timeout:    timeout,
		dnsPort:    defaultDNSPort,
		dialer:     &net.Dialer{},
		logger:     logger,
	}
}

// Run never fails; a negative result is reported through NetworkStatus.Err.
// When resolution fails the resolver configuration is replaced with the
// fallback list and resolution is checked once more.
func (d *Diagnostics) Run(ctx context.Context) NetworkStatus {
	var (
		status          NetworkStatus
		connErr, dnsErr error
		g               errgroup.Group
	)

	// Both probes are read-only and independent.
	g.Go(func() error {
		connErr = d.probeConnectivity(ctx)
		return nil
	})
	g.Go(func() error {
		status.Nameservers, dnsErr = d.probeResolution(ctx)
		return nil
	})
	_ = g.Wait()

	status.Reachable = connErr == nil
	status.Resolvable = dnsErr == nil
	if connErr != nil {
		d.logger.Warn("connectivity probe failed", "address", d.address, "error", connErr)
	}

	if dnsErr != nil && len(d.fallback) > 0 {
		d.logger.Warn("registry resolution failed, rewriting resolver configuration",
			"host", d.host, "resolv_conf", d.resolvConf, "error", dnsErr)
		if err := d.rewriteResolvConf(); err != nil {
			d.logger.Warn("failed to rewrite resolver configuration", "error", err)
		} else {
			status.ResolversRewritten = true
			status.Nameservers, dnsErr = d.probeResolution(ctx)
			status.Resolvable = dnsErr == nil
		}
	}

	if !status.Reachable || !status.Resolvable {
		status.Err = &NetworkUnavailableError{Reachable: status.Reachable, Resolvable: status.Resolvable, Host: d.host}
	}
	return status
}

func (d *Diagnostics) probeConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// probeResolution queries every configured nameserver for the registry host
// and succeeds when any of them answers.
func (d *Diagnostics) probeResolution(ctx context.Context) ([]string, error) {
	cfg, err := dns.ClientConfigFromFile(d.resolvConf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.resolvConf, err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", d.resolvConf)
	}

	client := &dns.Client{Timeout: d.timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(d.host), dns.TypeA)

	var errs []error
	for _, server := range cfg.Servers {
		qctx, cancel := context.WithTimeout(ctx, d.timeout)
		resp, _, err := client.ExchangeContext(qctx, msg, net.JoinHostPort(server, d.dnsPort))
		cancel()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
		case resp.Rcode != dns.RcodeSuccess:
			errs = append(errs, fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode]))
		case len(resp.Answer) == 0:
			errs = append(errs, fmt.Errorf("%s: no answer for %s", server, d.host))
		default:
			return cfg.Servers, nil
		}
	}
	return cfg.Servers, errors.Join(errs...)
}

func (d *Diagnostics) rewriteResolvConf() error {
	var sb strings.Builder
	sb.WriteString("# Generated by vibeos provision\n")
	for _, ns := range d.fallback {
		sb.WriteString("nameserver ")
		sb.WriteString(ns)
		sb.WriteByte('\n')
	}
	return fsutil.WriteFileAtomic(d.resolvConf, []byte(sb.String()), 0o644)
}
