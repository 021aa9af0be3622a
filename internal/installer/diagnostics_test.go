// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startDNS serves A records for host on a loopback UDP port.
func startDNS(t *testing.T, host string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(dns.Fqdn(host), func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("104.16.0.35"),
		})
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("DNS server did not start")
	}

	_, port, _ := net.SplitHostPort(pc.LocalAddr().String())
	return port
}

func listenTCP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().String()
}

// closedAddress returns a loopback address nothing listens on.
func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func newTestDiagnostics(t *testing.T, address, host, resolvConf, port string, fallback []string) *Diagnostics {
	t.Helper()
	s := testSettings(t)
	s.ConnectivityAddress = address
	s.RegistryHost = host
	s.ResolvConf = resolvConf
	s.resolvers = fallback
	s.ProbeTimeout = time.Second
	d := NewDiagnostics(s, nil)
	d.dnsPort = port
	return d
}

func TestDiagnostics_Healthy(t *testing.T) {
	t.Parallel()

	port := startDNS(t, "registry.npmjs.org")
	resolv := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(resolv, []byte("nameserver 127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	status := newTestDiagnostics(t, listenTCP(t), "registry.npmjs.org", resolv, port, []string{"127.0.0.1"}).Run(t.Context())
	if !status.Reachable || !status.Resolvable || status.Err != nil {
		t.Fatalf("status = %+v", status)
	}
	if status.ResolversRewritten {
		t.Error("a working resolver configuration must not be rewritten")
	}
}

func TestDiagnostics_RewritesResolvers(t *testing.T) {
	t.Parallel()

	port := startDNS(t, "registry.npmjs.org")
	resolv := filepath.Join(t.TempDir(), "resolv.conf")
	// 127.0.0.2 has no server, so the first pass fails.
	if err := os.WriteFile(resolv, []byte("nameserver 127.0.0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := newTestDiagnostics(t, listenTCP(t), "registry.npmjs.org", resolv, port, []string{"127.0.0.1"})
	d.timeout = 200 * time.Millisecond
	status := d.Run(t.Context())

	if !status.ResolversRewritten || !status.Resolvable {
		t.Fatalf("status = %+v", status)
	}
	data, _ := os.ReadFile(resolv)
	if !strings.Contains(string(data), "nameserver 127.0.0.1") || strings.Contains(string(data), "127.0.0.2") {
		t.Errorf("resolv.conf = %q", data)
	}
}

func TestDiagnostics_Unavailable(t *testing.T) {
	t.Parallel()

	port := startDNS(t, "registry.npmjs.org")
	resolv := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(resolv, []byte("nameserver 127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The server answers NXDOMAIN for every other name.
	status := newTestDiagnostics(t, closedAddress(t), "unknown.invalid", resolv, port, []string{"127.0.0.1"}).Run(t.Context())

	if status.Reachable || status.Resolvable {
		t.Fatalf("status = %+v", status)
	}
	var nu *NetworkUnavailableError
	if !errors.As(status.Err, &nu) || !errors.Is(status.Err, ErrNetworkUnavailable) {
		t.Fatalf("Err = %v", status.Err)
	}
	if !strings.Contains(nu.Error(), "no connectivity") || !strings.Contains(nu.Error(), "unknown.invalid") {
		t.Errorf("Error() = %q", nu.Error())
	}
	if !status.ResolversRewritten {
		t.Error("resolution failure should trigger exactly one rewrite and re-check")
	}
}

func TestDiagnostics_MissingResolvConf(t *testing.T) {
	t.Parallel()

	resolv := filepath.Join(t.TempDir(), "resolv.conf")
	d := newTestDiagnostics(t, listenTCP(t), "registry.npmjs.org", resolv, "53", nil)
	status := d.Run(t.Context())
	if status.Resolvable || status.ResolversRewritten {
		t.Errorf("status = %+v", status)
	}
	if _, err := os.Stat(resolv); !os.IsNotExist(err) {
		t.Error("no fallback list means nothing to write")
	}
}
