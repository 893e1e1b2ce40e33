// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// knownHostsEntry is one parsed line of an OpenSSH known_hosts file: a
// comma-separated list of hostname/address patterns, a key algorithm
// name, and a base64-encoded public key blob.
type knownHostsEntry struct {
	hosts []string
	key   PublicKey
}

// KnownHosts implements HostKeyCallback against an OpenSSH-format
// known_hosts file. It is the only trust decision this package makes on
// the client's behalf; everything else (PTR enrichment) is
// informational.
type KnownHosts struct {
	mu      sync.RWMutex
	entries []knownHostsEntry

	// Resolver, if set, is used to fetch a reverse-DNS PTR record for the
	// connecting address purely for logging/audit enrichment. A PTR
	// mismatch or lookup failure never changes the trust decision: DNS is
	// not authenticated and must never gate authentication.
	Resolver *dns.Client
	DNSAddr  string

	Audit AuditSink
}

// NewKnownHosts parses the known_hosts-format file at path.
func NewKnownHosts(path string) (*KnownHosts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kh := &KnownHosts{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			continue
		}
		key, _, ok := ParsePublicKey(blob)
		if !ok {
			continue
		}
		kh.entries = append(kh.entries, knownHostsEntry{
			hosts: strings.Split(fields[0], ","),
			key:   key,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kh, nil
}

// normalizeHostname applies IDNA/Punycode normalization so a known_hosts
// pattern written in Unicode matches a hostname delivered as
// ASCII-Compatible Encoding, and vice versa.
func normalizeHostname(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func matchesPattern(pattern, host string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	return strings.EqualFold(normalizeHostname(pattern), normalizeHostname(host))
}

// HostKeyCallback returns a HostKeyCallback bound to this file, enriching
// (never gating on) a PTR lookup for remote when a Resolver is configured.
func (kh *KnownHosts) HostKeyCallback() HostKeyCallback {
	return func(hostname string, remote net.Addr, key PublicKey) error {
		kh.enrichWithPTR(hostname, remote)

		kh.mu.RLock()
		defer kh.mu.RUnlock()
		blob := key.Marshal()
		for _, e := range kh.entries {
			if !bytesEqual(e.key.Marshal(), blob) {
				continue
			}
			for _, h := range e.hosts {
				if matchesPattern(h, hostname) {
					return nil
				}
			}
		}
		return fmt.Errorf("ssh: host key for %q not found in known_hosts", hostname)
	}
}

// enrichWithPTR performs a best-effort reverse lookup and records it on
// the audit sink. Any failure is swallowed: a PTR record is never
// authenticated and must not influence the HostKeyCallback's verdict.
func (kh *KnownHosts) enrichWithPTR(hostname string, remote net.Addr) {
	if kh.Resolver == nil || kh.Audit == nil {
		return
	}
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return
	}
	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)

	dnsAddr := kh.DNSAddr
	if dnsAddr == "" {
		dnsAddr = "8.8.8.8:53"
	}
	if kh.Resolver.Timeout == 0 {
		kh.Resolver.Timeout = 2 * time.Second
	}

	reply, _, err := kh.Resolver.Exchange(m, dnsAddr)
	if err != nil || reply == nil {
		return
	}
	var ptr string
	for _, rr := range reply.Answer {
		if p, ok := rr.(*dns.PTR); ok {
			ptr = p.Ptr
			break
		}
	}
	kh.Audit.Publish(AuditEvent{
		Kind:       "ptr_enrichment",
		RemoteAddr: remote.String(),
		Detail:     fmt.Sprintf("host=%s ptr=%s", hostname, ptr),
	})
}
