// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"net"
)

// ServerConfig holds the configuration for an SSH server: host keys, the
// authentication policy, and the shared Config knobs. A ServerConfig is
// copied and defaulted by NewServerConn; the caller's value is never
// mutated.
type ServerConfig struct {
	Config

	hostKeys []Signer

	// NoClientAuth, if set, accepts any client without running the
	// userauth service at all. Only for test harnesses.
	NoClientAuth bool

	// PasswordCallback, PublicKeyCallback, KeyboardInteractiveCallback
	// and NoClientAuthCallback are invoked by the auth state machine
	// for each respective method name. A nil callback
	// means the method is not offered at all. Each returns a
	// *Permissions on success (may be nil) or an error; returning
	// *PartialSuccessError signals partial success with more methods
	// required.
	PasswordCallback            func(conn ConnMetadata, password []byte) (*Permissions, error)
	PublicKeyCallback           func(conn ConnMetadata, key PublicKey) (*Permissions, error)
	KeyboardInteractiveCallback func(conn ConnMetadata, client KeyboardInteractiveChallenge) (*Permissions, error)
	NoClientAuthCallback        func(conn ConnMetadata) (*Permissions, error)
	AuthLogCallback             func(conn ConnMetadata, method string, err error)
	BannerCallback              func(conn ConnMetadata) string

	ServerVersion string

	// Metrics, if set, receives Prometheus observations for every
	// connection built from this config. Nil disables instrumentation.
	Metrics *Metrics
}

// AddHostKey registers a host key the server may present during KEX. The
// last-registered key for a given algorithm wins.
func (s *ServerConfig) AddHostKey(key Signer) {
	for i, k := range s.hostKeys {
		if k.PublicKey().Type() == key.PublicKey().Type() {
			s.hostKeys[i] = key
			return
		}
	}
	s.hostKeys = append(s.hostKeys, key)
}

// PartialSuccessError is returned by an auth callback to indicate the
// attempted method succeeded but more methods are still required
// (RFC 4252 section 5.1 partial success).
type PartialSuccessError struct {
	Next ServerAuthError
}

func (e *PartialSuccessError) Error() string { return "ssh: partial success" }

// ServerAuthError is returned by an auth callback to carry the set of
// methods the client may still attempt.
type ServerAuthError struct {
	Methods []string
}

func (e *ServerAuthError) Error() string {
	return fmt.Sprintf("ssh: methods remaining: %v", e.Methods)
}

// KeyboardInteractiveChallenge is issued by the keyboard-interactive
// callback to prompt the user for responses.
type KeyboardInteractiveChallenge func(name, instruction string, questions []string, echos []bool) (answers []string, err error)

// Permissions carries the policy result of a successful authentication:
// arbitrary string key/value extensions a channel handler may consult
// later (mirrors OpenSSH's AUTHORIZED_KEYS_OPTIONS/environment concept).
type Permissions struct {
	CriticalOptions map[string]string
	Extensions      map[string]string
}

// ConnMetadata exposes read-only facts about an in-progress or completed
// connection to authentication callbacks and applications without
// exposing the full *ServerConn / *Channel machinery.
type ConnMetadata interface {
	User() string
	SessionID() []byte
	ClientVersion() []byte
	ServerVersion() []byte
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// ClientConfig holds the configuration for an SSH client: the set of auth
// methods to attempt, the host key policy, and the shared Config knobs.
type ClientConfig struct {
	Config

	User string

	Auth []AuthMethod

	HostKeyCallback HostKeyCallback

	HostKeyAlgorithms []string

	BannerCallback BannerCallback

	ClientVersion string

	Timeout int64 // seconds; 0 means no dial timeout

	// Metrics, if set, receives Prometheus observations for every
	// connection built from this config. Nil disables instrumentation.
	Metrics *Metrics
}

// AuthMethod abstracts a single client-side authentication method.
// Concrete values are returned by Password, PublicKeys,
// PublicKeysCallback, KeyboardInteractive, and RetryableAuthMethod.
type AuthMethod interface {
	method() string
	auth(session []byte, user string, c packetConn, rand interface{ Read([]byte) (int, error) }) (authResult, []string, error)
}

type authResult int

const (
	authFailure authResult = iota
	authPartialSuccess
	authSuccess
)
