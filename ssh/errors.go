// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "fmt"

// DisconnectReason is the numeric reason code carried in an RFC 4253
// section 11.1 SSH_MSG_DISCONNECT.
type DisconnectReason uint32

// Reason codes defined by RFC 4253 section 11.1.
const (
	DisconnectHostNotAllowedToConnect     DisconnectReason = 1
	DisconnectProtocolError               DisconnectReason = 2
	DisconnectKeyExchangeFailed           DisconnectReason = 3
	DisconnectReserved                    DisconnectReason = 4
	DisconnectMACError                    DisconnectReason = 5
	DisconnectCompressionError            DisconnectReason = 6
	DisconnectServiceNotAvailable         DisconnectReason = 7
	DisconnectProtocolVersionNotSupported DisconnectReason = 8
	DisconnectHostKeyNotVerifiable        DisconnectReason = 9
	DisconnectConnectionLost              DisconnectReason = 10
	DisconnectByApplication               DisconnectReason = 11
	DisconnectTooManyConnections          DisconnectReason = 12
	DisconnectAuthCancelledByUser         DisconnectReason = 13
	DisconnectNoMoreAuthMethods           DisconnectReason = 14
	DisconnectIllegalUserName             DisconnectReason = 15
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectHostNotAllowedToConnect:
		return "host not allowed to connect"
	case DisconnectProtocolError:
		return "protocol error"
	case DisconnectKeyExchangeFailed:
		return "key exchange failed"
	case DisconnectMACError:
		return "MAC error"
	case DisconnectCompressionError:
		return "compression error"
	case DisconnectServiceNotAvailable:
		return "service not available"
	case DisconnectProtocolVersionNotSupported:
		return "protocol version not supported"
	case DisconnectHostKeyNotVerifiable:
		return "host key not verifiable"
	case DisconnectConnectionLost:
		return "connection lost"
	case DisconnectByApplication:
		return "disconnected by application"
	case DisconnectTooManyConnections:
		return "too many connections"
	case DisconnectAuthCancelledByUser:
		return "auth cancelled by user"
	case DisconnectNoMoreAuthMethods:
		return "no more auth methods available"
	case DisconnectIllegalUserName:
		return "illegal user name"
	default:
		return fmt.Sprintf("unknown disconnect reason %d", uint32(r))
	}
}

// DisconnectError is returned (and sent on the wire, best-effort) whenever
// the transport state machine decides the connection cannot continue.
type DisconnectError struct {
	Reason  DisconnectReason
	Message string
}

func (e *DisconnectError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ssh: disconnect, reason %d: %s: %s", e.Reason, e.Reason, e.Message)
	}
	return fmt.Sprintf("ssh: disconnect, reason %d: %s", e.Reason, e.Reason)
}

func newDisconnect(reason DisconnectReason, format string, args ...interface{}) *DisconnectError {
	return &DisconnectError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WireFormatError reports a framing, length or padding violation detected
// by the packet codec.
type WireFormatError struct {
	Detail string
}

func (e *WireFormatError) Error() string { return "ssh: wire format error: " + e.Detail }

// CryptoError reports a MAC/tag mismatch, decryption failure or key
// derivation failure detected by the cipher layer or the KEX engine.
type CryptoError struct {
	Detail string
}

func (e *CryptoError) Error() string { return "ssh: crypto error: " + e.Detail }

// ProtocolError reports a packet that is illegal in the transport's
// current state.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "ssh: protocol error: " + e.Detail }

// NegotiationFailure reports that no common algorithm could be agreed for
// a KEXINIT field.
type NegotiationFailure struct {
	Field         string
	ClientOffered []string
	ServerOffered []string
}

func (e *NegotiationFailure) Error() string {
	return fmt.Sprintf("ssh: no common algorithm for %s; client offered: %v, server offered: %v",
		e.Field, e.ClientOffered, e.ServerOffered)
}

// AuthFailure is a credential-level rejection of a single authentication
// attempt. It does not end the transport; further attempts are possible
// within the configured auth budget.
type AuthFailure struct {
	Method         string
	MethodsLeft    []string
	PartialSuccess bool
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("ssh: auth failure for method %q, remaining methods: %v", e.Method, e.MethodsLeft)
}

// ChannelError reports a window overrun, unknown channel id or refused
// request type on a single channel. It force-closes that channel, not the
// transport.
type ChannelError struct {
	LocalID uint32
	Detail  string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("ssh: channel %d error: %s", e.LocalID, e.Detail)
}

// TransportClosed reports that the peer sent DISCONNECT or the underlying
// socket reached EOF.
type TransportClosed struct {
	Reason DisconnectReason
	Peer   bool
}

func (e *TransportClosed) Error() string {
	if e.Peer {
		return fmt.Sprintf("ssh: transport closed by peer, reason %d: %s", e.Reason, e.Reason)
	}
	return "ssh: transport closed"
}

// TimeoutError reports that an operation exceeded its deadline (auth
// timeout, idle timeout, graceful-close drain timeout).
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "ssh: timeout: " + e.Op }
