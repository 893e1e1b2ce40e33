// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"

	strictKexClient = "kex-strict-c-v00@openssh.com"
	strictKexServer = "kex-strict-s-v00@openssh.com"
)

// defaultCiphers specifies the default ciphers in preference order.
var defaultCiphers = []string{
	"chacha20-poly1305@openssh.com",
	"aes128-gcm@openssh.com",
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
}

// allSupportedCiphers lists every cipher the registry knows how to build,
// including the legacy CBC ones not offered by default.
var allSupportedCiphers = []string{
	"chacha20-poly1305@openssh.com",
	"aes128-gcm@openssh.com",
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-cbc", "3des-cbc",
}

// defaultKexAlgos specifies the default key-exchange algorithms in
// preference order.
var defaultKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoDH14SHA256,
}

var allSupportedKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoDH14SHA256, kexAlgoDH14SHA1, kexAlgoDH1SHA1,
	kexAlgoDHGEXSHA256,
}

// supportedHostKeyAlgos specifies the supported host-key algorithms in
// preference order.
var supportedHostKeyAlgos = []string{
	KeyAlgoED25519,
	KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521,
	KeyAlgoRSA,
}

// supportedMACs specifies the default set of MAC algorithms in preference
// order; both MAC-then-encrypt and encrypt-then-MAC variants are offered.
var supportedMACs = []string{
	"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256",
	"hmac-sha1-etm@openssh.com", "hmac-sha1", "hmac-sha1-96",
}

var supportedCompressions = []string{compressionNone}

// hashFuncs keeps the mapping of host-key algorithms to the hash used in
// their signature scheme.
var hashFuncs = map[string]crypto.Hash{
	KeyAlgoRSA:      crypto.SHA256,
	KeyAlgoECDSA256: crypto.SHA256,
	KeyAlgoECDSA384: crypto.SHA384,
	KeyAlgoECDSA521: crypto.SHA512,
	KeyAlgoED25519:  crypto.SHA512,
}

// UnexpectedMessageError results when the SSH message that we received
// didn't match what we wanted.
type UnexpectedMessageError struct {
	Expected, Got uint8
}

func (u *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("ssh: unexpected message type %d (expected %d)", u.Got, u.Expected)
}

func unexpectedMessageError(expected, got uint8) error {
	return &UnexpectedMessageError{expected, got}
}

// ParseError results from a malformed SSH message.
type ParseError struct {
	MsgType uint8
}

func (p *ParseError) Error() string {
	return fmt.Sprintf("ssh: parse error in message type %d", p.MsgType)
}

func parseError(tag uint8) error { return &ParseError{tag} }

// handshakeMagics bundles the four strings hashed into every KEX exchange
// hash: RFC 4253 section 8, item 1-4.
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

func findCommon(what string, client []string, server []string) (common string, err error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", &NegotiationFailure{Field: what, ClientOffered: client, ServerOffered: server}
}

// DirectionAlgorithms is the negotiated algorithm set for one direction of
// traffic (RFC 4253 section 7.1).
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// Algorithms is the full negotiated set for a KEX round: one key-exchange
// method, one host-key type, and a DirectionAlgorithms per direction.
type Algorithms struct {
	Kex       string
	HostKey   string
	W         DirectionAlgorithms // write direction, i.e. client->server on the client
	R         DirectionAlgorithms // read direction
	StrictKex bool
}

func findAgreedAlgorithms(clientKexInit, serverKexInit *KexInitMsg) (algs *Algorithms, err error) {
	result := &Algorithms{}

	result.Kex, err = findCommon("key exchange", clientKexInit.KexAlgos, serverKexInit.KexAlgos)
	if err != nil {
		return
	}

	result.HostKey, err = findCommon("host key", clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos)
	if err != nil {
		return
	}

	result.W.Cipher, err = findCommon("client to server cipher", clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer)
	if err != nil {
		return
	}

	result.R.Cipher, err = findCommon("server to client cipher", clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient)
	if err != nil {
		return
	}

	result.W.MAC, err = findCommon("client to server MAC", clientKexInit.MACsClientServer, serverKexInit.MACsClientServer)
	if err != nil {
		return
	}

	result.R.MAC, err = findCommon("server to client MAC", clientKexInit.MACsServerClient, serverKexInit.MACsServerClient)
	if err != nil {
		return
	}

	result.W.Compression, err = findCommon("client to server compression", clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer)
	if err != nil {
		return
	}

	result.R.Compression, err = findCommon("server to client compression", clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient)
	if err != nil {
		return
	}

	for _, a := range clientKexInit.KexAlgos {
		if a == strictKexClient {
			for _, b := range serverKexInit.KexAlgos {
				if b == strictKexServer {
					result.StrictKex = true
				}
			}
		}
	}

	return result, nil
}

// minRekeyThreshold is a floor on Config.RekeyThreshold: below it we can't
// make meaningful progress sending anything at all between rekeys.
const minRekeyThreshold uint64 = 256

// Config contains configuration data common to both ServerConfig and
// ClientConfig.
type Config struct {
	// Rand provides the source of entropy for cryptographic primitives.
	// If nil, crypto/rand.Reader is used.
	Rand io.Reader

	// RekeyThreshold is the number of bytes sent or received after which
	// a new key is negotiated. Must be at least 256; 0 means 1 GiB.
	RekeyThreshold uint64

	// RekeyInterval is the wall-clock duration after which a new key is
	// negotiated, regardless of byte count. 0 means 1 hour.
	RekeyInterval int64 // seconds; kept as int64 to avoid importing time here

	KeyExchanges []string
	Ciphers      []string
	MACs         []string

	// StrictKex enables the kex-strict-*-v00@openssh.com
	// pseudo-algorithms (RFC 8308-adjacent Terrapin countermeasure):
	// sequence numbers reset to zero at the first NEWKEYS when both
	// sides advertise it.
	StrictKex bool

	// ConnLog, if non-nil, accumulates a HandshakeLog for this connection.
	ConnLog *HandshakeLog

	// Verbose enables the extra (more expensive) logging fields on ConnLog.
	Verbose bool

	MaxAuthTries int

	// AuthTimeout is the number of seconds a peer gets to complete the
	// handshake and authentication before the connection is torn down.
	// 0 means 120; negative disables the limit.
	AuthTimeout int64

	// IdleTimeout, if positive, tears down the transport when no bytes
	// arrive for that many seconds. 0 disables it.
	IdleTimeout int64

	GexMinBits, GexMaxBits, GexPreferredBits uint

	// HelloOnly, if set, stops the transport right after version exchange
	// and KEXINIT, without completing a key exchange. Used to probe a
	// peer's advertised algorithm sets without authenticating.
	HelloOnly bool
}

// SetDefaults sets sensible values for unset fields in config. Config
// values passed to SSH functions are copied and defaulted automatically.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	var ciphers []string
	for _, ci := range c.Ciphers {
		if cipherModes[ci] != nil {
			ciphers = append(ciphers, ci)
		}
	}
	c.Ciphers = ciphers

	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}

	if c.MACs == nil {
		c.MACs = supportedMACs
	}

	if c.RekeyThreshold == 0 {
		c.RekeyThreshold = 1 << 30 // RFC 4253 section 9 suggests 1 GiB.
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}
	if c.RekeyInterval == 0 {
		c.RekeyInterval = 3600
	}
	if c.MaxAuthTries == 0 {
		c.MaxAuthTries = 20
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 120
	}
}

func appendU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendInt(buf []byte, n int) []byte {
	return appendU32(buf, uint32(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// newCond hides the fact that there is no usable zero value for sync.Cond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window is the byte credit available to a writer on one direction of one
// channel (RFC 4254 section 5.2 flow control).
type window struct {
	*sync.Cond
	win          uint32
	writeWaiters int
	closed       bool
}

// add grants win additional bytes of credit. A zero-sized adjustment is a
// no-op. Returns false on uint32 overflow, which callers treat as a
// ChannelError: credit is strictly additive and must never wrap.
func (w *window) add(win uint32) bool {
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	w.Broadcast()
	w.L.Unlock()
	return true
}

func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// reserve reserves up to win bytes of credit, blocking if none remain. It
// may return less than requested and never blocks other channels: each
// channel owns its own window.
func (w *window) reserve(win uint32) (uint32, error) {
	var err error
	w.L.Lock()
	w.writeWaiters++
	w.Broadcast()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	w.writeWaiters--
	if w.win < win {
		win = w.win
	}
	w.win -= win
	if w.closed {
		err = io.EOF
	}
	w.L.Unlock()
	return win, err
}

// waitWriterBlocked waits until some goroutine is parked on reserve. Used
// in tests that need a writer observably stalled on an empty window.
func (w *window) waitWriterBlocked() {
	w.Cond.L.Lock()
	for w.writeWaiters == 0 {
		w.Cond.Wait()
	}
	w.Cond.L.Unlock()
}
