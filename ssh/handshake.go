// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// HandshakeLog accumulates handshake-visible detail for diagnostics: the
// negotiated Algorithms (whenever Config.ConnLog is set) and, only when
// Config.Verbose is also set, the two KEXINITs, the two version strings
// and the raw kexResult. Safe to marshal to JSON for an audit sink.
type HandshakeLog struct {
	ClientKex          *KexInitMsg
	ServerKex          *KexInitMsg
	AlgorithmSelection *Algorithms
	Crypto             *kexResult `json:"-"`
	ClientVersion      string
	ServerVersion      string
}

// BannerCallback is called by the client with the server's banner, if
// one was sent (RFC 4252 section 5.4). Return a non-nil error to abort.
type BannerCallback func(message string) error

// HostKeyCallback verifies a server's host key during the client
// handshake. ssh.InsecureIgnoreHostKey and ssh.FixedHostKey are
// constructors for common cases (knownhosts.go provides a third:
// KnownHosts.HostKeyCallback, backed by an OpenSSH known_hosts file).
type HostKeyCallback func(hostname string, remote net.Addr, key PublicKey) error

// InsecureIgnoreHostKey returns a HostKeyCallback that accepts any host
// key. Using it defeats the protection host-key verification provides;
// it exists for tests and first-connection bootstrapping flows only.
func InsecureIgnoreHostKey() HostKeyCallback {
	return func(hostname string, remote net.Addr, key PublicKey) error { return nil }
}

// FixedHostKey returns a HostKeyCallback that accepts only a single,
// pre-known key.
func FixedHostKey(key PublicKey) HostKeyCallback {
	marshaled := key.Marshal()
	return func(hostname string, remote net.Addr, got PublicKey) error {
		if !bytesEqual(got.Marshal(), marshaled) {
			return errors.New("ssh: host key mismatch")
		}
		return nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// handshakeTransport implements rekeying (by byte count and by wall
// clock) on top of a keyingTransport, and offers a thread-safe
// writePacket interface to the layers above it. KEXINIT and NEWKEYS
// never escape upward: key exchanges, including RFC 8308 strict-KEX
// handling, run entirely inside the read loop.
type handshakeTransport struct {
	conn   keyingTransport
	config *Config

	serverVersion []byte
	clientVersion []byte

	// hostKeys is non-empty on the server: every key it may present.
	hostKeys []Signer

	// hostKeyAlgorithms is non-empty on the client: the key types it
	// will accept from the server.
	hostKeyAlgorithms []string

	incoming  chan []byte
	readError error

	hostKeyCallback HostKeyCallback
	dialAddress     string
	remoteAddr      net.Addr
	bannerCallback  BannerCallback

	readSinceKex uint64

	mu              sync.Mutex
	cond            *sync.Cond
	sentInitPacket  []byte
	sentInitMsg     *KexInitMsg
	writtenSinceKex uint64
	writeError      error

	lastKexTime time.Time

	strictKex bool

	sessionID []byte

	// onRekey, if set, is called after every key exchange that is not the
	// connection's first; the metrics layer hangs its rekey counter here.
	onRekey func()

	// metrics counts payload bytes per direction; nil-safe, set before
	// the read loop starts.
	metrics *connMetrics
}

func newHandshakeTransport(conn keyingTransport, config *Config, clientVersion, serverVersion []byte) *handshakeTransport {
	t := &handshakeTransport{
		conn:          conn,
		serverVersion: serverVersion,
		clientVersion: clientVersion,
		incoming:      make(chan []byte, 16),
		config:        config,
		lastKexTime:   time.Now(),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func newClientTransport(conn keyingTransport, clientVersion, serverVersion []byte, config *ClientConfig, dialAddr string, addr net.Addr) *handshakeTransport {
	t := newHandshakeTransport(conn, &config.Config, clientVersion, serverVersion)
	t.dialAddress = dialAddr
	t.remoteAddr = addr
	t.hostKeyCallback = config.HostKeyCallback
	t.bannerCallback = config.BannerCallback
	if config.HostKeyAlgorithms != nil {
		t.hostKeyAlgorithms = config.HostKeyAlgorithms
	} else {
		t.hostKeyAlgorithms = supportedHostKeyAlgos
	}
	t.metrics = config.Metrics.forConn()
	go t.readLoop()
	return t
}

func newServerTransport(conn keyingTransport, clientVersion, serverVersion []byte, config *ServerConfig) *handshakeTransport {
	t := newHandshakeTransport(conn, &config.Config, clientVersion, serverVersion)
	t.hostKeys = config.hostKeys
	t.metrics = config.Metrics.forConn()
	go t.readLoop()
	return t
}

func (t *handshakeTransport) getSessionID() []byte { return t.sessionID }

func (t *handshakeTransport) id() string {
	if len(t.hostKeys) > 0 {
		return "server"
	}
	return "client"
}

func (t *handshakeTransport) readPacket() ([]byte, error) {
	p, ok := <-t.incoming
	if !ok {
		return nil, t.readError
	}
	return p, nil
}

func (t *handshakeTransport) readLoop() {
	for {
		p, err := t.readOnePacket()
		if err != nil {
			t.readError = err
			close(t.incoming)
			break
		}
		if p[0] == msgIgnore || p[0] == msgDebug {
			continue
		}
		t.incoming <- p
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeError == nil {
		t.writeError = t.readError
	}
	t.cond.Broadcast()
}

// rekeyDue reports whether either rekey trigger -- byte count or wall
// clock -- has fired. The threshold applies to bytes sent or received;
// the write side is checked separately in rekeyDueLocked because
// writtenSinceKex is guarded by t.mu.
func (t *handshakeTransport) rekeyDue() bool {
	if t.readSinceKex > t.config.RekeyThreshold {
		return true
	}
	interval := time.Duration(t.config.RekeyInterval) * time.Second
	return interval > 0 && time.Since(t.lastKexTime) > interval
}

// rekeyDueLocked is rekeyDue plus the write-side byte counter. Caller
// holds t.mu.
func (t *handshakeTransport) rekeyDueLocked() bool {
	return t.writtenSinceKex > t.config.RekeyThreshold || t.rekeyDue()
}

func (t *handshakeTransport) readOnePacket() ([]byte, error) {
	if t.rekeyDue() {
		if err := t.requestKeyChange(); err != nil {
			return nil, err
		}
	}

	p, err := t.conn.readPacket()
	if err != nil {
		return nil, err
	}

	t.readSinceKex += uint64(len(p))
	t.metrics.readBytes(len(p))
	if p[0] == msgDisconnect {
		var d disconnectMsg
		if uerr := Unmarshal(p, &d); uerr == nil {
			return nil, &DisconnectError{Reason: DisconnectReason(d.Reason), Message: d.Message}
		}
	}
	if p[0] != msgKexInit {
		return p, nil
	}

	t.mu.Lock()
	firstKex := t.sessionID == nil

	var kexErr error
	if !t.config.HelloOnly {
		kexErr = t.enterKeyExchangeLocked(p)
		if kexErr != nil {
			t.conn.Close()
			t.writeError = kexErr
		}
	}
	t.sentInitMsg = nil
	t.sentInitPacket = nil
	t.cond.Broadcast()
	t.writtenSinceKex = 0
	t.mu.Unlock()

	if kexErr != nil {
		return nil, kexErr
	}
	t.readSinceKex = 0
	t.lastKexTime = time.Now()

	successPacket := []byte{msgIgnore}
	if firstKex {
		successPacket = []byte{msgNewKeys}
	}
	return successPacket, nil
}

type keyChangeCategory bool

const (
	firstKeyExchange      keyChangeCategory = true
	subsequentKeyExchange keyChangeCategory = false
)

// sendKexInit sends a KEXINIT, blocking until the peer's NEWKEYS arrives
// if this is the first exchange on the connection, so that user
// authentication is guaranteed to run over an encrypted transport.
func (t *handshakeTransport) sendKexInit(isFirst keyChangeCategory) error {
	var err error
	t.mu.Lock()
	if !isFirst || t.sessionID == nil {
		_, _, err = t.sendKexInitLocked(isFirst)
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if isFirst {
		packet, err := t.readPacket()
		if err != nil {
			return err
		}
		if packet[0] != msgNewKeys {
			return unexpectedMessageError(msgNewKeys, packet[0])
		}
	}
	return nil
}

func (t *handshakeTransport) requestInitialKeyChange() error { return t.sendKexInit(firstKeyExchange) }
func (t *handshakeTransport) requestKeyChange() error        { return t.sendKexInit(subsequentKeyExchange) }

func (t *handshakeTransport) sendKexInitLocked(isFirst keyChangeCategory) (*KexInitMsg, []byte, error) {
	if t.sentInitMsg != nil {
		return t.sentInitMsg, t.sentInitPacket, nil
	}

	msg := &KexInitMsg{
		KexAlgos:                t.config.KeyExchanges,
		CiphersClientServer:     t.config.Ciphers,
		CiphersServerClient:     t.config.Ciphers,
		MACsClientServer:        t.config.MACs,
		MACsServerClient:        t.config.MACs,
		CompressionClientServer: supportedCompressions,
		CompressionServerClient: supportedCompressions,
	}
	if t.config.StrictKex {
		if len(t.hostKeys) > 0 {
			msg.KexAlgos = append(append([]string{}, t.config.KeyExchanges...), strictKexServer)
		} else {
			msg.KexAlgos = append(append([]string{}, t.config.KeyExchanges...), strictKexClient)
		}
	}
	io.ReadFull(t.config.Rand, msg.Cookie[:])

	if len(t.hostKeys) > 0 {
		for _, k := range t.hostKeys {
			msg.ServerHostKeyAlgos = append(msg.ServerHostKeyAlgos, k.PublicKey().Type())
		}
	} else {
		msg.ServerHostKeyAlgos = t.hostKeyAlgorithms
	}
	packet := Marshal(msg)

	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)
	if err := t.conn.writePacket(packetCopy); err != nil {
		return nil, nil, err
	}

	t.sentInitMsg = msg
	t.sentInitPacket = packet
	return msg, packet, nil
}

func (t *handshakeTransport) writePacket(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rekeyDueLocked() {
		t.sendKexInitLocked(subsequentKeyExchange)
	}
	for t.sentInitMsg != nil && t.writeError == nil {
		t.cond.Wait()
	}
	if t.writeError != nil {
		return t.writeError
	}
	t.writtenSinceKex += uint64(len(p))
	t.metrics.wroteBytes(len(p))

	switch p[0] {
	case msgKexInit:
		return errors.New("ssh: only handshakeTransport can send kexInit")
	case msgNewKeys:
		return errors.New("ssh: only handshakeTransport can send newKeys")
	default:
		return t.conn.writePacket(p)
	}
}

// sendDisconnect sends a fatal SSH_MSG_DISCONNECT and closes the
// transport, per RFC 4253 section 11.1.
func (t *handshakeTransport) sendDisconnect(reason DisconnectReason, message string) error {
	t.conn.writePacket(Marshal(&disconnectMsg{Reason: uint32(reason), Message: message}))
	return t.conn.Close()
}

func (t *handshakeTransport) Close() error { return t.conn.Close() }

func (t *handshakeTransport) enterKeyExchangeLocked(otherInitPacket []byte) error {
	myInit, myInitPacket, err := t.sendKexInitLocked(subsequentKeyExchange)
	if err != nil {
		return err
	}

	if t.config.ConnLog != nil && t.config.Verbose {
		t.config.ConnLog.ClientVersion = string(t.clientVersion)
		t.config.ConnLog.ServerVersion = string(t.serverVersion)
	}

	otherInit := &KexInitMsg{}
	if err := Unmarshal(otherInitPacket, otherInit); err != nil {
		return err
	}

	magics := handshakeMagics{
		clientVersion: t.clientVersion,
		serverVersion: t.serverVersion,
		clientKexInit: otherInitPacket,
		serverKexInit: myInitPacket,
	}

	clientInit, serverInit := otherInit, myInit
	if len(t.hostKeys) == 0 {
		clientInit, serverInit = myInit, otherInit
		magics.clientKexInit = myInitPacket
		magics.serverKexInit = otherInitPacket
	}
	if t.config.ConnLog != nil && t.config.Verbose {
		t.config.ConnLog.ClientKex = clientInit
		t.config.ConnLog.ServerKex = serverInit
	}

	algs, err := findAgreedAlgorithms(clientInit, serverInit)
	if err != nil {
		return err
	}
	if t.config.ConnLog != nil {
		t.config.ConnLog.AlgorithmSelection = algs
	}

	if otherInit.FirstKexFollows && (clientInit.KexAlgos[0] != serverInit.KexAlgos[0] || clientInit.ServerHostKeyAlgos[0] != serverInit.ServerHostKeyAlgos[0]) {
		if _, err := t.conn.readPacket(); err != nil {
			return err
		}
	}

	kex, ok := kexAlgoMap[algs.Kex]
	if !ok {
		return fmt.Errorf("ssh: unexpected key exchange algorithm %v", algs.Kex)
	}

	var result *kexResult
	if len(t.hostKeys) > 0 {
		result, err = t.server(kex, algs, &magics)
	} else {
		result, err = t.client(kex, algs, &magics)
	}
	if err != nil {
		return err
	}
	if t.config.ConnLog != nil && t.config.Verbose {
		t.config.ConnLog.Crypto = result
	}

	firstKex := t.sessionID == nil
	if firstKex {
		t.sessionID = result.H
	} else if t.onRekey != nil {
		t.onRekey()
	}
	result.SessionID = t.sessionID

	if err := t.conn.prepareKeyChange(orientedAlgorithms(algs, len(t.hostKeys) > 0), result); err != nil {
		return err
	}
	if err := t.conn.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	packet, err := t.conn.readPacket()
	if err != nil {
		return err
	}
	if packet[0] != msgNewKeys {
		return unexpectedMessageError(msgNewKeys, packet[0])
	}

	if firstKex && algs.StrictKex {
		t.conn.resetSequenceNumbers()
		t.strictKex = true
	}

	return nil
}

// orientedAlgorithms reorders the negotiated DirectionAlgorithms so that
// W is always "this side's write direction": Algorithms.W/R are recorded
// from the client's point of view (client-to-server / server-to-client),
// so the server must swap them before calling prepareKeyChange.
func orientedAlgorithms(algs *Algorithms, isServer bool) *Algorithms {
	if !isServer {
		return algs
	}
	swapped := *algs
	swapped.W, swapped.R = algs.R, algs.W
	return &swapped
}

func (t *handshakeTransport) server(kex kexAlgorithm, algs *Algorithms, magics *handshakeMagics) (*kexResult, error) {
	var hostKey Signer
	for _, k := range t.hostKeys {
		if algs.HostKey == k.PublicKey().Type() {
			hostKey = k
		}
	}
	if hostKey == nil {
		return nil, fmt.Errorf("ssh: no host key for algorithm %v", algs.HostKey)
	}
	return kex.Server(t.conn.(kexTransport), t.config.Rand, magics, hostKey, t.config)
}

func (t *handshakeTransport) client(kex kexAlgorithm, algs *Algorithms, magics *handshakeMagics) (*kexResult, error) {
	result, err := kex.Client(t.conn.(kexTransport), t.config.Rand, magics, t.config)
	if err != nil {
		return nil, err
	}

	hostKey, _, ok := ParsePublicKey(result.HostKey)
	if !ok {
		return nil, &WireFormatError{"invalid host key"}
	}
	if err := verifyHostKeySignature(hostKey, result); err != nil {
		return nil, err
	}
	if t.hostKeyCallback != nil {
		if err := t.hostKeyCallback(t.dialAddress, t.remoteAddr, hostKey); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func verifyHostKeySignature(hostKey PublicKey, result *kexResult) error {
	sig := new(signature)
	if err := Unmarshal(result.Signature, sig); err != nil {
		return err
	}
	if !hostKey.Verify(result.H, sig.Blob) {
		return &CryptoError{"host key signature verification failed"}
	}
	return nil
}
