// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHostKey returns a freshly generated ed25519 Signer, the cheapest
// key type to mint for a test fixture.
func testHostKey(t *testing.T) Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return NewSignerFromEd25519Key(priv)
}

// newHandshakePair wires a client and server handshakeTransport together
// over a real (buffered) TCP loopback pair, each with defaulted Config
// knobs, ready to run requestInitialKeyChange concurrently.
func newHandshakePair(t *testing.T, clientCiphers, serverCiphers []string) (*handshakeTransport, *handshakeTransport, func()) {
	t.Helper()
	a, b := tcpPipe(t)

	serverConf := &ServerConfig{}
	serverConf.AddHostKey(testHostKey(t))
	serverConf.Ciphers = serverCiphers
	serverConf.SetDefaults()

	clientConf := &ClientConfig{HostKeyCallback: InsecureIgnoreHostKey()}
	clientConf.Ciphers = clientCiphers
	clientConf.SetDefaults()

	serverTr := newTransport(a, nil, false)
	clientTr := newTransport(b, nil, true)

	serverVersion := []byte("SSH-2.0-test-server")
	clientVersion := []byte("SSH-2.0-test-client")

	server := newServerTransport(serverTr, clientVersion, serverVersion, serverConf)
	client := newClientTransport(clientTr, clientVersion, serverVersion, clientConf, "test-addr", a.LocalAddr())

	return client, server, func() {
		client.Close()
		server.Close()
	}
}

// TestHandshakeBasic checks that both sides reach a running transport
// with matching, non-empty session IDs whose length equals the
// negotiated KEX hash's output size (32 bytes for sha256-based
// curve25519-sha256, the default first offer).
func TestHandshakeBasic(t *testing.T) {
	client, server, closeAll := newHandshakePair(t, nil, nil)
	defer closeAll()

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.requestInitialKeyChange() }()
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.requestInitialKeyChange() }()

	require.NoError(t, <-clientErr)
	require.NoError(t, <-serverErr)

	cid := client.getSessionID()
	sid := server.getSessionID()
	require.NotEmpty(t, cid)
	assert.Equal(t, 32, len(cid))
	assert.Equal(t, cid, sid)
}

// TestHandshakeNegotiationFailure checks that when client and server
// offer disjoint cipher lists, the handshake fails rather than silently
// settling on something neither side offered.
func TestHandshakeNegotiationFailure(t *testing.T) {
	client, server, closeAll := newHandshakePair(t, []string{"aes128-ctr"}, []string{"aes256-ctr"})
	defer closeAll()

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.requestInitialKeyChange() }()
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.requestInitialKeyChange() }()

	err1 := <-clientErr
	err2 := <-serverErr
	assert.True(t, err1 != nil || err2 != nil, "disjoint cipher offers must not negotiate successfully")
}

// TestRekeyUnderLoad checks that a key exchange requested in the middle
// of a packet stream does not drop, reorder or corrupt any payload
// crossing the NEWKEYS boundary.
func TestRekeyUnderLoad(t *testing.T) {
	client, server, closeAll := newHandshakePair(t, nil, nil)
	defer closeAll()

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.requestInitialKeyChange() }()
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.requestInitialKeyChange() }()
	require.NoError(t, <-clientErr)
	require.NoError(t, <-serverErr)

	const n = 40
	writeErr := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := client.writePacket([]byte{msgChannelData, byte(i)}); err != nil {
				writeErr <- err
				return
			}
			if i == n/2 {
				if err := client.requestKeyChange(); err != nil {
					writeErr <- err
					return
				}
			}
		}
		writeErr <- nil
	}()

	for i := 0; i < n; i++ {
		p, err := server.readPacket()
		require.NoError(t, err)
		require.Equal(t, []byte{msgChannelData, byte(i)}, p)
	}
	require.NoError(t, <-writeErr)
}

// TestHandshakeSessionIDStableAcrossRekey covers the testable property
// that session_id is fixed at the first key exchange and never changes
// for the life of the transport, including across later rekeys.
func TestHandshakeSessionIDStableAcrossRekey(t *testing.T) {
	client, server, closeAll := newHandshakePair(t, nil, nil)
	defer closeAll()

	clientErr := make(chan error, 1)
	go func() { clientErr <- client.requestInitialKeyChange() }()
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.requestInitialKeyChange() }()
	require.NoError(t, <-clientErr)
	require.NoError(t, <-serverErr)

	firstID := append([]byte{}, client.getSessionID()...)

	clientRekeyed := make(chan struct{}, 1)
	client.onRekey = func() { clientRekeyed <- struct{}{} }
	serverRekeyed := make(chan struct{}, 1)
	server.onRekey = func() { serverRekeyed <- struct{}{} }

	clientErr = make(chan error, 1)
	go func() { clientErr <- client.requestKeyChange() }()
	serverErr = make(chan error, 1)
	go func() { serverErr <- server.requestKeyChange() }()
	require.NoError(t, <-clientErr)
	require.NoError(t, <-serverErr)

	<-clientRekeyed
	<-serverRekeyed

	assert.Equal(t, firstID, client.getSessionID())
}
