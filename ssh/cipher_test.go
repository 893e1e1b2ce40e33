// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStreamCipherPair builds a matched pair of aes128-ctr/hmac-sha2-256
// packetCiphers sharing one key schedule, the way a handshake would hand
// one keying direction to each side.
func newStreamCipherPair(t *testing.T) (packetCipher, packetCipher) {
	t.Helper()
	factory := cipherModes["aes128-ctr"]
	require.NotNil(t, factory)
	mm := macModes["hmac-sha2-256"]
	require.NotNil(t, mm)

	key := make([]byte, factory.keySize)
	iv := make([]byte, factory.ivSize)
	macKey := make([]byte, mm.keySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range iv {
		iv[i] = byte(i + 2)
	}
	for i := range macKey {
		macKey[i] = byte(i + 3)
	}

	writer, err := factory.create(key, iv, mm, macKey)
	require.NoError(t, err)
	reader, err := factory.create(key, iv, mm, macKey)
	require.NoError(t, err)
	return writer, reader
}

// TestCipherRoundTrip checks that a packet written by one side of a
// aes128-ctr/hmac-sha2-256 pair is read back unchanged by the other.
func TestCipherRoundTrip(t *testing.T) {
	writer, reader := newStreamCipherPair(t)

	var buf bytes.Buffer
	payload := []byte("session payload under test")
	require.NoError(t, writer.writeCipherPacket(0, &buf, rand.Reader, payload))

	got, err := reader.readCipherPacket(0, &buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestCipherBadMACRejected checks that flipping a single bit in the
// trailing MAC of an otherwise valid packet surfaces as a CryptoError,
// never a silently-accepted or panic-inducing packet.
func TestCipherBadMACRejected(t *testing.T) {
	writer, reader := newStreamCipherPair(t)

	var buf bytes.Buffer
	require.NoError(t, writer.writeCipherPacket(0, &buf, rand.Reader, []byte("hello world")))

	raw := buf.Bytes()
	require.True(t, len(raw) >= 32, "packet should carry a 32-byte hmac-sha2-256 tag")
	raw[len(raw)-1] ^= 0x01

	_, err := reader.readCipherPacket(0, bytes.NewReader(raw))
	require.Error(t, err)
	var cryptoErr *CryptoError
	assert.ErrorAs(t, err, &cryptoErr)
}

// TestCipherWrongSequenceNumberRejected ensures the MAC is bound to the
// packet sequence number, not just its bytes: replaying a valid packet
// under the wrong seqNum must fail the same way a corrupted MAC would.
func TestCipherWrongSequenceNumberRejected(t *testing.T) {
	writer, reader := newStreamCipherPair(t)

	var buf bytes.Buffer
	require.NoError(t, writer.writeCipherPacket(3, &buf, rand.Reader, []byte("hello world")))

	_, err := reader.readCipherPacket(4, bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}
