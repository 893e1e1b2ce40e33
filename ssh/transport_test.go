// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransportRoundTrip checks the framing layer round-trips a payload
// unchanged, using the pre-KEX nullCipher over a real net.Conn pair.
func TestTransportRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := newTransport(a, nil, true)
	server := newTransport(b, nil, false)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- client.writePacket([]byte("hello from client"))
	}()

	payload, err := server.readPacket()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, []byte("hello from client"), payload)
}

// TestTransportSequenceMonotonicity checks that each side's read/write
// sequence numbers advance by exactly one per packet and never reset
// outside of resetSequenceNumbers (the strict-KEX path).
func TestTransportSequenceMonotonicity(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := newTransport(a, nil, true)
	server := newTransport(b, nil, false)
	defer client.Close()
	defer server.Close()

	const n = 5
	errs := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := client.writePacket([]byte{byte(i)}); err != nil {
				errs <- err
				return
			}
		}
		errs <- nil
	}()

	for i := 0; i < n; i++ {
		payload, err := server.readPacket()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, payload)
		assert.Equal(t, uint32(i+1), server.readSeqNum)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, uint32(n), client.writeSeqNum)

	server.resetSequenceNumbers()
	assert.Equal(t, uint32(0), server.readSeqNum)
	assert.Equal(t, uint32(0), server.writeSeqNum)
}
