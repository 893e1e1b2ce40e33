// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalRoundTrip checks Unmarshal(Marshal(m)) == m across several
// representative message shapes: a KEXINIT (name-lists, a bool and a
// fixed byte array), a message with a raw trailing byte slice, a request
// payload with no leading type byte, and a disconnect carrying strings.
func TestMarshalRoundTrip(t *testing.T) {
	t.Run("kexInitMsg", func(t *testing.T) {
		in := &KexInitMsg{
			KexAlgos:                []string{"curve25519-sha256", "diffie-hellman-group14-sha256"},
			ServerHostKeyAlgos:      []string{"ssh-ed25519"},
			CiphersClientServer:     []string{"aes128-ctr"},
			CiphersServerClient:     []string{"aes128-ctr"},
			MACsClientServer:        []string{"hmac-sha2-256"},
			MACsServerClient:        []string{"hmac-sha2-256"},
			CompressionClientServer: []string{"none"},
			CompressionServerClient: []string{"none"},
			FirstKexFollows:         true,
		}
		copy(in.Cookie[:], "0123456789abcdef")

		packet := Marshal(in)
		assert.Equal(t, uint8(msgKexInit), packet[0])

		var out KexInitMsg
		require.NoError(t, Unmarshal(packet, &out))
		assert.Equal(t, in.KexAlgos, out.KexAlgos)
		assert.Equal(t, in.ServerHostKeyAlgos, out.ServerHostKeyAlgos)
		assert.Equal(t, in.CiphersClientServer, out.CiphersClientServer)
		assert.Equal(t, in.FirstKexFollows, out.FirstKexFollows)
		assert.Equal(t, in.Cookie, out.Cookie)
	})

	t.Run("channelDataMsg", func(t *testing.T) {
		in := &channelDataMsg{PeersID: 7, Length: 5, Rest: []byte("hello")}
		packet := Marshal(in)

		var out channelDataMsg
		require.NoError(t, Unmarshal(packet, &out))
		assert.Equal(t, in.PeersID, out.PeersID)
		assert.Equal(t, in.Rest, out.Rest)
	})

	t.Run("channel request payload has no leading type byte", func(t *testing.T) {
		in := &PTYRequestPayload{Term: "xterm-256color", Width: 80, Height: 24, Modes: "\x00"}
		payload := Marshal(in)
		assert.Equal(t, []byte{0, 0, 0, byte(len(in.Term))}, payload[:4])

		var out PTYRequestPayload
		require.NoError(t, Unmarshal(payload, &out))
		assert.Equal(t, *in, out)
	})

	t.Run("disconnectMsg", func(t *testing.T) {
		in := &disconnectMsg{Reason: uint32(DisconnectProtocolError), Message: "bad framing", Language: "en"}
		packet := Marshal(in)
		assert.Equal(t, uint8(msgDisconnect), packet[0])

		var out disconnectMsg
		require.NoError(t, Unmarshal(packet, &out))
		assert.Equal(t, in.Reason, out.Reason)
		assert.Equal(t, in.Message, out.Message)
	})
}
