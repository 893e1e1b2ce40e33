// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPipe returns a connected TCP loopback pair. The version exchange is
// write-then-read on both sides, which deadlocks on an unbuffered
// net.Pipe, so these end-to-end tests need real (buffered) sockets.
func tcpPipe(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan error, 1)
	go func() {
		var aerr error
		server, aerr = l.Accept()
		accepted <- aerr
	}()
	client, err = net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, <-accepted)
	return server, client
}

// TestPasswordAuthSuccess checks that a client offering the correct
// password over a freshly negotiated transport reaches a running
// ssh-connection session.
func TestPasswordAuthSuccess(t *testing.T) {
	a, b := tcpPipe(t)

	serverConf := &ServerConfig{
		PasswordCallback: func(conn ConnMetadata, password []byte) (*Permissions, error) {
			if conn.User() == "alice" && string(password) == "hunter2" {
				return nil, nil
			}
			return nil, errors.New("wrong password")
		},
	}
	serverConf.AddHostKey(testHostKey(t))

	clientConf := &ClientConfig{
		User:            "alice",
		Auth:            []AuthMethod{Password("hunter2")},
		HostKeyCallback: InsecureIgnoreHostKey(),
	}

	serverResult := make(chan error, 1)
	go func() {
		_, _, _, err := NewServerConn(a, serverConf)
		serverResult <- err
	}()

	conn, chans, reqs, err := NewClientConn(b, "pipe", clientConf)
	require.NoError(t, err)
	defer conn.Close()
	go DiscardChannels(chans)
	go DiscardRequests(reqs)

	assert.NoError(t, <-serverResult)
	assert.Equal(t, "alice", conn.User())
	assert.Equal(t, 32, len(conn.SessionID()))
}

// TestPasswordAuthWrongPassword checks that a wrong password does not
// produce a usable connection on either side.
func TestPasswordAuthWrongPassword(t *testing.T) {
	a, b := tcpPipe(t)

	serverConf := &ServerConfig{
		PasswordCallback: func(conn ConnMetadata, password []byte) (*Permissions, error) {
			return nil, errors.New("wrong password")
		},
	}
	serverConf.AddHostKey(testHostKey(t))

	clientConf := &ClientConfig{
		User:            "alice",
		Auth:            []AuthMethod{Password("wrong")},
		HostKeyCallback: InsecureIgnoreHostKey(),
	}

	serverResult := make(chan error, 1)
	go func() {
		_, _, _, err := NewServerConn(a, serverConf)
		serverResult <- err
	}()

	_, _, _, err := NewClientConn(b, "pipe", clientConf)
	assert.Error(t, err)
	assert.Error(t, <-serverResult)
}
