// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"net"
)

// Conn is the common surface both ServerConn and ClientConn implement:
// it is the post-auth handle onto the ssh-connection service, plus the
// ConnMetadata facts recorded during the handshake.
type Conn interface {
	ConnMetadata

	// SendRequest sends a connection-level global request (e.g.
	// tcpip-forward) and optionally waits for the reply.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)

	// OpenChannel tries to open a channel. If the remote side rejects it,
	// the error is of type *OpenChannelError.
	OpenChannel(name string, data []byte) (Channel, <-chan *Request, error)

	// Close closes the underlying network connection.
	Close() error

	// Wait blocks until the connection has shut down and returns the
	// error causing the shutdown.
	Wait() error
}

// OpenChannelError is returned by Conn.OpenChannel when the peer rejects
// the CHANNEL_OPEN with a CHANNEL_OPEN_FAILURE.
type OpenChannelError struct {
	Reason  RejectionReason
	Message string
}

func (e *OpenChannelError) Error() string {
	return "ssh: rejected channel: " + e.Message + " (" + e.Reason.String() + ")"
}

// connection is the shared implementation backing both ServerConn and
// ClientConn: one handshakeTransport plus one mux. It also satisfies
// ConnMetadata so authentication callbacks can be handed it directly.
type connection struct {
	transport packetConn
	mux       *mux

	user          string
	sessionID     []byte
	clientVersion []byte
	serverVersion []byte

	localAddr  net.Addr
	remoteAddr net.Addr

	underlying net.Conn
}

func (c *connection) User() string          { return c.user }
func (c *connection) SessionID() []byte     { return c.sessionID }
func (c *connection) ClientVersion() []byte { return c.clientVersion }
func (c *connection) ServerVersion() []byte { return c.serverVersion }
func (c *connection) RemoteAddr() net.Addr  { return c.remoteAddr }
func (c *connection) LocalAddr() net.Addr   { return c.localAddr }

func (c *connection) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.mux.SendRequest(name, wantReply, payload)
}

func (c *connection) OpenChannel(name string, data []byte) (Channel, <-chan *Request, error) {
	ch, reqs, err := c.mux.OpenChannel(name, data)
	if err != nil {
		if oe, ok := err.(*openChannelFailure); ok {
			return nil, nil, &OpenChannelError{Reason: oe.reason, Message: oe.message}
		}
		return nil, nil, err
	}
	return ch, reqs, nil
}

func (c *connection) Close() error { return c.underlying.Close() }
func (c *connection) Wait() error  { return c.mux.Wait() }

// CloseGracefully sends a DISCONNECT(by application) so the peer learns
// why the transport ended, then closes the socket. Writes in this
// implementation are synchronous, so there is no outbound queue left to
// drain beyond the disconnect packet itself.
func (c *connection) CloseGracefully() error {
	if ht, ok := c.transport.(*handshakeTransport); ok {
		return ht.sendDisconnect(DisconnectByApplication, "connection closed by application")
	}
	return c.underlying.Close()
}

// openChannelFailure is the internal error mux.go's OpenChannel returns
// on CHANNEL_OPEN_FAILURE; connection.OpenChannel translates it into the
// exported *OpenChannelError.
type openChannelFailure struct {
	reason  RejectionReason
	message string
}

func (e *openChannelFailure) Error() string { return e.message }

// ServerConn is the server-side handle returned once the handshake and
// authentication have both completed.
type ServerConn struct {
	*connection
	Permissions *Permissions
}

// ClientConn is the client-side handle returned once the handshake and
// authentication have both completed.
type ClientConn struct {
	*connection
}

// newConnection creates the shared connection plumbing over an already
// version-exchanged, keyed packetConn. Both NewServerConn and
// NewClientConn call this once the handshakeTransport's first key
// exchange is done, before user authentication runs.
func newConnection(t *handshakeTransport, underlying net.Conn, isClient bool, metrics *connMetrics) *connection {
	c := &connection{
		transport:  t,
		underlying: underlying,
		localAddr:  underlying.LocalAddr(),
		remoteAddr: underlying.RemoteAddr(),
	}
	c.mux = newMux(t, isClient, metrics)
	return c
}
