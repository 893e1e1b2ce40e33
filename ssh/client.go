// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"net"
	"time"
)

const clientVersion = "SSH-2.0-relaylink_sshc_1.0"

// Dial opens a TCP connection to addr and runs the client side of the
// version exchange, transport handshake, and userauth, returning the
// post-auth Conn plus the incoming channel/request streams of the
// ssh-connection service.
func Dial(network, addr string, config *ClientConfig) (*ClientConn, <-chan NewChannel, <-chan *Request, error) {
	c, err := net.DialTimeout(network, addr, time.Duration(config.Timeout)*time.Second)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, chans, reqs, err := NewClientConn(c, addr, config)
	if err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	return conn, chans, reqs, nil
}

// NewClientConn runs the client side of the handshake and authentication
// over an already-dialed net.Conn, mirroring NewServerConn.
func NewClientConn(c net.Conn, addr string, config *ClientConfig) (*ClientConn, <-chan NewChannel, <-chan *Request, error) {
	fullConf := *config
	fullConf.SetDefaults()
	if fullConf.HostKeyCallback == nil {
		return nil, nil, nil, errors.New("ssh: must specify HostKeyCallback")
	}

	ourVersionLine := []byte(clientVersion)
	if fullConf.ClientVersion != "" {
		ourVersionLine = []byte(fullConf.ClientVersion)
	}
	serverVersion, err := exchangeVersions(c, ourVersionLine, false)
	if err != nil {
		return nil, nil, nil, err
	}

	tr := newTransport(c, fullConf.Rand, true)
	var dialAddr net.Addr = c.RemoteAddr()
	ht := newClientTransport(tr, ourVersionLine, serverVersion, &fullConf, addr, dialAddr)

	cm := fullConf.Metrics.forConn()
	ht.onRekey = cm.rekeyed

	if err := ht.requestInitialKeyChange(); err != nil {
		ht.Close()
		return nil, nil, nil, err
	}

	conn := newConnection(ht, c, true, cm)
	conn.clientVersion = ourVersionLine
	conn.serverVersion = serverVersion
	conn.sessionID = ht.getSessionID()

	if err := conn.clientAuthenticate(&fullConf); err != nil {
		ht.Close()
		return nil, nil, nil, err
	}

	go conn.mux.loop()

	return &ClientConn{connection: conn}, conn.mux.incomingChannels, conn.mux.incomingRequests, nil
}
