// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// maxVersionLineLength is RFC 4253 section 4.2's 255-byte cap, including
// the terminating CRLF.
const maxVersionLineLength = 255

func readVersion(r io.Reader) ([]byte, error) {
	var ok bool
	var buf [maxVersionLineLength]byte

	for length := 0; length < maxVersionLineLength; length++ {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] == '\r' {
			continue
		}
		if b[0] == '\n' {
			ok = true
			break
		}
		buf[length] = b[0]
	}
	if !ok {
		return nil, &WireFormatError{"overlong version line"}
	}
	line := buf[:]
	for len(line) > 0 && line[len(line)-1] == 0 {
		line = line[:len(line)-1]
	}
	return line, nil
}

// exchangeVersions performs the RFC 4253 section 4.2 version exchange:
// the server may emit other CRLF lines before its version line; the
// client must not. Both sides then read the other's version line.
func exchangeVersions(rw io.ReadWriter, versionLine []byte, isServer bool) (them []byte, err error) {
	if _, err = rw.Write(append(versionLine, '\r', '\n')); err != nil {
		return nil, err
	}

	for {
		them, err = readVersion(rw)
		if err != nil {
			return nil, err
		}
		// Before the version line, the server MAY send other lines that
		// don't start with "SSH-"; the client MUST NOT do the same, so
		// only loop on the read side when we are the client.
		if isServer || len(them) >= 4 && string(them[:4]) == "SSH-" {
			break
		}
	}
	return them, nil
}

const ourVersion = "SSH-2.0-relaylink_sshd_1.0"

// NewServerConn runs the version exchange, the transport handshake, and
// the ssh-userauth service over c, then returns the post-auth Conn plus
// the granted Permissions.
func NewServerConn(c net.Conn, config *ServerConfig) (*ServerConn, <-chan NewChannel, <-chan *Request, error) {
	fullConf := *config
	fullConf.SetDefaults()
	if len(fullConf.hostKeys) == 0 {
		return nil, nil, nil, errors.New("ssh: server has no host keys")
	}
	if !fullConf.NoClientAuth && fullConf.PasswordCallback == nil && fullConf.PublicKeyCallback == nil &&
		fullConf.KeyboardInteractiveCallback == nil && fullConf.NoClientAuthCallback == nil {
		return nil, nil, nil, errors.New("ssh: no authentication methods configured")
	}

	// The auth budget is enforced with a one-shot timer that severs the
	// socket: a peer that stalls mid-handshake or mid-auth unblocks every
	// pending read with an error instead of holding the goroutine forever.
	if fullConf.AuthTimeout > 0 {
		authTimer := time.AfterFunc(time.Duration(fullConf.AuthTimeout)*time.Second, func() { c.Close() })
		defer authTimer.Stop()
	}

	ourVersionLine := []byte(ourVersion)
	if fullConf.ServerVersion != "" {
		ourVersionLine = []byte(fullConf.ServerVersion)
	}
	clientVersion, err := exchangeVersions(c, ourVersionLine, true)
	if err != nil {
		return nil, nil, nil, err
	}

	var tc net.Conn = c
	if fullConf.IdleTimeout > 0 {
		tc = &idleTimeoutConn{Conn: c, timeout: time.Duration(fullConf.IdleTimeout) * time.Second}
	}
	tr := newTransport(tc, fullConf.Rand, false)
	ht := newServerTransport(tr, clientVersion, ourVersionLine, &fullConf)

	cm := fullConf.Metrics.forConn()
	ht.onRekey = cm.rekeyed

	if err := ht.requestInitialKeyChange(); err != nil {
		ht.Close()
		return nil, nil, nil, err
	}

	conn := newConnection(ht, c, false, cm)
	conn.clientVersion = clientVersion
	conn.serverVersion = ourVersionLine
	conn.sessionID = ht.getSessionID()

	pipe := &authPipe{conn: conn, config: &fullConf}
	var perms *Permissions
	if fullConf.NoClientAuth {
		perms = &Permissions{}
	} else {
		perms, err = pipe.serverAuthenticate()
		if err != nil {
			ht.sendDisconnect(DisconnectNoMoreAuthMethods, err.Error())
			return nil, nil, nil, err
		}
	}

	go conn.mux.loop()

	return &ServerConn{connection: conn, Permissions: perms}, conn.mux.incomingChannels, conn.mux.incomingRequests, nil
}

// idleTimeoutConn re-arms a read deadline before every Read so a
// transport whose peer goes silent for longer than timeout fails its next
// read instead of idling forever.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

// Server is a convenience wrapper around net.Listener + NewServerConn +
// a ChannelRegistry: accept loop, dispatch, one goroutine per
// connection. What the channel handlers do (SFTP, shell, exec) is the
// host application's business.
type Server struct {
	Config   *ServerConfig
	Channels *ChannelRegistry
	Metrics  *Metrics
	Audit    AuditSink

	// GlobalRequestHandler, if set, is invoked for requests not tied to
	// any channel (e.g. tcpip-forward).
	GlobalRequestHandler func(conn *ServerConn, req *Request)
}

// Serve accepts connections from l until it returns an error (including
// l.Close() being called from another goroutine), handling each
// concurrently.
func (s *Server) Serve(l net.Listener) error {
	if s.Audit == nil {
		s.Audit = NopAuditSink{}
	}
	if s.Config.Metrics == nil {
		s.Config.Metrics = s.Metrics
	}
	for {
		c, err := l.Accept()
		if err != nil {
			return err
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()

	sc, chans, reqs, err := NewServerConn(c, s.Config)
	if err != nil {
		s.Audit.Publish(AuditEvent{Kind: "handshake_failed", RemoteAddr: c.RemoteAddr().String(), Detail: err.Error()})
		return
	}
	if s.Metrics != nil {
		s.Metrics.ActiveSessions.Inc()
		defer s.Metrics.ActiveSessions.Dec()
	}
	s.Audit.Publish(AuditEvent{Kind: "auth_success", SessionID: fmt.Sprintf("%x", sc.SessionID()), Username: sc.User(), RemoteAddr: c.RemoteAddr().String()})

	go func() {
		for req := range reqs {
			if s.GlobalRequestHandler != nil {
				s.GlobalRequestHandler(sc, req)
			} else if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}()

	for nc := range chans {
		if s.Channels != nil {
			go s.Channels.Dispatch(sc, nc)
		} else {
			nc.Reject(Prohibited, "no channel handlers configured")
		}
	}

	sc.Wait()
	s.Audit.Publish(AuditEvent{Kind: "disconnect", SessionID: fmt.Sprintf("%x", sc.SessionID()), Username: sc.User()})
}
