// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// directTCPIPPayload is the CHANNEL_OPEN type-specific data for a
// "direct-tcpip" channel (RFC 4254 section 7.2).
type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// forwardedTCPIPPayload is the CHANNEL_OPEN type-specific data for a
// "forwarded-tcpip" channel (RFC 4254 section 7.2), sent by the server
// when a connection arrives on a port the client asked it to forward.
type forwardedTCPIPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// tcpipForwardPayload is the GLOBAL_REQUEST payload for "tcpip-forward"
// and its "cancel-tcpip-forward" counterpart (RFC 4254 section 7.1).
type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

// DialTCPIP opens a "direct-tcpip" channel (RFC 4254 section 7.2),
// letting the remote side act as a proxy to addr as if the caller had
// dialed it directly. This is the transport-level primitive local port
// forwarding is built on; the forwarding policy belongs to the caller.
func DialTCPIP(conn Conn, addr string) (Channel, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, err
	}
	payload := Marshal(&directTCPIPPayload{
		Host: host, Port: port,
		OriginHost: "0.0.0.0", OriginPort: 0,
	})
	ch, reqs, err := conn.OpenChannel(ChannelTypeDirectTCPIP, payload)
	if err != nil {
		return nil, err
	}
	go ackDiscard(reqs)
	return ch, nil
}

// ForwardListener is the client-side handle for a "tcpip-forward"
// request: remote-forwarded connections arrive as "forwarded-tcpip"
// channels, surfaced here as accepted net.Conn-shaped Channels via
// Accept.
type ForwardListener struct {
	conn     Conn
	addr     string
	port     uint32
	channels <-chan NewChannel
}

// Forward asks the remote side to listen on addr and forward incoming
// connections back as "forwarded-tcpip" channels (RFC 4254 section 7.1,
// the server side of remote port forwarding). channels must be the
// connection's incoming-channel stream, pre-filtered or shared by the
// caller's dispatcher for the "forwarded-tcpip" type.
func Forward(conn Conn, addr string, port uint32, channels <-chan NewChannel) (*ForwardListener, error) {
	ok, _, err := conn.SendRequest("tcpip-forward", true, Marshal(&tcpipForwardPayload{Addr: addr, Port: port}))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("ssh: tcpip-forward request refused")
	}
	return &ForwardListener{conn: conn, addr: addr, port: port, channels: channels}, nil
}

// Accept blocks until a forwarded connection arrives, accepting the
// underlying channel and discarding its out-of-band requests.
func (l *ForwardListener) Accept() (Channel, error) {
	nc, ok := <-l.channels
	if !ok {
		return nil, io.EOF
	}
	ch, reqs, err := nc.Accept()
	if err != nil {
		return nil, err
	}
	go ackDiscard(reqs)
	return ch, nil
}

// Close asks the remote side to stop forwarding.
func (l *ForwardListener) Close() error {
	_, _, err := l.conn.SendRequest("cancel-tcpip-forward", true, Marshal(&tcpipForwardPayload{Addr: l.addr, Port: l.port}))
	return err
}

// HandleDirectTCPIP is a ChannelHandler for servers that allow
// "direct-tcpip" channels: it dials the requested host:port and
// pipes bytes in both directions until either side closes. Register it
// under ChannelTypeDirectTCPIP on a ChannelRegistry to enable local port
// forwarding for accepted clients.
func HandleDirectTCPIP(conn *ServerConn, newChannel NewChannel) {
	var p directTCPIPPayload
	if err := Unmarshal(newChannel.ExtraData(), &p); err != nil {
		newChannel.Reject(Prohibited, "malformed direct-tcpip request")
		return
	}
	target := net.JoinHostPort(p.Host, fmt.Sprint(p.Port))
	dst, err := net.Dial("tcp", target)
	if err != nil {
		newChannel.Reject(ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newChannel.Accept()
	if err != nil {
		dst.Close()
		return
	}
	go ackDiscard(reqs)
	pipeChannel(ch, dst)
}

// pipeChannel copies data bidirectionally between an SSH Channel and a
// plain net.Conn, closing both once both directions finish.
func pipeChannel(ch Channel, conn net.Conn) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(conn, ch)
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(ch, conn)
		ch.CloseWrite()
		return err
	})
	g.Wait()
	ch.Close()
	conn.Close()
}

// ackDiscard replies false to every request on a channel's side-band
// stream; used by forwarding paths that don't expect any.
func ackDiscard(reqs <-chan *Request) {
	DiscardRequests(reqs)
}

// DiscardRequests replies false to every request received on reqs until
// it is closed. Use it for global or channel request streams the caller
// has no use for, so the mux never blocks delivering them.
func DiscardRequests(reqs <-chan *Request) {
	for r := range reqs {
		if r.WantReply {
			r.Reply(false, nil)
		}
	}
}

// DiscardChannels rejects every incoming channel on chans until it is
// closed. Use it on the side of a connection that never expects the peer
// to open channels.
func DiscardChannels(chans <-chan NewChannel) {
	for nc := range chans {
		nc.Reject(Prohibited, "channels not accepted")
	}
}

func parsePort(s string) (uint32, error) {
	var n uint32
	if s == "" {
		return 0, errors.New("ssh: empty port")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("ssh: invalid port %q", s)
		}
		n = n*10 + uint32(c-'0')
	}
	return n, nil
}
