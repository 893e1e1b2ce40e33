// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
	"sync"
)

// NewChannel represents an incoming CHANNEL_OPEN request. The receiver
// must call Accept or Reject exactly once.
type NewChannel interface {
	Accept() (Channel, <-chan *Request, error)
	Reject(reason RejectionReason, message string) error
	ChannelType() string
	ExtraData() []byte
}

// Channel is a bidirectional, flow-controlled logical byte stream
// multiplexed over one transport. It implements io.ReadWriteCloser plus
// half-close and out-of-band requests (RFC 4254 section 5).
type Channel interface {
	io.Reader
	io.Writer
	io.Closer

	CloseWrite() error
	SendRequest(name string, wantReply bool, payload []byte) (bool, error)
	Stderr() io.ReadWriter
}

// Request is an out-of-band channel or global request (CHANNEL_REQUEST or
// GLOBAL_REQUEST).
type Request struct {
	Type      string
	WantReply bool
	Payload   []byte

	ch       *channel
	mux      *mux
	isGlobal bool
}

// Reply answers a request for which WantReply is true; it is a no-op
// if WantReply was false.
func (r *Request) Reply(ok bool, payload []byte) error {
	if !r.WantReply {
		return nil
	}
	if r.isGlobal {
		return r.mux.ackRequest(ok, payload)
	}
	return r.ch.ackRequest(ok)
}

// channelState tracks a channel's lifecycle:
// opening -> open -> closing -> closed, with EOF flags tracked
// per-direction alongside.
type channelState int

const (
	channelOpening channelState = iota
	channelOpen
	channelClosing
	channelClosed
)

// channel is the concrete Channel/NewChannel implementation. One exists
// per open or half-open logical stream; the mux owns the table of them.
type channel struct {
	packetConn packetConn
	mux        *mux

	chanType  string
	extraData []byte

	localID, remoteID uint32

	maxIncomingPayload uint32
	maxRemotePayload   uint32

	myWindow  window
	remoteWin window

	decided bool // set once Accept/Reject has been called on an incoming channel

	mu            sync.Mutex
	state         channelState
	eofReceived   bool
	closeReceived bool
	sentEOF       bool
	sentClose     bool

	incomingRequests chan *Request
	msg              chan interface{}

	// readData/extData hold the per-direction byte queues delivered to
	// Read/Stderr().Read; kept separate from the window type (the
	// flow-control credit counter) so "how much may I send" and "what
	// have I received but not yet read" stay distinct concerns.
	readData *dataQueue
	extData  *dataQueue
}

// dataQueue is a tiny unbounded queue used for the blocking Read side of a
// channel.
type dataQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	eof    bool
	closed bool
}

func newDataQueue() *dataQueue {
	b := &dataQueue{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *dataQueue) write(p []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *dataQueue) setEOF() {
	b.mu.Lock()
	b.eof = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *dataQueue) setClosed() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *dataQueue) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) == 0 && !b.eof && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		if b.closed {
			return 0, io.EOF
		}
		if b.eof {
			return 0, io.EOF
		}
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (c *channel) String() string {
	return fmt.Sprintf("channel %d/%d (%s)", c.localID, c.remoteID, c.chanType)
}

// --- NewChannel ---

func (c *channel) ChannelType() string { return c.chanType }
func (c *channel) ExtraData() []byte   { return c.extraData }

func (c *channel) Accept() (Channel, <-chan *Request, error) {
	if c.decided {
		return nil, nil, fmt.Errorf("ssh: channel already decided")
	}
	c.decided = true
	c.mu.Lock()
	c.state = channelOpen
	c.mu.Unlock()
	confirm := channelOpenConfirmMsg{
		PeersID:       c.remoteID,
		MyID:          c.localID,
		MyWindow:      c.myWindow.win,
		MaxPacketSize: c.maxIncomingPayload,
	}
	if err := c.packetConn.writePacket(Marshal(&confirm)); err != nil {
		return nil, nil, err
	}
	return c, c.incomingRequests, nil
}

func (c *channel) Reject(reason RejectionReason, message string) error {
	if c.decided {
		return fmt.Errorf("ssh: channel already decided")
	}
	c.decided = true
	return c.packetConn.writePacket(Marshal(&channelOpenFailureMsg{
		PeersID: c.remoteID, Reason: reason, Message: message,
	}))
}

// --- Channel ---

func (c *channel) Read(data []byte) (int, error) {
	return c.readData.Read(data)
}

func (c *channel) Stderr() io.ReadWriter { return extChannel{c} }

type extChannel struct{ c *channel }

func (e extChannel) Read(data []byte) (int, error)  { return e.c.extData.Read(data) }
func (e extChannel) Write(data []byte) (int, error) { return e.c.writeExtended(data) }

func (c *channel) Write(data []byte) (int, error) {
	return c.writeTo(data, false)
}

func (c *channel) writeExtended(data []byte) (int, error) {
	return c.writeTo(data, true)
}

func (c *channel) writeTo(data []byte, extended bool) (int, error) {
	var total int
	for len(data) > 0 {
		c.mu.Lock()
		if c.sentEOF || c.sentClose {
			c.mu.Unlock()
			return total, io.EOF
		}
		c.mu.Unlock()

		chunkCap := int(c.maxRemotePayload)
		if chunkCap <= 0 {
			chunkCap = 1
		}
		n := len(data)
		if n > chunkCap {
			n = chunkCap
		}
		granted, err := c.remoteWin.reserve(uint32(n))
		if granted == 0 {
			if err != nil {
				return total, err
			}
			continue
		}
		if int(granted) < n {
			n = int(granted)
		}

		var packet []byte
		if extended {
			packet = Marshal(&channelExtendedDataMsg{PeersID: c.remoteID, DataType: 1, Length: uint32(n), Rest: data[:n]})
		} else {
			packet = Marshal(&channelDataMsg{PeersID: c.remoteID, Length: uint32(n), Rest: data[:n]})
		}
		if err := c.packetConn.writePacket(packet); err != nil {
			return total, err
		}
		total += n
		data = data[n:]
	}
	return total, nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.sentClose {
		c.mu.Unlock()
		return nil
	}
	c.sentClose = true
	c.state = channelClosing
	c.mu.Unlock()
	return c.packetConn.writePacket(Marshal(&channelCloseMsg{PeersID: c.remoteID}))
}

func (c *channel) CloseWrite() error {
	c.mu.Lock()
	if c.sentEOF {
		c.mu.Unlock()
		return nil
	}
	c.sentEOF = true
	c.mu.Unlock()
	return c.packetConn.writePacket(Marshal(&channelEOFMsg{PeersID: c.remoteID}))
}

func (c *channel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	if err := c.packetConn.writePacket(Marshal(&channelRequestMsg{
		PeersID: c.remoteID, Request: name, WantReply: wantReply, RequestSpecificData: payload,
	})); err != nil {
		return false, err
	}
	if !wantReply {
		return false, nil
	}
	m, ok := <-c.msg
	if !ok {
		return false, io.EOF
	}
	switch m.(type) {
	case *channelRequestSuccessMsg:
		return true, nil
	case *channelRequestFailureMsg:
		return false, nil
	default:
		return false, fmt.Errorf("ssh: unexpected response to channel request: %T", m)
	}
}

func (c *channel) ackRequest(ok bool) error {
	if ok {
		return c.packetConn.writePacket(Marshal(&channelRequestSuccessMsg{PeersID: c.remoteID}))
	}
	return c.packetConn.writePacket(Marshal(&channelRequestFailureMsg{PeersID: c.remoteID}))
}

// --- mux: the channel table ---

// mux owns every channel on one transport, dispatches CHANNEL_* and
// GLOBAL_REQUEST traffic, and assigns local channel ids.
type mux struct {
	conn     packetConn
	isClient bool

	mu       sync.Mutex
	channels map[uint32]*channel
	nextID   uint32

	incomingChannels chan NewChannel
	globalResponses  chan interface{}
	incomingRequests chan *Request

	closeOnce sync.Once
	err       error
	done      chan struct{}

	metrics *connMetrics
}

func newMux(conn packetConn, isClient bool, metrics *connMetrics) *mux {
	return &mux{
		conn:             conn,
		isClient:         isClient,
		channels:         make(map[uint32]*channel),
		incomingChannels: make(chan NewChannel, 16),
		globalResponses:  make(chan interface{}, 1),
		incomingRequests: make(chan *Request, 16),
		done:             make(chan struct{}),
		metrics:          metrics,
	}
}

func (m *mux) Wait() error {
	<-m.done
	return m.err
}

// loop runs on the connection's read task; it must never block on
// application code. A *ChannelError force-closes the offending channel
// only; every other dispatch error is fatal to the transport.
func (m *mux) loop() {
	for {
		packet, err := m.conn.readPacket()
		if err != nil {
			m.close(err)
			return
		}
		if err := m.dispatch(packet); err != nil {
			if ce, ok := err.(*ChannelError); ok {
				m.forceCloseChannel(ce.LocalID)
				continue
			}
			m.close(err)
			return
		}
	}
}

// forceCloseChannel tears down one channel after a channel-level protocol
// violation: best-effort CHANNEL_CLOSE to the peer, then local teardown
// and slot reclamation.
func (m *mux) forceCloseChannel(id uint32) {
	m.mu.Lock()
	c, ok := m.channels[id]
	if ok {
		delete(m.channels, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.conn.writePacket(Marshal(&channelCloseMsg{PeersID: c.remoteID}))
	c.forceClose()
	m.metrics.channelClosed()
}

func (m *mux) close(err error) {
	m.closeOnce.Do(func() {
		m.err = err
		m.mu.Lock()
		chans := make([]*channel, 0, len(m.channels))
		for _, ch := range m.channels {
			chans = append(chans, ch)
		}
		m.mu.Unlock()
		for _, ch := range chans {
			ch.forceClose()
		}
		close(m.incomingChannels)
		close(m.incomingRequests)
		close(m.done)
	})
}

func (c *channel) forceClose() {
	c.mu.Lock()
	c.state = channelClosed
	c.mu.Unlock()
	c.remoteWin.close()
	c.myWindow.close()
	c.readData.setClosed()
	c.extData.setClosed()
	close(c.msg)
}

func (m *mux) dispatch(packet []byte) error {
	switch packet[0] {
	case msgGlobalRequest:
		return m.handleGlobalRequest(packet)
	case msgRequestSuccess, msgRequestFailure:
		return m.handleGlobalResponse(packet)
	case msgChannelOpen:
		return m.handleChannelOpen(packet)
	default:
		return m.handleChannelMsg(packet)
	}
}

func (m *mux) handleGlobalRequest(packet []byte) error {
	var msg globalRequestMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}
	m.incomingRequests <- &Request{Type: msg.Type, WantReply: msg.WantReply, Payload: msg.Data, mux: m, isGlobal: true}
	return nil
}

func (m *mux) handleGlobalResponse(packet []byte) error {
	var msg interface{}
	var err error
	if packet[0] == msgRequestSuccess {
		gm := new(globalRequestSuccessMsg)
		err = Unmarshal(packet, gm)
		msg = gm
	} else {
		gm := new(globalRequestFailureMsg)
		err = Unmarshal(packet, gm)
		msg = gm
	}
	if err != nil {
		return err
	}
	select {
	case m.globalResponses <- msg:
	default:
	}
	return nil
}

func (m *mux) ackRequest(ok bool, payload []byte) error {
	if ok {
		return m.conn.writePacket(Marshal(&globalRequestSuccessMsg{Data: payload}))
	}
	return m.conn.writePacket(Marshal(&globalRequestFailureMsg{Data: payload}))
}

// SendRequest issues a GLOBAL_REQUEST (tcpip-forward et al.) and, if
// wantReply, blocks for the matching response.
func (m *mux) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	if err := m.conn.writePacket(Marshal(&globalRequestMsg{Type: name, WantReply: wantReply, Data: payload})); err != nil {
		return false, nil, err
	}
	if !wantReply {
		return false, nil, nil
	}
	msg, ok := <-m.globalResponses
	if !ok {
		return false, nil, io.EOF
	}
	switch r := msg.(type) {
	case *globalRequestSuccessMsg:
		return true, r.Data, nil
	case *globalRequestFailureMsg:
		return false, r.Data, nil
	default:
		return false, nil, fmt.Errorf("ssh: unexpected global response %T", msg)
	}
}

const defaultMaxPacketSize = 32768

func (m *mux) handleChannelOpen(packet []byte) error {
	var msg channelOpenMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}
	if msg.MaxPacketSize < minPacketLength || msg.MaxPacketSize > 1<<20 {
		return m.conn.writePacket(Marshal(&channelOpenFailureMsg{
			PeersID: msg.PeersID, Reason: ConnectionFailed, Message: "invalid max packet size",
		}))
	}

	c := &channel{
		packetConn:         m.conn,
		mux:                m,
		chanType:           msg.ChanType,
		extraData:          msg.TypeSpecificData,
		remoteID:           msg.PeersID,
		maxRemotePayload:   msg.MaxPacketSize,
		maxIncomingPayload: defaultMaxPacketSize,
		incomingRequests:   make(chan *Request, 16),
		msg:                make(chan interface{}, 4),
	}
	c.myWindow.Cond = newCond()
	c.myWindow.win = initialWindowSize
	c.remoteWin.Cond = newCond()
	c.remoteWin.win = msg.PeersWindow
	c.readData = newDataQueue()
	c.extData = newDataQueue()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	c.localID = id
	m.channels[id] = c
	m.mu.Unlock()
	m.metrics.channelOpened()
	m.metrics.windowGranted(msg.PeersWindow)

	m.incomingChannels <- c
	return nil
}

const minPacketLength = 1
const initialWindowSize = 2 * 1024 * 1024

func (m *mux) handleChannelMsg(packet []byte) error {
	id, ok := channelIDFromPacket(packet)
	if !ok {
		return &ProtocolError{"short channel packet"}
	}

	m.mu.Lock()
	c, ok := m.channels[id]
	m.mu.Unlock()
	if !ok {
		return &ChannelError{LocalID: id, Detail: "unknown channel id"}
	}

	switch packet[0] {
	case msgChannelOpenConfirm:
		var msg channelOpenConfirmMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		c.remoteID = msg.MyID
		c.maxRemotePayload = msg.MaxPacketSize
		c.remoteWin.add(msg.MyWindow)
		m.metrics.windowGranted(msg.MyWindow)
		c.mu.Lock()
		c.state = channelOpen
		c.mu.Unlock()
		select {
		case c.msg <- &msg:
		default:
		}
	case msgChannelOpenFailure:
		var msg channelOpenFailureMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		m.mu.Lock()
		delete(m.channels, id)
		m.mu.Unlock()
		select {
		case c.msg <- &msg:
		default:
		}
	case msgChannelWindowAdjust:
		var msg windowAdjustMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		if !c.remoteWin.add(msg.AdditionalBytes) {
			return &ChannelError{LocalID: id, Detail: "window adjust overflow"}
		}
		m.metrics.windowGranted(msg.AdditionalBytes)
	case msgChannelData:
		var msg channelDataMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		return c.handleData(msg.Rest, false)
	case msgChannelExtendedData:
		var msg channelExtendedDataMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		return c.handleData(msg.Rest, true)
	case msgChannelEOF:
		c.mu.Lock()
		c.eofReceived = true
		c.mu.Unlock()
		c.readData.setEOF()
		c.extData.setEOF()
	case msgChannelClose:
		c.mu.Lock()
		c.closeReceived = true
		if !c.sentClose {
			c.sentClose = true
			c.packetConn.writePacket(Marshal(&channelCloseMsg{PeersID: c.remoteID}))
		}
		c.state = channelClosed
		c.mu.Unlock()
		c.remoteWin.close()
		c.readData.setClosed()
		c.extData.setClosed()
		m.mu.Lock()
		delete(m.channels, id)
		m.mu.Unlock()
		m.metrics.channelClosed()
		close(c.msg)
	case msgChannelRequest:
		var msg channelRequestMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		c.incomingRequests <- &Request{Type: msg.Request, WantReply: msg.WantReply, Payload: msg.RequestSpecificData, ch: c}
	case msgChannelSuccess:
		select {
		case c.msg <- &channelRequestSuccessMsg{}:
		default:
		}
	case msgChannelFailure:
		select {
		case c.msg <- &channelRequestFailureMsg{}:
		default:
		}
	default:
		return &ProtocolError{fmt.Sprintf("unknown channel message type %d", packet[0])}
	}
	return nil
}

// handleData delivers CHANNEL_DATA/EXTENDED_DATA to the handler's read
// queue. Data arriving after the peer's own EOF is a protocol violation
// on that channel.
func (c *channel) handleData(data []byte, extended bool) error {
	c.mu.Lock()
	eof := c.eofReceived
	c.mu.Unlock()
	if eof {
		return &ChannelError{LocalID: c.localID, Detail: "data received after EOF"}
	}

	if extended {
		c.extData.write(data)
	} else {
		c.readData.write(data)
	}

	// Consume from our own advertised window and top it back up once it
	// drops below half the initial grant.
	c.myWindow.L.Lock()
	c.myWindow.win -= uint32(len(data))
	low := c.myWindow.win < initialWindowSize/2
	c.myWindow.L.Unlock()
	if low {
		adj := uint32(initialWindowSize) - c.myWindow.win
		c.myWindow.add(adj)
		c.packetConn.writePacket(Marshal(&windowAdjustMsg{PeersID: c.remoteID, AdditionalBytes: adj}))
	}
	return nil
}

func channelIDFromPacket(packet []byte) (uint32, bool) {
	if len(packet) < 5 {
		return 0, false
	}
	return uint32(packet[1])<<24 | uint32(packet[2])<<16 | uint32(packet[3])<<8 | uint32(packet[4]), true
}

// OpenChannel opens a new channel of the given type. It blocks until
// CHANNEL_OPEN_CONFIRMATION or CHANNEL_OPEN_FAILURE arrives.
func (m *mux) OpenChannel(chanType string, extra []byte) (Channel, <-chan *Request, error) {
	c := &channel{
		packetConn:         m.conn,
		mux:                m,
		chanType:           chanType,
		maxIncomingPayload: defaultMaxPacketSize,
		incomingRequests:   make(chan *Request, 16),
		msg:                make(chan interface{}, 4),
	}
	c.myWindow.Cond = newCond()
	c.myWindow.win = initialWindowSize
	c.remoteWin.Cond = newCond()
	c.readData = newDataQueue()
	c.extData = newDataQueue()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	c.localID = id
	m.channels[id] = c
	m.mu.Unlock()

	open := channelOpenMsg{
		ChanType:         chanType,
		PeersID:          id,
		PeersWindow:      initialWindowSize,
		MaxPacketSize:    defaultMaxPacketSize,
		TypeSpecificData: extra,
	}
	if err := m.conn.writePacket(Marshal(&open)); err != nil {
		return nil, nil, err
	}

	reply, ok := <-c.msg
	if !ok {
		return nil, nil, io.EOF
	}
	switch r := reply.(type) {
	case *channelOpenFailureMsg:
		return nil, nil, &openChannelFailure{reason: r.Reason, message: r.Message}
	case *channelOpenConfirmMsg:
		c.mu.Lock()
		c.state = channelOpen
		c.mu.Unlock()
		return c, c.incomingRequests, nil
	default:
		return nil, nil, fmt.Errorf("ssh: unexpected packet in response to channel open: %T", reply)
	}
}
