// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"math/big"
	"reflect"
)

// Message numbers, RFC 4250 section 4.1.2 and RFC 4253/4252/4254.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit = 20
	msgNewKeys = 21

	// Diffie-Hellman
	msgKexDHInit  = 30
	msgKexDHReply = 31

	// Diffie-Hellman group exchange
	msgKexDHGexGroup   = 31
	msgKexDHGexInit    = 32
	msgKexDHGexReply   = 33
	msgKexDHGexRequest = 34

	// ECDH / curve25519 share the same numbers as plain DH.
	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	msgUserAuthRequest      = 50
	msgUserAuthFailure      = 51
	msgUserAuthSuccess      = 52
	msgUserAuthBanner       = 53
	msgUserAuthPubKeyOk     = 60
	msgUserAuthInfoRequest  = 60
	msgUserAuthInfoResponse = 61

	msgGlobalRequest       = 80
	msgRequestSuccess      = 81
	msgRequestFailure      = 82
	msgChannelOpen         = 90
	msgChannelOpenConfirm  = 91
	msgChannelOpenFailure  = 92
	msgChannelWindowAdjust = 93
	msgChannelData         = 94
	msgChannelExtendedData = 95
	msgChannelEOF          = 96
	msgChannelClose        = 97
	msgChannelRequest      = 98
	msgChannelSuccess      = 99
	msgChannelFailure      = 100
)

// disconnectMsg, RFC 4253 section 11.1.
type disconnectMsg struct {
	Reason   uint32 `sshtype:"1"`
	Message  string
	Language string
}

// ignoreMsg, RFC 4253 section 11.2.
type ignoreMsg struct {
	Data string `sshtype:"2"`
}

// unimplementedMsg, RFC 4253 section 11.4.
type unimplementedMsg struct {
	SeqNum uint32 `sshtype:"3"`
}

// debugMsg, RFC 4253 section 11.3.
type debugMsg struct {
	AlwaysDisplay bool `sshtype:"4"`
	Message       string
	Language      string
}

// serviceRequestMsg, RFC 4253 section 10.
type serviceRequestMsg struct {
	Service string `sshtype:"5"`
}

// serviceAcceptMsg, RFC 4253 section 10.
type serviceAcceptMsg struct {
	Service string `sshtype:"6"`
}

// KexInitMsg, RFC 4253 section 7.1.
type KexInitMsg struct {
	Cookie                  [16]byte `sshtype:"20"`
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

type kexDHInitMsg struct {
	X *big.Int `sshtype:"30"`
}

type kexDHReplyMsg struct {
	HostKey   []byte `sshtype:"31"`
	Y         *big.Int
	Signature []byte
}

type kexECDHInitMsg struct {
	ClientPubKey []byte `sshtype:"30"`
}

type kexECDHReplyMsg struct {
	HostKey         []byte `sshtype:"31"`
	EphemeralPubKey []byte
	Signature       []byte
}

type kexDHGexRequestMsg struct {
	MinBits  uint32 `sshtype:"34"`
	PrefBits uint32
	MaxBits  uint32
}

type kexDHGexGroupMsg struct {
	P *big.Int `sshtype:"31"`
	G *big.Int
}

type kexDHGexInitMsg struct {
	X *big.Int `sshtype:"32"`
}

type kexDHGexReplyMsg struct {
	HostKey   []byte `sshtype:"33"`
	Y         *big.Int
	Signature []byte
}

// newKeysMsg, RFC 4253 section 7.3, has no payload: it is purely a
// synchronization marker that the six just-derived keys take effect on
// the next packet in that direction. On the wire it is the single byte
// msgNewKeys, written directly rather than through Marshal.
type newKeysMsg struct{}

// userAuthRequestMsg, RFC 4252 section 5.
type userAuthRequestMsg struct {
	User    string `sshtype:"50"`
	Service string
	Method  string
	Payload []byte `ssh:"rest"`
}

// userAuthFailureMsg, RFC 4252 section 5.1.
type userAuthFailureMsg struct {
	Methods        []string `sshtype:"51"`
	PartialSuccess bool
}

type userAuthSuccessMsg struct{}

type userAuthBannerMsg struct {
	Message  string `sshtype:"53"`
	Language string
}

// publickeyAuthMsg is the parsed payload of a "publickey" userAuthRequest.
type publickeyAuthMsg struct {
	HasSig bool
	Algo   string
	PubKey []byte
	Sig    []byte `ssh:"rest"`
}

type userAuthPubKeyOkMsg struct {
	Algo   string `sshtype:"60"`
	PubKey []byte
}

type globalRequestMsg struct {
	Type      string `sshtype:"80"`
	WantReply bool
	Data      []byte `ssh:"rest"`
}

type globalRequestSuccessMsg struct {
	Data []byte `sshtype:"81" ssh:"rest"`
}

type globalRequestFailureMsg struct {
	Data []byte `sshtype:"82" ssh:"rest"`
}

type channelOpenMsg struct {
	ChanType         string `sshtype:"90"`
	PeersID          uint32
	PeersWindow      uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh:"rest"`
}

type channelOpenConfirmMsg struct {
	PeersID          uint32 `sshtype:"91"`
	MyID             uint32
	MyWindow         uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh:"rest"`
}

type channelOpenFailureMsg struct {
	PeersID  uint32 `sshtype:"92"`
	Reason   RejectionReason
	Message  string
	Language string
}

type windowAdjustMsg struct {
	PeersID         uint32 `sshtype:"93"`
	AdditionalBytes uint32
}

type channelDataMsg struct {
	PeersID uint32 `sshtype:"94"`
	Length  uint32
	Rest    []byte `ssh:"rest"`
}

type channelExtendedDataMsg struct {
	PeersID  uint32 `sshtype:"95"`
	DataType uint32
	Length   uint32
	Rest     []byte `ssh:"rest"`
}

type channelEOFMsg struct {
	PeersID uint32 `sshtype:"96"`
}

type channelCloseMsg struct {
	PeersID uint32 `sshtype:"97"`
}

type channelRequestMsg struct {
	PeersID             uint32 `sshtype:"98"`
	Request             string
	WantReply           bool
	RequestSpecificData []byte `ssh:"rest"`
}

type channelRequestSuccessMsg struct {
	PeersID uint32 `sshtype:"99"`
}

type channelRequestFailureMsg struct {
	PeersID uint32 `sshtype:"100"`
}

// RejectionReason is an enumeration used by ChannelOpenFailure messages.
// See RFC 4254, section 5.1.
type RejectionReason uint32

const (
	Prohibited RejectionReason = iota + 1
	ConnectionFailed
	UnknownChannelType
	ResourceShortage
)

func (r RejectionReason) String() string {
	switch r {
	case Prohibited:
		return "administratively prohibited"
	case ConnectionFailed:
		return "connect failed"
	case UnknownChannelType:
		return "unknown channel type"
	case ResourceShortage:
		return "resource shortage"
	}
	return fmt.Sprintf("unknown rejection reason %d", uint32(r))
}

var messageTypes = map[reflect.Type]byte{}

func init() {
	for _, msg := range []interface{}{
		&disconnectMsg{},
		&ignoreMsg{},
		&unimplementedMsg{},
		&debugMsg{},
		&serviceRequestMsg{},
		&serviceAcceptMsg{},
		&KexInitMsg{},
		&kexDHInitMsg{},
		&kexDHReplyMsg{},
		&kexECDHInitMsg{},
		&kexECDHReplyMsg{},
		&kexDHGexRequestMsg{},
		&kexDHGexGroupMsg{},
		&kexDHGexInitMsg{},
		&kexDHGexReplyMsg{},
		&userAuthRequestMsg{},
		&userAuthFailureMsg{},
		&userAuthBannerMsg{},
		&userAuthPubKeyOkMsg{},
		&globalRequestMsg{},
		&globalRequestSuccessMsg{},
		&globalRequestFailureMsg{},
		&channelOpenMsg{},
		&channelOpenConfirmMsg{},
		&channelOpenFailureMsg{},
		&windowAdjustMsg{},
		&channelDataMsg{},
		&channelExtendedDataMsg{},
		&channelEOFMsg{},
		&channelCloseMsg{},
		&channelRequestMsg{},
		&channelRequestSuccessMsg{},
		&channelRequestFailureMsg{},
	} {
		t := reflect.TypeOf(msg).Elem()
		f := t.FieldByIndex([]int{0})
		tag := f.Tag.Get("sshtype")
		var n byte
		fmt.Sscanf(tag, "%d", &n)
		messageTypes[t] = n
	}
}

// decode turns a decrypted, decompressed wire payload into one of the
// typed message structs above; an unknown message number yields an
// *UnexpectedMessageError.
func decode(packet []byte) (interface{}, error) {
	if len(packet) == 0 {
		return nil, &ParseError{0}
	}
	var msg interface{}
	switch packet[0] {
	case msgDisconnect:
		msg = new(disconnectMsg)
	case msgIgnore:
		msg = new(ignoreMsg)
	case msgUnimplemented:
		msg = new(unimplementedMsg)
	case msgDebug:
		msg = new(debugMsg)
	case msgServiceRequest:
		msg = new(serviceRequestMsg)
	case msgServiceAccept:
		msg = new(serviceAcceptMsg)
	case msgKexInit:
		msg = new(KexInitMsg)
	case msgNewKeys:
		return newKeysMsg{}, nil
	case msgKexDHInit:
		msg = new(kexDHInitMsg)
	case msgKexDHReply:
		msg = new(kexDHReplyMsg)
	case msgUserAuthRequest:
		msg = new(userAuthRequestMsg)
	case msgUserAuthFailure:
		msg = new(userAuthFailureMsg)
	case msgUserAuthSuccess:
		return userAuthSuccessMsg{}, nil
	case msgUserAuthBanner:
		msg = new(userAuthBannerMsg)
	case msgUserAuthPubKeyOk:
		msg = new(userAuthPubKeyOkMsg)
	case msgGlobalRequest:
		msg = new(globalRequestMsg)
	case msgRequestSuccess:
		msg = new(globalRequestSuccessMsg)
	case msgRequestFailure:
		msg = new(globalRequestFailureMsg)
	case msgChannelOpen:
		msg = new(channelOpenMsg)
	case msgChannelOpenConfirm:
		msg = new(channelOpenConfirmMsg)
	case msgChannelOpenFailure:
		msg = new(channelOpenFailureMsg)
	case msgChannelWindowAdjust:
		msg = new(windowAdjustMsg)
	case msgChannelData:
		msg = new(channelDataMsg)
	case msgChannelExtendedData:
		msg = new(channelExtendedDataMsg)
	case msgChannelEOF:
		msg = new(channelEOFMsg)
	case msgChannelClose:
		msg = new(channelCloseMsg)
	case msgChannelRequest:
		msg = new(channelRequestMsg)
	case msgChannelSuccess:
		msg = new(channelRequestSuccessMsg)
	case msgChannelFailure:
		msg = new(channelRequestFailureMsg)
	default:
		return nil, unexpectedMessageError(0, packet[0])
	}
	if err := Unmarshal(packet, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
