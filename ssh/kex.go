// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// Key-exchange algorithm names, RFC 4253/5656/8731/4419.
const (
	kexAlgoCurve25519SHA256 = "curve25519-sha256"
	kexAlgoECDH256          = "ecdh-sha2-nistp256"
	kexAlgoECDH384          = "ecdh-sha2-nistp384"
	kexAlgoECDH521          = "ecdh-sha2-nistp521"
	kexAlgoDH14SHA256       = "diffie-hellman-group14-sha256"
	kexAlgoDH14SHA1         = "diffie-hellman-group14-sha1"
	kexAlgoDH1SHA1          = "diffie-hellman-group1-sha1"
	kexAlgoDHGEXSHA256      = "diffie-hellman-group-exchange-sha256"
)

// kexResult captures the outputs of one run of a key-exchange method: the
// shared secret K, the exchange hash H, the peer's host key blob and its
// signature over H (left for handshakeTransport to verify, since only it
// knows the configured hostKeyCallback), and the hash algorithm H was
// computed with, which the six-key derivation in transport.go reuses.
type kexResult struct {
	K         *big.Int
	H         []byte
	HostKey   []byte
	Signature []byte
	Hash      crypto.Hash
	SessionID []byte
}

// kexAlgorithm abstracts one concrete key-exchange method so that
// handshakeTransport never needs to know whether it negotiated
// curve25519, an ECDH curve, or a finite-field Diffie-Hellman group.
type kexAlgorithm interface {
	Client(rw kexTransport, rand io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error)
	Server(rw kexTransport, rand io.Reader, magics *handshakeMagics, priv Signer, config *Config) (*kexResult, error)
}

var kexAlgoMap = map[string]kexAlgorithm{
	kexAlgoCurve25519SHA256: &curve25519SHA256{},
	kexAlgoECDH256:          &ecdhSHA2{curve: ecdh.P256(), hash: crypto.SHA256},
	kexAlgoECDH384:          &ecdhSHA2{curve: ecdh.P384(), hash: crypto.SHA384},
	kexAlgoECDH521:          &ecdhSHA2{curve: ecdh.P521(), hash: crypto.SHA512},
	kexAlgoDH14SHA256:       &dhGroup{g: big.NewInt(2), p: dhGroup14Prime(), hash: crypto.SHA256},
	kexAlgoDH14SHA1:         &dhGroup{g: big.NewInt(2), p: dhGroup14Prime(), hash: crypto.SHA1},
	kexAlgoDH1SHA1:          &dhGroup{g: big.NewInt(2), p: dhGroup1Prime(), hash: crypto.SHA1},
	kexAlgoDHGEXSHA256:      &dhGroupExchange{hash: crypto.SHA256},
}

// --- curve25519-sha256 (RFC 8731) ---

type curve25519SHA256 struct{}

func (kex *curve25519SHA256) Client(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(randSrc, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	if err := rw.writePacket(Marshal(&kexECDHInitMsg{ClientPubKey: pub})); err != nil {
		return nil, err
	}
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexECDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	secret, err := curve25519.X25519(priv[:], reply.EphemeralPubKey)
	if err != nil {
		return nil, err
	}

	h := crypto.SHA256.New()
	magicsToHash(h, magics)
	writeString(h, reply.HostKey)
	writeString(h, pub)
	writeString(h, reply.EphemeralPubKey)
	writeBigInt(h, new(big.Int).SetBytes(secret))

	return &kexResult{
		K:         new(big.Int).SetBytes(secret),
		H:         h.Sum(nil),
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      crypto.SHA256,
	}, nil
}

func (kex *curve25519SHA256) Server(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, priv Signer, config *Config) (*kexResult, error) {
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var init kexECDHInitMsg
	if err := Unmarshal(packet, &init); err != nil {
		return nil, err
	}

	var serverPriv [32]byte
	if _, err := io.ReadFull(randSrc, serverPriv[:]); err != nil {
		return nil, err
	}
	serverPub, err := curve25519.X25519(serverPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	secret, err := curve25519.X25519(serverPriv[:], init.ClientPubKey)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := MarshalPublicKey(priv.PublicKey())

	h := crypto.SHA256.New()
	magicsToHash(h, magics)
	writeString(h, hostKeyBytes)
	writeString(h, init.ClientPubKey)
	writeString(h, serverPub)
	writeBigInt(h, new(big.Int).SetBytes(secret))
	H := h.Sum(nil)

	sig, err := priv.Sign(randSrc, H)
	if err != nil {
		return nil, err
	}

	reply := kexECDHReplyMsg{
		HostKey:         hostKeyBytes,
		EphemeralPubKey: serverPub,
		Signature:       Marshal(&signature{Format: priv.PublicKey().Type(), Blob: sig}),
	}
	if err := rw.writePacket(Marshal(&reply)); err != nil {
		return nil, err
	}

	return &kexResult{K: new(big.Int).SetBytes(secret), H: H, Hash: crypto.SHA256}, nil
}

// --- ecdh-sha2-nistp{256,384,521} (RFC 5656) ---

type ecdhSHA2 struct {
	curve ecdh.Curve
	hash  crypto.Hash
}

func (kex *ecdhSHA2) Client(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error) {
	priv, err := kex.curve.GenerateKey(randSrc)
	if err != nil {
		return nil, err
	}
	pub := priv.PublicKey().Bytes()

	if err := rw.writePacket(Marshal(&kexECDHInitMsg{ClientPubKey: pub})); err != nil {
		return nil, err
	}
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexECDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	peerPub, err := kex.curve.NewPublicKey(reply.EphemeralPubKey)
	if err != nil {
		return nil, err
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, err
	}

	h := kex.hash.New()
	magicsToHash(h, magics)
	writeString(h, reply.HostKey)
	writeString(h, pub)
	writeString(h, reply.EphemeralPubKey)
	writeBigInt(h, new(big.Int).SetBytes(secret))

	return &kexResult{
		K:         new(big.Int).SetBytes(secret),
		H:         h.Sum(nil),
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      kex.hash,
	}, nil
}

func (kex *ecdhSHA2) Server(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, priv Signer, config *Config) (*kexResult, error) {
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var init kexECDHInitMsg
	if err := Unmarshal(packet, &init); err != nil {
		return nil, err
	}

	serverPriv, err := kex.curve.GenerateKey(randSrc)
	if err != nil {
		return nil, err
	}
	clientPub, err := kex.curve.NewPublicKey(init.ClientPubKey)
	if err != nil {
		return nil, err
	}
	secret, err := serverPriv.ECDH(clientPub)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := MarshalPublicKey(priv.PublicKey())
	serverPub := serverPriv.PublicKey().Bytes()

	h := kex.hash.New()
	magicsToHash(h, magics)
	writeString(h, hostKeyBytes)
	writeString(h, init.ClientPubKey)
	writeString(h, serverPub)
	writeBigInt(h, new(big.Int).SetBytes(secret))
	H := h.Sum(nil)

	sig, err := priv.Sign(randSrc, H)
	if err != nil {
		return nil, err
	}

	reply := kexECDHReplyMsg{HostKey: hostKeyBytes, EphemeralPubKey: serverPub, Signature: Marshal(&signature{Format: priv.PublicKey().Type(), Blob: sig})}
	if err := rw.writePacket(Marshal(&reply)); err != nil {
		return nil, err
	}

	return &kexResult{K: new(big.Int).SetBytes(secret), H: H, Hash: kex.hash}, nil
}

// --- diffie-hellman-group{14,1}-sha{256,1} (RFC 4253 section 8.1/8.2) ---

// dhGroup implements the fixed MODP groups. Only decode (verification
// that the peer's exponential lies strictly between 1 and p) differs from
// the finite-field math itself.
type dhGroup struct {
	g, p *big.Int
	hash crypto.Hash
}

func (gr *dhGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Cmp(bigOne) <= 0 || theirPublic.Cmp(gr.p) >= 0 {
		return nil, errors.New("ssh: DH parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, gr.p), nil
}

func (gr *dhGroup) Client(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error) {
	x, err := randInt(randSrc, gr.p)
	if err != nil {
		return nil, err
	}
	X := new(big.Int).Exp(gr.g, x, gr.p)

	if err := rw.writePacket(Marshal(&kexDHInitMsg{X: X})); err != nil {
		return nil, err
	}
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	secret, err := gr.diffieHellman(reply.Y, x)
	if err != nil {
		return nil, err
	}

	h := gr.hash.New()
	magicsToHash(h, magics)
	writeString(h, reply.HostKey)
	writeBigInt(h, X)
	writeBigInt(h, reply.Y)
	writeBigInt(h, secret)

	return &kexResult{K: secret, H: h.Sum(nil), HostKey: reply.HostKey, Signature: reply.Signature, Hash: gr.hash}, nil
}

func (gr *dhGroup) Server(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, priv Signer, config *Config) (*kexResult, error) {
	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var init kexDHInitMsg
	if err := Unmarshal(packet, &init); err != nil {
		return nil, err
	}

	y, err := randInt(randSrc, gr.p)
	if err != nil {
		return nil, err
	}
	Y := new(big.Int).Exp(gr.g, y, gr.p)

	secret, err := gr.diffieHellman(init.X, y)
	if err != nil {
		return nil, err
	}

	hostKeyBytes := MarshalPublicKey(priv.PublicKey())

	h := gr.hash.New()
	magicsToHash(h, magics)
	writeString(h, hostKeyBytes)
	writeBigInt(h, init.X)
	writeBigInt(h, Y)
	writeBigInt(h, secret)
	H := h.Sum(nil)

	sig, err := priv.Sign(randSrc, H)
	if err != nil {
		return nil, err
	}

	reply := kexDHReplyMsg{HostKey: hostKeyBytes, Y: Y, Signature: Marshal(&signature{Format: priv.PublicKey().Type(), Blob: sig})}
	if err := rw.writePacket(Marshal(&reply)); err != nil {
		return nil, err
	}

	return &kexResult{K: secret, H: H, Hash: gr.hash}, nil
}

// --- diffie-hellman-group-exchange-sha256 (RFC 4419) ---

// dhGroupExchange negotiates a server-chosen MODP group sized between the
// client's requested bit-strength bounds (Config.GexMinBits/GexMaxBits),
// for peers that don't trust the fixed RFC 4253 groups.
type dhGroupExchange struct {
	hash crypto.Hash
}

func (gex *dhGroupExchange) Client(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, config *Config) (*kexResult, error) {
	minBits, prefBits, maxBits := uint32(config.GexMinBits), uint32(config.GexPreferredBits), uint32(config.GexMaxBits)
	if minBits == 0 {
		minBits = 1024
	}
	if prefBits == 0 {
		prefBits = 2048
	}
	if maxBits == 0 {
		maxBits = 8192
	}
	if err := rw.writePacket(Marshal(&kexDHGexRequestMsg{MinBits: minBits, PrefBits: prefBits, MaxBits: maxBits})); err != nil {
		return nil, err
	}

	packet, err := rw.readPacket()
	if err != nil {
		return nil, err
	}
	var groupMsg kexDHGexGroupMsg
	if err := Unmarshal(packet, &groupMsg); err != nil {
		return nil, err
	}

	dh := &dhGroup{g: groupMsg.G, p: groupMsg.P, hash: gex.hash}
	x, err := randInt(randSrc, dh.p)
	if err != nil {
		return nil, err
	}
	X := new(big.Int).Exp(dh.g, x, dh.p)

	if err := rw.writePacket(Marshal(&kexDHGexInitMsg{X: X})); err != nil {
		return nil, err
	}
	packet, err = rw.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexDHGexReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	secret, err := dh.diffieHellman(reply.Y, x)
	if err != nil {
		return nil, err
	}

	h := gex.hash.New()
	magicsToHash(h, magics)
	writeString(h, reply.HostKey)
	appendU32ToHash(h, minBits)
	appendU32ToHash(h, prefBits)
	appendU32ToHash(h, maxBits)
	writeBigInt(h, dh.p)
	writeBigInt(h, dh.g)
	writeBigInt(h, X)
	writeBigInt(h, reply.Y)
	writeBigInt(h, secret)

	return &kexResult{K: secret, H: h.Sum(nil), HostKey: reply.HostKey, Signature: reply.Signature, Hash: gex.hash}, nil
}

func (gex *dhGroupExchange) Server(rw kexTransport, randSrc io.Reader, magics *handshakeMagics, priv Signer, config *Config) (*kexResult, error) {
	return nil, errors.New("ssh: diffie-hellman-group-exchange-sha256 server side is not offered; the server never advertises it in KEXINIT")
}

func appendU32ToHash(h io.Writer, n uint32) {
	var b [4]byte
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	h.Write(b[:])
}

var bigOne = big.NewInt(1)

func randInt(randSrc io.Reader, max *big.Int) (*big.Int, error) {
	return rand.Int(randSrc, max)
}

// magicsToHash writes the four RFC 4253 section 8 preamble strings (client
// version, server version, client KEXINIT, server KEXINIT) into h, the
// common prefix of every key-exchange method's exchange hash.
func magicsToHash(h io.Writer, magics *handshakeMagics) {
	writeString(h, magics.clientVersion)
	writeString(h, magics.serverVersion)
	writeString(h, magics.clientKexInit)
	writeString(h, magics.serverKexInit)
}

// kexTransport is the minimal framed-packet interface a key-exchange
// method needs from the transport underneath it; handshakeTransport's
// underlying keyingTransport satisfies this directly.
type kexTransport interface {
	writePacket(packet []byte) error
	readPacket() ([]byte, error)
}

// dhGroup14Prime returns the 2048-bit MODP group from RFC 3526 section 3,
// used by diffie-hellman-group14-sha256/sha1.
func dhGroup14Prime() *big.Int {
	p, _ := new(big.Int).SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
			"129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519"+
			"B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7"+
			"EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F"+
			"24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C5"+
			"5D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9E"+
			"D529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF",
		16)
	return p
}

// dhGroup1Prime returns the 1024-bit Oakley Group 2 from RFC 2409 section
// 6.2, used by diffie-hellman-group1-sha1.
func dhGroup1Prime() *big.Int {
	p, _ := new(big.Int).SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
			"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
			"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
			"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
			"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381"+
			"FFFFFFFFFFFFFFFF",
		16)
	return p
}
