// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	packetSizeMultiple = 16 // the minimum cipher block size
	maxPacket          = 256 * 1024
)

// packetCipher represents a combination of SSH cipher and MAC that
// operates on one direction of one connection. Both the
// CBC+MAC-then-encrypt and the AEAD families implement this.
type packetCipher interface {
	// writeCipherPacket encrypts and MACs payload, framed with the RFC 4253
	// section 6 length and padding fields, and writes it to w.
	writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error

	// readCipherPacket reads and decrypts a single packet from the connection.
	readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error)
}

// cipherModeFactory builds a packetCipher for a fresh key schedule;
// cipherModes is the registry keyed by negotiated wire name.
type cipherModeFactory struct {
	keySize    int
	ivSize     int
	create     func(key, iv []byte, macMode *macMode, macKey []byte) (packetCipher, error)
	defaultMAC string // not consulted when building a cipher; every entry leaves it ""
}

var cipherModes = map[string]*cipherModeFactory{
	"aes128-ctr": {16, aes.BlockSize, newCTRCipher, ""},
	"aes192-ctr": {24, aes.BlockSize, newCTRCipher, ""},
	"aes256-ctr": {32, aes.BlockSize, newCTRCipher, ""},
	"aes128-cbc": {16, aes.BlockSize, newCBCCipher, ""},
	"3des-cbc":   {24, des.BlockSize, newTripleDESCBCCipher, ""},

	"aes128-gcm@openssh.com": {16, 12, newGCMCipher, ""},

	"chacha20-poly1305@openssh.com": {64, 0, newChaCha20Cipher, ""},
}

const gcmTagSize = 16

// streamPacketCipher handles the CTR + separate-MAC family: MAC is
// computed MAC-then-encrypt or (for the -etm@openssh.com variants)
// encrypt-then-MAC, over seq||cleartext or seq||length||ciphertext
// respectively.
type streamPacketCipher struct {
	mac    macMode
	cipher cipher.Stream
	etm    bool

	// The following members are to avoid per-packet allocations.
	prefix      [5]byte
	seqNumBytes [4]byte
	padding     [2 * packetSizeMultiple]byte
	packetData  []byte
	macResult   []byte
}

func newCTRCipher(key, iv []byte, mm *macMode, macKey []byte) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, iv)
	return &streamPacketCipher{cipher: stream, mac: *mm.withKey(macKey), etm: mm.etm}, nil
}

func newCBCCipher(key, iv []byte, mm *macMode, macKey []byte) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &cbcCipher{block: block, iv: append([]byte{}, iv...), mac: *mm.withKey(macKey), etm: mm.etm}, nil
}

func newTripleDESCBCCipher(key, iv []byte, mm *macMode, macKey []byte) (packetCipher, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	return &cbcCipher{block: block, iv: append([]byte{}, iv...), mac: *mm.withKey(macKey), etm: mm.etm}, nil
}

func (s *streamPacketCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(r, s.prefix[:]); err != nil {
		return nil, err
	}

	var encryptedPaddingLength [1]byte
	if s.mac.length > 0 && s.etm {
		copy(encryptedPaddingLength[:], s.prefix[4:5])
		s.cipher.XORKeyStream(s.prefix[4:5], s.prefix[4:5])
	} else {
		s.cipher.XORKeyStream(s.prefix[:], s.prefix[:])
	}

	length := uint32(s.prefix[0])<<24 | uint32(s.prefix[1])<<16 | uint32(s.prefix[2])<<8 | uint32(s.prefix[3])
	paddingLength := uint32(s.prefix[4])

	if paddingLength < 4 {
		return nil, &WireFormatError{"padding length too small"}
	}
	if length <= 1 || length > maxPacket {
		return nil, &WireFormatError{"packet too large or too small"}
	}

	if cap(s.packetData) < int(length-1) {
		s.packetData = make([]byte, length-1)
	} else {
		s.packetData = s.packetData[:length-1]
	}

	if _, err := io.ReadFull(r, s.packetData); err != nil {
		return nil, err
	}

	mac := s.macResult
	if s.mac.length > 0 {
		if cap(mac) < s.mac.length {
			mac = make([]byte, s.mac.length)
		} else {
			mac = mac[:s.mac.length]
		}
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, err
		}
		s.macResult = mac
	}

	if s.mac.length > 0 && s.etm {
		ok := s.mac.verify(seqNum, append(append([]byte{}, s.prefix[:4]...), append(encryptedPaddingLength[:], s.packetData...)...), mac)
		if !ok {
			return nil, &CryptoError{"MAC mismatch"}
		}
		s.cipher.XORKeyStream(s.packetData, s.packetData)
	} else {
		s.cipher.XORKeyStream(s.packetData, s.packetData)
		if s.mac.length > 0 {
			ok := s.mac.verify(seqNum, append(append([]byte{}, s.prefix[:]...), s.packetData...), mac)
			if !ok {
				return nil, &CryptoError{"MAC mismatch"}
			}
		}
	}

	if paddingLength > uint32(len(s.packetData)) {
		return nil, &WireFormatError{"padding length exceeds payload"}
	}
	return s.packetData[:len(s.packetData)-int(paddingLength)], nil
}

func (s *streamPacketCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	blockSize := packetSizeMultiple
	paddingLength := blockSize - (4+1+len(payload))%blockSize
	if paddingLength < 4 {
		paddingLength += blockSize
	}

	length := 1 + len(payload) + paddingLength
	s.prefix[0] = byte(length >> 24)
	s.prefix[1] = byte(length >> 16)
	s.prefix[2] = byte(length >> 8)
	s.prefix[3] = byte(length)
	s.prefix[4] = byte(paddingLength)

	padding := s.padding[:paddingLength]
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}

	if s.mac.length > 0 && s.etm {
		// Encrypt-then-MAC: the length stays cleartext, everything after
		// it is encrypted first, and the MAC covers length||ciphertext.
		s.cipher.XORKeyStream(s.prefix[4:5], s.prefix[4:5])
		rest := append(append([]byte{}, payload...), padding...)
		s.cipher.XORKeyStream(rest, rest)
		mac := s.mac.compute(seqNum, append(append([]byte{}, s.prefix[:5]...), rest...))
		w.Write(s.prefix[:5])
		w.Write(rest)
		w.Write(mac)
		return nil
	}

	// MAC-then-encrypt: the MAC covers the cleartext length, padding
	// length, payload and padding, so it is computed before encryption.
	rest := append(append([]byte{}, payload...), padding...)
	var mac []byte
	if s.mac.length > 0 {
		mac = s.mac.compute(seqNum, append(append([]byte{}, s.prefix[:]...), rest...))
	}
	s.cipher.XORKeyStream(s.prefix[:], s.prefix[:])
	w.Write(s.prefix[:])
	s.cipher.XORKeyStream(rest, rest)
	w.Write(rest)
	if mac != nil {
		w.Write(mac)
	}
	return nil
}

// cbcCipher implements the legacy MAC-then-encrypt CBC family, kept out
// of the default offer and present for peers that have nothing newer.
type cbcCipher struct {
	block cipher.Block
	iv    []byte
	mac   macMode
	etm   bool
}

func (c *cbcCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	bs := c.block.BlockSize()
	first := make([]byte, bs)
	if _, err := io.ReadFull(r, first); err != nil {
		return nil, err
	}
	plainFirst := make([]byte, bs)
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plainFirst, first)

	length := uint32(plainFirst[0])<<24 | uint32(plainFirst[1])<<16 | uint32(plainFirst[2])<<8 | uint32(plainFirst[3])
	paddingLength := uint32(plainFirst[4])
	if length <= 1 || length > maxPacket || paddingLength < 4 {
		return nil, &WireFormatError{"invalid CBC packet header"}
	}

	remaining := int(length) - 1 - (bs - 5)
	if remaining < 0 || remaining%bs != 0 {
		return nil, &WireFormatError{"packet length not a multiple of block size"}
	}
	cipherRest := make([]byte, remaining)
	if _, err := io.ReadFull(r, cipherRest); err != nil {
		return nil, err
	}

	plainRest := make([]byte, remaining)
	dec := cipher.NewCBCDecrypter(c.block, first[len(first)-bs:])
	dec.CryptBlocks(plainRest, cipherRest)
	c.iv = cipherRest[len(cipherRest)-bs:]

	plaintext := append(plainFirst[5:], plainRest...)

	if c.mac.length > 0 {
		mac := make([]byte, c.mac.length)
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, err
		}
		full := append(append([]byte{}, plainFirst[:5]...), plaintext...)
		if !c.mac.verify(seqNum, full, mac) {
			return nil, &CryptoError{"MAC mismatch"}
		}
	}

	if paddingLength > uint32(len(plaintext)) {
		return nil, &WireFormatError{"padding length exceeds payload"}
	}
	return plaintext[:len(plaintext)-int(paddingLength)], nil
}

func (c *cbcCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	bs := c.block.BlockSize()
	paddingLength := bs - (5+len(payload))%bs
	if paddingLength < 4 {
		paddingLength += bs
	}
	padding := make([]byte, paddingLength)
	io.ReadFull(rand, padding)

	length := 1 + len(payload) + paddingLength
	header := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length), byte(paddingLength)}
	plain := append(append(header, payload...), padding...)

	if c.mac.length > 0 {
		mac := c.mac.compute(seqNum, plain)
		defer w.Write(mac)
	}

	cipherText := make([]byte, len(plain))
	enc := cipher.NewCBCEncrypter(c.block, c.iv)
	enc.CryptBlocks(cipherText, plain)
	c.iv = cipherText[len(cipherText)-bs:]
	_, err := w.Write(cipherText)
	return err
}

// gcmCipher implements aes128-gcm@openssh.com: the length field is sent in
// the clear (but authenticated as AEAD associated data) and the tag
// replaces the separate MAC entirely.
type gcmCipher struct {
	aead   cipher.AEAD
	prefix [4]byte
	iv     []byte
	seq    uint64
}

func newGCMCipher(key, iv []byte, _ *macMode, _ []byte) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &gcmCipher{aead: aead, iv: append([]byte{}, iv...)}, nil
}

func (c *gcmCipher) incIV() {
	for i := len(c.iv) - 1; i >= 4; i-- {
		c.iv[i]++
		if c.iv[i] != 0 {
			break
		}
	}
}

func (c *gcmCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	paddingLength := packetSizeMultiple - (4+1+len(payload))%packetSizeMultiple
	if paddingLength < 4 {
		paddingLength += packetSizeMultiple
	}
	padding := make([]byte, paddingLength)
	io.ReadFull(rand, padding)

	length := 1 + len(payload) + paddingLength
	lengthBytes := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
	plain := append([]byte{byte(paddingLength)}, append(append([]byte{}, payload...), padding...)...)

	sealed := c.aead.Seal(nil, c.iv, plain, lengthBytes)
	w.Write(lengthBytes)
	w.Write(sealed)
	c.incIV()
	return nil
}

func (c *gcmCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(r, c.prefix[:]); err != nil {
		return nil, err
	}
	length := uint32(c.prefix[0])<<24 | uint32(c.prefix[1])<<16 | uint32(c.prefix[2])<<8 | uint32(c.prefix[3])
	if length > maxPacket {
		return nil, &WireFormatError{"packet too large"}
	}
	cipherText := make([]byte, int(length)+gcmTagSize)
	if _, err := io.ReadFull(r, cipherText); err != nil {
		return nil, err
	}
	plain, err := c.aead.Open(nil, c.iv, cipherText, c.prefix[:])
	if err != nil {
		return nil, &CryptoError{"AEAD authentication failed"}
	}
	c.incIV()
	if len(plain) == 0 {
		return nil, &WireFormatError{"empty AEAD plaintext"}
	}
	paddingLength := int(plain[0])
	if paddingLength < 4 || paddingLength+1 > len(plain) {
		return nil, &WireFormatError{"invalid padding length"}
	}
	return plain[1 : len(plain)-paddingLength], nil
}

// chacha20Cipher implements chacha20-poly1305@openssh.com with the
// negotiated 64-byte key split in two halves: the length half keys a
// bare ChaCha20 stream that encrypts the 4-byte length (decodable
// without touching the payload), and the payload half keys a
// ChaCha20-Poly1305 AEAD over the rest of the packet, with the encrypted
// length bound in as associated data so a tampered length can never pass
// the tag check.
type chacha20Cipher struct {
	lengthKey  [32]byte
	payloadKey [32]byte
}

func newChaCha20Cipher(key, iv []byte, _ *macMode, _ []byte) (packetCipher, error) {
	if len(key) != 64 {
		return nil, errors.New("ssh: chacha20-poly1305 requires a 64-byte key")
	}
	c := &chacha20Cipher{}
	copy(c.payloadKey[:], key[:32])
	copy(c.lengthKey[:], key[32:])
	return c, nil
}

// nonce is the wire sequence number, big-endian, in the low 8 bytes of
// the 12-byte IETF ChaCha20 nonce. Keying the nonce off seqNum (rather
// than a private counter) keeps the construction aligned with the MAC's
// sequence binding across rekeys.
func (c *chacha20Cipher) nonce(seqNum uint32) [12]byte {
	var n [12]byte
	n[8] = byte(seqNum >> 24)
	n[9] = byte(seqNum >> 16)
	n[10] = byte(seqNum >> 8)
	n[11] = byte(seqNum)
	return n
}

func (c *chacha20Cipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	paddingLength := packetSizeMultiple - (1+len(payload))%packetSizeMultiple
	if paddingLength < 4 {
		paddingLength += packetSizeMultiple
	}
	padding := make([]byte, paddingLength)
	io.ReadFull(rand, padding)
	length := 1 + len(payload) + paddingLength
	lengthBytes := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}

	nonce := c.nonce(seqNum)
	lengthStream, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return err
	}
	encLength := make([]byte, 4)
	lengthStream.XORKeyStream(encLength, lengthBytes)

	payloadAEAD, err := chacha20poly1305.New(c.payloadKey[:])
	if err != nil {
		return err
	}
	plain := append([]byte{byte(paddingLength)}, append(append([]byte{}, payload...), padding...)...)
	sealed := payloadAEAD.Seal(nil, nonce[:], plain, encLength)

	w.Write(encLength)
	w.Write(sealed)
	return nil
}

func (c *chacha20Cipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var encLength [4]byte
	if _, err := io.ReadFull(r, encLength[:]); err != nil {
		return nil, err
	}
	nonce := c.nonce(seqNum)
	lengthStream, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	var lengthBytes [4]byte
	lengthStream.XORKeyStream(lengthBytes[:], encLength[:])
	length := uint32(lengthBytes[0])<<24 | uint32(lengthBytes[1])<<16 | uint32(lengthBytes[2])<<8 | uint32(lengthBytes[3])
	if length > maxPacket {
		return nil, &WireFormatError{"packet too large"}
	}

	rest := make([]byte, int(length)+gcmTagSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	payloadAEAD, err := chacha20poly1305.New(c.payloadKey[:])
	if err != nil {
		return nil, err
	}
	plain, err := payloadAEAD.Open(nil, nonce[:], rest, encLength[:])
	if err != nil {
		return nil, &CryptoError{"poly1305 authentication failed"}
	}
	if len(plain) == 0 {
		return nil, &WireFormatError{"empty AEAD plaintext"}
	}
	paddingLength := int(plain[0])
	if paddingLength < 4 || paddingLength+1 > len(plain) {
		return nil, &WireFormatError{"invalid padding length"}
	}
	return plain[1 : len(plain)-paddingLength], nil
}

// macMode describes a MAC algorithm and whether it runs encrypt-then-MAC
// (the "-etm@openssh.com" suffix) or MAC-then-encrypt.
type macMode struct {
	length  int
	keySize int
	etm     bool
	new     func() hash.Hash
	key     []byte
}

func (m *macMode) withKey(key []byte) *macMode {
	cp := *m
	cp.key = key
	return &cp
}

func (m *macMode) compute(seqNum uint32, data []byte) []byte {
	mac := hmac.New(m.new, m.key)
	var seq [4]byte
	seq[0] = byte(seqNum >> 24)
	seq[1] = byte(seqNum >> 16)
	seq[2] = byte(seqNum >> 8)
	seq[3] = byte(seqNum)
	mac.Write(seq[:])
	mac.Write(data)
	return mac.Sum(nil)[:m.length]
}

func (m *macMode) verify(seqNum uint32, data, remoteMAC []byte) bool {
	return hmac.Equal(m.compute(seqNum, data), remoteMAC)
}

var macModes = map[string]*macMode{
	"hmac-sha2-256":                 {32, 32, false, sha256.New, nil},
	"hmac-sha2-256-etm@openssh.com": {32, 32, true, sha256.New, nil},
	"hmac-sha1":                     {20, 20, false, sha1.New, nil},
	"hmac-sha1-etm@openssh.com":     {20, 20, true, sha1.New, nil},
	"hmac-sha1-96":                  {12, 20, false, sha1.New, nil},
}
