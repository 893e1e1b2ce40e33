// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"encoding/binary"
	"time"
)

// Certificate algorithm names from OpenSSH's PROTOCOL.certkeys.
const (
	CertAlgoRSAv01      = "ssh-rsa-cert-v01@openssh.com"
	CertAlgoECDSA256v01 = "ecdsa-sha2-nistp256-cert-v01@openssh.com"
	CertAlgoECDSA384v01 = "ecdsa-sha2-nistp384-cert-v01@openssh.com"
	CertAlgoECDSA521v01 = "ecdsa-sha2-nistp521-cert-v01@openssh.com"
	CertAlgoED25519v01  = "ssh-ed25519-cert-v01@openssh.com"
)

// Certificate types distinguish user identities from host identities.
const (
	UserCert = 1
	HostCert = 2
)

var certAlgoNames = map[string]string{
	KeyAlgoRSA:      CertAlgoRSAv01,
	KeyAlgoECDSA256: CertAlgoECDSA256v01,
	KeyAlgoECDSA384: CertAlgoECDSA384v01,
	KeyAlgoECDSA521: CertAlgoECDSA521v01,
	KeyAlgoED25519:  CertAlgoED25519v01,
}

// pubAlgoToPrivAlgo maps a certificate algorithm name back to the plain
// public-key algorithm name it carries (RFC 4253's hostKeyAlgo negotiated
// for the KEX is the cert name; the signature the cert's Key produces uses
// the plain name).
func pubAlgoToPrivAlgo(pubAlgo string) string {
	switch pubAlgo {
	case CertAlgoRSAv01:
		return KeyAlgoRSA
	case CertAlgoECDSA256v01:
		return KeyAlgoECDSA256
	case CertAlgoECDSA384v01:
		return KeyAlgoECDSA384
	case CertAlgoECDSA521v01:
		return KeyAlgoECDSA521
	case CertAlgoED25519v01:
		return KeyAlgoED25519
	}
	return pubAlgo
}

type signature struct {
	Format string
	Blob   []byte
}

type tuple struct {
	Name string
	Data string
}

// Certificate represents an OpenSSH certificate as defined in
// PROTOCOL.certkeys: a host or user key signed by a separate CA key,
// carrying validity bounds and principal restrictions. The publickey
// auth method accepts these in place of bare keys.
type Certificate struct {
	Nonce                   []byte
	Key                     PublicKey
	Serial                  uint64
	CertType                uint32
	KeyID                   string
	ValidPrincipals         []string
	ValidAfter, ValidBefore time.Time
	CriticalOptions         []tuple
	Extensions              []tuple
	Reserved                []byte
	SignatureKey            PublicKey
	Signature               *signature
}

// Type returns the certificate algorithm name used in KEXINIT/USERAUTH
// negotiation, e.g. "ssh-rsa-cert-v01@openssh.com".
func (c *Certificate) Type() string {
	algo, ok := certAlgoNames[c.Key.Type()]
	if !ok {
		panic("ssh: unknown certificate key type " + c.Key.Type())
	}
	return algo
}

// Marshal returns the certificate's wire representation, ending in the
// CA's signature over everything before it.
func (c *Certificate) Marshal() []byte {
	pubKey := c.Key.Marshal()
	sigKey := c.SignatureKey.Marshal()

	length := stringLength(len(c.Nonce))
	length += len(pubKey)
	length += 8
	length += 4
	length += stringLength(len(c.KeyID))
	length += lengthPrefixedNameListLength(c.ValidPrincipals)
	length += 8
	length += 8
	length += tupleListLength(c.CriticalOptions)
	length += tupleListLength(c.Extensions)
	length += stringLength(len(c.Reserved))
	length += stringLength(len(sigKey))
	length += signatureLength(c.Signature)

	ret := make([]byte, length)
	r := marshalString(ret, c.Nonce)
	copy(r, pubKey)
	r = r[len(pubKey):]
	r = marshalUint64(r, c.Serial)
	r = marshalUint32(r, c.CertType)
	r = marshalString(r, []byte(c.KeyID))
	r = marshalLengthPrefixedNameList(r, c.ValidPrincipals)
	r = marshalUint64(r, uint64(c.ValidAfter.Unix()))
	r = marshalUint64(r, uint64(c.ValidBefore.Unix()))
	r = marshalTupleList(r, c.CriticalOptions)
	r = marshalTupleList(r, c.Extensions)
	r = marshalString(r, c.Reserved)
	r = marshalString(r, sigKey)
	marshalSignature(r, c.Signature)
	return ret
}

// Verify checks sig over data with the certified Key, so a certificate can
// stand in for its key; VerifySignature checks the CA's signature.
func (c *Certificate) Verify(data []byte, sig []byte) bool {
	return c.Key.Verify(data, sig)
}

// signedBytes returns the portion of the wire form that the CA signature
// covers (everything up to, but not including, the signature field).
func (c *Certificate) signedBytes() []byte {
	full := c.Marshal()
	sigLen := signatureLength(c.Signature)
	return full[:len(full)-sigLen]
}

// VerifySignature checks the CA's signature over the certificate itself.
func (c *Certificate) VerifySignature() bool {
	return c.SignatureKey.Verify(c.signedBytes(), c.Signature.Blob)
}

// ValidAt reports whether t falls within [ValidAfter, ValidBefore) and
// principal is listed (or ValidPrincipals is empty, meaning any).
func (c *Certificate) ValidAt(t time.Time, principal string) bool {
	if t.Before(c.ValidAfter) || !t.Before(c.ValidBefore) {
		return false
	}
	if len(c.ValidPrincipals) == 0 {
		return true
	}
	for _, p := range c.ValidPrincipals {
		if p == principal {
			return true
		}
	}
	return false
}

func parseOpenSSHCertV01(in []byte, algo string) (out *Certificate, rest []byte, ok bool) {
	cert := new(Certificate)

	if cert.Nonce, in, ok = parseString(in); !ok {
		return
	}

	cert.Key, in, ok = parsePlainPublicKey(in)
	if !ok {
		return
	}
	if cert.Key.Type() != algo {
		return nil, nil, false
	}

	if cert.Serial, in, ok = parseUint64(in); !ok {
		return
	}

	if cert.CertType, in, ok = parseUint32(in); !ok || (cert.CertType != UserCert && cert.CertType != HostCert) {
		return nil, nil, false
	}

	keyID, in, ok := parseString(in)
	if !ok {
		return
	}
	cert.KeyID = string(keyID)

	if cert.ValidPrincipals, in, ok = parseLengthPrefixedNameList(in); !ok {
		return
	}

	va, in, ok := parseUint64(in)
	if !ok {
		return
	}
	cert.ValidAfter = time.Unix(int64(va), 0)

	vb, in, ok := parseUint64(in)
	if !ok {
		return
	}
	cert.ValidBefore = time.Unix(int64(vb), 0)

	if cert.CriticalOptions, in, ok = parseTupleList(in); !ok {
		return
	}

	if cert.Extensions, in, ok = parseTupleList(in); !ok {
		return
	}

	if cert.Reserved, in, ok = parseString(in); !ok {
		return
	}

	sigKey, in, ok := parseString(in)
	if !ok {
		return
	}
	if cert.SignatureKey, _, ok = parsePlainPublicKey(sigKey); !ok {
		return
	}

	if cert.Signature, in, ok = parseSignature(in); !ok {
		return
	}

	return cert, in, true
}

// parsePlainPublicKey parses a bare public key blob, never a certificate
// -- used while parsing a certificate's own embedded Key and SignatureKey
// fields, which must themselves be plain keys, not nested certificates.
func parsePlainPublicKey(in []byte) (PublicKey, []byte, bool) {
	algo, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	switch string(algo) {
	case KeyAlgoRSA:
		return parseRSA(rest)
	case KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521:
		return parseECDSA(rest, string(algo))
	case KeyAlgoED25519:
		return parseED25519(rest)
	}
	return nil, nil, false
}

func lengthPrefixedNameListLength(namelist []string) int {
	length := 4
	for _, name := range namelist {
		length += 4 + len(name)
	}
	return length
}

func marshalLengthPrefixedNameList(to []byte, namelist []string) []byte {
	to = marshalUint32(to, uint32(lengthPrefixedNameListLength(namelist)-4))
	for _, name := range namelist {
		to = marshalString(to, []byte(name))
	}
	return to
}

func parseLengthPrefixedNameList(in []byte) (out []string, rest []byte, ok bool) {
	list, rest, ok := parseString(in)
	if !ok {
		return
	}
	for len(list) > 0 {
		var next []byte
		if next, list, ok = parseString(list); !ok {
			return nil, nil, false
		}
		out = append(out, string(next))
	}
	return out, rest, true
}

func tupleListLength(list []tuple) int {
	length := 4
	for _, t := range list {
		length += 4 + len(t.Name)
		length += 4 + len(t.Data)
	}
	return length
}

func marshalTupleList(to []byte, list []tuple) []byte {
	to = marshalUint32(to, uint32(tupleListLength(list)-4))
	for _, t := range list {
		to = marshalString(to, []byte(t.Name))
		to = marshalString(to, []byte(t.Data))
	}
	return to
}

func parseTupleList(in []byte) (out []tuple, rest []byte, ok bool) {
	list, rest, ok := parseString(in)
	if !ok {
		return
	}
	for len(list) > 0 {
		var name, data []byte
		if name, list, ok = parseString(list); !ok {
			return nil, nil, false
		}
		if data, list, ok = parseString(list); !ok {
			return nil, nil, false
		}
		out = append(out, tuple{string(name), string(data)})
	}
	return out, rest, true
}

func signatureLength(sig *signature) int {
	return 4 + stringLength(len(sig.Format)) + stringLength(len(sig.Blob))
}

func marshalSignature(to []byte, sig *signature) []byte {
	to = marshalUint32(to, uint32(signatureLength(sig)-4))
	to = marshalString(to, []byte(sig.Format))
	return marshalString(to, sig.Blob)
}

func parseSignatureBody(in []byte) (out *signature, rest []byte, ok bool) {
	var format []byte
	if format, in, ok = parseString(in); !ok {
		return
	}
	out = &signature{Format: string(format)}
	if out.Blob, in, ok = parseString(in); !ok {
		return
	}
	return out, in, ok
}

func parseSignature(in []byte) (out *signature, rest []byte, ok bool) {
	var sigBytes []byte
	if sigBytes, rest, ok = parseString(in); !ok {
		return
	}
	sig, _, ok := parseSignatureBody(sigBytes)
	return sig, rest, ok
}

func parseUint32(in []byte) (uint32, []byte, bool) {
	if len(in) < 4 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(in), in[4:], true
}

func parseUint64(in []byte) (uint64, []byte, bool) {
	if len(in) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(in), in[8:], true
}

func marshalUint32(to []byte, n uint32) []byte {
	binary.BigEndian.PutUint32(to, n)
	return to[4:]
}

func marshalUint64(to []byte, n uint64) []byte {
	binary.BigEndian.PutUint64(to, n)
	return to[8:]
}
