// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Public-key algorithm names, RFC 4253 section 6.6 and RFC 8709/5656.
const (
	KeyAlgoRSA      = "ssh-rsa"
	KeyAlgoECDSA256 = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384 = "ecdsa-sha2-nistp384"
	KeyAlgoECDSA521 = "ecdsa-sha2-nistp521"
	KeyAlgoED25519  = "ssh-ed25519"
)

// PublicKey represents a key that can be used to authenticate a host or
// a user.
type PublicKey interface {
	// Type returns the algorithm name, e.g. "ssh-rsa".
	Type() string
	// Marshal returns the RFC 4253 section 6.6 wire representation,
	// without the outer length-prefix used when embedding it in another
	// message.
	Marshal() []byte
	// Verify checks sig against data, assuming data was hashed per the
	// algorithm's usual scheme.
	Verify(data []byte, sig []byte) bool
}

// Signer can produce a signature for a given piece of data, usually
// wrapping a crypto.Signer private key.
type Signer interface {
	PublicKey() PublicKey
	Sign(rand interface{ Read([]byte) (int, error) }, data []byte) ([]byte, error)
}

type rsaPublicKey rsa.PublicKey

func (r *rsaPublicKey) Type() string { return KeyAlgoRSA }

func (r *rsaPublicKey) Marshal() []byte {
	e := new(big.Int).SetInt64(int64(r.E))
	length := stringLength(len(KeyAlgoRSA))
	length += intLength(e)
	length += intLength(r.N)
	ret := make([]byte, length)
	rest := marshalString(ret, []byte(KeyAlgoRSA))
	rest = marshalInt(rest, e)
	marshalInt(rest, r.N)
	return ret
}

func (r *rsaPublicKey) Verify(data []byte, sigBlob []byte) bool {
	hash := crypto.SHA256
	h := hash.New()
	h.Write(data)
	digest := h.Sum(nil)
	return rsa.VerifyPKCS1v15((*rsa.PublicKey)(r), hash, digest, sigBlob) == nil
}

type rsaSigner struct {
	priv *rsa.PrivateKey
	pub  *rsaPublicKey
}

func (s *rsaSigner) PublicKey() PublicKey { return s.pub }

func (s *rsaSigner) Sign(rnd interface{ Read([]byte) (int, error) }, data []byte) ([]byte, error) {
	hash := crypto.SHA256
	h := hash.New()
	h.Write(data)
	digest := h.Sum(nil)
	return rsa.SignPKCS1v15(rand.Reader, s.priv, hash, digest)
}

// NewSignerFromRSAKey wraps an *rsa.PrivateKey as a Signer.
func NewSignerFromRSAKey(priv *rsa.PrivateKey) Signer {
	pub := rsaPublicKey(priv.PublicKey)
	return &rsaSigner{priv: priv, pub: &pub}
}

type ecdsaPublicKey ecdsa.PublicKey

func ecdsaAlgoName(curve elliptic.Curve) string {
	switch curve.Params().BitSize {
	case 256:
		return KeyAlgoECDSA256
	case 384:
		return KeyAlgoECDSA384
	case 521:
		return KeyAlgoECDSA521
	}
	panic("ssh: unsupported ecdsa curve")
}

func ecdsaCurveName(algo string) string {
	switch algo {
	case KeyAlgoECDSA256:
		return "nistp256"
	case KeyAlgoECDSA384:
		return "nistp384"
	case KeyAlgoECDSA521:
		return "nistp521"
	}
	return ""
}

func (k *ecdsaPublicKey) Type() string { return ecdsaAlgoName(k.Curve) }

func (k *ecdsaPublicKey) Marshal() []byte {
	algo := k.Type()
	curveName := ecdsaCurveName(algo)
	keyBytes := elliptic.Marshal(k.Curve, k.X, k.Y)

	length := stringLength(len(algo))
	length += stringLength(len(curveName))
	length += stringLength(len(keyBytes))
	ret := make([]byte, length)
	r := marshalString(ret, []byte(algo))
	r = marshalString(r, []byte(curveName))
	marshalString(r, keyBytes)
	return ret
}

func (k *ecdsaPublicKey) Verify(data []byte, sigBlob []byte) bool {
	r, rest, ok := parseMPInt(sigBlob)
	if !ok {
		return false
	}
	s, _, ok := parseMPInt(rest)
	if !ok {
		return false
	}
	h := hashFuncs[k.Type()].New()
	h.Write(data)
	digest := h.Sum(nil)
	return ecdsa.Verify((*ecdsa.PublicKey)(k), digest, r, s)
}

type ecdsaSigner struct {
	priv *ecdsa.PrivateKey
	pub  *ecdsaPublicKey
}

func (s *ecdsaSigner) PublicKey() PublicKey { return s.pub }

func (s *ecdsaSigner) Sign(rnd interface{ Read([]byte) (int, error) }, data []byte) ([]byte, error) {
	h := hashFuncs[s.pub.Type()].New()
	h.Write(data)
	digest := h.Sum(nil)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv, digest)
	if err != nil {
		return nil, err
	}
	length := intLength(r) + intLength(sVal)
	sig := make([]byte, length)
	rest := marshalInt(sig, r)
	marshalInt(rest, sVal)
	return sig, nil
}

// NewSignerFromECDSAKey wraps an *ecdsa.PrivateKey as a Signer.
func NewSignerFromECDSAKey(priv *ecdsa.PrivateKey) Signer {
	pub := ecdsaPublicKey(priv.PublicKey)
	return &ecdsaSigner{priv: priv, pub: &pub}
}

type ed25519PublicKey ed25519.PublicKey

func (k ed25519PublicKey) Type() string { return KeyAlgoED25519 }

func (k ed25519PublicKey) Marshal() []byte {
	length := stringLength(len(KeyAlgoED25519)) + stringLength(len(k))
	ret := make([]byte, length)
	r := marshalString(ret, []byte(KeyAlgoED25519))
	marshalString(r, k)
	return ret
}

func (k ed25519PublicKey) Verify(data []byte, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k), data, sig)
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519PublicKey
}

func (s *ed25519Signer) PublicKey() PublicKey { return s.pub }

func (s *ed25519Signer) Sign(rnd interface{ Read([]byte) (int, error) }, data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

// NewSignerFromEd25519Key wraps an ed25519.PrivateKey as a Signer.
func NewSignerFromEd25519Key(priv ed25519.PrivateKey) Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{priv: priv, pub: ed25519PublicKey(pub)}
}

// ParsePublicKey parses an RFC 4253 section 6.6 public key blob (as stored
// in authorized_keys or sent in a PK_OK/USERAUTH_REQUEST publickey blob).
func ParsePublicKey(in []byte) (out PublicKey, rest []byte, ok bool) {
	algo, in, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	switch string(algo) {
	case KeyAlgoRSA:
		return parseRSA(in)
	case KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521:
		return parseECDSA(in, string(algo))
	case KeyAlgoED25519:
		return parseED25519(in)
	case CertAlgoRSAv01, CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01, CertAlgoED25519v01:
		cert, rest, ok := parseOpenSSHCertV01(in, pubAlgoToPrivAlgo(string(algo)))
		return cert, rest, ok
	default:
		return nil, nil, false
	}
}

func parseRSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	var e, n *big.Int
	if e, in, ok = parseMPInt(in); !ok {
		return
	}
	if n, in, ok = parseMPInt(in); !ok {
		return
	}
	if e.BitLen() > 24 {
		return nil, nil, false
	}
	key := &rsaPublicKey{E: int(e.Int64()), N: n}
	return key, in, true
}

func parseECDSA(in []byte, algo string) (out PublicKey, rest []byte, ok bool) {
	var curveName, keyBytes []byte
	if curveName, in, ok = parseString(in); !ok {
		return
	}
	if ecdsaCurveName(algo) != string(curveName) {
		return nil, nil, false
	}
	if keyBytes, in, ok = parseString(in); !ok {
		return
	}
	var curve elliptic.Curve
	switch algo {
	case KeyAlgoECDSA256:
		curve = elliptic.P256()
	case KeyAlgoECDSA384:
		curve = elliptic.P384()
	case KeyAlgoECDSA521:
		curve = elliptic.P521()
	}
	x, y := elliptic.Unmarshal(curve, keyBytes)
	if x == nil {
		return nil, nil, false
	}
	key := &ecdsaPublicKey{Curve: curve, X: x, Y: y}
	return key, in, true
}

func parseED25519(in []byte) (out PublicKey, rest []byte, ok bool) {
	var keyBytes []byte
	if keyBytes, in, ok = parseString(in); !ok {
		return
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, nil, false
	}
	return ed25519PublicKey(keyBytes), in, true
}

// MarshalPublicKey returns key's type-prefixed wire blob (RFC 4253
// section 6.6), the raw bytes, not base64-encoded.
func MarshalPublicKey(key PublicKey) []byte { return key.Marshal() }

// MarshalAuthorizedKey serializes key into the one-line authorized_keys
// textual form: "<type> <base64> [comment]".
func MarshalAuthorizedKey(key PublicKey) []byte {
	b64 := base64.StdEncoding.EncodeToString(key.Marshal())
	return []byte(key.Type() + " " + b64 + "\n")
}

// ParseAuthorizedKey parses a single authorized_keys-format line.
func ParseAuthorizedKey(line []byte) (out PublicKey, comment string, options []string, rest []byte, err error) {
	for {
		line = bytesTrimLeftSpace(line)
		if len(line) == 0 {
			return nil, "", nil, nil, errors.New("ssh: no key found")
		}
		i := bytesIndexByte(line, '\n')
		var nextLine []byte
		if i >= 0 {
			nextLine = line[i+1:]
			line = line[:i]
		}

		line = bytesTrimRightSpace(line)
		if len(line) == 0 || line[0] == '#' {
			line = nextLine
			if len(line) == 0 {
				return nil, "", nil, nil, errors.New("ssh: no key found")
			}
			continue
		}

		fields := splitFields(string(line))
		if len(fields) < 2 {
			return nil, "", nil, nil, errors.New("ssh: missing fields in authorized_keys line")
		}

		var keyField, commentField string
		switch fields[0] {
		case KeyAlgoRSA, KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521, KeyAlgoED25519:
			keyField = fields[1]
			if len(fields) > 2 {
				commentField = strings.Join(fields[2:], " ")
			}
		default:
			// options field, e.g. `no-pty,command="..." ssh-rsa AAAA...`
			if len(fields) < 3 {
				return nil, "", nil, nil, errors.New("ssh: missing key type after options")
			}
			options = strings.Split(fields[0], ",")
			keyField = fields[2]
			if len(fields) > 3 {
				commentField = strings.Join(fields[3:], " ")
			}
		}

		keyBytes, err := base64.StdEncoding.DecodeString(keyField)
		if err != nil {
			return nil, "", nil, nil, err
		}
		pub, _, ok := ParsePublicKey(keyBytes)
		if !ok {
			return nil, "", nil, nil, errors.New("ssh: could not parse key")
		}
		return pub, commentField, options, nextLine, nil
	}
}

// ParsePrivateKey parses a PEM-encoded private key into a Signer, the
// form host keys are loaded in.
func ParsePrivateKey(pemBytes []byte) (Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("ssh: no key found in PEM input")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromRSAKey(priv), nil
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromECDSAKey(priv), nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return NewSignerFromRSAKey(k), nil
		case *ecdsa.PrivateKey:
			return NewSignerFromECDSAKey(k), nil
		case ed25519.PrivateKey:
			return NewSignerFromEd25519Key(k), nil
		default:
			return nil, fmt.Errorf("ssh: unsupported PKCS#8 key type %T", k)
		}
	default:
		return nil, fmt.Errorf("ssh: unsupported PEM block type %q (OpenSSH-native key format is not implemented; convert with `ssh-keygen -p -m pkcs8`)", block.Type)
	}
}

func bytesTrimLeftSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return b[i:]
}

func bytesTrimRightSpace(b []byte) []byte {
	i := len(b)
	for i > 0 && (b[i-1] == ' ' || b[i-1] == '\t' || b[i-1] == '\r') {
		i--
	}
	return b[:i]
}

func bytesIndexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func splitFields(s string) []string {
	return strings.Fields(s)
}
