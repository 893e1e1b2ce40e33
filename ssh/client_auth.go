// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
)

// clientAuthenticate runs the ssh-userauth service on the client side: it
// walks config.Auth in order, attempting each method and relaying partial
// successes, until one method reports authSuccess or the methods are
// exhausted.
func (c *connection) clientAuthenticate(config *ClientConfig) error {
	if err := c.transport.writePacket(Marshal(&serviceRequestMsg{Service: serviceUserAuth})); err != nil {
		return err
	}
	packet, err := c.transport.readPacket()
	if err != nil {
		return err
	}
	var accept serviceAcceptMsg
	if err := Unmarshal(packet, &accept); err != nil {
		return err
	}

	sessionID := c.sessionID

	// Probe with "none" first to learn which methods the server wants,
	// and to pick up a banner if one arrives unsolicited.
	if err := c.transport.writePacket(Marshal(&userAuthRequestMsg{
		User:    config.User,
		Service: serviceSSH,
		Method:  "none",
	})); err != nil {
		return err
	}

	var tried []string
	methods, err := c.readAuthReply(config)
	if err == nil {
		return nil // server accepts unauthenticated clients
	}
	var failure *authFailureSignal
	if !errors.As(err, &failure) {
		return err
	}
	methods = failure.methods

	for _, auth := range config.Auth {
		if !contains(methods, auth.method()) && auth.method() != "none" {
			continue
		}
		tried = append(tried, auth.method())
		result, next, err := auth.auth(sessionID, config.User, c.transport, config.Rand)
		if err != nil {
			return err
		}
		switch result {
		case authSuccess:
			return nil
		case authPartialSuccess:
			methods = next
			continue
		case authFailure:
			methods = next
		}
	}
	return fmt.Errorf("ssh: unable to authenticate, attempted methods %v, no supported methods remain", tried)
}

// authFailureSignal carries the methods-left list out of readAuthReply
// when the server rejects an attempt.
type authFailureSignal struct {
	methods []string
}

func (e *authFailureSignal) Error() string { return "ssh: auth failure" }

// readAuthReply reads one USERAUTH_FAILURE or USERAUTH_SUCCESS reply for
// the probe step above, handing any BANNER to config.BannerCallback on the
// way; any other message, PUBKEY_OK included, is an unexpected-message
// error. Individual AuthMethod implementations do their own reply handling
// for their multi-step exchanges.
func (c *connection) readAuthReply(config *ClientConfig) ([]string, error) {
	for {
		packet, err := c.transport.readPacket()
		if err != nil {
			return nil, err
		}
		switch packet[0] {
		case msgUserAuthBanner:
			var msg userAuthBannerMsg
			if err := Unmarshal(packet, &msg); err == nil && config.BannerCallback != nil {
				if err := config.BannerCallback(msg.Message); err != nil {
					return nil, err
				}
			}
			continue
		case msgUserAuthSuccess:
			return nil, nil
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return nil, err
			}
			return nil, &authFailureSignal{methods: msg.Methods}
		default:
			return nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// passwordCallback implements "password" auth (RFC 4252 section 8).
type passwordCallback func() (string, error)

func (passwordCallback) method() string { return "password" }

func (cb passwordCallback) auth(session []byte, user string, c packetConn, rand interface{ Read([]byte) (int, error) }) (authResult, []string, error) {
	pw, err := cb()
	if err != nil {
		return authFailure, nil, err
	}
	var payload []byte
	payload = appendBool(payload, false)
	payload = appendString(payload, pw)
	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User: user, Service: serviceSSH, Method: "password",
		Payload: payload,
	})); err != nil {
		return authFailure, nil, err
	}
	return parseAuthResult(c)
}

// Password returns an AuthMethod that always supplies the given password.
func Password(secret string) AuthMethod {
	return passwordCallback(func() (string, error) { return secret, nil })
}

// PasswordCallback returns an AuthMethod that calls fn to get the password
// for each attempt.
func PasswordCallback(fn func() (secret string, err error)) AuthMethod {
	return passwordCallback(fn)
}

func parseAuthResult(c packetConn) (authResult, []string, error) {
	packet, err := c.readPacket()
	if err != nil {
		return authFailure, nil, err
	}
	switch packet[0] {
	case msgUserAuthSuccess:
		return authSuccess, nil, nil
	case msgUserAuthFailure:
		var msg userAuthFailureMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return authFailure, nil, err
		}
		if msg.PartialSuccess {
			return authPartialSuccess, msg.Methods, nil
		}
		return authFailure, msg.Methods, nil
	case msgUserAuthBanner:
		return parseAuthResult(c) // tolerate a banner interleaved mid-method
	default:
		return authFailure, nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
	}
}

// publicKeyCallback implements the "publickey" method (RFC 4252
// section 7).
type publicKeyCallback struct {
	signers func() ([]Signer, error)
}

func (*publicKeyCallback) method() string { return "publickey" }

func (cb *publicKeyCallback) auth(session []byte, user string, c packetConn, rand interface{ Read([]byte) (int, error) }) (authResult, []string, error) {
	signers, err := cb.signers()
	if err != nil {
		return authFailure, nil, err
	}
	var methods []string
	for _, signer := range signers {
		pub := signer.PublicKey()
		algo := pub.Type()
		pubBlob := pub.Marshal()

		signedData := buildPubKeyAuthData(session, user, serviceSSH, algo, pubBlob)
		sig, err := signer.Sign(rand, signedData)
		if err != nil {
			return authFailure, nil, err
		}
		sigBlob := Marshal(&signature{Format: algo, Blob: sig})

		var payload []byte
		payload = appendBool(payload, true)
		payload = appendString(payload, algo)
		payload = appendString(payload, string(pubBlob))
		payload = append(payload, sigBlob...)

		if err := c.writePacket(Marshal(&userAuthRequestMsg{
			User: user, Service: serviceSSH, Method: "publickey",
			Payload: payload,
		})); err != nil {
			return authFailure, nil, err
		}
		result, left, err := parseAuthResult(c)
		if err != nil {
			return authFailure, nil, err
		}
		if result != authFailure {
			return result, left, nil
		}
		methods = left
	}
	return authFailure, methods, nil
}

// PublicKeys returns an AuthMethod that tries each signer's key in turn.
func PublicKeys(signers ...Signer) AuthMethod {
	return &publicKeyCallback{signers: func() ([]Signer, error) { return signers, nil }}
}

// PublicKeysCallback returns an AuthMethod whose key set is resolved lazily
// (e.g. from a running ssh-agent) each time it is attempted.
func PublicKeysCallback(getSigners func() ([]Signer, error)) AuthMethod {
	return &publicKeyCallback{signers: getSigners}
}

// keyboardInteractiveCallback implements "keyboard-interactive"
// (RFC 4256).
type keyboardInteractiveCallback KeyboardInteractiveChallenge

func (keyboardInteractiveCallback) method() string { return "keyboard-interactive" }

func (cb keyboardInteractiveCallback) auth(session []byte, user string, c packetConn, rand interface{ Read([]byte) (int, error) }) (authResult, []string, error) {
	var payload []byte
	payload = appendString(payload, "") // language tag, unused
	payload = appendString(payload, "") // submethods
	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User: user, Service: serviceSSH, Method: "keyboard-interactive",
		Payload: payload,
	})); err != nil {
		return authFailure, nil, err
	}

	for {
		packet, err := c.readPacket()
		if err != nil {
			return authFailure, nil, err
		}
		if packet[0] != msgUserAuthInfoRequest {
			return authFromPacket(packet)
		}
		packet = packet[1:]
		name, rest, ok := parseString(packet)
		if !ok {
			return authFailure, nil, parseError(msgUserAuthInfoRequest)
		}
		instruction, rest, ok := parseString(rest)
		if !ok {
			return authFailure, nil, parseError(msgUserAuthInfoRequest)
		}
		_, rest, ok = parseString(rest) // language tag
		if !ok {
			return authFailure, nil, parseError(msgUserAuthInfoRequest)
		}
		numPrompts, rest, ok := parseUint32(rest)
		if !ok {
			return authFailure, nil, parseError(msgUserAuthInfoRequest)
		}
		questions := make([]string, numPrompts)
		echos := make([]bool, numPrompts)
		for i := 0; i < int(numPrompts); i++ {
			q, r, ok := parseString(rest)
			if !ok || len(r) < 1 {
				return authFailure, nil, parseError(msgUserAuthInfoRequest)
			}
			questions[i] = string(q)
			echos[i] = r[0] != 0
			rest = r[1:]
		}
		answers, err := cb(string(name), string(instruction), questions, echos)
		if err != nil {
			return authFailure, nil, err
		}
		var resp []byte
		resp = appendU32(resp, uint32(len(answers)))
		for _, a := range answers {
			resp = appendString(resp, a)
		}
		infoResp := make([]byte, 1+len(resp))
		infoResp[0] = msgUserAuthInfoResponse
		copy(infoResp[1:], resp)
		if err := c.writePacket(infoResp); err != nil {
			return authFailure, nil, err
		}
	}
}

func authFromPacket(packet []byte) (authResult, []string, error) {
	switch packet[0] {
	case msgUserAuthSuccess:
		return authSuccess, nil, nil
	case msgUserAuthFailure:
		var msg userAuthFailureMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return authFailure, nil, err
		}
		if msg.PartialSuccess {
			return authPartialSuccess, msg.Methods, nil
		}
		return authFailure, msg.Methods, nil
	default:
		return authFailure, nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
	}
}

// KeyboardInteractive returns an AuthMethod using the given challenge
// function to answer server prompts.
func KeyboardInteractive(challenge KeyboardInteractiveChallenge) AuthMethod {
	return keyboardInteractiveCallback(challenge)
}

// RetryableAuthMethod wraps another AuthMethod so it is retried up to
// maxTries times before the failure is reported upward, useful for
// interactive password prompts where the user may mistype.
func RetryableAuthMethod(auth AuthMethod, maxTries int) AuthMethod {
	return &retryable{inner: auth, maxTries: maxTries}
}

type retryable struct {
	inner    AuthMethod
	maxTries int
}

func (r *retryable) method() string { return r.inner.method() }

func (r *retryable) auth(session []byte, user string, c packetConn, rand interface{ Read([]byte) (int, error) }) (authResult, []string, error) {
	tries := r.maxTries
	if tries <= 0 {
		tries = 1
	}
	var lastMethods []string
	for i := 0; i < tries; i++ {
		result, methods, err := r.inner.auth(session, user, c, rand)
		if err != nil {
			return authFailure, nil, err
		}
		if result != authFailure {
			return result, methods, nil
		}
		lastMethods = methods
	}
	return authFailure, lastMethods, nil
}
