// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
)

// errPubKeyOkSent signals that a publickey query-phase request was
// answered with PK_OK; the dispatch loop waits for the signed follow-up
// instead of sending a failure.
var errPubKeyOkSent = errors.New("ssh: publickey query answered")

// authPipe runs the ssh-userauth service (RFC 4252) on the server side:
// method negotiation, per-method dispatch to the configured callbacks,
// partial-success handling, and the failure budget. It reads directly
// from the transport and writes its own replies; once it returns
// successfully the caller switches the transport over to the
// ssh-connection service.
type authPipe struct {
	conn   *connection
	config *ServerConfig

	userAuthRequestsCount int
}

// maxTriesBeforeDisconnect mirrors OpenSSH's default auth-attempt budget
// when ServerConfig.MaxAuthTries is left at zero.
const maxTriesBeforeDisconnect = 20

func (s *authPipe) serverAuthenticate() (*Permissions, error) {
	packet, err := s.conn.transport.readPacket()
	if err != nil {
		return nil, err
	}
	var serviceRequest serviceRequestMsg
	if err := Unmarshal(packet, &serviceRequest); err != nil {
		return nil, err
	}
	if serviceRequest.Service != serviceUserAuth {
		return nil, &DisconnectError{Reason: DisconnectServiceNotAvailable, Message: "unknown service " + serviceRequest.Service}
	}
	if err := s.conn.transport.writePacket(Marshal(&serviceAcceptMsg{Service: serviceUserAuth})); err != nil {
		return nil, err
	}

	if s.config.BannerCallback != nil {
		if msg := s.config.BannerCallback(s.conn); msg != "" {
			if err := s.conn.transport.writePacket(Marshal(&userAuthBannerMsg{Message: msg})); err != nil {
				return nil, err
			}
		}
	}

	var cache pubKeyCache

	maxTries := s.config.MaxAuthTries
	if maxTries == 0 {
		maxTries = maxTriesBeforeDisconnect
	}

	for {
		packet, err := s.conn.transport.readPacket()
		if err != nil {
			return nil, err
		}

		var userAuthReq userAuthRequestMsg
		if err := Unmarshal(packet, &userAuthReq); err != nil {
			return nil, err
		}

		if userAuthReq.Service != serviceSSH {
			return nil, &DisconnectError{Reason: DisconnectServiceNotAvailable, Message: "unknown service " + userAuthReq.Service}
		}

		s.conn.user = userAuthReq.User

		perms, authErr := s.dispatch(userAuthReq, &cache)

		if s.config.AuthLogCallback != nil {
			s.config.AuthLogCallback(s.conn, userAuthReq.Method, authErr)
		}

		if authErr == nil {
			if err := s.conn.transport.writePacket([]byte{msgUserAuthSuccess}); err != nil {
				return nil, err
			}
			return perms, nil
		}
		if authErr == errPubKeyOkSent {
			// Publickey query phase: PK_OK already went out, and RFC 4252
			// section 7 treats it as neither success nor failure of the
			// attempt, so it doesn't consume the failure budget.
			continue
		}

		s.conn.mux.metrics.authFailed()
		s.userAuthRequestsCount++
		if s.userAuthRequestsCount >= maxTries {
			return nil, &DisconnectError{Reason: DisconnectNoMoreAuthMethods, Message: "too many authentication failures"}
		}

		var failureMsg userAuthFailureMsg
		if partial, ok := authErr.(*PartialSuccessError); ok {
			failureMsg.PartialSuccess = true
			failureMsg.Methods = partial.Next.Methods
		} else if se, ok := authErr.(*ServerAuthError); ok {
			failureMsg.Methods = se.Methods
		} else {
			failureMsg.Methods = s.offeredMethods()
		}
		if err := s.conn.transport.writePacket(Marshal(&failureMsg)); err != nil {
			return nil, err
		}
	}
}

func (s *authPipe) offeredMethods() []string {
	var methods []string
	if s.config.PasswordCallback != nil {
		methods = append(methods, "password")
	}
	if s.config.PublicKeyCallback != nil {
		methods = append(methods, "publickey")
	}
	if s.config.KeyboardInteractiveCallback != nil {
		methods = append(methods, "keyboard-interactive")
	}
	return methods
}

// pubKeyCache remembers which keys have already passed the query phase
// (msgUserAuthPubKeyOk) for this connection, per RFC 4252 section 7's
// two-phase publickey flow.
type pubKeyCache struct {
	seen map[string]bool
}

func (c *pubKeyCache) add(blob []byte) {
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	c.seen[string(blob)] = true
}

func (c *pubKeyCache) has(blob []byte) bool {
	return c.seen != nil && c.seen[string(blob)]
}

func (s *authPipe) dispatch(req userAuthRequestMsg, cache *pubKeyCache) (*Permissions, error) {
	switch req.Method {
	case "none":
		if s.config.NoClientAuthCallback != nil {
			return s.config.NoClientAuthCallback(s.conn)
		}
		return nil, &ServerAuthError{Methods: s.offeredMethods()}

	case "password":
		if s.config.PasswordCallback == nil {
			return nil, &ServerAuthError{Methods: s.offeredMethods()}
		}
		payload := req.Payload
		if len(payload) < 1 {
			return nil, parseError(msgUserAuthRequest)
		}
		payload = payload[1:] // skip the boolean "change password" flag
		password, _, ok := parseString(payload)
		if !ok {
			return nil, parseError(msgUserAuthRequest)
		}
		return s.config.PasswordCallback(s.conn, password)

	case "keyboard-interactive":
		if s.config.KeyboardInteractiveCallback == nil {
			return nil, &ServerAuthError{Methods: s.offeredMethods()}
		}
		return s.config.KeyboardInteractiveCallback(s.conn, func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			return s.challenge(name, instruction, questions, echos)
		})

	case "publickey":
		if s.config.PublicKeyCallback == nil {
			return nil, &ServerAuthError{Methods: s.offeredMethods()}
		}
		return s.handlePublicKey(req, cache)

	default:
		return nil, &ServerAuthError{Methods: s.offeredMethods()}
	}
}

func (s *authPipe) handlePublicKey(req userAuthRequestMsg, cache *pubKeyCache) (*Permissions, error) {
	var pkMsg publickeyAuthMsg
	if err := Unmarshal(req.Payload, &pkMsg); err != nil {
		return nil, err
	}
	pubKey, _, ok := ParsePublicKey(pkMsg.PubKey)
	if !ok {
		return nil, parseError(msgUserAuthRequest)
	}

	if !pkMsg.HasSig {
		// Phase 1: query only. A policy check that would reject the key
		// outright may still run so we don't falsely PK_OK a key that can
		// never succeed.
		perms, err := s.config.PublicKeyCallback(s.conn, pubKey)
		if err != nil {
			return nil, err
		}
		_ = perms
		cache.add(pkMsg.PubKey)
		okMsg := userAuthPubKeyOkMsg{Algo: pkMsg.Algo, PubKey: pkMsg.PubKey}
		if err := s.conn.transport.writePacket(Marshal(&okMsg)); err != nil {
			return nil, err
		}
		return nil, errPubKeyOkSent
	}

	// Phase 2: verify the signature covers the session id, binding the
	// attempt to this transport and blocking cross-session replay.
	signedData := buildPubKeyAuthData(s.conn.sessionID, req.User, req.Service, pkMsg.Algo, pkMsg.PubKey)

	sig := new(signature)
	if err := Unmarshal(pkMsg.Sig, sig); err != nil {
		return nil, err
	}
	if !pubKey.Verify(signedData, sig.Blob) {
		return nil, fmt.Errorf("ssh: signature verification failed for algo %s", pkMsg.Algo)
	}
	return s.config.PublicKeyCallback(s.conn, pubKey)
}

// buildPubKeyAuthData reconstructs the blob a publickey client must sign,
// per RFC 4252 section 7: session_id || userauth_request_prefix || algo
// || blob.
func buildPubKeyAuthData(sessionID []byte, user, service, algo string, pubKeyBlob []byte) []byte {
	data := make([]byte, 0, len(sessionID)+128+len(pubKeyBlob))
	data = appendString(data, string(sessionID))
	data = append(data, msgUserAuthRequest)
	data = appendString(data, user)
	data = appendString(data, service)
	data = appendString(data, "publickey")
	data = appendBool(data, true)
	data = appendString(data, algo)
	data = appendString(data, string(pubKeyBlob))
	return data
}

func (s *authPipe) challenge(name, instruction string, questions []string, echos []bool) ([]string, error) {
	if len(questions) != len(echos) {
		return nil, fmt.Errorf("ssh: questions/echos length mismatch")
	}
	var prompts []byte
	prompts = appendString(prompts, name)
	prompts = appendString(prompts, instruction)
	prompts = appendString(prompts, "")
	prompts = appendU32(prompts, uint32(len(questions)))
	for i := range questions {
		prompts = appendString(prompts, questions[i])
		prompts = appendBool(prompts, echos[i])
	}
	infoReq := make([]byte, 1+len(prompts))
	infoReq[0] = msgUserAuthInfoRequest
	copy(infoReq[1:], prompts)
	if err := s.conn.transport.writePacket(infoReq); err != nil {
		return nil, err
	}

	packet, err := s.conn.transport.readPacket()
	if err != nil {
		return nil, err
	}
	if packet[0] != msgUserAuthInfoResponse {
		return nil, unexpectedMessageError(msgUserAuthInfoResponse, packet[0])
	}
	packet = packet[1:]
	numAnswers, rest, ok := parseUint32(packet)
	if !ok {
		return nil, parseError(msgUserAuthInfoResponse)
	}
	answers := make([]string, numAnswers)
	for i := 0; i < int(numAnswers); i++ {
		a, r, ok := parseString(rest)
		if !ok {
			return nil, parseError(msgUserAuthInfoResponse)
		}
		answers[i] = string(a)
		rest = r
	}
	return answers, nil
}
