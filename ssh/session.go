// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// Session is the client-side convenience wrapper around a "session"
// channel: one Exec/Shell/Subsystem, optional pty and environment setup,
// and exit-status/exit-signal collection.
type Session struct {
	ch   Channel
	reqs <-chan *Request

	started  bool
	copyDone sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool

	Stdout io.Writer
	Stderr io.Writer
	stdin  io.Reader

	exitStatus int
	exitErr    error
}

// NewSession opens a "session" channel on conn and starts its request
// dispatcher.
func NewSession(conn Conn) (*Session, error) {
	ch, reqs, err := conn.OpenChannel(ChannelTypeSession, nil)
	if err != nil {
		return nil, err
	}
	s := &Session{ch: ch, reqs: reqs}
	go s.dispatchRequests()
	return s, nil
}

func (s *Session) dispatchRequests() {
	for req := range s.reqs {
		switch req.Type {
		case RequestTypeExitStatus:
			var p ExitStatusPayload
			if err := Unmarshal(req.Payload, &p); err == nil {
				s.exitStatus = int(p.Status)
			}
		case RequestTypeExitSignal:
			var p ExitSignalPayload
			if err := Unmarshal(req.Payload, &p); err == nil {
				s.exitErr = errors.New("ssh: process terminated by signal " + p.Signal)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// RequestPty requests a pseudo-terminal on the session's channel
// (RFC 4254 section 6.2).
func (s *Session) RequestPty(term string, h, w int, modes string) error {
	payload := Marshal(&PTYRequestPayload{
		Term: term, Height: uint32(h), Width: uint32(w), Modes: modes,
	})
	ok, err := s.ch.SendRequest(RequestTypePTYReq, true, payload)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("ssh: pty request failed")
	}
	return nil
}

// WindowChange notifies the remote side of a terminal resize (RFC 4254
// section 6.7). It does not wait for a reply, matching OpenSSH.
func (s *Session) WindowChange(h, w int) error {
	payload := Marshal(&WindowChangePayload{Height: uint32(h), Width: uint32(w)})
	_, err := s.ch.SendRequest(RequestTypeWindowChange, false, payload)
	return err
}

// Setenv requests the remote side set an environment variable (RFC 4254
// section 6.4). Most servers only honor a configured allow-list.
func (s *Session) Setenv(name, value string) error {
	payload := Marshal(&EnvRequestPayload{Name: name, Value: value})
	ok, err := s.ch.SendRequest(RequestTypeEnv, true, payload)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("ssh: setenv " + name + " refused")
	}
	return nil
}

// Signal delivers a signal to the remote process (RFC 4254 section 6.9).
func (s *Session) Signal(name string) error {
	payload := appendString(nil, name)
	_, err := s.ch.SendRequest(RequestTypeSignal, false, payload)
	return err
}

// Start runs cmd (an "exec" request) without waiting for it to finish.
func (s *Session) Start(cmd string) error {
	return s.start(RequestTypeExec, cmd)
}

// Shell starts the user's login shell ("shell" request, no command).
func (s *Session) Shell() error {
	return s.start(RequestTypeShell, "")
}

// RequestSubsystem starts subsystem name (e.g. "sftp").
func (s *Session) RequestSubsystem(name string) error {
	return s.start(RequestTypeSubsystem, name)
}

func (s *Session) start(reqType, arg string) error {
	if s.started {
		return errors.New("ssh: session already started")
	}
	s.started = true

	var payload []byte
	switch reqType {
	case RequestTypeShell:
		// no payload
	case RequestTypeSubsystem:
		payload = Marshal(&SubsystemRequestPayload{Name: arg})
	default:
		payload = appendString(nil, arg)
	}

	ok, err := s.ch.SendRequest(reqType, true, payload)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("ssh: " + reqType + " request failed")
	}

	if s.stdin != nil {
		go func() {
			io.Copy(s.ch, s.stdin)
			s.ch.CloseWrite()
		}()
	}
	if s.Stdout != nil {
		s.copyDone.Add(1)
		go func() {
			defer s.copyDone.Done()
			io.Copy(s.Stdout, s.ch)
		}()
	}
	if s.Stderr != nil {
		s.copyDone.Add(1)
		go func() {
			defer s.copyDone.Done()
			io.Copy(s.Stderr, s.ch.Stderr())
		}()
	}
	return nil
}

// StdinPipe sets the reader copied to the remote process's stdin once the
// session is started.
func (s *Session) StdinPipe(r io.Reader) { s.stdin = r }

// Output runs cmd and returns its standard output.
func (s *Session) Output(cmd string) ([]byte, error) {
	var buf bytes.Buffer
	s.Stdout = &buf
	if err := s.Start(cmd); err != nil {
		return nil, err
	}
	if err := s.Wait(); err != nil {
		return buf.Bytes(), err
	}
	return buf.Bytes(), nil
}

// Run runs cmd and waits for it to finish.
func (s *Session) Run(cmd string) error {
	if err := s.Start(cmd); err != nil {
		return err
	}
	return s.Wait()
}

// Wait waits for the remote command to exit and returns a non-nil error
// if it exited with a non-zero status or was terminated by a signal.
func (s *Session) Wait() error {
	if s.Stdout == nil {
		if _, err := io.Copy(io.Discard, s.ch); err != nil && err != io.EOF {
			return err
		}
	} else {
		s.copyDone.Wait()
	}
	if s.exitErr != nil {
		return s.exitErr
	}
	if s.exitStatus != 0 {
		return &ExitError{ExitStatus: s.exitStatus}
	}
	return nil
}

// ExitError reports a remote command that exited with a non-zero status.
type ExitError struct {
	ExitStatus int
}

func (e *ExitError) Error() string {
	return "ssh: process exited with status " + itoa(e.ExitStatus)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Close closes the session's channel.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ch.Close()
}
