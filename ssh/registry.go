// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"sync"
)

// ChannelHandler reacts to one incoming channel-open request of a given
// type. It is the attachment point for subsystems this package does not
// implement itself (SFTP, shell/exec): the connection layer dispatches
// by channel type name and hands the rest to the handler.
type ChannelHandler func(conn *ServerConn, newChannel NewChannel)

// ChannelRegistry is a name->handler registry for channel types: a
// shared map with duplicate registration logged rather than fatal, since
// this is a library, not a CLI process.
type ChannelRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ChannelHandler
	logger   interface {
		Warnf(format string, args ...interface{})
	}
}

// NewChannelRegistry returns an empty registry. logger may be nil, in
// which case duplicate registrations are silently overwritten; most
// callers should pass a logrus.FieldLogger so the situation is visible.
func NewChannelRegistry(logger interface {
	Warnf(format string, args ...interface{})
}) *ChannelRegistry {
	return &ChannelRegistry{handlers: make(map[string]ChannelHandler), logger: logger}
}

// Register adds handler under name, replacing any previous registration.
// Unlike a CLI module registry, a duplicate is not fatal -- this is a
// library component, and callers commonly re-register a type to layer
// instrumentation around an existing handler.
func (r *ChannelRegistry) Register(name string, handler ChannelHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists && r.logger != nil {
		r.logger.Warnf("ssh: channel type %q re-registered", name)
	}
	r.handlers[name] = handler
}

// Lookup returns the handler registered for name, or nil if none.
func (r *ChannelRegistry) Lookup(name string) ChannelHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Dispatch routes an incoming NewChannel to its registered handler,
// rejecting with UnknownChannelType if none is registered.
func (r *ChannelRegistry) Dispatch(conn *ServerConn, nc NewChannel) {
	h := r.Lookup(nc.ChannelType())
	if h == nil {
		nc.Reject(UnknownChannelType, fmt.Sprintf("unsupported channel type %q", nc.ChannelType()))
		return
	}
	h(conn, nc)
}

// The RFC 4254 channel type names. Handlers for them are registered by
// the host application; session command bodies and X11 forwarding are
// the application's concern, not this package's.
const (
	ChannelTypeSession        = "session"
	ChannelTypeDirectTCPIP    = "direct-tcpip"
	ChannelTypeForwardedTCPIP = "forwarded-tcpip"
	ChannelTypeX11            = "x11"
)

// Request type names carried on a "session" channel (RFC 4254
// section 6).
const (
	RequestTypeExec         = "exec"
	RequestTypeShell        = "shell"
	RequestTypeSubsystem    = "subsystem"
	RequestTypePTYReq       = "pty-req"
	RequestTypeEnv          = "env"
	RequestTypeWindowChange = "window-change"
	RequestTypeSignal       = "signal"
	RequestTypeExitStatus   = "exit-status"
	RequestTypeExitSignal   = "exit-signal"
)

// ExitStatusPayload marshals the body of an "exit-status" channel
// request (RFC 4254 section 6.10).
type ExitStatusPayload struct {
	Status uint32
}

// ExitSignalPayload marshals the body of an "exit-signal" channel
// request (RFC 4254 section 6.10).
type ExitSignalPayload struct {
	Signal       string
	CoreDumped   bool
	ErrorMessage string
	LanguageTag  string
}

// PTYRequestPayload marshals the body of a "pty-req" channel request
// (RFC 4254 section 6.2).
type PTYRequestPayload struct {
	Term                    string
	Width, Height           uint32
	PixelWidth, PixelHeight uint32
	Modes                   string
}

// EnvRequestPayload marshals the body of an "env" channel request
// (RFC 4254 section 6.4).
type EnvRequestPayload struct {
	Name  string
	Value string
}

// WindowChangePayload marshals the body of a "window-change" channel
// request (RFC 4254 section 6.7).
type WindowChangePayload struct {
	Width, Height           uint32
	PixelWidth, PixelHeight uint32
}

// SubsystemRequestPayload marshals the body of a "subsystem" channel
// request (RFC 4254 section 6.5).
type SubsystemRequestPayload struct {
	Name string
}
