// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ssh implements the core of the SSH (Secure Shell, protocol
// version 2) transport, key-exchange, authentication and channel-layer
// state machines described in RFCs 4250-4254, 4256, 4419, 5656 and 8308.
//
// It intentionally stops short of a full endpoint: SFTP, interactive
// shells, process execution and PAM-backed credential stores are
// collaborators that attach at a channel-request handler or the
// ServerConfig authentication callbacks, not code this package contains.
package ssh
