// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc provides the local rendezvous between a session
// supervisor and the worker process it spawns.
//
// Each attach attempt generates a fresh unguessable channel id; the
// supervisor listens on the Unix domain socket derived from that id,
// and the worker — given the id on its command line — dials it. The
// server is single-use and single-client: it emits Started once
// listening, accepts exactly one connection, delivers it through
// NewConnection, and then tears the listener down and unlinks the
// socket. A second connection attempt finds no socket.
//
// The accepted connection is a transport.Channel: the same framed,
// token-driven message channel the network side uses, so the
// supervisor relays between the two without translation.
package ipc
