// Package server implements the real-time core of the Halcyon relay.
//
// The implementation is organized into specialized files: the hub and
// room routing, per-connection clients, the session manager, the message
// pipeline, call-signaling relay, configuration, and the HTTP surface.
package server
