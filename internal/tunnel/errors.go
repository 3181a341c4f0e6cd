// Package tunnel defines the wire envelope exchanged on the duplex channel
// between the relay and a tunnel owner, and the conversion between HTTP
// objects and their serialized form.
package tunnel

import "errors"

// Envelope and body errors. These are returned by Unmarshal and DecodeBody
// and are recoverable: the caller logs and drops the offending frame
// rather than tearing down the channel.
var (
	// ErrMalformedEnvelope is returned when a frame is not valid JSON or
	// lacks a "type" field.
	ErrMalformedEnvelope = errors.New("tunnel: malformed envelope")

	// ErrUnknownType is returned when an envelope's "type" is outside the
	// enumerated set of message types.
	ErrUnknownType = errors.New("tunnel: unknown envelope type")

	// ErrBadBodyEncoding is returned when the body is marked
	// x-tunnel-body-encoding: base64 but fails to decode.
	ErrBadBodyEncoding = errors.New("tunnel: bad body encoding")
)

// Dispatch-plane errors surfaced to the ingress proxy and control API.
var (
	ErrTunnelNotFound     = errors.New("tunnel: not found")
	ErrTunnelNotActive    = errors.New("tunnel: not active")
	ErrTunnelDisconnected = errors.New("tunnel: disconnected")
	ErrTunnelDeleted      = errors.New("tunnel: deleted")
	ErrCapacityExhausted  = errors.New("tunnel: capacity exhausted")
	ErrAlreadyAttached    = errors.New("tunnel: already attached")
)
