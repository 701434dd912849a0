// Package protocol implements the pycast wire protocol: the binary data
// packet layout and the textual (JSON) control records, plus the
// binary-first/textual-fallback classifier that demultiplexes an incoming
// datagram on the shared multicast/unicast sockets.
package protocol

import "errors"

var (
	// ErrTruncated is returned when a datagram is too short to contain a
	// well-formed data packet header or a decodable control record.
	ErrTruncated = errors.New("protocol: truncated datagram")
	// ErrMalformedControl is returned when a control record's JSON is
	// invalid or missing its discriminator.
	ErrMalformedControl = errors.New("protocol: malformed control record")
	// ErrUnknownControlType is returned for a control record whose "type"
	// field does not match any known kind.
	ErrUnknownControlType = errors.New("protocol: unknown control type")
	// ErrForeignSession is returned when a decodable packet carries a
	// session id other than the one the caller is listening for. Per
	// spec, callers discard such packets silently rather than treating
	// this as a fatal error.
	ErrForeignSession = errors.New("protocol: foreign session id")
)
