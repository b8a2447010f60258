// Package wire defines the JSON envelope exchanged with the relay server.
//
// Every message on the TCP channel is a single JSON object:
//
//	{"cmd": "forward", "data": "AA:BB:CC:DD:EE:FF", "host": "192.168.1.23"}
//
// All three fields are always present; data may be empty. host carries the
// client's locally bound address and is stamped by the session, never by the
// caller. An optional "type" field classifies the client ("app") for relay
// servers that require it.
//
// # Framing
//
// The deployed relay assumes one TCP read equals one message: there is no
// length prefix and no delimiter. TCP does not preserve write boundaries, so
// a message split across segments or two messages coalesced into one read
// will fail to decode or be mis-dispatched. This package only encodes and
// decodes single objects; the framing choice (raw, line, length-prefixed)
// lives in package transport and is selected by configuration.
package wire
