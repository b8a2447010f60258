// Package transport carries relay messages over TCP.
//
// The relay speaks plaintext JSON over a single TCP connection. The deployed
// server does not delimit its writes, so the default framing treats each
// read as one message; line and length-prefixed framings are available for
// servers that delimit.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON envelopes            │
//	├────────────────────────────────┤
//	│   Framing (raw/line/length)    │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Reads are bounded by a deadline; IsTimeout distinguishes an idle
// connection from a broken one. Framers keep partial frames across
// timeouts.
//
// Client dials the relay. Server is the accepting side used by the
// development relay: it frames each connection the same way and hands
// frames to callbacks.
package transport
