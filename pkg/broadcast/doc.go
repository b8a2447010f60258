// Package broadcast delivers Wake-on-LAN magic packets over UDP broadcast.
//
// It is the fallback path used when the relay server is unreachable:
//
//   - Finder locates the first IPv4 subnet broadcast address on an
//     allow-listed interface (wlan*, eth*, tun* by default).
//   - Sender emits a datagram to that address and to the limited broadcast
//     address 255.255.255.255. Both sends are always attempted.
//   - Waker serializes sends on a single worker goroutine so concurrent wake
//     requests never race on socket creation, and rate-limits bursts.
//
// Socket errors are logged and reported in Results; they never propagate to
// the caller of Waker.Wake.
package broadcast
