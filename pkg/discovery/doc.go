// Package discovery finds Wake-on-LAN relays on the local network via
// mDNS/DNS-SD.
//
// Relays advertise the _wolrelay._tcp service. The TXT record may carry:
//   - v: relay protocol version
//   - prio: preference, lower wins when several relays answer
//
// A Resolver plugs the browser into the session so the relay address is
// looked up on every connect attempt, with the configured host:port used
// when nothing answers in time.
package discovery
