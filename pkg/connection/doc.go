// Package connection keeps the relay session alive for the lifetime of the
// process.
//
// The Supervisor runs a fixed cycle:
//
//  1. Check that a validated network is available; if not, notify and
//     skip to the sleep.
//  2. Tear down any previous session.
//  3. Connect.
//  4. If connected, notify and serve until the link drops.
//  5. Sleep the retry interval (30s by default), whatever the outcome.
//
// There is no exponential backoff: the relay is a single fixed endpoint and
// a constant interval bounds both reconnect latency and load. Trigger cuts
// the current sleep short without changing the interval.
package connection
