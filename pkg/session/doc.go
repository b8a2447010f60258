// Package session runs one relay connection at a time.
//
// A Session owns the outbound queue for the lifetime of the process and a
// link for the lifetime of each TCP connection. Every cycle it performs a
// bounded read, drains the queue in FIFO order and, only when nothing was
// drained, sends a heartbeat if the liveness clock is older than the
// heartbeat interval. Inbound heartbeats refresh the same clock.
//
// Delivery is at most once per attempt: a message whose write fails is not
// re-queued.
//
// The session never reconnects by itself; connection.Supervisor drives
// Connect, Serve and Teardown.
package session
