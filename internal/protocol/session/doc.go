// Package session owns the LEAP plugin session over stdio.
//
// Ownership boundary:
// - envelope encode/decode ({pump, data})
// - startup handshake and the "listen" announcement
// - request building (reply pump, reqid) and pending-reply tracking
// - inbound command dispatch and session lifecycle
//
// Lifecycle: Uninitialized -> Started -> Polling -> Stopped. One goroutine
// reads frames from the host and queues them; dispatch runs on the caller's
// goroutine inside Poll, Run or WaitForHandshake.
package session
