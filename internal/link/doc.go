// Package link owns the half-duplex serial session with the ECU.
//
// Ownership boundary:
// - port lifecycle (open, loss detection, 500ms reopen polling)
// - de-framing the inbound byte stream
// - single-slot request/response correlation with a response timeout
// - port discovery
//
// There is never more than one request in flight, so responses are matched
// to requests by recency alone.
package link
