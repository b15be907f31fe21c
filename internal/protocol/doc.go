// Package protocol owns the ECU command contract.
//
// Ownership boundary:
// - request payload builders ('r' realtime read, 'c' comm test)
// - frame/ envelope primitives live in the frame subpackage
package protocol
