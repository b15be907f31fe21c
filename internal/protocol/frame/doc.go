// Package frame owns the ECU wire envelope.
//
// Every request and response travels as
//
//	u16 length (big-endian) | payload | u32 CRC32-IEEE of payload (big-endian)
//
// Ownership boundary:
// - stateless Encode/Decode of one frame
// - Assembler for de-framing a chunked serial byte stream
package frame
