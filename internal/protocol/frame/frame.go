package frame

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	LengthPrefixLen = 2
	ChecksumLen     = 4
	// Overhead is the number of wire bytes wrapped around every payload.
	Overhead       = LengthPrefixLen + ChecksumLen
	MaxPayloadSize = 0xFFFF
)

var (
	ErrLengthMismatch   = errors.New("frame: length mismatch")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// Encode wraps payload as: u16 length (BE) | payload | u32 CRC32 (BE).
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, len(payload)+Overhead)
	binary.BigEndian.PutUint16(buf[0:LengthPrefixLen], uint16(len(payload)))
	copy(buf[LengthPrefixLen:], payload)
	binary.BigEndian.PutUint32(buf[LengthPrefixLen+len(payload):], crc32.ChecksumIEEE(payload))
	return buf, nil
}

// MustEncode is Encode for payloads known to fit, such as command constants.
func MustEncode(payload []byte) []byte {
	b, err := Encode(payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode validates one complete wire frame and returns a copy of its payload.
func Decode(b []byte) ([]byte, error) {
	if len(b) < Overhead {
		return nil, ErrLengthMismatch
	}
	declared := int(binary.BigEndian.Uint16(b[0:LengthPrefixLen]))
	if declared+Overhead != len(b) {
		return nil, ErrLengthMismatch
	}
	payload := b[LengthPrefixLen : LengthPrefixLen+declared]
	want := binary.BigEndian.Uint32(b[LengthPrefixLen+declared:])
	if crc32.ChecksumIEEE(payload) != want {
		return nil, ErrChecksumMismatch
	}
	out := make([]byte, declared)
	copy(out, payload)
	return out, nil
}

// DeclaredSize returns the total wire size announced by a length prefix.
func DeclaredSize(prefix []byte) (int, bool) {
	if len(prefix) < LengthPrefixLen {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(prefix[0:LengthPrefixLen])) + Overhead, true
}
