package protocol

import "encoding/binary"

const (
	CmdRealtimeRead byte = 'r'
	CmdCommTest     byte = 'c'

	DefaultCanID     byte   = 0x00
	DefaultTable     byte   = 0x07
	DefaultBlockSize uint16 = 0x00D4
)

// RealtimeRead addresses one block of the ECU's output-channel table.
type RealtimeRead struct {
	CanID  byte
	Table  byte
	Offset uint16
	Size   uint16
}

// DefaultRealtimeRead requests the full 212-byte realtime block.
func DefaultRealtimeRead() RealtimeRead {
	return RealtimeRead{
		CanID: DefaultCanID,
		Table: DefaultTable,
		Size:  DefaultBlockSize,
	}
}

// Payload builds 'r' canID table offset(BE16) size(BE16).
func (r RealtimeRead) Payload() []byte {
	buf := make([]byte, 7)
	buf[0] = CmdRealtimeRead
	buf[1] = r.CanID
	buf[2] = r.Table
	binary.BigEndian.PutUint16(buf[3:5], r.Offset)
	binary.BigEndian.PutUint16(buf[5:7], r.Size)
	return buf
}

// ParseRealtimeRead is the inverse of Payload.
func ParseRealtimeRead(p []byte) (RealtimeRead, error) {
	if len(p) != 7 || p[0] != CmdRealtimeRead {
		return RealtimeRead{}, ErrUnknownCommand
	}
	return RealtimeRead{
		CanID:  p[1],
		Table:  p[2],
		Offset: binary.BigEndian.Uint16(p[3:5]),
		Size:   binary.BigEndian.Uint16(p[5:7]),
	}, nil
}

// CommTest is the single-byte link check command.
func CommTest() []byte {
	return []byte{CmdCommTest}
}
