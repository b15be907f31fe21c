package decoder

import (
	"encoding/binary"
	"fmt"
)

type Kind int

const (
	// KindZero is the degraded extractor for definitions that could not be compiled.
	KindZero Kind = iota
	KindScalar
	KindBitFlag
	KindAlias
	KindConstant
	// KindTime marks the "time" channel, which is derived from elapsed wall
	// time by the datalog writer rather than read from the payload.
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindBitFlag:
		return "bits"
	case KindAlias:
		return "alias"
	case KindConstant:
		return "constant"
	case KindTime:
		return "time"
	default:
		return "zero"
	}
}

type Packing string

const (
	S08 Packing = "S08"
	S16 Packing = "S16"
	S32 Packing = "S32"
	U08 Packing = "U08"
	U16 Packing = "U16"
	U32 Packing = "U32"
)

// Width returns the packing size in bytes, or 0 for unknown packings.
func (p Packing) Width() int {
	switch p {
	case S08, U08:
		return 1
	case S16, U16:
		return 2
	case S32, U32:
		return 4
	default:
		return 0
	}
}

// FlagBytes is the status byte that precedes every field in a realtime
// response payload.
const FlagBytes = 1

// Descriptor is the compiled extraction rule for one output channel.
// Offset is a payload offset with the leading flag byte already accounted for.
type Descriptor struct {
	Key  string
	Kind Kind
	Unit string

	Packing    Packing
	Offset     int
	Multiplier float64
	Scale      int64

	// Bit is counted from the most significant bit of the byte at Offset.
	Bit uint8

	Value float64

	Target   string
	Resolved *Descriptor
}

// Extract evaluates the descriptor against a realtime response payload.
func (d Descriptor) Extract(payload []byte) (float64, error) {
	switch d.Kind {
	case KindScalar:
		raw, err := readRaw(payload, d.Offset, d.Packing)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", err, d.Key)
		}
		// scale is added before multiplying; the INI format defines it that way
		return (float64(raw) + float64(d.Scale)) * d.Multiplier, nil
	case KindBitFlag:
		if d.Offset >= len(payload) {
			return 0, fmt.Errorf("%w: %s", ErrShortPayload, d.Key)
		}
		return float64((payload[d.Offset] >> (7 - d.Bit)) & 1), nil
	case KindAlias:
		if d.Resolved == nil {
			return 0, nil
		}
		return d.Resolved.Extract(payload)
	case KindConstant:
		return d.Value, nil
	default:
		return 0, nil
	}
}

func readRaw(payload []byte, offset int, p Packing) (int64, error) {
	w := p.Width()
	if w == 0 {
		return 0, ErrUnsupportedFormat
	}
	if offset < 0 || offset+w > len(payload) {
		return 0, ErrShortPayload
	}
	b := payload[offset : offset+w]
	switch p {
	case S08:
		return int64(int8(b[0])), nil
	case U08:
		return int64(b[0]), nil
	case S16:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case U16:
		return int64(binary.BigEndian.Uint16(b)), nil
	case S32:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	default:
		return int64(binary.BigEndian.Uint32(b)), nil
	}
}
