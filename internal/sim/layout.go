package sim

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/mslogger/internal/decoder"
)

// Channel is one simulated output channel in the realtime block.
// Offset excludes the leading flag byte, matching the INI convention.
type Channel struct {
	Key        string
	Packing    decoder.Packing
	Offset     int
	Multiplier float64
	Scale      int64
	Source     *Sweeper
}

// DefaultChannels mirrors the start of an MS2/Extra realtime block.
func DefaultChannels() []Channel {
	return []Channel{
		{Key: "rpm", Packing: decoder.U16, Offset: 6, Multiplier: 1, Source: NewSweeper(1000, 6000, 25)},
		{Key: "map", Packing: decoder.S16, Offset: 18, Multiplier: 0.1, Source: NewSweeper(25, 200, 10)},
		{Key: "mat", Packing: decoder.S16, Offset: 20, Multiplier: 0.1, Source: NewSweeper(15, 40, 5)},
		{Key: "coolant", Packing: decoder.S16, Offset: 22, Multiplier: 0.1, Source: NewSweeper(80, 90, 2)},
		{Key: "tps", Packing: decoder.S16, Offset: 24, Multiplier: 0.1, Source: NewSweeper(0, 100, 50)},
		{Key: "afr1", Packing: decoder.S16, Offset: 28, Multiplier: 0.1, Source: NewSweeper(10.1, 18.5, 5)},
	}
}

// ExampleINI describes DefaultChannels in the OutputChannels/Datalog grammar.
const ExampleINI = `[OutputChannels]
ochBlockSize = 212
rpm     = scalar, U16,  6, "RPM", 1.000, 0
map     = scalar, S16, 18, "kPa", 0.100, 0
mat     = scalar, S16, 20, "°F",  0.100, 0
coolant = scalar, S16, 22, "°F",  0.100, 0
tps     = scalar, S16, 24, "%",   0.100, 0
afr1    = scalar, S16, 28, "AFR", 0.100, 0
ready   = bits,   U08, 11, [0:0]
stoich  = { stoich }, "AFR"
time    = { timeNow }, "s"

[Datalog]
entry = time,    "Time", float, "%.3f"
entry = rpm,     "RPM",  int,   "%d"
entry = map,     "MAP",  float, "%.1f"
entry = mat,     "MAT",  float, "%.1f"
entry = coolant, "CLT",  float, "%.1f"
entry = tps,     "TPS",  float, "%.1f"
entry = afr1,    "AFR",  float, "%.2f"
`

// encode writes the value's raw form at the channel's wire offset.
func (c Channel) encode(block []byte, value float64) {
	off := c.Offset + decoder.FlagBytes
	if off+c.Packing.Width() > len(block) {
		return
	}
	mult := c.Multiplier
	if mult == 0 {
		mult = 1
	}
	raw := int64(math.Round(value/mult)) - c.Scale
	b := block[off:]
	switch c.Packing {
	case decoder.S08, decoder.U08:
		b[0] = byte(raw)
	case decoder.S16, decoder.U16:
		binary.BigEndian.PutUint16(b, uint16(raw))
	case decoder.S32, decoder.U32:
		binary.BigEndian.PutUint32(b, uint32(raw))
	}
}
