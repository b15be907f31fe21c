package frame

// MaxBuffered is the ceiling after which buffered bytes are assumed to be
// desynchronized garbage.
const MaxBuffered = 5000

// Assembler turns an arbitrarily chunked byte stream into whole wire frames.
// It does not validate checksums; pass emitted frames to Decode.
// An Assembler is not safe for concurrent use.
type Assembler struct {
	buf []byte
}

func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, 512)}
}

// Feed appends chunk and returns every frame that is now complete, in order.
// Returned slices are owned by the caller.
func (a *Assembler) Feed(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)
	if len(a.buf) > MaxBuffered && !a.hasFrame() {
		// resync: keep only the newest chunk
		a.buf = append(a.buf[:0], chunk...)
	}

	var out [][]byte
	for a.hasFrame() {
		size, _ := DeclaredSize(a.buf)
		f := make([]byte, size)
		copy(f, a.buf[:size])
		out = append(out, f)
		n := copy(a.buf, a.buf[size:])
		a.buf = a.buf[:n]
	}
	return out
}

// Reset discards any partially assembled data.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Buffered reports how many bytes are waiting for a frame to complete.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

func (a *Assembler) hasFrame() bool {
	size, ok := DeclaredSize(a.buf)
	return ok && size <= len(a.buf)
}
