package sim

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/mslogger/internal/observability"
	"github.com/danmuck/mslogger/internal/protocol"
	"github.com/danmuck/mslogger/internal/protocol/frame"
)

var ErrUnplugged = errors.New("sim: device unplugged")

const (
	statusOK           byte = 0x00
	statusUnrecognized byte = 0x83
)

// Config shapes the simulated ECU's behavior.
type Config struct {
	Channels []Channel
	Latency  time.Duration
	// ChunkSize > 0 splits every response into writes of at most that size.
	ChunkSize int
	// Drop reports whether the n-th request (1-based) goes unanswered.
	Drop func(n int) bool
}

// ECU answers framed 'r' and 'c' requests over an in-memory link.
type ECU struct {
	cfg Config

	mu        sync.Mutex
	conn      *conn
	unplugged bool
	requests  int
}

func New(cfg Config) *ECU {
	if cfg.Channels == nil {
		cfg.Channels = DefaultChannels()
	}
	return &ECU{cfg: cfg}
}

type conn struct {
	hostR *io.PipeReader
	ecuW  *io.PipeWriter
	ecuR  *io.PipeReader
	hostW *io.PipeWriter
}

// hostPort is the host's end of the link.
type hostPort struct {
	c *conn
}

func (p hostPort) Read(b []byte) (int, error)  { return p.c.hostR.Read(b) }
func (p hostPort) Write(b []byte) (int, error) { return p.c.hostW.Write(b) }
func (p hostPort) Close() error {
	_ = p.c.hostW.Close()
	return p.c.hostR.Close()
}

// Open connects a fresh host port. The name is ignored.
func (e *ECU) Open(string) (io.ReadWriteCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unplugged {
		return nil, ErrUnplugged
	}
	hostR, ecuW := io.Pipe()
	ecuR, hostW := io.Pipe()
	c := &conn{hostR: hostR, ecuW: ecuW, ecuR: ecuR, hostW: hostW}
	e.conn = c
	go e.serve(c)
	return hostPort{c: c}, nil
}

// Unplug drops the current connection and refuses new ones until Replug.
func (e *ECU) Unplug() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unplugged = true
	if c := e.conn; c != nil {
		_ = c.ecuW.CloseWithError(ErrUnplugged)
		_ = c.ecuR.CloseWithError(ErrUnplugged)
		e.conn = nil
	}
}

func (e *ECU) Replug() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unplugged = false
}

// Requests reports how many frames the ECU has received.
func (e *ECU) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

func (e *ECU) serve(c *conn) {
	logger := observability.Component("sim")
	asm := frame.NewAssembler()
	buf := make([]byte, 256)
	for {
		n, err := c.ecuR.Read(buf)
		if err != nil {
			return
		}
		for _, raw := range asm.Feed(buf[:n]) {
			req, err := frame.Decode(raw)
			if err != nil {
				logger.Debug().Err(err).Msg("bad request frame")
				continue
			}
			if !e.answer(c, req) {
				return
			}
		}
	}
}

func (e *ECU) answer(c *conn, req []byte) bool {
	e.mu.Lock()
	e.requests++
	n := e.requests
	resp := e.respondLocked(req)
	e.mu.Unlock()

	if e.cfg.Drop != nil && e.cfg.Drop(n) {
		return true
	}
	if e.cfg.Latency > 0 {
		time.Sleep(e.cfg.Latency)
	}
	wire := frame.MustEncode(resp)
	step := e.cfg.ChunkSize
	if step <= 0 {
		step = len(wire)
	}
	for i := 0; i < len(wire); i += step {
		end := min(i+step, len(wire))
		if _, err := c.ecuW.Write(wire[i:end]); err != nil {
			return false
		}
	}
	return true
}

func (e *ECU) respondLocked(req []byte) []byte {
	if len(req) == 0 {
		return []byte{statusUnrecognized}
	}
	switch req[0] {
	case protocol.CmdCommTest:
		return []byte{statusOK}
	case protocol.CmdRealtimeRead:
		rr, err := protocol.ParseRealtimeRead(req)
		if err != nil {
			return []byte{statusUnrecognized}
		}
		return e.realtimeBlockLocked(int(rr.Size))
	default:
		return []byte{statusUnrecognized}
	}
}

func (e *ECU) realtimeBlockLocked(size int) []byte {
	block := make([]byte, size)
	if size == 0 {
		return block
	}
	block[0] = statusOK
	for _, ch := range e.cfg.Channels {
		v := 0.0
		if ch.Source != nil {
			v = ch.Source.Next()
		}
		ch.encode(block, v)
	}
	// ready flag, bit 0 from MSB of byte 11
	if off := 11 + 1; off < len(block) {
		block[off] |= 0x80
	}
	return block
}
