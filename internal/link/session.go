package link

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mslogger/internal/observability"
	"github.com/danmuck/mslogger/internal/protocol/frame"
)

type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type result struct {
	payload []byte
	err     error
}

// pendingRequest is the single in-flight request slot. Whoever removes it
// from Session.pending while holding Session.mu delivers exactly one result,
// except the timeout path which reports ErrNoResponse itself.
type pendingRequest struct {
	result chan result
}

// Session is one ECU link. Fetch may be called from any goroutine, but only
// one call can be outstanding; a concurrent call fails fast with ErrBusy.
type Session struct {
	name   string
	open   Opener
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	port         Port
	gen          uint64
	asm          *frame.Assembler
	pending      *pendingRequest
	closed       bool
	reconnecting bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSession(name string, open Opener, cfg Config) *Session {
	return &Session{
		name:   name,
		open:   open,
		cfg:    cfg.WithDefaults(),
		logger: observability.Component("link").With().Str("port", name).Logger(),
		asm:    frame.NewAssembler(),
		stop:   make(chan struct{}),
	}
}

func (s *Session) Name() string { return s.name }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open performs the initial port open. A failure leaves the session Closed
// without starting the reconnect supervisor.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// the reconnect supervisor owns reopening once a link was lost
	if s.state != StateClosed || s.reconnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateOpening
	s.mu.Unlock()

	port, err := s.open(s.name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateClosed
		return fmt.Errorf("link: open %s: %w", s.name, err)
	}
	if s.closed {
		_ = port.Close()
		return ErrClosed
	}
	s.attachLocked(port)
	s.logger.Info().Msg("port open")
	return nil
}

// Fetch sends one request and waits for its response.
func (s *Session) Fetch(req []byte) ([]byte, error) {
	start := time.Now()
	payload, err := s.fetch(req)
	observability.RecordFetch(fetchLabel(err), time.Since(start))
	return payload, err
}

func (s *Session) fetch(req []byte) ([]byte, error) {
	wire, err := frame.Encode(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateOpen || s.port == nil {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	p := &pendingRequest{result: make(chan result, 1)}
	s.pending = p
	port, gen := s.port, s.gen
	s.mu.Unlock()

	// the write shares the response deadline; a stalled port is dropped
	written := make(chan error, 1)
	go func(done chan<- error) {
		_, err := port.Write(wire)
		done <- err
	}(written)

	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()
	writeDone := false
wait:
	for {
		select {
		case err := <-written:
			writeDone = true
			written = nil
			if err != nil {
				// fails p with ErrLinkReset unless another path already resolved it
				s.linkLost(gen, fmt.Errorf("write: %w", err))
			}
		case r := <-p.result:
			return r.payload, r.err
		case <-timer.C:
			break wait
		}
	}
	if !writeDone {
		s.linkLost(gen, errWriteStalled)
	}

	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
		s.asm.Reset()
		s.mu.Unlock()
		s.logger.Debug().Dur("timeout", s.cfg.ResponseTimeout).Msg("no response")
		return nil, ErrNoResponse
	}
	s.mu.Unlock()
	r := <-p.result
	return r.payload, r.err
}

// Close stops reconnect supervision and releases the port. Any pending
// request fails with ErrLinkReset.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	err := s.detachLocked(ErrLinkReset)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("session closed")
	return err
}

func (s *Session) attachLocked(port Port) {
	s.gen++
	s.port = port
	s.state = StateOpen
	s.asm.Reset()
	s.wg.Add(1)
	go s.readLoop(port, s.gen)
}

// detachLocked closes the current port and fails the pending request.
func (s *Session) detachLocked(cause error) error {
	var err error
	s.gen++
	if s.port != nil {
		err = s.port.Close()
		s.port = nil
	}
	s.state = StateClosed
	s.asm.Reset()
	if p := s.pending; p != nil {
		s.pending = nil
		p.result <- result{err: cause}
	}
	return err
}

func (s *Session) readLoop(port Port, gen uint64) {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.ingest(gen, buf[:n])
		}
		if err != nil {
			s.linkLost(gen, err)
			return
		}
	}
}

func (s *Session) ingest(gen uint64, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for _, raw := range s.asm.Feed(chunk) {
		payload, err := frame.Decode(raw)
		if err != nil {
			reason := "length"
			if errors.Is(err, frame.ErrChecksumMismatch) {
				reason = "checksum"
			}
			observability.RecordFrameDropped(reason)
			s.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("discarding invalid frame")
			continue
		}
		p := s.pending
		if p == nil {
			observability.RecordFrameDropped("unsolicited")
			s.logger.Debug().Int("bytes", len(payload)).Msg("discarding unsolicited frame")
			continue
		}
		s.pending = nil
		p.result <- result{payload: payload}
	}
}

func (s *Session) linkLost(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.logger.Warn().Err(cause).Msg("link lost")
	_ = s.detachLocked(ErrLinkReset)
	if !s.reconnecting {
		s.reconnecting = true
		s.wg.Add(1)
		go s.reconnectLoop()
	}
}

func (s *Session) reconnectLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReconnectInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.state = StateOpening
		s.mu.Unlock()

		s.logger.Info().Int("attempt", attempt).Msg("attempting to reopen port")
		port, err := s.open(s.name)
		observability.RecordReconnect(s.name, err == nil)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			if port != nil {
				_ = port.Close()
			}
			return
		}
		if err != nil {
			s.state = StateClosed
			s.mu.Unlock()
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("reopen failed")
			continue
		}
		s.reconnecting = false
		s.attachLocked(port)
		s.mu.Unlock()
		s.logger.Info().Int("attempt", attempt).Msg("port reopened")
		return
	}
}

func fetchLabel(err error) string {
	switch {
	case err == nil:
		return observability.FetchOK
	case errors.Is(err, ErrNotReady):
		return observability.FetchNotReady
	case errors.Is(err, ErrBusy):
		return observability.FetchBusy
	case errors.Is(err, ErrNoResponse):
		return observability.FetchNoResponse
	case errors.Is(err, ErrLinkReset):
		return observability.FetchLinkReset
	default:
		return observability.FetchError
	}
}
