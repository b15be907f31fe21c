package acquire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/link"
	"github.com/danmuck/mslogger/internal/observability"
	"github.com/danmuck/mslogger/internal/protocol"
)

var ErrAlreadyRunning = errors.New("acquire: scheduler already running")

// Fetcher performs one request/response exchange. *link.Session satisfies it.
type Fetcher interface {
	Fetch(req []byte) ([]byte, error)
}

// Consumer receives every decoded sample. Consumers run sequentially on the
// scheduler goroutine and must return quickly.
type Consumer func(decoder.Sample)

type Config struct {
	PollDelay        time.Duration
	WatchdogInterval time.Duration
	Request          []byte
}

func DefaultConfig() Config {
	return Config{
		PollDelay:        15 * time.Millisecond,
		WatchdogInterval: 500 * time.Millisecond,
		Request:          protocol.DefaultRealtimeRead().Payload(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollDelay <= 0 {
		c.PollDelay = def.PollDelay
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if len(c.Request) == 0 {
		c.Request = def.Request
	}
	return c
}

// Stats are cumulative counters since construction.
type Stats struct {
	Cycles       uint64
	Samples      uint64
	Failures     uint64
	WatchdogRuns uint64
}

type Scheduler struct {
	fetcher Fetcher
	tables  *decoder.Tables
	cfg     Config
	logger  zerolog.Logger

	mu        sync.Mutex
	consumers []Consumer
	running   bool
	stop      chan struct{}
	done      chan struct{}

	cycles       atomic.Uint64
	samples      atomic.Uint64
	failures     atomic.Uint64
	watchdogRuns atomic.Uint64
}

func New(f Fetcher, tables *decoder.Tables, cfg Config) *Scheduler {
	return &Scheduler{
		fetcher: f,
		tables:  tables,
		cfg:     cfg.WithDefaults(),
		logger:  observability.Component("acquire"),
	}
}

// Register adds a consumer. Consumers are invoked in registration order.
func (s *Scheduler) Register(c Consumer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = append(s.consumers, c)
}

// Start launches the polling loop. It runs until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Info().
		Dur("poll_delay", s.cfg.PollDelay).
		Dur("watchdog", s.cfg.WatchdogInterval).
		Msg("starting acquisition")
	go s.run(ctx, s.stop, s.done)
	return nil
}

// Stop cancels both timers. A fetch already in flight finishes on its own,
// but its result is not delivered. Stop does not wait; use Done for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.logger.Info().Msg("stopping acquisition")
}

// Done is closed once the loop started by the last Start has exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Cycles:       s.cycles.Load(),
		Samples:      s.samples.Load(),
		Failures:     s.failures.Load(),
		WatchdogRuns: s.watchdogRuns.Load(),
	}
}

func (s *Scheduler) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	rearm := time.NewTimer(0)
	defer rearm.Stop()
	watchdog := time.NewTicker(s.cfg.WatchdogInterval)
	defer watchdog.Stop()

	lastCompleted := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-rearm.C:
		case <-watchdog.C:
			if time.Since(lastCompleted) < s.cfg.WatchdogInterval {
				continue
			}
			s.watchdogRuns.Add(1)
			observability.RecordWatchdog()
			s.logger.Debug().Msg("watchdog executing")
		}
		s.execute(stop)
		lastCompleted = time.Now()
		rearm.Reset(s.cfg.PollDelay)
	}
}

func (s *Scheduler) execute(stop <-chan struct{}) {
	s.cycles.Add(1)
	payload, err := s.fetcher.Fetch(s.cfg.Request)
	if err != nil {
		s.failures.Add(1)
		event := s.logger.Warn()
		if errors.Is(err, link.ErrNotReady) {
			event = s.logger.Debug()
		}
		event.Err(err).Msg("fetch failed, skipping cycle")
		return
	}
	select {
	case <-stop:
		return
	default:
	}

	sample, err := s.tables.Decode(payload)
	if err != nil {
		s.logger.Debug().Err(err).Int("bytes", len(payload)).Msg("partial decode")
	}

	s.mu.Lock()
	consumers := append([]Consumer(nil), s.consumers...)
	s.mu.Unlock()
	for i, c := range consumers {
		s.deliver(i, c, sample.Clone())
	}
	s.samples.Add(1)
	observability.RecordSample()
}

func (s *Scheduler) deliver(i int, c Consumer, sample decoder.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Int("consumer", i).Msg("consumer panicked")
		}
	}()
	c(sample)
}
