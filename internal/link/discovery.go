package link

import (
	"context"
	"time"

	"github.com/danmuck/mslogger/internal/observability"
	"github.com/danmuck/mslogger/internal/protocol"
)

const (
	DefaultDiscoveryGrace = 500 * time.Millisecond
	discoveryRetryDelay   = 25 * time.Millisecond
)

// DiscoveryConfig controls Autodetect. Zero fields use serial defaults.
type DiscoveryConfig struct {
	Ports   func() ([]string, error)
	Open    Opener
	Probe   []byte
	Grace   time.Duration
	Session Config
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.Ports == nil {
		c.Ports = ListPorts
	}
	if c.Open == nil {
		c.Open = SerialOpener(DefaultBaudRate)
	}
	if len(c.Probe) == 0 {
		c.Probe = protocol.CommTest()
	}
	if c.Grace <= 0 {
		c.Grace = DefaultDiscoveryGrace
	}
	return c
}

// Autodetect tries every enumerated port in order and returns an open
// Session for the first one that answers the probe within the grace period.
func Autodetect(ctx context.Context, cfg DiscoveryConfig) (*Session, error) {
	cfg = cfg.withDefaults()
	logger := observability.Component("link")

	names, err := cfg.Ports()
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("ports", names).Msg("autodetecting ECU")

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := NewSession(name, cfg.Open, cfg.Session)
		if err := s.Open(); err != nil {
			logger.Debug().Err(err).Str("port", name).Msg("skipping port")
			continue
		}
		if probe(ctx, s, cfg.Probe, cfg.Grace) {
			logger.Info().Str("port", name).Msg("ECU found")
			return s, nil
		}
		_ = s.Close()
		logger.Debug().Str("port", name).Msg("no answer from port")
	}
	return nil, ErrNoDeviceFound
}

func probe(ctx context.Context, s *Session, req []byte, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if _, err := s.Fetch(req); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(discoveryRetryDelay):
		}
	}
}
