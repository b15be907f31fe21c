package config

import (
	"github.com/danmuck/mslogger/internal/acquire"
	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/protocol"
)

// RealtimeRead builds the poll request. A positive blockSize from the
// compiled INI replaces the default request size.
func (c Config) RealtimeRead(blockSize int) protocol.RealtimeRead {
	rr := protocol.DefaultRealtimeRead()
	rr.CanID = c.CanID
	rr.Table = c.Table
	if blockSize > 0 && blockSize <= 0xffff {
		rr.Size = uint16(blockSize)
	}
	return rr
}

func (c Config) SchedulerConfig(blockSize int) acquire.Config {
	return acquire.Config{
		PollDelay:        c.PollDelay,
		WatchdogInterval: c.WatchdogInterval,
		Request:          c.RealtimeRead(blockSize).Payload(),
	}
}

func (c Config) DecoderOptions() decoder.Options {
	return decoder.Options{Constants: c.Constants}
}
