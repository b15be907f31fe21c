package link

import "time"

// Config defines session timing.
type Config struct {
	ResponseTimeout   time.Duration
	ReconnectInterval time.Duration
	ReadBufferSize    int
}

func DefaultConfig() Config {
	return Config{
		ResponseTimeout:   150 * time.Millisecond,
		ReconnectInterval: 500 * time.Millisecond,
		ReadBufferSize:    512,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	return c
}
