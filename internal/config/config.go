package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/link"
	"github.com/danmuck/mslogger/internal/protocol"
)

var ErrInvalid = errors.New("config: invalid")

type BroadcastConfig struct {
	Enabled bool
	Topic   string
	// NATSURL selects a NATS publisher; empty means in-process only.
	NATSURL string
}

type MetricsConfig struct {
	// Addr is the /metrics listen address; empty disables the endpoint.
	Addr string
}

type Config struct {
	SerialPort       string
	BaudRate         int
	INIFile          string
	PollDelay        time.Duration
	WatchdogInterval time.Duration
	CanID            byte
	Table            byte
	LogDir           string
	LoggingEnabled   bool
	Banner           string
	Broadcast        BroadcastConfig
	Metrics          MetricsConfig
	Constants        map[string]float64
}

func DefaultConfig() Config {
	rr := protocol.DefaultRealtimeRead()
	return Config{
		BaudRate:         link.DefaultBaudRate,
		INIFile:          "./config/mainController.ini",
		PollDelay:        15 * time.Millisecond,
		WatchdogInterval: 500 * time.Millisecond,
		CanID:            rr.CanID,
		Table:            rr.Table,
		LogDir:           "./logs",
		LoggingEnabled:   true,
		Broadcast:        BroadcastConfig{Topic: "mslogger.samples"},
		Constants:        decoder.DefaultConstants(),
	}
}

type fileConfig struct {
	SerialPort       string             `toml:"serial_port"`
	BaudRate         int                `toml:"baud_rate"`
	INIFile          string             `toml:"ini_file"`
	PollDelay        string             `toml:"poll_delay"`
	WatchdogInterval string             `toml:"watchdog_interval"`
	CanID            int                `toml:"can_id"`
	Table            int                `toml:"table"`
	LogDir           string             `toml:"log_dir"`
	LoggingEnabled   bool               `toml:"logging_enabled"`
	Banner           string             `toml:"banner"`
	Broadcast        fileBroadcast      `toml:"broadcast"`
	Metrics          fileMetrics        `toml:"metrics"`
	Constants        map[string]float64 `toml:"constants"`
}

type fileBroadcast struct {
	Enabled bool   `toml:"enabled"`
	Topic   string `toml:"topic"`
	NATSURL string `toml:"nats_url"`
}

type fileMetrics struct {
	Addr string `toml:"addr"`
}

// Load overlays the keys present in the TOML file at path on DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	if meta.IsDefined("serial_port") {
		cfg.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("baud_rate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("ini_file") {
		cfg.INIFile = strings.TrimSpace(raw.INIFile)
	}
	if meta.IsDefined("poll_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollDelay))
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_delay: %w", err)
		}
		cfg.PollDelay = d
	}
	if meta.IsDefined("watchdog_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WatchdogInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse watchdog_interval: %w", err)
		}
		cfg.WatchdogInterval = d
	}
	if meta.IsDefined("can_id") {
		if raw.CanID < 0 || raw.CanID > 0xff {
			return Config{}, fmt.Errorf("%w: can_id %d out of range", ErrInvalid, raw.CanID)
		}
		cfg.CanID = byte(raw.CanID)
	}
	if meta.IsDefined("table") {
		if raw.Table < 0 || raw.Table > 0xff {
			return Config{}, fmt.Errorf("%w: table %d out of range", ErrInvalid, raw.Table)
		}
		cfg.Table = byte(raw.Table)
	}
	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("logging_enabled") {
		cfg.LoggingEnabled = raw.LoggingEnabled
	}
	if meta.IsDefined("banner") {
		cfg.Banner = raw.Banner
	}
	if meta.IsDefined("broadcast", "enabled") {
		cfg.Broadcast.Enabled = raw.Broadcast.Enabled
	}
	if meta.IsDefined("broadcast", "topic") {
		cfg.Broadcast.Topic = strings.TrimSpace(raw.Broadcast.Topic)
	}
	if meta.IsDefined("broadcast", "nats_url") {
		cfg.Broadcast.NATSURL = strings.TrimSpace(raw.Broadcast.NATSURL)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	// listed constants override the defaults one by one
	for name, v := range raw.Constants {
		cfg.Constants[name] = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.INIFile) == "" {
		return fmt.Errorf("%w: ini_file is required", ErrInvalid)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive", ErrInvalid)
	}
	if c.PollDelay <= 0 {
		return fmt.Errorf("%w: poll_delay must be positive", ErrInvalid)
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("%w: watchdog_interval must be positive", ErrInvalid)
	}
	if c.LoggingEnabled && strings.TrimSpace(c.LogDir) == "" {
		return fmt.Errorf("%w: log_dir required when logging is enabled", ErrInvalid)
	}
	if c.Broadcast.Enabled && strings.TrimSpace(c.Broadcast.Topic) == "" {
		return fmt.Errorf("%w: broadcast topic required when broadcast is enabled", ErrInvalid)
	}
	return nil
}
