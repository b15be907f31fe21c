package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/mslogger/internal/config"
)

type options struct {
	configPath string
	simulate   bool
	flags      *pflag.FlagSet
}

func newFlagSet(out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("mslogger", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringP("serial-port", "s", "", "serial port the ECU is connected to (empty probes every port)")
	fs.StringP("ini-file", "i", "", "INI file from the MegaTune project")
	fs.IntP("fetch-rate", "r", 0, "milliseconds between data fetch cycles")
	fs.StringP("config", "c", "", "TOML config file")
	fs.String("log-dir", "", "directory for .msl datalogs")
	fs.Bool("no-log", false, "disable writing datalogs")
	fs.Bool("simulate", false, "poll an in-memory simulated ECU instead of a serial port")
	fs.String("metrics-addr", "", "serve prometheus metrics on this address")
	fs.Bool("broadcast", false, "publish samples on the broadcast topic")
	return fs
}

func parseFlags(args []string, out io.Writer) (options, error) {
	fs := newFlagSet(out)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts := options{flags: fs}
	opts.configPath, _ = fs.GetString("config")
	opts.simulate, _ = fs.GetBool("simulate")
	return opts, nil
}

// loadConfig reads the config file, if any, and applies explicitly set flags.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	fs := opts.flags
	if fs.Changed("serial-port") {
		cfg.SerialPort, _ = fs.GetString("serial-port")
	}
	if fs.Changed("ini-file") {
		cfg.INIFile, _ = fs.GetString("ini-file")
	}
	if fs.Changed("fetch-rate") {
		ms, _ := fs.GetInt("fetch-rate")
		if ms <= 0 {
			return config.Config{}, fmt.Errorf("%w: fetch-rate must be positive", config.ErrInvalid)
		}
		cfg.PollDelay = time.Duration(ms) * time.Millisecond
	}
	if fs.Changed("log-dir") {
		cfg.LogDir, _ = fs.GetString("log-dir")
	}
	if noLog, _ := fs.GetBool("no-log"); noLog {
		cfg.LoggingEnabled = false
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = fs.GetString("metrics-addr")
	}
	if on, _ := fs.GetBool("broadcast"); on {
		cfg.Broadcast.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
