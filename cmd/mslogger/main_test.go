package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/mslogger/internal/config"
	"github.com/danmuck/mslogger/internal/testutil/testlog"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "mslogger.toml")
	body := "serial_port = \"/dev/ttyUSB0\"\npoll_delay = \"40ms\"\nlog_dir = \"/var/log/ms\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := parseFlags([]string{"-c", path, "-r", "25", "--no-log", "-s", "/dev/ttyACM1"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyACM1" {
		t.Fatalf("serial_port=%q", cfg.SerialPort)
	}
	if cfg.PollDelay != 25*time.Millisecond {
		t.Fatalf("poll_delay=%v", cfg.PollDelay)
	}
	if cfg.LoggingEnabled || cfg.LogDir != "/var/log/ms" {
		t.Fatalf("logging=%v dir=%q", cfg.LoggingEnabled, cfg.LogDir)
	}
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	testlog.Start(t)
	opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.DefaultConfig()
	if cfg.PollDelay != def.PollDelay || cfg.INIFile != def.INIFile || !cfg.LoggingEnabled {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestInvalidFetchRate(t *testing.T) {
	testlog.Start(t)
	opts, err := parseFlags([]string{"--fetch-rate", "0"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := loadConfig(opts); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestHelpFlag(t *testing.T) {
	if _, err := parseFlags([]string{"-h"}, io.Discard); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}

func TestSimulateUsesBuiltinLayout(t *testing.T) {
	testlog.Start(t)
	opts, err := parseFlags([]string{"--simulate", "--no-log"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.INIFile = filepath.Join(t.TempDir(), "absent.ini")
	tables, err := compileTables(cfg, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if tables.BlockSize != 212 || len(tables.Columns) == 0 {
		t.Fatalf("tables block=%d columns=%d", tables.BlockSize, len(tables.Columns))
	}

	session, err := openSession(t.Context(), cfg, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()
	payload, err := session.Fetch(cfg.RealtimeRead(tables.BlockSize).Payload())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	sample, err := tables.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sample["rpm"] < 1000 {
		t.Fatalf("rpm=%v", sample["rpm"])
	}
}

func TestCompileTablesMissingINI(t *testing.T) {
	testlog.Start(t)
	opts, err := parseFlags([]string{"-i", filepath.Join(t.TempDir(), "none.ini")}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := compileTables(cfg, opts); err == nil {
		t.Fatalf("expected error for missing INI file")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	testlog.Start(t)
	opts, err := parseFlags([]string{"--config", "ex.config.toml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyUSB0" || cfg.PollDelay != 20*time.Millisecond {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.Broadcast.Enabled || cfg.Broadcast.Topic != "garage.ms2" {
		t.Fatalf("broadcast=%+v", cfg.Broadcast)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9102" {
		t.Fatalf("metrics addr=%q", cfg.Metrics.Addr)
	}
	if cfg.Constants["nCylinders"] != 6 {
		t.Fatalf("constants=%v", cfg.Constants)
	}
}
