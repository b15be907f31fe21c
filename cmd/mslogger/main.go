package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/mslogger/internal/acquire"
	"github.com/danmuck/mslogger/internal/config"
	"github.com/danmuck/mslogger/internal/datalog"
	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/link"
	"github.com/danmuck/mslogger/internal/logging"
	"github.com/danmuck/mslogger/internal/observability"
	"github.com/danmuck/mslogger/internal/sim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mslogger: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.ConfigureRuntime()
	logger := observability.Component("mslogger")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	tables, err := compileTables(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := openSession(ctx, cfg, opts.simulate)
	if err != nil {
		return err
	}
	defer session.Close()

	sched := acquire.New(session, tables, cfg.SchedulerConfig(tables.BlockSize))

	if cfg.LoggingEnabled {
		w, err := datalog.Create(cfg.LogDir, tables, datalog.Options{Banner: cfg.Banner})
		if err != nil {
			return err
		}
		defer w.Close()
		sched.Register(w.Consume)
	} else {
		logger.Warn().Msg("logging to file is disabled")
	}

	if cfg.Broadcast.Enabled {
		sink, err := startBroadcast(ctx, cfg.Broadcast)
		if err != nil {
			return err
		}
		defer sink.Close()
		sched.Register(sink.Consume)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           observability.MetricsHandler(logger, statusFunc(session, sched)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sched.Stop()
	<-sched.Done()

	st := sched.Stats()
	logger.Info().
		Uint64("cycles", st.Cycles).
		Uint64("samples", st.Samples).
		Uint64("failures", st.Failures).
		Uint64("watchdog_runs", st.WatchdogRuns).
		Msg("acquisition finished")
	return nil
}

// compileTables loads the INI file. A simulated run without an explicit
// INI file uses the simulator's built-in channel layout.
func compileTables(cfg config.Config, opts options) (*decoder.Tables, error) {
	if opts.simulate && !opts.flags.Changed("ini-file") {
		if _, err := os.Stat(cfg.INIFile); errors.Is(err, os.ErrNotExist) {
			return decoder.Parse([]byte(sim.ExampleINI), cfg.DecoderOptions())
		}
	}
	return decoder.Load(cfg.INIFile, cfg.DecoderOptions())
}

func openSession(ctx context.Context, cfg config.Config, simulate bool) (*link.Session, error) {
	if simulate {
		ecu := sim.New(sim.Config{Latency: 2 * time.Millisecond})
		s := link.NewSession("sim", func(name string) (link.Port, error) {
			p, err := ecu.Open(name)
			if err != nil {
				return nil, err
			}
			return p, nil
		}, link.Config{})
		if err := s.Open(); err != nil {
			return nil, err
		}
		return s, nil
	}

	open := link.SerialOpener(cfg.BaudRate)
	if cfg.SerialPort == "" {
		return link.Autodetect(ctx, link.DiscoveryConfig{Open: open})
	}
	s := link.NewSession(cfg.SerialPort, open, link.Config{})
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.SerialPort, err)
	}
	return s, nil
}

func statusFunc(session *link.Session, sched *acquire.Scheduler) observability.StatusFunc {
	return func() map[string]any {
		st := sched.Stats()
		return map[string]any{
			"port":          session.Name(),
			"link":          session.State().String(),
			"cycles":        st.Cycles,
			"samples":       st.Samples,
			"failures":      st.Failures,
			"watchdog_runs": st.WatchdogRuns,
		}
	}
}
