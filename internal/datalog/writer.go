// Package datalog writes decoded samples as MegaLogViewer .msl files:
// tab separated text with a banner, a capture date, field names, units, and
// one row per sample.
package datalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mslogger/internal/decoder"
	"github.com/danmuck/mslogger/internal/observability"
)

const (
	DefaultBanner = "MS2Extra comms342aM: MS2/Extra 3.4.2 release  20160421 11:50BST(c)KC/JSM/JB   uSM"

	FileTimeLayout    = "2006-01-02_15.04.05"
	CaptureTimeLayout = "Mon Jan 02 15:04:05 MST 2006"
	FieldSeparator    = "\t"
	Extension         = ".msl"

	progressEvery = 1000
)

var ErrClosed = errors.New("datalog: writer closed")

type Options struct {
	Banner string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Banner == "" {
		o.Banner = DefaultBanner
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Writer appends rows for the Datalog columns of a compiled table set.
type Writer struct {
	tables *decoder.Tables
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	out     *bufio.Writer
	closer  io.Closer
	epoch   time.Time
	entries int
	path    string
}

// FileName returns the log file name for a capture started at t.
func FileName(t time.Time) string {
	return t.Format(FileTimeLayout) + Extension
}

// Create makes dir if needed and opens a new timestamped log file in it.
func Create(dir string, tables *decoder.Tables, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	logger := observability.Component("datalog")
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("dir", dir).Msg("creating log directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datalog: create dir: %w", err)
	}
	start := opts.Now()
	path := filepath.Join(dir, FileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datalog: create file: %w", err)
	}
	logger.Info().Str("path", path).Msg("creating log file")

	w, err := newWriter(f, f, tables, opts, start)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.path = path
	return w, nil
}

// NewWriter writes the header to out and returns a Writer for the rows.
func NewWriter(out io.Writer, tables *decoder.Tables, opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	return newWriter(out, nil, tables, opts, opts.Now())
}

func newWriter(out io.Writer, closer io.Closer, tables *decoder.Tables, opts Options, start time.Time) (*Writer, error) {
	w := &Writer{
		tables: tables,
		opts:   opts,
		logger: observability.Component("datalog"),
		out:    bufio.NewWriter(out),
		closer: closer,
		epoch:  start,
	}
	if err := w.writeHeader(start); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(start time.Time) error {
	names := make([]string, len(w.tables.Columns))
	units := make([]string, len(w.tables.Columns))
	for i, col := range w.tables.Columns {
		names[i] = col.Field
		units[i] = w.tables.Unit(col.Channel)
	}
	lines := []string{
		quote(w.opts.Banner),
		quote("Capture Date: " + start.Format(CaptureTimeLayout)),
		strings.Join(names, FieldSeparator),
		strings.Join(units, FieldSeparator),
	}
	for _, l := range lines {
		if _, err := w.out.WriteString(l + "\n"); err != nil {
			return fmt.Errorf("datalog: write header: %w", err)
		}
	}
	return w.out.Flush()
}

// Write appends one row. Unknown channels render as empty cells.
func (w *Writer) Write(sample decoder.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return ErrClosed
	}

	cells := make([]string, len(w.tables.Columns))
	for i, col := range w.tables.Columns {
		if col.Channel == decoder.TimeKey {
			cells[i] = col.Render(w.opts.Now().Sub(w.epoch).Seconds())
			continue
		}
		if _, ok := w.tables.Channels[col.Channel]; !ok {
			w.logger.Warn().Str("channel", col.Channel).Str("field", col.Field).
				Msg("unknown output channel in Datalog config")
			continue
		}
		cells[i] = col.Render(sample[col.Channel])
	}
	if _, err := w.out.WriteString(strings.Join(cells, FieldSeparator) + "\n"); err != nil {
		return fmt.Errorf("datalog: write row: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("datalog: flush: %w", err)
	}
	w.entries++
	if w.entries%progressEvery == 0 {
		w.logger.Info().Int("entries", w.entries).Msg("entries written to log file")
	}
	return nil
}

// Consume is an acquire.Consumer that logs write failures.
func (w *Writer) Consume(sample decoder.Sample) {
	if err := w.Write(sample); err != nil {
		w.logger.Error().Err(err).Msg("datalog write failed")
	}
}

func (w *Writer) Entries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

// Path is empty for writers built with NewWriter.
func (w *Writer) Path() string { return w.path }

// Close flushes buffered rows and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return nil
	}
	err := w.out.Flush()
	w.out = nil
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	w.logger.Info().Int("entries", w.entries).Msg("log file closed")
	return err
}

func quote(s string) string {
	return `"` + s + `"`
}
