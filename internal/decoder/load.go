package decoder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"

	"github.com/danmuck/mslogger/internal/observability"
)

const (
	SectionOutputChannels = "OutputChannels"
	SectionDatalog        = "Datalog"
	datalogEntryKey       = "entry"
)

var loadOptions = ini.LoadOptions{
	AllowShadows:             true,
	AllowBooleanKeys:         true,
	KeyValueDelimiters:       "=",
	SpaceBeforeInlineComment: true,
	PreserveSurroundedQuote:  true,
	SkipUnrecognizableLines:  true,
	IgnoreContinuation:       true,
}

// Load reads an INI file and compiles its OutputChannels and Datalog sections.
func Load(path string, opts Options) (*Tables, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparseableEntry, path, err)
	}
	logger := observability.Component("decoder")
	logger.Debug().Str("path", path).Msg("config file exists, attempting to parse")
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparseableEntry, path, err)
	}
	return compileFile(f, opts)
}

// Parse compiles INI content already in memory.
func Parse(data []byte, opts Options) (*Tables, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableEntry, err)
	}
	return compileFile(f, opts)
}

func compileFile(f *ini.File, opts Options) (*Tables, error) {
	chSec, err := f.GetSection(SectionOutputChannels)
	if err != nil {
		return nil, fmt.Errorf("%w: missing [%s] section", ErrUnparseableEntry, SectionOutputChannels)
	}
	logSec, err := f.GetSection(SectionDatalog)
	if err != nil {
		return nil, fmt.Errorf("%w: missing [%s] section", ErrUnparseableEntry, SectionDatalog)
	}

	channels := make([]ChannelEntry, 0, len(chSec.Keys()))
	for _, k := range chSec.Keys() {
		channels = append(channels, ChannelEntry{Key: k.Name(), Definition: k.Value()})
	}

	var entries []string
	if logSec.HasKey(datalogEntryKey) {
		entries = logSec.Key(datalogEntryKey).ValueWithShadows()
	}
	return Compile(channels, entries, opts), nil
}
