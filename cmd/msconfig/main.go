package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/danmuck/mslogger/internal/config"
	"github.com/danmuck/mslogger/internal/decoder"
)

const defaultPath = "cmd/mslogger/config.toml"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "msconfig: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("msconfig", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.StringP("output", "o", defaultPath, "output path for the config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", defaultPath, "config path for validation")
	ini := fs.Bool("ini", false, "with --validate, also compile the configured INI file")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "validated config at %s\n", *input)
		if !*ini {
			return nil
		}
		tables, err := decoder.Load(cfg.INIFile, cfg.DecoderOptions())
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "compiled %s: %d channels, %d datalog columns, block size %d\n",
			cfg.INIFile, len(tables.Channels), len(tables.Columns), cfg.RealtimeRead(tables.BlockSize).Size)
		return nil
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote config template to %s\n", *output)
	return nil
}
