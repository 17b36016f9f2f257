package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/basekick-labs/lineprotocol/internal/config"
	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
)

// Version is set at build time
var Version = "dev"

// stdin is swapped out by tests.
var stdin io.Reader = os.Stdin

// errInvalidInput makes the process exit non-zero without another message.
var errInvalidInput = errors.New("invalid line protocol")

const usage = `lpcodec - InfluxDB line protocol toolkit

Usage:
  lpcodec <command> [flags] [files...]

Commands:
  check     Validate line protocol and report malformed lines
  fmt       Re-encode line protocol in canonical form
  stats     Summarise measurements, series and fields
  columns   Convert line protocol to columnar json, msgpack or parquet
  serve     Run the InfluxDB compatible write API
  version   Print the version

Files default to stdin ("-"). Run "lpcodec <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:], os.Stdout)
	case "fmt":
		err = runFmt(os.Args[2:], os.Stdout)
	case "stats":
		err = runStats(os.Args[2:], os.Stdout)
	case "columns":
		err = runColumns(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(os.Args[2:])
	case "version":
		fmt.Println("lpcodec", Version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if !errors.Is(err, errInvalidInput) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// commonFlags are shared by every subcommand. Flags only override the
// loaded configuration when given explicitly.
type commonFlags struct {
	configPath  string
	compression string
	precision   string
	maxSize     string
	strict      bool
	sanitize    bool
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to a config file (default: lpcodec.toml lookup)")
	fs.StringVar(&f.compression, "compression", "", "Input compression: auto, none, gzip, zstd")
	fs.StringVar(&f.precision, "precision", "", "Input timestamp precision: ns, us, ms, s")
	fs.StringVar(&f.maxSize, "max-size", "", "Maximum decompressed input size, e.g. 512MB (0 = unlimited)")
	fs.BoolVar(&f.strict, "strict", false, "Fail on the first malformed line")
	fs.BoolVar(&f.sanitize, "sanitize-utf8", false, "Replace invalid UTF-8 with U+FFFD")
}

// load reads the configuration, applies explicit flags and sets up logging.
func (f *commonFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var flagErr error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "compression":
			cfg.Input.Compression = f.compression
		case "precision":
			cfg.Input.Precision = f.precision
		case "strict":
			cfg.Input.Strict = f.strict
		case "sanitize-utf8":
			cfg.Input.SanitizeUTF8 = f.sanitize
		case "max-size":
			size, err := config.ParseSize(f.maxSize)
			if err != nil {
				flagErr = fmt.Errorf("invalid -max-size: %w", err)
				return
			}
			cfg.Input.MaxSize = size
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// inputSettings are the parsed forms of the input configuration.
type inputSettings struct {
	compression ingest.Compression
	precision   ingest.Precision
	maxSize     int64
	parser      ingest.ParserConfig
}

func resolveInput(cfg *config.Config) (inputSettings, error) {
	compression, err := ingest.ParseCompression(cfg.Input.Compression)
	if err != nil {
		return inputSettings{}, err
	}
	precision, err := ingest.ParsePrecision(cfg.Input.Precision)
	if err != nil {
		return inputSettings{}, err
	}
	return inputSettings{
		compression: compression,
		precision:   precision,
		maxSize:     cfg.Input.MaxSize,
		parser: ingest.ParserConfig{
			SanitizeUTF8: cfg.Input.SanitizeUTF8,
			Strict:       cfg.Input.Strict,
		},
	}, nil
}

// inputFile is a decompressed, size limited view of a file or stdin.
type inputFile struct {
	io.Reader
	closers []io.Closer
}

func (f *inputFile) Close() error {
	var first error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openInput(name string, in inputSettings) (*inputFile, error) {
	f := &inputFile{}

	var raw io.Reader
	if name == "-" {
		raw = stdin
	} else {
		file, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, file)
		raw = file
	}

	decompressed, err := ingest.OpenInput(raw, in.compression)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	f.closers = append(f.closers, decompressed)
	f.Reader = ingest.LimitInput(decompressed, in.maxSize)
	return f, nil
}

func inputNames(fs *flag.FlagSet) []string {
	if fs.NArg() == 0 {
		return []string{"-"}
	}
	return fs.Args()
}
