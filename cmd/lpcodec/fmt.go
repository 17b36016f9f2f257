package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
)

// runFmt re-encodes the inputs in canonical form: escapes normalised,
// floats in shortest form, integers with their i suffix. Timestamps are
// rescaled to the output precision; missing ones stay missing.
func runFmt(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fmt", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	outPath := fs.String("o", "", "Write to this file instead of stdout")
	outCompression := fs.String("out-compression", "", "Output compression: none, gzip, zstd")
	outPrecision := fs.String("out-precision", "", "Output timestamp precision: ns, us, ms, s")
	fs.Parse(args)

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if *outCompression != "" {
		cfg.Output.Compression = *outCompression
	}
	if *outPrecision != "" {
		cfg.Output.Precision = *outPrecision
	}

	in, err := resolveInput(cfg)
	if err != nil {
		return err
	}
	compression, err := ingest.ParseCompression(cfg.Output.Compression)
	if err != nil {
		return err
	}
	precision, err := ingest.ParsePrecision(cfg.Output.Precision)
	if err != nil {
		return err
	}

	dst := stdout
	if *outPath != "" {
		file, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		dst = file
	}

	out, err := ingest.OpenOutput(dst, compression)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(out)
	enc := lineprotocol.NewEncoder(bw)

	log := logger.Get("fmt")
	parserCfg := in.parser
	parserCfg.KeepMissingTimestamps = true
	parser := ingest.NewParser(parserCfg, log)

	dropped := 0
	for _, name := range inputNames(fs) {
		f, err := openInput(name, in)
		if err != nil {
			return err
		}
		stats, err := parser.ParseStream(f, in.precision, precision, func(pt *lineprotocol.Point) error {
			return enc.Encode(pt)
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, lineErr := range stats.Errors {
			log.Warn().Str("input", name).Err(lineErr).Msg("Skipped malformed line")
		}
		dropped += stats.Dropped
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Malformed lines were left out of the output")
		return errInvalidInput
	}
	return nil
}
