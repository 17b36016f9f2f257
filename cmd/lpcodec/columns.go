package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
)

// runColumns groups the input by measurement and writes it column-wise.
func runColumns(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("columns", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	format := fs.String("format", "json", "Output format: json, msgpack, parquet")
	outPath := fs.String("o", "", "Write to this file instead of stdout (required for parquet)")
	outDir := fs.String("dir", "", "Write one partitioned file per measurement under this directory")
	only := fs.String("measurement", "", "Only convert this measurement")
	outPrecision := fs.String("out-precision", "", "Output timestamp precision: ns, us, ms, s")
	fs.Parse(args)

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if *outPrecision != "" {
		cfg.Output.Precision = *outPrecision
	}
	in, err := resolveInput(cfg)
	if err != nil {
		return err
	}
	precision, err := ingest.ParsePrecision(cfg.Output.Precision)
	if err != nil {
		return err
	}

	log := logger.Get("columns")
	parser := ingest.NewParser(in.parser, log)

	var points []*lineprotocol.Point
	for _, name := range inputNames(fs) {
		f, err := openInput(name, in)
		if err != nil {
			return err
		}
		stats, err := parser.ParseStream(f, in.precision, precision, func(pt *lineprotocol.Point) error {
			if *only == "" || pt.Measurement == *only {
				points = append(points, pt)
			}
			return nil
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if stats.Dropped > 0 {
			log.Warn().Str("input", name).Int("dropped", stats.Dropped).Msg("Skipped malformed lines")
		}
	}

	columnar := ingest.BatchToColumnar(points)
	if len(columnar) == 0 {
		return fmt.Errorf("no points to convert")
	}

	if *outDir != "" {
		return writeColumnsDir(*outDir, *format, cfg.Output.ParquetCodec, precision, columnar)
	}

	switch *format {
	case "json":
		return withOutput(*outPath, stdout, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(columnar)
		})

	case ingest.FormatMsgPack:
		data, err := ingest.EncodeMsgPackBatch(columnar)
		if err != nil {
			return err
		}
		return withOutput(*outPath, stdout, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})

	case ingest.FormatParquet:
		if *outPath == "" {
			return fmt.Errorf("parquet output needs -o or -dir")
		}
		if len(columnar) > 1 {
			return fmt.Errorf("input holds %d measurements (%v); pick one with -measurement or use -dir", len(columnar), measurementNames(columnar))
		}
		writer, err := ingest.NewParquetWriter(cfg.Output.ParquetCodec, precision, log)
		if err != nil {
			return err
		}
		return withOutput(*outPath, stdout, func(w io.Writer) error {
			for _, columns := range columnar {
				if _, err := writer.Write(w, columns); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fmt.Errorf("unknown format %q (use json, msgpack or parquet)", *format)
}

// writeColumnsDir hands every measurement to a DirSink, the same path the
// write API flushes through.
func writeColumnsDir(dir, format, codec string, precision ingest.Precision, columnar map[string]map[string][]interface{}) error {
	log := logger.Get("columns")

	var writer *ingest.ParquetWriter
	if format == ingest.FormatParquet {
		var err error
		writer, err = ingest.NewParquetWriter(codec, precision, log)
		if err != nil {
			return err
		}
	}
	sink, err := ingest.NewDirSink(dir, format, writer, log)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, name := range measurementNames(columnar) {
		if err := sink.WriteColumns(ctx, name, columnar[name]); err != nil {
			return fmt.Errorf("measurement %s: %w", name, err)
		}
	}
	log.Info().Str("dir", dir).Int("measurements", len(columnar)).Msg("Wrote columnar files")
	return nil
}

func withOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func measurementNames(columnar map[string]map[string][]interface{}) []string {
	names := make([]string, 0, len(columnar))
	for name := range columnar {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
