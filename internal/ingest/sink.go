package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/circuitbreaker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output formats understood by DirSink.
const (
	FormatParquet = "parquet"
	FormatMsgPack = "msgpack"
)

// DirSink writes each flushed measurement batch to its own file under a
// base directory, partitioned by hour:
//
//	<base>/<measurement>/2024/01/31/15/<measurement>_20240131_150405_1a2b3c4d.parquet
type DirSink struct {
	basePath string
	format   string
	parquet  *ParquetWriter
	logger   zerolog.Logger
	now      func() time.Time

	dirCache map[string]bool
	dirMu    sync.Mutex

	files  atomic.Int64
	closed atomic.Bool
}

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("sink is closed")

// NewDirSink creates the base directory and returns a sink writing format
// files into it. parquet may be nil unless format is FormatParquet.
func NewDirSink(basePath, format string, parquet *ParquetWriter, logger zerolog.Logger) (*DirSink, error) {
	switch format {
	case FormatParquet:
		if parquet == nil {
			return nil, fmt.Errorf("parquet format requires a ParquetWriter")
		}
	case FormatMsgPack:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &DirSink{
		basePath: absPath,
		format:   format,
		parquet:  parquet,
		logger:   logger.With().Str("component", "dir-sink").Logger(),
		now:      time.Now,
		dirCache: make(map[string]bool),
	}, nil
}

// WriteColumns encodes the batch and writes it atomically.
func (s *DirSink) WriteColumns(ctx context.Context, measurement string, columns map[string][]interface{}) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	switch s.format {
	case FormatParquet:
		if _, err := s.parquet.Write(&buf, columns); err != nil {
			return err
		}
	case FormatMsgPack:
		data, err := EncodeMsgPack(measurement, columns)
		if err != nil {
			return err
		}
		buf.Write(data)
	}

	if err := s.write(s.storagePath(measurement), buf.Bytes()); err != nil {
		return err
	}
	s.files.Add(1)
	return nil
}

// Files returns how many files have been written.
func (s *DirSink) Files() int64 {
	return s.files.Load()
}

// Close rejects further writes. Files already renamed into place are
// complete, so there is nothing to flush.
func (s *DirSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info().Int64("files", s.files.Load()).Str("path", s.basePath).Msg("Sink closed")
	return nil
}

func (s *DirSink) storagePath(measurement string) string {
	now := s.now().UTC()
	name := sanitizePathElement(measurement)
	return filepath.Join(
		name,
		now.Format("2006"), now.Format("01"), now.Format("02"), now.Format("15"),
		fmt.Sprintf("%s_%s_%s.%s", name, now.Format("20060102_150405"), uuid.New().String()[:8], s.format),
	)
}

// write writes to a temp file and renames it into place.
func (s *DirSink) write(path string, data []byte) error {
	fullPath, err := s.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	dir := filepath.Dir(fullPath)
	s.dirMu.Lock()
	if !s.dirCache[dir] {
		if err := os.MkdirAll(dir, 0700); err != nil {
			s.dirMu.Unlock()
			return fmt.Errorf("failed to create directory: %w", err)
		}
		s.dirCache[dir] = true
	}
	s.dirMu.Unlock()

	tmpFile, err := os.CreateTemp(dir, ".lpcodec-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("size", len(data)).Msg("Wrote file")
	return nil
}

// sanitizePathElement makes an arbitrary measurement name safe to use as a
// single path element.
func sanitizePathElement(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		return "_"
	}
	return name
}

// validatePath ensures the resolved path stays within the base path
func (s *DirSink) validatePath(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(s.basePath, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	relPath, err := filepath.Rel(s.basePath, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}
	return absPath, nil
}

// BreakerSink stops handing batches to a sink that keeps failing. While
// the breaker is open writes fail fast with circuitbreaker.ErrCircuitOpen.
type BreakerSink struct {
	sink    Sink
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerSink(sink Sink, breaker *circuitbreaker.CircuitBreaker) *BreakerSink {
	return &BreakerSink{sink: sink, breaker: breaker}
}

func (s *BreakerSink) WriteColumns(ctx context.Context, measurement string, columns map[string][]interface{}) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.WriteColumns(ctx, measurement, columns)
	})
}

// Breaker exposes the breaker for status reporting.
func (s *BreakerSink) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}
