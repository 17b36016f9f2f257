package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/metrics"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrBufferClosed is returned by Add after Close.
var ErrBufferClosed = errors.New("buffer closed")

// Sink receives one measurement's columns per flush.
type Sink interface {
	WriteColumns(ctx context.Context, measurement string, columns map[string][]interface{}) error
}

// BufferConfig controls when a Buffer flushes.
type BufferConfig struct {
	MaxPoints     int           // Flush once this many points are pending (0 = only on timer/Flush)
	FlushInterval time.Duration // Periodic flush (0 = disabled)
	Workers       int           // Measurements flushed concurrently
}

// BufferStats is a snapshot of buffer counters.
type BufferStats struct {
	Pending int   `json:"pending"`
	Written int64 `json:"written"`
	Flushes int64 `json:"flushes"`
	Errors  int64 `json:"errors"`
}

// Buffer collects points and hands them to a Sink in columnar batches.
// Safe for concurrent use.
type Buffer struct {
	cfg     BufferConfig
	sink    Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []*lineprotocol.Point
	closed  bool

	// Serialises flushes so batches reach the sink in arrival order.
	flushMu sync.Mutex

	written atomic.Int64
	flushes atomic.Int64
	errors  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBuffer creates a buffer and starts its flush timer, if configured.
func NewBuffer(cfg BufferConfig, sink Sink, m *metrics.Metrics, logger zerolog.Logger) *Buffer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if m == nil {
		m = metrics.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		cfg:     cfg,
		sink:    sink,
		metrics: m,
		logger:  logger.With().Str("component", "point-buffer").Logger(),
		cancel:  cancel,
	}

	if cfg.FlushInterval > 0 {
		b.wg.Add(1)
		go b.periodicFlush(ctx)
	}
	return b
}

// Add queues points. It flushes synchronously once MaxPoints is reached.
func (b *Buffer) Add(ctx context.Context, points []*lineprotocol.Point) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.pending = append(b.pending, points...)
	n := len(b.pending)
	b.mu.Unlock()

	b.metrics.SetBufferPointsBuffered(int64(n))

	if b.cfg.MaxPoints > 0 && n >= b.cfg.MaxPoints {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes every pending point to the sink.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	points := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.metrics.SetBufferPointsBuffered(0)
	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	columnar := BatchToColumnar(points)
	measurements := make([]string, 0, len(columnar))
	for name := range columnar {
		measurements = append(measurements, name)
	}
	sort.Strings(measurements)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for _, name := range measurements {
		name := name
		g.Go(func() error {
			if err := b.sink.WriteColumns(gctx, name, columnar[name]); err != nil {
				return fmt.Errorf("flush %s: %w", name, err)
			}
			return nil
		})
	}

	b.flushes.Add(1)
	b.metrics.IncBufferFlushes()
	if err := g.Wait(); err != nil {
		b.errors.Add(1)
		b.metrics.IncBufferErrors()
		b.logger.Error().Err(err).Int("points", len(points)).Msg("Flush failed")
		return err
	}

	b.written.Add(int64(len(points)))
	b.metrics.IncBufferPointsWritten(int64(len(points)))
	b.logger.Debug().
		Int("points", len(points)).
		Int("measurements", len(measurements)).
		Dur("duration", time.Since(start)).
		Msg("Flushed buffer")
	return nil
}

func (b *Buffer) periodicFlush(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("Periodic flush failed")
			}
		}
	}
}

// Stats returns current counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()

	return BufferStats{
		Pending: pending,
		Written: b.written.Load(),
		Flushes: b.flushes.Load(),
		Errors:  b.errors.Load(),
	}
}

// Close stops the flush timer and writes whatever is still pending.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.Flush(context.Background())
}
