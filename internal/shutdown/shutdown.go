package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is anything that can be shut down gracefully
type Closer interface {
	Close() error
}

// Hook is a cleanup step that honours the shutdown deadline
type Hook func(ctx context.Context) error

// Priorities used by lpcodec serve. Lower runs first.
const (
	PriorityHTTPServer = 10 // Stop accepting writes first
	PriorityBuffer     = 20 // Flush buffered points
	PrioritySink       = 30 // Close output files
)

type step struct {
	name     string
	priority int
	run      Hook
}

// Coordinator runs registered cleanup steps in priority order once a
// signal arrives or Trigger is called.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	triggered    chan struct{}
	err          error
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:   timeout,
		logger:    logger.With().Str("component", "shutdown").Logger(),
		triggered: make(chan struct{}),
	}
}

// Register adds a component whose Close is called during shutdown.
func (c *Coordinator) Register(name string, component Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return component.Close() }, priority)
}

// RegisterHook adds a cleanup step.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, priority: priority, run: hook})
	c.logger.Debug().Str("name", name).Int("priority", priority).Msg("Registered shutdown step")
}

// Wait blocks until SIGINT/SIGTERM or Trigger.
func (c *Coordinator) Wait() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.triggered:
		return syscall.SIGTERM
	}
}

// Trigger requests shutdown programmatically. Safe for concurrent use.
func (c *Coordinator) Trigger() {
	c.triggerOnce.Do(func() { close(c.triggered) })
}

// Shutdown runs every step once, lowest priority first, and returns the
// first error. Steps left when the deadline passes are skipped.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.Trigger()

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].priority < steps[j].priority })

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		c.logger.Info().Dur("timeout", c.timeout).Int("steps", len(steps)).Msg("Starting graceful shutdown")

		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().Str("step", s.name).Msg("Shutdown timeout reached, skipping remaining steps")
				if c.err == nil {
					c.err = ctx.Err()
				}
				return
			}
			if err := s.run(ctx); err != nil {
				c.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown step failed")
				if c.err == nil {
					c.err = err
				}
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})
	return c.err
}
