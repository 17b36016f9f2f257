package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/circuitbreaker"
	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/metrics"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// PointBuffer accepts decoded points. *ingest.Buffer implements it.
type PointBuffer interface {
	Add(ctx context.Context, points []*lineprotocol.Point) error
	Flush(ctx context.Context) error
	Stats() ingest.BufferStats
}

// WriteConfig configures the write endpoints.
type WriteConfig struct {
	// MaxDecompressedSize caps the body after decompression (0 = unlimited).
	MaxDecompressedSize int64
	// Precision is the unit stored timestamps are converted to.
	Precision ingest.Precision
	// RetryAfter is advertised to clients while the output is unavailable.
	RetryAfter time.Duration
}

// WriteHandler handles line protocol write requests
type WriteHandler struct {
	cfg     WriteConfig
	parser  *ingest.Parser
	buffer  PointBuffer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	totalRequests atomic.Int64
	totalPoints   atomic.Int64
	totalBytes    atomic.Int64
	totalErrors   atomic.Int64
}

// NewWriteHandler creates a new line protocol write handler
func NewWriteHandler(cfg WriteConfig, parser *ingest.Parser, buffer PointBuffer, m *metrics.Metrics, logger zerolog.Logger) *WriteHandler {
	if m == nil {
		m = metrics.Get()
	}
	if cfg.Precision == "" {
		cfg.Precision = ingest.Nanosecond
	}
	return &WriteHandler{
		cfg:     cfg,
		parser:  parser,
		buffer:  buffer,
		metrics: m,
		logger:  logger.With().Str("component", "write-handler").Logger(),
	}
}

// RegisterRoutes registers the write routes
func (h *WriteHandler) RegisterRoutes(app *fiber.App) {
	// InfluxDB 1.x compatible endpoint
	app.Post("/write", h.WriteV1)

	// InfluxDB 2.x compatible endpoint
	app.Post("/api/v2/write", h.WriteV2)

	app.Get("/api/v1/write/stats", h.Stats)
	app.Post("/api/v1/write/flush", h.Flush)
}

// WriteV1 handles InfluxDB 1.x compatible write requests
// POST /write?db=telegraf&precision=n
func (h *WriteHandler) WriteV1(c *fiber.Ctx) error {
	precision, err := parseV1Precision(c.Query("precision"))
	if err != nil {
		return h.reject(c, fiber.StatusBadRequest, err.Error())
	}
	return h.handleWrite(c, precision)
}

// WriteV2 handles InfluxDB 2.x compatible write requests
// POST /api/v2/write?org=myorg&bucket=mybucket&precision=ns
func (h *WriteHandler) WriteV2(c *fiber.Ctx) error {
	precision, err := ingest.ParsePrecision(c.Query("precision"))
	if err != nil {
		return h.reject(c, fiber.StatusBadRequest, err.Error())
	}
	return h.handleWrite(c, precision)
}

// parseV1Precision accepts the 1.x short forms as well as the 2.x ones.
func parseV1Precision(s string) (ingest.Precision, error) {
	switch s {
	case "n":
		return ingest.Nanosecond, nil
	case "u":
		return ingest.Microsecond, nil
	}
	return ingest.ParsePrecision(s)
}

func (h *WriteHandler) handleWrite(c *fiber.Ctx, precision ingest.Precision) error {
	h.totalRequests.Add(1)
	h.metrics.IncLineProtocolRequests()

	// BodyRaw keeps the payload as sent; OpenInput handles gzip and zstd.
	raw := c.BodyRaw()
	if len(raw) == 0 {
		return h.reject(c, fiber.StatusBadRequest, "empty request body")
	}

	body, err := h.readBody(raw)
	if errors.Is(err, ingest.ErrInputTooLarge) {
		return h.reject(c, fiber.StatusRequestEntityTooLarge, err.Error())
	}
	if err != nil {
		return h.reject(c, fiber.StatusBadRequest, "failed to decompress body: "+err.Error())
	}
	h.totalBytes.Add(int64(len(body)))
	h.metrics.IncLineProtocolBytes(int64(len(body)))

	points, stats, err := h.parser.ParseBatchWithPrecision(body, precision, h.cfg.Precision)
	if err != nil {
		return h.reject(c, fiber.StatusBadRequest, err.Error())
	}
	h.metrics.IncLineProtocolDropped(int64(stats.Dropped))

	if len(points) > 0 {
		if err := h.buffer.Add(c.UserContext(), points); err != nil {
			if isUnavailable(err) {
				if h.cfg.RetryAfter > 0 {
					c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(h.cfg.RetryAfter.Seconds())))
				}
				return h.reject(c, fiber.StatusServiceUnavailable, "output unavailable: "+err.Error())
			}
			h.logger.Error().Err(err).Int("points", len(points)).Msg("Failed to buffer points")
			return h.reject(c, fiber.StatusInternalServerError, "write failed: "+err.Error())
		}
		h.totalPoints.Add(int64(len(points)))
		h.metrics.IncLineProtocolPoints(int64(len(points)))
	}

	if stats.Dropped > 0 {
		msg := fmt.Sprintf("partial write: %d of %d lines rejected", stats.Dropped, stats.Dropped+stats.Points)
		if len(stats.Errors) > 0 {
			msg += ": " + stats.Errors[0].Error()
		}
		return h.reject(c, fiber.StatusBadRequest, msg)
	}
	if len(points) == 0 {
		return h.reject(c, fiber.StatusBadRequest, "no valid points in request")
	}

	// InfluxDB returns 204 No Content on success
	return c.SendStatus(fiber.StatusNoContent)
}

func isUnavailable(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyRequests) ||
		errors.Is(err, ingest.ErrBufferClosed)
}

func (h *WriteHandler) readBody(raw []byte) ([]byte, error) {
	in, err := ingest.OpenInput(bytes.NewReader(raw), ingest.CompressionAuto)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return io.ReadAll(ingest.LimitInput(in, h.cfg.MaxDecompressedSize))
}

func (h *WriteHandler) reject(c *fiber.Ctx, status int, message string) error {
	h.totalErrors.Add(1)
	h.metrics.IncLineProtocolErrors()
	return c.Status(status).JSON(fiber.Map{
		"code":    errorCode(status),
		"message": message,
	})
}

// Stats returns write handler statistics
func (h *WriteHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"requests": h.totalRequests.Load(),
		"points":   h.totalPoints.Load(),
		"bytes":    h.totalBytes.Load(),
		"errors":   h.totalErrors.Load(),
		"buffer":   h.buffer.Stats(),
	})
}

// Flush forces the buffer out to the sink
func (h *WriteHandler) Flush(c *fiber.Ctx) error {
	if err := h.buffer.Flush(c.UserContext()); err != nil {
		return h.reject(c, fiber.StatusInternalServerError, "flush failed: "+err.Error())
	}
	return c.JSON(fiber.Map{"status": "flushed"})
}
