package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// latencyBounds are the upper bounds of the HTTP latency histogram in
// microseconds. The last bucket is +Inf.
var latencyBounds = [...]int64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}

// Metrics holds all lpcodec counters for Prometheus export
type Metrics struct {
	startTime time.Time

	// HTTP request metrics
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	httpLatencyBuckets [len(latencyBounds) + 1]atomic.Int64
	httpLatencySum     atomic.Int64
	httpLatencyCount   atomic.Int64

	// Line protocol decoding
	lineprotocolRequestsTotal atomic.Int64
	lineprotocolPointsTotal   atomic.Int64
	lineprotocolDroppedTotal  atomic.Int64
	lineprotocolBytesTotal    atomic.Int64
	lineprotocolErrorsTotal   atomic.Int64

	// Point buffer
	bufferPointsBuffered atomic.Int64
	bufferPointsWritten  atomic.Int64
	bufferFlushesTotal   atomic.Int64
	bufferErrorsTotal    atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// New returns a standalone metrics set.
func New() *Metrics {
	return &Metrics{startTime: time.Now(), logger: zerolog.Nop()}
}

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Debug().Msg("Metrics collector initialized")
	return m
}

// HTTP Metrics
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records HTTP request latency in microseconds
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)
	m.httpLatencyBuckets[latencyBucket(durationMicros)].Add(1)
}

func latencyBucket(micros int64) int {
	for i, bound := range latencyBounds {
		if micros <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// Line protocol metrics
func (m *Metrics) IncLineProtocolRequests()            { m.lineprotocolRequestsTotal.Add(1) }
func (m *Metrics) IncLineProtocolPoints(count int64)   { m.lineprotocolPointsTotal.Add(count) }
func (m *Metrics) IncLineProtocolDropped(count int64)  { m.lineprotocolDroppedTotal.Add(count) }
func (m *Metrics) IncLineProtocolBytes(bytes int64)    { m.lineprotocolBytesTotal.Add(bytes) }
func (m *Metrics) IncLineProtocolErrors()              { m.lineprotocolErrorsTotal.Add(1) }

// Buffer metrics
func (m *Metrics) SetBufferPointsBuffered(count int64) { m.bufferPointsBuffered.Store(count) }
func (m *Metrics) IncBufferPointsWritten(count int64)  { m.bufferPointsWritten.Add(count) }
func (m *Metrics) IncBufferFlushes()                   { m.bufferFlushesTotal.Add(1) }
func (m *Metrics) IncBufferErrors()                    { m.bufferErrorsTotal.Add(1) }

// Snapshot returns a point-in-time copy of every counter.
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
		"goroutines":         runtime.NumGoroutine(),
		"memory_alloc_bytes": memStats.Alloc,
		"gc_cycles":          memStats.NumGC,

		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		"lineprotocol_requests_total": m.lineprotocolRequestsTotal.Load(),
		"lineprotocol_points_total":   m.lineprotocolPointsTotal.Load(),
		"lineprotocol_dropped_total":  m.lineprotocolDroppedTotal.Load(),
		"lineprotocol_bytes_total":    m.lineprotocolBytesTotal.Load(),
		"lineprotocol_errors_total":   m.lineprotocolErrorsTotal.Load(),

		"buffer_points_buffered": m.bufferPointsBuffered.Load(),
		"buffer_points_written":  m.bufferPointsWritten.Load(),
		"buffer_flushes_total":   m.bufferFlushesTotal.Load(),
		"buffer_errors_total":    m.bufferErrorsTotal.Load(),
	}
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b []byte
	b = appendHeader(b, "lpcodec_uptime_seconds", "gauge", "Time since lpcodec started")
	b = appendMetric(b, "lpcodec_uptime_seconds", time.Since(m.startTime).Seconds())

	b = appendHeader(b, "lpcodec_goroutines", "gauge", "Number of goroutines")
	b = appendMetric(b, "lpcodec_goroutines", float64(runtime.NumGoroutine()))

	b = appendHeader(b, "lpcodec_memory_alloc_bytes", "gauge", "Current allocated memory")
	b = appendMetric(b, "lpcodec_memory_alloc_bytes", float64(memStats.Alloc))

	// HTTP
	b = appendHeader(b, "lpcodec_http_requests_total", "counter", "Total HTTP requests by outcome")
	b = appendMetricWithLabel(b, "lpcodec_http_requests_total", "status", "success", float64(m.httpRequestsSuccess.Load()))
	b = appendMetricWithLabel(b, "lpcodec_http_requests_total", "status", "error", float64(m.httpRequestsError.Load()))

	b = appendHeader(b, "lpcodec_http_request_duration_seconds", "histogram", "HTTP request latency")
	var cumulative int64
	for i, bound := range latencyBounds {
		cumulative += m.httpLatencyBuckets[i].Load()
		le := strconv.FormatFloat(float64(bound)/1e6, 'g', -1, 64)
		b = appendMetricWithLabel(b, "lpcodec_http_request_duration_seconds_bucket", "le", le, float64(cumulative))
	}
	cumulative += m.httpLatencyBuckets[len(latencyBounds)].Load()
	b = appendMetricWithLabel(b, "lpcodec_http_request_duration_seconds_bucket", "le", "+Inf", float64(cumulative))
	b = appendMetric(b, "lpcodec_http_request_duration_seconds_sum", float64(m.httpLatencySum.Load())/1e6)
	b = appendMetric(b, "lpcodec_http_request_duration_seconds_count", float64(m.httpLatencyCount.Load()))

	// Line protocol
	b = appendHeader(b, "lpcodec_lineprotocol_requests_total", "counter", "Total line protocol write requests")
	b = appendMetric(b, "lpcodec_lineprotocol_requests_total", float64(m.lineprotocolRequestsTotal.Load()))

	b = appendHeader(b, "lpcodec_lineprotocol_points_total", "counter", "Total points decoded")
	b = appendMetric(b, "lpcodec_lineprotocol_points_total", float64(m.lineprotocolPointsTotal.Load()))

	b = appendHeader(b, "lpcodec_lineprotocol_dropped_total", "counter", "Total malformed lines dropped")
	b = appendMetric(b, "lpcodec_lineprotocol_dropped_total", float64(m.lineprotocolDroppedTotal.Load()))

	b = appendHeader(b, "lpcodec_lineprotocol_bytes_total", "counter", "Total decompressed bytes received")
	b = appendMetric(b, "lpcodec_lineprotocol_bytes_total", float64(m.lineprotocolBytesTotal.Load()))

	b = appendHeader(b, "lpcodec_lineprotocol_errors_total", "counter", "Total rejected write requests")
	b = appendMetric(b, "lpcodec_lineprotocol_errors_total", float64(m.lineprotocolErrorsTotal.Load()))

	// Buffer
	b = appendHeader(b, "lpcodec_buffer_points_buffered", "gauge", "Points waiting for the next flush")
	b = appendMetric(b, "lpcodec_buffer_points_buffered", float64(m.bufferPointsBuffered.Load()))

	b = appendHeader(b, "lpcodec_buffer_points_written_total", "counter", "Total points flushed to the sink")
	b = appendMetric(b, "lpcodec_buffer_points_written_total", float64(m.bufferPointsWritten.Load()))

	b = appendHeader(b, "lpcodec_buffer_flushes_total", "counter", "Total buffer flushes")
	b = appendMetric(b, "lpcodec_buffer_flushes_total", float64(m.bufferFlushesTotal.Load()))

	b = appendHeader(b, "lpcodec_buffer_errors_total", "counter", "Total failed flushes")
	b = appendMetric(b, "lpcodec_buffer_errors_total", float64(m.bufferErrorsTotal.Load()))

	return string(b)
}

// Helper functions for Prometheus format
func appendHeader(b []byte, name, typ, help string) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	return append(b, '\n')
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}
