// Package ingest turns line protocol batches into points ready for storage.
//
// Line Protocol Format:
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,field_key=field_value...] [timestamp]
//
// Examples:
//
//	cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000
//	temperature,sensor=bedroom temp=22.5
//	http_requests,method=GET,status=200 count=1i
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"github.com/rs/zerolog"
)

// maxReportedErrors caps how many line errors a Stats keeps.
const maxReportedErrors = 10

// ParserConfig controls how a Parser treats its input.
type ParserConfig struct {
	// SanitizeUTF8 replaces invalid UTF-8 in measurements, tags and string
	// fields with U+FFFD.
	SanitizeUTF8 bool
	// Strict makes the first malformed line fail the whole batch. Otherwise
	// malformed lines are dropped and counted.
	Strict bool
	// KeepMissingTimestamps leaves points without a timestamp as they are
	// instead of stamping them with the parse time.
	KeepMissingTimestamps bool
}

// Stats summarises one parse run.
type Stats struct {
	Points    int
	Dropped   int
	Sanitized int
	// Errors holds the first line errors seen, up to maxReportedErrors.
	Errors []error
}

// Parser parses line protocol batches into points.
type Parser struct {
	cfg    ParserConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewParser creates a new line protocol batch parser
func NewParser(cfg ParserConfig, logger zerolog.Logger) *Parser {
	return &Parser{
		cfg:    cfg,
		logger: logger.With().Str("component", "lp-parser").Logger(),
		now:    time.Now,
	}
}

// ParseBatch parses a buffered batch. Timestamps are kept in nanoseconds.
func (p *Parser) ParseBatch(data []byte) ([]*lineprotocol.Point, Stats, error) {
	return p.ParseBatchWithPrecision(data, Nanosecond, Nanosecond)
}

// ParseBatchWithPrecision parses LP data whose raw timestamps are in the
// from precision and normalises them to the to precision:
//   - "ns" (default): nanoseconds
//   - "us": microseconds
//   - "ms": milliseconds
//   - "s": seconds
//
// Points without a timestamp get the current time unless the parser keeps
// them missing.
func (p *Parser) ParseBatchWithPrecision(data []byte, from, to Precision) ([]*lineprotocol.Point, Stats, error) {
	points := make([]*lineprotocol.Point, 0, bytes.Count(data, []byte{'\n'})+1)
	stats, err := p.parse(lineprotocol.NewDecoderBytes(data), from, to, func(pt *lineprotocol.Point) error {
		points = append(points, pt)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return points, stats, nil
}

// ParseStream parses line protocol from r and hands every point to fn.
// An error from fn stops the parse and is returned as is.
func (p *Parser) ParseStream(r io.Reader, from, to Precision, fn func(*lineprotocol.Point) error) (Stats, error) {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	return p.parse(lineprotocol.NewDecoder(r), from, to, fn)
}

func (p *Parser) parse(dec *lineprotocol.Decoder, from, to Precision, fn func(*lineprotocol.Point) error) (Stats, error) {
	var stats Stats
	start := p.now()

	for {
		pt := new(lineprotocol.Point)
		err := dec.Decode(pt)
		if errors.Is(err, io.EOF) || errors.Is(err, lineprotocol.ErrEmptyInput) {
			break
		}
		if err != nil {
			if p.cfg.Strict || isStreamError(err) {
				return stats, fmt.Errorf("parse line protocol: %w", err)
			}
			stats.Dropped++
			if len(stats.Errors) < maxReportedErrors {
				stats.Errors = append(stats.Errors, err)
			}
			p.logger.Debug().Err(err).Msg("Dropped malformed line")
			continue
		}

		if p.cfg.SanitizeUTF8 && sanitizePoint(pt) {
			stats.Sanitized++
		}
		p.normalizeTimestamp(pt, from, to)

		if err := fn(pt); err != nil {
			return stats, err
		}
		stats.Points++
	}

	p.logger.Debug().
		Int("points", stats.Points).
		Int("dropped", stats.Dropped).
		Int("sanitized", stats.Sanitized).
		Dur("took", p.now().Sub(start)).
		Msg("Parsed line protocol batch")
	return stats, nil
}

func (p *Parser) normalizeTimestamp(pt *lineprotocol.Point, from, to Precision) {
	if pt.Timestamp == nil {
		if !p.cfg.KeepMissingTimestamps {
			pt.SetTimestamp(FromTime(p.now(), to))
		}
		return
	}
	pt.SetTimestamp(ConvertPrecision(*pt.Timestamp, from, to))
}

// isStreamError reports whether err came from the underlying reader rather
// than from malformed input.
func isStreamError(err error) bool {
	var lpErr *lineprotocol.Error
	if !errors.As(err, &lpErr) {
		return true
	}
	return lpErr.Err != nil && lpErr.Code == lineprotocol.CodeUnexpectedEOF
}

// sanitizePoint cleans every string of pt. It reports whether anything
// had to be replaced.
func sanitizePoint(pt *lineprotocol.Point) bool {
	var changed, c bool
	pt.Measurement, c = SanitizeUTF8(pt.Measurement)
	changed = changed || c

	for i := range pt.Tags {
		pt.Tags[i].Key, c = SanitizeUTF8(pt.Tags[i].Key)
		changed = changed || c
		pt.Tags[i].Value, c = SanitizeUTF8(pt.Tags[i].Value)
		changed = changed || c
	}
	for i := range pt.Fields {
		pt.Fields[i].Key, c = SanitizeUTF8(pt.Fields[i].Key)
		changed = changed || c
		if pt.Fields[i].Value.IsString() {
			var s string
			s, c = SanitizeUTF8(pt.Fields[i].Value.AsString())
			if c {
				pt.Fields[i].Value = lineprotocol.StringValue(s)
				changed = true
			}
		}
	}
	return changed
}

// NativeValue converts a field value into the plain Go value used by the
// flattened record formats.
func NativeValue(v lineprotocol.Value) interface{} {
	n, ok := v.Number()
	switch {
	case ok && n.IsFloat():
		f, _ := n.AsFloat()
		return f
	case ok && n.IsInt():
		i, _ := n.AsInt()
		return i
	case ok:
		u, _ := n.AsUint()
		return u
	case v.IsBool():
		b, _ := v.AsBool()
		return b
	case v.IsString():
		return v.AsString()
	}
	return nil
}

// ToFlatRecord converts a parsed point to a flat map.
// Tags and fields are flattened into top-level keys.
// Field names that conflict with tag names get "_value" suffix.
func ToFlatRecord(pt *lineprotocol.Point) map[string]interface{} {
	flat := make(map[string]interface{})

	// Add time and measurement
	if pt.Timestamp != nil {
		flat["time"] = *pt.Timestamp
	}
	flat["measurement"] = pt.Measurement

	// Add tags (all strings)
	for _, tag := range pt.Tags {
		flat[tag.Key] = tag.Value
	}

	// Add fields (handle conflicts with tags)
	for _, field := range pt.Fields {
		flat[fieldColumn(pt, field.Key)] = NativeValue(field.Value)
	}

	return flat
}

// BatchToColumnar converts a batch of points to columnar format
// Groups points by measurement and converts to column-oriented data
func BatchToColumnar(points []*lineprotocol.Point) map[string]map[string][]interface{} {
	// Group by measurement
	byMeasurement := make(map[string][]*lineprotocol.Point)
	for _, pt := range points {
		byMeasurement[pt.Measurement] = append(byMeasurement[pt.Measurement], pt)
	}

	result := make(map[string]map[string][]interface{})

	for measurement, measurementPoints := range byMeasurement {
		// Collect all column names
		columns := make(map[string]bool)
		columns["time"] = true

		for _, pt := range measurementPoints {
			for _, tag := range pt.Tags {
				columns[tag.Key] = true
			}
			for _, field := range pt.Fields {
				columns[fieldColumn(pt, field.Key)] = true
			}
		}

		// Build columnar data
		columnarData := make(map[string][]interface{})
		for col := range columns {
			columnarData[col] = make([]interface{}, len(measurementPoints))
		}

		// Fill data
		for i, pt := range measurementPoints {
			if pt.Timestamp != nil {
				columnarData["time"][i] = *pt.Timestamp
			}
			for _, tag := range pt.Tags {
				columnarData[tag.Key][i] = tag.Value
			}
			for _, field := range pt.Fields {
				columnarData[fieldColumn(pt, field.Key)][i] = NativeValue(field.Value)
			}
		}

		result[measurement] = columnarData
	}

	return result
}

func fieldColumn(pt *lineprotocol.Point, key string) string {
	if _, hasTag := pt.Tag(key); hasTag {
		return key + "_value"
	}
	return key
}
