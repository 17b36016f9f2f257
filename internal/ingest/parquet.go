package ingest

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	pqcompress "github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/rs/zerolog"
)

// sharedArrowAllocator is safe for concurrent use by every writer.
var sharedArrowAllocator = memory.NewGoAllocator()

// ParquetWriter turns columnar batches into Parquet files.
type ParquetWriter struct {
	compression pqcompress.Compression
	precision   Precision
	logger      zerolog.Logger
}

// NewParquetWriter creates a writer. codec is one of snappy, gzip, zstd or
// none; precision is the unit of the "time" column.
func NewParquetWriter(codec string, precision Precision, logger zerolog.Logger) (*ParquetWriter, error) {
	var comp pqcompress.Compression
	switch codec {
	case "", "snappy":
		comp = pqcompress.Codecs.Snappy
	case "gzip":
		comp = pqcompress.Codecs.Gzip
	case "zstd":
		comp = pqcompress.Codecs.Zstd
	case "none":
		comp = pqcompress.Codecs.Uncompressed
	default:
		return nil, fmt.Errorf("unknown parquet codec %q", codec)
	}
	return &ParquetWriter{
		compression: comp,
		precision:   precision,
		logger:      logger.With().Str("component", "parquet-writer").Logger(),
	}, nil
}

// columnKind is the storage class of one column.
type columnKind int

const (
	kindNull columnKind = iota
	kindInt
	kindUint
	kindFloat
	kindString
	kindBool
)

func kindOf(v interface{}) (columnKind, error) {
	switch v.(type) {
	case nil:
		return kindNull, nil
	case int64:
		return kindInt, nil
	case uint64:
		return kindUint, nil
	case float64:
		return kindFloat, nil
	case string:
		return kindString, nil
	case bool:
		return kindBool, nil
	default:
		return kindNull, fmt.Errorf("unsupported type: %T", v)
	}
}

// resolveKind picks one storage class for a column. Integers and unsigned
// integers share a column as int64 and numbers widen to float64; any other
// mix is an error.
func resolveKind(name string, col []interface{}) (columnKind, error) {
	kind := kindNull
	for _, v := range col {
		k, err := kindOf(v)
		if err != nil {
			return kindNull, fmt.Errorf("column %s: %w", name, err)
		}
		switch {
		case k == kindNull || k == kind:
		case kind == kindNull:
			kind = k
		case isNumeric(kind) && isNumeric(k):
			if kind == kindFloat || k == kindFloat {
				kind = kindFloat
			} else {
				kind = kindInt
			}
		default:
			return kindNull, fmt.Errorf("column %s: mixed value types", name)
		}
	}
	return kind, nil
}

func isNumeric(k columnKind) bool {
	return k == kindInt || k == kindUint || k == kindFloat
}

func (w *ParquetWriter) arrowType(name string, kind columnKind) arrow.DataType {
	if name == "time" {
		return &arrow.TimestampType{Unit: arrowUnit(w.precision), TimeZone: "UTC"}
	}
	switch kind {
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindUint:
		return arrow.PrimitiveTypes.Uint64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		// All-null columns are kept as strings.
		return arrow.BinaryTypes.String
	}
}

func arrowUnit(p Precision) arrow.TimeUnit {
	switch p {
	case Second:
		return arrow.Second
	case Millisecond:
		return arrow.Millisecond
	case Microsecond:
		return arrow.Microsecond
	default:
		return arrow.Nanosecond
	}
}

// sortColumnsTimeFirst sorts column names with "time" first, then alphabetical
func sortColumnsTimeFirst(colNames []string) {
	sort.Slice(colNames, func(i, j int) bool {
		if colNames[i] == "time" {
			return true
		}
		if colNames[j] == "time" {
			return false
		}
		return colNames[i] < colNames[j]
	})
}

// Write encodes one measurement's columns as a Parquet file on out and
// returns the row count.
func (w *ParquetWriter) Write(out io.Writer, columns map[string][]interface{}) (int, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sortColumnsTimeFirst(names)

	rows := -1
	fields := make([]arrow.Field, len(names))
	kinds := make([]columnKind, len(names))
	for i, name := range names {
		col := columns[name]
		if rows >= 0 && len(col) != rows {
			return 0, fmt.Errorf("column %s: length mismatch (expected %d, got %d)", name, rows, len(col))
		}
		rows = len(col)

		kind, err := resolveKind(name, col)
		if err != nil {
			return 0, err
		}
		if name == "time" && kind != kindInt && kind != kindUint && kind != kindNull {
			return 0, fmt.Errorf("column time: expected integer timestamps")
		}
		kinds[i] = kind
		fields[i] = arrow.Field{Name: name, Type: w.arrowType(name, kind), Nullable: true}
	}
	if rows < 0 {
		return 0, fmt.Errorf("no columns to write")
	}

	schema := arrow.NewSchema(fields, nil)
	arrays := make([]arrow.Array, len(names))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()

	for i, name := range names {
		arr, err := buildArray(fields[i].Type, kinds[i], columns[name])
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		arrays[i] = arr
	}

	record := array.NewRecord(schema, arrays, int64(rows))
	defer record.Release()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(w.compression),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, out, writerProps, arrowProps)
	if err != nil {
		return 0, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return 0, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close Parquet writer: %w", err)
	}

	w.logger.Debug().
		Int("columns", len(fields)).
		Int("rows", rows).
		Msg("Wrote Parquet file")

	return rows, nil
}

func buildArray(dt arrow.DataType, kind columnKind, col []interface{}) (arrow.Array, error) {
	mem := sharedArrowAllocator

	switch dt.ID() {
	case arrow.TIMESTAMP:
		b := array.NewTimestampBuilder(mem, dt.(*arrow.TimestampType))
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			i, ok := toInt64(v)
			if !ok {
				return nil, fmt.Errorf("timestamp %v out of range", v)
			}
			b.Append(arrow.Timestamp(i))
		}
		return b.NewArray(), nil

	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			i, ok := toInt64(v)
			if !ok {
				return nil, fmt.Errorf("value %v overflows int64", v)
			}
			b.Append(i)
		}
		return b.NewArray(), nil

	case arrow.UINT64:
		b := array.NewUint64Builder(mem)
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(uint64))
		}
		return b.NewArray(), nil

	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, _ := toFloat64(v)
			b.Append(f)
		}
		return b.NewArray(), nil

	case arrow.BOOL:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(bool))
		}
		return b.NewArray(), nil

	case arrow.STRING:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range col {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(v.(string))
		}
		return b.NewArray(), nil
	}

	return nil, fmt.Errorf("unsupported Arrow type %s for %v values", dt.Name(), kind)
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
