package ingest

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readParquet(t *testing.T, data []byte) arrow.Table {
	t.Helper()
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	t.Cleanup(tbl.Release)
	return tbl
}

func TestParquetWriter_RoundTrip(t *testing.T) {
	points, _, err := newTestParser(ParserConfig{}).ParseBatch([]byte(
		"cpu,host=a usage=1.5,count=3i,ok=true,msg=\"hi\" 100\n" +
			"cpu,host=b usage=2,count=-1i 200\n"))
	require.NoError(t, err)
	columns := BatchToColumnar(points)["cpu"]

	w, err := NewParquetWriter("zstd", Nanosecond, zerolog.Nop())
	require.NoError(t, err)

	var buf bytes.Buffer
	rows, err := w.Write(&buf, columns)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	tbl := readParquet(t, buf.Bytes())
	assert.Equal(t, int64(2), tbl.NumRows())

	schema := tbl.Schema()
	var names []string
	for _, f := range schema.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"time", "count", "host", "msg", "ok", "usage"}, names)

	assert.Equal(t, arrow.TIMESTAMP, schema.Field(0).Type.ID())
	// 3i and -1i share one int64 column.
	assert.Equal(t, arrow.INT64, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(5).Type.ID())

	count := tbl.Column(1).Data().Chunk(0).(*array.Int64)
	assert.Equal(t, []int64{3, -1}, count.Int64Values())

	msg := tbl.Column(3).Data().Chunk(0).(*array.String)
	assert.Equal(t, "hi", msg.Value(0))
	assert.True(t, msg.IsNull(1))

	ts := tbl.Column(0).Data().Chunk(0).(*array.Timestamp)
	assert.Equal(t, arrow.Timestamp(200), ts.Value(1))
}

func TestResolveKind(t *testing.T) {
	tests := []struct {
		name    string
		col     []interface{}
		want    columnKind
		wantErr bool
	}{
		{"all null", []interface{}{nil, nil}, kindNull, false},
		{"uint only", []interface{}{uint64(1), nil}, kindUint, false},
		{"int and uint", []interface{}{uint64(1), int64(-1)}, kindInt, false},
		{"int widens to float", []interface{}{int64(1), 2.5}, kindFloat, false},
		{"float then uint", []interface{}{2.5, uint64(1)}, kindFloat, false},
		{"string and bool", []interface{}{"a", true}, kindNull, true},
		{"unsupported", []interface{}{int32(1)}, kindNull, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveKind("v", tt.col)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParquetWriter_Errors(t *testing.T) {
	w, err := NewParquetWriter("snappy", Microsecond, zerolog.Nop())
	require.NoError(t, err)

	_, err = w.Write(&bytes.Buffer{}, map[string][]interface{}{
		"time": {int64(1), int64(2)},
		"v":    {1.0},
	})
	assert.ErrorContains(t, err, "length mismatch")

	_, err = w.Write(&bytes.Buffer{}, map[string][]interface{}{
		"v": {int64(1), uint64(math.MaxUint64)},
	})
	assert.ErrorContains(t, err, "overflows int64")

	_, err = w.Write(&bytes.Buffer{}, map[string][]interface{}{
		"time": {"yesterday"},
	})
	assert.Error(t, err)

	_, err = w.Write(&bytes.Buffer{}, map[string][]interface{}{})
	assert.Error(t, err)

	_, err = NewParquetWriter("lz4", Nanosecond, zerolog.Nop())
	assert.Error(t, err)
}

func TestArrowUnit(t *testing.T) {
	assert.Equal(t, arrow.Second, arrowUnit(Second))
	assert.Equal(t, arrow.Millisecond, arrowUnit(Millisecond))
	assert.Equal(t, arrow.Microsecond, arrowUnit(Microsecond))
	assert.Equal(t, arrow.Nanosecond, arrowUnit(Nanosecond))
}

func TestBatchToColumnar_ParquetPerMeasurement(t *testing.T) {
	points := []*lineprotocol.Point{
		(&lineprotocol.Point{Measurement: "a"}).AddField("v", lineprotocol.FloatValue(1)).SetTimestamp(1),
		(&lineprotocol.Point{Measurement: "b"}).AddField("v", lineprotocol.StringValue("x")).SetTimestamp(2),
	}
	w, err := NewParquetWriter("none", Nanosecond, zerolog.Nop())
	require.NoError(t, err)

	for name, cols := range BatchToColumnar(points) {
		var buf bytes.Buffer
		rows, err := w.Write(&buf, cols)
		require.NoError(t, err, name)
		assert.Equal(t, 1, rows)
	}
}
