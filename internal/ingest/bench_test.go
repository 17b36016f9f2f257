package ingest

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"github.com/rs/zerolog"
)

func benchInput(lines int) []byte {
	var buf bytes.Buffer
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&buf, "cpu,host=server%03d,region=us-east usage=%d.5,system=%di,up=true,msg=\"ok\" %d\n",
			i%100, i, i, 1700000000000000000+int64(i))
	}
	return buf.Bytes()
}

// BenchmarkParseBatch benchmarks parsing a 1000-line batch
func BenchmarkParseBatch(b *testing.B) {
	data := benchInput(1000)
	parser := NewParser(ParserConfig{}, zerolog.Nop())

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := parser.ParseBatch(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkParseStream_Gzip benchmarks the compressed streaming path
func BenchmarkParseStream_Gzip(b *testing.B) {
	var compressed bytes.Buffer
	w, _ := OpenOutput(&compressed, CompressionGzip)
	w.Write(benchInput(1000))
	w.Close()
	data := compressed.Bytes()
	parser := NewParser(ParserConfig{}, zerolog.Nop())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in, err := OpenInput(bytes.NewReader(data), CompressionAuto)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := parser.ParseStream(in, Nanosecond, Nanosecond, func(*lineprotocol.Point) error { return nil }); err != nil {
			b.Fatal(err)
		}
		in.Close()
	}
}

// BenchmarkEncode benchmarks canonical re-encoding
func BenchmarkEncode(b *testing.B) {
	points, _, err := NewParser(ParserConfig{}, zerolog.Nop()).ParseBatch(benchInput(1000))
	if err != nil {
		b.Fatal(err)
	}
	enc := lineprotocol.NewEncoder(io.Discard)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, pt := range points {
			if err := enc.Encode(pt); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkBatchToColumnar benchmarks the row-to-columnar conversion
func BenchmarkBatchToColumnar(b *testing.B) {
	points, _, err := NewParser(ParserConfig{}, zerolog.Nop()).ParseBatch(benchInput(1000))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		BatchToColumnar(points)
	}
}
